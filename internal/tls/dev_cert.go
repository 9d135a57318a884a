package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"event-pipeline/internal/util"
)

const devCertValidity = 90 * 24 * time.Hour

// DevCertGenerator issues and caches a self-signed certificate for local
// runs of the query API.
type DevCertGenerator struct {
	certDir string
	now     func() time.Time

	mu     sync.Mutex
	cached *tls.Certificate
}

func NewDevCertGenerator(certDir string) *DevCertGenerator {
	if certDir == "" {
		certDir = os.TempDir()
	}
	return &DevCertGenerator{certDir: certDir, now: time.Now}
}

func (d *DevCertGenerator) paths() (string, string) {
	return filepath.Join(d.certDir, "pipeline-dev-cert.pem"), filepath.Join(d.certDir, "pipeline-dev-key.pem")
}

// GenerateCert returns the cached certificate, the one on disk if it is still
// valid, or a freshly issued one covering hosts.
func (d *DevCertGenerator) GenerateCert(hosts []string) (tls.Certificate, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cached != nil && d.valid(d.cached.Leaf) {
		return *d.cached, nil
	}

	certPath, keyPath := d.paths()
	if cert, err := tls.LoadX509KeyPair(certPath, keyPath); err == nil && d.valid(cert.Leaf) {
		util.Info("Using existing development certificate", util.String("cert_path", certPath))
		d.cached = &cert
		return cert, nil
	}

	cert, err := d.issue(hosts, certPath, keyPath)
	if err != nil {
		return tls.Certificate{}, err
	}
	d.cached = &cert
	return cert, nil
}

func (d *DevCertGenerator) issue(hosts []string, certPath, keyPath string) (tls.Certificate, error) {
	util.Info("Generating self-signed certificate", util.Strings("hosts", hosts))

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to generate private key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to generate serial number: %w", err)
	}

	now := d.now()
	template := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{Organization: []string{"Event Pipeline Development"}},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(devCertValidity),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, h)
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to create certificate: %w", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to encode private key: %w", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})

	if err := os.MkdirAll(d.certDir, 0700); err == nil {
		if err := os.WriteFile(certPath, certPEM, 0644); err != nil {
			util.Warn("Could not persist development certificate", util.ErrorField(err))
		} else if err := os.WriteFile(keyPath, keyPEM, 0600); err != nil {
			util.Warn("Could not persist development key", util.ErrorField(err))
		}
	}

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to load generated certificate: %w", err)
	}
	return cert, nil
}

// valid reports whether leaf is inside its validity window with at least a
// day to spare.
func (d *DevCertGenerator) valid(leaf *x509.Certificate) bool {
	if leaf == nil {
		return false
	}
	now := d.now()
	return now.After(leaf.NotBefore) && now.Add(24*time.Hour).Before(leaf.NotAfter)
}
