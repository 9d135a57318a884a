package tls

import (
	"crypto/x509"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"event-pipeline/internal/config"
)

func TestGenerateCert_CoversHosts(t *testing.T) {
	gen := NewDevCertGenerator(t.TempDir())

	cert, err := gen.GenerateCert([]string{"pipeline.local", "127.0.0.1"})
	require.NoError(t, err)

	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	require.NoError(t, err)
	assert.Equal(t, []string{"pipeline.local"}, leaf.DNSNames)
	require.Len(t, leaf.IPAddresses, 1)
	assert.Equal(t, "127.0.0.1", leaf.IPAddresses[0].String())
	assert.WithinDuration(t, time.Now().Add(devCertValidity), leaf.NotAfter, time.Hour)
}

func TestGenerateCert_ReusesPersistedPair(t *testing.T) {
	dir := t.TempDir()

	first, err := NewDevCertGenerator(dir).GenerateCert([]string{"localhost"})
	require.NoError(t, err)

	second, err := NewDevCertGenerator(dir).GenerateCert([]string{"localhost"})
	require.NoError(t, err)
	assert.Equal(t, first.Certificate[0], second.Certificate[0])
}

func TestGenerateCert_ReissuesNearExpiry(t *testing.T) {
	gen := NewDevCertGenerator(t.TempDir())
	first, err := gen.GenerateCert([]string{"localhost"})
	require.NoError(t, err)

	gen.now = func() time.Time { return time.Now().Add(devCertValidity) }
	second, err := gen.GenerateCert([]string{"localhost"})
	require.NoError(t, err)
	assert.NotEqual(t, first.Certificate[0], second.Certificate[0])
}

func TestTLSManager_FallsBackToSelfSigned(t *testing.T) {
	m := NewTLSManager(config.ServerConfig{
		EnableTLS:   true,
		AutoCertDir: t.TempDir(),
		CertFile:    "/does/not/exist.pem",
		KeyFile:     "/does/not/exist-key.pem",
	})
	assert.Nil(t, m.AutocertManager())

	cert, err := m.GetCertificate(nil)
	require.NoError(t, err)
	assert.NotEmpty(t, cert.Certificate)

	cfg := m.GetTLSConfig()
	assert.Equal(t, []string{"h2", "http/1.1"}, cfg.NextProtos)
}
