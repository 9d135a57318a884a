package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"event-pipeline/internal/config"
	"event-pipeline/internal/util"
)

// Iter is the subset of *gocql.Iter the repositories read from.
type Iter interface {
	Scan(dest ...interface{}) bool
	Close() error
}

// Session is what repositories need from a Scylla connection.
type Session interface {
	Exec(ctx context.Context, stmt string, values ...interface{}) error
	Iter(ctx context.Context, stmt string, values ...interface{}) Iter
}

type ScyllaClient struct {
	Session *gocql.Session
	config  *config.ScyllaConfig
}

func NewScyllaClient(cfg *config.Config, logger *zap.Logger) (*ScyllaClient, error) {
	scyllaConfig := cfg.Scylla

	cluster := gocql.NewCluster(scyllaConfig.Nodes...)
	cluster.Keyspace = scyllaConfig.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 4
	cluster.SocketKeepalive = 30 * time.Second
	cluster.MaxPreparedStmts = 1000
	cluster.MaxRoutingKeyInfo = 1000
	cluster.PageSize = 1000
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        time.Second,
		Max:        10 * time.Second,
		NumRetries: 3,
	}

	if cfg.IsProduction() {
		cluster.SslOpts = &gocql.SslOptions{
			CaPath:                 util.GetEnv("SCYLLA_CA_PATH", "/etc/scylla/certs/ca.pem"),
			CertPath:               util.GetEnv("SCYLLA_CERT_PATH", "/etc/scylla/certs/client.pem"),
			KeyPath:                util.GetEnv("SCYLLA_KEY_PATH", "/etc/scylla/certs/client.key"),
			EnableHostVerification: true,
		}
	}

	if scyllaConfig.Username != "" && scyllaConfig.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: scyllaConfig.Username,
			Password: scyllaConfig.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create scylla session: %w", err)
	}

	logger.Info("ScyllaDB client initialized",
		zap.Strings("nodes", scyllaConfig.Nodes),
		zap.String("keyspace", scyllaConfig.Keyspace))

	return &ScyllaClient{
		Session: session,
		config:  &scyllaConfig,
	}, nil
}

func (s *ScyllaClient) Close() {
	if s.Session != nil {
		s.Session.Close()
		util.Info("ScyllaDB client closed")
	}
}

// Exec runs a single statement. gocql prepares statements with bind markers
// on first use and caches them per session.
func (s *ScyllaClient) Exec(ctx context.Context, stmt string, values ...interface{}) error {
	return s.Session.Query(stmt, values...).WithContext(ctx).Exec()
}

func (s *ScyllaClient) Iter(ctx context.Context, stmt string, values ...interface{}) Iter {
	return s.Session.Query(stmt, values...).WithContext(ctx).Iter()
}

func (s *ScyllaClient) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var clusterName string
	err := s.Session.Query(`SELECT cluster_name FROM system.local`).WithContext(ctx).Scan(&clusterName)
	if err != nil {
		return fmt.Errorf("scylla health check failed: %w", err)
	}

	util.Debug("ScyllaDB health check passed", zap.String("cluster_name", clusterName))
	return nil
}

// ExecuteWithRetry retries transient write failures with a linear backoff.
func ExecuteWithRetry(ctx context.Context, s Session, maxRetries int, stmt string, values ...interface{}) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if lastErr = s.Exec(ctx, stmt, values...); lastErr == nil {
			return nil
		}
		if i == maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(i+1) * 100 * time.Millisecond):
		}
	}
	return lastErr
}
