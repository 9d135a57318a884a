package client

import (
	"crypto/tls"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"event-pipeline/internal/config"
)

func kafkaTestConfig(tlsOn bool) *config.Config {
	return &config.Config{
		Kafka: config.KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ClientID:      "event-pipeline-test",
			ConsumerGroup: "test-group",
			TLS:           tlsOn,
		},
	}
}

func writerTLS(p *KafkaProducer) *tls.Config {
	transport, ok := p.Writer.Transport.(*kafka.Transport)
	if !ok {
		return nil
	}
	return transport.TLS
}

func TestNewDialer_TLSFollowsConfig(t *testing.T) {
	plain := newDialer(&config.KafkaConfig{ClientID: "a"})
	assert.Nil(t, plain.TLS)
	assert.Equal(t, "a", plain.ClientID)

	secure := newDialer(&config.KafkaConfig{TLS: true, TLSSkipVerify: true})
	require.NotNil(t, secure.TLS)
	assert.True(t, secure.TLS.InsecureSkipVerify)
}

func TestKafkaProducer_TransportCarriesTLS(t *testing.T) {
	p, err := NewKafkaProducer(kafkaTestConfig(true), zap.NewNop())
	require.NoError(t, err)
	defer p.Close()

	tlsConfig := writerTLS(p)
	require.NotNil(t, tlsConfig)
	assert.Equal(t, uint16(tls.VersionTLS12), tlsConfig.MinVersion)
}

func TestKafkaConsumer_ReaderUsesSharedDialer(t *testing.T) {
	c, err := NewKafkaConsumer(kafkaTestConfig(true), "api-requests", "test-group", zap.NewNop())
	require.NoError(t, err)
	defer c.Close()

	rc := c.Reader.Config()
	require.NotNil(t, rc.Dialer)
	require.NotNil(t, rc.Dialer.TLS)
	assert.Equal(t, "event-pipeline-test", rc.Dialer.ClientID)
	assert.Zero(t, rc.CommitInterval, "offsets are committed explicitly")
}

func TestKafkaClients_PlaintextByDefault(t *testing.T) {
	p, err := NewKafkaProducer(kafkaTestConfig(false), zap.NewNop())
	require.NoError(t, err)
	defer p.Close()
	assert.Nil(t, writerTLS(p))

	c, err := NewKafkaConsumer(kafkaTestConfig(false), "api-requests", "test-group", zap.NewNop())
	require.NoError(t, err)
	defer c.Close()
	assert.Nil(t, c.Reader.Config().Dialer.TLS)
}

func TestNewKafkaProducer_RequiresBrokers(t *testing.T) {
	_, err := NewKafkaProducer(&config.Config{}, zap.NewNop())
	assert.Error(t, err)
}
