package client

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"event-pipeline/internal/config"
	"event-pipeline/internal/util"
)

type KafkaProducer struct {
	Writer *kafka.Writer
	config *config.KafkaConfig
	logger *zap.Logger
}

type KafkaConsumer struct {
	Reader *kafka.Reader
	topic  string
	config *config.KafkaConfig
	logger *zap.Logger
}

// NewKafkaProducer builds a synchronous writer. Messages are hash-balanced on
// their key, so one user's events land on one partition in order.
func NewKafkaProducer(cfg *config.Config, logger *zap.Logger) (*KafkaProducer, error) {
	kafkaConfig := cfg.Kafka
	if len(kafkaConfig.Brokers) == 0 {
		return nil, errors.New("no kafka brokers configured")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(kafkaConfig.Brokers...),
		Balancer:     &kafka.Hash{},
		MaxAttempts:  3,
		BatchSize:    100,
		BatchBytes:   1048576, // 1MB
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
		Transport: &kafka.Transport{
			ClientID: kafkaConfig.ClientID,
			TLS:      newTLSConfig(&kafkaConfig),
		},
	}

	logger.Info("Kafka producer initialized",
		zap.Strings("brokers", kafkaConfig.Brokers),
		zap.String("client_id", kafkaConfig.ClientID),
		zap.Bool("tls", kafkaConfig.TLS),
	)

	return &KafkaProducer{
		Writer: writer,
		config: &kafkaConfig,
		logger: logger,
	}, nil
}

// NewKafkaConsumer joins groupID on topic. Offsets are committed only through
// Commit, synchronously.
func NewKafkaConsumer(cfg *config.Config, topic string, groupID string, logger *zap.Logger) (*KafkaConsumer, error) {
	kafkaConfig := cfg.Kafka
	if len(kafkaConfig.Brokers) == 0 {
		return nil, errors.New("no kafka brokers configured")
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        kafkaConfig.Brokers,
		Topic:          topic,
		GroupID:        groupID,
		Dialer:         newDialer(&kafkaConfig),
		MinBytes:       1,
		MaxBytes:       10e6,
		StartOffset:    kafka.FirstOffset,
		MaxWait:        500 * time.Millisecond,
		ReadBackoffMin: 100 * time.Millisecond,
		ReadBackoffMax: 1 * time.Second,
	})

	logger.Info("Kafka consumer initialized",
		zap.Strings("brokers", kafkaConfig.Brokers),
		zap.String("topic", topic),
		zap.String("group_id", groupID),
	)

	return &KafkaConsumer{
		Reader: reader,
		topic:  topic,
		config: &kafkaConfig,
		logger: logger,
	}, nil
}

func (p *KafkaProducer) Close() error {
	if p.Writer != nil {
		err := p.Writer.Close()
		if err != nil {
			p.logger.Error("failed to close Kafka producer", zap.Error(err))
			return err
		}
		p.logger.Info("Kafka producer closed")
	}
	return nil
}

func (c *KafkaConsumer) Close() error {
	if c.Reader != nil {
		err := c.Reader.Close()
		if err != nil {
			c.logger.Error("failed to close Kafka consumer", zap.Error(err), zap.String("topic", c.topic))
			return err
		}
		c.logger.Info("Kafka consumer closed", zap.String("topic", c.topic))
	}
	return nil
}

func (c *KafkaConsumer) Topic() string {
	return c.topic
}

// Publish writes one message and waits for the broker acknowledgement.
func (p *KafkaProducer) Publish(ctx context.Context, topic string, key, value []byte, headers map[string]string) error {
	msg := kafka.Message{
		Topic: topic,
		Key:   key,
		Value: value,
	}

	for k, v := range headers {
		msg.Headers = append(msg.Headers, kafka.Header{
			Key:   k,
			Value: []byte(v),
		})
	}

	if err := p.Writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write kafka message: %w", err)
	}

	p.logger.Debug("Produced kafka message",
		zap.String("topic", topic),
		zap.ByteString("key", key),
		zap.Int("value_size", len(value)),
	)

	return nil
}

// FetchMessage blocks until a message arrives or ctx is done. The offset is
// not committed.
func (c *KafkaConsumer) FetchMessage(ctx context.Context) (*kafka.Message, error) {
	msg, err := c.Reader.FetchMessage(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch kafka message: %w", err)
	}

	c.logger.Debug("Consumed kafka message",
		zap.String("topic", msg.Topic),
		zap.Int("partition", msg.Partition),
		zap.Int64("offset", msg.Offset),
		zap.Int("value_size", len(msg.Value)),
	)

	return &msg, nil
}

// Commit marks msgs as processed for the consumer group.
func (c *KafkaConsumer) Commit(ctx context.Context, msgs ...kafka.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	if err := c.Reader.CommitMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("failed to commit kafka offsets: %w", err)
	}
	last := msgs[len(msgs)-1]
	c.logger.Debug("Committed kafka offsets",
		zap.String("topic", c.topic),
		zap.Int("count", len(msgs)),
		zap.Int64("last_offset", last.Offset),
	)
	return nil
}

func (p *KafkaProducer) HealthCheck(ctx context.Context) error {
	return dialHealthCheck(ctx, p.config)
}

func (c *KafkaConsumer) HealthCheck(ctx context.Context) error {
	return dialHealthCheck(ctx, c.config)
}

func dialHealthCheck(ctx context.Context, cfg *config.KafkaConfig) error {
	conn, err := newDialer(cfg).DialContext(ctx, "tcp", cfg.Brokers[0])
	if err != nil {
		return fmt.Errorf("failed to connect to kafka broker: %w", err)
	}
	defer conn.Close()

	if _, err := conn.Brokers(); err != nil {
		return fmt.Errorf("failed to read Kafka brokers: %w", err)
	}
	return nil
}

// newDialer is shared by the reader, the health check and topic creation.
func newDialer(cfg *config.KafkaConfig) *kafka.Dialer {
	return &kafka.Dialer{
		ClientID:  cfg.ClientID,
		Timeout:   5 * time.Second,
		DualStack: true,
		TLS:       newTLSConfig(cfg),
	}
}

func newTLSConfig(cfg *config.KafkaConfig) *tls.Config {
	if !cfg.TLS {
		return nil
	}
	return &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.TLSSkipVerify,
	}
}

// EnsureTopics creates any missing topic through the cluster controller.
// Topics that already exist are left untouched.
func EnsureTopics(ctx context.Context, cfg *config.Config, topics []string) error {
	kafkaConfig := cfg.Kafka
	if len(kafkaConfig.Brokers) == 0 {
		return errors.New("no kafka brokers configured")
	}
	dialer := newDialer(&kafkaConfig)

	conn, err := dialer.DialContext(ctx, "tcp", kafkaConfig.Brokers[0])
	if err != nil {
		return fmt.Errorf("failed to dial kafka broker: %w", err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("failed to find kafka controller: %w", err)
	}
	controllerConn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return fmt.Errorf("failed to dial kafka controller: %w", err)
	}
	defer controllerConn.Close()

	existing := map[string]bool{}
	partitions, err := controllerConn.ReadPartitions()
	if err != nil {
		return fmt.Errorf("failed to list kafka topics: %w", err)
	}
	for _, p := range partitions {
		existing[p.Topic] = true
	}

	var missing []kafka.TopicConfig
	for _, t := range topics {
		if existing[t] {
			continue
		}
		missing = append(missing, kafka.TopicConfig{
			Topic:             t,
			NumPartitions:     max(kafkaConfig.Partitions, 1),
			ReplicationFactor: max(kafkaConfig.ReplicationFactor, 1),
		})
	}
	if len(missing) == 0 {
		util.Debug("Kafka topics already present", zap.Strings("topics", topics))
		return nil
	}

	if err := controllerConn.CreateTopics(missing...); err != nil {
		return fmt.Errorf("failed to create kafka topics: %w", err)
	}

	created := make([]string, 0, len(missing))
	for _, m := range missing {
		created = append(created, m.Topic)
	}
	util.Info("Kafka topics created", zap.Strings("topics", created))
	return nil
}
