package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
)

const (
	kafkaConnectAttempts = 10
	kafkaConnectWait     = 5 * time.Second
)

// KafkaBus implements EventBus using Kafka.
// Used as the Enterprise tier event bus. Messages carry the partition key
// from Publish, so all outcomes for one payment land on one partition and
// stay ordered.
type KafkaBus struct {
	mu            sync.RWMutex
	client        sarama.Client
	producer      sarama.SyncProducer
	subscriptions map[string]*kafkaSubscription
	config        domain.EventBusConfig
	saramaCfg     *sarama.Config
	closed        bool
}

type kafkaSubscription struct {
	id       string
	tenantID string
	topic    string
	group    sarama.ConsumerGroup
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewKafkaBus creates a new Kafka-based event bus.
func NewKafkaBus(cfg domain.EventBusConfig) (*KafkaBus, error) {
	if len(cfg.KafkaBrokers) == 0 {
		cfg.KafkaBrokers = []string{"localhost:9092"}
	}
	if cfg.KafkaGroupID == "" {
		cfg.KafkaGroupID = "kestrel-validation"
	}

	saramaCfg := sarama.NewConfig()
	saramaCfg.Version = sarama.V3_0_0_0
	if cfg.KafkaVersion != "" {
		version, err := sarama.ParseKafkaVersion(cfg.KafkaVersion)
		if err != nil {
			return nil, fmt.Errorf("invalid kafka version %q: %w", cfg.KafkaVersion, err)
		}
		saramaCfg.Version = version
	}

	// Producer: wait for all replicas, hash partitioner keeps per-key order.
	saramaCfg.Producer.RequiredAcks = sarama.WaitForAll
	saramaCfg.Producer.Retry.Max = 5
	saramaCfg.Producer.Return.Successes = true
	saramaCfg.Producer.Partitioner = sarama.NewHashPartitioner

	// Consumer group settings.
	saramaCfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaCfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	saramaCfg.Consumer.Return.Errors = true

	// Connect with retry
	var client sarama.Client
	var err error
	for i := 0; i < kafkaConnectAttempts; i++ {
		client, err = sarama.NewClient(cfg.KafkaBrokers, saramaCfg)
		if err == nil {
			break
		}
		slog.Warn("Kafka connection attempt failed",
			"attempt", i+1,
			"max_attempts", kafkaConnectAttempts,
			"error", err,
		)
		time.Sleep(kafkaConnectWait)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to connect to Kafka after %d attempts: %w", kafkaConnectAttempts, err)
	}

	producer, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	slog.Info("Kafka connected",
		"brokers", cfg.KafkaBrokers,
		"group_id", cfg.KafkaGroupID,
	)

	return &KafkaBus{
		client:        client,
		producer:      producer,
		subscriptions: make(map[string]*kafkaSubscription),
		config:        cfg,
		saramaCfg:     saramaCfg,
	}, nil
}

// Publish sends a message to a Kafka topic.
func (b *KafkaBus) Publish(ctx context.Context, tenantID string, topic string, key string, payload []byte, headers map[string]string) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return fmt.Errorf("bus is closed")
	}
	b.mu.RUnlock()

	// Create message envelope
	msg := &domain.Message{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Topic:     topic,
		Key:       key,
		Payload:   payload,
		Headers:   copyHeaders(headers),
		Timestamp: time.Now().UnixNano(),
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	pm := &sarama.ProducerMessage{
		Topic: b.makeTopic(tenantID, topic),
		Value: sarama.ByteEncoder(data),
	}
	if key != "" {
		pm.Key = sarama.StringEncoder(key)
	}

	partition, offset, err := b.producer.SendMessage(pm)
	if err != nil {
		return fmt.Errorf("failed to publish to Kafka: %w", err)
	}

	slog.Debug("Kafka message published",
		"topic", pm.Topic,
		"partition", partition,
		"offset", offset,
	)
	return nil
}

// Subscribe joins a consumer group on a Kafka topic. Each subscription
// runs its own consume loop until unsubscribed or the bus closes.
func (b *KafkaBus) Subscribe(ctx context.Context, tenantID string, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("bus is closed")
	}

	group, err := sarama.NewConsumerGroup(b.config.KafkaBrokers, b.config.KafkaGroupID, b.saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	subCtx, cancel := context.WithCancel(ctx)

	sub := &kafkaSubscription{
		id:       uuid.New().String(),
		tenantID: tenantID,
		topic:    topic,
		group:    group,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	fullTopic := b.makeTopic(tenantID, topic)
	h := &kafkaGroupHandler{handler: handler, topic: fullTopic}

	go func() {
		for err := range group.Errors() {
			slog.Error("Kafka consumer error",
				"topic", fullTopic,
				"error", err,
			)
		}
	}()

	go func() {
		defer close(sub.done)
		for {
			// Consume blocks until a rebalance or an error; loop to rejoin.
			if err := group.Consume(subCtx, []string{fullTopic}, h); err != nil {
				slog.Error("Kafka consume failed",
					"topic", fullTopic,
					"error", err,
				)
			}
			if subCtx.Err() != nil {
				return
			}
		}
	}()

	b.subscriptions[sub.id] = sub
	return sub, nil
}

// Request is not supported on Kafka. Bus-backed screening needs the
// channel or NATS backend.
func (b *KafkaBus) Request(ctx context.Context, tenantID string, topic string, payload []byte) ([]byte, error) {
	return nil, fmt.Errorf("request-reply is not supported by the kafka bus")
}

// Ping checks Kafka connectivity.
func (b *KafkaBus) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("bus is closed")
	}
	if err := b.client.RefreshMetadata(); err != nil {
		return fmt.Errorf("kafka not reachable: %w", err)
	}
	return nil
}

// Close stops all consumer groups and closes the producer and client.
func (b *KafkaBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for _, sub := range b.subscriptions {
		sub.cancel()
		<-sub.done
		_ = sub.group.Close()
	}
	b.subscriptions = make(map[string]*kafkaSubscription)

	_ = b.producer.Close()
	return b.client.Close()
}

// makeTopic maps a topic to a tenant-scoped Kafka topic. Topics already
// carry the kestrel prefix, so the tenant goes at the end.
func (b *KafkaBus) makeTopic(tenantID, topic string) string {
	return fmt.Sprintf("%s.%s", topic, tenantID)
}

// Unsubscribe leaves the consumer group.
func (s *kafkaSubscription) Unsubscribe() error {
	s.cancel()
	<-s.done
	return s.group.Close()
}

// Topic returns the subscribed topic.
func (s *kafkaSubscription) Topic() string {
	return s.topic
}

// kafkaGroupHandler adapts a MessageHandler to the consumer group API.
type kafkaGroupHandler struct {
	handler domain.MessageHandler
	topic   string
}

func (h *kafkaGroupHandler) Setup(session sarama.ConsumerGroupSession) error {
	slog.Debug("Kafka consumer session started", "topic", h.topic)
	return nil
}

func (h *kafkaGroupHandler) Cleanup(session sarama.ConsumerGroupSession) error {
	slog.Debug("Kafka consumer session ended", "topic", h.topic)
	return nil
}

func (h *kafkaGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}

			var msg domain.Message
			if err := json.Unmarshal(message.Value, &msg); err != nil {
				slog.Error("failed to unmarshal Kafka message",
					"topic", message.Topic,
					"offset", message.Offset,
					"error", err,
				)
				// Malformed messages can never succeed, skip them.
				session.MarkMessage(message, "")
				continue
			}

			if err := h.handler(session.Context(), &msg); err != nil {
				slog.Error("handler error",
					"topic", message.Topic,
					"message_id", msg.ID,
					"error", err,
				)
				// Leave the offset unmarked so the message redelivers.
				continue
			}

			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}
