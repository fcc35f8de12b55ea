package orchestrator

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Consumer feeds payments from the event bus into the pipeline.
type Consumer struct {
	bus          domain.EventBus
	orchestrator *Orchestrator

	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
	logger        *slog.Logger
}

// ConsumerConfig holds consumer configuration.
type ConsumerConfig struct {
	// TenantIDs is the list of tenants to consume for. Empty means a
	// single global subscription.
	TenantIDs []string
}

// NewConsumer creates a payment consumer.
func NewConsumer(bus domain.EventBus, orch *Orchestrator) *Consumer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		bus:          bus,
		orchestrator: orch,
		ctx:          ctx,
		cancel:       cancel,
		logger:       slog.Default().With("component", "consumer"),
	}
}

// Start begins consuming payment.initiated events for the given tenants.
func (c *Consumer) Start(cfg ConsumerConfig) error {
	if len(cfg.TenantIDs) == 0 {
		return c.startGlobal()
	}

	for _, tenantID := range cfg.TenantIDs {
		if err := c.startTenant(tenantID); err != nil {
			c.logger.Error("failed to start consumer for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	c.logger.Info("consumers started",
		"tenant_count", len(cfg.TenantIDs),
	)

	return nil
}

func (c *Consumer) startGlobal() error {
	sub, err := c.bus.Subscribe(c.ctx, "_global", domain.TopicPaymentInitiated, c.handleMessage)
	if err != nil {
		return err
	}
	c.subscriptions = append(c.subscriptions, sub)

	c.logger.Info("global consumer started",
		"topic", domain.TopicPaymentInitiated,
	)
	return nil
}

func (c *Consumer) startTenant(tenantID string) error {
	sub, err := c.bus.Subscribe(c.ctx, tenantID, domain.TopicPaymentInitiated, func(ctx context.Context, msg *domain.Message) error {
		return c.processPayment(ctx, tenantID, msg)
	})
	if err != nil {
		return err
	}
	c.subscriptions = append(c.subscriptions, sub)

	c.logger.Info("tenant consumer started",
		"tenant_id", tenantID,
		"topic", domain.TopicPaymentInitiated,
	)
	return nil
}

func (c *Consumer) handleMessage(ctx context.Context, msg *domain.Message) error {
	return c.processPayment(ctx, msg.TenantID, msg)
}

// processPayment parses one payment event and runs it through the
// pipeline. A returned error means the message was not handled; backends
// with delivery tracking redeliver it, and the idempotent store makes
// that retry safe.
func (c *Consumer) processPayment(ctx context.Context, tenantID string, msg *domain.Message) error {
	var payment domain.PaymentInitiated
	if err := json.Unmarshal(msg.Payload, &payment); err != nil {
		c.logger.Error("failed to parse payment event",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	// The payload tenant wins; the subscription tenant is the fallback.
	if payment.TenantContext.TenantID == "" {
		payment.TenantContext.TenantID = tenantID
	}
	if payment.PaymentID == "" {
		payment.PaymentID = msg.ID
	}

	correlationID := msg.Headers[domain.HeaderCorrelationID]
	if correlationID == "" {
		correlationID = msg.ID
	}

	_, err := c.orchestrator.Handle(ctx, &payment, correlationID)
	return err
}

// Stop gracefully stops the consumer.
func (c *Consumer) Stop() error {
	c.cancel()

	for _, sub := range c.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			c.logger.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	c.subscriptions = nil

	c.logger.Info("consumers stopped")
	return nil
}

// Stats reports the consumer's active subscriptions.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current consumer statistics.
func (c *Consumer) GetStats() Stats {
	topics := make([]string, len(c.subscriptions))
	for i, sub := range c.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(c.subscriptions),
		Topics:            topics,
	}
}
