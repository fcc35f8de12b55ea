// Package publisher emits outcome events for sealed validation results.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
)

const (
	defaultMaxAttempts = 5
	defaultBackoff     = 100 * time.Millisecond
)

// Publisher publishes PaymentValidated and ValidationFailed events with
// bounded retries. Events are keyed by payment id so per-payment order
// survives partitioning on the bus.
type Publisher struct {
	bus         domain.EventBus
	maxAttempts int
	backoff     time.Duration
	logger      *slog.Logger
}

// New creates an outcome publisher.
func New(cfg domain.PublisherConfig, bus domain.EventBus) *Publisher {
	maxAttempts := cfg.MaxPublishAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	backoff := time.Duration(cfg.RetryBackoffMs) * time.Millisecond
	if backoff <= 0 {
		backoff = defaultBackoff
	}

	return &Publisher{
		bus:         bus,
		maxAttempts: maxAttempts,
		backoff:     backoff,
		logger:      slog.Default().With("component", "publisher"),
	}
}

// NewOutcomeEvent builds the wire event for a sealed result.
func NewOutcomeEvent(result *domain.ValidationResult) *domain.OutcomeEvent {
	eventType := domain.EventPaymentValidated
	if !result.Passed() {
		eventType = domain.EventValidationFailed
	}

	return &domain.OutcomeEvent{
		EventID:        uuid.New().String(),
		EventType:      eventType,
		Timestamp:      time.Now().UTC(),
		CorrelationID:  result.CorrelationID,
		Source:         domain.EventSource,
		Version:        domain.EventVersion,
		TenantID:       result.TenantContext.TenantID,
		BusinessUnitID: result.TenantContext.BusinessUnitID,
		PaymentID:      result.PaymentID,
		TenantContext:  result.TenantContext,
		RiskLevel:      result.RiskLevel,
		FraudScore:     result.FraudScore,
		FailedRules:    domain.ToEventFailedRules(result.FailedRules),
	}
}

// Publish emits the outcome event for a result. PASSED results go to
// kestrel.payment.validated, everything else to kestrel.validation.failed.
// Transient bus failures are retried with linear backoff up to the
// configured attempt limit; the last error is returned once exhausted.
func (p *Publisher) Publish(ctx context.Context, result *domain.ValidationResult) error {
	event := NewOutcomeEvent(result)

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal outcome event: %w", err)
	}

	topic := domain.TopicPaymentValidated
	if !result.Passed() {
		topic = domain.TopicValidationFailed
	}

	headers := map[string]string{
		domain.HeaderCorrelationID:  result.CorrelationID,
		domain.HeaderTenantID:       result.TenantContext.TenantID,
		domain.HeaderBusinessUnitID: result.TenantContext.BusinessUnitID,
		domain.HeaderEventType:      event.EventType,
		domain.HeaderSource:         domain.EventSource,
		domain.HeaderVersion:        domain.EventVersion,
	}

	var lastErr error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = p.bus.Publish(ctx, result.TenantContext.TenantID, topic, result.PaymentID, payload, headers)
		if lastErr == nil {
			p.logger.Debug("outcome published",
				"validation_id", result.ValidationID,
				"payment_id", result.PaymentID,
				"topic", topic,
				"event_type", event.EventType,
				"attempt", attempt,
			)
			return nil
		}

		p.logger.Warn("outcome publish attempt failed",
			"validation_id", result.ValidationID,
			"payment_id", result.PaymentID,
			"topic", topic,
			"attempt", attempt,
			"error", lastErr,
		)

		if attempt < p.maxAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.backoff * time.Duration(attempt)):
			}
		}
	}

	return fmt.Errorf("failed to publish outcome after %d attempts: %w", p.maxAttempts, lastErr)
}
