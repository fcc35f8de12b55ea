// Package orchestrator runs payments through the validation pipeline:
// dispatch to the rule families, aggregation, idempotent persistence and
// outcome publication.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/kestrel/internal/aggregate"
	"github.com/opensource-finance/kestrel/internal/dispatch"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/publisher"
)

var tracer = otel.Tracer("kestrel-orchestrator")

// persistTimeout bounds the persistence step when the parent context is
// already cancelled. A sealed result must still reach the store so
// reconciliation has a row to work from.
const persistTimeout = 10 * time.Second

// Orchestrator coordinates the validation pipeline for each payment.
// It is stateless across payments; per-payment progress lives only in
// logs and the store.
type Orchestrator struct {
	dispatcher *dispatch.Dispatcher
	aggregator *aggregate.Aggregator
	store      domain.ResultStore
	publisher  *publisher.Publisher
	logger     *slog.Logger
}

// New creates an orchestrator.
func New(dispatcher *dispatch.Dispatcher, aggregator *aggregate.Aggregator, store domain.ResultStore, pub *publisher.Publisher) *Orchestrator {
	return &Orchestrator{
		dispatcher: dispatcher,
		aggregator: aggregator,
		store:      store,
		publisher:  pub,
		logger:     slog.Default().With("component", "orchestrator"),
	}
}

// Handle runs one payment through the full pipeline and returns the
// sealed, persisted result. An empty correlationID gets a fresh UUID.
//
// Persistence happens before publication. A publish failure is not an
// error: the row is left as a publish-failed tombstone for the sweeper
// and the result is still returned. Only a persistence failure errors,
// so callers can retry; saves are idempotent on the validation id.
func (o *Orchestrator) Handle(ctx context.Context, payment *domain.PaymentInitiated, correlationID string) (*domain.ValidationResult, error) {
	if payment == nil {
		return nil, errors.New("payment is required")
	}
	if correlationID == "" {
		correlationID = uuid.New().String()
	}

	vctx := &domain.ValidationContext{
		ValidationID:  uuid.New().String(),
		PaymentID:     payment.PaymentID,
		TenantContext: payment.TenantContext,
		CorrelationID: correlationID,
		StartedAt:     time.Now().UTC(),
	}

	ctx, span := tracer.Start(ctx, "validation.pipeline",
		trace.WithAttributes(
			attribute.String("validation.id", vctx.ValidationID),
			attribute.String("payment.id", payment.PaymentID),
			attribute.String("tenant.id", payment.TenantContext.TenantID),
			attribute.String("correlation.id", correlationID),
		),
	)
	defer span.End()

	o.logger.Info("payment received",
		"state", "RECEIVED",
		"validation_id", vctx.ValidationID,
		"payment_id", payment.PaymentID,
		"tenant_id", payment.TenantContext.TenantID,
		"correlation_id", correlationID,
	)

	// 1. Fan out to the rule families.
	familyResults, err := o.dispatcher.Dispatch(ctx, vctx, payment)

	var result *domain.ValidationResult
	if err != nil {
		// Partial family results are discarded; the payment is sealed
		// as a system error so reconciliation has a persisted row.
		o.logger.Error("dispatch failed",
			"validation_id", vctx.ValidationID,
			"payment_id", payment.PaymentID,
			"error", err,
		)
		result = o.aggregator.SealSystemError(vctx, payment, err)
	} else {
		o.logger.Debug("families dispatched",
			"state", "DISPATCHED",
			"validation_id", vctx.ValidationID,
			"family_count", len(familyResults),
		)

		// 2. Fold the family results into the sealed verdict.
		result = o.aggregator.Aggregate(vctx, payment, familyResults)
	}

	o.logger.Debug("result aggregated",
		"state", "AGGREGATED",
		"validation_id", vctx.ValidationID,
		"status", result.Status,
		"risk_level", result.RiskLevel,
	)

	// 3. Persist before publishing. The save runs on a detached context
	// so a shutdown mid-pipeline still leaves a row behind.
	persistCtx, cancelPersist := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancelPersist()

	stored, err := o.store.Save(persistCtx, result)
	if err != nil {
		o.logger.Error("failed to persist result",
			"validation_id", vctx.ValidationID,
			"payment_id", payment.PaymentID,
			"error", err,
		)
		return nil, fmt.Errorf("failed to persist result: %w", err)
	}
	result = stored

	o.logger.Debug("result persisted",
		"state", "PERSISTED",
		"validation_id", vctx.ValidationID,
	)

	// 4. Publish the outcome. A failure leaves a tombstone the republish
	// sweeper drains later; the caller still gets the sealed result.
	if err := o.publisher.Publish(ctx, result); err != nil {
		o.logger.Error("failed to publish outcome",
			"state", "PERSISTED_PUBLISH_FAILED",
			"validation_id", vctx.ValidationID,
			"payment_id", payment.PaymentID,
			"error", err,
		)
		if markErr := o.store.MarkPublishFailed(persistCtx, result.ValidationID); markErr != nil {
			o.logger.Error("failed to record publish failure",
				"validation_id", vctx.ValidationID,
				"error", markErr,
			)
		}
		return result, nil
	}

	if err := o.store.MarkPublished(persistCtx, result.ValidationID); err != nil {
		o.logger.Warn("failed to record publication",
			"validation_id", vctx.ValidationID,
			"error", err,
		)
	}

	o.logger.Info("payment validated",
		"state", "PUBLISHED",
		"validation_id", vctx.ValidationID,
		"payment_id", payment.PaymentID,
		"tenant_id", payment.TenantContext.TenantID,
		"status", result.Status,
		"risk_level", result.RiskLevel,
		"fraud_score", result.FraudScore,
		"risk_score", result.RiskScore,
		"duration_ms", time.Since(vctx.StartedAt).Milliseconds(),
	)

	return result, nil
}
