package rules

import (
	"context"
	"fmt"
	"log/slog"
	"path"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/registry"
	"github.com/opensource-finance/kestrel/internal/velocity"
)

// NewFraudEngine creates the fraud rule family engine. Amount anomaly
// thresholds are calibrated in the home currency and skip payments in
// any other currency. countFn is optional; when set, the velocity rule
// additionally enforces its sliding-window parameters.
func NewFraudEngine(reg *registry.Registry, eval *Evaluator, countFn velocity.CountFunc) *Engine {
	e := &Engine{
		family:       domain.FamilyFraud,
		registry:     reg,
		eval:         eval,
		deltaParam:   "fraudDelta",
		defaultDelta: 10,
		logger:       slog.Default(),
	}
	e.builtins = map[string]builtinFunc{
		"FRAUD_RULE_001": velocityCheck(countFn, e.logger),
		"FRAUD_RULE_002": homeAmountOver("flagged as anomalous"),
		"FRAUD_RULE_003": accountPattern,
		"FRAUD_RULE_004": timeOfDay,
		"FRAUD_RULE_005": homeAmountOver("exceeds behavioral threshold"),
	}
	return e
}

// velocityCheck combines the home-currency amount threshold with the
// optional sliding-window counter.
func velocityCheck(countFn velocity.CountFunc, logger *slog.Logger) builtinFunc {
	overThreshold := homeAmountOver("exceeds velocity threshold")

	return func(ctx context.Context, def *domain.RuleDefinition, payment *domain.PaymentInitiated) (*rejection, error) {
		if rej, err := overThreshold(ctx, def, payment); rej != nil || err != nil {
			return rej, err
		}

		windowSecs := def.ParamInt("windowSeconds", 0)
		maxCount := def.ParamInt("maxCount", 0)
		if countFn == nil || windowSecs <= 0 || maxCount <= 0 {
			return nil, nil
		}

		count, err := countFn(ctx, payment.TenantContext.TenantID, payment.SourceAccount, windowSecs)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.Warn("velocity counter unavailable, skipping window check",
				"rule_id", def.RuleID,
				"error", err)
			return nil, nil
		}

		if count > int64(maxCount) {
			return &rejection{
				reason: fmt.Sprintf("source account made %d payments in %ds window (max %d)", count, windowSecs, maxCount),
				field:  "sourceAccount",
			}, nil
		}
		return nil, nil
	}
}

// homeAmountOver builds a predicate that rejects amounts above the
// rule's threshold when the payment is in the home currency.
func homeAmountOver(label string) builtinFunc {
	return func(ctx context.Context, def *domain.RuleDefinition, payment *domain.PaymentInitiated) (*rejection, error) {
		threshold := def.ParamFloat("threshold", 0)
		if threshold <= 0 {
			return nil, nil
		}

		home := def.ParamString("homeCurrency", "USD")
		if payment.Amount.Currency != home {
			return nil, nil
		}

		if payment.Amount.Value > threshold {
			return &rejection{
				reason: fmt.Sprintf("amount %.2f %s %.2f", payment.Amount.Value, label, threshold),
				field:  "amount",
			}, nil
		}
		return nil, nil
	}
}

func accountPattern(ctx context.Context, def *domain.RuleDefinition, payment *domain.PaymentInitiated) (*rejection, error) {
	if pattern := matchPattern(def.ParamStrings("patterns"), payment.SourceAccount); pattern != "" {
		return &rejection{
			reason: fmt.Sprintf("source account matches suspicious pattern %q", pattern),
			field:  "sourceAccount",
		}, nil
	}
	return nil, nil
}

func timeOfDay(ctx context.Context, def *domain.RuleDefinition, payment *domain.PaymentInitiated) (*rejection, error) {
	startHour := def.ParamInt("startHour", 6)
	endHour := def.ParamInt("endHour", 22)

	hour := payment.InitiatedAt.In(tenantLocation(def)).Hour()
	if hour < startHour || hour > endHour {
		return &rejection{
			reason: fmt.Sprintf("initiated at %02d:00 outside %02d:00-%02d:00", hour, startHour, endHour),
			field:  "initiatedAt",
		}, nil
	}
	return nil, nil
}

// matchPattern returns the first glob pattern matching the value, or "".
func matchPattern(patterns []string, value string) string {
	for _, pattern := range patterns {
		if ok, err := path.Match(pattern, value); err == nil && ok {
			return pattern
		}
	}
	return ""
}
