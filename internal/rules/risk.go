package rules

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/registry"
)

// NewRiskEngine creates the risk rule family engine. Exposure thresholds
// apply to the face value regardless of currency.
func NewRiskEngine(reg *registry.Registry, eval *Evaluator) *Engine {
	return &Engine{
		family:       domain.FamilyRisk,
		registry:     reg,
		eval:         eval,
		deltaParam:   "riskDelta",
		defaultDelta: 10,
		logger:       slog.Default(),
		builtins: map[string]builtinFunc{
			"RISK_RULE_001": exposureOver("credit exposure"),
			"RISK_RULE_002": marketCurrency,
			"RISK_RULE_003": exposureOver("operational exposure"),
			"RISK_RULE_004": exposureOver("liquidity exposure"),
			"RISK_RULE_005": counterpartyPattern,
		},
	}
}

// exposureOver builds a predicate that rejects face values above the
// rule's threshold.
func exposureOver(label string) builtinFunc {
	return func(ctx context.Context, def *domain.RuleDefinition, payment *domain.PaymentInitiated) (*rejection, error) {
		threshold := def.ParamFloat("threshold", 0)
		if threshold <= 0 {
			return nil, nil
		}
		if payment.Amount.Value > threshold {
			return &rejection{
				reason: fmt.Sprintf("%s %.2f exceeds threshold %.2f", label, payment.Amount.Value, threshold),
				field:  "amount",
			}, nil
		}
		return nil, nil
	}
}

func marketCurrency(ctx context.Context, def *domain.RuleDefinition, payment *domain.PaymentInitiated) (*rejection, error) {
	home := def.ParamString("homeCurrency", "USD")
	if payment.Amount.Currency != home {
		return &rejection{
			reason: fmt.Sprintf("currency %s differs from home currency %s", payment.Amount.Currency, home),
			field:  "currency",
		}, nil
	}
	return nil, nil
}

func counterpartyPattern(ctx context.Context, def *domain.RuleDefinition, payment *domain.PaymentInitiated) (*rejection, error) {
	if pattern := matchPattern(def.ParamStrings("patterns"), payment.DestinationAccount); pattern != "" {
		return &rejection{
			reason: fmt.Sprintf("destination account matches high-risk pattern %q", pattern),
			field:  "destinationAccount",
		}, nil
	}
	return nil, nil
}
