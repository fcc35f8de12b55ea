package rules

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/registry"
)

// NewComplianceEngine creates the compliance rule family engine. The
// screening rules delegate to the configured Screener; a failing hook
// produces a synthetic rule failure rather than an error.
func NewComplianceEngine(reg *registry.Registry, eval *Evaluator, screener domain.Screener) *Engine {
	e := &Engine{
		family:       domain.FamilyCompliance,
		registry:     reg,
		eval:         eval,
		deltaParam:   "riskDelta",
		defaultDelta: 15,
		logger:       slog.Default(),
	}
	e.builtins = map[string]builtinFunc{
		"COMPLIANCE_RULE_001": referencePresent,
		"COMPLIANCE_RULE_002": screen(screener),
		"COMPLIANCE_RULE_003": screen(screener),
		"COMPLIANCE_RULE_004": screen(screener),
		"COMPLIANCE_RULE_005": screen(screener),
	}
	return e
}

func referencePresent(ctx context.Context, def *domain.RuleDefinition, payment *domain.PaymentInitiated) (*rejection, error) {
	if strings.TrimSpace(payment.Reference) == "" {
		return &rejection{
			reason: "payment reference is required",
			field:  "reference",
		}, nil
	}
	return nil, nil
}

// screen builds a predicate that runs one external screening check. The
// check name comes from the rule's parameters, so tenant overrides can
// repoint a rule at a different hook.
func screen(screener domain.Screener) builtinFunc {
	return func(ctx context.Context, def *domain.RuleDefinition, payment *domain.PaymentInitiated) (*rejection, error) {
		if screener == nil {
			return nil, nil
		}

		check := def.ParamString("check", "")
		if check == "" {
			return nil, nil
		}

		result, err := screener.Screen(ctx, check, payment)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return &rejection{reason: fmt.Sprintf("%s screening unavailable: %v", check, err)}, nil
		}

		if !result.Passed {
			reason := result.Reason
			if reason == "" {
				reason = fmt.Sprintf("%s screening rejected the payment", check)
			}
			return &rejection{reason: reason}, nil
		}
		return nil, nil
	}
}
