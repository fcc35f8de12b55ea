// Package rules implements the four rule family engines.
package rules

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/registry"
)

// FamilyEngine is the contract every rule family implements.
type FamilyEngine interface {
	Family() domain.RuleFamily
	Execute(ctx context.Context, vctx *domain.ValidationContext, payment *domain.PaymentInitiated) (*domain.FamilyResult, error)
}

// rejection is the outcome of a predicate that rejects a payment.
type rejection struct {
	reason string
	field  string
}

// builtinFunc evaluates one built-in rule. A nil rejection means the
// rule passed. Errors are reserved for cancellation; predicate problems
// are reported as rejections.
type builtinFunc func(ctx context.Context, def *domain.RuleDefinition, payment *domain.PaymentInitiated) (*rejection, error)

// Engine runs the rules of one family in priority order. The four
// families share this implementation and differ only in their tag,
// predicate set and delta accounting.
type Engine struct {
	family       domain.RuleFamily
	registry     *registry.Registry
	eval         *Evaluator
	builtins     map[string]builtinFunc
	deltaParam   string
	defaultDelta int
	logger       *slog.Logger
}

// Family returns the family tag.
func (e *Engine) Family() domain.RuleFamily {
	return e.family
}

// Execute applies the family's rules to a payment. Every active rule is
// recorded in AppliedRules; rejections are collected as FailedRules with
// their configured deltas. Only cancellation aborts the run.
func (e *Engine) Execute(ctx context.Context, vctx *domain.ValidationContext, payment *domain.PaymentInitiated) (*domain.FamilyResult, error) {
	start := time.Now()

	result := &domain.FamilyResult{
		Family:  e.family,
		Success: true,
	}

	defs := e.registry.RulesFor(ctx, vctx.TenantContext.TenantID, e.family)

	for _, def := range defs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result.AppliedRules = append(result.AppliedRules, def.RuleID)

		rej, err := e.evaluateRule(ctx, def, payment)
		if err != nil {
			return nil, err
		}
		if rej == nil {
			continue
		}

		result.Success = false
		result.FailedRules = append(result.FailedRules, domain.FailedRule{
			RuleID:        def.RuleID,
			RuleName:      def.RuleName,
			Family:        e.family,
			FailureReason: rej.reason,
			Field:         rej.field,
			FailedAt:      time.Now().UTC(),
		})

		delta := def.ParamInt(e.deltaParam, e.defaultDelta)
		if e.family == domain.FamilyFraud {
			result.FraudDelta += delta
		} else {
			result.RiskDelta += delta
		}
	}

	result.ElapsedMs = time.Since(start).Milliseconds()
	return result, nil
}

// evaluateRule dispatches to the CEL evaluator for expression rules and
// to the built-in predicate otherwise.
func (e *Engine) evaluateRule(ctx context.Context, def *domain.RuleDefinition, payment *domain.PaymentInitiated) (*rejection, error) {
	if def.Expression != "" {
		if e.eval == nil {
			e.logger.Warn("no evaluator for expression rule, skipping",
				"rule_id", def.RuleID,
				"family", e.family)
			return nil, nil
		}

		reject, err := e.eval.Evaluate(def, payment)
		if err != nil {
			// A broken expression fails the rule, not the service.
			return &rejection{reason: fmt.Sprintf("expression error: %v", err)}, nil
		}
		if reject {
			reason := def.ParamString("reason", fmt.Sprintf("rule %s matched", def.RuleID))
			return &rejection{reason: reason}, nil
		}
		return nil, nil
	}

	fn, ok := e.builtins[def.RuleID]
	if !ok {
		e.logger.Warn("no predicate for rule, skipping",
			"rule_id", def.RuleID,
			"family", e.family)
		return nil, nil
	}

	return fn(ctx, def, payment)
}
