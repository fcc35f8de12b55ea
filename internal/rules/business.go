package rules

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/registry"
)

// NewBusinessEngine creates the business rule family engine.
// Placeholder predicates (amount limit, business hours, payment types)
// pass until a tenant configures their parameters.
func NewBusinessEngine(reg *registry.Registry, eval *Evaluator) *Engine {
	return &Engine{
		family:       domain.FamilyBusiness,
		registry:     reg,
		eval:         eval,
		deltaParam:   "riskDelta",
		defaultDelta: 10,
		logger:       slog.Default(),
		builtins: map[string]builtinFunc{
			"BUSINESS_RULE_001": amountLimit,
			"BUSINESS_RULE_002": sameAccount,
			"BUSINESS_RULE_003": businessHours,
			"BUSINESS_RULE_004": currencyFormat,
			"BUSINESS_RULE_005": paymentTypeAllowed,
		},
	}
}

func amountLimit(ctx context.Context, def *domain.RuleDefinition, payment *domain.PaymentInitiated) (*rejection, error) {
	maxAmount := def.ParamFloat("maxAmount", 0)
	if maxAmount <= 0 {
		return nil, nil
	}
	if payment.Amount.Value > maxAmount {
		return &rejection{
			reason: fmt.Sprintf("amount %.2f exceeds limit %.2f", payment.Amount.Value, maxAmount),
			field:  "amount",
		}, nil
	}
	return nil, nil
}

func sameAccount(ctx context.Context, def *domain.RuleDefinition, payment *domain.PaymentInitiated) (*rejection, error) {
	if payment.SourceAccount != "" && payment.SourceAccount == payment.DestinationAccount {
		return &rejection{
			reason: "source and destination accounts are identical",
			field:  "destinationAccount",
		}, nil
	}
	return nil, nil
}

func businessHours(ctx context.Context, def *domain.RuleDefinition, payment *domain.PaymentInitiated) (*rejection, error) {
	startHour := def.ParamInt("windowStartHour", 0)
	endHour := def.ParamInt("windowEndHour", 0)
	if startHour == 0 && endHour == 0 {
		return nil, nil
	}

	hour := payment.InitiatedAt.In(tenantLocation(def)).Hour()
	if hour < startHour || hour >= endHour {
		return &rejection{
			reason: fmt.Sprintf("initiated at %02d:00 outside business hours %02d:00-%02d:00", hour, startHour, endHour),
			field:  "initiatedAt",
		}, nil
	}
	return nil, nil
}

func currencyFormat(ctx context.Context, def *domain.RuleDefinition, payment *domain.PaymentInitiated) (*rejection, error) {
	currency := payment.Amount.Currency
	if len(currency) != 3 || !isUpperAlpha(currency) {
		return &rejection{
			reason: fmt.Sprintf("currency %q is not a three-letter code", currency),
			field:  "currency",
		}, nil
	}
	return nil, nil
}

func paymentTypeAllowed(ctx context.Context, def *domain.RuleDefinition, payment *domain.PaymentInitiated) (*rejection, error) {
	allowed := def.ParamStrings("allowedTypes")
	if len(allowed) == 0 {
		return nil, nil
	}
	for _, t := range allowed {
		if payment.PaymentType == t {
			return nil, nil
		}
	}
	return &rejection{
		reason: fmt.Sprintf("payment type %q is not enabled for this tenant", payment.PaymentType),
		field:  "paymentType",
	}, nil
}

// tenantLocation resolves the rule's timezone parameter, defaulting UTC.
func tenantLocation(def *domain.RuleDefinition) *time.Location {
	tz := def.ParamString("timezone", "UTC")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}

func isUpperAlpha(s string) bool {
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
