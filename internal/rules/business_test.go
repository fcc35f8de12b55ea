package rules

import (
	"context"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestBusinessEngineDefaults(t *testing.T) {
	eng := NewBusinessEngine(testRegistry(t), testEvaluator(t))
	ctx := context.Background()

	t.Run("CleanPaymentPasses", func(t *testing.T) {
		result, err := eng.Execute(ctx, testValidationContext(), testPayment(1000, "USD"))
		if err != nil {
			t.Fatalf("Execute failed: %v", err)
		}
		if !result.Success {
			t.Errorf("expected success, failed: %v", failedRuleIDs(result))
		}
		if result.RiskDelta != 0 {
			t.Errorf("expected riskDelta 0, got %d", result.RiskDelta)
		}
	})

	t.Run("LargeAmountPassesWithoutConfiguredLimit", func(t *testing.T) {
		// The default registry ships no amount limit.
		result, err := eng.Execute(ctx, testValidationContext(), testPayment(250000, "USD"))
		if err != nil {
			t.Fatalf("Execute failed: %v", err)
		}
		if hasFailed(result, "BUSINESS_RULE_001") {
			t.Error("expected BUSINESS_RULE_001 to pass with unset maxAmount")
		}
	})

	t.Run("SameAccountRejected", func(t *testing.T) {
		payment := testPayment(1000, "USD")
		payment.DestinationAccount = payment.SourceAccount

		result, err := eng.Execute(ctx, testValidationContext(), payment)
		if err != nil {
			t.Fatalf("Execute failed: %v", err)
		}
		if !hasFailed(result, "BUSINESS_RULE_002") {
			t.Errorf("expected BUSINESS_RULE_002 failure, got %v", failedRuleIDs(result))
		}
		if result.RiskDelta != 10 {
			t.Errorf("expected riskDelta 10, got %d", result.RiskDelta)
		}
		if result.FailedRules[0].Field != "destinationAccount" {
			t.Errorf("unexpected field: %s", result.FailedRules[0].Field)
		}
	})

	t.Run("BadCurrencyRejected", func(t *testing.T) {
		for _, currency := range []string{"", "US", "DOLLARS", "us1"} {
			result, err := eng.Execute(ctx, testValidationContext(), testPayment(1000, currency))
			if err != nil {
				t.Fatalf("Execute failed: %v", err)
			}
			if !hasFailed(result, "BUSINESS_RULE_004") {
				t.Errorf("currency %q: expected BUSINESS_RULE_004 failure", currency)
			}
		}
	})

	t.Run("ValidCurrenciesPass", func(t *testing.T) {
		for _, currency := range []string{"USD", "EUR", "GBP", "JPY"} {
			result, err := eng.Execute(ctx, testValidationContext(), testPayment(1000, currency))
			if err != nil {
				t.Fatalf("Execute failed: %v", err)
			}
			if hasFailed(result, "BUSINESS_RULE_004") {
				t.Errorf("currency %q: expected BUSINESS_RULE_004 to pass", currency)
			}
		}
	})
}

func TestBusinessEngineConfigured(t *testing.T) {
	ctx := context.Background()

	t.Run("AmountLimit", func(t *testing.T) {
		eng := NewBusinessEngine(testRegistry(t, &domain.RuleDefinition{
			RuleID:   "BUSINESS_RULE_001",
			RuleName: "Amount Limit",
			Family:   domain.FamilyBusiness,
			Priority: 1,
			Active:   true,
			Parameters: map[string]interface{}{
				"maxAmount": 100000,
				"riskDelta": 10,
			},
		}), testEvaluator(t))

		result, err := eng.Execute(ctx, testValidationContext(), testPayment(250000, "USD"))
		if err != nil {
			t.Fatalf("Execute failed: %v", err)
		}
		if !hasFailed(result, "BUSINESS_RULE_001") {
			t.Errorf("expected BUSINESS_RULE_001 failure at 250000 with limit 100000")
		}
		if result.RiskDelta != 10 {
			t.Errorf("expected riskDelta 10, got %d", result.RiskDelta)
		}

		result, err = eng.Execute(ctx, testValidationContext(), testPayment(50000, "USD"))
		if err != nil {
			t.Fatalf("Execute failed: %v", err)
		}
		if hasFailed(result, "BUSINESS_RULE_001") {
			t.Error("expected BUSINESS_RULE_001 to pass at 50000")
		}
	})

	t.Run("BusinessHoursWindow", func(t *testing.T) {
		eng := NewBusinessEngine(testRegistry(t, &domain.RuleDefinition{
			RuleID:   "BUSINESS_RULE_003",
			RuleName: "Business Hours Window",
			Family:   domain.FamilyBusiness,
			Priority: 3,
			Active:   true,
			Parameters: map[string]interface{}{
				"windowStartHour": 9,
				"windowEndHour":   17,
				"riskDelta":       10,
			},
		}), testEvaluator(t))

		inside := testPayment(1000, "USD")
		inside.InitiatedAt = time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
		result, err := eng.Execute(ctx, testValidationContext(), inside)
		if err != nil {
			t.Fatalf("Execute failed: %v", err)
		}
		if hasFailed(result, "BUSINESS_RULE_003") {
			t.Error("expected 10:00 inside 09:00-17:00 window")
		}

		outside := testPayment(1000, "USD")
		outside.InitiatedAt = time.Date(2025, 6, 2, 20, 0, 0, 0, time.UTC)
		result, err = eng.Execute(ctx, testValidationContext(), outside)
		if err != nil {
			t.Fatalf("Execute failed: %v", err)
		}
		if !hasFailed(result, "BUSINESS_RULE_003") {
			t.Error("expected 20:00 outside 09:00-17:00 window")
		}
	})

	t.Run("PaymentTypeAllowed", func(t *testing.T) {
		eng := NewBusinessEngine(testRegistry(t, &domain.RuleDefinition{
			RuleID:   "BUSINESS_RULE_005",
			RuleName: "Payment Type Allowed",
			Family:   domain.FamilyBusiness,
			Priority: 5,
			Active:   true,
			Parameters: map[string]interface{}{
				"allowedTypes": []string{"TRANSFER", "DIRECT_DEBIT"},
				"riskDelta":    10,
			},
		}), testEvaluator(t))

		allowed := testPayment(1000, "USD")
		allowed.PaymentType = "TRANSFER"
		result, err := eng.Execute(ctx, testValidationContext(), allowed)
		if err != nil {
			t.Fatalf("Execute failed: %v", err)
		}
		if hasFailed(result, "BUSINESS_RULE_005") {
			t.Error("expected TRANSFER to be allowed")
		}

		blocked := testPayment(1000, "USD")
		blocked.PaymentType = "CARD"
		result, err = eng.Execute(ctx, testValidationContext(), blocked)
		if err != nil {
			t.Fatalf("Execute failed: %v", err)
		}
		if !hasFailed(result, "BUSINESS_RULE_005") {
			t.Error("expected CARD to be rejected")
		}
	})

	t.Run("MultipleFailuresAccumulate", func(t *testing.T) {
		eng := NewBusinessEngine(testRegistry(t, &domain.RuleDefinition{
			RuleID:   "BUSINESS_RULE_001",
			RuleName: "Amount Limit",
			Family:   domain.FamilyBusiness,
			Priority: 1,
			Active:   true,
			Parameters: map[string]interface{}{
				"maxAmount": 100000,
				"riskDelta": 10,
			},
		}), testEvaluator(t))

		payment := testPayment(250000, "USD")
		payment.DestinationAccount = payment.SourceAccount

		result, err := eng.Execute(ctx, testValidationContext(), payment)
		if err != nil {
			t.Fatalf("Execute failed: %v", err)
		}
		if len(result.FailedRules) != 2 {
			t.Fatalf("expected 2 failures, got %v", failedRuleIDs(result))
		}
		if result.RiskDelta != 20 {
			t.Errorf("expected riskDelta 20, got %d", result.RiskDelta)
		}
	})
}
