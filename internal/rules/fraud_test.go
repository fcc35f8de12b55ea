package rules

import (
	"context"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/velocity"
)

func TestFraudEngineDefaults(t *testing.T) {
	eng := NewFraudEngine(testRegistry(t), testEvaluator(t), nil)
	ctx := context.Background()

	t.Run("SmallAmountPasses", func(t *testing.T) {
		result, err := eng.Execute(ctx, testValidationContext(), testPayment(1000, "USD"))
		if err != nil {
			t.Fatalf("Execute failed: %v", err)
		}
		if !result.Success {
			t.Errorf("expected success, failed: %v", failedRuleIDs(result))
		}
		if result.FraudDelta != 0 {
			t.Errorf("expected fraudDelta 0, got %d", result.FraudDelta)
		}
	})

	t.Run("VelocityThreshold", func(t *testing.T) {
		result, err := eng.Execute(ctx, testValidationContext(), testPayment(60000, "USD"))
		if err != nil {
			t.Fatalf("Execute failed: %v", err)
		}
		if !hasFailed(result, "FRAUD_RULE_001") {
			t.Fatalf("expected FRAUD_RULE_001 at 60000, got %v", failedRuleIDs(result))
		}
		if len(result.FailedRules) != 1 {
			t.Errorf("expected only FRAUD_RULE_001, got %v", failedRuleIDs(result))
		}
		if result.FraudDelta != 25 {
			t.Errorf("expected fraudDelta 25, got %d", result.FraudDelta)
		}
	})

	t.Run("EscalatingThresholds", func(t *testing.T) {
		// 80000 crosses the 50000 and 75000 thresholds.
		result, err := eng.Execute(ctx, testValidationContext(), testPayment(80000, "USD"))
		if err != nil {
			t.Fatalf("Execute failed: %v", err)
		}
		if !hasFailed(result, "FRAUD_RULE_001") || !hasFailed(result, "FRAUD_RULE_002") {
			t.Fatalf("expected FRAUD_RULE_001+002, got %v", failedRuleIDs(result))
		}
		if result.FraudDelta != 55 {
			t.Errorf("expected fraudDelta 55, got %d", result.FraudDelta)
		}
	})

	t.Run("ForeignCurrencySkipsAmountThresholds", func(t *testing.T) {
		// Thresholds are calibrated in the home currency.
		result, err := eng.Execute(ctx, testValidationContext(), testPayment(250000, "EUR"))
		if err != nil {
			t.Fatalf("Execute failed: %v", err)
		}
		if !result.Success {
			t.Errorf("expected EUR amount to skip USD thresholds, failed: %v", failedRuleIDs(result))
		}
	})

	t.Run("OffHoursRejected", func(t *testing.T) {
		payment := testPayment(1000, "USD")
		payment.InitiatedAt = time.Date(2025, 6, 2, 3, 0, 0, 0, time.UTC)

		result, err := eng.Execute(ctx, testValidationContext(), payment)
		if err != nil {
			t.Fatalf("Execute failed: %v", err)
		}
		if !hasFailed(result, "FRAUD_RULE_004") {
			t.Fatalf("expected FRAUD_RULE_004 at 03:00, got %v", failedRuleIDs(result))
		}
		if result.FraudDelta != 15 {
			t.Errorf("expected fraudDelta 15, got %d", result.FraudDelta)
		}
	})

	t.Run("BoundaryHours", func(t *testing.T) {
		cases := []struct {
			hour   int
			reject bool
		}{
			{5, true},
			{6, false},
			{22, false},
			{23, true},
		}
		for _, tc := range cases {
			payment := testPayment(1000, "USD")
			payment.InitiatedAt = time.Date(2025, 6, 2, tc.hour, 30, 0, 0, time.UTC)

			result, err := eng.Execute(ctx, testValidationContext(), payment)
			if err != nil {
				t.Fatalf("Execute failed: %v", err)
			}
			if hasFailed(result, "FRAUD_RULE_004") != tc.reject {
				t.Errorf("hour %d: expected reject=%v", tc.hour, tc.reject)
			}
		}
	})
}

func TestFraudEngineConfigured(t *testing.T) {
	ctx := context.Background()

	t.Run("SuspiciousAccountPattern", func(t *testing.T) {
		eng := NewFraudEngine(testRegistry(t, &domain.RuleDefinition{
			RuleID:   "FRAUD_RULE_003",
			RuleName: "Account Pattern",
			Family:   domain.FamilyFraud,
			Priority: 3,
			Active:   true,
			Parameters: map[string]interface{}{
				"patterns":   []string{"TEMP-*", "MULE-*"},
				"fraudDelta": 20,
			},
		}), testEvaluator(t), nil)

		payment := testPayment(1000, "USD")
		payment.SourceAccount = "TEMP-42"

		result, err := eng.Execute(ctx, testValidationContext(), payment)
		if err != nil {
			t.Fatalf("Execute failed: %v", err)
		}
		if !hasFailed(result, "FRAUD_RULE_003") {
			t.Fatalf("expected FRAUD_RULE_003 for TEMP-42, got %v", failedRuleIDs(result))
		}
		if result.FraudDelta != 20 {
			t.Errorf("expected fraudDelta 20, got %d", result.FraudDelta)
		}

		result, err = eng.Execute(ctx, testValidationContext(), testPayment(1000, "USD"))
		if err != nil {
			t.Fatalf("Execute failed: %v", err)
		}
		if hasFailed(result, "FRAUD_RULE_003") {
			t.Error("expected ACC-100 not to match patterns")
		}
	})

	t.Run("SlidingWindowVelocity", func(t *testing.T) {
		lru := cache.NewLRUCache(100)
		defer lru.Close()
		tracker := velocity.NewTracker(lru)

		eng := NewFraudEngine(testRegistry(t, &domain.RuleDefinition{
			RuleID:   "FRAUD_RULE_001",
			RuleName: "Velocity Check",
			Family:   domain.FamilyFraud,
			Priority: 1,
			Active:   true,
			Parameters: map[string]interface{}{
				"threshold":     50000,
				"homeCurrency":  "USD",
				"fraudDelta":    25,
				"windowSeconds": 60,
				"maxCount":      2,
			},
		}), testEvaluator(t), tracker.GetCountFunc())

		// First two payments stay under the window cap.
		for i := 0; i < 2; i++ {
			result, err := eng.Execute(ctx, testValidationContext(), testPayment(1000, "USD"))
			if err != nil {
				t.Fatalf("Execute failed: %v", err)
			}
			if hasFailed(result, "FRAUD_RULE_001") {
				t.Fatalf("payment %d: expected pass, got %v", i+1, failedRuleIDs(result))
			}
		}

		// Third payment exceeds maxCount=2.
		result, err := eng.Execute(ctx, testValidationContext(), testPayment(1000, "USD"))
		if err != nil {
			t.Fatalf("Execute failed: %v", err)
		}
		if !hasFailed(result, "FRAUD_RULE_001") {
			t.Fatalf("expected velocity window rejection, got %v", failedRuleIDs(result))
		}
	})
}
