package rules

import (
	"context"
	"errors"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

type stubScreener struct {
	results map[string]*domain.ScreenResult
	err     error
	calls   []string
}

func (s *stubScreener) Screen(ctx context.Context, check string, payment *domain.PaymentInitiated) (*domain.ScreenResult, error) {
	s.calls = append(s.calls, check)
	if s.err != nil {
		return nil, s.err
	}
	if r, ok := s.results[check]; ok {
		return r, nil
	}
	return &domain.ScreenResult{Passed: true}, nil
}

func TestComplianceEngine(t *testing.T) {
	ctx := context.Background()

	t.Run("CleanPaymentPasses", func(t *testing.T) {
		screener := &stubScreener{}
		eng := NewComplianceEngine(testRegistry(t), testEvaluator(t), screener)

		result, err := eng.Execute(ctx, testValidationContext(), testPayment(1000, "USD"))
		if err != nil {
			t.Fatalf("Execute failed: %v", err)
		}
		if !result.Success {
			t.Errorf("expected success, failed: %v", failedRuleIDs(result))
		}
		if len(result.AppliedRules) != 5 {
			t.Errorf("expected 5 applied rules, got %d", len(result.AppliedRules))
		}
	})

	t.Run("AllChecksCalled", func(t *testing.T) {
		screener := &stubScreener{}
		eng := NewComplianceEngine(testRegistry(t), testEvaluator(t), screener)

		_, err := eng.Execute(ctx, testValidationContext(), testPayment(1000, "USD"))
		if err != nil {
			t.Fatalf("Execute failed: %v", err)
		}

		want := []string{domain.ScreenAML, domain.ScreenSanctions, domain.ScreenKYC, domain.ScreenRegulatory}
		if len(screener.calls) != len(want) {
			t.Fatalf("expected %d screening calls, got %v", len(want), screener.calls)
		}
		for i, check := range want {
			if screener.calls[i] != check {
				t.Errorf("call %d: expected %s, got %s", i, check, screener.calls[i])
			}
		}
	})

	t.Run("MissingReferenceRejected", func(t *testing.T) {
		eng := NewComplianceEngine(testRegistry(t), testEvaluator(t), &stubScreener{})

		payment := testPayment(1000, "USD")
		payment.Reference = "  "

		result, err := eng.Execute(ctx, testValidationContext(), payment)
		if err != nil {
			t.Fatalf("Execute failed: %v", err)
		}
		if !hasFailed(result, "COMPLIANCE_RULE_001") {
			t.Errorf("expected COMPLIANCE_RULE_001 failure, got %v", failedRuleIDs(result))
		}
		if result.RiskDelta != 15 {
			t.Errorf("expected riskDelta 15, got %d", result.RiskDelta)
		}
	})

	t.Run("SanctionsHitRejected", func(t *testing.T) {
		screener := &stubScreener{
			results: map[string]*domain.ScreenResult{
				domain.ScreenSanctions: {Passed: false, Reason: "destination on sanctions list"},
			},
		}
		eng := NewComplianceEngine(testRegistry(t), testEvaluator(t), screener)

		result, err := eng.Execute(ctx, testValidationContext(), testPayment(1000, "USD"))
		if err != nil {
			t.Fatalf("Execute failed: %v", err)
		}
		if !hasFailed(result, "COMPLIANCE_RULE_003") {
			t.Fatalf("expected COMPLIANCE_RULE_003 failure, got %v", failedRuleIDs(result))
		}
		for _, f := range result.FailedRules {
			if f.RuleID == "COMPLIANCE_RULE_003" && f.FailureReason != "destination on sanctions list" {
				t.Errorf("unexpected reason: %s", f.FailureReason)
			}
		}
	})

	t.Run("HookErrorBecomesSyntheticFailure", func(t *testing.T) {
		screener := &stubScreener{err: errors.New("connection refused")}
		eng := NewComplianceEngine(testRegistry(t), testEvaluator(t), screener)

		result, err := eng.Execute(ctx, testValidationContext(), testPayment(1000, "USD"))
		if err != nil {
			t.Fatalf("expected hook errors to stay inside the result, got %v", err)
		}
		if result.Success {
			t.Fatal("expected failure from unavailable hooks")
		}
		// All four screening rules fail; reference check still passes.
		if len(result.FailedRules) != 4 {
			t.Errorf("expected 4 synthetic failures, got %v", failedRuleIDs(result))
		}
		if result.RiskDelta != 60 {
			t.Errorf("expected riskDelta 60, got %d", result.RiskDelta)
		}
	})

	t.Run("NilScreenerPasses", func(t *testing.T) {
		eng := NewComplianceEngine(testRegistry(t), testEvaluator(t), nil)

		result, err := eng.Execute(ctx, testValidationContext(), testPayment(1000, "USD"))
		if err != nil {
			t.Fatalf("Execute failed: %v", err)
		}
		if !result.Success {
			t.Errorf("expected success with nil screener, failed: %v", failedRuleIDs(result))
		}
	})
}
