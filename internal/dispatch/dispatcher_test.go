package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// stubEngine is a controllable family engine for dispatcher tests.
type stubEngine struct {
	family   domain.RuleFamily
	delay    time.Duration
	err      error
	panicMsg string
	onStart  func()
	onDone   func()
}

func (s *stubEngine) Family() domain.RuleFamily {
	return s.family
}

func (s *stubEngine) Execute(ctx context.Context, vctx *domain.ValidationContext, payment *domain.PaymentInitiated) (*domain.FamilyResult, error) {
	if s.onStart != nil {
		s.onStart()
	}
	if s.onDone != nil {
		defer s.onDone()
	}

	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if s.panicMsg != "" {
		panic(s.panicMsg)
	}
	if s.err != nil {
		return nil, s.err
	}

	return &domain.FamilyResult{
		Family:       s.family,
		Success:      true,
		AppliedRules: []string{string(s.family) + "_RULE_001"},
	}, nil
}

func allFamilies(delay time.Duration) []*stubEngine {
	engines := make([]*stubEngine, 0, len(domain.FamilyOrder))
	for _, family := range domain.FamilyOrder {
		engines = append(engines, &stubEngine{family: family, delay: delay})
	}
	return engines
}

func testContext() *domain.ValidationContext {
	return &domain.ValidationContext{
		ValidationID:  "val-001",
		PaymentID:     "pay-001",
		TenantContext: domain.TenantContext{TenantID: "tenant-001", BusinessUnitID: "bu-001"},
		CorrelationID: "corr-001",
		StartedAt:     time.Now().UTC(),
	}
}

func testPayment() *domain.PaymentInitiated {
	return &domain.PaymentInitiated{
		PaymentID:          "pay-001",
		SourceAccount:      "ACC-100",
		DestinationAccount: "ACC-200",
		Amount:             domain.Amount{Value: 1000, Currency: "USD"},
		Reference:          "INV-1",
		TenantContext:      domain.TenantContext{TenantID: "tenant-001", BusinessUnitID: "bu-001"},
		InitiatedAt:        time.Now().UTC(),
	}
}

func parallelPolicy(budgetMs int) domain.ExecutionPolicy {
	return domain.ExecutionPolicy{Parallel: true, MaxParallelRules: 4, PerValidationBudgetMs: budgetMs}
}

func assertCanonicalOrder(t *testing.T, results []*domain.FamilyResult) {
	t.Helper()
	if len(results) != len(domain.FamilyOrder) {
		t.Fatalf("expected %d results, got %d", len(domain.FamilyOrder), len(results))
	}
	for i, family := range domain.FamilyOrder {
		if results[i] == nil {
			t.Fatalf("result %d is nil", i)
		}
		if results[i].Family != family {
			t.Errorf("result %d: expected family %s, got %s", i, family, results[i].Family)
		}
	}
}

func TestDispatchParallel(t *testing.T) {
	ctx := context.Background()

	t.Run("AllFamiliesSucceed", func(t *testing.T) {
		engines := allFamilies(0)
		d := New(parallelPolicy(2000), engines[0], engines[1], engines[2], engines[3])

		results, err := d.Dispatch(ctx, testContext(), testPayment())
		if err != nil {
			t.Fatalf("dispatch failed: %v", err)
		}
		assertCanonicalOrder(t, results)

		for _, result := range results {
			if !result.Success {
				t.Errorf("family %s should succeed", result.Family)
			}
		}
	})

	t.Run("CanonicalOrderWithSlowEngine", func(t *testing.T) {
		// Business finishes last; its result must still come first.
		business := &stubEngine{family: domain.FamilyBusiness, delay: 80 * time.Millisecond}
		compliance := &stubEngine{family: domain.FamilyCompliance}
		fraud := &stubEngine{family: domain.FamilyFraud}
		risk := &stubEngine{family: domain.FamilyRisk}

		// Scrambled argument order on purpose.
		d := New(parallelPolicy(2000), risk, business, fraud, compliance)

		results, err := d.Dispatch(ctx, testContext(), testPayment())
		if err != nil {
			t.Fatalf("dispatch failed: %v", err)
		}
		assertCanonicalOrder(t, results)
	})

	t.Run("BoundedConcurrency", func(t *testing.T) {
		var running, peak atomic.Int32

		engines := allFamilies(30 * time.Millisecond)
		for _, engine := range engines {
			engine.onStart = func() {
				cur := running.Add(1)
				for {
					max := peak.Load()
					if cur <= max || peak.CompareAndSwap(max, cur) {
						break
					}
				}
			}
			engine.onDone = func() {
				running.Add(-1)
			}
		}

		policy := domain.ExecutionPolicy{Parallel: true, MaxParallelRules: 2, PerValidationBudgetMs: 2000}
		d := New(policy, engines[0], engines[1], engines[2], engines[3])

		results, err := d.Dispatch(ctx, testContext(), testPayment())
		if err != nil {
			t.Fatalf("dispatch failed: %v", err)
		}
		assertCanonicalOrder(t, results)

		if peak.Load() > 2 {
			t.Errorf("expected at most 2 engines running, observed %d", peak.Load())
		}
	})

	t.Run("TimeoutProducesExactlyOneSyntheticFailure", func(t *testing.T) {
		engines := allFamilies(0)
		engines[2].delay = 500 * time.Millisecond // fraud sleeps past the budget

		d := New(parallelPolicy(100), engines[0], engines[1], engines[2], engines[3])

		start := time.Now()
		results, err := d.Dispatch(ctx, testContext(), testPayment())
		if err != nil {
			t.Fatalf("dispatch failed: %v", err)
		}
		if elapsed := time.Since(start); elapsed > 400*time.Millisecond {
			t.Errorf("dispatch should return at the budget, took %v", elapsed)
		}
		assertCanonicalOrder(t, results)

		fraud := results[2]
		if fraud.Success {
			t.Error("fraud family should be marked failed")
		}
		if len(fraud.FailedRules) != 1 {
			t.Fatalf("expected exactly 1 failed rule, got %d", len(fraud.FailedRules))
		}
		if fraud.FailedRules[0].RuleID != "FRAUD_TIMEOUT" {
			t.Errorf("expected FRAUD_TIMEOUT, got %s", fraud.FailedRules[0].RuleID)
		}
		if fraud.FailedRules[0].FailureReason != "rule family did not complete within budget" {
			t.Errorf("unexpected failure reason: %s", fraud.FailedRules[0].FailureReason)
		}
		if fraud.RiskDelta != 100 {
			t.Errorf("expected riskDelta 100, got %d", fraud.RiskDelta)
		}

		// The other three families completed normally.
		for _, i := range []int{0, 1, 3} {
			if !results[i].Success {
				t.Errorf("family %s should have completed before the budget", results[i].Family)
			}
		}
	})

	t.Run("EngineErrorSynthesized", func(t *testing.T) {
		engines := allFamilies(0)
		engines[1].err = errors.New("registry unavailable")

		d := New(parallelPolicy(2000), engines[0], engines[1], engines[2], engines[3])

		results, err := d.Dispatch(ctx, testContext(), testPayment())
		if err != nil {
			t.Fatalf("dispatch failed: %v", err)
		}
		assertCanonicalOrder(t, results)

		compliance := results[1]
		if compliance.Success {
			t.Error("compliance family should be marked failed")
		}
		if len(compliance.FailedRules) != 1 {
			t.Fatalf("expected 1 failed rule, got %d", len(compliance.FailedRules))
		}
		failed := compliance.FailedRules[0]
		if failed.RuleID != "COMPLIANCE_ENGINE_ERROR" {
			t.Errorf("expected COMPLIANCE_ENGINE_ERROR, got %s", failed.RuleID)
		}
		if failed.RuleName != "Compliance Engine Error" {
			t.Errorf("unexpected rule name: %s", failed.RuleName)
		}
		if !strings.Contains(failed.FailureReason, "registry unavailable") {
			t.Errorf("failure reason should carry the engine error, got: %s", failed.FailureReason)
		}
		if compliance.RiskDelta != 100 {
			t.Errorf("expected riskDelta 100, got %d", compliance.RiskDelta)
		}

		// Other families are unaffected.
		for _, i := range []int{0, 2, 3} {
			if !results[i].Success {
				t.Errorf("family %s should succeed", results[i].Family)
			}
		}
	})

	t.Run("PanicRecovered", func(t *testing.T) {
		engines := allFamilies(0)
		engines[3].panicMsg = "nil map write"

		d := New(parallelPolicy(2000), engines[0], engines[1], engines[2], engines[3])

		results, err := d.Dispatch(ctx, testContext(), testPayment())
		if err != nil {
			t.Fatalf("dispatch failed: %v", err)
		}
		assertCanonicalOrder(t, results)

		risk := results[3]
		if len(risk.FailedRules) != 1 || risk.FailedRules[0].RuleID != "RISK_ENGINE_ERROR" {
			t.Fatalf("expected RISK_ENGINE_ERROR, got %+v", risk.FailedRules)
		}
		if !strings.Contains(risk.FailedRules[0].FailureReason, "nil map write") {
			t.Errorf("failure reason should carry the panic, got: %s", risk.FailedRules[0].FailureReason)
		}
	})

	t.Run("CancellationDiscardsPartialResults", func(t *testing.T) {
		engines := allFamilies(300 * time.Millisecond)
		engines[0].delay = 0 // business completes before the cancel

		d := New(parallelPolicy(2000), engines[0], engines[1], engines[2], engines[3])

		cancelCtx, cancel := context.WithCancel(ctx)
		go func() {
			time.Sleep(30 * time.Millisecond)
			cancel()
		}()

		results, err := d.Dispatch(cancelCtx, testContext(), testPayment())
		if err == nil {
			t.Fatal("expected error on cancellation")
		}
		if !errors.Is(err, ErrCancelled) {
			t.Errorf("expected ErrCancelled, got %v", err)
		}
		if results != nil {
			t.Errorf("partial results should be discarded, got %d", len(results))
		}
	})
}

func TestDispatchSerial(t *testing.T) {
	ctx := context.Background()

	t.Run("RunsInCanonicalOrder", func(t *testing.T) {
		var mu sync.Mutex
		var order []domain.RuleFamily

		engines := allFamilies(0)
		for _, engine := range engines {
			family := engine.family
			engine.onStart = func() {
				mu.Lock()
				order = append(order, family)
				mu.Unlock()
			}
		}

		policy := domain.ExecutionPolicy{Parallel: false, PerValidationBudgetMs: 2000}
		// Scrambled argument order on purpose.
		d := New(policy, engines[3], engines[1], engines[0], engines[2])

		results, err := d.Dispatch(ctx, testContext(), testPayment())
		if err != nil {
			t.Fatalf("dispatch failed: %v", err)
		}
		assertCanonicalOrder(t, results)

		mu.Lock()
		defer mu.Unlock()
		for i, family := range domain.FamilyOrder {
			if order[i] != family {
				t.Errorf("execution %d: expected %s, got %s", i, family, order[i])
			}
		}
	})

	t.Run("BudgetAppliesCumulatively", func(t *testing.T) {
		engines := allFamilies(100 * time.Millisecond)

		policy := domain.ExecutionPolicy{Parallel: false, PerValidationBudgetMs: 150}
		d := New(policy, engines[0], engines[1], engines[2], engines[3])

		results, err := d.Dispatch(ctx, testContext(), testPayment())
		if err != nil {
			t.Fatalf("dispatch failed: %v", err)
		}
		assertCanonicalOrder(t, results)

		if !results[0].Success {
			t.Error("first family should complete within the budget")
		}
		for _, i := range []int{1, 2, 3} {
			family := domain.FamilyOrder[i]
			if results[i].Success {
				t.Errorf("family %s should have timed out", family)
				continue
			}
			want := string(family) + "_TIMEOUT"
			if len(results[i].FailedRules) != 1 || results[i].FailedRules[0].RuleID != want {
				t.Errorf("family %s: expected %s, got %+v", family, want, results[i].FailedRules)
			}
		}
	})

	t.Run("Cancellation", func(t *testing.T) {
		engines := allFamilies(200 * time.Millisecond)

		policy := domain.ExecutionPolicy{Parallel: false, PerValidationBudgetMs: 5000}
		d := New(policy, engines[0], engines[1], engines[2], engines[3])

		cancelCtx, cancel := context.WithCancel(ctx)
		go func() {
			time.Sleep(30 * time.Millisecond)
			cancel()
		}()

		_, err := d.Dispatch(cancelCtx, testContext(), testPayment())
		if !errors.Is(err, ErrCancelled) {
			t.Errorf("expected ErrCancelled, got %v", err)
		}
	})
}

func TestDispatchNoEngines(t *testing.T) {
	d := New(parallelPolicy(1000))

	results, err := d.Dispatch(context.Background(), testContext(), testPayment())
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}
}
