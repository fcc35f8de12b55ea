package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/store"
)

func sealedResult(validationID, paymentID, status, riskLevel string) *domain.ValidationResult {
	return &domain.ValidationResult{
		ValidationID: validationID,
		PaymentID:    paymentID,
		TenantContext: domain.TenantContext{
			TenantID:       "tenant-001",
			BusinessUnitID: "bu-1",
		},
		CorrelationID: "corr-001",
		Status:        status,
		RiskLevel:     riskLevel,
		AppliedRules:  []string{"BUSINESS_001"},
		ValidatedAt:   time.Now().UTC(),
		CreatedBy:     domain.CreatedBySystem,
	}
}

// flakyBus fails the first failures publishes, then delegates.
type flakyBus struct {
	domain.EventBus
	failures int32
	calls    int32
}

func (f *flakyBus) Publish(ctx context.Context, tenantID, topic, key string, payload []byte, headers map[string]string) error {
	n := atomic.AddInt32(&f.calls, 1)
	if n <= f.failures {
		return errors.New("broker unavailable")
	}
	return f.EventBus.Publish(ctx, tenantID, topic, key, payload, headers)
}

func TestPublishRoutesByStatus(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	pub := New(domain.PublisherConfig{MaxPublishAttempts: 3, RetryBackoffMs: 1}, eventBus)
	ctx := context.Background()

	t.Run("PassedGoesToValidatedTopic", func(t *testing.T) {
		received := make(chan *domain.Message, 1)
		sub, err := eventBus.Subscribe(ctx, "tenant-001", domain.TopicPaymentValidated, func(ctx context.Context, msg *domain.Message) error {
			received <- msg
			return nil
		})
		if err != nil {
			t.Fatalf("Subscribe failed: %v", err)
		}
		defer sub.Unsubscribe()

		result := sealedResult("val-100", "pay-100", domain.StatusPassed, domain.RiskLevelLow)
		if err := pub.Publish(ctx, result); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}

		select {
		case msg := <-received:
			if msg.Key != "pay-100" {
				t.Errorf("expected key pay-100, got %s", msg.Key)
			}
			if msg.Headers[domain.HeaderEventType] != domain.EventPaymentValidated {
				t.Errorf("expected eventType header %s, got %s",
					domain.EventPaymentValidated, msg.Headers[domain.HeaderEventType])
			}
			if msg.Headers[domain.HeaderCorrelationID] != "corr-001" {
				t.Errorf("expected correlationId header corr-001, got %s", msg.Headers[domain.HeaderCorrelationID])
			}
			if msg.Headers[domain.HeaderTenantID] != "tenant-001" {
				t.Errorf("expected tenantId header tenant-001, got %s", msg.Headers[domain.HeaderTenantID])
			}
			if msg.Headers[domain.HeaderSource] != domain.EventSource {
				t.Errorf("expected source header %s, got %s", domain.EventSource, msg.Headers[domain.HeaderSource])
			}
			if msg.Headers[domain.HeaderVersion] != domain.EventVersion {
				t.Errorf("expected version header %s, got %s", domain.EventVersion, msg.Headers[domain.HeaderVersion])
			}

			var event domain.OutcomeEvent
			if err := json.Unmarshal(msg.Payload, &event); err != nil {
				t.Fatalf("failed to parse event: %v", err)
			}
			if event.EventID == "" {
				t.Error("expected non-empty eventId")
			}
			if event.EventType != domain.EventPaymentValidated {
				t.Errorf("expected eventType %s, got %s", domain.EventPaymentValidated, event.EventType)
			}
			if event.PaymentID != "pay-100" {
				t.Errorf("expected paymentId pay-100, got %s", event.PaymentID)
			}
			if event.RiskLevel != domain.RiskLevelLow {
				t.Errorf("expected riskLevel LOW, got %s", event.RiskLevel)
			}
			if len(event.FailedRules) != 0 {
				t.Errorf("expected no failed rules, got %d", len(event.FailedRules))
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for outcome event")
		}
	})

	t.Run("FailedGoesToFailedTopic", func(t *testing.T) {
		received := make(chan *domain.Message, 1)
		sub, err := eventBus.Subscribe(ctx, "tenant-001", domain.TopicValidationFailed, func(ctx context.Context, msg *domain.Message) error {
			received <- msg
			return nil
		})
		if err != nil {
			t.Fatalf("Subscribe failed: %v", err)
		}
		defer sub.Unsubscribe()

		result := sealedResult("val-101", "pay-101", domain.StatusFailed, domain.RiskLevelCritical)
		result.FraudScore = 25
		result.FailedRules = []domain.FailedRule{
			{
				RuleID:        "FRAUD_RULE_001",
				RuleName:      "Amount Threshold",
				Family:        domain.FamilyFraud,
				FailureReason: "amount exceeds fraud threshold",
				FailedAt:      time.Now().UTC(),
			},
		}

		if err := pub.Publish(ctx, result); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}

		select {
		case msg := <-received:
			var event domain.OutcomeEvent
			if err := json.Unmarshal(msg.Payload, &event); err != nil {
				t.Fatalf("failed to parse event: %v", err)
			}
			if event.EventType != domain.EventValidationFailed {
				t.Errorf("expected eventType %s, got %s", domain.EventValidationFailed, event.EventType)
			}
			if event.FraudScore != 25 {
				t.Errorf("expected fraudScore 25, got %d", event.FraudScore)
			}
			if len(event.FailedRules) != 1 {
				t.Fatalf("expected 1 failed rule, got %d", len(event.FailedRules))
			}
			if event.FailedRules[0].RuleType != domain.FamilyFraud {
				t.Errorf("expected ruleType FRAUD, got %s", event.FailedRules[0].RuleType)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for outcome event")
		}
	})
}

func TestPublishRetries(t *testing.T) {
	t.Run("RecoversAfterTransientFailures", func(t *testing.T) {
		eventBus := bus.NewChannelBus(100)
		defer eventBus.Close()

		flaky := &flakyBus{EventBus: eventBus, failures: 2}
		pub := New(domain.PublisherConfig{MaxPublishAttempts: 5, RetryBackoffMs: 1}, flaky)

		result := sealedResult("val-200", "pay-200", domain.StatusPassed, domain.RiskLevelLow)
		if err := pub.Publish(context.Background(), result); err != nil {
			t.Fatalf("expected publish to recover, got: %v", err)
		}

		if calls := atomic.LoadInt32(&flaky.calls); calls != 3 {
			t.Errorf("expected 3 publish attempts, got %d", calls)
		}
	})

	t.Run("ExhaustsAttempts", func(t *testing.T) {
		eventBus := bus.NewChannelBus(100)
		defer eventBus.Close()

		flaky := &flakyBus{EventBus: eventBus, failures: 100}
		pub := New(domain.PublisherConfig{MaxPublishAttempts: 3, RetryBackoffMs: 1}, flaky)

		result := sealedResult("val-201", "pay-201", domain.StatusPassed, domain.RiskLevelLow)
		err := pub.Publish(context.Background(), result)
		if err == nil {
			t.Fatal("expected error after exhausting attempts")
		}
		if !strings.Contains(err.Error(), "after 3 attempts") {
			t.Errorf("unexpected error: %v", err)
		}

		if calls := atomic.LoadInt32(&flaky.calls); calls != 3 {
			t.Errorf("expected 3 publish attempts, got %d", calls)
		}
	})
}

func TestPerPaymentOrdering(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	pub := New(domain.PublisherConfig{MaxPublishAttempts: 3, RetryBackoffMs: 1}, eventBus)
	ctx := context.Background()

	received := make(chan string, 10)
	sub, err := eventBus.Subscribe(ctx, "tenant-001", domain.TopicValidationFailed, func(ctx context.Context, msg *domain.Message) error {
		var event domain.OutcomeEvent
		if err := json.Unmarshal(msg.Payload, &event); err != nil {
			return err
		}
		received <- event.CorrelationID
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Unsubscribe()

	// Same payment revalidated five times; events must arrive in
	// publication order.
	want := []string{"corr-0", "corr-1", "corr-2", "corr-3", "corr-4"}
	for i, corr := range want {
		result := sealedResult(fmt.Sprintf("val-30%d", i), "pay-300", domain.StatusFailed, domain.RiskLevelMedium)
		result.CorrelationID = corr
		if err := pub.Publish(ctx, result); err != nil {
			t.Fatalf("Publish %d failed: %v", i, err)
		}
	}

	for i, expected := range want {
		select {
		case got := <-received:
			if got != expected {
				t.Errorf("event %d: expected %s, got %s", i, expected, got)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
}

func TestSweeper(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "kestrel-sweeper-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	defer os.Remove(tmpPath)

	resultStore, err := store.New(domain.StoreConfig{Driver: "sqlite", SQLitePath: tmpPath})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer resultStore.Close()

	ctx := context.Background()

	t.Run("RepublishesTombstones", func(t *testing.T) {
		eventBus := bus.NewChannelBus(100)
		defer eventBus.Close()

		var receivedCount atomic.Int32
		eventBus.Subscribe(ctx, "tenant-001", domain.TopicPaymentValidated, func(ctx context.Context, msg *domain.Message) error {
			receivedCount.Add(1)
			return nil
		})
		eventBus.Subscribe(ctx, "tenant-001", domain.TopicValidationFailed, func(ctx context.Context, msg *domain.Message) error {
			receivedCount.Add(1)
			return nil
		})

		for _, result := range []*domain.ValidationResult{
			sealedResult("val-400", "pay-400", domain.StatusPassed, domain.RiskLevelLow),
			sealedResult("val-401", "pay-401", domain.StatusFailed, domain.RiskLevelMedium),
		} {
			if _, err := resultStore.Save(ctx, result); err != nil {
				t.Fatalf("Save failed: %v", err)
			}
			if err := resultStore.MarkPublishFailed(ctx, result.ValidationID); err != nil {
				t.Fatalf("MarkPublishFailed failed: %v", err)
			}
		}

		pub := New(domain.PublisherConfig{MaxPublishAttempts: 3, RetryBackoffMs: 1}, eventBus)
		sweeper := NewSweeper(domain.PublisherConfig{SweepBatchSize: 10}, resultStore, pub)

		n, err := sweeper.SweepOnce(ctx)
		if err != nil {
			t.Fatalf("SweepOnce failed: %v", err)
		}
		if n != 2 {
			t.Errorf("expected 2 republished, got %d", n)
		}

		time.Sleep(100 * time.Millisecond)
		if count := receivedCount.Load(); count != 2 {
			t.Errorf("expected 2 events on the bus, got %d", count)
		}

		remaining, err := resultStore.ListPublishFailed(ctx, 10)
		if err != nil {
			t.Fatalf("ListPublishFailed failed: %v", err)
		}
		if len(remaining) != 0 {
			t.Errorf("expected no tombstones left, got %d", len(remaining))
		}
	})

	t.Run("LeavesTombstoneWhenBusDown", func(t *testing.T) {
		eventBus := bus.NewChannelBus(100)
		defer eventBus.Close()

		result := sealedResult("val-402", "pay-402", domain.StatusPassed, domain.RiskLevelLow)
		if _, err := resultStore.Save(ctx, result); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		if err := resultStore.MarkPublishFailed(ctx, result.ValidationID); err != nil {
			t.Fatalf("MarkPublishFailed failed: %v", err)
		}

		down := &flakyBus{EventBus: eventBus, failures: 100}
		pub := New(domain.PublisherConfig{MaxPublishAttempts: 1, RetryBackoffMs: 1}, down)
		sweeper := NewSweeper(domain.PublisherConfig{SweepBatchSize: 10}, resultStore, pub)

		n, err := sweeper.SweepOnce(ctx)
		if err != nil {
			t.Fatalf("SweepOnce failed: %v", err)
		}
		if n != 0 {
			t.Errorf("expected 0 republished, got %d", n)
		}

		remaining, err := resultStore.ListPublishFailed(ctx, 10)
		if err != nil {
			t.Fatalf("ListPublishFailed failed: %v", err)
		}
		if len(remaining) != 1 || remaining[0].ValidationID != "val-402" {
			t.Errorf("expected val-402 tombstone to remain, got %v", remaining)
		}
	})

	t.Run("StartAndStop", func(t *testing.T) {
		eventBus := bus.NewChannelBus(10)
		defer eventBus.Close()

		pub := New(domain.PublisherConfig{}, eventBus)
		sweeper := NewSweeper(domain.PublisherConfig{SweepIntervalSeconds: 1}, resultStore, pub)

		sweeper.Start()
		sweeper.Stop()
	})
}
