package velocity

import (
	"context"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/cache"
)

func TestTracker(t *testing.T) {
	lruCache := cache.NewLRUCache(100)
	defer lruCache.Close()

	tracker := NewTracker(lruCache)

	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("RecordIncrements", func(t *testing.T) {
		count, err := tracker.Record(ctx, tenantID, "acc-001", time.Minute)
		if err != nil {
			t.Fatalf("Record failed: %v", err)
		}
		if count != 1 {
			t.Errorf("expected count 1, got %d", count)
		}

		count, _ = tracker.Record(ctx, tenantID, "acc-001", time.Minute)
		if count != 2 {
			t.Errorf("expected count 2, got %d", count)
		}

		count, _ = tracker.Record(ctx, tenantID, "acc-001", time.Minute)
		if count != 3 {
			t.Errorf("expected count 3, got %d", count)
		}
	})

	t.Run("WindowReset", func(t *testing.T) {
		window := 50 * time.Millisecond

		count, _ := tracker.Record(ctx, tenantID, "acc-reset", window)
		if count != 1 {
			t.Errorf("expected count 1, got %d", count)
		}

		time.Sleep(80 * time.Millisecond)

		count, _ = tracker.Record(ctx, tenantID, "acc-reset", window)
		if count != 1 {
			t.Errorf("expected count 1 after window reset, got %d", count)
		}
	})

	t.Run("AccountIsolation", func(t *testing.T) {
		count, _ := tracker.Record(ctx, tenantID, "acc-a", time.Minute)
		if count != 1 {
			t.Errorf("expected count 1 for acc-a, got %d", count)
		}

		count, _ = tracker.Record(ctx, tenantID, "acc-b", time.Minute)
		if count != 1 {
			t.Errorf("expected count 1 for acc-b, got %d", count)
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		_, _ = tracker.Record(ctx, "tenant-a", "acc-shared", time.Minute)
		_, _ = tracker.Record(ctx, "tenant-a", "acc-shared", time.Minute)

		count, _ := tracker.Record(ctx, "tenant-b", "acc-shared", time.Minute)
		if count != 1 {
			t.Errorf("expected count 1 for other tenant, got %d", count)
		}
	})

	t.Run("RequiresTenantID", func(t *testing.T) {
		_, err := tracker.Record(ctx, "", "acc-001", time.Minute)
		if err == nil {
			t.Error("expected error for empty tenantID")
		}
	})

	t.Run("RequiresAccountID", func(t *testing.T) {
		_, err := tracker.Record(ctx, tenantID, "", time.Minute)
		if err == nil {
			t.Error("expected error for empty accountID")
		}
	})

	t.Run("GetCountFunc", func(t *testing.T) {
		countFn := tracker.GetCountFunc()
		if countFn == nil {
			t.Fatal("GetCountFunc returned nil")
		}

		count, err := countFn(ctx, tenantID, "acc-fn", 60)
		if err != nil {
			t.Fatalf("CountFunc failed: %v", err)
		}
		if count != 1 {
			t.Errorf("expected count 1, got %d", count)
		}
	})
}

func TestNoBackend(t *testing.T) {
	tracker := &Tracker{} // No cache

	ctx := context.Background()
	_, err := tracker.Record(ctx, "tenant", "acc", time.Minute)
	if err == nil {
		t.Error("expected error with no counter backend")
	}
}
