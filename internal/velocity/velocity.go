// Package velocity provides payment velocity tracking.
package velocity

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// CountFunc is the counting function signature the fraud engine expects.
type CountFunc func(ctx context.Context, tenantID, accountID string, windowSecs int) (int64, error)

// Tracker counts payments per source account over sliding windows.
// Counters live in the cache so Pro deployments share them across nodes.
type Tracker struct {
	cache domain.Cache
}

// NewTracker creates a velocity tracker backed by the given cache.
func NewTracker(cache domain.Cache) *Tracker {
	return &Tracker{cache: cache}
}

// Record increments the payment counter for an account and returns the
// count observed within the window, including this payment.
func (t *Tracker) Record(ctx context.Context, tenantID, accountID string, window time.Duration) (int64, error) {
	if tenantID == "" || accountID == "" {
		return 0, fmt.Errorf("tenantID and accountID are required")
	}
	if t.cache == nil {
		return 0, fmt.Errorf("no counter backend available")
	}
	return t.cache.IncrementCounter(ctx, tenantID, "velocity:"+accountID, window)
}

// GetCountFunc returns a CountFunc for the fraud engine.
func (t *Tracker) GetCountFunc() CountFunc {
	return func(ctx context.Context, tenantID, accountID string, windowSecs int) (int64, error) {
		return t.Record(ctx, tenantID, accountID, time.Duration(windowSecs)*time.Second)
	}
}
