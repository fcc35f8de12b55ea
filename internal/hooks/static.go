package hooks

import (
	"context"
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// StaticScreener answers compliance screens from configured deny lists.
// A check with no deny list passes every payment. Used as the Community
// tier screener and as the fallback when no screening service runs.
type StaticScreener struct {
	deny map[string]map[string]struct{}
}

// NewStaticScreener creates a screener from the configured deny lists.
func NewStaticScreener(cfg domain.HookConfig) *StaticScreener {
	deny := make(map[string]map[string]struct{}, len(cfg.DenyList))
	for check, accounts := range cfg.DenyList {
		set := make(map[string]struct{}, len(accounts))
		for _, account := range accounts {
			set[account] = struct{}{}
		}
		deny[check] = set
	}
	return &StaticScreener{deny: deny}
}

// Screen checks the payment's accounts against the deny list for the
// given check.
func (s *StaticScreener) Screen(ctx context.Context, check string, payment *domain.PaymentInitiated) (*domain.ScreenResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	set := s.deny[check]
	if len(set) == 0 {
		return &domain.ScreenResult{Passed: true}, nil
	}

	if _, blocked := set[payment.SourceAccount]; blocked {
		return &domain.ScreenResult{
			Passed: false,
			Reason: fmt.Sprintf("source account blocked by %s screen", check),
		}, nil
	}
	if _, blocked := set[payment.DestinationAccount]; blocked {
		return &domain.ScreenResult{
			Passed: false,
			Reason: fmt.Sprintf("destination account blocked by %s screen", check),
		}, nil
	}

	return &domain.ScreenResult{Passed: true}, nil
}
