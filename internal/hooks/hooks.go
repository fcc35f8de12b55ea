// Package hooks provides compliance screening backends for Kestrel.
//
// The compliance family engine calls out to a Screener for AML,
// sanctions, KYC and regulatory checks. The static screener answers
// from configured deny lists; the bus screener forwards each check to
// an external screening service over the event bus.
package hooks

import (
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// New creates a screener based on configuration.
func New(cfg domain.HookConfig, bus domain.EventBus) (domain.Screener, error) {
	switch cfg.Type {
	case "", "static":
		return NewStaticScreener(cfg), nil

	case "bus":
		if bus == nil {
			return nil, fmt.Errorf("bus screener requires an event bus")
		}
		return NewBusScreener(cfg, bus), nil

	default:
		return nil, fmt.Errorf("unsupported screener type: %s", cfg.Type)
	}
}
