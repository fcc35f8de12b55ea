package domain

import (
	"context"
	"time"
)

// Compliance screening checks invoked by the compliance family engine.
const (
	ScreenAML        = "aml"
	ScreenSanctions  = "sanctions"
	ScreenKYC        = "kyc"
	ScreenRegulatory = "regulatory"
)

// ScreenResult is a screening verdict. When Passed is false, Reason says
// why the screen rejected the payment.
type ScreenResult struct {
	Passed bool   `json:"passed"`
	Reason string `json:"reason,omitempty"`
}

// Screener performs an external compliance screen. Implementations
// apply their own per-check timeout and honour ctx cancellation.
type Screener interface {
	Screen(ctx context.Context, check string, payment *PaymentInitiated) (*ScreenResult, error)
}

// HookConfig configures the compliance screening hooks. Timeouts are in
// milliseconds and must stay strictly below the per-validation budget.
type HookConfig struct {
	// Type selects the screener backend: "static" (default) or "bus"
	Type string `json:"type"`

	AMLTimeoutMs        int `json:"amlTimeoutMs"`
	SanctionsTimeoutMs  int `json:"sanctionsTimeoutMs"`
	KYCTimeoutMs        int `json:"kycTimeoutMs"`
	RegulatoryTimeoutMs int `json:"regulatoryTimeoutMs"`

	// DenyList maps a check name to blocked account ids, used by the
	// static screener. Empty lists pass everything.
	DenyList map[string][]string `json:"denyList,omitempty"`
}

// TimeoutFor returns the configured timeout for a check, defaulting to
// 500ms when unset.
func (h HookConfig) TimeoutFor(check string) time.Duration {
	ms := 0
	switch check {
	case ScreenAML:
		ms = h.AMLTimeoutMs
	case ScreenSanctions:
		ms = h.SanctionsTimeoutMs
	case ScreenKYC:
		ms = h.KYCTimeoutMs
	case ScreenRegulatory:
		ms = h.RegulatoryTimeoutMs
	}
	if ms <= 0 {
		ms = 500
	}
	return time.Duration(ms) * time.Millisecond
}
