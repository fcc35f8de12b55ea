package hooks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// BusScreener forwards compliance screens to an external screening
// service over the event bus using request-reply. Each check gets its
// own timeout from HookConfig so a slow screen cannot eat the whole
// validation budget.
type BusScreener struct {
	config domain.HookConfig
	bus    domain.EventBus
	logger *slog.Logger
}

// screenRequest is the payload sent to a screening service.
type screenRequest struct {
	PaymentID          string  `json:"paymentId"`
	SourceAccount      string  `json:"sourceAccount"`
	DestinationAccount string  `json:"destinationAccount"`
	Amount             float64 `json:"amount"`
	Currency           string  `json:"currency"`
	Reference          string  `json:"reference"`
}

// NewBusScreener creates a screener that calls screening services over
// the event bus.
func NewBusScreener(cfg domain.HookConfig, bus domain.EventBus) *BusScreener {
	return &BusScreener{
		config: cfg,
		bus:    bus,
		logger: slog.Default().With("component", "bus_screener"),
	}
}

// Screen sends the check to the screening service addressed by the
// screen topic and waits for its verdict.
func (s *BusScreener) Screen(ctx context.Context, check string, payment *domain.PaymentInitiated) (*domain.ScreenResult, error) {
	screenCtx, cancel := context.WithTimeout(ctx, s.config.TimeoutFor(check))
	defer cancel()

	req := screenRequest{
		PaymentID:          payment.PaymentID,
		SourceAccount:      payment.SourceAccount,
		DestinationAccount: payment.DestinationAccount,
		Amount:             payment.Amount.Value,
		Currency:           payment.Amount.Currency,
		Reference:          payment.Reference,
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s screen request: %w", check, err)
	}

	topic := domain.TopicScreenPrefix + check
	reply, err := s.bus.Request(screenCtx, payment.TenantContext.TenantID, topic, payload)
	if err != nil {
		return nil, fmt.Errorf("%s screen request failed: %w", check, err)
	}

	var result domain.ScreenResult
	if err := json.Unmarshal(reply, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s screen reply: %w", check, err)
	}

	s.logger.Debug("screen completed",
		"check", check,
		"payment_id", payment.PaymentID,
		"passed", result.Passed,
	)
	return &result, nil
}
