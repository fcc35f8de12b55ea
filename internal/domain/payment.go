package domain

import (
	"time"
)

// PaymentInitiated is the incoming payment event to be validated.
// It is created upstream by the payment-intake service and treated
// as immutable here.
type PaymentInitiated struct {
	PaymentID          string        `json:"paymentId"`
	SourceAccount      string        `json:"sourceAccount"`
	DestinationAccount string        `json:"destinationAccount"`
	Amount             Amount        `json:"amount"`
	Reference          string        `json:"reference"`
	PaymentType        string        `json:"paymentType,omitempty"`
	TenantContext      TenantContext `json:"tenantContext"`
	InitiatedAt        time.Time     `json:"initiatedAt"`

	// Optional metadata forwarded by the intake service
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Amount is a monetary value with its ISO 4217 currency code.
type Amount struct {
	Value    float64 `json:"value"`
	Currency string  `json:"currency"`
}

// TenantContext scopes an operation to one tenant and business unit.
type TenantContext struct {
	TenantID       string `json:"tenantId"`
	BusinessUnitID string `json:"businessUnitId"`
}

// ValidateRequest is the API request payload for synchronous validation.
type ValidateRequest struct {
	PaymentID          string                 `json:"paymentId,omitempty"`
	SourceAccount      string                 `json:"sourceAccount"`
	DestinationAccount string                 `json:"destinationAccount"`
	Amount             Amount                 `json:"amount"`
	Reference          string                 `json:"reference"`
	PaymentType        string                 `json:"paymentType,omitempty"`
	InitiatedAt        *time.Time             `json:"initiatedAt,omitempty"`
	Metadata           map[string]interface{} `json:"metadata,omitempty"`
}

// ToPayment converts a request to a PaymentInitiated scoped to the
// given tenant context. Missing initiatedAt defaults to now.
func (r *ValidateRequest) ToPayment(tc TenantContext) *PaymentInitiated {
	initiatedAt := time.Now().UTC()
	if r.InitiatedAt != nil {
		initiatedAt = r.InitiatedAt.UTC()
	}
	return &PaymentInitiated{
		PaymentID:          r.PaymentID,
		SourceAccount:      r.SourceAccount,
		DestinationAccount: r.DestinationAccount,
		Amount:             r.Amount,
		Reference:          r.Reference,
		PaymentType:        r.PaymentType,
		TenantContext:      tc,
		InitiatedAt:        initiatedAt,
		Metadata:           r.Metadata,
	}
}
