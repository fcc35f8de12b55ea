package domain

import (
	"time"
)

// Event type names carried in payloads and the eventType header.
const (
	EventPaymentInitiated = "PaymentInitiated"
	EventPaymentValidated = "PaymentValidated"
	EventValidationFailed = "ValidationFailed"
)

// Source and schema version stamped on every egress event.
const (
	EventSource  = "validation-service"
	EventVersion = "1.0.0"
)

// Standard header keys on published messages.
const (
	HeaderCorrelationID  = "correlationId"
	HeaderTenantID       = "tenantId"
	HeaderBusinessUnitID = "businessUnitId"
	HeaderEventType      = "eventType"
	HeaderSource         = "source"
	HeaderVersion        = "version"
)

// OutcomeEvent is the egress payload for PaymentValidated and
// ValidationFailed. FailedRules is populated only on failure.
type OutcomeEvent struct {
	EventID        string            `json:"eventId"`
	EventType      string            `json:"eventType"`
	Timestamp      time.Time         `json:"timestamp"`
	CorrelationID  string            `json:"correlationId"`
	Source         string            `json:"source"`
	Version        string            `json:"version"`
	TenantID       string            `json:"tenantId"`
	BusinessUnitID string            `json:"businessUnitId"`
	PaymentID      string            `json:"paymentId"`
	TenantContext  TenantContext     `json:"tenantContext"`
	RiskLevel      string            `json:"riskLevel"`
	FraudScore     int               `json:"fraudScore"`
	FailedRules    []EventFailedRule `json:"failedRules,omitempty"`
}

// EventFailedRule mirrors FailedRule on the wire; the family is published
// under the ruleType key.
type EventFailedRule struct {
	RuleID        string     `json:"ruleId"`
	RuleName      string     `json:"ruleName"`
	RuleType      RuleFamily `json:"ruleType"`
	FailureReason string     `json:"failureReason"`
	Field         string     `json:"field,omitempty"`
	FailedAt      time.Time  `json:"failedAt"`
}

// ToEventFailedRules converts the persisted failure list to its wire form.
func ToEventFailedRules(failed []FailedRule) []EventFailedRule {
	if len(failed) == 0 {
		return nil
	}
	out := make([]EventFailedRule, len(failed))
	for i, f := range failed {
		out[i] = EventFailedRule{
			RuleID:        f.RuleID,
			RuleName:      f.RuleName,
			RuleType:      f.Family,
			FailureReason: f.FailureReason,
			Field:         f.Field,
			FailedAt:      f.FailedAt,
		}
	}
	return out
}
