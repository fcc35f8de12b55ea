package domain

import (
	"time"
)

// Validation status values.
const (
	StatusPassed = "PASSED"
	StatusFailed = "FAILED"
)

// Risk levels, least to most severe.
const (
	RiskLevelLow      = "LOW"
	RiskLevelMedium   = "MEDIUM"
	RiskLevelHigh     = "HIGH"
	RiskLevelCritical = "CRITICAL"
)

// RuleFamily identifies one of the four validation rule families.
type RuleFamily string

const (
	FamilyBusiness   RuleFamily = "BUSINESS"
	FamilyCompliance RuleFamily = "COMPLIANCE"
	FamilyFraud      RuleFamily = "FRAUD"
	FamilyRisk       RuleFamily = "RISK"
)

// FamilyOrder is the canonical family ordering. Dispatch results and the
// aggregated rule lists always follow this order regardless of which
// family finished first.
var FamilyOrder = []RuleFamily{FamilyBusiness, FamilyCompliance, FamilyFraud, FamilyRisk}

// CreatedBySystem is stamped on every result row this service produces.
const CreatedBySystem = "validation-service"

// ValidationContext carries the per-payment identifiers through the
// dispatch fan-out. It is created by the orchestrator, lives for one
// validation attempt, and is owned by that attempt and the family tasks
// it spawns.
type ValidationContext struct {
	ValidationID  string        `json:"validationId"`
	PaymentID     string        `json:"paymentId"`
	TenantContext TenantContext `json:"tenantContext"`
	CorrelationID string        `json:"correlationId"`
	StartedAt     time.Time     `json:"startedAt"`
}

// FailedRule records a single rule rejection. Immutable once emitted.
type FailedRule struct {
	RuleID        string     `json:"ruleId"`
	RuleName      string     `json:"ruleName"`
	Family        RuleFamily `json:"family"`
	FailureReason string     `json:"failureReason"`
	Field         string     `json:"field,omitempty"`
	FailedAt      time.Time  `json:"failedAt"`
}

// FamilyResult is the outcome of one family engine for one payment.
// Deltas are reported unclamped; clamping happens during aggregation.
type FamilyResult struct {
	Family       RuleFamily   `json:"family"`
	Success      bool         `json:"success"`
	AppliedRules []string     `json:"appliedRules"`
	FailedRules  []FailedRule `json:"failedRules"`
	FraudDelta   int          `json:"fraudDelta"`
	RiskDelta    int          `json:"riskDelta"`
	ElapsedMs    int64        `json:"elapsedMs"`
	ErrorMessage string       `json:"errorMessage,omitempty"`
}

// ValidationResult is the sealed per-payment verdict. It is built by the
// aggregator, persisted by the store, published by the outcome publisher,
// and never mutated after sealing.
type ValidationResult struct {
	ValidationID  string                 `json:"validationId"`
	PaymentID     string                 `json:"paymentId"`
	TenantContext TenantContext          `json:"tenantContext"`
	CorrelationID string                 `json:"correlationId"`
	Status        string                 `json:"status"`
	RiskLevel     string                 `json:"riskLevel"`
	FraudScore    int                    `json:"fraudScore"`
	RiskScore     int                    `json:"riskScore"`
	AppliedRules  []string               `json:"appliedRules"`
	FailedRules   []FailedRule           `json:"failedRules"`
	ValidatedAt   time.Time              `json:"validatedAt"`
	Reason        string                 `json:"reason,omitempty"`
	CreatedBy     string                 `json:"createdBy"`
	Metadata      map[string]interface{} `json:"metadata"`
}

// Passed reports whether the payment cleared every rule.
func (r *ValidationResult) Passed() bool {
	return r.Status == StatusPassed
}

// DeriveRiskLevel maps a failed-rule set to a risk level. Evaluated in
// order, first match wins: any FRAUD failure is CRITICAL, else any RISK
// failure is HIGH, else any failure is MEDIUM, else LOW.
func DeriveRiskLevel(failed []FailedRule) string {
	if len(failed) == 0 {
		return RiskLevelLow
	}
	hasRisk := false
	for _, f := range failed {
		switch f.Family {
		case FamilyFraud:
			return RiskLevelCritical
		case FamilyRisk:
			hasRisk = true
		}
	}
	if hasRisk {
		return RiskLevelHigh
	}
	return RiskLevelMedium
}
