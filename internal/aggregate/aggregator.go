// Package aggregate seals per-family rule results into a single
// ValidationResult with derived scores and risk level.
package aggregate

import (
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const maxScore = 100

// Aggregator combines family results into the sealed per-payment
// verdict. It is stateless and safe for concurrent use.
type Aggregator struct{}

// New creates an aggregator.
func New() *Aggregator {
	return &Aggregator{}
}

// Aggregate builds the sealed result from the dispatcher's family
// results. Rule lists concatenate in canonical family order; scores are
// the clamped sums of the family deltas.
func (a *Aggregator) Aggregate(vctx *domain.ValidationContext, payment *domain.PaymentInitiated, familyResults []*domain.FamilyResult) *domain.ValidationResult {
	applied := make([]string, 0)
	failed := make([]domain.FailedRule, 0)
	perFamilyElapsed := make(map[string]int64, len(familyResults))
	fraudScore := 0
	riskScore := 0

	for _, result := range orderCanonically(familyResults) {
		applied = append(applied, result.AppliedRules...)
		failed = append(failed, result.FailedRules...)
		fraudScore += result.FraudDelta
		riskScore += result.RiskDelta
		perFamilyElapsed[string(result.Family)] = result.ElapsedMs
	}

	status := domain.StatusPassed
	if len(failed) > 0 {
		status = domain.StatusFailed
	}

	return &domain.ValidationResult{
		ValidationID:  vctx.ValidationID,
		PaymentID:     vctx.PaymentID,
		TenantContext: vctx.TenantContext,
		CorrelationID: vctx.CorrelationID,
		Status:        status,
		RiskLevel:     domain.DeriveRiskLevel(failed),
		FraudScore:    clamp(fraudScore),
		RiskScore:     clamp(riskScore),
		AppliedRules:  applied,
		FailedRules:   failed,
		ValidatedAt:   time.Now().UTC(),
		CreatedBy:     domain.CreatedBySystem,
		Metadata: map[string]interface{}{
			"validationId":       vctx.ValidationID,
			"paymentId":          vctx.PaymentID,
			"familyCount":        len(familyResults),
			"perFamilyElapsedMs": perFamilyElapsed,
			"elapsedMs":          time.Since(vctx.StartedAt).Milliseconds(),
		},
	}
}

// SealSystemError produces the sealed verdict for dispatcher-level
// failures (cancellation, unexpected errors not attributable to one
// family): FAILED, CRITICAL, both scores maxed, one SYSTEM_ERROR rule.
func (a *Aggregator) SealSystemError(vctx *domain.ValidationContext, payment *domain.PaymentInitiated, cause error) *domain.ValidationResult {
	reason := "unknown error"
	if cause != nil {
		reason = cause.Error()
	}

	return &domain.ValidationResult{
		ValidationID:  vctx.ValidationID,
		PaymentID:     vctx.PaymentID,
		TenantContext: vctx.TenantContext,
		CorrelationID: vctx.CorrelationID,
		Status:        domain.StatusFailed,
		RiskLevel:     domain.RiskLevelCritical,
		FraudScore:    maxScore,
		RiskScore:     maxScore,
		AppliedRules:  []string{},
		FailedRules: []domain.FailedRule{{
			RuleID:        "SYSTEM_ERROR",
			RuleName:      "System Error",
			FailureReason: reason,
			FailedAt:      time.Now().UTC(),
		}},
		ValidatedAt: time.Now().UTC(),
		Reason:      reason,
		CreatedBy:   domain.CreatedBySystem,
		Metadata: map[string]interface{}{
			"validationId": vctx.ValidationID,
			"paymentId":    vctx.PaymentID,
			"error":        reason,
		},
	}
}

// Reasons extracts the human-readable failure reasons from a result.
func Reasons(result *domain.ValidationResult) []string {
	var reasons []string
	for _, f := range result.FailedRules {
		if f.FailureReason != "" {
			reasons = append(reasons, f.FailureReason)
		}
	}
	return reasons
}

// orderCanonically reorders family results into the canonical family
// order. The dispatcher already guarantees this; reordering here keeps
// aggregation deterministic for callers that bypass it.
func orderCanonically(results []*domain.FamilyResult) []*domain.FamilyResult {
	ordered := make([]*domain.FamilyResult, 0, len(results))
	seen := make(map[int]bool, len(results))

	for _, family := range domain.FamilyOrder {
		for i, result := range results {
			if result != nil && result.Family == family && !seen[i] {
				ordered = append(ordered, result)
				seen[i] = true
			}
		}
	}
	for i, result := range results {
		if result != nil && !seen[i] {
			ordered = append(ordered, result)
		}
	}
	return ordered
}

func clamp(score int) int {
	if score < 0 {
		return 0
	}
	if score > maxScore {
		return maxScore
	}
	return score
}
