package registry

import "github.com/opensource-finance/kestrel/internal/domain"

// Builtin returns the default rule set used when no tenant override
// exists. Placeholder predicates (amount limit, business hours, account
// patterns, payment types) ship unconfigured and pass until a tenant
// supplies thresholds.
func Builtin() []*domain.RuleDefinition {
	return []*domain.RuleDefinition{
		// Business family: each failure adds riskDelta 10.
		{
			RuleID:   "BUSINESS_RULE_001",
			RuleName: "Amount Limit",
			Family:   domain.FamilyBusiness,
			Priority: 1,
			Active:   true,
			Version:  "1",
			Parameters: map[string]interface{}{
				"maxAmount": 0, // unset: no limit enforced
				"riskDelta": 10,
			},
		},
		{
			RuleID:   "BUSINESS_RULE_002",
			RuleName: "Same Account Check",
			Family:   domain.FamilyBusiness,
			Priority: 2,
			Active:   true,
			Version:  "1",
			Parameters: map[string]interface{}{
				"riskDelta": 10,
			},
		},
		{
			RuleID:   "BUSINESS_RULE_003",
			RuleName: "Business Hours Window",
			Family:   domain.FamilyBusiness,
			Priority: 3,
			Active:   true,
			Version:  "1",
			Parameters: map[string]interface{}{
				"windowStartHour": 0, // unset: all hours allowed
				"windowEndHour":   0,
				"riskDelta":       10,
			},
		},
		{
			RuleID:   "BUSINESS_RULE_004",
			RuleName: "Currency Format",
			Family:   domain.FamilyBusiness,
			Priority: 4,
			Active:   true,
			Version:  "1",
			Parameters: map[string]interface{}{
				"riskDelta": 10,
			},
		},
		{
			RuleID:   "BUSINESS_RULE_005",
			RuleName: "Payment Type Allowed",
			Family:   domain.FamilyBusiness,
			Priority: 5,
			Active:   true,
			Version:  "1",
			Parameters: map[string]interface{}{
				"allowedTypes": []string{}, // unset: all types allowed
				"riskDelta":    10,
			},
		},

		// Compliance family: each failure adds riskDelta 15.
		{
			RuleID:   "COMPLIANCE_RULE_001",
			RuleName: "Reference Present",
			Family:   domain.FamilyCompliance,
			Priority: 1,
			Active:   true,
			Version:  "1",
			Parameters: map[string]interface{}{
				"riskDelta": 15,
			},
		},
		{
			RuleID:   "COMPLIANCE_RULE_002",
			RuleName: "AML Screening",
			Family:   domain.FamilyCompliance,
			Priority: 2,
			Active:   true,
			Version:  "1",
			Parameters: map[string]interface{}{
				"check":     domain.ScreenAML,
				"riskDelta": 15,
			},
		},
		{
			RuleID:   "COMPLIANCE_RULE_003",
			RuleName: "Sanctions Screening",
			Family:   domain.FamilyCompliance,
			Priority: 3,
			Active:   true,
			Version:  "1",
			Parameters: map[string]interface{}{
				"check":     domain.ScreenSanctions,
				"riskDelta": 15,
			},
		},
		{
			RuleID:   "COMPLIANCE_RULE_004",
			RuleName: "KYC Status",
			Family:   domain.FamilyCompliance,
			Priority: 4,
			Active:   true,
			Version:  "1",
			Parameters: map[string]interface{}{
				"check":     domain.ScreenKYC,
				"riskDelta": 15,
			},
		},
		{
			RuleID:   "COMPLIANCE_RULE_005",
			RuleName: "Regulatory Reporting",
			Family:   domain.FamilyCompliance,
			Priority: 5,
			Active:   true,
			Version:  "1",
			Parameters: map[string]interface{}{
				"check":     domain.ScreenRegulatory,
				"riskDelta": 15,
			},
		},

		// Fraud family: per-rule fraudDelta contributions. Amount
		// thresholds are calibrated in the home currency and skip
		// payments denominated in any other currency.
		{
			RuleID:   "FRAUD_RULE_001",
			RuleName: "Velocity Check",
			Family:   domain.FamilyFraud,
			Priority: 1,
			Active:   true,
			Version:  "1",
			Parameters: map[string]interface{}{
				"threshold":     50000,
				"homeCurrency":  "USD",
				"fraudDelta":    25,
				"windowSeconds": 0, // unset: sliding-window tracking off
				"maxCount":      0,
			},
		},
		{
			RuleID:   "FRAUD_RULE_002",
			RuleName: "Amount Anomaly",
			Family:   domain.FamilyFraud,
			Priority: 2,
			Active:   true,
			Version:  "1",
			Parameters: map[string]interface{}{
				"threshold":    75000,
				"homeCurrency": "USD",
				"fraudDelta":   30,
			},
		},
		{
			RuleID:   "FRAUD_RULE_003",
			RuleName: "Account Pattern",
			Family:   domain.FamilyFraud,
			Priority: 3,
			Active:   true,
			Version:  "1",
			Parameters: map[string]interface{}{
				"patterns":   []string{}, // unset: no suspicious patterns
				"fraudDelta": 20,
			},
		},
		{
			RuleID:   "FRAUD_RULE_004",
			RuleName: "Time Of Day",
			Family:   domain.FamilyFraud,
			Priority: 4,
			Active:   true,
			Version:  "1",
			Parameters: map[string]interface{}{
				"startHour":  6,
				"endHour":    22,
				"fraudDelta": 15,
			},
		},
		{
			RuleID:   "FRAUD_RULE_005",
			RuleName: "Behavioral Threshold",
			Family:   domain.FamilyFraud,
			Priority: 5,
			Active:   true,
			Version:  "1",
			Parameters: map[string]interface{}{
				"threshold":    100000,
				"homeCurrency": "USD",
				"fraudDelta":   35,
			},
		},

		// Risk family: per-rule riskDelta contributions. Exposure
		// thresholds apply to the face value regardless of currency.
		{
			RuleID:   "RISK_RULE_001",
			RuleName: "Credit Exposure",
			Family:   domain.FamilyRisk,
			Priority: 1,
			Active:   true,
			Version:  "1",
			Parameters: map[string]interface{}{
				"threshold": 200000,
				"riskDelta": 30,
			},
		},
		{
			RuleID:   "RISK_RULE_002",
			RuleName: "Market Currency",
			Family:   domain.FamilyRisk,
			Priority: 2,
			Active:   true,
			Version:  "1",
			Parameters: map[string]interface{}{
				"homeCurrency": "USD",
				"riskDelta":    25,
			},
		},
		{
			RuleID:   "RISK_RULE_003",
			RuleName: "Operational Threshold",
			Family:   domain.FamilyRisk,
			Priority: 3,
			Active:   true,
			Version:  "1",
			Parameters: map[string]interface{}{
				"threshold": 1000000,
				"riskDelta": 35,
			},
		},
		{
			RuleID:   "RISK_RULE_004",
			RuleName: "Liquidity Threshold",
			Family:   domain.FamilyRisk,
			Priority: 4,
			Active:   true,
			Version:  "1",
			Parameters: map[string]interface{}{
				"threshold": 500000,
				"riskDelta": 20,
			},
		},
		{
			RuleID:   "RISK_RULE_005",
			RuleName: "Counterparty Pattern",
			Family:   domain.FamilyRisk,
			Priority: 5,
			Active:   true,
			Version:  "1",
			Parameters: map[string]interface{}{
				"patterns":  []string{}, // unset: no high-risk patterns
				"riskDelta": 40,
			},
		},
	}
}
