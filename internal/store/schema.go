package store

// Schema definitions for the Kestrel result store.
// Compatible with both SQLite and PostgreSQL.

const schemaValidationResults = `
CREATE TABLE IF NOT EXISTS validation_results (
    validation_id TEXT PRIMARY KEY,
    payment_id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    business_unit_id TEXT,
    correlation_id TEXT,
    status TEXT NOT NULL,
    risk_level TEXT NOT NULL,
    fraud_score INTEGER NOT NULL DEFAULT 0,
    risk_score INTEGER NOT NULL DEFAULT 0,
    applied_rules TEXT,
    failed_rules TEXT,
    validated_at TIMESTAMP NOT NULL,
    reason TEXT,
    created_by TEXT NOT NULL,
    metadata TEXT,
    publish_state TEXT NOT NULL DEFAULT 'PENDING',
    publish_attempts INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_results_payment ON validation_results(payment_id);
CREATE INDEX IF NOT EXISTS idx_results_tenant ON validation_results(tenant_id, validated_at);
CREATE INDEX IF NOT EXISTS idx_results_tenant_bu ON validation_results(tenant_id, business_unit_id, validated_at);
CREATE INDEX IF NOT EXISTS idx_results_correlation ON validation_results(correlation_id);
CREATE INDEX IF NOT EXISTS idx_results_status ON validation_results(status, validated_at);
CREATE INDEX IF NOT EXISTS idx_results_risk_level ON validation_results(risk_level, validated_at);
CREATE INDEX IF NOT EXISTS idx_results_validated_at ON validation_results(validated_at);
CREATE INDEX IF NOT EXISTS idx_results_publish_state ON validation_results(publish_state);
`

const schemaRuleDefinitions = `
CREATE TABLE IF NOT EXISTS rule_definitions (
    rule_id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    rule_name TEXT NOT NULL,
    family TEXT NOT NULL,
    expression TEXT,
    priority INTEGER NOT NULL DEFAULT 0,
    active INTEGER NOT NULL DEFAULT 1,
    version TEXT NOT NULL DEFAULT '1',
    parameters TEXT,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (rule_id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_rule_definitions_tenant ON rule_definitions(tenant_id);
CREATE INDEX IF NOT EXISTS idx_rule_definitions_family ON rule_definitions(tenant_id, family);
`

// AllSchemas returns all schema definitions in creation order.
func AllSchemas() []string {
	return []string{
		schemaValidationResults,
		schemaRuleDefinitions,
	}
}
