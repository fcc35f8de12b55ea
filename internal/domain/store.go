// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// Page addresses one page of a finder result. Numbering starts at 0.
type Page struct {
	Number int `json:"page"`
	Size   int `json:"size"`
}

// ResultPage is one page of validation results, ordered validatedAt desc.
type ResultPage struct {
	Results    []*ValidationResult `json:"results"`
	Page       int                 `json:"page"`
	Size       int                 `json:"size"`
	TotalCount int64               `json:"totalCount"`
	TotalPages int                 `json:"totalPages"`
}

// Statistics summarizes validation outcomes for one tenant.
type Statistics struct {
	Total         int64   `json:"total"`
	Passed        int64   `json:"passed"`
	Failed        int64   `json:"failed"`
	AvgFraudScore float64 `json:"avgFraudScore"`
	AvgRiskScore  float64 `json:"avgRiskScore"`
}

// Publication states recorded on persisted results. A FAILED row is a
// tombstone the republish sweeper picks up.
const (
	PublishStatePending   = "PENDING"
	PublishStatePublished = "PUBLISHED"
	PublishStateFailed    = "FAILED"
)

// ResultStore persists sealed validation results.
// Save is idempotent on validationId, so retries are always safe.
type ResultStore interface {
	// Save stores a sealed result. A second save with the same
	// validationId is a no-op that returns the stored row unchanged.
	Save(ctx context.Context, result *ValidationResult) (*ValidationResult, error)

	// Lookups
	FindByValidationID(ctx context.Context, validationID string) (*ValidationResult, error)
	FindByPaymentID(ctx context.Context, paymentID string) ([]*ValidationResult, error)
	FindByCorrelationID(ctx context.Context, correlationID string) ([]*ValidationResult, error)

	// Paged finders, ordered validatedAt desc
	FindByTenant(ctx context.Context, tenantID string, page Page) (*ResultPage, error)
	FindByTenantAndBusinessUnit(ctx context.Context, tenantID string, businessUnitID string, page Page) (*ResultPage, error)
	FindByStatus(ctx context.Context, status string, page Page) (*ResultPage, error)
	FindByRiskLevel(ctx context.Context, riskLevel string, page Page) (*ResultPage, error)
	FindByValidatedAtBetween(ctx context.Context, from time.Time, to time.Time, page Page) (*ResultPage, error)

	// Aggregation and retention
	Statistics(ctx context.Context, tenantID string) (*Statistics, error)
	CleanupBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Outcome publication bookkeeping for the republish sweeper
	MarkPublished(ctx context.Context, validationID string) error
	MarkPublishFailed(ctx context.Context, validationID string) error
	ListPublishFailed(ctx context.Context, limit int) ([]*ValidationResult, error)

	// Tenant rule overrides backing the registry
	SaveRuleDefinition(ctx context.Context, tenantID string, def *RuleDefinition) error
	ListRuleDefinitions(ctx context.Context, tenantID string) ([]*RuleDefinition, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// StoreConfig holds configuration for store initialization.
type StoreConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
