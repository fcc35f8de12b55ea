// Package store provides persistence for sealed validation results
// and tenant rule definitions.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// Page bounds applied to every paged finder.
const (
	defaultPageSize = 20
	maxPageSize     = 200
)

const defaultPublishFailedLimit = 100

// selectResults is the shared column list for result queries. Every
// reader goes through scanResult, so the order here and there must match.
const selectResults = `
	SELECT validation_id, payment_id, tenant_id, business_unit_id,
	       correlation_id, status, risk_level, fraud_score, risk_score,
	       applied_rules, failed_rules, validated_at, reason, created_by,
	       metadata
	FROM validation_results
`

// SQLStore implements domain.ResultStore using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLStore struct {
	db     *sql.DB
	driver string
}

// New creates a result store based on configuration.
func New(cfg domain.StoreConfig) (domain.ResultStore, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	store := &SQLStore{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

func (s *SQLStore) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := s.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// Save stores a sealed validation result. Saves are idempotent on
// validationId: a conflicting insert is a no-op and the row that won the
// first write is read back, so retries always observe the stored result.
func (s *SQLStore) Save(ctx context.Context, result *domain.ValidationResult) (*domain.ValidationResult, error) {
	if result == nil {
		return nil, fmt.Errorf("%w: result is required", ErrInvalidInput)
	}
	if result.ValidationID == "" {
		return nil, fmt.Errorf("%w: validationId is required", ErrInvalidInput)
	}
	if result.TenantContext.TenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	appliedRules, _ := json.Marshal(result.AppliedRules)
	failedRules, _ := json.Marshal(result.FailedRules)
	metadata, _ := json.Marshal(result.Metadata)

	query := `
		INSERT INTO validation_results (
			validation_id, payment_id, tenant_id, business_unit_id,
			correlation_id, status, risk_level, fraud_score, risk_score,
			applied_rules, failed_rules, validated_at, reason, created_by,
			metadata, publish_state, publish_attempts
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT (validation_id) DO NOTHING
	`

	_, err := s.db.ExecContext(ctx, s.rebind(query),
		result.ValidationID, result.PaymentID,
		result.TenantContext.TenantID, result.TenantContext.BusinessUnitID,
		result.CorrelationID, result.Status, result.RiskLevel,
		result.FraudScore, result.RiskScore,
		string(appliedRules), string(failedRules),
		result.ValidatedAt, result.Reason, result.CreatedBy,
		string(metadata), domain.PublishStatePending,
	)
	if err != nil {
		return nil, err
	}

	return s.FindByValidationID(ctx, result.ValidationID)
}

// FindByValidationID retrieves a single result by its validation ID.
func (s *SQLStore) FindByValidationID(ctx context.Context, validationID string) (*domain.ValidationResult, error) {
	if validationID == "" {
		return nil, fmt.Errorf("%w: validationID is required", ErrInvalidInput)
	}

	query := selectResults + `WHERE validation_id = ?`
	return scanResult(s.db.QueryRowContext(ctx, s.rebind(query), validationID))
}

// FindByPaymentID retrieves all results for a payment, newest first.
func (s *SQLStore) FindByPaymentID(ctx context.Context, paymentID string) ([]*domain.ValidationResult, error) {
	if paymentID == "" {
		return nil, fmt.Errorf("%w: paymentID is required", ErrInvalidInput)
	}

	query := selectResults + `WHERE payment_id = ? ORDER BY validated_at DESC`
	rows, err := s.db.QueryContext(ctx, s.rebind(query), paymentID)
	if err != nil {
		return nil, err
	}
	return collectResults(rows)
}

// FindByCorrelationID retrieves all results sharing a correlation ID,
// newest first.
func (s *SQLStore) FindByCorrelationID(ctx context.Context, correlationID string) ([]*domain.ValidationResult, error) {
	if correlationID == "" {
		return nil, fmt.Errorf("%w: correlationID is required", ErrInvalidInput)
	}

	query := selectResults + `WHERE correlation_id = ? ORDER BY validated_at DESC`
	rows, err := s.db.QueryContext(ctx, s.rebind(query), correlationID)
	if err != nil {
		return nil, err
	}
	return collectResults(rows)
}

// FindByTenant retrieves one page of a tenant's results.
func (s *SQLStore) FindByTenant(ctx context.Context, tenantID string, page domain.Page) (*domain.ResultPage, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	return s.findPage(ctx, `tenant_id = ?`, []any{tenantID}, page)
}

// FindByTenantAndBusinessUnit retrieves one page of results scoped to a
// tenant's business unit.
func (s *SQLStore) FindByTenantAndBusinessUnit(ctx context.Context, tenantID string, businessUnitID string, page domain.Page) (*domain.ResultPage, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if businessUnitID == "" {
		return nil, fmt.Errorf("%w: businessUnitID is required", ErrInvalidInput)
	}
	return s.findPage(ctx, `tenant_id = ? AND business_unit_id = ?`, []any{tenantID, businessUnitID}, page)
}

// FindByStatus retrieves one page of results with the given status.
func (s *SQLStore) FindByStatus(ctx context.Context, status string, page domain.Page) (*domain.ResultPage, error) {
	if status == "" {
		return nil, fmt.Errorf("%w: status is required", ErrInvalidInput)
	}
	return s.findPage(ctx, `status = ?`, []any{status}, page)
}

// FindByRiskLevel retrieves one page of results with the given risk level.
func (s *SQLStore) FindByRiskLevel(ctx context.Context, riskLevel string, page domain.Page) (*domain.ResultPage, error) {
	if riskLevel == "" {
		return nil, fmt.Errorf("%w: riskLevel is required", ErrInvalidInput)
	}
	return s.findPage(ctx, `risk_level = ?`, []any{riskLevel}, page)
}

// FindByValidatedAtBetween retrieves one page of results validated within
// the inclusive [from, to] window.
func (s *SQLStore) FindByValidatedAtBetween(ctx context.Context, from time.Time, to time.Time, page domain.Page) (*domain.ResultPage, error) {
	return s.findPage(ctx, `validated_at >= ? AND validated_at <= ?`, []any{from, to}, page)
}

// Statistics summarizes validation outcomes for one tenant. Averages are
// zero when the tenant has no results.
func (s *SQLStore) Statistics(ctx context.Context, tenantID string) (*domain.Statistics, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
		       COALESCE(AVG(fraud_score), 0),
		       COALESCE(AVG(risk_score), 0)
		FROM validation_results
		WHERE tenant_id = ?
	`

	var stats domain.Statistics
	err := s.db.QueryRowContext(ctx, s.rebind(query),
		domain.StatusPassed, domain.StatusFailed, tenantID,
	).Scan(&stats.Total, &stats.Passed, &stats.Failed, &stats.AvgFraudScore, &stats.AvgRiskScore)
	if err != nil {
		return nil, err
	}

	return &stats, nil
}

// CleanupBefore deletes results validated before the cutoff and returns
// the number of rows removed.
func (s *SQLStore) CleanupBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM validation_results WHERE validated_at < ?`

	res, err := s.db.ExecContext(ctx, s.rebind(query), cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// MarkPublished records a successful outcome publication.
func (s *SQLStore) MarkPublished(ctx context.Context, validationID string) error {
	return s.setPublishState(ctx, validationID, domain.PublishStatePublished)
}

// MarkPublishFailed records a failed outcome publication. The row becomes
// a tombstone the republish sweeper picks up.
func (s *SQLStore) MarkPublishFailed(ctx context.Context, validationID string) error {
	return s.setPublishState(ctx, validationID, domain.PublishStateFailed)
}

func (s *SQLStore) setPublishState(ctx context.Context, validationID string, state string) error {
	if validationID == "" {
		return fmt.Errorf("%w: validationID is required", ErrInvalidInput)
	}

	query := `
		UPDATE validation_results
		SET publish_state = ?, publish_attempts = publish_attempts + 1
		WHERE validation_id = ?
	`

	res, err := s.db.ExecContext(ctx, s.rebind(query), state, validationID)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListPublishFailed returns up to limit results whose outcome event never
// made it onto the bus, oldest first so the sweeper drains in order.
func (s *SQLStore) ListPublishFailed(ctx context.Context, limit int) ([]*domain.ValidationResult, error) {
	if limit <= 0 {
		limit = defaultPublishFailedLimit
	}

	query := selectResults + `WHERE publish_state = ? ORDER BY validated_at ASC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, s.rebind(query), domain.PublishStateFailed, limit)
	if err != nil {
		return nil, err
	}
	return collectResults(rows)
}

// SaveRuleDefinition upserts a tenant rule definition.
func (s *SQLStore) SaveRuleDefinition(ctx context.Context, tenantID string, def *domain.RuleDefinition) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if def == nil || def.RuleID == "" {
		return fmt.Errorf("%w: ruleId is required", ErrInvalidInput)
	}

	parameters, _ := json.Marshal(def.Parameters)

	active := 0
	if def.Active {
		active = 1
	}

	version := def.Version
	if version == "" {
		version = "1"
	}

	query := `
		INSERT INTO rule_definitions (
			rule_id, tenant_id, rule_name, family, expression,
			priority, active, version, parameters, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (rule_id, tenant_id) DO UPDATE SET
			rule_name = excluded.rule_name,
			family = excluded.family,
			expression = excluded.expression,
			priority = excluded.priority,
			active = excluded.active,
			version = excluded.version,
			parameters = excluded.parameters,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, s.rebind(query),
		def.RuleID, tenantID, def.RuleName, string(def.Family),
		def.Expression, def.Priority, active, version,
		string(parameters), time.Now().UTC(),
	)
	return err
}

// ListRuleDefinitions returns all rule definitions stored for a tenant,
// including inactive ones. The registry filters on activation.
func (s *SQLStore) ListRuleDefinitions(ctx context.Context, tenantID string) ([]*domain.RuleDefinition, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT rule_id, tenant_id, rule_name, family, expression,
		       priority, active, version, parameters
		FROM rule_definitions
		WHERE tenant_id = ?
		ORDER BY family, priority, rule_id
	`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var defs []*domain.RuleDefinition
	for rows.Next() {
		var def domain.RuleDefinition
		var family string
		var active int
		var parameters string

		if err := rows.Scan(
			&def.RuleID, &def.TenantID, &def.RuleName, &family,
			&def.Expression, &def.Priority, &active, &def.Version,
			&parameters,
		); err != nil {
			return nil, err
		}

		def.Family = domain.RuleFamily(family)
		def.Active = active == 1
		if parameters != "" {
			json.Unmarshal([]byte(parameters), &def.Parameters)
		}

		defs = append(defs, &def)
	}

	return defs, rows.Err()
}

// Ping checks database connectivity.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// findPage runs a paged finder over validation_results with the given
// WHERE clause, ordered validated_at desc.
func (s *SQLStore) findPage(ctx context.Context, where string, args []any, page domain.Page) (*domain.ResultPage, error) {
	number, size := normalizePage(page)

	var total int64
	countQuery := `SELECT COUNT(*) FROM validation_results WHERE ` + where
	if err := s.db.QueryRowContext(ctx, s.rebind(countQuery), args...).Scan(&total); err != nil {
		return nil, err
	}

	query := selectResults + `WHERE ` + where + ` ORDER BY validated_at DESC LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, s.rebind(query), append(args, size, number*size)...)
	if err != nil {
		return nil, err
	}

	results, err := collectResults(rows)
	if err != nil {
		return nil, err
	}

	totalPages := 0
	if total > 0 {
		totalPages = int((total + int64(size) - 1) / int64(size))
	}

	return &domain.ResultPage{
		Results:    results,
		Page:       number,
		Size:       size,
		TotalCount: total,
		TotalPages: totalPages,
	}, nil
}

func normalizePage(page domain.Page) (number int, size int) {
	number = page.Number
	if number < 0 {
		number = 0
	}
	size = page.Size
	if size <= 0 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	return number, size
}

// scanTarget matches both *sql.Row and *sql.Rows.
type scanTarget interface {
	Scan(dest ...any) error
}

func scanResult(row scanTarget) (*domain.ValidationResult, error) {
	var res domain.ValidationResult
	var appliedRules, failedRules, metadata string

	err := row.Scan(
		&res.ValidationID, &res.PaymentID,
		&res.TenantContext.TenantID, &res.TenantContext.BusinessUnitID,
		&res.CorrelationID, &res.Status, &res.RiskLevel,
		&res.FraudScore, &res.RiskScore,
		&appliedRules, &failedRules,
		&res.ValidatedAt, &res.Reason, &res.CreatedBy,
		&metadata,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if appliedRules != "" {
		json.Unmarshal([]byte(appliedRules), &res.AppliedRules)
	}
	if failedRules != "" {
		json.Unmarshal([]byte(failedRules), &res.FailedRules)
	}
	if metadata != "" {
		json.Unmarshal([]byte(metadata), &res.Metadata)
	}

	return &res, nil
}

func collectResults(rows *sql.Rows) ([]*domain.ValidationResult, error) {
	defer rows.Close()

	var results []*domain.ValidationResult
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}

	return results, rows.Err()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
