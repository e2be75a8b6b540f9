// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/medoracle/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (*SQLRepository, error) {
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

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// AppendRecord inserts rec unless a record with the same id already exists
// for the tenant. It reports whether a row was written.
func (r *SQLRepository) AppendRecord(ctx context.Context, tenantID string, rec *domain.Record) (bool, error) {
	if tenantID == "" {
		return false, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if rec == nil || rec.ID == "" {
		return false, fmt.Errorf("%w: record id is required", ErrInvalidInput)
	}

	decision, err := json.Marshal(rec.Decision)
	if err != nil {
		return false, fmt.Errorf("failed to encode decision: %w", err)
	}
	claim, err := json.Marshal(rec.Claim)
	if err != nil {
		return false, fmt.Errorf("failed to encode claim: %w", err)
	}
	verdict, err := json.Marshal(rec.Verdict)
	if err != nil {
		return false, fmt.Errorf("failed to encode verdict: %w", err)
	}

	pending := 0
	if rec.Decision.Pending {
		pending = 1
	}

	query := `
		INSERT INTO decision_records (
			id, tenant_id, claim_id, status, reimbursement_amount, currency,
			pending, supersedes, catalog_version, content_hash,
			decided_at, recorded_at, decision, claim, verdict
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, id) DO NOTHING
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		rec.ID, tenantID, rec.Decision.ClaimID, string(rec.Decision.Status),
		rec.Decision.ReimbursementAmount.String(), rec.Decision.Currency,
		pending, nullString(rec.Decision.Supersedes), rec.Verdict.CatalogVersion, rec.ContentHash,
		rec.Decision.Timestamp.UnixNano(), rec.RecordedAt.UnixNano(),
		string(decision), string(claim), string(verdict),
	)
	if err != nil {
		return false, err
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

const recordColumns = `id, tenant_id, content_hash, recorded_at, decision, claim, verdict`

// GetRecord retrieves a record by ID with tenant isolation.
func (r *SQLRepository) GetRecord(ctx context.Context, tenantID string, recordID string) (*domain.Record, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `SELECT ` + recordColumns + ` FROM decision_records WHERE tenant_id = ? AND id = ?`

	rec, err := scanRecord(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, recordID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ListRecordsByClaim returns every decision recorded for a claim, oldest first.
func (r *SQLRepository) ListRecordsByClaim(ctx context.Context, tenantID string, claimID string) ([]*domain.Record, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT ` + recordColumns + `
		FROM decision_records
		WHERE tenant_id = ? AND claim_id = ?
		ORDER BY decided_at ASC, recorded_at ASC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, claimID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectRecords(rows)
}

// ListRecords returns records recorded at or after since, oldest first.
// A non-positive limit returns every matching record.
func (r *SQLRepository) ListRecords(ctx context.Context, tenantID string, since time.Time, limit int) ([]*domain.Record, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT ` + recordColumns + `
		FROM decision_records
		WHERE tenant_id = ? AND recorded_at >= ?
		ORDER BY recorded_at ASC
	`
	var sinceNs int64
	if !since.IsZero() {
		sinceNs = since.UnixNano()
	}
	args := []any{tenantID, sinceNs}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectRecords(rows)
}

// SaveRuleSource stores a rule document revision. Saving an existing
// version marks it as the latest again; the document is never rewritten.
func (r *SQLRepository) SaveRuleSource(ctx context.Context, src *domain.RuleSource) error {
	if src == nil || src.Version == "" || len(src.Document) == 0 {
		return fmt.Errorf("%w: rule source version and document are required", ErrInvalidInput)
	}

	createdAt := src.CreatedAt
	if createdAt == 0 {
		createdAt = time.Now().UTC().UnixNano()
	}

	query := `
		INSERT INTO rule_sources (version, document, created_by, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(version) DO UPDATE SET
			created_by = excluded.created_by,
			created_at = excluded.created_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		src.Version, string(src.Document), nullString(src.CreatedBy), createdAt,
	)
	return err
}

// LatestRuleSource returns the most recently saved rule document.
func (r *SQLRepository) LatestRuleSource(ctx context.Context) (*domain.RuleSource, error) {
	query := `
		SELECT version, document, created_by, created_at
		FROM rule_sources
		ORDER BY created_at DESC
		LIMIT 1
	`

	var src domain.RuleSource
	var document string
	var createdBy sql.NullString

	err := r.db.QueryRowContext(ctx, query).Scan(&src.Version, &document, &createdBy, &src.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	src.Document = []byte(document)
	src.CreatedBy = createdBy.String
	return &src, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*domain.Record, error) {
	var rec domain.Record
	var recordedAt int64
	var decision, claim, verdict string

	if err := row.Scan(&rec.ID, &rec.TenantID, &rec.ContentHash, &recordedAt, &decision, &claim, &verdict); err != nil {
		return nil, err
	}

	rec.RecordedAt = time.Unix(0, recordedAt).UTC()
	if err := json.Unmarshal([]byte(decision), &rec.Decision); err != nil {
		return nil, fmt.Errorf("failed to parse decision for record %s: %w", rec.ID, err)
	}
	if err := json.Unmarshal([]byte(claim), &rec.Claim); err != nil {
		return nil, fmt.Errorf("failed to parse claim for record %s: %w", rec.ID, err)
	}
	if err := json.Unmarshal([]byte(verdict), &rec.Verdict); err != nil {
		return nil, fmt.Errorf("failed to parse verdict for record %s: %w", rec.ID, err)
	}

	return &rec, nil
}

func collectRecords(rows *sql.Rows) ([]*domain.Record, error) {
	var records []*domain.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var b strings.Builder
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
		} else {
			b.WriteByte(query[i])
		}
	}
	return b.String()
}
