// Package domain defines the core interfaces and types for Medoracle.
package domain

import (
	"context"
	"time"
)

// AuditStore is the append-only decision ledger used by the outcome
// recorder. Entries are never updated or deleted.
type AuditStore interface {
	// AppendRecord stores rec if no record with the same ID exists.
	// It returns false when the record was already present.
	AppendRecord(ctx context.Context, tenantID string, rec *Record) (bool, error)

	// GetRecord retrieves a record by ID with tenant isolation.
	GetRecord(ctx context.Context, tenantID string, recordID string) (*Record, error)
}

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	AuditStore

	// ListRecordsByClaim returns every decision recorded for a claim, oldest first.
	ListRecordsByClaim(ctx context.Context, tenantID string, claimID string) ([]*Record, error)

	// ListRecords returns records recorded at or after since, oldest first.
	ListRecords(ctx context.Context, tenantID string, since time.Time, limit int) ([]*Record, error)

	// Rule source history
	SaveRuleSource(ctx context.Context, src *RuleSource) error
	LatestRuleSource(ctx context.Context) (*RuleSource, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `mapstructure:"driver" yaml:"driver"`

	// SQLite specific
	SQLitePath string `mapstructure:"sqlitePath" yaml:"sqlitePath"`

	// PostgreSQL specific
	PostgresHost     string `mapstructure:"postgresHost" yaml:"postgresHost"`
	PostgresPort     int    `mapstructure:"postgresPort" yaml:"postgresPort"`
	PostgresUser     string `mapstructure:"postgresUser" yaml:"postgresUser"`
	PostgresPassword string `mapstructure:"postgresPassword" yaml:"-"`
	PostgresDB       string `mapstructure:"postgresDB" yaml:"postgresDB"`
	PostgresSSLMode  string `mapstructure:"postgresSSLMode" yaml:"postgresSSLMode"`

	// Connection pool settings
	MaxOpenConns    int           `mapstructure:"maxOpenConns" yaml:"maxOpenConns"`
	MaxIdleConns    int           `mapstructure:"maxIdleConns" yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `mapstructure:"connMaxLifetime" yaml:"connMaxLifetime"`
}
