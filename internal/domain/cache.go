package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations.
// Supports two-phase caching: local LRU (Community) + Redis (Pro).
// All methods require tenantID for strict multi-tenancy isolation.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, tenantID string, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, tenantID string, key string) error

	// GetRecord retrieves a cached audit record.
	GetRecord(ctx context.Context, tenantID string, recordID string) (*Record, error)

	// SetRecord caches an audit record. Records are immutable so any TTL is safe.
	SetRecord(ctx context.Context, tenantID string, rec *Record, ttl time.Duration) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string `mapstructure:"type" yaml:"type"`

	// Local LRU cache settings (Community tier)
	LocalMaxSize int           `mapstructure:"localMaxSize" yaml:"localMaxSize"`
	LocalTTL     time.Duration `mapstructure:"localTTL" yaml:"localTTL"`

	// RecordTTL is how long records stay cached after a read or write.
	RecordTTL time.Duration `mapstructure:"recordTTL" yaml:"recordTTL"`

	// Redis settings (Pro tier)
	RedisAddr     string `mapstructure:"redisAddr" yaml:"redisAddr"`
	RedisPassword string `mapstructure:"redisPassword" yaml:"-"`
	RedisDB       int    `mapstructure:"redisDB" yaml:"redisDB"`

	// Two-phase settings
	EnableTwoPhase bool `mapstructure:"enableTwoPhase" yaml:"enableTwoPhase"` // If true, check local first, then Redis
}
