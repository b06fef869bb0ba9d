// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Transaction feature store
	SaveTransaction(ctx context.Context, tenantID string, features *TransactionFeatures, at time.Time) error
	GetTransactionsByUser(ctx context.Context, tenantID string, userID string, since time.Time) ([]*StoredTransaction, error)

	// Ensemble results
	SaveEnsembleResult(ctx context.Context, tenantID string, result *ScoringResult) error
	GetEnsembleResult(ctx context.Context, tenantID string, txID string) (*ScoringResult, error)

	// Analytics events
	SaveAnalyticsEvent(ctx context.Context, tenantID string, event *AnalyticsEvent) error

	// Model performance snapshots
	SaveModelPerformance(ctx context.Context, tenantID string, snapshots []ModelPerformance) error
	ListModelPerformance(ctx context.Context, tenantID string) ([]*ModelPerformance, error)

	// Alerts
	SaveAlert(ctx context.Context, tenantID string, alert *Alert) error
	ListAlerts(ctx context.Context, tenantID string, limit int) ([]*Alert, error)
	MarkAlertRead(ctx context.Context, tenantID string, alertID string) error
	DismissAlert(ctx context.Context, tenantID string, alertID string) error

	// Watch rule configuration
	SaveWatchRule(ctx context.Context, tenantID string, rule *WatchRule) error
	GetWatchRule(ctx context.Context, tenantID string, ruleID string) (*WatchRule, error)
	ListWatchRules(ctx context.Context, tenantID string) ([]*WatchRule, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `yaml:"driver"`

	// SQLite specific
	SQLitePath string `yaml:"sqlitePath"`

	// PostgreSQL specific
	PostgresHost     string `yaml:"postgresHost"`
	PostgresPort     int    `yaml:"postgresPort"`
	PostgresUser     string `yaml:"postgresUser"`
	PostgresPassword string `yaml:"postgresPassword"`
	PostgresDB       string `yaml:"postgresDb"`
	PostgresSSLMode  string `yaml:"postgresSslMode"`

	// Connection pool settings
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}
