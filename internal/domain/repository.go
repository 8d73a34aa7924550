// Package domain defines the core interfaces and types for smellreg.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Formula library
	SaveFormula(ctx context.Context, tenantID string, f *StoredFormula) error
	GetFormula(ctx context.Context, tenantID string, formulaID string) (*StoredFormula, error)
	ListFormulas(ctx context.Context, tenantID string) ([]*StoredFormula, error)
	SearchFormulas(ctx context.Context, tenantID string, query string) ([]*StoredFormula, error)
	DuplicateFormula(ctx context.Context, tenantID string, sourceID, newID, name string) (*StoredFormula, error)
	DeleteFormula(ctx context.Context, tenantID string, formulaID string) error
	UpdateFormulaStatus(ctx context.Context, tenantID string, formulaID string, status ComplianceStatus, certificate string, checkedAt time.Time) error

	// Compliance reports
	SaveReport(ctx context.Context, tenantID string, report *ComplianceReport) error
	GetReport(ctx context.Context, tenantID string, certificate string) (*ComplianceReport, error)
	GetReportByRequestID(ctx context.Context, tenantID string, requestID string) (*ComplianceReport, error)
	ListReportsByFormula(ctx context.Context, tenantID string, formulaID string) ([]*ComplianceReport, error)

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
	SQLitePath string `yaml:"sqlite_path"`

	// PostgreSQL specific
	PostgresHost     string `yaml:"postgres_host"`
	PostgresPort     int    `yaml:"postgres_port"`
	PostgresUser     string `yaml:"postgres_user"`
	PostgresPassword string `yaml:"postgres_password"`
	PostgresDB       string `yaml:"postgres_db"`
	PostgresSSLMode  string `yaml:"postgres_sslmode"`

	// Connection pool settings
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}
