package migration

import (
	"fmt"

	"github.com/BaSui01/durableflow/internal/durableconfig"
)

// NewMigratorFromArchiveConfig creates a migrator for cfg's SQL backend.
// cfg.Backend must be one of "postgres", "mysql" or "sqlite" — the same
// set archiveopen.Open dispatches on for SQLArchive — and cfg.DSN is
// passed straight through as the migrator's DatabaseURL, matching the
// DSN archiveopen hands to gorm.Open for the same backend.
func NewMigratorFromArchiveConfig(cfg durableconfig.ArchiveConfig) (*DefaultMigrator, error) {
	dbType, err := ParseDatabaseType(cfg.Backend)
	if err != nil {
		return nil, fmt.Errorf("invalid archive backend for migration: %w", err)
	}

	return NewMigrator(&Config{
		DatabaseType: dbType,
		DatabaseURL:  cfg.DSN,
		TableName:    "schema_migrations",
	})
}

// NewMigratorFromURL creates a new migrator from a database URL.
func NewMigratorFromURL(dbType, dbURL string) (*DefaultMigrator, error) {
	dt, err := ParseDatabaseType(dbType)
	if err != nil {
		return nil, err
	}

	return NewMigrator(&Config{
		DatabaseType: dt,
		DatabaseURL:  dbURL,
		TableName:    "schema_migrations",
	})
}
