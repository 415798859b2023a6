// Package archiveopen builds an archive.Archive from an
// ArchiveConfig, shared between cmd/durableserver and
// cmd/replaydebug so both open backends the same way.
package archiveopen

import (
	"fmt"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/BaSui01/durableflow/archive"
	"github.com/BaSui01/durableflow/internal/durableconfig"
)

// Open dispatches on cfg.Backend and returns a ready-to-use archive.
// logger may be nil, in which case the SQL backends' connection pool
// manager logs nowhere.
func Open(cfg durableconfig.ArchiveConfig, logger *zap.Logger) (archive.Archive, error) {
	switch cfg.Backend {
	case "memory", "":
		return archive.NewMemoryArchive(), nil
	case "postgres":
		db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{})
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return archive.NewSQLArchive(db, logger)
	case "mysql":
		db, err := gorm.Open(mysql.Open(cfg.DSN), &gorm.Config{})
		if err != nil {
			return nil, fmt.Errorf("open mysql: %w", err)
		}
		return archive.NewSQLArchive(db, logger)
	case "sqlite":
		db, err := gorm.Open(sqlite.Open(cfg.DSN), &gorm.Config{})
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		return archive.NewSQLArchive(db, logger)
	case "redis":
		return archive.NewRedisArchive(cfg.DSN, "", 0, "")
	case "mongo":
		client, err := mongo.Connect(options.Client().ApplyURI(cfg.DSN))
		if err != nil {
			return nil, fmt.Errorf("connect mongo: %w", err)
		}
		database := cfg.Database
		if database == "" {
			database = "durableflow"
		}
		return archive.NewMongoArchive(client, database, "invocation_archive"), nil
	default:
		return nil, fmt.Errorf("unsupported archive backend %q", cfg.Backend)
	}
}
