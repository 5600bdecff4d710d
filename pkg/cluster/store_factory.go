package cluster

import (
	"fmt"
	"log/slog"
	"path/filepath"
)

// StoreConfig selects and parameterizes a Store backend.
type StoreConfig struct {
	Backend    string // "memory", "sqlite", "postgres"
	DataDir    string
	SQLitePath string
	Postgres   *PostgresConfig
}

// NewStore constructs the Store implementation named by cfg.Backend.
func NewStore(cfg StoreConfig, logger *slog.Logger) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		logger.Info("cluster store: using in-memory backend (non-durable)")
		return NewMemoryStore(), nil

	case "sqlite":
		path := cfg.SQLitePath
		if path == "" {
			if cfg.DataDir == "" {
				return nil, fmt.Errorf("sqlite store requires sqlite_path or data_dir")
			}
			path = filepath.Join(cfg.DataDir, "cluster.db")
		}
		logger.Info("cluster store: using SQLite backend", "path", path)
		return NewSQLiteStore(path)

	case "postgres":
		if cfg.Postgres == nil {
			return nil, fmt.Errorf("postgres store requires postgres config")
		}
		logger.Info("cluster store: using PostgreSQL backend", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
		return NewPostgresStore(*cfg.Postgres)

	default:
		return nil, fmt.Errorf("unknown cluster store backend: %q (supported: memory, sqlite, postgres)", cfg.Backend)
	}
}
