package core

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"variantcore/internal/config"
	"variantcore/internal/infra/persistence/docstore"
	"variantcore/internal/infra/persistence/memory"
	"variantcore/internal/infra/persistence/postgres"
	"variantcore/internal/infra/persistence/sqlite"
	"variantcore/pkg/domain"
)

// StoreOptions maps the storage settings to document store options.
func StoreOptions(cfg config.Storage, logger logrus.FieldLogger) docstore.Options {
	return docstore.Options{
		Tiers:          domain.TierPolicy{LiveThreshold: cfg.LiveThreshold},
		ReadPreference: domain.ReadPreference(cfg.ReadPreference),
		KeepAlive:      cfg.KeepAlive,
		Logger:         logger,
	}
}

// OpenVariantStore opens the backend named by cfg.Driver:
//
//	memory:   process-local, lost on exit
//	sqlite:   cfg.SQLitePath (default variantcore.db)
//	postgres: cfg.PostgresDSN
func OpenVariantStore(ctx context.Context, cfg config.Storage, logger logrus.FieldLogger) (*docstore.Store, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	opts := StoreOptions(cfg, logger)
	switch cfg.Driver {
	case config.StorageMemory:
		return docstore.New(memory.NewBackend(), opts), nil
	case config.StorageSQLite:
		return sqlite.NewStore(ctx, cfg.SQLitePath, opts)
	case config.StoragePostgres:
		return postgres.NewStore(ctx, cfg.PostgresDSN, opts)
	default:
		return nil, domain.ConfigError{Setting: "storage.driver", Reason: fmt.Sprintf("unknown driver %q", cfg.Driver)}
	}
}
