package storage

import (
	"fmt"
	"log/slog"

	"github.com/eleven-am/gantry/internal/domain"
	"github.com/eleven-am/gantry/internal/ports"
)

var (
	_ ports.RunStore = (*BadgerStore)(nil)
	_ ports.RunStore = (*SQLiteStore)(nil)
	_ ports.RunStore = (*MemoryStore)(nil)
)

func Open(cfg domain.StorageConfig, logger *slog.Logger) (ports.RunStore, error) {
	switch cfg.Driver {
	case domain.StorageMemory:
		return NewMemoryStore(), nil
	case domain.StorageBadger:
		return OpenBadger(cfg.Path, logger)
	case domain.StorageSQLite:
		return OpenSQLite(cfg.Path, logger)
	default:
		return nil, fmt.Errorf("storage driver %q: %w", cfg.Driver, domain.ErrInvalidConfig)
	}
}
