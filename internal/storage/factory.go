package storage

import (
	"fmt"

	"github.com/prasenjit/mockpit/internal/config"
)

// New creates the storage backend selected by cfg
func New(cfg config.StorageConfig, maxRecords int) (Storage, error) {
	switch cfg.Type {
	case config.StorageMemory, "":
		return NewMemoryStorage(maxRecords), nil
	case config.StorageFile:
		store, err := NewFileStorage(cfg.Path, maxRecords)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize file storage: %w", err)
		}
		return store, nil
	case config.StoragePostgres, config.StorageMySQL:
		store, err := NewSQLStorage(cfg.Type, cfg.DSN, maxRecords)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}
