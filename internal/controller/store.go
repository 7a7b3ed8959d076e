package controller

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ChuLiYu/faction-ambush/internal/config"
	"github.com/ChuLiYu/faction-ambush/internal/snapshot"
	"github.com/ChuLiYu/faction-ambush/internal/storage/sqlite"
)

// Persistence backends accepted in persistence.backend
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// ErrUnknownBackend is returned for an unrecognised persistence.backend
var ErrUnknownBackend = errors.New("unknown persistence backend")

// NewStore opens the store selected by cfg
func NewStore(cfg config.Snapshot) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.PersistenceBackend)) {
	case "", BackendFile:
		return snapshot.NewFileStore(cfg.PersistencePath, cfg.Backups), nil
	case BackendSQLite:
		store, err := sqlite.Open(cfg.PersistencePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.PersistenceBackend)
	}
}
