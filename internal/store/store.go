// Package store persists users as whole entities. Every Save replaces the
// user's roster, timetable and homework in one step, so a concurrent Load
// observes either the previous or the new state and never a mix.
package store

import (
	"context"
	"errors"
	"fmt"

	"hwplanner/internal/config"
	"hwplanner/internal/model"
)

var ErrUserNotFound = errors.New("user not found")

type Store interface {
	// Load returns a private copy of the user, or ErrUserNotFound.
	Load(ctx context.Context, id int64) (*model.User, error)
	// Save replaces everything stored for u.ID.
	Save(ctx context.Context, u *model.User) error
	// UserIDs lists every known user.
	UserIDs(ctx context.Context) ([]int64, error)
	Close() error
}

// Open builds the backend selected in the configuration.
func Open(cfg config.StorageConfig) (Store, error) {
	switch cfg.Backend {
	case config.BackendFile:
		return NewFileStore(cfg.Dir)
	case config.BackendPostgres:
		return OpenSQL(cfg.DatabaseURL)
	case config.BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
