// Package repository declares the storage interfaces the service layer
// depends on. Implementations live in the sqlite and postgres subpackages.
package repository

import (
	"context"

	"github.com/sakif/plantdoc/internal/model"
)

// PageOptions selects a window of a user's history.
type PageOptions struct {
	Limit  int
	Offset int
}

type UserRepository interface {
	// CreateUser inserts a user, filling in ID and CreatedAt.
	// Returns apperror.ErrConflict if the email is taken.
	CreateUser(ctx context.Context, user *model.User) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
}

type HistoryRepository interface {
	// AppendHistory adds one entry to the end of the user's history.
	AppendHistory(ctx context.Context, entry *model.HistoryEntry) error
	// ListHistory returns a window of the history, oldest first, plus the
	// total number of entries the user has.
	ListHistory(ctx context.Context, userID string, opts PageOptions) ([]model.HistoryEntry, int, error)
}

// Store is everything the application needs from a database backend.
type Store interface {
	UserRepository
	HistoryRepository
	Close() error
}
