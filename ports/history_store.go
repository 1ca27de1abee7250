package ports

import (
	"context"

	"rcie/domain/history"
)

// HistoryStore persists analysis history per user
type HistoryStore interface {
	// Save appends an entry to the user's history
	Save(ctx context.Context, email string, draft history.Draft) error

	// List returns the user's entries, newest first
	List(ctx context.Context, email string) ([]history.Entry, error)

	// Clear irreversibly deletes every entry for the user
	Clear(ctx context.Context, email string) error
}
