package domain

import (
	"context"

	"github.com/google/uuid"
)

// User is one logged-in username as recorded in the directory.
type User struct {
	ID       uuid.UUID `json:"id"`
	Username string    `json:"username"`
}

// UserDirectory tracks which usernames are currently logged in.
// Check-then-register is not atomic across processes.
type UserDirectory interface {
	Exists(ctx context.Context, username string) (bool, error)
	Register(ctx context.Context, username string) (uuid.UUID, error)
	Unregister(ctx context.Context, username string) error
	ClearAll(ctx context.Context) error
}
