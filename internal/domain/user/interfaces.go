package user

import (
	"context"
	"time"
)

// Repository provides persistence for users.
type Repository interface {
	Upsert(ctx context.Context, u *User) error
	Get(ctx context.Context, id string) (*User, error)
	List(ctx context.Context) ([]User, error)
	SetPresence(ctx context.Context, id string, online bool, lastSeen time.Time) error
}
