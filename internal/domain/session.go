package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type SessionType string

const (
	SessionLogin SessionType = "login"
	SessionAPI   SessionType = "api"
)

type Session struct {
	Token     uuid.UUID
	OwnerID   int64
	Type      SessionType
	Name      string
	UserAgent string
	IP        string
	LastSeen  time.Time
	CreatedAt time.Time
}

type SessionRepository interface {
	Create(ctx context.Context, session Session) error
	Get(ctx context.Context, token uuid.UUID) (*Session, error)
	Touch(ctx context.Context, token uuid.UUID, at time.Time) error
	Delete(ctx context.Context, token uuid.UUID) error
	ListByOwner(ctx context.Context, ownerID int64) ([]Session, error)
	// DeleteIdle removes login sessions last seen before cutoff and returns how many went.
	DeleteIdle(ctx context.Context, cutoff time.Time) (int64, error)
}

// SessionCache sits in front of SessionRepository for the per-request lookup.
type SessionCache interface {
	Get(ctx context.Context, token uuid.UUID) (*Session, error)
	Invalidate(ctx context.Context, token uuid.UUID) error
}
