package core

import (
	"context"
	"time"

	"github.com/dkeye/Airwave/internal/domain"
)

//go:generate mockgen -source=interfaces.go -destination=mocks/mock_interfaces.go -package=mocks

// IdentityVerifier turns a connection credential into a verified identity.
// Implementations return an error wrapping domain.ErrAuthRejected on any failure.
type IdentityVerifier interface {
	Verify(ctx context.Context, credential string) (domain.Identity, error)
}

// SessionStore is the durable record of broadcast sessions.
type SessionStore interface {
	Create(ctx context.Context, owner domain.Identity, title string, startedAt time.Time) (domain.Session, error)
	Update(ctx context.Context, id domain.SessionID, upd domain.SessionUpdate) error
	List(ctx context.Context, filter domain.SessionFilter, page domain.Page) ([]domain.Session, int, error)
	// EndActive closes every record still marked active, returning how many were touched.
	EndActive(ctx context.Context, endedAt time.Time) (int, error)
}
