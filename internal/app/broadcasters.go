package app

import (
	"context"
	"fmt"
	"slices"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Airwave/internal/domain"
)

// StartBroadcast creates a session record for id and marks it broadcasting.
// Duplicate starts are rejected with domain.ErrAlreadyBroadcasting so that a
// second record is never created while one is live. The returned list is the
// broadcaster snapshot taken right after the insert.
func (r *Registry) StartBroadcast(ctx context.Context, id domain.Identity, title string) (domain.Session, []domain.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byUser[id]; !ok {
		return domain.Session{}, nil, domain.ErrNotConnected
	}
	if _, ok := r.broadcasters[id]; ok {
		return domain.Session{}, nil, domain.ErrAlreadyBroadcasting
	}

	ctx, cancel := r.storeCtx(ctx)
	defer cancel()
	s, err := r.store.Create(ctx, id, domain.NormalizeTitle(title), r.clock.Now().UTC())
	if err != nil {
		return domain.Session{}, nil, fmt.Errorf("%w: create session: %w", domain.ErrStorageFailure, err)
	}
	s.Active = true
	mirror := s
	r.broadcasters[id] = &mirror

	log.Info().Str("module", "app.registry").Str("identity", id.String()).Str("session", string(s.ID)).Msg("broadcast started")
	return s, r.listLocked(), nil
}

// StopBroadcast ends id's session. stopped is false when id was not
// broadcasting. On storage failure the entry is left in place.
func (r *Registry) StopBroadcast(ctx context.Context, id domain.Identity) (ended domain.Session, list []domain.Identity, stopped bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ended, stopped, err = r.stopLocked(ctx, id)
	if err != nil || !stopped {
		return ended, nil, stopped, err
	}
	return ended, r.listLocked(), true, nil
}

func (r *Registry) stopLocked(ctx context.Context, id domain.Identity) (domain.Session, bool, error) {
	s, ok := r.broadcasters[id]
	if !ok {
		return domain.Session{}, false, nil
	}
	now := r.clock.Now().UTC()
	if now.Before(s.StartedAt) {
		now = s.StartedAt
	}
	inactive := false
	upd := domain.SessionUpdate{EndedAt: &now, Active: &inactive}

	ctx, cancel := r.storeCtx(ctx)
	defer cancel()
	if err := r.store.Update(ctx, s.ID, upd); err != nil {
		log.Error().Err(err).Str("module", "app.registry").Str("identity", id.String()).Str("session", string(s.ID)).Msg("stop broadcast not persisted")
		return domain.Session{}, false, fmt.Errorf("%w: end session: %w", domain.ErrStorageFailure, err)
	}
	ended := *s
	upd.Apply(&ended)
	delete(r.broadcasters, id)

	log.Info().Str("module", "app.registry").Str("identity", id.String()).Str("session", string(s.ID)).Msg("broadcast stopped")
	return ended, true, nil
}

// ListBroadcasters returns a sorted point-in-time copy.
func (r *Registry) ListBroadcasters() []domain.Identity {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listLocked()
}

func (r *Registry) BroadcasterCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.broadcasters)
}

func (r *Registry) listLocked() []domain.Identity {
	out := make([]domain.Identity, 0, len(r.broadcasters))
	for id := range r.broadcasters {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Broadcasting returns a copy of id's live session, if any.
func (r *Registry) Broadcasting(id domain.Identity) (domain.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.broadcasters[id]
	if !ok {
		return domain.Session{}, false
	}
	return *s, true
}

// AdjustViewerCount moves id's viewer count by delta, clamped at zero, and
// persists it. ok is false when id is not broadcasting.
func (r *Registry) AdjustViewerCount(ctx context.Context, id domain.Identity, delta int) (count int, ok bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.broadcasters[id]
	if !ok {
		return 0, false, nil
	}
	next := max(s.ViewerCount+delta, 0)
	if next == s.ViewerCount {
		return next, true, nil
	}

	ctx, cancel := r.storeCtx(ctx)
	defer cancel()
	if err := r.store.Update(ctx, s.ID, domain.SessionUpdate{ViewerCount: &next}); err != nil {
		return s.ViewerCount, true, fmt.Errorf("%w: viewer count: %w", domain.ErrStorageFailure, err)
	}
	s.ViewerCount = next
	log.Debug().Str("module", "app.registry").Str("identity", id.String()).Int("viewers", next).Msg("viewer count updated")
	return next, true, nil
}
