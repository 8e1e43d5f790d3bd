// Package storage holds the SessionStore backends: in-process memory,
// PostgreSQL via pgx and Redis via go-redis.
package storage

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dkeye/Airwave/internal/core"
	"github.com/dkeye/Airwave/internal/domain"
)

var _ core.SessionStore = (*Memory)(nil)

// Memory is a threadsafe in-process SessionStore. Records live until the
// process exits.
type Memory struct {
	mu       sync.RWMutex
	sessions map[domain.SessionID]*domain.Session
}

func NewMemory() *Memory {
	return &Memory{sessions: make(map[domain.SessionID]*domain.Session)}
}

func (m *Memory) Create(_ context.Context, owner domain.Identity, title string, startedAt time.Time) (domain.Session, error) {
	s := domain.Session{
		ID:        domain.SessionID(uuid.NewString()),
		Owner:     owner,
		Title:     title,
		StartedAt: startedAt,
		Active:    true,
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := s
	m.sessions[s.ID] = &stored
	return s, nil
}

func (m *Memory) Update(_ context.Context, id domain.SessionID, upd domain.SessionUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return domain.ErrSessionNotFound
	}
	upd.Apply(s)
	return nil
}

func (m *Memory) List(_ context.Context, filter domain.SessionFilter, page domain.Page) ([]domain.Session, int, error) {
	page = page.Normalize()
	m.mu.RLock()
	matched := make([]domain.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if s.Active == (filter == domain.FilterActive) {
			matched = append(matched, copySession(s))
		}
	}
	m.mu.RUnlock()

	slices.SortFunc(matched, func(a, b domain.Session) int {
		if c := sortKey(b, filter).Compare(sortKey(a, filter)); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	total := len(matched)
	if page.Skip >= total {
		return []domain.Session{}, total, nil
	}
	end := min(page.Skip+page.Limit, total)
	return matched[page.Skip:end], total, nil
}

func (m *Memory) EndActive(_ context.Context, endedAt time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sessions {
		if !s.Active {
			continue
		}
		t := endedAt
		if t.Before(s.StartedAt) {
			t = s.StartedAt
		}
		s.EndedAt = &t
		s.Active = false
		n++
	}
	return n, nil
}

// Get returns a copy of one record.
func (m *Memory) Get(_ context.Context, id domain.SessionID) (domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return copySession(s), nil
}

// sortKey orders active sessions by start and ended ones by end, newest first.
func sortKey(s domain.Session, filter domain.SessionFilter) time.Time {
	if filter == domain.FilterEnded && s.EndedAt != nil {
		return *s.EndedAt
	}
	return s.StartedAt
}

func copySession(s *domain.Session) domain.Session {
	out := *s
	if s.EndedAt != nil {
		t := *s.EndedAt
		out.EndedAt = &t
	}
	return out
}
