package app

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Airwave/internal/core"
	"github.com/dkeye/Airwave/internal/domain"
)

const defaultStoreTimeout = 5 * time.Second

// Registry holds the live connection table and the broadcaster table behind
// one mutex. Handlers never see the maps; every method is atomic with respect
// to both tables. Store writes happen under the lock, network sends never do.
type Registry struct {
	mu sync.Mutex

	byUser map[domain.Identity]core.SignalConnection
	byConn map[core.SignalConnection]domain.Identity

	broadcasters map[domain.Identity]*domain.Session

	store        core.SessionStore
	clock        clockwork.Clock
	storeTimeout time.Duration
}

type RegistryOption func(*Registry)

func WithClock(c clockwork.Clock) RegistryOption {
	return func(r *Registry) {
		if c != nil {
			r.clock = c
		}
	}
}

func WithStoreTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.storeTimeout = d
		}
	}
}

func NewRegistry(store core.SessionStore, opts ...RegistryOption) *Registry {
	r := &Registry{
		byUser:       make(map[domain.Identity]core.SignalConnection),
		byConn:       make(map[core.SignalConnection]domain.Identity),
		broadcasters: make(map[domain.Identity]*domain.Session),
		store:        store,
		clock:        clockwork.NewRealClock(),
		storeTimeout: defaultStoreTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Admit registers conn as the live handle for id. A previous handle for the
// same identity is unregistered and returned; it gets no message.
func (r *Registry) Admit(id domain.Identity, conn core.SignalConnection) core.SignalConnection {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.byUser[id]
	if ok {
		delete(r.byConn, prev)
	}
	r.byUser[id] = conn
	r.byConn[conn] = id
	if ok {
		log.Info().Str("module", "app.registry").Str("identity", id.String()).Msg("replaced connection")
		return prev
	}
	log.Info().Str("module", "app.registry").Str("identity", id.String()).Msg("admitted connection")
	return nil
}

// Remove unregisters whatever handle id has. No-op if absent.
func (r *Registry) Remove(id domain.Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(id)
}

func (r *Registry) removeLocked(id domain.Identity) bool {
	conn, ok := r.byUser[id]
	if !ok {
		return false
	}
	delete(r.byUser, id)
	delete(r.byConn, conn)
	log.Info().Str("module", "app.registry").Str("identity", id.String()).Msg("removed connection")
	return true
}

// IdentityOf resolves the identity a handle is currently registered under.
// Replaced or removed handles resolve to nothing.
func (r *Registry) IdentityOf(conn core.SignalConnection) (domain.Identity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byConn[conn]
	return id, ok
}

func (r *Registry) Connected(id domain.Identity) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.byUser[id]
	return ok
}

func (r *Registry) ConnectionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byUser)
}

// Send queues frames for id's handle. Absent identities yield domain.ErrUnknownTarget.
func (r *Registry) Send(id domain.Identity, frames ...core.Frame) (core.PublishResult, error) {
	r.mu.Lock()
	conn, ok := r.byUser[id]
	r.mu.Unlock()
	if !ok {
		return core.PublishResult{}, domain.ErrUnknownTarget
	}
	return deliver([]recipient{{id: id, conn: conn}}, frames), nil
}

// Broadcast queues frames, in order, for every handle except exclude's.
func (r *Registry) Broadcast(exclude domain.Identity, frames ...core.Frame) core.PublishResult {
	r.mu.Lock()
	targets := r.recipientsLocked(exclude)
	r.mu.Unlock()
	res := deliver(targets, frames)
	log.Debug().Str("module", "app.registry").Str("exclude", exclude.String()).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

type recipient struct {
	id   domain.Identity
	conn core.SignalConnection
}

func (r *Registry) recipientsLocked(exclude domain.Identity) []recipient {
	out := make([]recipient, 0, len(r.byUser))
	for id, conn := range r.byUser {
		if exclude != "" && id == exclude {
			continue
		}
		out = append(out, recipient{id: id, conn: conn})
	}
	return out
}

// deliver runs without the registry lock. A failure for one recipient skips
// its remaining frames and never affects the others.
func deliver(targets []recipient, frames []core.Frame) core.PublishResult {
	res := core.PublishResult{}
	for _, t := range targets {
		var failed error
		for _, f := range frames {
			if err := t.conn.TrySend(f); err != nil {
				failed = err
				break
			}
		}
		if failed != nil {
			res.Dropped = append(res.Dropped, core.Dropped{Identity: t.id, Conn: t.conn, Err: failed})
			continue
		}
		res.SendTo++
	}
	return res
}

func (r *Registry) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.storeTimeout)
}
