package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Airwave/internal/core"
	"github.com/dkeye/Airwave/internal/domain"
)

// Teardown describes what Disconnect did for one handle.
type Teardown struct {
	Identity     domain.Identity
	Removed      bool
	Stopped      *domain.Session
	Broadcasters []domain.Identity
	StopErr      error
}

// Disconnect reconciles both tables for a closed handle in one critical
// section. A handle that was already replaced or removed is a no-op, so
// repeated calls are safe. If ending the session fails the broadcaster entry
// stays and ReapOrphans retries it later.
func (r *Registry) Disconnect(ctx context.Context, conn core.SignalConnection) Teardown {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byConn[conn]
	if !ok {
		return Teardown{}
	}
	td := Teardown{Identity: id, Removed: r.removeLocked(id)}

	ended, stopped, err := r.stopLocked(ctx, id)
	if err != nil {
		td.StopErr = err
		return td
	}
	if stopped {
		td.Stopped = &ended
		td.Broadcasters = r.listLocked()
	}
	return td
}

// RenameResult reports the effect of Rename.
type RenameResult struct {
	Renamed         bool
	WasBroadcasting bool
}

// Rename moves the connection and, if present, the broadcaster entry from
// oldID to newID in one step. No-op when oldID is not connected. The session
// record's owner follows the rename; if that write fails nothing moves.
func (r *Registry) Rename(ctx context.Context, oldID, newID domain.Identity) (RenameResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.byUser[oldID]
	if !ok || oldID == newID {
		return RenameResult{}, nil
	}
	if _, taken := r.byUser[newID]; taken {
		return RenameResult{}, domain.ErrIdentityTaken
	}
	if _, taken := r.broadcasters[newID]; taken {
		return RenameResult{}, domain.ErrIdentityTaken
	}

	res := RenameResult{Renamed: true}
	if s, ok := r.broadcasters[oldID]; ok {
		sctx, cancel := r.storeCtx(ctx)
		err := r.store.Update(sctx, s.ID, domain.SessionUpdate{Owner: &newID})
		cancel()
		if err != nil {
			return RenameResult{}, fmt.Errorf("%w: rename owner: %w", domain.ErrStorageFailure, err)
		}
		s.Owner = newID
		delete(r.broadcasters, oldID)
		r.broadcasters[newID] = s
		res.WasBroadcasting = true
	}

	delete(r.byUser, oldID)
	r.byUser[newID] = conn
	r.byConn[conn] = newID

	log.Info().Str("module", "app.registry").Str("from", oldID.String()).Str("to", newID.String()).Bool("broadcasting", res.WasBroadcasting).Msg("renamed identity")
	return res, nil
}

// ReapOrphans ends broadcaster entries whose identity has no live connection,
// which only happens after a failed stop during Disconnect.
func (r *Registry) ReapOrphans(ctx context.Context) ([]domain.Session, []domain.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		ended []domain.Session
		errs  []error
	)
	for id := range r.broadcasters {
		if _, live := r.byUser[id]; live {
			continue
		}
		s, stopped, err := r.stopLocked(ctx, id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if stopped {
			ended = append(ended, s)
		}
	}
	if len(ended) > 0 {
		log.Info().Str("module", "app.registry").Int("count", len(ended)).Msg("reaped orphaned broadcasts")
	}
	return ended, r.listLocked(), errors.Join(errs...)
}
