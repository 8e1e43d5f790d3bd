package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Airwave/internal/core"
	"github.com/dkeye/Airwave/internal/domain"
)

const (
	fieldOwner       = "broadcaster"
	fieldTitle       = "title"
	fieldStartedAt   = "started_at"
	fieldEndedAt     = "ended_at"
	fieldActive      = "is_active"
	fieldViewerCount = "viewer_count"

	maxWatchRetries = 5
)

// Redis keeps each session in a hash and indexes ids in two sorted sets,
// active by start time and ended by end time.
type Redis struct {
	rdb    *goredis.Client
	prefix string
}

var _ core.SessionStore = (*Redis)(nil)

// DialRedis connects and pings.
func DialRedis(ctx context.Context, addr, password string, db int, prefix string) (*Redis, error) {
	rdb := goredis.NewClient(&goredis.Options{Addr: addr, Password: password, DB: db})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	log.Info().Str("module", "storage.redis").Str("addr", addr).Int("db", db).Msg("redis connected")
	return NewRedis(rdb, prefix), nil
}

func NewRedis(rdb *goredis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "airwave"
	}
	return &Redis{rdb: rdb, prefix: prefix}
}

func (r *Redis) Close() error { return r.rdb.Close() }

func (r *Redis) sessionKey(id domain.SessionID) string { return r.prefix + ":session:" + string(id) }
func (r *Redis) activeKey() string                     { return r.prefix + ":sessions:active" }
func (r *Redis) endedKey() string                      { return r.prefix + ":sessions:ended" }

func (r *Redis) indexKey(filter domain.SessionFilter) string {
	if filter == domain.FilterEnded {
		return r.endedKey()
	}
	return r.activeKey()
}

func (r *Redis) Create(ctx context.Context, owner domain.Identity, title string, startedAt time.Time) (domain.Session, error) {
	s := domain.Session{
		ID:        domain.SessionID(uuid.NewString()),
		Owner:     owner,
		Title:     title,
		StartedAt: startedAt,
		Active:    true,
	}
	_, err := r.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSet(ctx, r.sessionKey(s.ID), encodeSession(s))
		pipe.ZAdd(ctx, r.activeKey(), goredis.Z{Score: score(s.StartedAt), Member: string(s.ID)})
		return nil
	})
	if err != nil {
		return domain.Session{}, fmt.Errorf("create session: %w", err)
	}
	return s, nil
}

// Update applies upd under WATCH so that the hash and both indexes change
// together.
func (r *Redis) Update(ctx context.Context, id domain.SessionID, upd domain.SessionUpdate) error {
	key := r.sessionKey(id)
	txf := func(tx *goredis.Tx) error {
		fields, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		if len(fields) == 0 {
			return domain.ErrSessionNotFound
		}
		s, err := decodeSession(id, fields)
		if err != nil {
			return err
		}
		wasActive := s.Active
		upd.Apply(&s)

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.HSet(ctx, key, encodeSession(s))
			if s.EndedAt == nil {
				pipe.HDel(ctx, key, fieldEndedAt)
			}
			if wasActive != s.Active {
				r.reindex(ctx, pipe, s)
			}
			return nil
		})
		return err
	}

	for range maxWatchRetries {
		err := r.rdb.Watch(ctx, txf, key)
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		if err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
			return fmt.Errorf("update session: %w", err)
		}
		return err
	}
	return fmt.Errorf("update session: %w", goredis.TxFailedErr)
}

func (r *Redis) reindex(ctx context.Context, pipe goredis.Pipeliner, s domain.Session) {
	if s.Active {
		pipe.ZRem(ctx, r.endedKey(), string(s.ID))
		pipe.ZAdd(ctx, r.activeKey(), goredis.Z{Score: score(s.StartedAt), Member: string(s.ID)})
		return
	}
	ended := s.StartedAt
	if s.EndedAt != nil {
		ended = *s.EndedAt
	}
	pipe.ZRem(ctx, r.activeKey(), string(s.ID))
	pipe.ZAdd(ctx, r.endedKey(), goredis.Z{Score: score(ended), Member: string(s.ID)})
}

func (r *Redis) List(ctx context.Context, filter domain.SessionFilter, page domain.Page) ([]domain.Session, int, error) {
	page = page.Normalize()
	idx := r.indexKey(filter)

	var (
		card  *goredis.IntCmd
		slice *goredis.StringSliceCmd
	)
	_, err := r.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		card = pipe.ZCard(ctx, idx)
		slice = pipe.ZRevRange(ctx, idx, int64(page.Skip), int64(page.Skip+page.Limit-1))
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("list sessions: %w", err)
	}
	total := int(card.Val())
	ids := slice.Val()
	if len(ids) == 0 {
		return []domain.Session{}, total, nil
	}

	cmds := make([]*goredis.MapStringStringCmd, len(ids))
	_, err = r.rdb.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, r.sessionKey(domain.SessionID(id)))
		}
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("load sessions: %w", err)
	}

	out := make([]domain.Session, 0, len(ids))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			// index entry without a hash
			total--
			continue
		}
		s, err := decodeSession(domain.SessionID(ids[i]), fields)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, s)
	}
	return out, total, nil
}

func (r *Redis) EndActive(ctx context.Context, endedAt time.Time) (int, error) {
	ids, err := r.rdb.ZRange(ctx, r.activeKey(), 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("scan active sessions: %w", err)
	}
	inactive := false
	n := 0
	var errs []error
	for _, id := range ids {
		sid := domain.SessionID(id)
		started, err := r.rdb.HGet(ctx, r.sessionKey(sid), fieldStartedAt).Result()
		if errors.Is(err, goredis.Nil) {
			r.rdb.ZRem(ctx, r.activeKey(), id)
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		at := endedAt
		if st, err := parseTime(started); err == nil && at.Before(st) {
			at = st
		}
		if err := r.Update(ctx, sid, domain.SessionUpdate{EndedAt: &at, Active: &inactive}); err != nil {
			errs = append(errs, err)
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

func score(t time.Time) float64 { return float64(t.UnixMilli()) }

func encodeSession(s domain.Session) map[string]any {
	m := map[string]any{
		fieldOwner:       s.Owner.String(),
		fieldTitle:       s.Title,
		fieldStartedAt:   strconv.FormatInt(s.StartedAt.UnixNano(), 10),
		fieldActive:      strconv.FormatBool(s.Active),
		fieldViewerCount: strconv.Itoa(s.ViewerCount),
	}
	if s.EndedAt != nil {
		m[fieldEndedAt] = strconv.FormatInt(s.EndedAt.UnixNano(), 10)
	}
	return m
}

func decodeSession(id domain.SessionID, f map[string]string) (domain.Session, error) {
	s := domain.Session{ID: id, Owner: domain.Identity(f[fieldOwner]), Title: f[fieldTitle]}
	var err error
	if s.StartedAt, err = parseTime(f[fieldStartedAt]); err != nil {
		return domain.Session{}, fmt.Errorf("session %s started_at: %w", id, err)
	}
	if raw, ok := f[fieldEndedAt]; ok && raw != "" {
		t, err := parseTime(raw)
		if err != nil {
			return domain.Session{}, fmt.Errorf("session %s ended_at: %w", id, err)
		}
		s.EndedAt = &t
	}
	if s.Active, err = strconv.ParseBool(f[fieldActive]); err != nil {
		return domain.Session{}, fmt.Errorf("session %s is_active: %w", id, err)
	}
	if s.ViewerCount, err = strconv.Atoi(f[fieldViewerCount]); err != nil {
		return domain.Session{}, fmt.Errorf("session %s viewer_count: %w", id, err)
	}
	return s, nil
}

func parseTime(raw string) (time.Time, error) {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(0, n).UTC(), nil
}
