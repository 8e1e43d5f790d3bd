package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Airwave/internal/core"
	"github.com/dkeye/Airwave/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS stream_sessions (
	id           UUID PRIMARY KEY,
	broadcaster  TEXT        NOT NULL,
	title        TEXT        NOT NULL,
	started_at   TIMESTAMPTZ NOT NULL,
	ended_at     TIMESTAMPTZ,
	is_active    BOOLEAN     NOT NULL DEFAULT TRUE,
	viewer_count INTEGER     NOT NULL DEFAULT 0 CHECK (viewer_count >= 0)
);
CREATE INDEX IF NOT EXISTS stream_sessions_active_started_idx ON stream_sessions (is_active, started_at DESC);
CREATE INDEX IF NOT EXISTS stream_sessions_ended_idx ON stream_sessions (ended_at DESC) WHERE NOT is_active;
`

const sessionColumns = `id::text, broadcaster, title, started_at, ended_at, is_active, viewer_count`

// Postgres keeps session records in the stream_sessions table.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ core.SessionStore = (*Postgres)(nil)

// Connect opens a pool for dsn and makes sure the schema exists.
func Connect(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	p := NewPostgres(pool)
	if err := p.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	log.Info().Str("module", "storage.postgres").Int32("max_conns", cfg.MaxConns).Msg("postgres connected")
	return p, nil
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (p *Postgres) Close() { p.pool.Close() }

func (p *Postgres) Create(ctx context.Context, owner domain.Identity, title string, startedAt time.Time) (domain.Session, error) {
	s := domain.Session{
		ID:        domain.SessionID(uuid.NewString()),
		Owner:     owner,
		Title:     title,
		StartedAt: startedAt,
		Active:    true,
	}
	_, err := p.pool.Exec(ctx,
		`INSERT INTO stream_sessions (id, broadcaster, title, started_at, is_active, viewer_count) VALUES ($1, $2, $3, $4, TRUE, 0)`,
		string(s.ID), owner.String(), title, startedAt)
	if err != nil {
		return domain.Session{}, fmt.Errorf("insert session: %w", err)
	}
	return s, nil
}

func (p *Postgres) Update(ctx context.Context, id domain.SessionID, upd domain.SessionUpdate) error {
	var (
		sets []string
		args []any
	)
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if upd.Owner != nil {
		add("broadcaster", upd.Owner.String())
	}
	if upd.EndedAt != nil {
		add("ended_at", *upd.EndedAt)
	}
	if upd.Active != nil {
		add("is_active", *upd.Active)
	}
	if upd.ViewerCount != nil {
		add("viewer_count", *upd.ViewerCount)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, string(id))
	sql := fmt.Sprintf("UPDATE stream_sessions SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args))

	tag, err := p.pool.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

func (p *Postgres) List(ctx context.Context, filter domain.SessionFilter, page domain.Page) ([]domain.Session, int, error) {
	page = page.Normalize()
	active := filter == domain.FilterActive
	order := "started_at DESC, id"
	if !active {
		order = "ended_at DESC NULLS LAST, id"
	}

	var total int
	if err := p.pool.QueryRow(ctx, `SELECT count(*) FROM stream_sessions WHERE is_active = $1`, active).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count sessions: %w", err)
	}

	rows, err := p.pool.Query(ctx,
		`SELECT `+sessionColumns+` FROM stream_sessions WHERE is_active = $1 ORDER BY `+order+` LIMIT $2 OFFSET $3`,
		active, page.Limit, page.Skip)
	if err != nil {
		return nil, 0, fmt.Errorf("list sessions: %w", err)
	}
	out, err := pgx.CollectRows(rows, scanSession)
	if err != nil {
		return nil, 0, fmt.Errorf("scan sessions: %w", err)
	}
	return out, total, nil
}

func (p *Postgres) EndActive(ctx context.Context, endedAt time.Time) (int, error) {
	tag, err := p.pool.Exec(ctx,
		`UPDATE stream_sessions SET is_active = FALSE, ended_at = GREATEST($1, started_at) WHERE is_active`, endedAt)
	if err != nil {
		return 0, fmt.Errorf("end active sessions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func scanSession(row pgx.CollectableRow) (domain.Session, error) {
	var (
		s           domain.Session
		id, owner   string
		endedAt     *time.Time
		viewerCount int32
	)
	if err := row.Scan(&id, &owner, &s.Title, &s.StartedAt, &endedAt, &s.Active, &viewerCount); err != nil {
		return domain.Session{}, err
	}
	s.ID = domain.SessionID(id)
	s.Owner = domain.Identity(owner)
	s.EndedAt = endedAt
	s.ViewerCount = int(viewerCount)
	return s, nil
}
