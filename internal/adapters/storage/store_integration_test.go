package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/dkeye/Airwave/internal/core"
	"github.com/dkeye/Airwave/internal/domain"
)

func startPostgres(t *testing.T) *Postgres {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()
	ctr, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("airwave"),
		postgres.WithUsername("airwave"),
		postgres.WithPassword("airwave"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = ctr.Terminate(ctx) })

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	p, err := Connect(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p
}

func startRedis(t *testing.T) *Redis {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()
	ctr, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Skipf("redis container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = ctr.Terminate(ctx) })

	endpoint, err := ctr.Endpoint(ctx, "")
	require.NoError(t, err)
	r, err := DialRedis(ctx, endpoint, "", 0, "airwave-test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

// exerciseStore runs the same lifecycle against any backend.
func exerciseStore(t *testing.T, store core.SessionStore) {
	ctx := context.Background()
	base := time.Date(2026, 7, 1, 18, 0, 0, 0, time.UTC)

	a, err := store.Create(ctx, "alice", "Demo", base)
	require.NoError(t, err)
	b, err := store.Create(ctx, "bob", "Other", base.Add(time.Minute))
	require.NoError(t, err)
	c, err := store.Create(ctx, "carol", "Third", base.Add(2*time.Minute))
	require.NoError(t, err)

	viewers := 4
	require.NoError(t, store.Update(ctx, a.ID, domain.SessionUpdate{ViewerCount: &viewers}))
	renamed := domain.Identity("bobby")
	require.NoError(t, store.Update(ctx, b.ID, domain.SessionUpdate{Owner: &renamed}))

	active, total, err := store.List(ctx, domain.FilterActive, domain.Page{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, active, 2)
	assert.Equal(t, c.ID, active[0].ID)
	assert.Equal(t, b.ID, active[1].ID)
	assert.Equal(t, renamed, active[1].Owner)

	inactive := false
	endedAt := base.Add(time.Hour)
	require.NoError(t, store.Update(ctx, a.ID, domain.SessionUpdate{EndedAt: &endedAt, Active: &inactive}))

	ended, total, err := store.List(ctx, domain.FilterEnded, domain.Page{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, ended, 1)
	assert.Equal(t, a.ID, ended[0].ID)
	assert.Equal(t, 4, ended[0].ViewerCount)
	assert.False(t, ended[0].Active)
	require.NotNil(t, ended[0].EndedAt)
	assert.True(t, endedAt.Equal(*ended[0].EndedAt))

	n, err := store.EndActive(ctx, base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, total, err = store.List(ctx, domain.FilterActive, domain.Page{})
	require.NoError(t, err)
	assert.Zero(t, total)
	_, total, err = store.List(ctx, domain.FilterEnded, domain.Page{})
	require.NoError(t, err)
	assert.Equal(t, 3, total)

	late, err := store.Create(ctx, "dave", "Late", base.Add(5*time.Hour))
	require.NoError(t, err)
	n, err = store.EndActive(ctx, base.Add(4*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	ended, _, err = store.List(ctx, domain.FilterEnded, domain.Page{Limit: 1})
	require.NoError(t, err)
	require.Len(t, ended, 1)
	assert.Equal(t, late.ID, ended[0].ID)
	require.NotNil(t, ended[0].EndedAt)
	assert.True(t, ended[0].EndedAt.Equal(ended[0].StartedAt), "ended_at clamped to started_at")

	missing := domain.SessionID("00000000-0000-0000-0000-000000000000")
	assert.ErrorIs(t, store.Update(ctx, missing, domain.SessionUpdate{ViewerCount: &viewers}), domain.ErrSessionNotFound)
}

func TestMemory_Lifecycle(t *testing.T) {
	exerciseStore(t, NewMemory())
}

func TestPostgres_Lifecycle(t *testing.T) {
	exerciseStore(t, startPostgres(t))
}

func TestRedis_Lifecycle(t *testing.T) {
	exerciseStore(t, startRedis(t))
}


func TestRedis_ListCountsOnlyLoadedSessions(t *testing.T) {
	r := startRedis(t)
	ctx := context.Background()
	base := time.Date(2026, 7, 1, 18, 0, 0, 0, time.UTC)

	kept, err := r.Create(ctx, "alice", "Kept", base)
	require.NoError(t, err)
	gone, err := r.Create(ctx, "bob", "Gone", base.Add(time.Minute))
	require.NoError(t, err)
	require.NoError(t, r.rdb.Del(ctx, r.sessionKey(gone.ID)).Err())

	got, total, err := r.List(ctx, domain.FilterActive, domain.Page{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, kept.ID, got[0].ID)
	assert.Equal(t, 1, total)
}
