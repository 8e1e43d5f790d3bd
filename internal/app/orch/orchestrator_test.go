package orch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/dkeye/Airwave/internal/adapters/storage"
	"github.com/dkeye/Airwave/internal/app"
	"github.com/dkeye/Airwave/internal/core"
	"github.com/dkeye/Airwave/internal/core/coretest"
	"github.com/dkeye/Airwave/internal/core/mocks"
	"github.com/dkeye/Airwave/internal/domain"
)

type countingObserver struct {
	handled  map[core.Kind]int
	rejected int
	dropped  int
	kicked   int
	ended    int
	orphans  int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{handled: make(map[core.Kind]int)}
}

func (c *countingObserver) MessageHandled(k core.Kind) { c.handled[k]++ }
func (c *countingObserver) MessageRejected()           { c.rejected++ }
func (c *countingObserver) FrameDropped()              { c.dropped++ }
func (c *countingObserver) PeerKicked()                { c.kicked++ }
func (c *countingObserver) BroadcastEnded(orphan bool) {
	c.ended++
	if orphan {
		c.orphans++
	}
}

type fixture struct {
	o     *Orchestrator
	store *storage.Memory
	obs   *countingObserver
	conns map[domain.Identity]*coretest.Conn
}

func newFixture(t *testing.T, peers ...domain.Identity) *fixture {
	t.Helper()
	store := storage.NewMemory()
	obs := newCountingObserver()
	f := &fixture{
		o: &Orchestrator{
			Registry: app.NewRegistry(store, app.WithClock(clockwork.NewFakeClock())),
			Policy:   app.DropPolicy{},
			Metrics:  obs,
		},
		store: store,
		obs:   obs,
		conns: make(map[domain.Identity]*coretest.Conn),
	}
	for _, p := range peers {
		f.connect(p)
	}
	return f
}

func (f *fixture) connect(id domain.Identity) *coretest.Conn {
	c := coretest.NewConn()
	f.conns[id] = c
	f.o.OnConnect(id, c)
	return c
}

func (f *fixture) send(id domain.Identity, raw string) {
	f.o.OnMessage(f.conns[id], []byte(raw))
}

func (f *fixture) reset() {
	for _, c := range f.conns {
		c.Reset()
	}
}

func TestStartBroadcast_FansOutToEveryone(t *testing.T) {
	f := newFixture(t, "alice", "bob")

	f.send("alice", `{"type":"start_broadcast","title":"Demo"}`)

	for _, id := range []domain.Identity{"alice", "bob"} {
		msgs := f.conns[id].Messages()
		require.Len(t, msgs, 2, id)
		assert.Equal(t, "broadcast_started", msgs[0]["type"])
		assert.Equal(t, "alice", msgs[0]["broadcaster"])
		assert.Equal(t, "Demo", msgs[0]["title"])
		assert.NotEmpty(t, msgs[0]["stream_id"])
		assert.Equal(t, "broadcasters_list", msgs[1]["type"])
		assert.Equal(t, []any{"alice"}, msgs[1]["broadcasters"])
	}

	active, total, err := f.store.List(context.Background(), domain.FilterActive, domain.Page{})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, domain.Identity("alice"), active[0].Owner)
	assert.Equal(t, 1, f.obs.handled[core.KindStartBroadcast])
}

func TestStartBroadcast_DuplicateIsQuiet(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	f.send("alice", `{"type":"start_broadcast","title":"Demo"}`)
	f.reset()

	f.send("alice", `{"type":"start_broadcast","title":"Again"}`)
	assert.Empty(t, f.conns["bob"].Frames())
}

func TestOffer_ReachesOnlyTarget(t *testing.T) {
	f := newFixture(t, "alice", "bob", "carol")

	f.send("bob", `{"type":"offer","target":"alice","offer":{"type":"offer","sdp":"X"}}`)

	frames := f.conns["alice"].Frames()
	require.Len(t, frames, 1)
	assert.JSONEq(t, `{"type":"offer","offer":{"type":"offer","sdp":"X"},"from":"bob"}`, string(frames[0]))
	assert.Empty(t, f.conns["bob"].Frames())
	assert.Empty(t, f.conns["carol"].Frames())
}

func TestRelay_UnknownTargetDropped(t *testing.T) {
	f := newFixture(t, "bob")
	f.send("bob", `{"type":"ice-candidate","target":"ghost","candidate":{"candidate":"c"}}`)
	assert.Empty(t, f.conns["bob"].Frames())
	assert.Zero(t, f.obs.rejected)
}

func TestAbruptDisconnect_EndsBroadcast(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	f.send("alice", `{"type":"start_broadcast","title":"Demo"}`)
	f.reset()

	f.o.OnDisconnect(f.conns["alice"])

	assert.Equal(t, []string{"broadcast_stopped", "broadcasters_list"}, f.conns["bob"].Types())
	msgs := f.conns["bob"].Messages()
	assert.Equal(t, "alice", msgs[0]["broadcaster"])
	assert.Equal(t, []any{}, msgs[1]["broadcasters"])
	assert.Empty(t, f.conns["alice"].Frames())

	ended, total, err := f.store.List(context.Background(), domain.FilterEnded, domain.Page{})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.NotNil(t, ended[0].EndedAt)

	f.o.OnDisconnect(f.conns["alice"])
	assert.Len(t, f.conns["bob"].Frames(), 2, "teardown runs once")
	assert.Equal(t, 1, f.obs.ended)
}

func TestDisconnect_NonBroadcasterIsSilent(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	f.o.OnDisconnect(f.conns["alice"])
	assert.Empty(t, f.conns["bob"].Frames())
	assert.False(t, f.o.Registry.Connected("alice"))
}

func TestStopBroadcast(t *testing.T) {
	f := newFixture(t, "alice", "bob")

	f.send("alice", `{"type":"stop_broadcast"}`)
	assert.Empty(t, f.conns["bob"].Frames(), "stop without a broadcast is a no-op")

	f.send("alice", `{"type":"start_broadcast"}`)
	f.reset()
	f.send("alice", `{"type":"stop_broadcast"}`)
	assert.Equal(t, []string{"broadcast_stopped", "broadcasters_list"}, f.conns["bob"].Types())
	assert.Equal(t, []string{"broadcast_stopped", "broadcasters_list"}, f.conns["alice"].Types())
}

func TestViewerCount(t *testing.T) {
	f := newFixture(t, "alice", "bob", "carol")

	f.send("bob", `{"type":"viewer_joined","target":"carol"}`)
	assert.Empty(t, f.conns["carol"].Frames(), "carol is not broadcasting")

	f.send("alice", `{"type":"start_broadcast","title":"Demo"}`)
	f.reset()

	f.send("bob", `{"type":"viewer_joined","target":"alice"}`)
	f.send("carol", `{"type":"viewer_joined","target":"alice"}`)
	f.send("bob", `{"type":"viewer_left","target":"alice"}`)
	f.send("bob", `{"type":"viewer_left","target":"alice"}`)
	f.send("bob", `{"type":"viewer_left","target":"alice"}`)

	var counts []float64
	for _, m := range f.conns["alice"].Messages() {
		require.Equal(t, "viewer_count_update", m["type"])
		require.Equal(t, "alice", m["broadcaster"])
		counts = append(counts, m["count"].(float64))
	}
	assert.Equal(t, []float64{1, 2, 1, 0, 0}, counts)
	assert.Empty(t, f.conns["bob"].Frames())
}

func TestGetBroadcastersAndPing(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	f.send("alice", `{"type":"start_broadcast"}`)
	f.reset()

	f.send("bob", `{"type":"get_broadcasters"}`)
	f.send("bob", `{"type":"ping"}`)

	msgs := f.conns["bob"].Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "broadcasters_list", msgs[0]["type"])
	assert.Equal(t, []any{"alice"}, msgs[0]["broadcasters"])
	assert.Equal(t, "pong", msgs[1]["type"])
	assert.Empty(t, f.conns["alice"].Frames())
}

func TestMalformedMessagesDropped(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	for _, raw := range []string{
		`not json`,
		`{"type":"dance"}`,
		`{"type":"offer","offer":{"sdp":"X"}}`,
		`{"title":"no type"}`,
	} {
		f.send("alice", raw)
	}
	assert.Empty(t, f.conns["alice"].Frames())
	assert.Empty(t, f.conns["bob"].Frames())
	assert.Equal(t, 4, f.obs.rejected)
	assert.True(t, f.o.Registry.Connected("alice"), "malformed input never ends a connection")
}

func TestReplacedHandle(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	old := f.conns["alice"]
	fresh := f.connect("alice")

	assert.True(t, old.Closed())
	assert.Empty(t, old.Frames())

	f.o.OnMessage(old, []byte(`{"type":"ping"}`))
	assert.Empty(t, fresh.Frames(), "frames from a replaced handle are ignored")

	f.o.OnDisconnect(old)
	assert.True(t, f.o.Registry.Connected("alice"))

	f.o.OnMessage(fresh, []byte(`{"type":"ping"}`))
	assert.Equal(t, []string{"pong"}, fresh.Types())
}

func TestKickPolicyClosesSlowPeer(t *testing.T) {
	f := newFixture(t, "alice")
	f.o.Policy = app.KickPolicy{}
	slow := &coretest.Conn{Capacity: 1}
	f.conns["slow"] = slow
	f.o.OnConnect("slow", slow)

	f.send("alice", `{"type":"start_broadcast"}`)

	assert.True(t, slow.Closed())
	assert.False(t, f.conns["alice"].Closed())
	assert.Equal(t, 1, f.obs.kicked)
	assert.Equal(t, 1, f.obs.dropped)
}

func TestRename(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	ctx := context.Background()

	require.NoError(t, f.o.Rename(ctx, "bob", "robert"))
	assert.Empty(t, f.conns["alice"].Frames(), "non-broadcaster rename is silent")

	f.send("alice", `{"type":"start_broadcast"}`)
	f.reset()

	require.ErrorIs(t, f.o.Rename(ctx, "alice", "robert"), domain.ErrIdentityTaken)
	require.NoError(t, f.o.Rename(ctx, "alice", "alicia"))

	msgs := f.conns["bob"].Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "username_changed", msgs[0]["type"])
	assert.Equal(t, "alice", msgs[0]["old_username"])
	assert.Equal(t, "alicia", msgs[0]["new_username"])

	f.reset()
	f.send("bob", `{"type":"get_broadcasters"}`)
	assert.Equal(t, []any{"alicia"}, f.conns["bob"].Messages()[0]["broadcasters"])

	f.o.OnDisconnect(f.conns["alice"])
	assert.Equal(t, "alicia", f.conns["bob"].Messages()[1]["broadcaster"])
}

func TestRunReaper_EndsOrphans(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockSessionStore(ctrl)
	clock := clockwork.NewFakeClock()
	obs := newCountingObserver()
	o := &Orchestrator{
		Registry: app.NewRegistry(store, app.WithClock(clock)),
		Policy:   app.DropPolicy{},
		Metrics:  obs,
		Clock:    clock,
	}

	store.EXPECT().Create(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(domain.Session{ID: "s1", Owner: "alice", StartedAt: clock.Now()}, nil)
	gomock.InOrder(
		store.EXPECT().Update(gomock.Any(), domain.SessionID("s1"), gomock.Any()).Return(errors.New("db down")),
		store.EXPECT().Update(gomock.Any(), domain.SessionID("s1"), gomock.Any()).Return(nil),
	)

	alice, bob := coretest.NewConn(), coretest.NewConn()
	o.OnConnect("alice", alice)
	o.OnConnect("bob", bob)
	o.OnMessage(alice, []byte(`{"type":"start_broadcast"}`))
	bob.Reset()

	o.OnDisconnect(alice)
	assert.Empty(t, bob.Frames(), "failed stop announces nothing")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.RunReaper(ctx, time.Minute) }()

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(time.Minute)

	require.Eventually(t, func() bool { return len(bob.Frames()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"broadcast_stopped", "broadcasters_list"}, bob.Types())

	cancel()
	assert.NoError(t, <-done)
	assert.Empty(t, o.Registry.ListBroadcasters())
}
