package orch

import (
	"sync"
	"testing"

	"github.com/dkeye/meshvoice/internal/app"
	"github.com/dkeye/meshvoice/internal/core"
	"github.com/dkeye/meshvoice/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu     sync.Mutex
	frames []core.Frame
	full   bool
	closed bool
}

func (c *fakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return core.ErrClosed
	}
	if c.full {
		return core.ErrBackpressure
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *fakeConn) Frames() []core.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]core.Frame(nil), c.frames...)
}

type harness struct {
	o       *Orchestrator
	conns   map[core.SessionID]*fakeConn
	cancels map[core.SessionID]int
}

func newHarness(policy app.Policy) *harness {
	return &harness{
		o: &Orchestrator{
			Registry: app.NewRegistry(),
			Channels: app.NewChannelManager(domain.Channel{ID: "a"}, domain.Channel{ID: "b"}),
			Policy:   policy,
		},
		conns:   make(map[core.SessionID]*fakeConn),
		cancels: make(map[core.SessionID]int),
	}
}

func (h *harness) connect(sid core.SessionID) core.MemberSession {
	conn := &fakeConn{}
	h.conns[sid] = conn
	p := h.o.Registry.GetOrCreateParticipant(sid)
	sess := core.NewMemberSession(p, conn)
	h.o.Registry.BindSignal(sid, sess, func() { h.cancels[sid]++ })
	return sess
}

func (h *harness) join(t *testing.T, sid core.SessionID, ch domain.ChannelID) {
	t.Helper()
	_, _, err := h.o.Join(sid, ch)
	require.NoError(t, err)
}

func pids(ps []domain.Participant) []domain.ParticipantID {
	out := make([]domain.ParticipantID, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.ID)
	}
	return out
}

func TestJoinReturnsRosterAndLeavesPrevious(t *testing.T) {
	h := newHarness(app.SimplePolicy{})
	h.connect("p")
	h.connect("q")

	members, from, err := h.o.Join("p", "a")
	require.NoError(t, err)
	assert.Empty(t, from)
	assert.Equal(t, []domain.ParticipantID{"p"}, pids(members))

	members, _, err = h.o.Join("q", "a")
	require.NoError(t, err)
	assert.Equal(t, []domain.ParticipantID{"p", "q"}, pids(members))

	members, from, err = h.o.Join("p", "b")
	require.NoError(t, err)
	assert.Equal(t, domain.ChannelID("a"), from)
	assert.Equal(t, []domain.ParticipantID{"p"}, pids(members))

	a, _ := h.o.Channels.Get("a")
	assert.Equal(t, 1, a.MemberCount())
}

func TestJoinIsIdempotent(t *testing.T) {
	h := newHarness(app.SimplePolicy{})
	h.connect("p")
	h.join(t, "p", "a")

	members, from, err := h.o.Join("p", "a")
	require.NoError(t, err)
	assert.Empty(t, from)
	assert.Equal(t, []domain.ParticipantID{"p"}, pids(members))
}

func TestJoinErrors(t *testing.T) {
	h := newHarness(app.SimplePolicy{})
	h.connect("p")

	_, _, err := h.o.Join("p", "zzz")
	var uc *core.UnknownChannelError
	assert.ErrorAs(t, err, &uc)

	_, _, err = h.o.Join("ghost", "a")
	assert.ErrorIs(t, err, core.ErrNoSession)
}

func TestLeaveRequiresMembership(t *testing.T) {
	h := newHarness(app.SimplePolicy{})
	h.connect("p")
	h.join(t, "p", "a")

	var nm *core.NotMemberError
	assert.ErrorAs(t, h.o.Leave("p", "b"), &nm)
	require.NoError(t, h.o.Leave("p", "a"))
	assert.ErrorAs(t, h.o.Leave("p", "a"), &nm)

	_, _, ok := h.o.Registry.ChannelOf("p")
	assert.False(t, ok)
}

func TestMove(t *testing.T) {
	h := newHarness(app.SimplePolicy{})
	h.connect("p")
	h.join(t, "p", "a")

	from, err := h.o.Move("p", "b")
	require.NoError(t, err)
	assert.Equal(t, domain.ChannelID("a"), from)

	ch, _, ok := h.o.Registry.ChannelOf("p")
	require.True(t, ok)
	assert.Equal(t, domain.ChannelID("b"), ch)
	a, _ := h.o.Channels.Get("a")
	b, _ := h.o.Channels.Get("b")
	assert.Zero(t, a.MemberCount())
	assert.Equal(t, 1, b.MemberCount())

	var nm *core.NotMemberError
	_, err = h.o.Move("ghost", "a")
	assert.ErrorAs(t, err, &nm)

	var uc *core.UnknownChannelError
	_, err = h.o.Move("p", "zzz")
	assert.ErrorAs(t, err, &uc)
	ch, _, _ = h.o.Registry.ChannelOf("p")
	assert.Equal(t, domain.ChannelID("b"), ch)
}

func TestRelayOnlyToChannelMates(t *testing.T) {
	h := newHarness(app.SimplePolicy{})
	h.connect("p")
	h.connect("q")
	h.connect("r")
	h.join(t, "p", "a")
	h.join(t, "q", "a")
	h.join(t, "r", "b")

	require.NoError(t, h.o.Relay("p", "q", core.Frame("hi")))
	assert.Equal(t, []core.Frame{core.Frame("hi")}, h.conns["q"].Frames())

	assert.ErrorIs(t, h.o.Relay("p", "r", core.Frame("x")), ErrNotChannelMate)
	assert.Empty(t, h.conns["r"].Frames())

	var nm *core.NotMemberError
	h.connect("s")
	assert.ErrorAs(t, h.o.Relay("s", "p", core.Frame("x")), &nm)
}

func TestNotifySkipsSender(t *testing.T) {
	h := newHarness(app.SimplePolicy{})
	for _, sid := range []core.SessionID{"p", "q", "r"} {
		h.connect(sid)
		h.join(t, sid, "a")
	}

	h.o.Notify("a", "p", core.Frame("x"))
	assert.Empty(t, h.conns["p"].Frames())
	assert.Len(t, h.conns["q"].Frames(), 1)
	assert.Len(t, h.conns["r"].Frames(), 1)
}

func TestBackpressurePolicy(t *testing.T) {
	simple := newHarness(app.SimplePolicy{})
	simple.connect("p")
	simple.connect("q")
	simple.join(t, "p", "a")
	simple.join(t, "q", "a")
	simple.conns["q"].full = true

	assert.ErrorIs(t, simple.o.Relay("p", "q", core.Frame("x")), core.ErrBackpressure)
	assert.Zero(t, simple.cancels["q"])

	strict := newHarness(app.StrictPolicy{})
	strict.connect("p")
	strict.connect("q")
	strict.join(t, "p", "a")
	strict.join(t, "q", "a")
	strict.conns["q"].full = true

	strict.o.Notify("a", "p", core.Frame("x"))
	assert.Equal(t, 1, strict.cancels["q"])
}

func TestOnDisconnectIgnoresReplacedSession(t *testing.T) {
	h := newHarness(app.SimplePolicy{})
	old := h.connect("p")
	h.join(t, "p", "a")

	fresh := h.connect("p")
	ch, left := h.o.OnDisconnect("p", old)
	assert.False(t, left)
	assert.Empty(t, ch)
	got, ok := h.o.Registry.GetSession("p")
	require.True(t, ok)
	assert.Same(t, fresh, got)

	h.join(t, "p", "a")
	ch, left = h.o.OnDisconnect("p", fresh)
	assert.True(t, left)
	assert.Equal(t, domain.ChannelID("a"), ch)
	_, ok = h.o.Registry.GetSession("p")
	assert.False(t, ok)
}

func TestEvictChannel(t *testing.T) {
	h := newHarness(app.SimplePolicy{})
	h.connect("p")
	h.connect("q")
	h.join(t, "p", "a")
	h.join(t, "q", "a")

	evicted := h.o.EvictChannel("a")
	assert.ElementsMatch(t, []core.SessionID{"p", "q"}, evicted)
	_, ok := h.o.Channels.Get("a")
	assert.False(t, ok)
	_, _, ok = h.o.Registry.ChannelOf("p")
	assert.False(t, ok)
}
