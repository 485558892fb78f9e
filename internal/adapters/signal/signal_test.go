package signal

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/meshvoice/internal/app"
	"github.com/dkeye/meshvoice/internal/app/orch"
	"github.com/dkeye/meshvoice/internal/core"
	"github.com/dkeye/meshvoice/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 2 * time.Second

func newTestServer(t *testing.T) (string, *orch.Orchestrator) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	o := &orch.Orchestrator{
		Registry: app.NewRegistry(),
		Channels: app.NewChannelManager(
			domain.Channel{ID: "a", Name: "Alpha"},
			domain.Channel{ID: "b", Name: "Beta"},
		),
		Policy: app.SimplePolicy{},
	}
	ctl := NewSignalWSController(o, Options{
		ICEServers: []webrtc.ICEServer{{URLs: []string{"stun:stun.example.org:3478"}}},
		ReadLimit:  1 << 15,
	})

	ctx, cancel := context.WithCancel(context.Background())
	r := gin.New()
	r.GET("/ws", func(c *gin.Context) {
		c.Set("client_token", uuid.NewString())
		ctl.HandleSignal(ctx, c)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws", o
}

func dial(t *testing.T, url, name string) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	c, err := Dial(ctx, url, name, ClientOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func join(t *testing.T, c *Client, ch domain.ChannelID) []domain.Participant {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	members, err := c.Join(ctx, ch, c.Self().ID)
	require.NoError(t, err)
	return members
}

func nextRoster(t *testing.T, c *Client) core.RosterEvent {
	t.Helper()
	select {
	case ev, ok := <-c.RosterEvents():
		require.True(t, ok, "roster feed closed")
		return ev
	case <-time.After(waitTimeout):
		t.Fatal("no roster event")
		return core.RosterEvent{}
	}
}

func ids(ps []domain.Participant) []domain.ParticipantID {
	out := make([]domain.ParticipantID, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.ID)
	}
	return out
}

func TestHelloAssignsIdentity(t *testing.T) {
	url, o := newTestServer(t)
	alice := dial(t, url, "alice")

	self := alice.Self()
	assert.Equal(t, "alice", self.Name)
	require.NotEmpty(t, self.ID)
	p, ok := o.Registry.Participant(core.SessionID(self.ID))
	require.True(t, ok)
	assert.Equal(t, "alice", p.Name)
}

func TestJoinReturnsRosterAndNotifiesMembers(t *testing.T) {
	url, _ := newTestServer(t)
	alice := dial(t, url, "alice")
	bob := dial(t, url, "bob")

	assert.Equal(t, []domain.ParticipantID{alice.Self().ID}, ids(join(t, alice, "a")))
	assert.ElementsMatch(t, []domain.ParticipantID{alice.Self().ID, bob.Self().ID}, ids(join(t, bob, "a")))

	ev := nextRoster(t, alice)
	assert.Equal(t, core.MemberJoined, ev.Kind)
	assert.Equal(t, bob.Self().ID, ev.Participant.ID)
	assert.Equal(t, domain.ChannelID("a"), ev.To)
}

func TestJoinSameChannelTwiceReturnsRoster(t *testing.T) {
	url, _ := newTestServer(t)
	alice := dial(t, url, "alice")

	join(t, alice, "a")
	assert.Equal(t, []domain.ParticipantID{alice.Self().ID}, ids(join(t, alice, "a")))
}

func TestJoinUnknownChannelIsRejected(t *testing.T) {
	url, _ := newTestServer(t)
	alice := dial(t, url, "alice")

	_, err := alice.Join(context.Background(), "nope", alice.Self().ID)
	var rej *core.RemoteRejectionError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, TypeJoin, rej.Op)
	assert.Equal(t, "unknown_channel", rej.Reason)
}

func TestLeaveOtherChannelIsRejected(t *testing.T) {
	url, _ := newTestServer(t)
	alice := dial(t, url, "alice")
	join(t, alice, "a")

	err := alice.Leave(context.Background(), "b", alice.Self().ID)
	var rej *core.RemoteRejectionError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, "not_member", rej.Reason)

	require.NoError(t, alice.Leave(context.Background(), "a", alice.Self().ID))
}

func TestSignalRelayedBetweenChannelMates(t *testing.T) {
	url, _ := newTestServer(t)
	alice := dial(t, url, "alice")
	bob := dial(t, url, "bob")
	join(t, alice, "a")
	join(t, bob, "a")
	nextRoster(t, alice)

	offer := core.SignalMessage{Kind: core.SignalOffer, SDP: "v=0"}
	require.NoError(t, alice.SendSignal(context.Background(), bob.Self().ID, offer))

	select {
	case in := <-bob.Signals():
		assert.Equal(t, alice.Self().ID, in.From)
		assert.Equal(t, offer, in.Message)
	case <-time.After(waitTimeout):
		t.Fatal("signal not relayed")
	}
}

func TestMoveNotifiesBothChannels(t *testing.T) {
	url, _ := newTestServer(t)
	alice := dial(t, url, "alice")
	bob := dial(t, url, "bob")
	carol := dial(t, url, "carol")
	join(t, alice, "a")
	join(t, bob, "a")
	join(t, carol, "b")
	nextRoster(t, alice)

	require.NoError(t, alice.Move(context.Background(), bob.Self().ID, "b"))

	for _, c := range []*Client{alice, bob, carol} {
		ev := nextRoster(t, c)
		assert.Equal(t, core.MemberMoved, ev.Kind)
		assert.Equal(t, bob.Self().ID, ev.Participant.ID)
		assert.Equal(t, domain.ChannelID("a"), ev.From)
		assert.Equal(t, domain.ChannelID("b"), ev.To)
	}
}

func TestMoveUnknownParticipantIsRejected(t *testing.T) {
	url, _ := newTestServer(t)
	alice := dial(t, url, "alice")

	err := alice.Move(context.Background(), "ghost", "a")
	var rej *core.RemoteRejectionError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, "not_member", rej.Reason)
}

func TestDisconnectNotifiesChannel(t *testing.T) {
	url, o := newTestServer(t)
	alice := dial(t, url, "alice")
	bob := dial(t, url, "bob")
	join(t, alice, "a")
	join(t, bob, "a")
	nextRoster(t, alice)

	require.NoError(t, bob.Close())

	ev := nextRoster(t, alice)
	assert.Equal(t, core.MemberLeft, ev.Kind)
	assert.Equal(t, bob.Self().ID, ev.Participant.ID)
	assert.Equal(t, domain.ChannelID("a"), ev.From)

	ch, ok := o.Channels.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, ch.MemberCount())
}

func TestChannelsAndICEConfig(t *testing.T) {
	url, _ := newTestServer(t)
	alice := dial(t, url, "alice")

	chans, err := alice.Channels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []domain.Channel{{ID: "a", Name: "Alpha"}, {ID: "b", Name: "Beta"}}, chans)

	ice, err := alice.ICEServers(context.Background())
	require.NoError(t, err)
	require.Len(t, ice, 1)
	assert.Equal(t, []string{"stun:stun.example.org:3478"}, ice[0].URLs)
}

func TestRequestsFailAfterClose(t *testing.T) {
	url, _ := newTestServer(t)
	alice := dial(t, url, "alice")
	require.NoError(t, alice.Close())

	_, err := alice.Channels(context.Background())
	assert.ErrorIs(t, err, core.ErrClosed)
}
