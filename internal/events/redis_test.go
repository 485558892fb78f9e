package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type publishedMessage struct {
	channel string
	payload []byte
}

// memoryBroker is an in-process stand-in for Redis pub/sub.
type memoryBroker struct {
	mu        sync.Mutex
	subs      map[*memorySub]struct{}
	published []publishedMessage
	pingErr   error
}

func newMemoryBroker() *memoryBroker {
	return &memoryBroker{subs: make(map[*memorySub]struct{})}
}

func (b *memoryBroker) Ping(context.Context) error { return b.pingErr }

func (b *memoryBroker) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, publishedMessage{channel: channel, payload: payload})
	for s := range b.subs {
		if s.channel != channel {
			continue
		}
		select {
		case s.ch <- &redis.Message{Channel: channel, Payload: string(payload)}:
		default:
		}
	}
	return nil
}

func (b *memoryBroker) Subscribe(_ context.Context, channel string) Subscription {
	s := &memorySub{broker: b, channel: channel, ch: make(chan *redis.Message, 16)}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

func (b *memoryBroker) Published(channel string) []publishedMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []publishedMessage
	for _, m := range b.published {
		if m.channel == channel {
			out = append(out, m)
		}
	}
	return out
}

func (b *memoryBroker) Subscribers(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for s := range b.subs {
		if s.channel == channel {
			n++
		}
	}
	return n
}

type memorySub struct {
	broker  *memoryBroker
	channel string
	ch      chan *redis.Message
	once    sync.Once
}

func (s *memorySub) Receive(context.Context) (interface{}, error) {
	return &redis.Subscription{Kind: "subscribe", Channel: s.channel, Count: 1}, nil
}

func (s *memorySub) Channel(...redis.ChannelOption) <-chan *redis.Message { return s.ch }

func (s *memorySub) Close() error {
	s.once.Do(func() {
		s.broker.mu.Lock()
		defer s.broker.mu.Unlock()
		delete(s.broker.subs, s)
		close(s.ch)
	})
	return nil
}

func startRelay(t *testing.T, broker Broker, origin string) (*Bus, context.CancelFunc) {
	t.Helper()
	bus := NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, NewRedisRelay(broker, bus, origin).Run(ctx))
	return bus, cancel
}

func remotePayload(t *testing.T, origin, channel, participant string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"origin": origin, "channel": channel, "participant": participant, "speaking": true, "at": 1,
	})
	require.NoError(t, err)
	return body
}

func nextSpeaking(t *testing.T, evs <-chan Event) SpeakingState {
	t.Helper()
	select {
	case ev := <-evs:
		return ev.(SpeakingState)
	case <-time.After(time.Second):
		t.Fatal("no speaking_state event")
		return SpeakingState{}
	}
}

func TestRedisChannel(t *testing.T) {
	assert.Equal(t, "voice:lobby", RedisChannel("lobby"))
}

func TestDecode(t *testing.T) {
	r := NewRedisRelay(nil, NewBus(), "me")

	tests := []struct {
		name string
		raw  string
		ok   bool
	}{
		{"remote", `{"origin":"other","channel":"lobby","participant":"p1","speaking":true,"at":1700000000000}`, true},
		{"own echo", `{"origin":"me","channel":"lobby","participant":"p1","speaking":true,"at":1}`, false},
		{"no origin", `{"channel":"lobby","participant":"p1","speaking":true}`, false},
		{"malformed", `{"origin":`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, ok := r.decode(tt.raw)
			require.Equal(t, tt.ok, ok)
			if !ok {
				return
			}
			assert.EqualValues(t, "lobby", st.ChannelID)
			assert.EqualValues(t, "p1", st.ParticipantID)
			assert.True(t, st.IsSpeaking)
			assert.Equal(t, "other", st.Origin)
			assert.Equal(t, time.UnixMilli(1700000000000), st.At)
		})
	}
}

func TestRedisRelayRunFailsWhenUnreachable(t *testing.T) {
	broker := newMemoryBroker()
	broker.pingErr = errors.New("connection refused")

	err := NewRedisRelay(broker, NewBus(), "a").Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestRedisRelayPublishesOnlyCurrentChannel(t *testing.T) {
	broker := newMemoryBroker()
	bus, _ := startRelay(t, broker, "a")

	bus.Publish(SpeakingState{ChannelID: "lobby", ParticipantID: "p1", IsSpeaking: true})
	bus.Publish(ChannelJoined{ChannelID: "lobby"})
	bus.Publish(SpeakingState{ChannelID: "other", ParticipantID: "p1", IsSpeaking: true})
	bus.Publish(SpeakingState{ChannelID: "lobby", ParticipantID: "p2", IsSpeaking: true, Origin: "b"})
	bus.Publish(SpeakingState{ChannelID: "lobby", ParticipantID: "p1", IsSpeaking: true})

	require.Eventually(t, func() bool { return len(broker.Published("voice:lobby")) == 1 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, broker.Published("voice:other"))

	var p redisPayload
	require.NoError(t, json.Unmarshal(broker.Published("voice:lobby")[0].payload, &p))
	assert.Equal(t, "a", p.Origin)
	assert.EqualValues(t, "p1", p.Participant)
}

func TestRedisRelayDeliversRemoteSpeakingWithoutEcho(t *testing.T) {
	broker := newMemoryBroker()
	busA, _ := startRelay(t, broker, "a")
	busB, _ := startRelay(t, broker, "b")
	evsA, stopA := busA.Subscribe(8, KindSpeakingState)
	defer stopA()
	evsB, stopB := busB.Subscribe(8, KindSpeakingState)
	defer stopB()

	busA.Publish(ChannelJoined{ChannelID: "lobby"})
	busB.Publish(ChannelJoined{ChannelID: "lobby"})
	require.Eventually(t, func() bool { return broker.Subscribers("voice:lobby") == 2 }, time.Second, 5*time.Millisecond)

	busA.Publish(SpeakingState{ChannelID: "lobby", ParticipantID: "pa", IsSpeaking: true, At: time.UnixMilli(42)})
	require.EqualValues(t, "pa", nextSpeaking(t, evsA).ParticipantID)

	got := nextSpeaking(t, evsB)
	assert.EqualValues(t, "lobby", got.ChannelID)
	assert.EqualValues(t, "pa", got.ParticipantID)
	assert.Equal(t, "a", got.Origin)
	assert.Equal(t, time.UnixMilli(42), got.At)

	require.Never(t, func() bool { return len(evsA) > 0 }, 100*time.Millisecond, 10*time.Millisecond)
	assert.Len(t, broker.Published("voice:lobby"), 1)
}

func TestRedisRelayFollowsChannelSwitch(t *testing.T) {
	broker := newMemoryBroker()
	bus, _ := startRelay(t, broker, "a")
	evs, stop := bus.Subscribe(8, KindSpeakingState)
	defer stop()

	bus.Publish(ChannelJoined{ChannelID: "lobby"})
	require.Eventually(t, func() bool { return broker.Subscribers("voice:lobby") == 1 }, time.Second, 5*time.Millisecond)

	bus.Publish(ChannelLeft{ChannelID: "lobby"})
	bus.Publish(ChannelJoined{ChannelID: "games"})
	require.Eventually(t, func() bool {
		return broker.Subscribers("voice:lobby") == 0 && broker.Subscribers("voice:games") == 1
	}, time.Second, 5*time.Millisecond)

	ctx := context.Background()
	require.NoError(t, broker.Publish(ctx, "voice:lobby", remotePayload(t, "z", "lobby", "old")))
	require.NoError(t, broker.Publish(ctx, "voice:games", remotePayload(t, "z", "games", "new")))
	got := nextSpeaking(t, evs)
	assert.EqualValues(t, "new", got.ParticipantID)
	assert.EqualValues(t, "games", got.ChannelID)

	bus.Publish(SpeakingState{ChannelID: "games", ParticipantID: "pa", IsSpeaking: true})
	require.EqualValues(t, "pa", nextSpeaking(t, evs).ParticipantID)
	require.Eventually(t, func() bool { return len(broker.Published("voice:games")) == 2 }, time.Second, 5*time.Millisecond)
	assert.Len(t, broker.Published("voice:lobby"), 1)
}

func TestRedisRelayDetachesOnLeave(t *testing.T) {
	broker := newMemoryBroker()
	bus, _ := startRelay(t, broker, "a")

	bus.Publish(ChannelJoined{ChannelID: "lobby"})
	require.Eventually(t, func() bool { return broker.Subscribers("voice:lobby") == 1 }, time.Second, 5*time.Millisecond)

	bus.Publish(ChannelLeft{ChannelID: "lobby"})
	bus.Publish(SpeakingState{ChannelID: "lobby", ParticipantID: "pa", IsSpeaking: true})
	require.Eventually(t, func() bool { return broker.Subscribers("voice:lobby") == 0 }, time.Second, 5*time.Millisecond)
	require.Never(t, func() bool { return len(broker.Published("voice:lobby")) > 0 }, 100*time.Millisecond, 10*time.Millisecond)
}

func TestRedisRelayStopsWithContext(t *testing.T) {
	broker := newMemoryBroker()
	bus, cancel := startRelay(t, broker, "a")

	bus.Publish(ChannelJoined{ChannelID: "lobby"})
	require.Eventually(t, func() bool { return broker.Subscribers("voice:lobby") == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	require.Eventually(t, func() bool { return broker.Subscribers("voice:lobby") == 0 }, time.Second, 5*time.Millisecond)

	bus.Publish(SpeakingState{ChannelID: "lobby", ParticipantID: "pa", IsSpeaking: true})
	require.Never(t, func() bool { return len(broker.Published("voice:lobby")) > 0 }, 100*time.Millisecond, 10*time.Millisecond)
}
