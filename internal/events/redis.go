package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dkeye/meshvoice/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	channelPrefix  = "voice:"
	publishTimeout = 5 * time.Second
	relayBuffer    = 64
)

// redisPayload is the message published to Redis for cross-instance relay.
type redisPayload struct {
	Origin      string               `json:"origin"`
	Channel     domain.ChannelID     `json:"channel"`
	Participant domain.ParticipantID `json:"participant"`
	Speaking    bool                 `json:"speaking"`
	At          int64                `json:"at"`
}

// Subscription is one Redis pub/sub subscription. *redis.PubSub implements
// it.
type Subscription interface {
	Receive(ctx context.Context) (interface{}, error)
	Channel(opts ...redis.ChannelOption) <-chan *redis.Message
	Close() error
}

// Broker is the part of Redis the relay talks to.
type Broker interface {
	Ping(ctx context.Context) error
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) Subscription
}

type redisBroker struct {
	client redis.UniversalClient
}

func NewRedisBroker(client redis.UniversalClient) Broker {
	return redisBroker{client: client}
}

func (b redisBroker) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b redisBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	return b.client.Publish(ctx, channel, payload).Err()
}

func (b redisBroker) Subscribe(ctx context.Context, channel string) Subscription {
	return b.client.Subscribe(ctx, channel)
}

// RedisRelay mirrors speaking-state events between the local bus and the
// Redis pub/sub channel of whichever channel the session is currently in.
// It follows channel_joined and channel_left events, so a move re-targets
// both directions.
type RedisRelay struct {
	broker Broker
	bus    *Bus
	origin string
}

func NewRedisRelay(broker Broker, bus *Bus, origin string) *RedisRelay {
	return &RedisRelay{broker: broker, bus: bus, origin: origin}
}

func RedisChannel(ch domain.ChannelID) string {
	return channelPrefix + string(ch)
}

// Run checks that Redis is reachable and then relays in the background until
// ctx is done.
func (r *RedisRelay) Run(ctx context.Context) error {
	if err := r.broker.Ping(ctx); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	local, unsubscribe := r.bus.Subscribe(relayBuffer, KindSpeakingState, KindChannelJoined, KindChannelLeft)
	go r.loop(ctx, local, unsubscribe)
	return nil
}

// relayState is the subscription of the channel being followed.
type relayState struct {
	channel domain.ChannelID
	sub     Subscription
	remote  <-chan *redis.Message
}

func (s *relayState) drop() {
	if s.sub != nil {
		_ = s.sub.Close()
	}
	*s = relayState{}
}

func (r *RedisRelay) loop(ctx context.Context, local <-chan Event, unsubscribe func()) {
	logger := log.With().Str("module", "events").Str("origin", r.origin).Logger()
	var st relayState
	defer st.drop()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-local:
			if !ok {
				return
			}
			switch e := ev.(type) {
			case ChannelJoined:
				r.follow(ctx, &st, e.ChannelID, logger)
			case ChannelLeft:
				if e.ChannelID == st.channel {
					st.drop()
					logger.Debug().Str("channel", string(e.ChannelID)).Msg("relay detached")
				}
			case SpeakingState:
				if e.Origin != "" || st.channel == "" || e.ChannelID != st.channel {
					continue
				}
				if err := r.publish(ctx, e); err != nil {
					logger.Warn().Err(err).Str("channel", string(e.ChannelID)).Msg("redis publish")
				}
			}
		case msg, ok := <-st.remote:
			if !ok {
				logger.Warn().Str("channel", string(st.channel)).Msg("redis subscription closed")
				st.drop()
				continue
			}
			if msg.Channel != RedisChannel(st.channel) {
				continue
			}
			ev, ok := r.decode(msg.Payload)
			if !ok || ev.ChannelID != st.channel {
				continue
			}
			r.bus.Publish(ev)
		}
	}
}

// follow replaces the current subscription with one for ch.
func (r *RedisRelay) follow(ctx context.Context, st *relayState, ch domain.ChannelID, logger zerolog.Logger) {
	if st.channel == ch && st.sub != nil {
		return
	}
	st.drop()

	sctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	sub := r.broker.Subscribe(sctx, RedisChannel(ch))
	if _, err := sub.Receive(sctx); err != nil {
		_ = sub.Close()
		logger.Warn().Err(err).Str("channel", string(ch)).Msg("redis subscribe")
		return
	}
	*st = relayState{channel: ch, sub: sub, remote: sub.Channel()}
	logger.Debug().Str("channel", string(ch)).Msg("relay following channel")
}

func (r *RedisRelay) publish(ctx context.Context, st SpeakingState) error {
	body, err := json.Marshal(redisPayload{
		Origin:      r.origin,
		Channel:     st.ChannelID,
		Participant: st.ParticipantID,
		Speaking:    st.IsSpeaking,
		At:          st.At.UnixMilli(),
	})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	return r.broker.Publish(ctx, RedisChannel(st.ChannelID), body)
}

// decode drops malformed payloads and our own echoes.
func (r *RedisRelay) decode(raw string) (SpeakingState, bool) {
	var p redisPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return SpeakingState{}, false
	}
	if p.Origin == "" || p.Origin == r.origin {
		return SpeakingState{}, false
	}
	return SpeakingState{
		ChannelID:     p.Channel,
		ParticipantID: p.Participant,
		IsSpeaking:    p.Speaking,
		Origin:        p.Origin,
		At:            time.UnixMilli(p.At),
	}, true
}
