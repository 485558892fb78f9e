// Package session is the top-level voice session: it owns the local capture
// for the lifetime of one channel and drives the detector, the peer links and
// the membership coordinator from join, leave and move requests.
package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/meshvoice/internal/app/membership"
	"github.com/dkeye/meshvoice/internal/app/peer"
	"github.com/dkeye/meshvoice/internal/app/vad"
	"github.com/dkeye/meshvoice/internal/core"
	"github.com/dkeye/meshvoice/internal/domain"
	"github.com/dkeye/meshvoice/internal/events"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
	"go.uber.org/multierr"
)

const signalQueue = 32

type Config struct {
	VAD  vad.Config
	Peer peer.Config
}

func DefaultConfig() Config {
	return Config{VAD: vad.DefaultConfig(), Peer: peer.DefaultConfig()}
}

// LinkFactoryFunc binds a link factory to the captured audio and the
// session's transport configuration.
type LinkFactoryFunc func(audio core.LocalAudio, ice []webrtc.ICEServer) core.LinkFactory

type Deps struct {
	Self            domain.ParticipantID
	Capturer        core.AudioCapturer
	Membership      core.MembershipService
	Signals         core.SignalTransport
	TransportConfig core.TransportConfigProvider
	Links           LinkFactoryFunc
	Bus             *events.Bus
	// Coordinator is optional; when set it gets the join roster and is told
	// about leaves.
	Coordinator *membership.Coordinator
	// DetectorOptions are passed to every detector the controller builds.
	DetectorOptions []vad.Option
}

// channelSession is everything acquired by one join. It is released by
// exactly one teardown.
type channelSession struct {
	channel  domain.ChannelID
	audio    core.LocalAudio
	detector *vad.Detector
	peers    *peer.Manager
	cancel   context.CancelFunc
	pumpDone chan struct{}

	releaseOnce sync.Once
	releaseErr  error
}

func (s *channelSession) releaseAudio() error {
	s.releaseOnce.Do(func() { s.releaseErr = s.audio.Close() })
	return s.releaseErr
}

type Controller struct {
	deps Deps
	cfg  Config

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// mu serialises join, leave and switch.
	mu  sync.Mutex
	cur atomic.Pointer[channelSession]

	routesMu sync.Mutex
	routes   map[domain.ParticipantID]chan core.SignalMessage
}

func NewController(deps Deps, cfg Config) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		deps:   deps,
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
		routes: make(map[domain.ParticipantID]chan core.SignalMessage),
	}
	if deps.Coordinator != nil {
		deps.Coordinator.SetSession(c)
	}
	if deps.Signals != nil {
		c.wg.Add(1)
		go c.route()
	}
	return c
}

func (c *Controller) logger() zerolog.Logger {
	return log.With().Str("module", "session").Str("participant", string(c.deps.Self)).Logger()
}

// JoinChannel captures the microphone, registers with the membership
// service and links to every other member of ch. Individual peers that
// cannot be reached are reported as connection_failed events and do not fail
// the join.
func (c *Controller) JoinChannel(ctx context.Context, ch domain.ChannelID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur.Load() != nil {
		return core.ErrSessionActive
	}
	return c.join(ctx, ch)
}

func (c *Controller) join(ctx context.Context, ch domain.ChannelID) error {
	logger := c.logger().With().Str("channel", string(ch)).Logger()

	audio, err := c.deps.Capturer.Acquire(ctx)
	if err != nil {
		var merr *core.MediaAcquisitionError
		if !errors.As(err, &merr) {
			err = &core.MediaAcquisitionError{Err: err}
		}
		logger.Error().Err(err).Msg("cannot capture microphone")
		return err
	}

	ice, err := c.deps.TransportConfig.ICEServers(ctx)
	if err != nil {
		return multierr.Append(err, audio.Close())
	}

	sctx, cancel := context.WithCancel(c.ctx)
	s := &channelSession{
		channel:  ch,
		audio:    audio,
		detector: vad.New(audio.NewReader(), c.cfg.VAD, c.deps.DetectorOptions...),
		cancel:   cancel,
		pumpDone: make(chan struct{}),
	}
	s.detector.Init(sctx)
	go c.pumpSpeaking(s)

	members, err := c.deps.Membership.Join(ctx, ch, c.deps.Self)
	if err != nil {
		logger.Warn().Err(err).Msg("join rejected")
		s.detector.Stop()
		cancel()
		<-s.pumpDone
		return multierr.Append(err, s.releaseAudio())
	}
	if c.deps.Coordinator != nil {
		c.deps.Coordinator.ApplyRoster(ch, members)
	}
	c.deps.Bus.Publish(events.ChannelJoined{ChannelID: ch})

	s.peers = peer.NewManager(sctx, c.deps.Links(audio, ice), c.deps.Bus, c.cfg.Peer)
	c.cur.Store(s)

	var wg conc.WaitGroup
	for _, m := range members {
		if m.ID == c.deps.Self {
			continue
		}
		id := m.ID
		wg.Go(func() {
			if err := s.peers.CreatePeerConnection(ctx, id); err != nil {
				logger.Warn().Err(err).Str("peer", string(id)).Msg("peer unreachable, continuing with partial mesh")
				c.deps.Bus.Publish(events.ConnectionFailed{ParticipantID: id, Err: err})
			}
		})
	}
	wg.Wait()

	logger.Info().Int("members", len(members)).Int("peers", s.peers.Len()).Msg("joined channel")
	return nil
}

// pumpSpeaking turns detector transitions into speaking_state events until
// the detector stops.
func (c *Controller) pumpSpeaking(s *channelSession) {
	defer close(s.pumpDone)
	for t := range s.detector.Transitions() {
		c.deps.Bus.Publish(events.SpeakingState{
			ChannelID:     s.channel,
			ParticipantID: c.deps.Self,
			IsSpeaking:    t.Speaking,
			At:            t.At,
		})
	}
}

// LeaveChannel releases everything the join acquired and deregisters from
// the membership service. Every step runs even when an earlier one fails.
func (c *Controller) LeaveChannel(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.cur.Load()
	if s == nil {
		return core.ErrNoSession
	}
	return c.teardown(ctx, s, true)
}

func (c *Controller) teardown(ctx context.Context, s *channelSession, deregister bool) error {
	logger := c.logger().With().Str("channel", string(s.channel)).Logger()
	c.cur.Store(nil)

	s.detector.Stop()
	s.cancel()
	<-s.pumpDone

	var err error
	if perr := s.peers.Close(); perr != nil {
		logger.Error().Err(perr).Msg("closing peer connections")
		err = multierr.Append(err, perr)
	}
	if aerr := s.releaseAudio(); aerr != nil {
		logger.Error().Err(aerr).Msg("releasing microphone")
		err = multierr.Append(err, aerr)
	}
	if deregister {
		if lerr := c.deps.Membership.Leave(ctx, s.channel, c.deps.Self); lerr != nil {
			logger.Error().Err(lerr).Msg("leaving channel")
			err = multierr.Append(err, lerr)
		}
		if c.deps.Coordinator != nil {
			c.deps.Coordinator.ApplyLeave(s.channel, c.deps.Self)
		}
	}
	c.deps.Bus.Publish(events.ChannelLeft{ChannelID: s.channel})
	logger.Info().Msg("left channel")
	return err
}

// MoveParticipant asks the coordinator to move pid; when pid is the local
// participant the session follows through SwitchChannel.
func (c *Controller) MoveParticipant(ctx context.Context, pid domain.ParticipantID, target domain.ChannelID) error {
	if c.deps.Coordinator == nil {
		return c.deps.Membership.Move(ctx, pid, target)
	}
	return c.deps.Coordinator.MoveParticipant(ctx, pid, target)
}

// SwitchChannel runs the leave path for the current channel and the join
// path for to. The remote roster has already moved us, so no remote leave is
// issued.
func (c *Controller) SwitchChannel(ctx context.Context, to domain.ChannelID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.cur.Load()
	if s != nil && s.channel == to {
		return nil
	}
	var err error
	if s != nil {
		err = c.teardown(ctx, s, false)
	}
	return multierr.Append(err, c.join(ctx, to))
}

func (c *Controller) DropPeer(pid domain.ParticipantID) {
	s := c.cur.Load()
	if s == nil {
		return
	}
	if err := s.peers.ClosePeerConnection(pid); err != nil {
		logger := c.logger()
		logger.Warn().Err(err).Str("peer", string(pid)).Msg("closing peer connection")
	}
}

func (c *Controller) CurrentChannel() (domain.ChannelID, bool) {
	s := c.cur.Load()
	if s == nil {
		return "", false
	}
	return s.channel, true
}

// Peers lists the participants the session currently holds a link to.
func (c *Controller) Peers() []domain.ParticipantID {
	s := c.cur.Load()
	if s == nil {
		return nil
	}
	return s.peers.Participants()
}

// Events subscribes to the session's event stream.
func (c *Controller) Events(buffer int, kinds ...events.Kind) (<-chan events.Event, func()) {
	return c.deps.Bus.Subscribe(buffer, kinds...)
}

// Close leaves the current channel, if any, and stops signal routing.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	var err error
	if s := c.cur.Load(); s != nil {
		err = c.teardown(ctx, s, true)
	}
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
	return err
}

// route fans inbound signals out to one ordered queue per sender, so a slow
// link setup for one peer never holds back another.
func (c *Controller) route() {
	defer c.wg.Done()
	in := c.deps.Signals.Signals()
	for {
		select {
		case <-c.ctx.Done():
			return
		case sig, ok := <-in:
			if !ok {
				return
			}
			q := c.queue(sig.From)
			select {
			case q <- sig.Message:
			default:
				logger := c.logger()
				logger.Warn().Str("peer", string(sig.From)).Str("kind", string(sig.Message.Kind)).Msg("signal queue full, dropping")
			}
		}
	}
}

func (c *Controller) queue(from domain.ParticipantID) chan core.SignalMessage {
	c.routesMu.Lock()
	defer c.routesMu.Unlock()
	q, ok := c.routes[from]
	if !ok {
		q = make(chan core.SignalMessage, signalQueue)
		c.routes[from] = q
		c.wg.Add(1)
		go c.deliver(from, q)
	}
	return q
}

func (c *Controller) deliver(from domain.ParticipantID, q <-chan core.SignalMessage) {
	defer c.wg.Done()
	logger := c.logger().With().Str("peer", string(from)).Logger()
	for {
		select {
		case <-c.ctx.Done():
			return
		case msg := <-q:
			s := c.cur.Load()
			if s == nil {
				logger.Debug().Str("kind", string(msg.Kind)).Msg("no active channel, dropping signal")
				continue
			}
			ctx, cancel := context.WithTimeout(c.ctx, dispatchTimeout(c.cfg.Peer))
			err := s.peers.Dispatch(ctx, from, msg)
			cancel()
			if err != nil {
				logger.Warn().Err(err).Str("kind", string(msg.Kind)).Msg("dispatch signal")
			}
		}
	}
}

// dispatchTimeout bounds one inbound link setup including its retries.
func dispatchTimeout(cfg peer.Config) time.Duration {
	return time.Duration(cfg.MaxRetries+1)*cfg.RetryDelay + 30*time.Second
}
