package rtc

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dkeye/meshvoice/internal/core"
	"github.com/dkeye/meshvoice/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"
)

const (
	stateBuffer   = 16
	signalTimeout = 5 * time.Second
)

var errUnknownSignal = errors.New("unknown signal kind")

// Link is one pion PeerConnection to a remote participant. The side with
// the smaller participant id offers; the other side asks for an offer with
// a ready message.
type Link struct {
	pc      *webrtc.PeerConnection
	self    domain.ParticipantID
	remote  domain.ParticipantID
	offerer bool
	signals core.SignalTransport
	sink    RemoteAudioSink
	logger  zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	stateMu sync.Mutex
	last    core.ConnState
	forced  bool
	states  chan core.ConnState

	negMu   sync.Mutex
	pending []webrtc.ICECandidateInit

	closeOnce sync.Once
	closeErr  error
}

func newLink(pc *webrtc.PeerConnection, self, remote domain.ParticipantID, signals core.SignalTransport, sink RemoteAudioSink) *Link {
	ctx, cancel := context.WithCancel(context.Background())
	return &Link{
		pc:      pc,
		self:    self,
		remote:  remote,
		offerer: self < remote,
		signals: signals,
		sink:    sink,
		logger:  log.With().Str("module", "webrtc").Str("participant", string(remote)).Logger(),
		ctx:     ctx,
		cancel:  cancel,
		states:  make(chan core.ConnState, stateBuffer),
	}
}

func (l *Link) start(ctx context.Context) error {
	l.pc.OnConnectionStateChange(func(webrtc.PeerConnectionState) {
		l.reportState()
	})

	l.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		ci := cand.ToJSON()
		l.send(core.SignalMessage{
			Kind:          core.SignalCandidate,
			Candidate:     ci.Candidate,
			SDPMid:        ci.SDPMid,
			SDPMLineIndex: ci.SDPMLineIndex,
		})
	})

	l.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		l.logger.Info().
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		go l.drain(track)
	})

	if l.offerer {
		l.negMu.Lock()
		defer l.negMu.Unlock()
		return l.offer(ctx)
	}
	return l.signals.SendSignal(ctx, l.remote, core.SignalMessage{Kind: core.SignalReady})
}

// reportState forwards the current connection state. pion runs state
// handlers in their own goroutines, so the state is re-read under the lock
// and repeats are dropped to keep reports in transport order.
func (l *Link) reportState() {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()
	if l.forced {
		return
	}
	st := mapState(l.pc.ConnectionState())
	if st == l.last {
		return
	}
	l.last = st
	l.logger.Info().Str("state", st.String()).Msg("Peer state")
	select {
	case l.states <- st:
	case <-l.ctx.Done():
	}
}

// fail reports the link as failed regardless of the transport state so the
// owner rebuilds it.
func (l *Link) fail(reason string) {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()
	if l.forced {
		return
	}
	l.forced = true
	l.logger.Warn().Str("reason", reason).Msg("forcing link rebuild")
	select {
	case l.states <- core.StateFailed:
	case <-l.ctx.Done():
	}
}

func (l *Link) States() <-chan core.ConnState { return l.states }

func (l *Link) HandleSignal(msg core.SignalMessage) error {
	l.negMu.Lock()
	defer l.negMu.Unlock()

	switch msg.Kind {
	case core.SignalOffer:
		return l.applyOffer(msg.SDP)
	case core.SignalAnswer:
		if err := l.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: msg.SDP}); err != nil {
			return err
		}
		return l.flushCandidates()
	case core.SignalCandidate:
		ci := webrtc.ICECandidateInit{Candidate: msg.Candidate, SDPMid: msg.SDPMid, SDPMLineIndex: msg.SDPMLineIndex}
		if l.pc.RemoteDescription() == nil {
			l.pending = append(l.pending, ci)
			return nil
		}
		return l.pc.AddICECandidate(ci)
	case core.SignalReady:
		return l.applyReady()
	default:
		return errUnknownSignal
	}
}

func (l *Link) applyOffer(sdp string) error {
	if rd := l.pc.RemoteDescription(); rd != nil {
		if rd.SDP == sdp {
			// repeated offer: repeat the answer
			if ld := l.pc.LocalDescription(); ld != nil {
				return l.signals.SendSignal(l.ctx, l.remote, core.SignalMessage{Kind: core.SignalAnswer, SDP: ld.SDP})
			}
			return nil
		}
		l.fail("remote restarted negotiation")
		return nil
	}

	if err := l.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}); err != nil {
		return err
	}
	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		return err
	}
	if err := l.pc.SetLocalDescription(answer); err != nil {
		return err
	}
	if err := l.flushCandidates(); err != nil {
		return err
	}
	return l.signals.SendSignal(l.ctx, l.remote, core.SignalMessage{Kind: core.SignalAnswer, SDP: answer.SDP})
}

func (l *Link) applyReady() error {
	if !l.offerer {
		l.logger.Debug().Msg("ignoring ready from offerer side")
		return nil
	}
	if l.pc.RemoteDescription() != nil {
		l.fail("remote asked for a fresh offer")
		return nil
	}
	if ld := l.pc.LocalDescription(); ld != nil && ld.Type == webrtc.SDPTypeOffer {
		return l.signals.SendSignal(l.ctx, l.remote, core.SignalMessage{Kind: core.SignalOffer, SDP: ld.SDP})
	}
	return l.offer(l.ctx)
}

func (l *Link) offer(ctx context.Context) error {
	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		return err
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		return err
	}
	return l.signals.SendSignal(ctx, l.remote, core.SignalMessage{Kind: core.SignalOffer, SDP: offer.SDP})
}

func (l *Link) flushCandidates() error {
	var err error
	for _, c := range l.pending {
		err = multierr.Append(err, l.pc.AddICECandidate(c))
	}
	l.pending = nil
	return err
}

func (l *Link) send(msg core.SignalMessage) {
	ctx, cancel := context.WithTimeout(l.ctx, signalTimeout)
	defer cancel()
	if err := l.signals.SendSignal(ctx, l.remote, msg); err != nil {
		l.logger.Warn().Err(err).Str("kind", string(msg.Kind)).Msg("send signal")
	}
}

// drain reads the remote track so pion's buffers keep flowing.
func (l *Link) drain(track *webrtc.TrackRemote) {
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		if l.sink != nil {
			l.sink.WriteRTP(l.remote, pkt)
		}
	}
}

func (l *Link) InboundAudioStats() ([]core.QualitySample, error) {
	if l.ctx.Err() != nil {
		return nil, core.ErrClosed
	}
	return inboundAudioSamples(l.pc.GetStats()), nil
}

func (l *Link) Close() error {
	l.closeOnce.Do(func() {
		l.cancel()
		l.closeErr = l.pc.Close()
		if l.closeErr != nil {
			l.logger.Error().Err(l.closeErr).Msg("close error")
		} else {
			l.logger.Info().Msg("closed")
		}
	})
	return l.closeErr
}

func mapState(s webrtc.PeerConnectionState) core.ConnState {
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		return core.StateConnecting
	case webrtc.PeerConnectionStateConnected:
		return core.StateConnected
	case webrtc.PeerConnectionStateDisconnected:
		return core.StateDisconnected
	case webrtc.PeerConnectionStateFailed:
		return core.StateFailed
	case webrtc.PeerConnectionStateClosed:
		return core.StateClosed
	default:
		return core.StateNew
	}
}
