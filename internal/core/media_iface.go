package core

//go:generate mockgen -destination=mocks/mock_media.go -package=mocks github.com/dkeye/meshvoice/internal/core StatsSource,TransportConfigProvider

import (
	"context"
	"time"

	"github.com/dkeye/meshvoice/internal/domain"
	"github.com/pion/webrtc/v4"
)

// PCMFrame is one chunk of mono samples normalised to [-1, 1].
type PCMFrame struct {
	Samples    []float64
	SampleRate int
}

// AudioReader yields captured PCM. Read blocks until a frame is available and
// returns ErrSourceUnavailable once the source has ended.
type AudioReader interface {
	Read() (PCMFrame, error)
}

// LocalAudio is the captured microphone. Close releases the device.
type LocalAudio interface {
	Track() webrtc.TrackLocal
	NewReader() AudioReader
	Close() error
}

type AudioCapturer interface {
	Acquire(ctx context.Context) (LocalAudio, error)
}

// TransportConfigProvider supplies relay/routing configuration once per session.
type TransportConfigProvider interface {
	ICEServers(ctx context.Context) ([]webrtc.ICEServer, error)
}

// QualitySample is one reading of a link's inbound audio transport statistics.
// Jitter is in milliseconds.
type QualitySample struct {
	PacketsLost   int64         `json:"packetsLost"`
	Jitter        float64       `json:"jitter"`
	RoundTripTime time.Duration `json:"roundTripTime"`
	Timestamp     time.Time     `json:"timestamp"`
}

type StatsSource interface {
	// InboundAudioStats returns one sample per inbound audio stream.
	InboundAudioStats() ([]QualitySample, error)
}

// MediaLink is one direct audio link to a remote participant.
type MediaLink interface {
	StatsSource
	// States delivers transport state reports in the order they happened.
	States() <-chan ConnState
	// HandleSignal applies a negotiation payload from the remote side.
	HandleSignal(SignalMessage) error
	Close() error
}

type LinkFactory interface {
	NewLink(ctx context.Context, remote domain.ParticipantID) (MediaLink, error)
}
