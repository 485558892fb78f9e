package rtc

import (
	"context"

	"github.com/dkeye/meshvoice/internal/core"
	"github.com/dkeye/meshvoice/internal/domain"
	"github.com/pion/webrtc/v4"
)

// Factory builds links sharing one pion API (codecs, interceptors) and one
// signaling transport.
type Factory struct {
	api     *webrtc.API
	self    domain.ParticipantID
	signals core.SignalTransport
	sink    RemoteAudioSink
}

func NewFactory(api *webrtc.API, self domain.ParticipantID, signals core.SignalTransport, sink RemoteAudioSink) *Factory {
	if api == nil {
		api = webrtc.NewAPI()
	}
	return &Factory{api: api, self: self, signals: signals, sink: sink}
}

// For binds the factory to the local audio and the session's ICE servers.
func (f *Factory) For(audio core.LocalAudio, ice []webrtc.ICEServer) core.LinkFactory {
	var track webrtc.TrackLocal
	if audio != nil {
		track = audio.Track()
	}
	if len(ice) == 0 {
		ice = DefaultICEServers()
	}
	return &boundFactory{Factory: f, track: track, cfg: webrtc.Configuration{ICEServers: ice}}
}

type boundFactory struct {
	*Factory
	track webrtc.TrackLocal
	cfg   webrtc.Configuration
}

func (f *boundFactory) NewLink(ctx context.Context, remote domain.ParticipantID) (core.MediaLink, error) {
	pc, err := f.api.NewPeerConnection(f.cfg)
	if err != nil {
		return nil, err
	}
	if f.track != nil {
		_, err = pc.AddTrack(f.track)
	} else {
		_, err = pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly})
	}
	if err != nil {
		_ = pc.Close()
		return nil, err
	}

	l := newLink(pc, f.self, remote, f.signals, f.sink)
	if err := l.start(ctx); err != nil {
		_ = l.Close()
		return nil, err
	}
	return l, nil
}

// DefaultICEServers is used when neither the server nor the config supplies any.
func DefaultICEServers() []webrtc.ICEServer {
	return []webrtc.ICEServer{
		{
			URLs: []string{"stun:stun.l.google.com:19302"},
		},
	}
}
