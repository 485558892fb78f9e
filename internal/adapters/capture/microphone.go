// Package capture acquires the local microphone through pion/mediadevices.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dkeye/meshvoice/internal/core"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/io/audio"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/mediadevices/pkg/wave"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var errNoAudioTrack = errors.New("no audio track in stream")

// Microphone captures the default input device and encodes it with opus.
type Microphone struct {
	selector *mediadevices.CodecSelector
}

func NewMicrophone() (*Microphone, error) {
	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}
	return &Microphone{
		selector: mediadevices.NewCodecSelector(mediadevices.WithAudioEncoders(&opusParams)),
	}, nil
}

// API returns a pion API whose media engine knows the capture codecs.
func (m *Microphone) API() *webrtc.API {
	engine := &webrtc.MediaEngine{}
	m.selector.Populate(engine)
	return webrtc.NewAPI(webrtc.WithMediaEngine(engine))
}

func (m *Microphone) Acquire(ctx context.Context) (core.LocalAudio, error) {
	if err := ctx.Err(); err != nil {
		return nil, &core.MediaAcquisitionError{Err: err}
	}
	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Audio: func(c *mediadevices.MediaTrackConstraints) {
			c.ChannelCount = prop.Int(1)
			c.SampleRate = prop.Int(48000)
			c.Latency = prop.Duration(20 * time.Millisecond)
		},
		Codec: m.selector,
	})
	if err != nil {
		return nil, &core.MediaAcquisitionError{Err: fmt.Errorf("get user media: %w", err)}
	}
	tracks := stream.GetAudioTracks()
	if len(tracks) == 0 {
		return nil, &core.MediaAcquisitionError{Err: errNoAudioTrack}
	}
	at, ok := tracks[0].(*mediadevices.AudioTrack)
	if !ok {
		_ = tracks[0].Close()
		return nil, &core.MediaAcquisitionError{Err: errNoAudioTrack}
	}
	log.Info().Str("module", "capture").Str("track_id", at.ID()).Msg("microphone acquired")
	return &localAudio{track: at}, nil
}

type localAudio struct {
	track *mediadevices.AudioTrack

	once     sync.Once
	closeErr error
}

func (a *localAudio) Track() webrtc.TrackLocal { return a.track }

func (a *localAudio) NewReader() core.AudioReader {
	return &pcmReader{r: a.track.NewReader(false)}
}

func (a *localAudio) Close() error {
	a.once.Do(func() {
		a.closeErr = a.track.Close()
		log.Info().Str("module", "capture").Err(a.closeErr).Msg("microphone released")
	})
	return a.closeErr
}

// pcmReader converts raw capture chunks to mono float samples.
type pcmReader struct {
	r audio.Reader
}

func (p *pcmReader) Read() (core.PCMFrame, error) {
	chunk, release, err := p.r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return core.PCMFrame{}, core.ErrSourceUnavailable
		}
		return core.PCMFrame{}, errors.Join(core.ErrSourceUnavailable, err)
	}
	defer release()
	return toPCM(chunk)
}

var errUnsupportedFormat = errors.New("unsupported sample format")

// toPCM downmixes an interleaved chunk to mono in [-1, 1].
func toPCM(chunk wave.Audio) (core.PCMFrame, error) {
	info := chunk.ChunkInfo()
	channels := info.Channels
	if channels <= 0 {
		channels = 1
	}
	out := core.PCMFrame{Samples: make([]float64, info.Len), SampleRate: info.SamplingRate}

	switch c := chunk.(type) {
	case *wave.Int16Interleaved:
		for i := 0; i < info.Len; i++ {
			var sum float64
			for ch := 0; ch < channels; ch++ {
				sum += float64(c.Data[i*channels+ch]) / 32768
			}
			out.Samples[i] = sum / float64(channels)
		}
	case *wave.Float32Interleaved:
		for i := 0; i < info.Len; i++ {
			var sum float64
			for ch := 0; ch < channels; ch++ {
				sum += float64(c.Data[i*channels+ch])
			}
			out.Samples[i] = sum / float64(channels)
		}
	default:
		return core.PCMFrame{}, fmt.Errorf("%w: %T", errUnsupportedFormat, chunk)
	}
	return out, nil
}
