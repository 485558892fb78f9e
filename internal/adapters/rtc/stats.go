package rtc

import (
	"sort"
	"time"

	"github.com/dkeye/meshvoice/internal/core"
	"github.com/pion/webrtc/v4"
)

// inboundAudioSamples extracts one sample per inbound audio stream. The round
// trip time comes from the nominated candidate pair; jitter is converted from
// seconds to milliseconds.
func inboundAudioSamples(report webrtc.StatsReport) []core.QualitySample {
	var rtt time.Duration
	for _, s := range report {
		if pair, ok := s.(webrtc.ICECandidatePairStats); ok && pair.Nominated {
			rtt = time.Duration(pair.CurrentRoundTripTime * float64(time.Second))
		}
	}

	var out []core.QualitySample
	for _, s := range report {
		in, ok := s.(webrtc.InboundRTPStreamStats)
		if !ok || in.Kind != "audio" {
			continue
		}
		out = append(out, core.QualitySample{
			PacketsLost:   int64(in.PacketsLost),
			Jitter:        in.Jitter * 1000,
			RoundTripTime: rtt,
			Timestamp:     in.Timestamp.Time(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}
