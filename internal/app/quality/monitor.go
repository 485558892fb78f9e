// Package quality scores the health of one peer link from its inbound audio
// transport statistics.
package quality

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/dkeye/meshvoice/internal/core"
	"github.com/dkeye/meshvoice/internal/domain"
	"github.com/dkeye/meshvoice/internal/events"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const DefaultInterval = 2 * time.Second

const (
	lossScale   = 1000.0
	jitterScale = 100.0 // ms
)

// Score maps one sample into [0, 1]: the mean of a packet-loss score and a
// jitter score, each falling linearly to zero.
func Score(s core.QualitySample) float64 {
	loss := clamp01(1 - float64(s.PacketsLost)/lossScale)
	jitter := clamp01(1 - s.Jitter/jitterScale)
	return (loss + jitter) / 2
}

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}

type Option func(*Monitor)

// WithTicks replaces the sampling ticker.
func WithTicks(ticks <-chan time.Time) Option {
	return func(m *Monitor) { m.ticks = ticks }
}

// Monitor samples one connection. It is started and stopped by the
// connection that owns it and never outlives it.
type Monitor struct {
	participant domain.ParticipantID
	source      core.StatsSource
	pub         events.Publisher
	interval    time.Duration
	ticks       <-chan time.Time
	logger      zerolog.Logger

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
	last    core.QualitySample
	score   float64
}

func NewMonitor(pid domain.ParticipantID, source core.StatsSource, pub events.Publisher, interval time.Duration, opts ...Option) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	m := &Monitor{
		participant: pid,
		source:      source,
		pub:         pub,
		interval:    interval,
		logger:      log.With().Str("module", "quality").Str("participant", string(pid)).Logger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// StartMonitoring begins periodic sampling. Calling it twice is a no-op.
func (m *Monitor) StartMonitoring(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started || m.stopped {
		return
	}
	m.started = true

	var stopTicker func()
	ticks := m.ticks
	if ticks == nil {
		t := time.NewTicker(m.interval)
		ticks = t.C
		stopTicker = t.Stop
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)
		if stopTicker != nil {
			defer stopTicker()
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticks:
				m.sample()
			}
		}
	}()
}

// Stop releases the timer; it waits for an in-progress sample to finish.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// Last returns the most recent score and the sample it came from.
func (m *Monitor) Last() (float64, core.QualitySample) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.score, m.last
}

func (m *Monitor) sample() {
	samples, err := m.source.InboundAudioStats()
	if err != nil {
		m.logger.Debug().Err(err).Msg("stats unavailable")
		return
	}
	for _, s := range samples {
		q := Score(s)
		m.mu.Lock()
		m.last, m.score = s, q
		m.mu.Unlock()

		m.pub.Publish(events.QualityUpdate{
			ParticipantID: m.participant,
			Quality:       q,
			Stats:         s,
		})
	}
}
