// Package vad classifies the local audio stream into speaking and silent
// states.
package vad

import (
	"context"
	"sync"
	"time"

	"github.com/dkeye/meshvoice/internal/core"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Interval    time.Duration
	ThresholdDB float64
	Bins        int
}

func DefaultConfig() Config {
	return Config{
		Interval:    100 * time.Millisecond,
		ThresholdDB: -45,
		Bins:        512,
	}
}

// Transition is one speaking-state change. Consecutive transitions from the
// same detector always alternate.
type Transition struct {
	Speaking bool
	Energy   float64
	At       time.Time
}

type Option func(*Detector)

// WithTicks replaces the interval ticker, e.g. with synthetic ticks in tests.
func WithTicks(ticks <-chan time.Time) Option {
	return func(d *Detector) { d.ticks = ticks }
}

// WithAnalyser skips building a SpectrumAnalyser over the source.
func WithAnalyser(a Analyser) Option {
	return func(d *Detector) { d.analyser = a }
}

type Detector struct {
	cfg      Config
	source   core.AudioReader
	analyser Analyser
	ticks    <-chan time.Time

	mu          sync.Mutex
	initialized bool
	stopped     bool
	speaking    bool
	cancel      context.CancelFunc
	done        chan struct{}

	out chan Transition
}

// New builds a detector over source. A non-positive Interval or Bins falls
// back to the DefaultConfig value.
func New(source core.AudioReader, cfg Config, opts ...Option) *Detector {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Bins <= 0 {
		cfg.Bins = def.Bins
	}
	d := &Detector{
		cfg:    cfg,
		source: source,
		out:    make(chan Transition, 1),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Transitions is closed once the detector has stopped.
func (d *Detector) Transitions() <-chan Transition { return d.out }

func (d *Detector) Speaking() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.speaking
}

// Init starts the periodic check. Calling it again is a no-op.
func (d *Detector) Init(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.initialized || d.stopped {
		return
	}
	d.initialized = true

	var stopTicker func()
	if d.ticks == nil {
		t := time.NewTicker(d.cfg.Interval)
		d.ticks = t.C
		stopTicker = t.Stop
	}

	ctx, d.cancel = context.WithCancel(ctx)
	d.done = make(chan struct{})
	if d.analyser == nil {
		sa := NewSpectrumAnalyser(d.cfg.Bins)
		go sa.Feed(ctx, d.source)
		d.analyser = sa
	}
	go d.loop(ctx, stopTicker)

	log.Debug().Str("module", "vad").Dur("interval", d.cfg.Interval).Float64("threshold_db", d.cfg.ThresholdDB).Int("bins", d.cfg.Bins).Msg("detector started")
}

// Stop cancels the periodic check. No transition is delivered after Stop
// returns.
func (d *Detector) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	cancel, done := d.cancel, d.done
	d.mu.Unlock()

	if cancel == nil {
		close(d.out)
		return
	}
	cancel()
	<-done
}

func (d *Detector) loop(ctx context.Context, stopTicker func()) {
	defer close(d.done)
	defer close(d.out)
	if stopTicker != nil {
		defer stopTicker()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-d.ticks:
			energy, err := d.analyser.AverageEnergy()
			if err != nil {
				log.Warn().Err(err).Str("module", "vad").Msg("audio source unavailable, stopping detector")
				return
			}
			t, changed := d.check(energy, now)
			if !changed {
				continue
			}
			select {
			case d.out <- t:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (d *Detector) check(energy float64, now time.Time) (Transition, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	next := classify(energy, d.cfg.ThresholdDB)
	if next == d.speaking {
		return Transition{}, false
	}
	d.speaking = next
	return Transition{Speaking: next, Energy: energy, At: now}, true
}

// classify applies the threshold crossing rule. Only the sampled energy is
// compared, so the state can flip at most once per check.
func classify(energy, threshold float64) bool {
	return energy > threshold
}
