package vad

import (
	"context"
	"errors"
	"math"
	"math/cmplx"
	"sync"

	"github.com/dkeye/meshvoice/internal/core"
	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

// floorDB is the level reported for an empty bin.
const floorDB = -100.0

// Analyser reports the average spectral energy of the most recent analysis
// window, in decibels.
type Analyser interface {
	AverageEnergy() (float64, error)
}

// SpectrumAnalyser keeps the last 2*bins samples of a PCM stream and turns
// them into a bins-wide magnitude spectrum on demand.
type SpectrumAnalyser struct {
	mu     sync.Mutex
	bins   int
	ring   []float64
	pos    int
	fft    *fourier.FFT
	seq    []float64
	coeffs []complex128
	err    error
}

func NewSpectrumAnalyser(bins int) *SpectrumAnalyser {
	size := 2 * bins
	return &SpectrumAnalyser{
		bins: bins,
		ring: make([]float64, size),
		fft:  fourier.NewFFT(size),
		seq:  make([]float64, size),
	}
}

func (a *SpectrumAnalyser) Write(samples []float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, s := range samples {
		a.ring[a.pos] = s
		a.pos = (a.pos + 1) % len(a.ring)
	}
}

// Fail marks the source as gone; every later AverageEnergy returns err.
func (a *SpectrumAnalyser) Fail(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err == nil {
		a.err = err
	}
}

// Feed copies frames from r into the analyser until r fails or ctx is done.
// A Read already blocked when ctx ends returns once the owner closes the
// source.
func (a *SpectrumAnalyser) Feed(ctx context.Context, r core.AudioReader) {
	for {
		if ctx.Err() != nil {
			return
		}
		frame, err := r.Read()
		if err != nil {
			if !errors.Is(err, core.ErrSourceUnavailable) {
				err = errors.Join(core.ErrSourceUnavailable, err)
			}
			a.Fail(err)
			return
		}
		a.Write(frame.Samples)
	}
}

func (a *SpectrumAnalyser) AverageEnergy() (float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return 0, a.err
	}

	n := len(a.ring)
	// oldest sample first
	copy(a.seq, a.ring[a.pos:])
	copy(a.seq[n-a.pos:], a.ring[:a.pos])
	window.Blackman(a.seq)
	a.coeffs = a.fft.Coefficients(a.coeffs, a.seq)

	var sum float64
	for i := 0; i < a.bins; i++ {
		sum += toDecibels(cmplx.Abs(a.coeffs[i]) / float64(n))
	}
	return sum / float64(a.bins), nil
}

func toDecibels(mag float64) float64 {
	if mag <= 0 {
		return floorDB
	}
	return math.Max(20*math.Log10(mag), floorDB)
}
