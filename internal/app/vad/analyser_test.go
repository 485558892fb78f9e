package vad

import (
	"context"
	"errors"
	"math/rand"
	"sync/atomic"
	"testing"

	"github.com/dkeye/meshvoice/internal/core"
	"github.com/stretchr/testify/require"
)

type frameReader struct {
	frames []core.PCMFrame
}

func (r *frameReader) Read() (core.PCMFrame, error) {
	if len(r.frames) == 0 {
		return core.PCMFrame{}, core.ErrSourceUnavailable
	}
	f := r.frames[0]
	r.frames = r.frames[1:]
	return f, nil
}

// endlessReader never runs dry.
type endlessReader struct {
	reads atomic.Int64
}

func (r *endlessReader) Read() (core.PCMFrame, error) {
	r.reads.Add(1)
	return core.PCMFrame{Samples: []float64{0.5, -0.5}}, nil
}

func (r *endlessReader) Reads() int64 { return r.reads.Load() }

func TestSpectrumAnalyserSilence(t *testing.T) {
	a := NewSpectrumAnalyser(512)
	a.Write(make([]float64, 1024))

	e, err := a.AverageEnergy()
	require.NoError(t, err)
	require.Equal(t, floorDB, e)
}

func TestSpectrumAnalyserNoiseIsLouderThanSilence(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	noise := make([]float64, 1024)
	for i := range noise {
		noise[i] = rng.Float64()*2 - 1
	}
	a := NewSpectrumAnalyser(512)
	a.Write(noise)

	e, err := a.AverageEnergy()
	require.NoError(t, err)
	require.Greater(t, e, -60.0)
	require.Less(t, e, 0.0)
}

func TestSpectrumAnalyserFeedFailsWhenSourceEnds(t *testing.T) {
	a := NewSpectrumAnalyser(8)
	a.Feed(context.Background(), &frameReader{frames: []core.PCMFrame{{Samples: []float64{0.1, 0.2}}}})

	_, err := a.AverageEnergy()
	require.True(t, errors.Is(err, core.ErrSourceUnavailable))
}

func TestSpectrumAnalyserFeedStopsWithContext(t *testing.T) {
	a := NewSpectrumAnalyser(8)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := &endlessReader{}
	a.Feed(ctx, r)

	require.Zero(t, r.Reads())
	_, err := a.AverageEnergy()
	require.NoError(t, err)
}
