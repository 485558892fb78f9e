package capture

import (
	"testing"

	"github.com/pion/mediadevices/pkg/wave"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToPCMInt16Stereo(t *testing.T) {
	chunk := wave.NewInt16Interleaved(wave.ChunkInfo{Len: 2, Channels: 2, SamplingRate: 48000})
	copy(chunk.Data, []int16{16384, 16384, -32768, 0})

	frame, err := toPCM(chunk)

	require.NoError(t, err)
	assert.Equal(t, 48000, frame.SampleRate)
	assert.InDeltaSlice(t, []float64{0.5, -0.5}, frame.Samples, 1e-9)
}

func TestToPCMFloat32Mono(t *testing.T) {
	chunk := wave.NewFloat32Interleaved(wave.ChunkInfo{Len: 3, Channels: 1, SamplingRate: 16000})
	copy(chunk.Data, []float32{0.25, -1, 1})

	frame, err := toPCM(chunk)

	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.25, -1, 1}, frame.Samples, 1e-9)
}

func TestToPCMUnsupported(t *testing.T) {
	chunk := wave.NewInt16NonInterleaved(wave.ChunkInfo{Len: 1, Channels: 1, SamplingRate: 8000})

	_, err := toPCM(chunk)
	require.ErrorIs(t, err, errUnsupportedFormat)
}
