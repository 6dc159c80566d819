package resample

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func sineInput(frames, channels, rate int, freq float64) []float32 {
	out := make([]float32, frames*channels)
	for f := 0; f < frames; f++ {
		v := float32(0.5 * math.Sin(2*math.Pi*freq*float64(f)/float64(rate)))
		for c := 0; c < channels; c++ {
			out[f*channels+c] = v * float32(c+1) / float32(channels)
		}
	}
	return out
}

func runAll(t *testing.T, r *Resampler, in []float32, split func(rest int) int) []float32 {
	t.Helper()
	var out []float32
	for len(in) > 0 {
		n := min(split(len(in)), len(in))
		out = append(out, r.Process(in[:n])...)
		in = in[n:]
	}
	out = append(out, r.Flush()...)
	return out
}

func TestNewRejectsBadArguments(t *testing.T) {
	_, err := New(0, 48000, 2)
	require.ErrorIs(t, err, ErrInvalidRate)

	_, err = New(44100, -1, 2)
	require.ErrorIs(t, err, ErrInvalidRate)

	_, err = New(44100, 48000, 0)
	require.ErrorIs(t, err, ErrInvalidChannels)

	_, err = New(1000, 48000, 2)
	require.ErrorIs(t, err, ErrRatioOutOfRange)

	p := DefaultParams()
	p.Cutoff = 1.5
	_, err = NewWithParams(44100, 48000, 2, p)
	require.ErrorIs(t, err, ErrInvalidParams)
}

func TestOutputLengthAfterFlush(t *testing.T) {
	tests := []struct {
		name     string
		in, out  int
		frames   int
		channels int
	}{
		{"44.1k to 48k", 44100, 48000, 4410, 2},
		{"48k to 44.1k", 48000, 44100, 4800, 2},
		{"22.05k to 48k mono", 22050, 48000, 1000, 1},
		{"odd length", 44100, 48000, 1777, 2},
		{"less than one chunk", 32000, 48000, 10, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := New(tt.in, tt.out, tt.channels)
			require.NoError(t, err)

			in := sineInput(tt.frames, tt.channels, tt.in, 440)
			out := runAll(t, r, in, func(int) int { return len(in) })

			want := OutputFrames(tt.frames, tt.in, tt.out)
			require.Equal(t, want*tt.channels, len(out))
		})
	}
}

func TestOneSecondOf44100Yields48000(t *testing.T) {
	r, err := New(44100, 48000, 2)
	require.NoError(t, err)

	in := sineInput(44100, 2, 44100, 1000)
	out := runAll(t, r, in, func(int) int { return 4096 })
	require.Equal(t, 48000*2, len(out))
}

func TestChunkedMatchesSingleShot(t *testing.T) {
	const frames = 5000
	const channels = 2
	in := sineInput(frames, channels, 44100, 997)

	whole, err := New(44100, 48000, channels)
	require.NoError(t, err)
	want := runAll(t, whole, in, func(rest int) int { return rest })

	rng := rand.New(rand.NewSource(7))
	streamed, err := New(44100, 48000, channels)
	require.NoError(t, err)
	got := runAll(t, streamed, in, func(int) int {
		return channels * (1 + rng.Intn(700))
	})

	require.Equal(t, want, got)
}

func TestUnalignedCallsKeepFramesTogether(t *testing.T) {
	const channels = 2
	in := sineInput(3000, channels, 48000, 300)

	a, err := New(48000, 44100, channels)
	require.NoError(t, err)
	want := runAll(t, a, in, func(rest int) int { return rest })

	b, err := New(48000, 44100, channels)
	require.NoError(t, err)
	got := runAll(t, b, in, func(int) int { return 333 })

	require.Equal(t, want, got)
}

func TestMatchesDirectKernelEvaluation(t *testing.T) {
	const inRate, outRate = 44100, 48000
	const frames = 3000
	in := sineInput(frames, 1, inRate, 1500)

	r, err := New(inRate, outRate, 1)
	require.NoError(t, err)
	out := runAll(t, r, in, func(int) int { return 512 })

	fc := DefaultCutoff
	half := DefaultHalfTaps
	sample := func(i int64) float64 {
		if i < 0 || i >= frames {
			return 0
		}
		return float64(in[i])
	}

	for k := 0; k < len(out); k += 37 {
		num := int64(k) * inRate
		ip := num / outRate
		frac := float64(num%outRate) / float64(outRate)

		var ref float64
		for j := -half + 1; j <= half; j++ {
			ref += sample(ip+int64(j)) * Kernel(float64(j)-frac, fc, half)
		}
		require.InDelta(t, ref, float64(out[k]), 5e-3, "output frame %d", k)
	}
}

func TestDownsampleLowersCutoff(t *testing.T) {
	up, err := New(44100, 48000, 1)
	require.NoError(t, err)
	down, err := New(48000, 24000, 1)
	require.NoError(t, err)

	require.InDelta(t, DefaultCutoff, up.fc, 1e-12)
	require.InDelta(t, DefaultCutoff*0.5, down.fc, 1e-12)
}

func TestDCGainIsUnity(t *testing.T) {
	r, err := New(44100, 48000, 1)
	require.NoError(t, err)

	in := make([]float32, 8192)
	for i := range in {
		in[i] = 0.25
	}
	out := runAll(t, r, in, func(int) int { return 1024 })

	// Skip the edges where the zero padding is inside the kernel.
	for i := 200; i < len(out)-200; i++ {
		require.InDelta(t, 0.25, float64(out[i]), 2e-3, "frame %d", i)
	}
}

func TestResetStartsOver(t *testing.T) {
	in := sineInput(2048, 2, 44100, 440)

	r, err := New(44100, 48000, 2)
	require.NoError(t, err)
	first := runAll(t, r, in, func(int) int { return 600 })

	r.Reset()
	second := runAll(t, r, in, func(int) int { return 600 })

	require.Equal(t, first, second)
}

func TestProcessAfterFlushIsEmpty(t *testing.T) {
	r, err := New(44100, 48000, 1)
	require.NoError(t, err)

	r.Process(make([]float32, 100))
	r.Flush()
	require.Empty(t, r.Process(make([]float32, 4096)))
	require.Empty(t, r.Flush())
}

func TestOutputFrames(t *testing.T) {
	require.Equal(t, 48000, OutputFrames(44100, 44100, 48000))
	require.Equal(t, 2, OutputFrames(1, 44100, 96000))
	require.Equal(t, 0, OutputFrames(0, 44100, 48000))
	require.Equal(t, 1, OutputFrames(1, 48000, 44100))
}
