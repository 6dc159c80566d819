package output

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/rs/zerolog/log"
)

const BackendOto = "oto"

func init() {
	register(BackendOto, func(rate, channels int, buffer time.Duration) Device {
		return NewOto(rate, channels, buffer)
	})
}

// oto allows a single context per process.
var (
	otoMu       sync.Mutex
	otoCtx      *oto.Context
	otoRate     int
	otoChannels int
)

func otoContext(rate, channels int, buffer time.Duration) (*oto.Context, error) {
	otoMu.Lock()
	defer otoMu.Unlock()

	if otoCtx != nil {
		if rate != otoRate || channels != otoChannels {
			return nil, fmt.Errorf("%w: have %d Hz/%d ch, want %d Hz/%d ch",
				ErrContextMismatch, otoRate, otoChannels, rate, channels)
		}
		return otoCtx, nil
	}

	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   rate,
		ChannelCount: channels,
		Format:       oto.FormatFloat32LE,
		BufferSize:   buffer,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio output: %w", err)
	}
	<-ready

	otoCtx, otoRate, otoChannels = ctx, rate, channels
	log.Debug().Msgf("Audio context initialized: %d Hz, %d channels, buffer %v", rate, channels, buffer)
	return ctx, nil
}

type Oto struct {
	rate     int
	channels int
	buffer   time.Duration
}

func NewOto(rate, channels int, buffer time.Duration) *Oto {
	return &Oto{rate: rate, channels: channels, buffer: buffer}
}

func (o *Oto) SampleRate() int { return o.rate }
func (o *Oto) Channels() int   { return o.channels }

func (o *Oto) Start(r Renderer) (Stream, error) {
	return runConfined(func() (func() error, error) {
		ctx, err := otoContext(o.rate, o.channels, o.buffer)
		if err != nil {
			return nil, err
		}

		player := ctx.NewPlayer(newRenderReader(r, o.channels))
		player.Play()

		return func() error {
			player.Pause()
			return player.Close()
		}, nil
	})
}

// renderReader adapts a Renderer to the io.Reader oto pulls from.
type renderReader struct {
	r        Renderer
	channels int
	scratch  []float32
}

func newRenderReader(r Renderer, channels int) *renderReader {
	return &renderReader{
		r:        r,
		channels: channels,
		scratch:  make([]float32, 8192),
	}
}

func (rr *renderReader) Read(p []byte) (int, error) {
	frameBytes := 4 * rr.channels
	samples := (len(p) / frameBytes) * rr.channels
	if samples == 0 {
		return 0, nil
	}

	// Grows at most a few times while oto settles on its request size.
	if len(rr.scratch) < samples {
		rr.scratch = make([]float32, samples)
	}
	buf := rr.scratch[:samples]
	rr.r.Render(buf)

	for i, v := range buf {
		binary.LittleEndian.PutUint32(p[i*4:], math.Float32bits(v))
	}
	return samples * 4, nil
}
