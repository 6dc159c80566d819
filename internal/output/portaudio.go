//go:build portaudio

package output

import (
	"fmt"
	"time"

	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog/log"
)

const BackendPortAudio = "portaudio"

func init() {
	register(BackendPortAudio, func(rate, channels int, buffer time.Duration) Device {
		return NewPortAudio(rate, channels, buffer)
	})
}

type PortAudio struct {
	rate            int
	channels        int
	framesPerBuffer int
}

// NewPortAudio asks for callbacks of a tenth of the requested buffer, which
// keeps latency close to what oto gives for the same setting.
func NewPortAudio(rate, channels int, buffer time.Duration) *PortAudio {
	frames := int(buffer.Seconds() * float64(rate) / 10)
	if frames < 64 {
		frames = 64
	}
	return &PortAudio{rate: rate, channels: channels, framesPerBuffer: frames}
}

func (p *PortAudio) SampleRate() int { return p.rate }
func (p *PortAudio) Channels() int   { return p.channels }

func (p *PortAudio) Start(r Renderer) (Stream, error) {
	return runConfined(func() (func() error, error) {
		if err := portaudio.Initialize(); err != nil {
			return nil, fmt.Errorf("failed to initialize portaudio: %w", err)
		}

		stream, err := portaudio.OpenDefaultStream(0, p.channels, float64(p.rate), p.framesPerBuffer,
			func(out []float32) {
				r.Render(out)
			})
		if err != nil {
			portaudio.Terminate()
			return nil, fmt.Errorf("failed to open output stream: %w", err)
		}

		if err := stream.Start(); err != nil {
			stream.Close()
			portaudio.Terminate()
			return nil, fmt.Errorf("failed to start output stream: %w", err)
		}
		log.Debug().Msgf("PortAudio stream started: %d Hz, %d channels, %d frames/buffer",
			p.rate, p.channels, p.framesPerBuffer)

		return func() error {
			if err := stream.Stop(); err != nil {
				log.Warn().Err(err).Msg("Failed to stop output stream")
			}
			if err := stream.Close(); err != nil {
				log.Warn().Err(err).Msg("Failed to close output stream")
			}
			return portaudio.Terminate()
		}, nil
	})
}
