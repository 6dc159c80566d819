// Package player runs one playback session: a decode goroutine feeding a
// lock-free ring that the device callback drains.
package player

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/glebovdev/termplay/internal/output"
	"github.com/glebovdev/termplay/internal/resample"
	"github.com/glebovdev/termplay/internal/ring"
	"github.com/glebovdev/termplay/internal/source"
	"github.com/rs/zerolog/log"
)

const (
	DefaultBufferDuration = 500 * time.Millisecond
	RingHeadroom          = 2048
	DecodeIdle            = time.Millisecond
	SeekIdle              = 5 * time.Millisecond
	SeekSettle            = 100 * time.Millisecond
	DrainTimeout          = 5 * time.Second
)

// Source is what a session decodes from. *source.Source satisfies it.
type Source interface {
	Track() source.Track
	Seekable() bool
	Reader() source.FormatReader
	Decoder() source.Decoder
	Info() source.Info
	Close() error
}

type Resampler interface {
	Process(in []float32) []float32
	Flush() []float32
	Reset()
}

type ResamplerFactory func(inRate, outRate, channels int) (Resampler, error)

func defaultResampler(inRate, outRate, channels int) (Resampler, error) {
	return resample.New(inRate, outRate, channels)
}

type Options struct {
	// Volume is the initial gain in [0, 1].
	Volume float64
	// RingCapacity is in samples; zero means DefaultBufferDuration of audio.
	RingCapacity int
	SeekSettle   time.Duration
	DrainTimeout time.Duration
	NewResampler ResamplerFactory
}

func (o Options) withDefaults(rate, channels int) Options {
	if o.RingCapacity <= 0 {
		o.RingCapacity = int(int64(rate) * int64(channels) * int64(DefaultBufferDuration) / int64(time.Second))
	}
	if o.SeekSettle <= 0 {
		o.SeekSettle = SeekSettle
	}
	if o.DrainTimeout <= 0 {
		o.DrainTimeout = DrainTimeout
	}
	if o.NewResampler == nil {
		o.NewResampler = defaultResampler
	}
	return o
}

type Session struct {
	src      Source
	track    source.Track
	rate     int
	channels int
	opts     Options

	ctrl *ControlState
	ring *ring.Buffer

	// mu guards the reader and decoder; the decode loop, Seek and Close take it.
	mu      sync.Mutex
	seekGen atomic.Uint64

	// seekMu keeps one Seek in flight so the seeking flag has a single owner.
	seekMu sync.Mutex

	// Owned by the decode goroutine.
	resampler Resampler
	mapped    []float32
	pending   []float32
	buf       []float32

	stream    output.Stream
	wg        sync.WaitGroup
	closeOnce sync.Once

	errMu sync.Mutex
	err   error
}

// Play starts decoding src into dev. The session owns src from here on,
// including when Play fails.
func Play(src Source, dev output.Device, opts Options) (*Session, error) {
	info := src.Info()
	if dev.SampleRate() <= 0 || dev.Channels() <= 0 {
		src.Close()
		return nil, &source.SetupError{Origin: info.Origin, Err: ErrInvalidDevice}
	}

	opts = opts.withDefaults(dev.SampleRate(), dev.Channels())
	capacity := opts.RingCapacity - opts.RingCapacity%dev.Channels()
	if capacity < RingHeadroom+dev.Channels() {
		capacity = RingHeadroom + dev.Channels()
	}

	s := &Session{
		src:      src,
		track:    src.Track(),
		rate:     dev.SampleRate(),
		channels: dev.Channels(),
		opts:     opts,
		ctrl:     NewControlState(dev.SampleRate(), opts.Volume),
		ring:     ring.New(capacity),
	}

	if s.track.SampleRate != s.rate {
		r, err := opts.NewResampler(s.track.SampleRate, s.rate, s.channels)
		if err != nil {
			log.Warn().Err(err).Msgf("Resampler unavailable, playing %d Hz unresampled at %d Hz", s.track.SampleRate, s.rate)
		} else {
			s.resampler = r
			log.Debug().Msgf("Resampling %d Hz -> %d Hz", s.track.SampleRate, s.rate)
		}
	}

	s.wg.Add(1)
	go s.decodeLoop()

	stream, err := dev.Start(s)
	if err != nil {
		s.ctrl.finish()
		s.wg.Wait()
		src.Close()
		return nil, &source.SetupError{Origin: info.Origin, Err: fmt.Errorf("failed to start audio output: %w", err)}
	}
	s.stream = stream

	log.Debug().Msgf("Playing %s: %s %d Hz %d ch -> %d Hz %d ch",
		info.Origin, s.track.Codec, s.track.SampleRate, s.track.Channels, s.rate, s.channels)
	return s, nil
}

// Render is the device callback.
func (s *Session) Render(out []float32) {
	if s.ctrl.IsSeeking() {
		s.ring.Discard()
		clear(out)
		return
	}
	if s.ctrl.IsPaused() || s.ctrl.IsFinished() {
		clear(out)
		return
	}

	n := s.ring.Pop(out)
	gain := s.ctrl.gain()
	for i := 0; i < n; i++ {
		out[i] *= gain
	}
	clear(out[n:])

	if n > 0 {
		s.ctrl.advance(n / s.channels)
	}
}

func (s *Session) decodeLoop() {
	defer s.wg.Done()
	defer log.Debug().Msg("Decode goroutine stopped")

	var gen uint64
	for {
		if s.ctrl.IsFinished() {
			return
		}

		if s.ctrl.IsSeeking() {
			s.dropPending()
			gen = s.seekGen.Load()
			time.Sleep(SeekIdle)
			continue
		}

		if err := s.fill(&gen); err != nil {
			if s.drain(err, gen) {
				return
			}
			continue
		}

		time.Sleep(DecodeIdle)
	}
}

// fill tops up the ring until only headroom is left.
func (s *Session) fill(gen *uint64) error {
	for s.ring.Free() > RingHeadroom {
		if len(s.pending) > 0 {
			if !s.push() {
				return nil
			}
			continue
		}

		if s.ctrl.IsSeeking() || s.ctrl.IsFinished() {
			return nil
		}

		samples, g, err := s.decodeNext()
		if err != nil {
			return err
		}
		if g != *gen {
			s.dropPending()
			*gen = g
		}
		s.enqueue(samples)
	}
	return nil
}

// decodeNext reads packets until one belongs to the selected track.
func (s *Session) decodeNext() ([]float32, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		pkt, err := s.src.Reader().NextPacket()
		if err != nil {
			return nil, s.seekGen.Load(), err
		}
		if pkt.TrackID != s.track.ID {
			continue
		}

		samples, err := s.src.Decoder().Decode(pkt)
		return samples, s.seekGen.Load(), err
	}
}

func (s *Session) enqueue(samples []float32) {
	if len(samples) == 0 {
		return
	}
	mapped := s.mapChannels(samples)
	if s.resampler != nil {
		mapped = s.resampler.Process(mapped)
	}
	if len(s.pending) == 0 {
		s.pending = s.buf[:0]
	}
	s.pending = append(s.pending, mapped...)
	if len(s.pending) == len(mapped) {
		s.buf = s.pending
	}
}

// push moves whole frames from pending into the ring and reports whether
// pending was emptied.
func (s *Session) push() bool {
	free := s.ring.Free()
	free -= free % s.channels
	n := s.ring.Push(s.pending[:min(len(s.pending), free)])

	s.pending = s.pending[n:]
	if len(s.pending) == 0 {
		s.pending = s.buf[:0]
		return true
	}
	return false
}

func (s *Session) dropPending() {
	s.pending = s.buf[:0]
	if s.resampler != nil {
		s.resampler.Reset()
	}
}

// mapChannels converts track-channel frames into device-channel frames. Mono
// is copied to every output channel; extra input channels are dropped.
func (s *Session) mapChannels(in []float32) []float32 {
	from, to := s.track.Channels, s.channels
	if from == to {
		return in
	}

	frames := len(in) / from
	if cap(s.mapped) < frames*to {
		s.mapped = make([]float32, frames*to)
	}
	out := s.mapped[:frames*to]

	for f := 0; f < frames; f++ {
		src := in[f*from : f*from+from]
		dst := out[f*to : f*to+to]
		for c := range dst {
			switch {
			case from == 1:
				dst[c] = src[0]
			case c < from:
				dst[c] = src[c]
			default:
				dst[c] = 0
			}
		}
	}
	return out
}

// drain handles end of stream: flush the resampler tail, let the device play
// out the ring, then mark the session finished. It returns false if a seek
// arrived meanwhile and decoding should resume.
func (s *Session) drain(cause error, gen uint64) bool {
	if !errors.Is(cause, io.EOF) {
		log.Error().Err(cause).Msg("Stream decoding error")
		s.setErr(cause)
	} else {
		log.Debug().Msg("End of stream")
	}

	if s.resampler != nil {
		s.pending = append(s.pending, s.resampler.Flush()...)
	}

	seeked := func() bool {
		return s.ctrl.IsSeeking() || s.seekGen.Load() != gen
	}

	var waited time.Duration
	for len(s.pending) > 0 || s.ring.Len() > 0 {
		if s.ctrl.IsFinished() {
			return true
		}
		if seeked() {
			s.clearErr()
			return false
		}
		if len(s.pending) > 0 {
			s.push()
		}
		if waited > s.opts.DrainTimeout {
			log.Warn().Int("samples", s.ring.Len()).Msg("Output did not drain in time")
			break
		}

		time.Sleep(DecodeIdle)
		if !s.ctrl.IsPaused() {
			waited += DecodeIdle
		}
	}

	if seeked() {
		s.clearErr()
		return false
	}
	s.ctrl.finish()
	return true
}

// Seek jumps to d. Negative targets start from the beginning. Concurrent
// calls run one after another.
func (s *Session) Seek(d time.Duration) error {
	if !s.src.Seekable() {
		return ErrSeekUnsupported
	}
	if d < 0 {
		d = 0
	}

	s.seekMu.Lock()
	defer s.seekMu.Unlock()

	if s.ctrl.IsFinished() {
		return fmt.Errorf("%w: playback has finished", ErrSeekFailed)
	}

	s.ctrl.seeking.Store(true)
	defer s.ctrl.seeking.Store(false)

	time.Sleep(s.opts.SeekSettle)

	s.mu.Lock()
	if s.ctrl.IsFinished() {
		s.mu.Unlock()
		return fmt.Errorf("%w: playback has finished", ErrSeekFailed)
	}
	landed, err := s.src.Reader().Seek(d)
	if err == nil {
		s.src.Decoder().Reset()
		s.seekGen.Add(1)
	}
	s.mu.Unlock()

	if err != nil {
		log.Warn().Err(err).Msgf("Seek to %v failed", d)
		return fmt.Errorf("%w: %w", ErrSeekFailed, err)
	}

	// Past the end the reader clamps; report where it actually went.
	if d-landed > time.Second {
		d = landed
	}
	s.ctrl.setPosition(d)
	log.Debug().Msgf("Seeked to %v", d.Round(time.Second))

	time.Sleep(s.opts.SeekSettle / 2)
	return nil
}

func (s *Session) Pause()                  { s.ctrl.Pause() }
func (s *Session) Resume()                 { s.ctrl.Resume() }
func (s *Session) IsPaused() bool          { return s.ctrl.IsPaused() }
func (s *Session) Volume() float64         { return s.ctrl.Volume() }
func (s *Session) SetVolume(v float64)     { s.ctrl.SetVolume(v) }
func (s *Session) Position() time.Duration { return s.ctrl.Position() }
func (s *Session) IsEmpty() bool           { return s.ctrl.IsFinished() }
func (s *Session) State() PlayerState      { return s.ctrl.State() }
func (s *Session) Info() source.Info       { return s.src.Info() }

func (s *Session) TogglePause() {
	if s.IsPaused() {
		s.Resume()
		log.Debug().Msg("Playback resumed")
	} else {
		s.Pause()
		log.Debug().Msg("Playback paused")
	}
}

// Resampling reports whether samples go through the rate converter.
func (s *Session) Resampling() bool { return s.resampler != nil }

// BufferHealth is the ring fill level as a percentage (0-100).
func (s *Session) BufferHealth() int {
	capacity := s.ring.Cap()
	if capacity == 0 {
		return 0
	}
	return s.ring.Len() * 100 / capacity
}

// Err is the decode error that ended playback, if any.
func (s *Session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *Session) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	s.err = err
}

func (s *Session) clearErr() { s.setErr(nil) }

// Close stops the device stream, then the decode goroutine, then releases the
// source. A Seek still in flight sees the finished flag under the reader lock
// and leaves the closed source alone. Safe to call more than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.ctrl.finish()
		if s.stream != nil {
			if cerr := s.stream.Close(); cerr != nil {
				log.Warn().Err(cerr).Msg("Failed to close output stream")
			}
		}
		s.wg.Wait()

		s.mu.Lock()
		err = s.src.Close()
		s.mu.Unlock()
		log.Debug().Msg("Playback stopped")
	})
	return err
}
