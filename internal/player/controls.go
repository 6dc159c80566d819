package player

import (
	"math"
	"sync/atomic"
	"time"
)

type PlayerState int

const (
	StateIdle PlayerState = iota
	StateBuffering
	StatePlaying
	StatePaused
	StateSeeking
	StateFinished
)

func (s PlayerState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateBuffering:
		return "BUFFERING"
	case StatePlaying:
		return "PLAYING"
	case StatePaused:
		return "PAUSED"
	case StateSeeking:
		return "SEEKING"
	case StateFinished:
		return "FINISHED"
	default:
		return "UNKNOWN"
	}
}

// ControlState is shared between the controlling goroutine, the decode
// goroutine and the audio callback. Every field is a lone atomic so the
// callback never waits on anyone.
type ControlState struct {
	paused   atomic.Bool
	seeking  atomic.Bool
	finished atomic.Bool
	volume   atomic.Uint64 // float64 bits
	played   atomic.Int64  // frames handed to the device
	rate     int64
}

func NewControlState(sampleRate int, volume float64) *ControlState {
	c := &ControlState{rate: int64(sampleRate)}
	c.SetVolume(volume)
	return c
}

func (c *ControlState) Pause()         { c.paused.Store(true) }
func (c *ControlState) Resume()        { c.paused.Store(false) }
func (c *ControlState) IsPaused() bool { return c.paused.Load() }

// SetVolume clamps v to [0, 1]. NaN counts as silence.
func (c *ControlState) SetVolume(v float64) {
	switch {
	case math.IsNaN(v), v < 0:
		v = 0
	case v > 1:
		v = 1
	}
	c.volume.Store(math.Float64bits(v))
}

func (c *ControlState) Volume() float64 {
	return math.Float64frombits(c.volume.Load())
}

func (c *ControlState) gain() float32 {
	return float32(c.Volume())
}

// Position is the played time in whole seconds.
func (c *ControlState) Position() time.Duration {
	if c.rate <= 0 {
		return 0
	}
	return time.Duration(c.played.Load()/c.rate) * time.Second
}

func (c *ControlState) setPosition(d time.Duration) {
	c.played.Store(int64(d.Round(time.Second)/time.Second) * c.rate)
}

func (c *ControlState) advance(frames int) {
	c.played.Add(int64(frames))
}

func (c *ControlState) IsSeeking() bool { return c.seeking.Load() }

// finish is one-way; nothing clears it.
func (c *ControlState) finish()          { c.finished.Store(true) }
func (c *ControlState) IsFinished() bool { return c.finished.Load() }

func (c *ControlState) State() PlayerState {
	switch {
	case c.IsFinished():
		return StateFinished
	case c.IsSeeking():
		return StateSeeking
	case c.IsPaused():
		return StatePaused
	default:
		return StatePlaying
	}
}
