// Package resample converts interleaved float32 PCM between sample rates with
// a streaming band-limited (windowed-sinc) interpolator.
//
// Input is consumed in fixed-size per-channel chunks. Samples that do not fill
// a whole chunk are held back until the next call, and the interpolator keeps
// enough history across chunk boundaries that the concatenated output of any
// sequence of Process calls is identical to processing the same input in one
// call.
package resample

import (
	"errors"
	"fmt"
	"math"
)

const (
	DefaultChunkFrames = 1024
	DefaultHalfTaps    = 64
	DefaultCutoff      = 0.95
	DefaultOversample  = 256

	// MaxRatio bounds out/in (and in/out) to keep the kernel meaningful.
	MaxRatio = 16
)

var (
	ErrInvalidRate     = errors.New("resample: sample rates must be positive")
	ErrRatioOutOfRange = errors.New("resample: conversion ratio out of range")
	ErrInvalidChannels = errors.New("resample: channel count must be positive")
	ErrInvalidParams   = errors.New("resample: invalid filter parameters")
)

// Blackman-Harris window coefficients.
const (
	bh0 = 0.35875
	bh1 = 0.48829
	bh2 = 0.14128
	bh3 = 0.01168
)

type Params struct {
	ChunkFrames int
	HalfTaps    int
	Cutoff      float64
	Oversample  int
}

func DefaultParams() Params {
	return Params{
		ChunkFrames: DefaultChunkFrames,
		HalfTaps:    DefaultHalfTaps,
		Cutoff:      DefaultCutoff,
		Oversample:  DefaultOversample,
	}
}

// Resampler is not safe for concurrent use.
type Resampler struct {
	inRate   int64
	outRate  int64
	channels int
	chunk    int
	half     int

	fc         float64
	oversample int
	table      []float64
	weights    []float64

	pending []float32
	hist    [][]float32
	base    int64 // absolute input frame index of hist[c][0]
	fed     int64 // input frames consumed so far
	next    int64 // next output frame index
	flushed bool

	out []float32
}

func New(inRate, outRate, channels int) (*Resampler, error) {
	return NewWithParams(inRate, outRate, channels, DefaultParams())
}

func NewWithParams(inRate, outRate, channels int, p Params) (*Resampler, error) {
	if inRate <= 0 || outRate <= 0 {
		return nil, ErrInvalidRate
	}
	if outRate > inRate*MaxRatio || inRate > outRate*MaxRatio {
		return nil, fmt.Errorf("%w: %d -> %d", ErrRatioOutOfRange, inRate, outRate)
	}
	if channels <= 0 {
		return nil, ErrInvalidChannels
	}
	if p.ChunkFrames <= 0 || p.HalfTaps <= 0 || p.Oversample <= 0 || p.Cutoff <= 0 || p.Cutoff > 1 {
		return nil, fmt.Errorf("%w: %+v", ErrInvalidParams, p)
	}

	g := gcd(int64(inRate), int64(outRate))
	fc := p.Cutoff
	if outRate < inRate {
		fc *= float64(outRate) / float64(inRate)
	}

	r := &Resampler{
		inRate:     int64(inRate) / g,
		outRate:    int64(outRate) / g,
		channels:   channels,
		chunk:      p.ChunkFrames,
		half:       p.HalfTaps,
		fc:         fc,
		oversample: p.Oversample,
		weights:    make([]float64, 2*p.HalfTaps),
		hist:       make([][]float32, channels),
	}
	r.buildTable()
	r.Reset()
	return r, nil
}

func (r *Resampler) Channels() int { return r.channels }


// Reset drops all buffered input and history, as after a seek.
func (r *Resampler) Reset() {
	r.pending = r.pending[:0]
	for c := range r.hist {
		if cap(r.hist[c]) < r.half {
			r.hist[c] = make([]float32, r.half, r.half+r.chunk*2)
		}
		r.hist[c] = r.hist[c][:r.half]
		clear(r.hist[c])
	}
	r.base = -int64(r.half)
	r.fed = 0
	r.next = 0
	r.flushed = false
}

// Process queues interleaved input and returns every output sample that can
// be computed so far. The returned slice is reused by the next call.
func (r *Resampler) Process(in []float32) []float32 {
	r.out = r.out[:0]
	if r.flushed {
		return r.out
	}

	r.pending = append(r.pending, in...)
	step := r.chunk * r.channels

	off := 0
	for len(r.pending)-off >= step {
		r.feed(r.pending[off : off+step])
		r.emit(false)
		off += step
	}
	if off > 0 {
		n := copy(r.pending, r.pending[off:])
		r.pending = r.pending[:n]
	}

	return r.out
}

// Flush consumes any partial chunk, pads the lookahead with silence and
// returns the remaining output. After Flush the total output length is
// ceil(inputFrames * out / in) frames. Further Process calls return nothing
// until Reset.
func (r *Resampler) Flush() []float32 {
	r.out = r.out[:0]
	if r.flushed {
		return r.out
	}
	r.flushed = true

	whole := len(r.pending) - len(r.pending)%r.channels
	if whole > 0 {
		r.feed(r.pending[:whole])
	}
	r.pending = r.pending[:0]

	for c := range r.hist {
		for i := 0; i < r.half; i++ {
			r.hist[c] = append(r.hist[c], 0)
		}
	}
	r.emit(true)

	return r.out
}

func (r *Resampler) feed(chunk []float32) {
	frames := len(chunk) / r.channels
	for c := 0; c < r.channels; c++ {
		h := r.hist[c]
		for f := 0; f < frames; f++ {
			h = append(h, chunk[f*r.channels+c])
		}
		r.hist[c] = h
	}
	r.fed += int64(frames)
}

func (r *Resampler) emit(final bool) {
	end := r.base + int64(len(r.hist[0]))
	half := int64(r.half)
	taps := 2 * r.half

	for {
		num := r.next * r.inRate
		ip := num / r.outRate
		if ip+half >= end {
			break
		}
		if final && ip >= r.fed {
			break
		}

		frac := float64(num%r.outRate) / float64(r.outRate)
		for j := 0; j < taps; j++ {
			r.weights[j] = r.tap(float64(j-r.half+1) - frac)
		}

		off := int(ip - half + 1 - r.base)
		for c := 0; c < r.channels; c++ {
			src := r.hist[c][off : off+taps]
			var acc float64
			for j, w := range r.weights {
				acc += float64(src[j]) * w
			}
			r.out = append(r.out, float32(acc))
		}
		r.next++
	}

	r.trim()
}

// trim drops history no future output can reach.
func (r *Resampler) trim() {
	ip := (r.next * r.inRate) / r.outRate
	keepFrom := ip - int64(r.half) + 1
	drop := int(keepFrom - r.base)
	if drop <= 0 {
		return
	}
	for c := range r.hist {
		n := copy(r.hist[c], r.hist[c][drop:])
		r.hist[c] = r.hist[c][:n]
	}
	r.base = keepFrom
}

func (r *Resampler) buildTable() {
	n := r.half*r.oversample + 2
	r.table = make([]float64, n)
	for i := range r.table {
		r.table[i] = Kernel(float64(i)/float64(r.oversample), r.fc, r.half)
	}
}

func (r *Resampler) tap(x float64) float64 {
	ax := math.Abs(x)
	if ax >= float64(r.half) {
		return 0
	}
	pos := ax * float64(r.oversample)
	i := int(pos)
	f := pos - float64(i)
	return r.table[i] + (r.table[i+1]-r.table[i])*f
}

// Kernel evaluates the windowed-sinc impulse response at distance x (in input
// samples) for normalized cutoff fc and half-width half.
func Kernel(x, fc float64, half int) float64 {
	h := float64(half)
	if math.Abs(x) >= h {
		return 0
	}
	u := (x + h) / (2 * h)
	w := bh0 - bh1*math.Cos(2*math.Pi*u) + bh2*math.Cos(4*math.Pi*u) - bh3*math.Cos(6*math.Pi*u)
	return fc * sinc(fc*x) * w
}

func sinc(x float64) float64 {
	if x == 0 {
		return 1
	}
	px := math.Pi * x
	return math.Sin(px) / px
}

func gcd(a, b int64) int64 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// OutputFrames is the number of frames Flush-terminated processing of n input
// frames produces.
func OutputFrames(n, inRate, outRate int) int {
	num := int64(n) * int64(outRate)
	return int((num + int64(inRate) - 1) / int64(inRate))
}
