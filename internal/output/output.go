// Package output binds a real-time render callback to an audio device.
package output

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"
)

var (
	ErrUnknownBackend  = errors.New("unknown audio backend")
	ErrContextMismatch = errors.New("audio context already open with a different format")
)

// Renderer fills out with interleaved float32 samples. It is called from the
// audio thread and must neither block nor allocate.
type Renderer interface {
	Render(out []float32)
}

type RenderFunc func(out []float32)

func (f RenderFunc) Render(out []float32) { f(out) }

type Stream interface {
	Close() error
}

type Device interface {
	SampleRate() int
	Channels() int
	Start(r Renderer) (Stream, error)
}

type Factory func(rate, channels int, buffer time.Duration) Device

var (
	backendsMu sync.Mutex
	backends   = map[string]Factory{}
)

func register(name string, f Factory) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	backends[name] = f
}

// Backends lists the names compiled into this binary.
func Backends() []string {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func New(backend string, rate, channels int, buffer time.Duration) (Device, error) {
	backendsMu.Lock()
	f, ok := backends[backend]
	backendsMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %v)", ErrUnknownBackend, backend, Backends())
	}
	return f(rate, channels, buffer), nil
}

// confinedStream keeps a device stream on one locked OS thread for its whole
// life. Only the stop signal crosses goroutines.
type confinedStream struct {
	stop chan struct{}
	done chan error
	once sync.Once
	err  error
}

// runConfined calls open on a dedicated goroutine locked to its OS thread.
// The closer open returns runs on that same thread when Close is called.
func runConfined(open func() (func() error, error)) (*confinedStream, error) {
	cs := &confinedStream{
		stop: make(chan struct{}),
		done: make(chan error, 1),
	}
	ready := make(chan error, 1)

	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		closeFn, err := open()
		ready <- err
		if err != nil {
			return
		}

		<-cs.stop
		cs.done <- closeFn()
	}()

	if err := <-ready; err != nil {
		return nil, err
	}
	return cs, nil
}

func (cs *confinedStream) Close() error {
	cs.once.Do(func() {
		close(cs.stop)
		cs.err = <-cs.done
	})
	return cs.err
}
