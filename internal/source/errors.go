package source

import (
	"errors"
	"fmt"
)

var (
	ErrProbeFailed       = errors.New("no decoder recognised the source")
	ErrNoDecodableTrack  = errors.New("no decodable audio track")
	ErrUnknownSampleRate = errors.New("track has no sample rate")
	ErrUnsupportedOrigin = errors.New("unsupported origin")
	ErrNotSeekable       = errors.New("source is not seekable")
)

// SetupError means a play attempt could not start. In a batch the caller
// moves on to the next item.
type SetupError struct {
	Origin string
	Err    error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("cannot play %s: %v", e.Origin, e.Err)
}

func (e *SetupError) Unwrap() error { return e.Err }

func setupErr(origin string, err error) error {
	var se *SetupError
	if errors.As(err, &se) {
		return err
	}
	return &SetupError{Origin: origin, Err: err}
}
