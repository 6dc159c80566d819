package netstream

import (
	"errors"
	"fmt"
)

var (
	ErrHTTP                  = errors.New("http error")
	ErrTooManyRedirects      = errors.New("too many redirects")
	ErrMissingLocation       = errors.New("redirect without Location header")
	ErrBufferTimeout         = errors.New("timed out waiting for stream data")
	ErrReadTimeout           = errors.New("read timeout")
	ErrUnsupportedStreamType = errors.New("unsupported stream type")
	ErrClosed                = errors.New("stream closed")
)

// HTTPError is returned when the final response is not a success.
type HTTPError struct {
	StatusCode int
	Status     string
	URL        string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("stream returned status %d: %s", e.StatusCode, e.Status)
}

func (e *HTTPError) Unwrap() error { return ErrHTTP }

// IsNonRetryable reports whether reconnecting to the same URL is pointless.
func IsNonRetryable(err error) bool {
	var statusErr *HTTPError
	if errors.As(err, &statusErr) {
		switch statusErr.StatusCode {
		case 401, 403, 404, 410:
			return true
		}
	}
	return errors.Is(err, ErrTooManyRedirects) ||
		errors.Is(err, ErrMissingLocation) ||
		errors.Is(err, ErrUnsupportedStreamType)
}
