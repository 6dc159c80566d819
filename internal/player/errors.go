package player

import "errors"

var (
	ErrSeekUnsupported = errors.New("seeking is not supported for this source")
	ErrSeekFailed      = errors.New("seek failed")
	ErrInvalidDevice   = errors.New("output device has no sample rate or channels")
)
