package source

import (
	"io"

	"github.com/glebovdev/termplay/internal/media"
	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/flac"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/vorbis"
	"github.com/gopxl/beep/v2/wav"
)

// DecodeFunc opens a container on rc. Seeking is only available when rc
// also implements io.Seeker.
type DecodeFunc func(rc io.ReadCloser) (beep.StreamSeekCloser, beep.Format, error)

type Registry struct {
	codecs map[media.Hint]DecodeFunc
	order  []media.Hint
}

func NewRegistry() *Registry {
	return &Registry{codecs: make(map[media.Hint]DecodeFunc)}
}

// DefaultRegistry knows every format beep can decode.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(media.MP3, mp3.Decode)
	r.Register(media.FLAC, func(rc io.ReadCloser) (beep.StreamSeekCloser, beep.Format, error) {
		return flac.Decode(rc)
	})
	r.Register(media.OGG, vorbis.Decode)
	r.Register(media.WAV, func(rc io.ReadCloser) (beep.StreamSeekCloser, beep.Format, error) {
		return wav.Decode(rc)
	})
	return r
}

func (r *Registry) Register(hint media.Hint, fn DecodeFunc) {
	if _, ok := r.codecs[hint]; !ok {
		r.order = append(r.order, hint)
	}
	r.codecs[hint] = fn
}

func (r *Registry) Lookup(hint media.Hint) (DecodeFunc, bool) {
	fn, ok := r.codecs[hint]
	return fn, ok
}

// Candidates lists the codecs to try, hinted one first. A non-seekable
// source cannot be rewound after a failed attempt, so it only gets the hint.
func (r *Registry) Candidates(hint media.Hint, seekable bool) []media.Hint {
	var out []media.Hint
	if _, ok := r.codecs[hint]; ok {
		out = append(out, hint)
	}
	if !seekable {
		return out
	}
	for _, h := range r.order {
		if h != hint {
			out = append(out, h)
		}
	}
	return out
}
