// Package media maps file extensions, content signatures and MIME types onto
// the codec hints the decoder registry understands.
package media

import (
	"errors"
	"mime"
	"path/filepath"
	"strings"

	"github.com/h2non/filetype"
)

type Hint string

const (
	None Hint = ""
	MP3  Hint = "mp3"
	WAV  Hint = "wav"
	FLAC Hint = "flac"
	OGG  Hint = "ogg"
)

// SniffBytes is how much of a source's prefix is inspected.
const SniffBytes = 2000

var ErrUnsupported = errors.New("unsupported media type")

var extensions = map[string]Hint{
	"mp3":  MP3,
	"mpga": MP3,
	"wav":  WAV,
	"wave": WAV,
	"flac": FLAC,
	"ogg":  OGG,
	"oga":  OGG,
}

var contentTypes = map[string]Hint{
	"audio/mpeg":      MP3,
	"audio/mp3":       MP3,
	"audio/mpeg3":     MP3,
	"audio/x-mpeg":    MP3,
	"audio/wav":       WAV,
	"audio/wave":      WAV,
	"audio/x-wav":     WAV,
	"audio/vnd.wave":  WAV,
	"audio/flac":      FLAC,
	"audio/x-flac":    FLAC,
	"audio/ogg":       OGG,
	"audio/vorbis":    OGG,
	"application/ogg": OGG,
}

// Hints lists every hint in the order the registry probes them.
func Hints() []Hint {
	return []Hint{MP3, FLAC, OGG, WAV}
}

// Parse accepts a user supplied hint such as "MP3" or ".flac".
func Parse(s string) Hint {
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), ".")
	if h, ok := extensions[s]; ok {
		return h
	}
	return None
}

func FromExtension(path string) Hint {
	ext := filepath.Ext(path)
	if ext == "" {
		return None
	}
	return Parse(ext)
}

// Detect classifies a content prefix by its magic bytes.
func Detect(prefix []byte) (Hint, error) {
	if len(prefix) > SniffBytes {
		prefix = prefix[:SniffBytes]
	}

	kind, err := filetype.Match(prefix)
	if err != nil || kind == filetype.Unknown {
		if isMPEGFrame(prefix) {
			return MP3, nil
		}
		return None, ErrUnsupported
	}

	if h := Parse(kind.Extension); h != None {
		return h, nil
	}
	if h := FromContentType(kind.MIME.Value); h != None {
		return h, nil
	}
	return None, ErrUnsupported
}

func FromContentType(ct string) Hint {
	if ct == "" {
		return None
	}
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(ct))
	}
	return contentTypes[mediaType]
}

// isMPEGFrame recognises a bare MPEG audio frame header (no ID3 tag), which is
// how most internet radio streams start.
func isMPEGFrame(b []byte) bool {
	if len(b) < 4 {
		return false
	}
	if b[0] != 0xFF || b[1]&0xE0 != 0xE0 {
		return false
	}
	version := (b[1] >> 3) & 0x03
	layer := (b[1] >> 1) & 0x03
	bitrate := b[2] >> 4
	rate := (b[2] >> 2) & 0x03
	return version != 1 && layer != 0 && bitrate != 0x0F && rate != 0x03
}
