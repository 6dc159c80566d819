package source

import (
	"io"
	"time"

	"github.com/glebovdev/termplay/internal/media"
	"github.com/gopxl/beep/v2"
)

// CodecNull marks a track nothing can decode (cover art, data streams).
const CodecNull media.Hint = ""

const (
	DefaultChannels = 2
	PacketFrames    = 1024
)

type Track struct {
	ID         int
	Codec      media.Hint
	SampleRate int
	Channels   int
}

// Packet is one block of frames belonging to a track. Frames is only valid
// until the next NextPacket call.
type Packet struct {
	TrackID int
	Frames  [][2]float64
}

// FormatReader demultiplexes a container into packets.
type FormatReader interface {
	Tracks() []Track
	NextPacket() (Packet, error)
	Seek(d time.Duration) (time.Duration, error)
	Duration() time.Duration
	Close() error
}

// Decoder turns packets into interleaved float32 samples with the track's
// channel count. The returned slice is reused by the next Decode call.
type Decoder interface {
	Decode(p Packet) ([]float32, error)
	Reset()
}

type beepReader struct {
	streamer beep.StreamSeekCloser
	format   beep.Format
	track    Track
	seekable bool
	buf      [][2]float64
}

func newBeepReader(streamer beep.StreamSeekCloser, format beep.Format, track Track, seekable bool) *beepReader {
	return &beepReader{
		streamer: streamer,
		format:   format,
		track:    track,
		seekable: seekable,
		buf:      make([][2]float64, PacketFrames),
	}
}

func (r *beepReader) Tracks() []Track { return []Track{r.track} }

func (r *beepReader) NextPacket() (Packet, error) {
	n, ok := r.streamer.Stream(r.buf)
	if n > 0 {
		return Packet{TrackID: r.track.ID, Frames: r.buf[:n]}, nil
	}
	if !ok {
		if err := r.streamer.Err(); err != nil {
			return Packet{}, err
		}
		return Packet{}, io.EOF
	}
	return Packet{TrackID: r.track.ID}, nil
}

// Seek repositions to d, clamped to the stream, and returns where it landed.
func (r *beepReader) Seek(d time.Duration) (time.Duration, error) {
	if !r.seekable {
		return 0, ErrNotSeekable
	}

	pos := r.format.SampleRate.N(d)
	if pos < 0 {
		pos = 0
	}
	if length := r.streamer.Len(); length > 0 && pos >= length {
		pos = length - 1
	}

	if err := r.streamer.Seek(pos); err != nil {
		return 0, err
	}
	return r.format.SampleRate.D(pos), nil
}

func (r *beepReader) Duration() time.Duration {
	if length := r.streamer.Len(); length > 0 {
		return r.format.SampleRate.D(length)
	}
	return 0
}

func (r *beepReader) Close() error {
	return r.streamer.Close()
}

type frameDecoder struct {
	channels int
	out      []float32
}

func newFrameDecoder(channels int) *frameDecoder {
	return &frameDecoder{
		channels: channels,
		out:      make([]float32, 0, PacketFrames*channels),
	}
}

func (d *frameDecoder) Decode(p Packet) ([]float32, error) {
	d.out = d.out[:0]
	for _, f := range p.Frames {
		if d.channels == 1 {
			d.out = append(d.out, float32(f[0]))
			continue
		}
		d.out = append(d.out, float32(f[0]), float32(f[1]))
	}
	return d.out, nil
}

func (d *frameDecoder) Reset() {
	d.out = d.out[:0]
}

type nopCloser struct {
	io.Reader
}

func (nopCloser) Close() error { return nil }

type seekNopCloser struct {
	io.ReadSeeker
}

func (seekNopCloser) Close() error { return nil }
