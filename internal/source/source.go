// Package source resolves a path or URL into a probed, ready-to-decode audio
// source: a format reader, a decoder and the selected track.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebovdev/termplay/internal/config"
	"github.com/glebovdev/termplay/internal/media"
	"github.com/glebovdev/termplay/internal/netstream"
	"github.com/gopxl/beep/v2"
	"github.com/rs/zerolog/log"
)

type Options struct {
	Hint             media.Hint
	Network          netstream.Options
	PrebufferBytes   int
	PrebufferTimeout time.Duration
	Registry         *Registry

	// Attempts bounds how often a remote origin is connected and probed.
	Attempts   int
	RetryDelay time.Duration
}

func (o Options) withDefaults() Options {
	if o.PrebufferBytes <= 0 {
		o.PrebufferBytes = config.DefaultPrebufferBytes
	}
	if o.PrebufferTimeout <= 0 {
		o.PrebufferTimeout = config.DefaultPrebufferTimeout
	}
	if o.Attempts <= 0 {
		o.Attempts = config.DefaultConnectAttempts
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = config.DefaultRetryDelay
	}
	if o.Registry == nil {
		o.Registry = DefaultRegistry()
	}
	return o
}

// Info is what the UI shows about a source.
type Info struct {
	Origin     string
	Title      string
	Artist     string
	Album      string
	Codec      media.Hint
	SampleRate int
	Channels   int
	Duration   time.Duration
	Artwork    []byte
	Remote     bool
}

type Source struct {
	origin   string
	opts     Options
	reader   FormatReader
	decoder  Decoder
	track    Track
	seekable bool
	info     Info

	stream *netstream.Stream
	closer io.Closer
}

// Open resolves origin (a path, file:// URL or http(s):// URL), probes it and
// selects the first decodable track. Every failure is a *SetupError.
func Open(ctx context.Context, origin string, opts Options) (*Source, error) {
	opts = opts.withDefaults()

	remote, path, err := parseOrigin(origin)
	if err != nil {
		return nil, setupErr(origin, err)
	}

	var src *Source
	if remote {
		src, err = openRemote(ctx, origin, opts)
	} else {
		src, err = openFile(path, opts)
	}
	if err != nil {
		return nil, setupErr(origin, err)
	}

	src.origin = origin
	src.opts = opts
	src.info.Origin = origin
	return src, nil
}

func parseOrigin(origin string) (remote bool, path string, err error) {
	lower := strings.ToLower(origin)
	switch {
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		return true, origin, nil
	case strings.HasPrefix(lower, "file://"):
		u, err := url.Parse(origin)
		if err != nil {
			return false, "", fmt.Errorf("%w: %v", ErrUnsupportedOrigin, err)
		}
		return false, filepath.FromSlash(u.Path), nil
	case strings.Contains(origin, "://"):
		return false, "", fmt.Errorf("%w: %s", ErrUnsupportedOrigin, origin)
	default:
		return false, origin, nil
	}
}

func openFile(path string, opts Options) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	src, err := probeFile(f, path, opts)
	if err != nil {
		f.Close()
		return nil, err
	}
	return src, nil
}

func probeFile(f *os.File, path string, opts Options) (*Source, error) {
	hint := opts.Hint
	if hint == media.None {
		hint = media.FromExtension(path)
	}
	if hint == media.None {
		prefix := make([]byte, media.SniffBytes)
		n, _ := io.ReadFull(f, prefix)
		if detected, err := media.Detect(prefix[:n]); err == nil {
			hint = detected
		}
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
	}
	log.Debug().Msgf("Probing %s (hint: %q)", path, hint)

	meta := readTags(f)
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	var lastErr error
	for _, candidate := range opts.Registry.Candidates(hint, true) {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}

		decode, _ := opts.Registry.Lookup(candidate)
		streamer, format, err := decode(seekNopCloser{f})
		if err != nil {
			log.Debug().Err(err).Msgf("Decoder %s rejected %s", candidate, path)
			lastErr = err
			continue
		}

		src, err := newSource(streamer, format, candidate, true)
		if err != nil {
			streamer.Close()
			return nil, err
		}
		src.closer = f
		src.info = meta.info(src)
		if src.info.Title == "" {
			src.info.Title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		}
		return src, nil
	}

	return nil, probeFailure(hint, lastErr)
}

// openRemote connects and probes rawURL, trying again after transient
// failures such as timeouts or 5xx responses.
func openRemote(ctx context.Context, rawURL string, opts Options) (*Source, error) {
	var lastErr error
	for attempt := 1; attempt <= opts.Attempts; attempt++ {
		if attempt > 1 {
			log.Warn().Err(lastErr).Msgf("Stream failed, retrying in %v... (%d/%d)", opts.RetryDelay, attempt, opts.Attempts)
			select {
			case <-ctx.Done():
				return nil, lastErr
			case <-time.After(opts.RetryDelay):
			}
		}

		src, err := connectRemote(ctx, rawURL, opts)
		if err == nil {
			return src, nil
		}
		lastErr = err
		if !retryable(ctx, err) {
			return nil, err
		}
	}
	return nil, lastErr
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil || netstream.IsNonRetryable(err) {
		return false
	}
	return !errors.Is(err, ErrProbeFailed) &&
		!errors.Is(err, ErrNoDecodableTrack) &&
		!errors.Is(err, ErrUnknownSampleRate)
}

func connectRemote(ctx context.Context, rawURL string, opts Options) (*Source, error) {
	stream, err := netstream.Open(ctx, rawURL, opts.Network)
	if err != nil {
		return nil, err
	}

	src, err := probeStream(stream, rawURL, opts)
	if err != nil {
		stream.Close()
		return nil, err
	}
	return src, nil
}

func probeStream(stream *netstream.Stream, rawURL string, opts Options) (*Source, error) {
	if err := stream.Prebuffer(opts.PrebufferBytes, opts.PrebufferTimeout); err != nil {
		return nil, err
	}

	hint := opts.Hint
	if hint == media.None {
		if u, err := url.Parse(stream.URL()); err == nil {
			hint = media.FromExtension(u.Path)
		}
	}
	if hint == media.None {
		sniffed, err := stream.Sniff()
		if err != nil {
			return nil, err
		}
		hint = sniffed
	}
	log.Debug().Msgf("Probing %s (hint: %q, content type: %q)", rawURL, hint, stream.ContentType())

	var lastErr error
	for _, candidate := range opts.Registry.Candidates(hint, false) {
		decode, _ := opts.Registry.Lookup(candidate)
		streamer, format, err := decode(nopCloser{stream})
		if err != nil {
			lastErr = err
			continue
		}

		src, err := newSource(streamer, format, candidate, false)
		if err != nil {
			streamer.Close()
			return nil, err
		}
		src.stream = stream
		src.closer = stream
		src.info = Info{
			Title:  streamTitle(stream.URL()),
			Remote: true,
		}
		src.info.fill(src)
		return src, nil
	}

	return nil, probeFailure(hint, lastErr)
}

func probeFailure(hint media.Hint, lastErr error) error {
	if lastErr == nil {
		return fmt.Errorf("%w (hint %q)", ErrProbeFailed, hint)
	}
	return fmt.Errorf("%w (hint %q): %v", ErrProbeFailed, hint, lastErr)
}

// newSource wraps a beep stream. beep demuxes to a single track, so the
// reader always reports exactly one.
func newSource(streamer beep.StreamSeekCloser, format beep.Format, codec media.Hint, seekable bool) (*Source, error) {
	reader := newBeepReader(streamer, format, Track{
		ID:         0,
		Codec:      codec,
		SampleRate: int(format.SampleRate),
		Channels:   format.NumChannels,
	}, seekable)

	track, err := selectTrack(reader.Tracks())
	if err != nil {
		return nil, err
	}
	reader.track = track

	return &Source{
		reader:   reader,
		decoder:  newFrameDecoder(track.Channels),
		track:    track,
		seekable: seekable,
	}, nil
}

// selectTrack picks the first track with a real codec and normalises its
// parameters.
func selectTrack(tracks []Track) (Track, error) {
	for _, t := range tracks {
		if t.Codec == CodecNull {
			continue
		}
		if t.SampleRate <= 0 {
			return Track{}, ErrUnknownSampleRate
		}
		switch {
		case t.Channels <= 0:
			log.Debug().Msgf("Track %d has no channel count, assuming %d", t.ID, DefaultChannels)
			t.Channels = DefaultChannels
		case t.Channels > 2:
			log.Debug().Msgf("Track %d has %d channels, using the first two", t.ID, t.Channels)
			t.Channels = 2
		}
		return t, nil
	}
	return Track{}, ErrNoDecodableTrack
}

func streamTitle(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	if base := filepath.Base(u.Path); base != "." && base != "/" {
		return strings.TrimSuffix(base, filepath.Ext(base))
	}
	return u.Host
}

func (s *Source) Origin() string       { return s.origin }
func (s *Source) Track() Track         { return s.track }
func (s *Source) Seekable() bool       { return s.seekable }
func (s *Source) Reader() FormatReader { return s.reader }
func (s *Source) Decoder() Decoder     { return s.decoder }
func (s *Source) Info() Info           { return s.info }

// LiveTitle is the current ICY title of a remote stream, or "".
func (s *Source) LiveTitle() string {
	if s.stream == nil {
		return ""
	}
	return s.stream.Title()
}

// Download reports bytes fetched so far and, when the server advertised a
// length, the fraction of it received.
func (s *Source) Download() (downloaded int64, progress float64, known bool) {
	if s.stream == nil {
		return 0, 0, false
	}
	progress, known = s.stream.Progress()
	return s.stream.Downloaded(), progress, known
}

// Reopen builds a fresh Source from the same origin and options.
func (s *Source) Reopen(ctx context.Context) (*Source, error) {
	return Open(ctx, s.origin, s.opts)
}

func (s *Source) Close() error {
	var errs []error
	if s.reader != nil {
		errs = append(errs, s.reader.Close())
	}
	if s.closer != nil {
		errs = append(errs, s.closer.Close())
	}
	return errors.Join(errs...)
}
