// Package netstream turns an HTTP(S) audio stream into a blocking io.Reader
// fed by a background download goroutine.
package netstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/glebovdev/termplay/internal/config"
	"github.com/glebovdev/termplay/internal/media"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

const (
	MaxRedirects   = 10
	ChunkQueueSize = 50
	ReadChunkSize  = 16 * 1024
)

type Options struct {
	UserAgent   string
	ReadTimeout time.Duration
	Client      *resty.Client
}

func (o Options) withDefaults() Options {
	if o.UserAgent == "" {
		o.UserAgent = config.UserAgent()
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = config.DefaultReadTimeout
	}
	if o.Client == nil {
		o.Client = NewClient()
	}
	return o
}

// NewClient builds a client suited to long-lived streams: no overall timeout
// and no automatic redirects, since Open follows them itself.
func NewClient() *resty.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout: 10 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 15 * time.Second,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		DisableCompression:    true,
	}

	return resty.New().
		SetTransport(transport).
		SetRedirectPolicy(resty.RedirectPolicyFunc(func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}))
}

// Stream is a remote byte source. Read, Prebuffer, Peek and Sniff belong to a
// single consumer goroutine; the counters and Title are safe from anywhere.
type Stream struct {
	url         string
	contentType string
	total       int64

	ctx    context.Context
	cancel context.CancelFunc
	chunks chan []byte
	wg     sync.WaitGroup

	pending []byte
	eof     bool

	readTimeout time.Duration
	downloaded  atomic.Int64
	title       atomic.Value

	errMu sync.Mutex
	err   error

	closeOnce sync.Once
}

// Open connects to rawURL, following up to MaxRedirects redirects, and starts
// downloading in the background. ctx bounds the lifetime of the whole stream.
func Open(ctx context.Context, rawURL string, opts Options) (*Stream, error) {
	opts = opts.withDefaults()

	streamCtx, cancel := context.WithCancel(ctx)

	resp, finalURL, err := connect(streamCtx, opts.Client, rawURL, opts.UserAgent)
	if err != nil {
		cancel()
		return nil, err
	}

	s := &Stream{
		url:         finalURL,
		contentType: resp.Header().Get("Content-Type"),
		total:       -1,
		ctx:         streamCtx,
		cancel:      cancel,
		chunks:      make(chan []byte, ChunkQueueSize),
		readTimeout: opts.ReadTimeout,
	}
	s.title.Store("")
	if resp.RawResponse != nil && resp.RawResponse.ContentLength >= 0 {
		s.total = resp.RawResponse.ContentLength
	}

	body := resp.RawBody()
	var r io.Reader = &countingReader{r: body, n: &s.downloaded}

	if val := resp.Header().Get("icy-metaint"); val != "" {
		if metaint, err := strconv.Atoi(val); err == nil && metaint > 0 {
			log.Debug().Msgf("ICY metadata interval: %d bytes", metaint)
			r = newICYReader(r, metaint, s.setTitle)
		}
	}

	log.Debug().Msgf("Stream connected: %s (Content-Type: %s, length: %d)", finalURL, s.contentType, s.total)

	s.wg.Add(1)
	go s.download(body, r)

	return s, nil
}

func connect(ctx context.Context, client *resty.Client, rawURL, userAgent string) (*resty.Response, string, error) {
	current := rawURL

	for hops := 0; ; hops++ {
		resp, err := client.R().
			SetContext(ctx).
			SetDoNotParseResponse(true).
			SetHeader("User-Agent", userAgent).
			SetHeader("Icy-MetaData", "1").
			Get(current)
		if err != nil {
			return nil, "", fmt.Errorf("failed to fetch stream: %w", err)
		}

		status := resp.StatusCode()
		log.Debug().Msgf("Stream response status: %d for %s", status, current)

		if status >= 300 && status < 400 {
			location := resp.Header().Get("Location")
			closeBody(resp)

			if location == "" {
				return nil, "", fmt.Errorf("%w: status %d from %s", ErrMissingLocation, status, current)
			}
			if hops >= MaxRedirects {
				return nil, "", fmt.Errorf("%w: gave up after %d", ErrTooManyRedirects, MaxRedirects)
			}

			next, err := resolveLocation(current, location)
			if err != nil {
				return nil, "", err
			}
			log.Debug().Msgf("Redirect %d: %s -> %s", hops+1, current, next)
			current = next
			continue
		}

		if status < 200 || status >= 300 {
			closeBody(resp)
			return nil, "", &HTTPError{StatusCode: status, Status: resp.Status(), URL: current}
		}

		return resp, current, nil
	}
}

// resolveLocation resolves a possibly relative Location against the URL that
// produced the redirect.
func resolveLocation(base, location string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid redirect base %q: %w", base, err)
	}
	ref, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("invalid redirect location %q: %w", location, err)
	}
	return baseURL.ResolveReference(ref).String(), nil
}

func closeBody(resp *resty.Response) {
	if body := resp.RawBody(); body != nil {
		body.Close()
	}
}

func (s *Stream) download(body io.ReadCloser, r io.Reader) {
	defer func() {
		body.Close()
		close(s.chunks)
		s.wg.Done()
		log.Debug().Msg("Network stream reader stopped")
	}()

	for {
		buf := make([]byte, ReadChunkSize)
		n, err := r.Read(buf)
		if n > 0 {
			select {
			case s.chunks <- buf[:n]:
			case <-s.ctx.Done():
				return
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				log.Debug().Int64("bytes", s.downloaded.Load()).Msg("Stream download complete")
				return
			}
			if s.ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Msg("Error reading audio data from stream")
			s.setErr(fmt.Errorf("network read error: %w", err))
			return
		}
	}
}

func (s *Stream) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	for len(s.pending) == 0 {
		if s.eof {
			return 0, s.terminalErr()
		}
		if err := s.receive(s.readTimeout); err != nil {
			return 0, err
		}
	}

	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

// receive waits up to timeout for the next chunk and appends it to pending.
func (s *Stream) receive(timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case chunk, ok := <-s.chunks:
		if !ok {
			s.eof = true
			return nil
		}
		if len(s.pending) == 0 {
			s.pending = chunk
		} else {
			s.pending = append(s.pending, chunk...)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: no data received for %v", ErrReadTimeout, timeout)
	case <-s.ctx.Done():
		return ErrClosed
	}
}

// Prebuffer blocks until at least minBytes are pending, the download ends, or
// timeout elapses. A timeout is only an error if nothing arrived at all.
func (s *Stream) Prebuffer(minBytes int, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	for len(s.pending) < minBytes && !s.eof {
		left := time.Until(deadline)
		if left <= 0 {
			break
		}
		if err := s.receive(left); err != nil {
			if errors.Is(err, ErrReadTimeout) {
				break
			}
			return err
		}
	}

	if len(s.pending) == 0 {
		if s.eof {
			return s.terminalErr()
		}
		return fmt.Errorf("%w: nothing received in %v", ErrBufferTimeout, timeout)
	}

	log.Debug().Msgf("Prebuffered %d bytes", len(s.pending))
	return nil
}

// Peek returns up to n pending bytes without consuming them.
func (s *Stream) Peek(n int) []byte {
	return s.pending[:min(n, len(s.pending))]
}

// Sniff classifies the pending prefix, falling back to the response
// Content-Type.
func (s *Stream) Sniff() (media.Hint, error) {
	if hint, err := media.Detect(s.Peek(media.SniffBytes)); err == nil {
		return hint, nil
	}
	if hint := media.FromContentType(s.contentType); hint != media.None {
		return hint, nil
	}
	return media.None, fmt.Errorf("%w: content type %q", ErrUnsupportedStreamType, s.contentType)
}

func (s *Stream) URL() string         { return s.url }
func (s *Stream) ContentType() string { return s.contentType }
func (s *Stream) Downloaded() int64   { return s.downloaded.Load() }

// Total is the advertised body length, if the server sent one.
func (s *Stream) Total() (int64, bool) {
	return s.total, s.total >= 0
}

// Progress is the fraction of the advertised length received so far.
func (s *Stream) Progress() (float64, bool) {
	total, ok := s.Total()
	if !ok || total == 0 {
		return 0, false
	}
	p := float64(s.Downloaded()) / float64(total)
	if p > 1 {
		p = 1
	}
	return p, true
}

// Title is the most recent ICY StreamTitle, or "".
func (s *Stream) Title() string {
	return s.title.Load().(string)
}

func (s *Stream) setTitle(title string) {
	if title != s.Title() {
		s.title.Store(title)
		log.Debug().Msgf("Now playing: %s", title)
	}
}

func (s *Stream) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *Stream) terminalErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err != nil {
		return s.err
	}
	return io.EOF
}

// Close stops the download and waits for its goroutine to exit.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.wg.Wait()
	})
	return nil
}

type countingReader struct {
	r io.Reader
	n *atomic.Int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n.Add(int64(n))
	return n, err
}
