package netstream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebovdev/termplay/internal/media"
)

func openTest(t *testing.T, url string, opts Options) *Stream {
	t.Helper()
	s, err := Open(context.Background(), url, opts)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// stall sends headers and then holds the connection open without a body.
func stall(w http.ResponseWriter, r *http.Request, prefix []byte) {
	w.Header().Set("Content-Type", "audio/mpeg")
	w.WriteHeader(http.StatusOK)
	if len(prefix) > 0 {
		_, _ = w.Write(prefix)
	}
	w.(http.Flusher).Flush()
	<-r.Context().Done()
}

func TestOpenFollowsRedirects(t *testing.T) {
	payload := bytes.Repeat([]byte{0xAB}, 1000)

	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/start":
			w.Header().Set("Location", "/middle")
			w.WriteHeader(http.StatusFound)
		case "/middle":
			http.Redirect(w, r, server.URL+"/final", http.StatusMovedPermanently)
		case "/final":
			w.Header().Set("Content-Length", "1000")
			w.Header().Set("Content-Type", "audio/mpeg")
			_, _ = w.Write(payload)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)

	s := openTest(t, server.URL+"/start", Options{})

	got, err := io.ReadAll(s)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("ReadAll() returned %d bytes, want %d", len(got), len(payload))
	}

	total, ok := s.Total()
	if !ok || total != 1000 {
		t.Errorf("Total() = %d, %v, want 1000, true", total, ok)
	}
	if s.Downloaded() != 1000 {
		t.Errorf("Downloaded() = %d, want 1000", s.Downloaded())
	}
	if p, ok := s.Progress(); !ok || p != 1 {
		t.Errorf("Progress() = %v, %v, want 1, true", p, ok)
	}
	if !strings.HasSuffix(s.URL(), "/final") {
		t.Errorf("URL() = %q, want suffix /final", s.URL())
	}
}

func TestOpenTooManyRedirects(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		n, _ := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/hop/"))
		http.Redirect(w, r, "/hop/"+strconv.Itoa(n+1), http.StatusFound)
	}))
	t.Cleanup(server.Close)

	_, err := Open(context.Background(), server.URL+"/hop/0", Options{})
	if !errors.Is(err, ErrTooManyRedirects) {
		t.Fatalf("Open() error = %v, want ErrTooManyRedirects", err)
	}
	if got := requests.Load(); got != MaxRedirects+1 {
		t.Errorf("server saw %d requests, want %d", got, MaxRedirects+1)
	}
}

func TestOpenExactlyMaxRedirects(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n, _ := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/hop/"))
		if n == MaxRedirects {
			_, _ = w.Write([]byte("ok"))
			return
		}
		http.Redirect(w, r, "/hop/"+strconv.Itoa(n+1), http.StatusTemporaryRedirect)
	}))
	t.Cleanup(server.Close)

	s := openTest(t, server.URL+"/hop/0", Options{})
	got, err := io.ReadAll(s)
	if err != nil || string(got) != "ok" {
		t.Errorf("ReadAll() = %q, %v, want \"ok\", nil", got, err)
	}
}

func TestOpenErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		check   func(t *testing.T, err error)
	}{
		{
			name: "not found",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.NotFound(w, r)
			},
			check: func(t *testing.T, err error) {
				var statusErr *HTTPError
				if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusNotFound {
					t.Fatalf("error = %v, want HTTPError 404", err)
				}
				if !errors.Is(err, ErrHTTP) {
					t.Error("HTTPError should match ErrHTTP")
				}
				if !IsNonRetryable(err) {
					t.Error("404 should be non-retryable")
				}
			},
		},
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
			},
			check: func(t *testing.T, err error) {
				var statusErr *HTTPError
				if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusBadGateway {
					t.Fatalf("error = %v, want HTTPError 502", err)
				}
				if IsNonRetryable(err) {
					t.Error("502 should be retryable")
				}
			},
		},
		{
			name: "redirect without location",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusFound)
			},
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrMissingLocation) {
					t.Fatalf("error = %v, want ErrMissingLocation", err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			t.Cleanup(server.Close)

			s, err := Open(context.Background(), server.URL, Options{})
			if err == nil {
				s.Close()
				t.Fatal("Open() should fail")
			}
			tt.check(t, err)
		})
	}
}

func TestOpenSendsHeaders(t *testing.T) {
	headers := make(chan http.Header, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers <- r.Header.Clone()
		_, _ = w.Write([]byte("x"))
	}))
	t.Cleanup(server.Close)

	s := openTest(t, server.URL, Options{UserAgent: "termplay/test"})
	_, _ = io.ReadAll(s)

	h := <-headers
	ua, icy := h.Get("User-Agent"), h.Get("Icy-MetaData")
	if ua != "termplay/test" {
		t.Errorf("User-Agent = %q, want %q", ua, "termplay/test")
	}
	if icy != "1" {
		t.Errorf("Icy-MetaData = %q, want 1", icy)
	}
}

func TestPrebufferTimesOutWithoutData(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stall(w, r, nil)
	}))
	t.Cleanup(server.Close)

	s := openTest(t, server.URL, Options{})

	err := s.Prebuffer(1024, 100*time.Millisecond)
	if !errors.Is(err, ErrBufferTimeout) {
		t.Fatalf("Prebuffer() error = %v, want ErrBufferTimeout", err)
	}
}

func TestPrebufferProceedsWithPartialData(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stall(w, r, bytes.Repeat([]byte{1}, 100))
	}))
	t.Cleanup(server.Close)

	s := openTest(t, server.URL, Options{})

	if err := s.Prebuffer(64*1024, 300*time.Millisecond); err != nil {
		t.Fatalf("Prebuffer() error = %v", err)
	}
	if got := len(s.Peek(1000)); got != 100 {
		t.Errorf("Peek() returned %d bytes, want 100", got)
	}
}

func TestPrebufferStopsAtEOF(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("short"))
	}))
	t.Cleanup(server.Close)

	s := openTest(t, server.URL, Options{})

	start := time.Now()
	if err := s.Prebuffer(64*1024, 5*time.Second); err != nil {
		t.Fatalf("Prebuffer() error = %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("Prebuffer() should return as soon as the body ends")
	}
	if string(s.Peek(10)) != "short" {
		t.Errorf("Peek() = %q, want %q", s.Peek(10), "short")
	}
}

func TestReadTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stall(w, r, nil)
	}))
	t.Cleanup(server.Close)

	s := openTest(t, server.URL, Options{ReadTimeout: 50 * time.Millisecond})

	buf := make([]byte, 16)
	_, err := s.Read(buf)
	if !errors.Is(err, ErrReadTimeout) {
		t.Fatalf("Read() error = %v, want ErrReadTimeout", err)
	}
}

func TestICYMetadataIsStripped(t *testing.T) {
	audio1 := bytes.Repeat([]byte{'a'}, 16)
	audio2 := bytes.Repeat([]byte{'b'}, 16)
	meta := []byte("StreamTitle='Artist - Song';")
	meta = append(meta, make([]byte, 32-len(meta))...)

	var body []byte
	body = append(body, audio1...)
	body = append(body, 2)
	body = append(body, meta...)
	body = append(body, audio2...)
	body = append(body, 0)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("icy-metaint", "16")
		_, _ = w.Write(body)
	}))
	t.Cleanup(server.Close)

	s := openTest(t, server.URL, Options{})

	got, err := io.ReadAll(s)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	want := append(append([]byte{}, audio1...), audio2...)
	if !bytes.Equal(got, want) {
		t.Errorf("audio = %q, want %q", got, want)
	}
	if s.Title() != "Artist - Song" {
		t.Errorf("Title() = %q, want %q", s.Title(), "Artist - Song")
	}
	if s.Downloaded() != int64(len(body)) {
		t.Errorf("Downloaded() = %d, want %d", s.Downloaded(), len(body))
	}
}

func TestSniff(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        []byte
		want        media.Hint
		wantErr     bool
	}{
		{"flac signature", "application/octet-stream", append([]byte("fLaC"), make([]byte, 64)...), media.FLAC, false},
		{"content type fallback", "audio/mpeg", []byte("not a known signature at all"), media.MP3, false},
		{"html page", "text/html", []byte("<html><body>radio offline</body></html>"), media.None, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", tt.contentType)
				_, _ = w.Write(tt.body)
			}))
			t.Cleanup(server.Close)

			s := openTest(t, server.URL, Options{})
			if err := s.Prebuffer(1024, time.Second); err != nil {
				t.Fatalf("Prebuffer() error = %v", err)
			}

			got, err := s.Sniff()
			if tt.wantErr {
				if !errors.Is(err, ErrUnsupportedStreamType) {
					t.Fatalf("Sniff() error = %v, want ErrUnsupportedStreamType", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Sniff() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Sniff() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCloseUnblocksDownload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		chunk := bytes.Repeat([]byte{7}, 32*1024)
		for {
			if _, err := w.Write(chunk); err != nil {
				return
			}
		}
	}))
	t.Cleanup(server.Close)

	s, err := Open(context.Background(), server.URL, Options{})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	// Nobody reads, so the queue fills and the download blocks on send.
	time.Sleep(100 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		s.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close() did not return")
	}
}

func TestResolveLocation(t *testing.T) {
	tests := []struct {
		base, location, want string
	}{
		{"http://a.example/radio/live", "/other", "http://a.example/other"},
		{"http://a.example/radio/live", "backup", "http://a.example/radio/backup"},
		{"http://a.example/radio/live", "https://b.example/x", "https://b.example/x"},
		{"https://a.example/x", "//cdn.example/y", "https://cdn.example/y"},
	}

	for _, tt := range tests {
		got, err := resolveLocation(tt.base, tt.location)
		if err != nil {
			t.Fatalf("resolveLocation(%q, %q) error = %v", tt.base, tt.location, err)
		}
		if got != tt.want {
			t.Errorf("resolveLocation(%q, %q) = %q, want %q", tt.base, tt.location, got, tt.want)
		}
	}
}

func TestParseStreamTitle(t *testing.T) {
	tests := []struct {
		meta   string
		want   string
		wantOK bool
	}{
		{"StreamTitle='Song';StreamUrl='';", "Song", true},
		{"StreamTitle='';", "", false},
		{"StreamUrl='x';", "", false},
		{"StreamTitle='unterminated", "", false},
	}

	for _, tt := range tests {
		got, ok := parseStreamTitle(tt.meta)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("parseStreamTitle(%q) = %q, %v, want %q, %v", tt.meta, got, ok, tt.want, tt.wantOK)
		}
	}
}
