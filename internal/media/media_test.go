package media

import (
	"errors"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want Hint
	}{
		{"mp3", MP3},
		{".MP3", MP3},
		{" flac ", FLAC},
		{"wav", WAV},
		{"ogg", OGG},
		{"aac", None},
		{"", None},
	}

	for _, tt := range tests {
		if got := Parse(tt.in); got != tt.want {
			t.Errorf("Parse(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFromExtension(t *testing.T) {
	tests := []struct {
		path string
		want Hint
	}{
		{"/music/song.mp3", MP3},
		{"track.FLAC", FLAC},
		{"noext", None},
		{"archive.tar.ogg", OGG},
		{"video.mkv", None},
	}

	for _, tt := range tests {
		if got := FromExtension(tt.path); got != tt.want {
			t.Errorf("FromExtension(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestDetect(t *testing.T) {
	riff := append([]byte("RIFF\x24\x00\x00\x00WAVEfmt "), make([]byte, 32)...)

	tests := []struct {
		name    string
		prefix  []byte
		want    Hint
		wantErr bool
	}{
		{"id3 tagged mp3", append([]byte("ID3\x04\x00\x00"), make([]byte, 16)...), MP3, false},
		{"bare mpeg frame", []byte{0xFF, 0xFB, 0x90, 0x64, 0x00, 0x00}, MP3, false},
		{"flac", append([]byte("fLaC"), make([]byte, 16)...), FLAC, false},
		{"ogg", append([]byte("OggS"), make([]byte, 32)...), OGG, false},
		{"wav", riff, WAV, false},
		{"html page", []byte("<!DOCTYPE html><html><body>nope</body></html>"), None, true},
		{"empty", nil, None, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Detect(tt.prefix)
			if tt.wantErr {
				if !errors.Is(err, ErrUnsupported) {
					t.Fatalf("Detect() error = %v, want ErrUnsupported", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Detect() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Detect() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFromContentType(t *testing.T) {
	tests := []struct {
		ct   string
		want Hint
	}{
		{"audio/mpeg", MP3},
		{"audio/mpeg; charset=binary", MP3},
		{"application/ogg", OGG},
		{"AUDIO/X-FLAC", FLAC},
		{"audio/aac", None},
		{"", None},
	}

	for _, tt := range tests {
		if got := FromContentType(tt.ct); got != tt.want {
			t.Errorf("FromContentType(%q) = %q, want %q", tt.ct, got, tt.want)
		}
	}
}
