package artwork

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebovdev/termplay/internal/source"
)

func createTestImage(width, height int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode() error = %v", err)
	}
	return buf.Bytes()
}

func TestKey(t *testing.T) {
	a := Key(source.Info{Origin: "/music/a.mp3", Artwork: make([]byte, 10)})
	b := Key(source.Info{Origin: "/music/a.mp3", Artwork: make([]byte, 10)})
	c := Key(source.Info{Origin: "/music/a.mp3", Artwork: make([]byte, 11)})
	d := Key(source.Info{Origin: "/music/b.mp3", Artwork: make([]byte, 10)})

	if len(a) != 32 {
		t.Errorf("Key() length = %d, want 32", len(a))
	}
	if a != b {
		t.Errorf("Key is not consistent: %q != %q", a, b)
	}
	if a == c || a == d {
		t.Error("different artwork produced the same key")
	}
}

func TestSaveAndGetImage(t *testing.T) {
	cache := &Cache{baseDir: t.TempDir(), expiry: DefaultExpiry}

	if err := cache.SaveImage("k1", createTestImage(100, 80)); err != nil {
		t.Fatalf("SaveImage() error = %v", err)
	}

	img := cache.GetImage("k1")
	if img == nil {
		t.Fatal("GetImage() returned nil, expected image")
	}
	if b := img.Bounds(); b.Dx() != 100 || b.Dy() != 80 {
		t.Errorf("cached image size = %dx%d, want 100x80", b.Dx(), b.Dy())
	}

	if cache.GetImage("missing") != nil {
		t.Error("GetImage() for unknown key should return nil")
	}
}

func TestGetImageExpired(t *testing.T) {
	cache := &Cache{baseDir: t.TempDir(), expiry: time.Millisecond}

	if err := cache.SaveImage("old", createTestImage(10, 10)); err != nil {
		t.Fatalf("SaveImage() error = %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	if cache.GetImage("old") != nil {
		t.Error("GetImage() returned an expired image")
	}
	if _, err := os.Stat(cache.imagePath("old")); !os.IsNotExist(err) {
		t.Error("expired file was not removed")
	}
}

func TestCleanExpired(t *testing.T) {
	cache := &Cache{baseDir: t.TempDir(), expiry: time.Hour}

	for _, key := range []string{"fresh", "stale"} {
		if err := cache.SaveImage(key, createTestImage(4, 4)); err != nil {
			t.Fatalf("SaveImage(%q) error = %v", key, err)
		}
	}
	past := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(cache.imagePath("stale"), past, past); err != nil {
		t.Fatalf("Chtimes() error = %v", err)
	}

	if err := cache.CleanExpired(); err != nil {
		t.Fatalf("CleanExpired() error = %v", err)
	}
	if _, err := os.Stat(cache.imagePath("fresh")); err != nil {
		t.Error("fresh thumbnail was removed")
	}
	if _, err := os.Stat(cache.imagePath("stale")); !os.IsNotExist(err) {
		t.Error("stale thumbnail was kept")
	}
}

func TestCleanExpiredMissingDir(t *testing.T) {
	cache := &Cache{baseDir: filepath.Join(t.TempDir(), "nope"), expiry: time.Hour}
	if err := cache.CleanExpired(); err != nil {
		t.Errorf("CleanExpired() on missing dir error = %v", err)
	}
}

func TestNilCache(t *testing.T) {
	var cache *Cache
	if cache.GetImage("k") != nil {
		t.Error("nil cache returned an image")
	}
	if err := cache.SaveImage("k", createTestImage(2, 2)); err != nil {
		t.Errorf("nil cache SaveImage() error = %v", err)
	}

	img, err := cache.Load(source.Info{Origin: "x", Artwork: encodePNG(t, createTestImage(8, 8))})
	if err != nil || img == nil {
		t.Errorf("nil cache Load() = %v, %v", img, err)
	}
}

func TestLoadEmbedded(t *testing.T) {
	cache := &Cache{baseDir: t.TempDir(), expiry: DefaultExpiry}
	info := source.Info{Origin: "/music/a.flac", Artwork: encodePNG(t, createTestImage(600, 300))}

	img, err := cache.Load(info)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if b := img.Bounds(); b.Dx() != MaxThumbSize || b.Dy() != MaxThumbSize/2 {
		t.Errorf("thumbnail size = %dx%d, want %dx%d", b.Dx(), b.Dy(), MaxThumbSize, MaxThumbSize/2)
	}

	if cache.GetImage(Key(info)) == nil {
		t.Error("thumbnail was not cached")
	}
}

func TestLoadCoverFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "folder.png"), encodePNG(t, createTestImage(20, 20)), 0644); err != nil {
		t.Fatal(err)
	}

	var cache *Cache
	img, err := cache.Load(source.Info{Origin: "file://" + filepath.Join(dir, "track.wav")})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if b := img.Bounds(); b.Dx() != 20 {
		t.Errorf("cover width = %d, want 20", b.Dx())
	}
}

func TestLoadNoArtwork(t *testing.T) {
	tests := []struct {
		name string
		info source.Info
	}{
		{"local without cover", source.Info{Origin: filepath.Join(t.TempDir(), "a.wav")}},
		{"remote stream", source.Info{Origin: "http://example.com/live", Remote: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cache *Cache
			if _, err := cache.Load(tt.info); !errors.Is(err, ErrNoArtwork) {
				t.Errorf("Load() error = %v, want ErrNoArtwork", err)
			}
		})
	}
}

func TestLoadCorruptEmbedded(t *testing.T) {
	var cache *Cache
	_, err := cache.Load(source.Info{Origin: "a.mp3", Artwork: []byte("not an image")})
	if err == nil || errors.Is(err, ErrNoArtwork) {
		t.Errorf("Load() error = %v, want decode error", err)
	}
}

func TestThumbnail(t *testing.T) {
	tests := []struct {
		name          string
		width, height int
		wantW, wantH  int
	}{
		{"small kept", 100, 50, 100, 50},
		{"wide", 1000, 500, 256, 128},
		{"tall", 300, 1200, 64, 256},
		{"square", 512, 512, 256, 256},
		{"sliver", 5000, 2, 256, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := Thumbnail(createTestImage(tt.width, tt.height), MaxThumbSize)
			if b := img.Bounds(); b.Dx() != tt.wantW || b.Dy() != tt.wantH {
				t.Errorf("Thumbnail(%dx%d) = %dx%d, want %dx%d",
					tt.width, tt.height, b.Dx(), b.Dy(), tt.wantW, tt.wantH)
			}
		})
	}
}
