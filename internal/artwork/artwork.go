// Package artwork finds cover art for a track and keeps downscaled copies on
// disk so large embedded pictures are decoded only once.
package artwork

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/glebovdev/termplay/internal/config"
	"github.com/glebovdev/termplay/internal/source"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultExpiry is how long cached thumbnails are valid (30 days).
	DefaultExpiry = 30 * 24 * time.Hour
	ImageSubdir   = "artwork"
	// MaxThumbSize bounds the longer side of a cached thumbnail in pixels.
	MaxThumbSize = 256
)

var ErrNoArtwork = errors.New("no artwork")

// Cover files looked up next to a local track without embedded art.
var coverNames = []string{"cover.jpg", "cover.png", "folder.jpg", "folder.png", "front.jpg", "front.png"}

// Cache manages disk-based caching of artwork thumbnails. A nil *Cache is
// valid and caches nothing.
type Cache struct {
	baseDir string
	expiry  time.Duration
}

func NewCache() (*Cache, error) {
	cacheDir, err := config.GetCacheDir()
	if err != nil {
		return nil, err
	}

	return &Cache{
		baseDir: cacheDir,
		expiry:  DefaultExpiry,
	}, nil
}

// Key identifies the artwork of one track. The picture size is part of the
// key so re-tagged files get a fresh thumbnail.
func Key(info source.Info) string {
	hash := md5.Sum([]byte(info.Origin + ":" + strconv.Itoa(len(info.Artwork))))
	return hex.EncodeToString(hash[:])
}

func (c *Cache) imagePath(key string) string {
	return filepath.Join(c.baseDir, ImageSubdir, key+".png")
}

// GetImage returns the cached thumbnail for key, or nil if missing or expired.
func (c *Cache) GetImage(key string) image.Image {
	if c == nil {
		return nil
	}
	imagePath := c.imagePath(key)

	info, err := os.Stat(imagePath)
	if err != nil {
		return nil
	}

	if time.Since(info.ModTime()) > c.expiry {
		if err := os.Remove(imagePath); err != nil {
			log.Debug().Err(err).Str("file", imagePath).Msg("Failed to remove expired artwork")
		}
		return nil
	}

	file, err := os.Open(imagePath)
	if err != nil {
		return nil
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		log.Debug().Err(err).Str("file", imagePath).Msg("Failed to decode cached artwork")
		return nil
	}
	return img
}

func (c *Cache) SaveImage(key string, img image.Image) error {
	if c == nil {
		return nil
	}
	imageDir := filepath.Join(c.baseDir, ImageSubdir)
	if err := os.MkdirAll(imageDir, 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	file, err := os.Create(c.imagePath(key))
	if err != nil {
		return fmt.Errorf("failed to create cache file: %w", err)
	}
	defer file.Close()

	if err := png.Encode(file, img); err != nil {
		return fmt.Errorf("failed to encode image: %w", err)
	}
	return nil
}

// CleanExpired removes thumbnails older than the expiry duration.
func (c *Cache) CleanExpired() error {
	if c == nil {
		return nil
	}
	imageDir := filepath.Join(c.baseDir, ImageSubdir)

	entries, err := os.ReadDir(imageDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read cache directory: %w", err)
	}

	now := time.Now()
	var removed, failed int
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		if now.Sub(info.ModTime()) > c.expiry {
			if err := os.Remove(filepath.Join(imageDir, entry.Name())); err != nil {
				failed++
			} else {
				removed++
			}
		}
	}

	if removed > 0 || failed > 0 {
		log.Debug().Int("removed", removed).Int("failed", failed).Msg("Artwork cleanup completed")
	}
	return nil
}

// Load returns a thumbnail for the track: the embedded picture if there is
// one, otherwise a cover file in the track's directory.
func (c *Cache) Load(info source.Info) (image.Image, error) {
	key := Key(info)
	if img := c.GetImage(key); img != nil {
		log.Debug().Str("origin", info.Origin).Msg("Artwork loaded from cache")
		return img, nil
	}

	img, err := decode(info)
	if err != nil {
		return nil, err
	}

	thumb := Thumbnail(img, MaxThumbSize)
	if err := c.SaveImage(key, thumb); err != nil {
		log.Debug().Err(err).Str("origin", info.Origin).Msg("Failed to cache artwork")
	}
	return thumb, nil
}

func decode(info source.Info) (image.Image, error) {
	if len(info.Artwork) > 0 {
		img, _, err := image.Decode(bytes.NewReader(info.Artwork))
		if err != nil {
			return nil, fmt.Errorf("failed to decode embedded artwork: %w", err)
		}
		return img, nil
	}

	if info.Remote {
		return nil, ErrNoArtwork
	}
	path := findCover(strings.TrimPrefix(info.Origin, "file://"))
	if path == "" {
		return nil, ErrNoArtwork
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", filepath.Base(path), err)
	}
	return img, nil
}

func findCover(trackPath string) string {
	dir := filepath.Dir(trackPath)
	for _, name := range coverNames {
		path := filepath.Join(dir, name)
		if fi, err := os.Stat(path); err == nil && !fi.IsDir() {
			return path
		}
	}
	return ""
}

// Thumbnail scales img down with nearest-neighbour sampling so that neither
// side exceeds limit. Smaller images are returned unchanged.
func Thumbnail(img image.Image, limit int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= limit && h <= limit {
		return img
	}

	tw, th := limit, limit
	if w > h {
		th = h * limit / w
	} else {
		tw = w * limit / h
	}
	tw, th = max(tw, 1), max(th, 1)

	dst := image.NewRGBA(image.Rect(0, 0, tw, th))
	for y := 0; y < th; y++ {
		sy := b.Min.Y + y*h/th
		for x := 0; x < tw; x++ {
			dst.Set(x, y, img.At(b.Min.X+x*w/tw, sy))
		}
	}
	return dst
}
