package source

import (
	"io"

	"github.com/dhowden/tag"
	"github.com/rs/zerolog/log"
)

type tagMeta struct {
	title   string
	artist  string
	album   string
	artwork []byte
}

// readTags pulls ID3/Vorbis/FLAC tags. A file without tags is not an error.
func readTags(r io.ReadSeeker) tagMeta {
	m, err := tag.ReadFrom(r)
	if err != nil {
		log.Debug().Err(err).Msg("No readable tags")
		return tagMeta{}
	}

	meta := tagMeta{
		title:  m.Title(),
		artist: m.Artist(),
		album:  m.Album(),
	}
	if pic := m.Picture(); pic != nil {
		meta.artwork = pic.Data
	}
	return meta
}

func (m tagMeta) info(src *Source) Info {
	info := Info{
		Title:   m.title,
		Artist:  m.artist,
		Album:   m.album,
		Artwork: m.artwork,
	}
	info.fill(src)
	return info
}

func (i *Info) fill(src *Source) {
	i.Codec = src.track.Codec
	i.SampleRate = src.track.SampleRate
	i.Channels = src.track.Channels
	i.Duration = src.reader.Duration()
}
