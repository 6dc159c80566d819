package netstream

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog/log"
)

const maxICYMetaLen = 4080

// icyReader strips interleaved SHOUTcast metadata blocks from a stream body,
// handing each StreamTitle to onTitle.
type icyReader struct {
	r         *bufio.Reader
	metaint   int
	remaining int
	onTitle   func(string)
}

func newICYReader(r io.Reader, metaint int, onTitle func(string)) *icyReader {
	return &icyReader{
		r:         bufio.NewReader(r),
		metaint:   metaint,
		remaining: metaint,
		onTitle:   onTitle,
	}
}

func (ir *icyReader) Read(p []byte) (int, error) {
	if ir.remaining == 0 {
		if err := ir.readMeta(); err != nil {
			return 0, err
		}
		ir.remaining = ir.metaint
	}

	if len(p) > ir.remaining {
		p = p[:ir.remaining]
	}
	n, err := ir.r.Read(p)
	ir.remaining -= n
	return n, err
}

func (ir *icyReader) readMeta() error {
	lenByte, err := ir.r.ReadByte()
	if err != nil {
		return err
	}

	metaLen := int(lenByte) * 16
	if metaLen == 0 {
		return nil
	}
	if metaLen > maxICYMetaLen {
		log.Warn().Int("metaLen", metaLen).Msg("ICY metadata too large, skipping")
		_, err := io.CopyN(io.Discard, ir.r, int64(metaLen))
		return err
	}

	meta := make([]byte, metaLen)
	if _, err := io.ReadFull(ir.r, meta); err != nil {
		return fmt.Errorf("metadata content error: %w", err)
	}

	if title, ok := parseStreamTitle(string(meta)); ok && ir.onTitle != nil {
		ir.onTitle(title)
	}
	return nil
}

func parseStreamTitle(meta string) (string, bool) {
	const key = "StreamTitle='"
	start := strings.Index(meta, key)
	if start < 0 {
		return "", false
	}
	start += len(key)
	end := strings.Index(meta[start:], "';")
	if end <= 0 {
		return "", false
	}
	return meta[start : start+end], true
}
