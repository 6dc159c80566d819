package ui

import (
	"fmt"
	"image"
	"image/color"
	"path/filepath"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/glebovdev/termplay/internal/source"
	"github.com/rivo/tview"
)

const progressWidth = 30

type nowPlaying struct {
	ui       *UI
	layout   *tview.Flex
	title    *tview.TextView
	artist   *tview.TextView
	format   *tview.TextView
	progress *tview.TextView
	download *tview.TextView
	live     *tview.TextView

	duration time.Duration
	remote   bool
}

func newNowPlaying(ui *UI) *nowPlaying {
	np := &nowPlaying{ui: ui}

	value := func(bold bool) *tview.TextView {
		tv := tview.NewTextView()
		tv.SetDynamicColors(true)
		tv.SetWrap(false)
		tv.SetTextColor(ui.colors.foreground)
		tv.SetBackgroundColor(ui.colors.background)
		if bold {
			tv.SetTextStyle(tcell.StyleDefault.Background(ui.colors.background).Attributes(tcell.AttrBold))
		}
		return tv
	}
	label := func(text string) *tview.TextView {
		tv := value(false)
		tv.SetText(" " + text)
		return tv
	}

	np.title = value(true)
	np.artist = value(false)
	np.format = value(false)
	np.progress = value(false)
	np.download = value(false)
	np.live = value(false)
	np.title.SetText(" Nothing playing")

	np.layout = tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(label("Playing:"), 1, 0, false).
		AddItem(np.title, 1, 0, false).
		AddItem(np.artist, 1, 0, false).
		AddItem(nil, 1, 0, false).
		AddItem(label("Format:"), 1, 0, false).
		AddItem(np.format, 1, 0, false).
		AddItem(nil, 1, 0, false).
		AddItem(np.progress, 1, 0, false).
		AddItem(np.download, 1, 0, false).
		AddItem(np.live, 1, 0, false).
		AddItem(nil, 0, 1, false)
	np.layout.SetBackgroundColor(ui.colors.background)

	return np
}

func (np *nowPlaying) show(info source.Info) {
	highlight := np.ui.colors.highlight.String()
	np.duration = info.Duration
	np.remote = info.Remote

	np.title.SetText(fmt.Sprintf(" [%s]%s[-]", highlight, tview.Escape(displayTitle(info))))
	np.artist.SetText(" " + tview.Escape(joinNonEmpty(" - ", info.Artist, info.Album)))
	np.format.SetText(" " + formatLine(info))
	np.progress.SetText("")
	np.download.SetText("")
	np.live.SetText("")
}

func (np *nowPlaying) update(ctrl Controller, live LiveSource) {
	np.progress.SetText(" " + progressLine(ctrl.Position(), np.duration, np.ui.colors.highlight.String()))

	if live == nil || !np.remote {
		return
	}
	if downloaded, progress, known := live.Download(); known || downloaded > 0 {
		np.download.SetText(" " + downloadLine(downloaded, progress, known))
	}
	if title := live.LiveTitle(); title != "" {
		np.live.SetText(fmt.Sprintf(" Now: [%s]%s[-]", np.ui.colors.highlight.String(), tview.Escape(title)))
	}
}

func displayTitle(info source.Info) string {
	if info.Title != "" {
		return info.Title
	}
	base := filepath.Base(strings.TrimPrefix(info.Origin, "file://"))
	if base == "." || base == "/" || info.Remote {
		return info.Origin
	}
	return base
}

func joinNonEmpty(sep string, parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}

func formatLine(info source.Info) string {
	parts := []string{strings.ToUpper(string(info.Codec))}
	if info.SampleRate > 0 {
		parts = append(parts, fmt.Sprintf("%.1f kHz", float64(info.SampleRate)/1000))
	}
	parts = append(parts, channelLabel(info.Channels))
	if info.Remote {
		parts = append(parts, "stream")
	}
	return joinNonEmpty(" · ", parts...)
}

func channelLabel(channels int) string {
	switch channels {
	case 0:
		return ""
	case 1:
		return "mono"
	case 2:
		return "stereo"
	default:
		return fmt.Sprintf("%dch", channels)
	}
}

// progressLine renders elapsed time, a bar and the total when the duration is
// known, and just the elapsed time otherwise.
func progressLine(pos, total time.Duration, color string) string {
	if total <= 0 {
		return "LIVE " + formatDuration(pos)
	}
	if pos > total {
		pos = total
	}
	filled := int(int64(pos) * progressWidth / int64(total))
	done := strings.Repeat("━", filled)
	rest := strings.Repeat("─", progressWidth-filled)
	if color != "" {
		done = fmt.Sprintf("[%s]%s[-]", color, done)
	}
	return fmt.Sprintf("%s %s%s %s", formatDuration(pos), done, rest, formatDuration(total))
}

func downloadLine(downloaded int64, progress float64, known bool) string {
	if !known {
		return "Downloaded " + formatBytes(downloaded)
	}
	return fmt.Sprintf("Downloaded %s (%d%%)", formatBytes(downloaded), int(progress*100))
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGT"[exp])
}

// blankCover fills the artwork panel while a track has no picture.
func blankCover(c tcell.Color) image.Image {
	r, g, b := c.RGB()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	fill := color.RGBA{R: uint8(r), G: uint8(g), B: uint8(b), A: 255}
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			img.Set(x, y, fill)
		}
	}
	return img
}
