package ui

import (
	"fmt"
	"math"
	"strings"

	"github.com/glebovdev/termplay/internal/config"
	"github.com/rivo/tview"
	"github.com/rs/zerolog/log"
)

const volumeBarHeight = 10

func newVolumeMeter(ui *UI) *tview.TextView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignRight).
		SetWrap(false)
	tv.SetBackgroundColor(ui.colors.background)
	tv.SetTextColor(ui.colors.foreground)
	return tv
}

// volumeBar draws a percentage label over a column of cells filled from the
// bottom. Colors are tview color names.
func volumeBar(percent int, muted bool, fill, empty string) string {
	percent = config.ClampVolume(percent)
	filled := percent * volumeBarHeight / 100

	label := fmt.Sprintf("%d%%", percent)
	if muted {
		label = "[::s]" + label + "[::-]"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[%s]%s[-]\n", fill, label)
	for row := volumeBarHeight; row > 0; row-- {
		if row <= filled {
			fmt.Fprintf(&b, "[%s]██[-] \n", fill)
		} else {
			fmt.Fprintf(&b, "[%s]░░[-] \n", empty)
		}
	}
	return b.String()
}

func percentOf(gain float64) int {
	return config.ClampVolume(int(math.Round(gain * 100)))
}

// volumePercent is what the meter shows: the session gain while playing, the
// remembered level while muted or idle.
func (ui *UI) volumePercent() (percent int, muted bool) {
	ui.mu.Lock()
	level := ui.level
	muted = ui.isMuted
	ui.mu.Unlock()

	if muted {
		return level, true
	}
	if ctrl, _ := ui.controller(); ctrl != nil {
		return percentOf(ctrl.Volume()), false
	}
	return level, false
}

func (ui *UI) updateVolumeDisplay() {
	if ui.volumeView == nil {
		return
	}
	percent, muted := ui.volumePercent()
	fill := ui.colors.highlight
	if muted {
		fill = config.GetColor(ui.config.Theme.MutedVolume)
	}
	ui.volumeView.SetText(volumeBar(percent, muted, fill.String(), ui.colors.foreground.String()))
}

func (ui *UI) applyVolume(percent int) {
	if ctrl, _ := ui.controller(); ctrl != nil {
		ctrl.SetVolume(float64(percent) / 100)
	}
}

func (ui *UI) adjustVolume(delta int) {
	percent, muted := ui.volumePercent()
	if muted {
		ui.setMuted(false, percent)
		ui.setStatus(fmt.Sprintf("Volume %d%%", percent))
		log.Debug().Msgf("Auto-unmuted, restored volume to %d%%", percent)
		return
	}

	percent = config.ClampVolume(percent + delta)
	ui.mu.Lock()
	ui.level = percent
	ui.mu.Unlock()

	ui.applyVolume(percent)
	ui.updateVolumeDisplay()
	ui.setStatus(fmt.Sprintf("Volume %d%%", percent))
	ui.SaveConfig()
	log.Debug().Msgf("Volume adjusted to %d%%", percent)
}

func (ui *UI) toggleMute() {
	percent, muted := ui.volumePercent()
	if muted {
		ui.setMuted(false, percent)
		log.Debug().Msgf("Unmuted, restored volume to %d%%", percent)
		return
	}
	if percent == 0 {
		percent = config.DefaultVolume
	}
	ui.setMuted(true, percent)
	log.Debug().Msgf("Muted, remembering volume %d%%", percent)
}

// setMuted records level as the volume to come back to and silences or
// restores the session.
func (ui *UI) setMuted(muted bool, level int) {
	ui.mu.Lock()
	ui.isMuted = muted
	ui.level = level
	ui.mu.Unlock()
	ui.statusRenderer.SetMuted(muted)

	if muted {
		ui.applyVolume(0)
	} else {
		ui.applyVolume(level)
	}
	ui.updateVolumeDisplay()
	ui.SaveConfig()
}
