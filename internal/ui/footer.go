package ui

import (
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/glebovdev/termplay/internal/player"
	"github.com/rivo/tview"
)

type StatusRenderer struct {
	ctrl          Controller
	isMuted       bool
	animFrame     int
	maxAnimFrame  int
	tickCount     int
	ticksPerFrame int

	bufferHealth         int
	bufferTickCount      int
	bufferTicksPerUpdate int

	primaryColor string
}

func NewStatusRenderer(ctrl Controller) *StatusRenderer {
	return &StatusRenderer{
		ctrl:                 ctrl,
		maxAnimFrame:         4,
		ticksPerFrame:        5,  // 5 × 100ms per frame
		bufferTicksPerUpdate: 10, // Buffer gauge about once a second
	}
}

func (s *StatusRenderer) SetController(ctrl Controller) {
	s.ctrl = ctrl
	s.bufferHealth = 0
}

func (s *StatusRenderer) SetMuted(muted bool) {
	s.isMuted = muted
}

func (s *StatusRenderer) SetPrimaryColor(color string) {
	s.primaryColor = color
}

func (s *StatusRenderer) AdvanceAnimation() {
	s.tickCount++
	if s.tickCount >= s.ticksPerFrame {
		s.tickCount = 0
		s.animFrame = (s.animFrame + 1) % s.maxAnimFrame
	}

	s.bufferTickCount++
	if s.bufferTickCount >= s.bufferTicksPerUpdate {
		s.bufferTickCount = 0
		if s.ctrl != nil {
			s.bufferHealth = s.ctrl.BufferHealth()
		}
	}
}

func (s *StatusRenderer) Render() string {
	if s.ctrl == nil {
		return s.renderIdle()
	}

	switch s.ctrl.State() {
	case player.StateBuffering:
		return s.renderBuffering()
	case player.StatePlaying:
		return s.renderPlaying()
	case player.StatePaused:
		return s.renderPaused()
	case player.StateSeeking:
		return s.renderSeeking()
	case player.StateFinished:
		return s.renderFinished()
	default:
		return s.renderIdle()
	}
}

func (s *StatusRenderer) renderIdle() string {
	if s.isMuted {
		return "○ IDLE │ [red]MUTED[-]"
	}
	return "○ IDLE"
}

func (s *StatusRenderer) renderBuffering() string {
	circles := []string{"◐", "◓", "◑", "◒"}
	return fmt.Sprintf("%s BUFFERING", circles[s.animFrame])
}

func (s *StatusRenderer) renderSeeking() string {
	arrows := []string{"»", "›", "»", "›"}
	return fmt.Sprintf("%s SEEKING", arrows[s.animFrame])
}

func (s *StatusRenderer) renderFinished() string {
	return "■ FINISHED"
}

func (s *StatusRenderer) renderPlaying() string {
	dots := []string{"●", "◉", "○", "◉"}
	dot := dots[s.animFrame]

	if s.primaryColor != "" {
		dot = fmt.Sprintf("[%s]%s[-]", s.primaryColor, dot)
	}

	parts := []string{dot + " PLAYING"}
	if s.isMuted {
		parts = append(parts, "[red]MUTED[-]")
	}
	parts = append(parts, s.formatBufferHealth(s.bufferHealth))

	return joinParts(parts)
}

func (s *StatusRenderer) renderPaused() string {
	parts := []string{PauseIcon + " PAUSED"}
	if s.isMuted {
		parts = append(parts, "[red]MUTED[-]")
	}
	return joinParts(parts)
}

func (s *StatusRenderer) formatBufferHealth(percent int) string {
	signalBars := []string{"▁", "▂", "▃", "▅", "▇"}
	const numBars = 5

	filled := (percent * numBars) / 100
	if filled > numBars {
		filled = numBars
	}

	var bar strings.Builder
	for i := 0; i < numBars; i++ {
		if i < filled {
			bar.WriteString(signalBars[i])
		} else {
			bar.WriteString("▁")
		}
	}
	return bar.String()
}

func joinParts(parts []string) string {
	return strings.Join(parts, " │ ")
}

func (ui *UI) getPlaybackHint(keyColor string) string {
	ctrl, _ := ui.controller()
	if ctrl != nil && ctrl.IsPaused() {
		return fmt.Sprintf("[%s]Space[-] resume", keyColor)
	}
	return fmt.Sprintf("[%s]Space[-] pause", keyColor)
}

func (ui *UI) getHelpText() string {
	keyColor := ui.colors.helpHotkey.String()
	playbackHint := ui.getPlaybackHint(keyColor)

	muteText := "mute"
	ui.mu.Lock()
	if ui.isMuted {
		muteText = "unmute"
	}
	ui.mu.Unlock()

	return fmt.Sprintf(" %s  [%s]h/l[-] seek  [%s]+/-[-] vol  [%s]m[-] %s  [%s]>[-] next  [%s]?[-] help  [%s]q[-] quit ",
		playbackHint, keyColor, keyColor, keyColor, muteText, keyColor, keyColor, keyColor)
}

func (ui *UI) statusText() string {
	if msg := ui.currentStatus(); msg != "" {
		return " " + msg + " "
	}
	return " " + ui.statusRenderer.Render() + " "
}

func (ui *UI) handleFooterResize(width int) {
	isWide := width >= FooterBreakpoint
	wasWide := ui.lastFooterWidth >= FooterBreakpoint

	if ui.lastFooterWidth > 0 && isWide != wasWide && ui.contentLayout != nil {
		newHeight := FooterHeightWide
		if !isWide {
			newHeight = FooterHeightNarrow
		}
		ui.contentLayout.ResizeItem(ui.helpPanel, newHeight, 0)
	}
	ui.lastFooterWidth = width
}

func (ui *UI) drawWideFooter(screen tcell.Screen, x, y, width, height int, helpText, statusText string) {
	helpWidth := width * 2 / 3
	statusWidth := width - helpWidth

	for row := y; row < y+height; row++ {
		for col := x; col < x+helpWidth; col++ {
			screen.SetContent(col, row, ' ', nil, tcell.StyleDefault.Background(ui.colors.helpBackground))
		}
		for col := x + helpWidth; col < x+width; col++ {
			screen.SetContent(col, row, ' ', nil, tcell.StyleDefault.Background(ui.colors.background))
		}
	}

	centerY := y + height/2
	tview.Print(screen, helpText, x, centerY, helpWidth, tview.AlignCenter, ui.colors.helpForeground)
	tview.Print(screen, statusText, x+helpWidth, centerY, statusWidth-2, tview.AlignRight, ui.colors.foreground)
}

func (ui *UI) drawNarrowFooter(screen tcell.Screen, x, y, width, height int, helpText, statusText string) {
	helpHeight := height / 2
	if helpHeight < 1 {
		helpHeight = 1
	}
	statusHeight := height - helpHeight
	helpBoxEnd := y + helpHeight

	for row := y; row < y+height; row++ {
		bg := ui.colors.background
		if row < helpBoxEnd {
			bg = ui.colors.helpBackground
		}
		for col := x; col < x+width; col++ {
			screen.SetContent(col, row, ' ', nil, tcell.StyleDefault.Background(bg))
		}
	}

	tview.Print(screen, helpText, x, y+helpHeight/2, width, tview.AlignCenter, ui.colors.helpForeground)

	if statusHeight > 0 {
		tview.Print(screen, statusText, x, helpBoxEnd+statusHeight/2, width-2, tview.AlignRight, ui.colors.foreground)
	}
}

func (ui *UI) createFooter() *tview.Box {
	box := tview.NewBox().SetBackgroundColor(ui.colors.background)

	box.SetDrawFunc(func(screen tcell.Screen, x, y, width, height int) (int, int, int, int) {
		ui.handleFooterResize(width)

		helpText := ui.getHelpText()
		statusText := ui.statusText()

		if width >= FooterBreakpoint {
			usedHeight := min(height, FooterHeightWide)
			ui.drawWideFooter(screen, x, y, width, usedHeight, helpText, statusText)
		} else {
			ui.drawNarrowFooter(screen, x, y, width, height, helpText, statusText)
		}

		return x, y, width, height
	})

	return box
}
