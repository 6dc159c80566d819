package ui

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/glebovdev/termplay/internal/artwork"
	"github.com/glebovdev/termplay/internal/config"
	"github.com/glebovdev/termplay/internal/player"
	"github.com/glebovdev/termplay/internal/source"
	"github.com/rivo/tview"
	"github.com/rs/zerolog/log"
)

const (
	VolumeStep         = 5
	SeekStep           = 5 * time.Second
	HeaderHeight       = 3
	FooterHeightWide   = 3 // Wide: 1 row with padding (top + text + bottom)
	FooterHeightNarrow = 6 // Narrow: 2 rows × 3 lines each
	CoverWidth         = 26
	CoverHeight        = 12
	PlayerPanelHeight  = 12
	FooterBreakpoint   = 110 // Width threshold for responsive footer
	RefreshInterval    = 100 * time.Millisecond
	StatusDisplayTime  = 2 * time.Second
)

// PauseIcon uses platform-specific character (Windows renders ⏸ as emoji)
var PauseIcon = func() string {
	if runtime.GOOS == "windows" {
		return "❚❚"
	}
	return "⏸"
}()

// Controller is the playback surface the keys drive. *player.Session
// satisfies it.
type Controller interface {
	TogglePause()
	IsPaused() bool
	Volume() float64
	SetVolume(v float64)
	Seek(d time.Duration) error
	Position() time.Duration
	State() player.PlayerState
	BufferHealth() int
	Info() source.Info
}

// LiveSource reports progress that only network streams have. *source.Source
// satisfies it.
type LiveSource interface {
	LiveTitle() string
	Download() (downloaded int64, progress float64, known bool)
}

type UI struct {
	app           *tview.Application
	config        *config.Config
	artwork       *artwork.Cache
	pages         *tview.Pages
	mainLayout    *tview.Flex
	contentLayout *tview.Flex
	helpPanel     *tview.Box
	nowPlaying    *nowPlaying
	logoPanel     *tview.Image
	volumeView    *tview.TextView

	mu              sync.Mutex
	ctrl            Controller
	live            LiveSource
	level           int
	isMuted         bool
	status          string
	lastFooterWidth int

	// statusToken increases with every status message; a pending clear only
	// applies if no newer message replaced it.
	statusToken atomic.Uint64
	seeking     atomic.Bool

	next     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	statusRenderer *StatusRenderer
	colors         struct {
		background       tcell.Color
		foreground       tcell.Color
		borders          tcell.Color
		highlight        tcell.Color
		headerBackground tcell.Color
		helpBackground   tcell.Color
		helpForeground   tcell.Color
		helpHotkey       tcell.Color
		modalBackground  tcell.Color
		errorColor       tcell.Color
	}
}

func NewUI(cfg *config.Config) *UI {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	ui := &UI{
		app:           tview.NewApplication(),
		config:        cfg,
		level:         config.ClampVolume(cfg.Volume),
		next:          make(chan struct{}, 1),
		done:          make(chan struct{}),
	}

	ui.colors.background = config.GetColor(cfg.Theme.Background)
	ui.colors.foreground = config.GetColor(cfg.Theme.Foreground)
	ui.colors.borders = config.GetColor(cfg.Theme.Borders)
	ui.colors.highlight = config.GetColor(cfg.Theme.Highlight)
	ui.colors.headerBackground = config.GetColor(cfg.Theme.Borders)
	ui.colors.helpBackground = config.GetColor(cfg.Theme.Borders)
	ui.colors.helpForeground = config.GetColor(cfg.Theme.Foreground)
	ui.colors.helpHotkey = config.GetColor(cfg.Theme.Highlight)
	ui.colors.modalBackground = config.GetColor(cfg.Theme.Background)
	ui.colors.errorColor = config.GetColor(cfg.Theme.Error)

	cache, err := artwork.NewCache()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize artwork cache, artwork will not be cached")
	} else {
		ui.artwork = cache
		go func() {
			if err := cache.CleanExpired(); err != nil {
				log.Debug().Err(err).Msg("Failed to clean expired artwork")
			}
		}()
	}

	ui.statusRenderer = NewStatusRenderer(nil)
	ui.statusRenderer.SetPrimaryColor(ui.colors.highlight.String())

	ui.setupUI()
	return ui
}

func (ui *UI) SaveConfig() {
	ui.mu.Lock()
	ui.config.Volume = ui.level
	ui.mu.Unlock()

	if err := ui.config.Save(); err != nil {
		log.Error().Err(err).Msg("Failed to save config")
	}
}

func (ui *UI) Run() error {
	ui.configureScreen()
	ui.app.SetRoot(ui.pages, true)

	go ui.refreshLoop()

	return ui.app.Run()
}

func (ui *UI) configureScreen() {
	bgStyle := tcell.StyleDefault.Background(ui.colors.background)
	ui.app.SetBeforeDrawFunc(func(screen tcell.Screen) bool {
		screen.SetStyle(bgStyle)
		screen.Clear()
		return false
	})

	var titleSet sync.Once
	ui.app.SetAfterDrawFunc(func(screen tcell.Screen) {
		titleSet.Do(func() { screen.SetTitle(config.AppName) })
	})
}

// Done is closed when the user quits.
func (ui *UI) Done() <-chan struct{} { return ui.done }

// Next receives a value when the user asks to skip to the next item.
func (ui *UI) Next() <-chan struct{} { return ui.next }

func (ui *UI) stop() {
	ui.stopOnce.Do(func() {
		ui.SaveConfig()
		close(ui.done)
		ui.app.Stop()
	})
}

// Shutdown stops the UI gracefully from external callers (e.g., signal handlers).
func (ui *UI) Shutdown() {
	ui.app.QueueUpdateDraw(func() {
		ui.stop()
	})
}

// Attach shows a new playback session. live may be nil for local files.
func (ui *UI) Attach(ctrl Controller, live LiveSource) {
	ui.mu.Lock()
	ui.ctrl = ctrl
	ui.live = live
	volume := ui.level
	if ui.isMuted {
		volume = 0
	}
	ui.mu.Unlock()

	ctrl.SetVolume(float64(volume) / 100)
	info := ctrl.Info()

	ui.app.QueueUpdateDraw(func() {
		ui.statusRenderer.SetController(ctrl)
		ui.nowPlaying.show(info)
		ui.logoPanel.SetImage(blankCover(ui.colors.background))
	})
	go ui.loadArtwork(info)
}

// ShowError reports a failed item without leaving the UI.
func (ui *UI) ShowError(err error) {
	ui.app.QueueUpdateDraw(func() {
		ui.showError(err)
	})
}

func (ui *UI) controller() (Controller, LiveSource) {
	ui.mu.Lock()
	defer ui.mu.Unlock()
	return ui.ctrl, ui.live
}

func (ui *UI) loadArtwork(info source.Info) {
	img, err := ui.artwork.Load(info)
	if err != nil {
		if !errors.Is(err, artwork.ErrNoArtwork) {
			log.Debug().Err(err).Str("origin", info.Origin).Msg("Failed to load artwork")
		}
		return
	}

	ui.app.QueueUpdateDraw(func() {
		ui.logoPanel.SetImage(img)
	})
}

func (ui *UI) refreshLoop() {
	ticker := time.NewTicker(RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ui.done:
			return
		case <-ticker.C:
			ui.app.QueueUpdateDraw(func() {
				ui.statusRenderer.AdvanceAnimation()
				ui.updateNowPlaying()
				ui.updateVolumeDisplay()
			})
		}
	}
}

func (ui *UI) updateNowPlaying() {
	ctrl, live := ui.controller()
	if ctrl == nil {
		return
	}
	ui.nowPlaying.update(ctrl, live)
}

// setStatus shows msg in the footer until StatusDisplayTime passes or a newer
// message replaces it.
func (ui *UI) setStatus(msg string) uint64 {
	token := ui.statusToken.Add(1)
	ui.mu.Lock()
	ui.status = msg
	ui.mu.Unlock()

	time.AfterFunc(StatusDisplayTime, func() {
		ui.clearStatus(token)
	})
	return token
}

func (ui *UI) clearStatus(token uint64) bool {
	if ui.statusToken.Load() != token {
		return false
	}
	ui.mu.Lock()
	defer ui.mu.Unlock()
	ui.status = ""
	return true
}

func (ui *UI) currentStatus() string {
	ui.mu.Lock()
	defer ui.mu.Unlock()
	return ui.status
}

func (ui *UI) setupUI() {
	header := ui.createHeader()

	ui.logoPanel = tview.NewImage()
	ui.logoPanel.SetBackgroundColor(ui.colors.background)
	ui.logoPanel.SetAlign(tview.AlignLeft, tview.AlignTop)

	ui.nowPlaying = newNowPlaying(ui)
	ui.volumeView = newVolumeMeter(ui)
	ui.updateVolumeDisplay()

	logoWrapper := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(ui.logoPanel, CoverHeight, 0, false).
		AddItem(nil, 0, 1, false)
	logoWrapper.SetBackgroundColor(ui.colors.background)

	playerPanel := tview.NewFlex().SetDirection(tview.FlexColumn).
		AddItem(logoWrapper, CoverWidth, 0, false).
		AddItem(ui.nowPlaying.layout, 0, 1, false).
		AddItem(ui.volumeView, 7, 0, false)
	playerPanel.SetBackgroundColor(ui.colors.background)

	ui.helpPanel = ui.createFooter()

	ui.contentLayout = tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(header, HeaderHeight, 0, false).
		AddItem(nil, 1, 0, false).
		AddItem(playerPanel, PlayerPanelHeight, 0, false).
		AddItem(nil, 0, 1, false).
		AddItem(ui.helpPanel, FooterHeightWide, 0, false)
	ui.contentLayout.SetBackgroundColor(ui.colors.background)

	wrapper := tview.NewFlex().SetDirection(tview.FlexColumn).
		AddItem(nil, 3, 0, false).
		AddItem(ui.contentLayout, 0, 1, true).
		AddItem(nil, 3, 0, false)
	wrapper.SetBackgroundColor(ui.colors.background)

	ui.mainLayout = tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(nil, 1, 0, false).
		AddItem(wrapper, 0, 1, true).
		AddItem(nil, 1, 0, false)
	ui.mainLayout.SetBackgroundColor(ui.colors.background)

	ui.pages = tview.NewPages().
		AddPage("main", ui.mainLayout, true, true)
	ui.pages.SetBackgroundColor(ui.colors.background)

	ui.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if ui.pages.HasPage("modal") {
			return event
		}
		return ui.globalInputHandler(event)
	})
}

func (ui *UI) createHeader() tview.Primitive {
	titleView := tview.NewTextView()
	titleView.SetText(" " + config.AppName)
	titleView.SetTextAlign(tview.AlignLeft)
	titleView.SetTextColor(ui.colors.foreground)
	titleView.SetBackgroundColor(ui.colors.headerBackground)

	versionView := tview.NewTextView()
	versionView.SetText("v" + config.AppVersion + " ")
	versionView.SetTextAlign(tview.AlignRight)
	versionView.SetTextColor(ui.colors.foreground)
	versionView.SetBackgroundColor(ui.colors.headerBackground)

	textFlex := tview.NewFlex().SetDirection(tview.FlexColumn).
		AddItem(titleView, 0, 1, false).
		AddItem(versionView, 10, 0, false)
	textFlex.SetBackgroundColor(ui.colors.headerBackground)

	padded := tview.NewFlex().SetDirection(tview.FlexColumn).
		AddItem(tview.NewBox().SetBackgroundColor(ui.colors.headerBackground), 1, 0, false).
		AddItem(textFlex, 0, 1, false).
		AddItem(tview.NewBox().SetBackgroundColor(ui.colors.headerBackground), 1, 0, false)
	padded.SetBackgroundColor(ui.colors.headerBackground)

	headerFlex := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(tview.NewBox().SetBackgroundColor(ui.colors.headerBackground), 1, 0, false).
		AddItem(padded, 1, 0, false).
		AddItem(tview.NewBox().SetBackgroundColor(ui.colors.headerBackground), 1, 0, false)
	headerFlex.SetBackgroundColor(ui.colors.headerBackground)

	return headerFlex
}

func (ui *UI) seekBy(delta time.Duration) {
	ctrl, _ := ui.controller()
	if ctrl == nil {
		return
	}

	// One seek at a time; presses during a seek are dropped.
	if !ui.seeking.CompareAndSwap(false, true) {
		return
	}

	target := ctrl.Position() + delta
	if target < 0 {
		target = 0
	}

	// Seek sleeps while the callback settles; keep the event loop free.
	go func() {
		defer ui.seeking.Store(false)
		err := ctrl.Seek(target)
		switch {
		case errors.Is(err, player.ErrSeekUnsupported):
			ui.setStatus("Seeking is not available for this source")
		case err != nil:
			log.Debug().Err(err).Msg("Seek failed")
			ui.setStatus("Seek failed")
		default:
			ui.setStatus("Seek " + formatDuration(target))
		}
	}()
}

func (ui *UI) togglePause() {
	ctrl, _ := ui.controller()
	if ctrl == nil {
		return
	}
	ctrl.TogglePause()
	if ctrl.IsPaused() {
		ui.setStatus("Paused")
	} else {
		ui.setStatus("Resumed")
	}
}

func (ui *UI) skip() {
	select {
	case ui.next <- struct{}{}:
		ui.setStatus("Next")
	default:
	}
}

func (ui *UI) globalInputHandler(event *tcell.EventKey) *tcell.EventKey {
	switch event.Key() {
	case tcell.KeyRune:
		switch event.Rune() {
		case 'q', 'Q':
			ui.stop()
			return nil
		case ' ':
			ui.togglePause()
			return nil
		case '>':
			ui.skip()
			return nil
		case '+', '=', 'k':
			ui.adjustVolume(VolumeStep)
			return nil
		case '-', '_', 'j':
			ui.adjustVolume(-VolumeStep)
			return nil
		case 'h':
			ui.seekBy(-SeekStep)
			return nil
		case 'l':
			ui.seekBy(SeekStep)
			return nil
		case 'm', 'M':
			ui.toggleMute()
			return nil
		case '?':
			ui.showHelpModal()
			return nil
		case 'a', 'A':
			ui.showAboutModal()
			return nil
		}
	case tcell.KeyEscape:
		ui.stop()
		return nil
	case tcell.KeyRight:
		ui.skip()
		return nil
	case tcell.KeyUp:
		ui.adjustVolume(VolumeStep)
		return nil
	case tcell.KeyDown:
		ui.adjustVolume(-VolumeStep)
		return nil
	}
	return event
}

func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d / time.Second)
	h, m, s := total/3600, (total/60)%60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
