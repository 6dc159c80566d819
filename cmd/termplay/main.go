package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/glebovdev/termplay/internal/config"
	"github.com/glebovdev/termplay/internal/media"
	"github.com/glebovdev/termplay/internal/netstream"
	"github.com/glebovdev/termplay/internal/output"
	"github.com/glebovdev/termplay/internal/player"
	"github.com/glebovdev/termplay/internal/source"
	"github.com/glebovdev/termplay/internal/ui"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const pollInterval = 50 * time.Millisecond

var (
	versionFlag = flag.Bool("version", false, "Show version information")
	debugFlag   = flag.Bool("debug", false, "Enable debug logging")
	volumeFlag  = flag.Int("volume", -1, "Initial volume 0-100 (default from config)")
	noUIFlag    = flag.Bool("no-ui", false, "Play without the terminal interface")
	hintFlag    = flag.String("hint", "", "Format to try first: mp3, flac, ogg or wav")
	backendFlag = flag.String("backend", "", "Audio backend (default from config)")
)

func init() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s v%s - %s\n\n", config.AppName, config.AppVersion, config.AppDescription)
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <file or URL>...\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()

		configPath, err := config.GetConfigPath()
		if err == nil {
			if _, statErr := os.Stat(configPath); statErr == nil {
				fmt.Fprintf(os.Stderr, "\nConfig file: %s\n", configPath)
			} else {
				fmt.Fprintf(os.Stderr, "\nConfig file will be created on first use.\n")
			}
		}
	}
}

func setupLogging(debug bool) {
	if !debug {
		// Avoid TUI corruption by only logging errors to /dev/null
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
		logFile, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0644)
		if err == nil {
			log.Logger = log.Output(logFile)
		}
		return
	}

	zerolog.SetGlobalLevel(zerolog.DebugLevel)

	cacheDir, err := config.GetCacheDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not get cache dir: %v\n", err)
		cacheDir = os.TempDir()
	}
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log dir: %v\n", err)
	}
	logPath := filepath.Join(cacheDir, "debug.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log file: %v\n", err)
		logFile = os.Stderr
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: logFile, TimeFormat: "15:04:05"})
	fmt.Printf("Debug log: %s\n", logPath)
	log.Info().Msgf("Starting %s v%s (debug mode)", config.AppName, config.AppVersion)
}

func main() {
	flag.Parse()

	if *versionFlag {
		fmt.Printf("%s v%s\n", config.AppName, config.AppVersion)
		fmt.Println(config.AppDescription)
		os.Exit(0)
	}

	setupLogging(*debugFlag)

	items := flag.Args()
	if len(items) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	hint := media.Parse(*hintFlag)
	if *hintFlag != "" && hint == media.None {
		fmt.Fprintf(os.Stderr, "Unknown format hint %q\n", *hintFlag)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load config, using defaults")
	}
	if *volumeFlag >= 0 {
		cfg.Volume = config.ClampVolume(*volumeFlag)
	}
	if *backendFlag != "" {
		cfg.Backend = *backendFlag
	}
	if configPath, err := config.GetConfigPath(); err == nil {
		log.Debug().Msgf("Config: %s", configPath)
	}

	buffer := time.Duration(cfg.BufferMs) * time.Millisecond
	dev, err := output.New(cfg.Backend, cfg.DeviceRate, cfg.DeviceChannels, buffer)
	if errors.Is(err, output.ErrUnknownBackend) && cfg.Backend != output.BackendOto {
		log.Warn().Msgf("Backend %q is not available in this build, using %s", cfg.Backend, output.BackendOto)
		dev, err = output.New(output.BackendOto, cfg.DeviceRate, cfg.DeviceChannels, buffer)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Cannot open audio output: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b := &batch{
		items: items,
		dev:   dev,
		cfg:   cfg,
		sourceOpts: source.Options{
			Hint: hint,
			Network: netstream.Options{
				UserAgent:   cfg.Network.UserAgent,
				ReadTimeout: cfg.Network.ReadTimeout,
			},
			PrebufferBytes:   cfg.Network.PrebufferBytes,
			PrebufferTimeout: cfg.Network.PrebufferTimeout,
			Attempts:         cfg.Network.ConnectAttempts,
			RetryDelay:       cfg.Network.RetryDelay,
		},
		volume: cfg.VolumeFraction(),
	}

	if *noUIFlag {
		os.Exit(b.run(ctx))
	}

	termUI := ui.NewUI(cfg)
	b.ui = termUI

	code := make(chan int, 1)
	go func() {
		code <- b.run(ctx)
		termUI.Shutdown()
	}()
	go func() {
		<-ctx.Done()
		log.Info().Msg("Received shutdown signal, cleaning up...")
		termUI.Shutdown()
	}()

	if err := termUI.Run(); err != nil {
		log.Error().Err(err).Msg("Error running UI")
		stop()
		<-code
		os.Exit(1)
	}

	// The batch may still be playing if the user quit.
	stop()
	exit := <-code
	if b.lastErr != nil && exit != 0 {
		fmt.Fprintf(os.Stderr, "%v\n", b.lastErr)
	}
	log.Info().Msgf("%s stopped", config.AppName)
	os.Exit(exit)
}

type batch struct {
	items      []string
	dev        output.Device
	cfg        *config.Config
	sourceOpts source.Options
	volume     float64
	ui         *ui.UI
	lastErr    error
}

// run plays every item in order and returns the process exit code. A single
// item that cannot start is fatal; in a longer batch it is skipped.
func (b *batch) run(ctx context.Context) int {
	for _, origin := range b.items {
		if ctx.Err() != nil || b.quit() {
			return 0
		}

		sess, err := b.start(ctx, origin)
		if err != nil {
			b.lastErr = err
			log.Error().Err(err).Str("origin", origin).Msg("Cannot play item")
			if len(b.items) == 1 {
				if b.ui == nil {
					fmt.Fprintf(os.Stderr, "%v\n", err)
				}
				return 1
			}
			b.report(err)
			continue
		}

		b.wait(ctx, sess)
		b.volume = sess.Volume()
		if err := sess.Err(); err != nil {
			log.Warn().Err(err).Str("origin", origin).Msg("Playback ended early")
		}
		if err := sess.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to release source")
		}
	}
	return 0
}

func (b *batch) start(ctx context.Context, origin string) (*player.Session, error) {
	src, err := source.Open(ctx, origin, b.sourceOpts)
	if err != nil {
		return nil, err
	}

	sess, err := player.Play(src, b.dev, player.Options{
		Volume:       b.volume,
		RingCapacity: b.cfg.RingCapacity(),
	})
	if err != nil {
		return nil, err
	}

	info := sess.Info()
	if b.ui != nil {
		b.ui.Attach(sess, src)
	} else {
		rate := fmt.Sprintf("%d Hz", info.SampleRate)
		if sess.Resampling() {
			rate += fmt.Sprintf(" -> %d Hz", b.dev.SampleRate())
		}
		fmt.Printf("Playing %s (%s, %s)\n", info.Origin, info.Codec, rate)
	}
	return sess, nil
}

func (b *batch) wait(ctx context.Context, sess *player.Session) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var next, done <-chan struct{}
	if b.ui != nil {
		next, done = b.ui.Next(), b.ui.Done()
	}

	for !sess.IsEmpty() {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-next:
			log.Debug().Msg("Skipping to next item")
			return
		case <-ticker.C:
		}
	}
}

func (b *batch) quit() bool {
	if b.ui == nil {
		return false
	}
	select {
	case <-b.ui.Done():
		return true
	default:
		return false
	}
}

func (b *batch) report(err error) {
	if b.ui != nil {
		b.ui.ShowError(err)
		return
	}
	fmt.Fprintf(os.Stderr, "%v\n", err)
}
