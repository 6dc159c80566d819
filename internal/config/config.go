package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	AppName        = "termplay"
	AppTagline     = "Terminal audio player"
	AppDescription = "A terminal audio player for local files and HTTP streams"
	AppProjectURL  = "https://github.com/glebovdev/termplay"

	ConfigDir      = ".config/termplay"
	ConfigFileName = "config.yml"
	EnvFileName    = ".env"
	EnvPrefix      = "TERMPLAY_"

	DefaultVolume = 100
	MinVolume     = 0
	MaxVolume     = 100

	BackendOto       = "oto"
	BackendPortAudio = "portaudio"

	DefaultDeviceRate     = 48000
	DefaultDeviceChannels = 2
	DefaultBufferMs       = 500
	MinBufferMs           = 50
	MaxBufferMs           = 5000

	DefaultPrebufferBytes   = 64 * 1024
	DefaultPrebufferTimeout = 10 * time.Second
	DefaultReadTimeout      = 5 * time.Second
	DefaultConnectAttempts  = 3
	DefaultRetryDelay       = 2 * time.Second
)

// ClampVolume ensures volume is within the valid range [0, 100].
func ClampVolume(volume int) int {
	if volume < MinVolume {
		return MinVolume
	}
	if volume > MaxVolume {
		return MaxVolume
	}
	return volume
}

// AppVersion can be overridden at build time using ldflags:
// go build -ldflags "-X github.com/glebovdev/termplay/internal/config.AppVersion=1.0.0"
var AppVersion = "dev"

// UserAgent is sent with every network stream request.
func UserAgent() string {
	return fmt.Sprintf("%s/%s", AppName, AppVersion)
}

type Theme struct {
	Background  string `yaml:"background"`
	Foreground  string `yaml:"foreground"`
	Borders     string `yaml:"borders"`
	Highlight   string `yaml:"highlight"`
	MutedVolume string `yaml:"muted_volume"`
	Error       string `yaml:"error"`
}

type Network struct {
	PrebufferBytes   int           `yaml:"prebuffer_bytes"`
	PrebufferTimeout time.Duration `yaml:"prebuffer_timeout"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	UserAgent        string        `yaml:"user_agent"`
	ConnectAttempts  int           `yaml:"connect_attempts"`
	RetryDelay       time.Duration `yaml:"retry_delay"`
}

type Config struct {
	Volume         int     `yaml:"volume"`
	Backend        string  `yaml:"backend"`
	DeviceRate     int     `yaml:"device_sample_rate"`
	DeviceChannels int     `yaml:"device_channels"`
	BufferMs       int     `yaml:"buffer_ms"`
	Network        Network `yaml:"network"`
	Theme          Theme   `yaml:"theme"`
}

func GetConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	configPath := filepath.Join(home, ConfigDir, ConfigFileName)
	return configPath, nil
}

// GetCacheDir returns the platform-specific cache directory for the application.
func GetCacheDir() (string, error) {
	userCacheDir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user cache directory: %w", err)
	}

	return filepath.Join(userCacheDir, AppName), nil
}

// Load reads the config file and applies TERMPLAY_* environment overrides,
// including ones declared in a .env file in the working directory.
func Load() (*Config, error) {
	configPath, err := GetConfigPath()
	if err != nil {
		return DefaultConfig(), err
	}

	cfg := DefaultConfig()

	data, err := os.ReadFile(configPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return DefaultConfig(), fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return DefaultConfig(), fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := loadEnvFile(EnvFileName); err != nil {
		return cfg.normalize(), err
	}
	cfg.applyEnv()

	return cfg.normalize(), nil
}

func loadEnvFile(name string) error {
	if _, err := os.Stat(name); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(name); err != nil {
		return fmt.Errorf("failed to load %s: %w", name, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	if v, ok := envInt("VOLUME"); ok {
		c.Volume = v
	}
	if v, ok := os.LookupEnv(EnvPrefix + "BACKEND"); ok && v != "" {
		c.Backend = v
	}
	if v, ok := envInt("DEVICE_SAMPLE_RATE"); ok {
		c.DeviceRate = v
	}
	if v, ok := envInt("DEVICE_CHANNELS"); ok {
		c.DeviceChannels = v
	}
	if v, ok := envInt("BUFFER_MS"); ok {
		c.BufferMs = v
	}
	if v, ok := os.LookupEnv(EnvPrefix + "USER_AGENT"); ok && v != "" {
		c.Network.UserAgent = v
	}
}

func envInt(key string) (int, bool) {
	raw, ok := os.LookupEnv(EnvPrefix + key)
	if !ok || raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

func (c *Config) normalize() *Config {
	c.Volume = ClampVolume(c.Volume)

	if c.Backend != BackendOto && c.Backend != BackendPortAudio {
		c.Backend = BackendOto
	}
	if c.DeviceRate <= 0 {
		c.DeviceRate = DefaultDeviceRate
	}
	if c.DeviceChannels <= 0 {
		c.DeviceChannels = DefaultDeviceChannels
	}
	if c.BufferMs < MinBufferMs {
		c.BufferMs = MinBufferMs
	}
	if c.BufferMs > MaxBufferMs {
		c.BufferMs = MaxBufferMs
	}
	if c.Network.PrebufferBytes <= 0 {
		c.Network.PrebufferBytes = DefaultPrebufferBytes
	}
	if c.Network.PrebufferTimeout <= 0 {
		c.Network.PrebufferTimeout = DefaultPrebufferTimeout
	}
	if c.Network.ReadTimeout <= 0 {
		c.Network.ReadTimeout = DefaultReadTimeout
	}
	if c.Network.UserAgent == "" {
		c.Network.UserAgent = UserAgent()
	}
	if c.Network.ConnectAttempts <= 0 {
		c.Network.ConnectAttempts = DefaultConnectAttempts
	}
	if c.Network.RetryDelay <= 0 {
		c.Network.RetryDelay = DefaultRetryDelay
	}
	return c
}

// VolumeFraction converts the stored percent into the engine's [0,1] range.
func (c *Config) VolumeFraction() float64 {
	return float64(ClampVolume(c.Volume)) / 100.0
}

// RingCapacity is the number of interleaved samples the ring buffer holds.
func (c *Config) RingCapacity() int {
	return c.DeviceRate * c.DeviceChannels * c.BufferMs / 1000
}

// Save writes the configuration to disk atomically using temp file + rename.
func (c *Config) Save() error {
	configPath, err := GetConfigPath()
	if err != nil {
		return err
	}

	configDir := filepath.Dir(configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	tmpFile, err := os.CreateTemp(configDir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	defer func() {
		if tmpPath != "" {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, configPath); err != nil {
		return fmt.Errorf("failed to rename config file: %w", err)
	}

	tmpPath = "" // Prevent defer from removing the final file
	return nil
}

func DefaultConfig() *Config {
	return &Config{
		Volume:         DefaultVolume,
		Backend:        BackendOto,
		DeviceRate:     DefaultDeviceRate,
		DeviceChannels: DefaultDeviceChannels,
		BufferMs:       DefaultBufferMs,
		Network: Network{
			PrebufferBytes:   DefaultPrebufferBytes,
			PrebufferTimeout: DefaultPrebufferTimeout,
			ReadTimeout:      DefaultReadTimeout,
			UserAgent:        UserAgent(),
			ConnectAttempts:  DefaultConnectAttempts,
			RetryDelay:       DefaultRetryDelay,
		},
		Theme: Theme{
			Background:  "#1a1b25",
			Foreground:  "#a3aacb",
			Borders:     "#40445b",
			Highlight:   "#ff9d65",
			MutedVolume: "#fe0702",
			Error:       "#fe0702",
		},
	}
}

func GetColor(colorStr string) tcell.Color {
	if colorStr == "" || colorStr == "default" {
		return tcell.ColorDefault
	}
	return tcell.GetColor(colorStr)
}
