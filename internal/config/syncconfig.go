// Package config provides configuration management for transfer-sync.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"gopkg.in/ini.v1"

	"github.com/rescale/transfer-sync/internal/constants"
)

// Transport names accepted in [backend] transport.
const (
	TransportIPC  = "ipc"
	TransportHTTP = "http"
)

// Config represents the transfer-sync configuration file.
//
// Config file location:
//   - Windows: %APPDATA%\Rescale\TransferSync\transfer-sync.conf
//   - Unix: ~/.config/rescale/transfer-sync.conf
//
// INI format:
//
//	[sync]
//	poll_interval_seconds = 5
//
//	[backend]
//	transport = ipc
//	socket_path = /home/me/.config/rescale/transfer-sync.sock
//	base_url = http://127.0.0.1:7490
//	proxy_url =
//	no_proxy =
//	timeout_seconds = 10
//
//	[engine]
//	listen = 127.0.0.1:7490
//	rate_bytes_per_second = 4194304
//	max_concurrent = 3
//	tick_ms = 200
//
//	[notify]
//	enabled = false
//	on_complete = true
//	on_failed = true
//
//	[logging]
//	level = info
//	file =
type Config struct {
	Sync    SyncConfig
	Backend BackendConfig
	Engine  EngineConfig
	Notify  NotifyConfig
	Logging LoggingConfig
}

// SyncConfig controls the queue synchronizers.
type SyncConfig struct {
	// PollIntervalSeconds is the snapshot poll interval.
	// Minimum: 1, Maximum: 3600, Default: 5
	PollIntervalSeconds int `ini:"poll_interval_seconds"`
}

// BackendConfig selects how the synchronizers reach the engine.
type BackendConfig struct {
	// Transport is "ipc" (unix socket) or "http".
	Transport string `ini:"transport"`

	// SocketPath is the unix socket used by the ipc transport.
	SocketPath string `ini:"socket_path"`

	// BaseURL is the engine address used by the http transport.
	BaseURL string `ini:"base_url"`

	// ProxyURL, when set, routes http transport requests through a proxy.
	// NoProxy lists hosts, *.domains and CIDRs that bypass it.
	ProxyURL string `ini:"proxy_url"`
	NoProxy  string `ini:"no_proxy"`

	// TimeoutSeconds bounds each engine command.
	// Minimum: 1, Maximum: 300, Default: 10
	TimeoutSeconds int `ini:"timeout_seconds"`
}

// EngineConfig tunes the simulated engine served by `transfer-sync serve`.
type EngineConfig struct {
	// Listen is the HTTP bind address. Empty disables the HTTP server.
	Listen string `ini:"listen"`

	// RateBytesPerSecond is the simulated per-task transfer rate.
	RateBytesPerSecond int64 `ini:"rate_bytes_per_second"`

	// MaxConcurrent is the number of tasks per kind moving bytes at once.
	// Minimum: 1, Maximum: 16, Default: 3
	MaxConcurrent int `ini:"max_concurrent"`

	// TickMillis is the engine step interval.
	TickMillis int `ini:"tick_ms"`
}

// NotifyConfig controls desktop notifications raised by `transfer-sync watch`.
type NotifyConfig struct {
	Enabled    bool `ini:"enabled"`
	OnComplete bool `ini:"on_complete"`
	OnFailed   bool `ini:"on_failed"`
}

// LoggingConfig holds the log level and optional rotating log file.
type LoggingConfig struct {
	Level string `ini:"level"`

	// File receives a copy of every log line, rotated by size. Empty
	// disables file logging.
	File string `ini:"file"`
}

// Config validation errors
var (
	ErrInvalidPollInterval  = errors.New("poll_interval_seconds must be between 1 and 3600")
	ErrInvalidTransport     = errors.New("transport must be ipc or http")
	ErrMissingSocketPath    = errors.New("socket_path is required for the ipc transport")
	ErrMissingBaseURL       = errors.New("base_url is required for the http transport")
	ErrInvalidTimeout       = errors.New("timeout_seconds must be between 1 and 300")
	ErrInvalidRate          = errors.New("rate_bytes_per_second must be positive")
	ErrInvalidMaxConcurrent = errors.New("max_concurrent must be between 1 and 16")
	ErrInvalidTick          = errors.New("tick_ms must be between 10 and 10000")
	ErrInvalidLogLevel      = errors.New("level must be debug, info, warn or error")
)

func configDir() (string, error) {
	if runtime.GOOS == "windows" {
		appData := os.Getenv("APPDATA")
		if appData == "" {
			userProfile := os.Getenv("USERPROFILE")
			if userProfile == "" {
				return "", errors.New("neither APPDATA nor USERPROFILE environment variable set")
			}
			appData = filepath.Join(userProfile, "AppData", "Roaming")
		}
		return filepath.Join(appData, "Rescale", "TransferSync"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", "rescale"), nil
}

// DefaultPath returns the default path for transfer-sync.conf.
func DefaultPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "transfer-sync.conf"), nil
}

// DefaultSocketPath returns the default ipc socket location.
func DefaultSocketPath() string {
	dir, err := configDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "transfer-sync.sock")
	}
	return filepath.Join(dir, "transfer-sync.sock")
}

// New creates a Config with default values.
func New() *Config {
	return &Config{
		Sync: SyncConfig{
			PollIntervalSeconds: int(constants.DefaultPollInterval / time.Second),
		},
		Backend: BackendConfig{
			Transport:      TransportIPC,
			SocketPath:     DefaultSocketPath(),
			BaseURL:        "http://" + constants.DefaultHTTPListen,
			TimeoutSeconds: int(constants.DefaultBackendTimeout / time.Second),
		},
		Engine: EngineConfig{
			Listen:             constants.DefaultHTTPListen,
			RateBytesPerSecond: constants.DefaultEngineRate,
			MaxConcurrent:      constants.DefaultMaxConcurrent,
			TickMillis:         int(constants.DefaultEngineTick / time.Millisecond),
		},
		Notify: NotifyConfig{
			Enabled:    false,
			OnComplete: true,
			OnFailed:   true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from path.
// If path is empty, uses the default path.
// If the file doesn't exist, returns a config with default values and no error.
// If the file exists but is invalid, returns an error.
func Load(path string) (*Config, error) {
	cfg := New()

	if path == "" {
		var err error
		path, err = DefaultPath()
		if err != nil {
			return cfg, nil // Return defaults if we can't determine path
		}
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	iniFile, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", filepath.Base(path), err)
	}

	syncSection := iniFile.Section("sync")
	cfg.Sync.PollIntervalSeconds = syncSection.Key("poll_interval_seconds").MustInt(cfg.Sync.PollIntervalSeconds)

	backendSection := iniFile.Section("backend")
	cfg.Backend.Transport = strings.ToLower(backendSection.Key("transport").MustString(cfg.Backend.Transport))
	cfg.Backend.SocketPath = expandHome(backendSection.Key("socket_path").MustString(cfg.Backend.SocketPath))
	cfg.Backend.BaseURL = backendSection.Key("base_url").MustString(cfg.Backend.BaseURL)
	cfg.Backend.ProxyURL = strings.TrimSpace(backendSection.Key("proxy_url").String())
	cfg.Backend.NoProxy = strings.TrimSpace(backendSection.Key("no_proxy").String())
	cfg.Backend.TimeoutSeconds = backendSection.Key("timeout_seconds").MustInt(cfg.Backend.TimeoutSeconds)

	engineSection := iniFile.Section("engine")
	if engineSection.HasKey("listen") {
		// Empty is meaningful here: it disables the HTTP server.
		cfg.Engine.Listen = strings.TrimSpace(engineSection.Key("listen").String())
	}
	cfg.Engine.RateBytesPerSecond = engineSection.Key("rate_bytes_per_second").MustInt64(cfg.Engine.RateBytesPerSecond)
	cfg.Engine.MaxConcurrent = engineSection.Key("max_concurrent").MustInt(cfg.Engine.MaxConcurrent)
	cfg.Engine.TickMillis = engineSection.Key("tick_ms").MustInt(cfg.Engine.TickMillis)

	notifySection := iniFile.Section("notify")
	cfg.Notify.Enabled = notifySection.Key("enabled").MustBool(cfg.Notify.Enabled)
	cfg.Notify.OnComplete = notifySection.Key("on_complete").MustBool(cfg.Notify.OnComplete)
	cfg.Notify.OnFailed = notifySection.Key("on_failed").MustBool(cfg.Notify.OnFailed)

	loggingSection := iniFile.Section("logging")
	cfg.Logging.Level = loggingSection.Key("level").MustString(cfg.Logging.Level)
	cfg.Logging.File = expandHome(strings.TrimSpace(loggingSection.Key("file").String()))

	return cfg, nil
}

// Save writes cfg to path.
// If path is empty, uses the default path.
// Creates parent directories if they don't exist.
func Save(cfg *Config, path string) error {
	if path == "" {
		var err error
		path, err = DefaultPath()
		if err != nil {
			return fmt.Errorf("failed to determine config path: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	iniFile := ini.Empty()

	syncSection, err := iniFile.NewSection("sync")
	if err != nil {
		return fmt.Errorf("failed to create sync section: %w", err)
	}
	syncSection.Key("poll_interval_seconds").SetValue(fmt.Sprintf("%d", cfg.Sync.PollIntervalSeconds))

	backendSection, err := iniFile.NewSection("backend")
	if err != nil {
		return fmt.Errorf("failed to create backend section: %w", err)
	}
	backendSection.Key("transport").SetValue(cfg.Backend.Transport)
	backendSection.Key("socket_path").SetValue(cfg.Backend.SocketPath)
	backendSection.Key("base_url").SetValue(cfg.Backend.BaseURL)
	backendSection.Key("proxy_url").SetValue(cfg.Backend.ProxyURL)
	backendSection.Key("no_proxy").SetValue(cfg.Backend.NoProxy)
	backendSection.Key("timeout_seconds").SetValue(fmt.Sprintf("%d", cfg.Backend.TimeoutSeconds))

	engineSection, err := iniFile.NewSection("engine")
	if err != nil {
		return fmt.Errorf("failed to create engine section: %w", err)
	}
	engineSection.Key("listen").SetValue(cfg.Engine.Listen)
	engineSection.Key("rate_bytes_per_second").SetValue(fmt.Sprintf("%d", cfg.Engine.RateBytesPerSecond))
	engineSection.Key("max_concurrent").SetValue(fmt.Sprintf("%d", cfg.Engine.MaxConcurrent))
	engineSection.Key("tick_ms").SetValue(fmt.Sprintf("%d", cfg.Engine.TickMillis))

	notifySection, err := iniFile.NewSection("notify")
	if err != nil {
		return fmt.Errorf("failed to create notify section: %w", err)
	}
	notifySection.Key("enabled").SetValue(fmt.Sprintf("%t", cfg.Notify.Enabled))
	notifySection.Key("on_complete").SetValue(fmt.Sprintf("%t", cfg.Notify.OnComplete))
	notifySection.Key("on_failed").SetValue(fmt.Sprintf("%t", cfg.Notify.OnFailed))

	loggingSection, err := iniFile.NewSection("logging")
	if err != nil {
		return fmt.Errorf("failed to create logging section: %w", err)
	}
	loggingSection.Key("level").SetValue(cfg.Logging.Level)
	loggingSection.Key("file").SetValue(cfg.Logging.File)

	// Use temporary file + rename for atomicity
	tmpPath := path + ".tmp"
	if err := iniFile.SaveTo(tmpPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	if runtime.GOOS != "windows" {
		if err := os.Chmod(tmpPath, 0600); err != nil {
			os.Remove(tmpPath)
			return fmt.Errorf("failed to set config permissions: %w", err)
		}
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save config: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid.
// Returns nil if valid, or the first sentinel error describing what's wrong.
func (cfg *Config) Validate() error {
	if cfg.Sync.PollIntervalSeconds < 1 || cfg.Sync.PollIntervalSeconds > 3600 {
		return ErrInvalidPollInterval
	}

	switch cfg.Backend.Transport {
	case TransportIPC:
		if strings.TrimSpace(cfg.Backend.SocketPath) == "" {
			return ErrMissingSocketPath
		}
	case TransportHTTP:
		if strings.TrimSpace(cfg.Backend.BaseURL) == "" {
			return ErrMissingBaseURL
		}
	default:
		return ErrInvalidTransport
	}
	if cfg.Backend.TimeoutSeconds < 1 || cfg.Backend.TimeoutSeconds > 300 {
		return ErrInvalidTimeout
	}

	if cfg.Engine.RateBytesPerSecond <= 0 {
		return ErrInvalidRate
	}
	if cfg.Engine.MaxConcurrent < 1 || cfg.Engine.MaxConcurrent > constants.MaxMaxConcurrent {
		return ErrInvalidMaxConcurrent
	}
	if cfg.Engine.TickMillis < 10 || cfg.Engine.TickMillis > 10000 {
		return ErrInvalidTick
	}

	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return ErrInvalidLogLevel
	}

	return nil
}

// PollInterval returns the poll interval as a duration.
func (cfg *Config) PollInterval() time.Duration {
	return time.Duration(cfg.Sync.PollIntervalSeconds) * time.Second
}

// Timeout returns the per-command backend timeout.
func (cfg *Config) Timeout() time.Duration {
	return time.Duration(cfg.Backend.TimeoutSeconds) * time.Second
}

// Tick returns the engine step interval.
func (cfg *Config) Tick() time.Duration {
	return time.Duration(cfg.Engine.TickMillis) * time.Millisecond
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
