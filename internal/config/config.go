// Package config resolves runtime settings from defaults, an optional
// TOML file and BITWIGD_* environment overrides, in that order.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	defaultListenAddr  = ":8721"
	defaultBridgeURL   = "ws://127.0.0.1:8417/rpc"
	defaultDataDir     = "./data"
	defaultConfigPath  = "bitwigd.toml"
	defaultCallTimeout = 5 * time.Second

	// Selection moves need time to propagate through the controller
	// script before dependent reads are trustworthy.
	defaultSettleTrack  = 50 * time.Millisecond
	defaultSettleDevice = 150 * time.Millisecond
	defaultSettlePage   = 250 * time.Millisecond
	defaultSettleRead   = 100 * time.Millisecond

	defaultConfirmAttempts = 50
	defaultConfirmInterval = 50 * time.Millisecond
)

// Config stores the resolved runtime settings.
type Config struct {
	ListenAddr   string
	BridgeURL    string
	BridgeToken  string
	DataDir      string
	KnowledgeDir string
	CallTimeout  time.Duration

	SettleTrack  time.Duration
	SettleDevice time.Duration
	SettlePage   time.Duration
	SettleRead   time.Duration

	ConfirmAttempts int
	ConfirmInterval time.Duration

	LogLevel  slog.Level
	LogFormat string
}

// CatalogPath returns the sqlite file backing the knowledge catalog.
func (c Config) CatalogPath() string {
	return filepath.Join(c.DataDir, "knowledge.db")
}

// Default returns the settings used when nothing else is configured.
func Default() Config {
	return Config{
		ListenAddr:      defaultListenAddr,
		BridgeURL:       defaultBridgeURL,
		DataDir:         defaultDataDir,
		CallTimeout:     defaultCallTimeout,
		SettleTrack:     defaultSettleTrack,
		SettleDevice:    defaultSettleDevice,
		SettlePage:      defaultSettlePage,
		SettleRead:      defaultSettleRead,
		ConfirmAttempts: defaultConfirmAttempts,
		ConfirmInterval: defaultConfirmInterval,
		LogLevel:        slog.LevelInfo,
		LogFormat:       "auto",
	}
}

type fileConfig struct {
	Listen string `toml:"listen"`
	Bridge struct {
		URL         string `toml:"url"`
		Token       string `toml:"token"`
		CallTimeout string `toml:"call_timeout"`
	} `toml:"bridge"`
	Data struct {
		Dir          string `toml:"dir"`
		KnowledgeDir string `toml:"knowledge_dir"`
	} `toml:"data"`
	Timing struct {
		SettleTrack     string `toml:"settle_track"`
		SettleDevice    string `toml:"settle_device"`
		SettlePage      string `toml:"settle_page"`
		SettleRead      string `toml:"settle_read"`
		ConfirmAttempts int    `toml:"confirm_attempts"`
		ConfirmInterval string `toml:"confirm_interval"`
	} `toml:"timing"`
	Log struct {
		Level  string `toml:"level"`
		Format string `toml:"format"`
	} `toml:"log"`
}

// Load resolves the configuration. An explicitly requested file must
// exist; the default path is read only when present. Environment
// variables override whatever the file set.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		if env := strings.TrimSpace(os.Getenv("BITWIGD_CONFIG")); env != "" {
			path, explicit = env, true
		} else {
			path = defaultConfigPath
		}
	}

	if _, err := os.Stat(path); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("stat config %s: %w", path, err)
		}
		if explicit {
			return Config{}, fmt.Errorf("config file %s does not exist", path)
		}
	} else {
		var fc fileConfig
		if _, err := toml.DecodeFile(path, &fc); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
		if err := cfg.applyFile(fc); err != nil {
			return Config{}, fmt.Errorf("config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if cfg.KnowledgeDir == "" {
		cfg.KnowledgeDir = filepath.Join(cfg.DataDir, "knowledge")
	}
	if cfg.ConfirmAttempts < 1 {
		cfg.ConfirmAttempts = 1
	}
	return cfg, nil
}

func (c *Config) applyFile(fc fileConfig) error {
	setString(&c.ListenAddr, fc.Listen)
	setString(&c.BridgeURL, fc.Bridge.URL)
	setString(&c.BridgeToken, fc.Bridge.Token)
	setString(&c.DataDir, fc.Data.Dir)
	setString(&c.KnowledgeDir, fc.Data.KnowledgeDir)

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"bridge.call_timeout", fc.Bridge.CallTimeout, &c.CallTimeout},
		{"timing.settle_track", fc.Timing.SettleTrack, &c.SettleTrack},
		{"timing.settle_device", fc.Timing.SettleDevice, &c.SettleDevice},
		{"timing.settle_page", fc.Timing.SettlePage, &c.SettlePage},
		{"timing.settle_read", fc.Timing.SettleRead, &c.SettleRead},
		{"timing.confirm_interval", fc.Timing.ConfirmInterval, &c.ConfirmInterval},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		value, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
		if value < 0 {
			return fmt.Errorf("%s: must not be negative", d.name)
		}
		*d.dst = value
	}

	if fc.Timing.ConfirmAttempts != 0 {
		if fc.Timing.ConfirmAttempts < 1 {
			return fmt.Errorf("timing.confirm_attempts: must be at least 1")
		}
		c.ConfirmAttempts = fc.Timing.ConfirmAttempts
	}
	if fc.Log.Level != "" {
		c.LogLevel = parseLogLevel(fc.Log.Level)
	}
	if fc.Log.Format != "" {
		c.LogFormat = normalizeLogFormat(fc.Log.Format)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.ListenAddr = getenv("BITWIGD_LISTEN", c.ListenAddr)
	c.BridgeURL = getenv("BITWIGD_BRIDGE_URL", c.BridgeURL)
	c.BridgeToken = getenv("BITWIGD_BRIDGE_TOKEN", c.BridgeToken)
	c.DataDir = getenv("BITWIGD_DATA_DIR", c.DataDir)
	c.KnowledgeDir = getenv("BITWIGD_KNOWLEDGE_DIR", c.KnowledgeDir)
	c.CallTimeout = parseDuration("BITWIGD_CALL_TIMEOUT", c.CallTimeout)
	c.SettleTrack = parseDuration("BITWIGD_SETTLE_TRACK", c.SettleTrack)
	c.SettleDevice = parseDuration("BITWIGD_SETTLE_DEVICE", c.SettleDevice)
	c.SettlePage = parseDuration("BITWIGD_SETTLE_PAGE", c.SettlePage)
	c.SettleRead = parseDuration("BITWIGD_SETTLE_READ", c.SettleRead)
	c.ConfirmAttempts = parseInt("BITWIGD_CONFIRM_ATTEMPTS", c.ConfirmAttempts)
	c.ConfirmInterval = parseDuration("BITWIGD_CONFIRM_INTERVAL", c.ConfirmInterval)
	if raw, ok := os.LookupEnv("BITWIGD_LOG_LEVEL"); ok {
		c.LogLevel = parseLogLevel(raw)
	}
	if raw, ok := os.LookupEnv("BITWIGD_LOG_FORMAT"); ok {
		c.LogFormat = normalizeLogFormat(raw)
	}
}

func setString(dst *string, value string) {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		*dst = trimmed
	}
}

func getenv(key string, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func parseDuration(key string, fallback time.Duration) time.Duration {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil || value < 0 {
		return fallback
	}
	return value
}

func parseInt(key string, fallback int) int {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || value < 1 {
		return fallback
	}
	return value
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func normalizeLogFormat(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "text":
		return "text"
	case "json":
		return "json"
	default:
		return "auto"
	}
}
