package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Bind             string
	Port             string
	Token            string
	StateDir         string
	ConfigPath       string
	CdpURL           string
	ChromeBinary     string
	ChromeExtraFlags string
	Headless         bool

	ConnectTimeout    time.Duration
	ConversionTimeout time.Duration
	MediaLoadTimeout  time.Duration
	ShutdownTimeout   time.Duration

	BlockImages   bool
	BlockMedia    bool
	BlockTrackers bool
	LogNetwork    bool
	CacheEnabled  bool
	MaxConcurrent int

	LogLevel  string
	LogFormat string
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func envBoolOr(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func envSet(key string) bool {
	_, ok := os.LookupEnv(key)
	return ok
}

func homeDir() string {
	h, _ := os.UserHomeDir()
	return h
}

func (c *RuntimeConfig) ListenAddr() string {
	return c.Bind + ":" + c.Port
}

// FileConfig is the on-disk form, JSON or YAML depending on the extension.
type FileConfig struct {
	Bind              string `json:"bind,omitempty" yaml:"bind,omitempty"`
	Port              string `json:"port" yaml:"port"`
	CdpURL            string `json:"cdpUrl,omitempty" yaml:"cdpUrl,omitempty"`
	Token             string `json:"token,omitempty" yaml:"token,omitempty"`
	StateDir          string `json:"stateDir" yaml:"stateDir"`
	ChromeBinary      string `json:"chromeBinary,omitempty" yaml:"chromeBinary,omitempty"`
	ChromeFlags       string `json:"chromeFlags,omitempty" yaml:"chromeFlags,omitempty"`
	Headless          *bool  `json:"headless,omitempty" yaml:"headless,omitempty"`
	ConnectTimeoutSec int    `json:"connectTimeoutSec,omitempty" yaml:"connectTimeoutSec,omitempty"`
	TimeoutSec        int    `json:"timeoutSec,omitempty" yaml:"timeoutSec,omitempty"`
	MediaLoadMs       int    `json:"mediaLoadMs,omitempty" yaml:"mediaLoadMs,omitempty"`
	BlockImages       bool   `json:"blockImages,omitempty" yaml:"blockImages,omitempty"`
	BlockMedia        bool   `json:"blockMedia,omitempty" yaml:"blockMedia,omitempty"`
	BlockTrackers     bool   `json:"blockTrackers,omitempty" yaml:"blockTrackers,omitempty"`
	LogNetwork        bool   `json:"logNetwork,omitempty" yaml:"logNetwork,omitempty"`
	CacheEnabled      *bool  `json:"cacheEnabled,omitempty" yaml:"cacheEnabled,omitempty"`
	MaxConcurrent     *int   `json:"maxConcurrent,omitempty" yaml:"maxConcurrent,omitempty"`
	LogLevel          string `json:"logLevel,omitempty" yaml:"logLevel,omitempty"`
	LogFormat         string `json:"logFormat,omitempty" yaml:"logFormat,omitempty"`
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// ReadFile parses a config file; YAML for .yaml/.yml, JSON otherwise.
func ReadFile(path string) (FileConfig, error) {
	var fc FileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if isYAML(path) {
		err = yaml.Unmarshal(data, &fc)
	} else {
		err = json.Unmarshal(data, &fc)
	}
	if err != nil {
		return fc, fmt.Errorf("parse %s: %w", path, err)
	}
	return fc, nil
}

func defaultConfigPath() string {
	return filepath.Join(homeDir(), ".pinchpdf", "config.json")
}

// Load reads the environment over an optional config file. Environment
// variables win over file values; a missing or unreadable file is ignored.
func Load() *RuntimeConfig {
	cfg := &RuntimeConfig{
		Bind:              envOr("PINCHPDF_BIND", "127.0.0.1"),
		Port:              envOr("PINCHPDF_PORT", "9870"),
		Token:             os.Getenv("PINCHPDF_TOKEN"),
		StateDir:          envOr("PINCHPDF_STATE_DIR", filepath.Join(homeDir(), ".pinchpdf")),
		ConfigPath:        envOr("PINCHPDF_CONFIG", defaultConfigPath()),
		CdpURL:            os.Getenv("CDP_URL"),
		ChromeBinary:      os.Getenv("CHROME_BINARY"),
		ChromeExtraFlags:  os.Getenv("CHROME_FLAGS"),
		Headless:          envBoolOr("PINCHPDF_HEADLESS", true),
		ConnectTimeout:    time.Duration(envIntOr("PINCHPDF_CONNECT_TIMEOUT", 10)) * time.Second,
		ConversionTimeout: time.Duration(envIntOr("PINCHPDF_TIMEOUT", 60)) * time.Second,
		MediaLoadTimeout:  time.Duration(envIntOr("PINCHPDF_MEDIA_LOAD_MS", 0)) * time.Millisecond,
		ShutdownTimeout:   10 * time.Second,
		BlockImages:       envBoolOr("PINCHPDF_BLOCK_IMAGES", false),
		BlockMedia:        envBoolOr("PINCHPDF_BLOCK_MEDIA", false),
		BlockTrackers:     envBoolOr("PINCHPDF_BLOCK_TRACKERS", false),
		LogNetwork:        envBoolOr("PINCHPDF_LOG_NETWORK", false),
		CacheEnabled:      envBoolOr("PINCHPDF_CACHE", false),
		MaxConcurrent:     envIntOr("PINCHPDF_MAX_CONCURRENT", 4),
		LogLevel:          envOr("PINCHPDF_LOG_LEVEL", "info"),
		LogFormat:         envOr("PINCHPDF_LOG_FORMAT", "text"),
	}

	fc, err := ReadFile(cfg.ConfigPath)
	if err != nil {
		return cfg
	}
	cfg.apply(fc)
	return cfg
}

func (cfg *RuntimeConfig) apply(fc FileConfig) {
	setStr := func(dst *string, v, env string) {
		if v != "" && !envSet(env) {
			*dst = v
		}
	}
	setBool := func(dst *bool, v bool, env string) {
		if v && !envSet(env) {
			*dst = true
		}
	}
	setDur := func(dst *time.Duration, n int, unit time.Duration, env string) {
		if n > 0 && !envSet(env) {
			*dst = time.Duration(n) * unit
		}
	}

	setStr(&cfg.Bind, fc.Bind, "PINCHPDF_BIND")
	setStr(&cfg.Port, fc.Port, "PINCHPDF_PORT")
	setStr(&cfg.CdpURL, fc.CdpURL, "CDP_URL")
	setStr(&cfg.Token, fc.Token, "PINCHPDF_TOKEN")
	setStr(&cfg.StateDir, fc.StateDir, "PINCHPDF_STATE_DIR")
	setStr(&cfg.ChromeBinary, fc.ChromeBinary, "CHROME_BINARY")
	setStr(&cfg.ChromeExtraFlags, fc.ChromeFlags, "CHROME_FLAGS")
	setStr(&cfg.LogLevel, fc.LogLevel, "PINCHPDF_LOG_LEVEL")
	setStr(&cfg.LogFormat, fc.LogFormat, "PINCHPDF_LOG_FORMAT")
	if fc.Headless != nil && !envSet("PINCHPDF_HEADLESS") {
		cfg.Headless = *fc.Headless
	}
	if fc.CacheEnabled != nil && !envSet("PINCHPDF_CACHE") {
		cfg.CacheEnabled = *fc.CacheEnabled
	}
	if fc.MaxConcurrent != nil && *fc.MaxConcurrent > 0 && !envSet("PINCHPDF_MAX_CONCURRENT") {
		cfg.MaxConcurrent = *fc.MaxConcurrent
	}
	setDur(&cfg.ConnectTimeout, fc.ConnectTimeoutSec, time.Second, "PINCHPDF_CONNECT_TIMEOUT")
	setDur(&cfg.ConversionTimeout, fc.TimeoutSec, time.Second, "PINCHPDF_TIMEOUT")
	setDur(&cfg.MediaLoadTimeout, fc.MediaLoadMs, time.Millisecond, "PINCHPDF_MEDIA_LOAD_MS")
	setBool(&cfg.BlockImages, fc.BlockImages, "PINCHPDF_BLOCK_IMAGES")
	setBool(&cfg.BlockMedia, fc.BlockMedia, "PINCHPDF_BLOCK_MEDIA")
	setBool(&cfg.BlockTrackers, fc.BlockTrackers, "PINCHPDF_BLOCK_TRACKERS")
	setBool(&cfg.LogNetwork, fc.LogNetwork, "PINCHPDF_LOG_NETWORK")
}

func DefaultFileConfig() FileConfig {
	h := true
	n := 4
	return FileConfig{
		Port:              "9870",
		StateDir:          filepath.Join(homeDir(), ".pinchpdf"),
		Headless:          &h,
		ConnectTimeoutSec: 10,
		TimeoutSec:        60,
		MaxConcurrent:     &n,
	}
}

// WriteFile stores fc at path in the format its extension selects.
func WriteFile(path string, fc FileConfig) error {
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(fc)
	} else {
		data, err = json.MarshalIndent(fc, "", "  ")
	}
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}

// HandleConfigCommand runs `pinchpdf config <init|show> [--force]`.
func HandleConfigCommand(cfg *RuntimeConfig, args []string, out io.Writer) error {
	if len(args) == 0 {
		fmt.Fprintln(out, "Usage: pinchpdf config <command>")
		fmt.Fprintln(out, "Commands:")
		fmt.Fprintln(out, "  init [--force]  - Create default config file (YAML if PINCHPDF_CONFIG ends in .yaml)")
		fmt.Fprintln(out, "  show            - Show current configuration")
		return nil
	}

	switch args[0] {
	case "init":
		force := len(args) > 1 && args[1] == "--force"
		if _, err := os.Stat(cfg.ConfigPath); err == nil && !force {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", cfg.ConfigPath)
		}
		if err := WriteFile(cfg.ConfigPath, DefaultFileConfig()); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Fprintf(out, "Config file created at %s\n", cfg.ConfigPath)
		return nil

	case "show":
		fmt.Fprintln(out, "Current configuration:")
		fmt.Fprintf(out, "  Config:      %s\n", cfg.ConfigPath)
		fmt.Fprintf(out, "  Listen:      %s\n", cfg.ListenAddr())
		fmt.Fprintf(out, "  Token:       %s\n", MaskToken(cfg.Token))
		fmt.Fprintf(out, "  CDP URL:     %s\n", orNone(cfg.CdpURL))
		fmt.Fprintf(out, "  Chrome:      %s (headless=%v)\n", orNone(cfg.ChromeBinary), cfg.Headless)
		fmt.Fprintf(out, "  State Dir:   %s\n", cfg.StateDir)
		fmt.Fprintf(out, "  Timeouts:    connect=%v conversion=%v mediaLoad=%v\n", cfg.ConnectTimeout, cfg.ConversionTimeout, cfg.MediaLoadTimeout)
		fmt.Fprintf(out, "  Blocking:    images=%v media=%v trackers=%v\n", cfg.BlockImages, cfg.BlockMedia, cfg.BlockTrackers)
		fmt.Fprintf(out, "  Concurrency: %d\n", cfg.MaxConcurrent)
		fmt.Fprintf(out, "  Logging:     level=%s format=%s network=%v\n", cfg.LogLevel, cfg.LogFormat, cfg.LogNetwork)
		return nil

	default:
		return fmt.Errorf("unknown config command: %s", args[0])
	}
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

func MaskToken(t string) string {
	if t == "" {
		return "(none)"
	}
	if len(t) <= 8 {
		return "***"
	}
	return t[:4] + "..." + t[len(t)-4:]
}
