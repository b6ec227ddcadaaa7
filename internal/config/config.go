package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel       string   `yaml:"log_level"`
	Provider       string   `yaml:"provider"`
	Symbols        []string `yaml:"symbols"`
	TradeThreshold float64  `yaml:"trade_threshold"`
	BigThreshold   float64  `yaml:"big_threshold"`
	Silent         bool     `yaml:"silent"`
	ShowMid        bool     `yaml:"show_mid"`
	Timezone       string   `yaml:"timezone"`
	HTTPPort       int      `yaml:"http_port"`

	Sounds Sounds `yaml:"sounds"`
	Pitch  Pitch  `yaml:"pitch"`
	Audio  Audio  `yaml:"audio"`
	Alpaca Alpaca `yaml:"alpaca"`
	Replay Replay `yaml:"replay"`
	Retry  Retry  `yaml:"retry"`
}

type Sounds struct {
	AboveAsk string `yaml:"above_ask"`
	Buy      string `yaml:"buy"`
	Between  string `yaml:"between"`
	Sell     string `yaml:"sell"`
	BelowBid string `yaml:"below_bid"`
}

// Pitch holds the resampling factors for the directional variants. A
// factor above 1 stretches the sound to more frames, below 1 compresses it.
type Pitch struct {
	Up   float64 `yaml:"up"`
	Down float64 `yaml:"down"`
}

type Audio struct {
	SampleRate int `yaml:"sample_rate"`
	BufferMS   int `yaml:"buffer_ms"`
}

type Alpaca struct {
	StreamURL string `yaml:"stream_url"`
	RestURL   string `yaml:"rest_url"`
	KeyID     string `yaml:"key_id"`
	SecretKey string `yaml:"secret_key"`
}

type Replay struct {
	Path  string  `yaml:"path"`
	Speed float64 `yaml:"speed"`
}

type Retry struct {
	MaxAttempts  int `yaml:"max_attempts"`
	DelaySeconds int `yaml:"delay_seconds"`
}

const (
	ProviderAlpaca = "alpaca"
	ProviderReplay = "replay"
)

// Accepted range for pitch factors.
const (
	MinPitch = 0.25
	MaxPitch = 4.0
)

func defaults() Config {
	return Config{
		LogLevel:       "info",
		Provider:       ProviderAlpaca,
		Symbols:        []string{"TSLA"},
		TradeThreshold: 90000,
		BigThreshold:   490000,
		Timezone:       "America/New_York",
		Sounds: Sounds{
			AboveAsk: "sounds/above_ask.wav",
			Buy:      "sounds/buy.wav",
			Between:  "sounds/between_bid_ask.wav",
			Sell:     "sounds/sell.wav",
			BelowBid: "sounds/below_bid.wav",
		},
		Pitch: Pitch{Up: 1.5, Down: 0.8},
		Audio: Audio{SampleRate: 44100, BufferMS: 100},
		Alpaca: Alpaca{
			StreamURL: "wss://stream.data.alpaca.markets/v2/sip",
			RestURL:   "https://data.alpaca.markets",
		},
		Replay: Replay{Speed: 1},
		Retry:  Retry{MaxAttempts: 3, DelaySeconds: 10},
	}
}

// Default returns the built-in configuration.
func Default() Config { return defaults() }

// Load reads path over the defaults. A missing file is not an error. The
// result still needs ApplyEnv, ApplyArgs and Validate.
func Load(path string) (Config, error) {
	cfg := defaults()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overlays credentials and sound paths from the environment.
func (c *Config) ApplyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&c.Alpaca.KeyID, "ALPACA_API_KEY")
	set(&c.Alpaca.SecretKey, "ALPACA_API_SECRET")
	set(&c.Sounds.Buy, "BUY_SOUND_PATH")
	set(&c.Sounds.Sell, "SELL_SOUND_PATH")
	set(&c.Sounds.AboveAsk, "ABOVE_ASK_SOUND_PATH")
	set(&c.Sounds.BelowBid, "BELOW_BID_SOUND_PATH")
	set(&c.Sounds.Between, "BETWEEN_BID_ASK_SOUND_PATH")
}

// Validate normalizes c and reports the first problem. Warnings are for
// settings that are legal but probably unintended.
func (c *Config) Validate() (warnings []string, err error) {
	c.Provider = strings.ToLower(strings.TrimSpace(c.Provider))
	switch c.Provider {
	case ProviderAlpaca:
		if c.Alpaca.KeyID == "" || c.Alpaca.SecretKey == "" {
			return nil, errors.New("alpaca credentials missing: set ALPACA_API_KEY and ALPACA_API_SECRET")
		}
		if c.Alpaca.StreamURL == "" {
			return nil, errors.New("alpaca.stream_url must be set")
		}
	case ProviderReplay:
		if c.Replay.Path == "" {
			return nil, errors.New("replay.path must be set for the replay provider")
		}
		if c.Replay.Speed < 0 || !finite(c.Replay.Speed) {
			return nil, errors.New("replay.speed must be >= 0")
		}
	default:
		return nil, fmt.Errorf("unknown provider %q (want %s or %s)", c.Provider, ProviderAlpaca, ProviderReplay)
	}

	syms := c.Symbols[:0]
	for _, s := range c.Symbols {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			syms = append(syms, s)
		}
	}
	c.Symbols = syms
	if len(c.Symbols) == 0 {
		return nil, errors.New("at least one symbol is required")
	}

	if !(c.TradeThreshold > 0) || !finite(c.TradeThreshold) {
		return nil, errors.New("trade_threshold must be > 0")
	}
	if !(c.BigThreshold > 0) || !finite(c.BigThreshold) {
		return nil, errors.New("big_threshold must be > 0")
	}
	if c.BigThreshold < c.TradeThreshold {
		warnings = append(warnings, "big_threshold is below trade_threshold; every emitted trade will be big")
	}

	for _, p := range []struct {
		name string
		f    float64
	}{{"pitch.up", c.Pitch.Up}, {"pitch.down", c.Pitch.Down}} {
		if !(p.f >= MinPitch && p.f <= MaxPitch) {
			return nil, fmt.Errorf("%s must be between %v and %v, got %v", p.name, MinPitch, MaxPitch, p.f)
		}
	}
	if c.Audio.SampleRate <= 0 {
		return nil, errors.New("audio.sample_rate must be > 0")
	}
	if c.Audio.BufferMS <= 0 {
		return nil, errors.New("audio.buffer_ms must be > 0")
	}
	if c.HTTPPort < 0 || c.HTTPPort > 65535 {
		return nil, errors.New("invalid http_port")
	}
	if c.Retry.MaxAttempts < 1 {
		return nil, errors.New("retry.max_attempts must be >= 1")
	}
	if c.Retry.DelaySeconds < 0 {
		return nil, errors.New("retry.delay_seconds must be >= 0")
	}
	if _, err := c.Location(); err != nil {
		return nil, err
	}
	return warnings, nil
}

// Location resolves Timezone; empty means local time.
func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

func (c Config) RetryDelay() time.Duration {
	return time.Duration(c.Retry.DelaySeconds) * time.Second
}

func (c Config) AudioBuffer() time.Duration {
	return time.Duration(c.Audio.BufferMS) * time.Millisecond
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// NewLogger writes to stderr; stdout carries the trade lines.
func NewLogger(level string) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(h)
}
