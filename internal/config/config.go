// Package config loads the bot configuration from an optional YAML file
// and environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete bot configuration
type Config struct {
	Discord       DiscordConfig       `yaml:"discord"`
	Audio         AudioConfig         `yaml:"audio"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Media         MediaConfig         `yaml:"media"`
	Commands      CommandsConfig      `yaml:"commands"`
	Favorites     FavoritesConfig     `yaml:"favorites"`
	HTTP          HTTPConfig          `yaml:"http"`
	Logging       LoggingConfig       `yaml:"logging"`
}

type DiscordConfig struct {
	Token        string `yaml:"token"`
	Prefix       string `yaml:"prefix"`
	MessageLimit int    `yaml:"message_limit"`
}

// AudioConfig bounds utterance segmentation.
type AudioConfig struct {
	SampleRate       int     `yaml:"sample_rate"`
	MinUtterance     float64 `yaml:"min_utterance"`      // seconds
	MaxUtterance     float64 `yaml:"max_utterance"`      // seconds
	SilenceTimeoutMs int     `yaml:"silence_timeout_ms"` // speaking-stop when no frames arrive

	// Utterance archive; disabled when SaveDir is empty.
	SaveDir            string `yaml:"save_dir"`
	SaveRetentionHours int    `yaml:"save_retention_hours"`
	SaveMaxFiles       int    `yaml:"save_max_files"`
}

type TranscriptionConfig struct {
	URL            string `yaml:"url"`
	Token          string `yaml:"token"`
	Language       string `yaml:"language"`
	BeamSize       int    `yaml:"beam_size"`
	Translate      bool   `yaml:"translate"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	GateIntervalMs int    `yaml:"gate_interval_ms"`
}

type MediaConfig struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
}

type TriggerConfig struct {
	Pattern string  `yaml:"pattern"`
	Clip    string  `yaml:"clip"`
	Volume  float64 `yaml:"volume"` // 0 picks a random volume
}

type GenreConfig struct {
	Name     string   `yaml:"name"`
	Synonyms []string `yaml:"synonyms"`
}

type CommandsConfig struct {
	WakePhrases      []string        `yaml:"wake_phrases"`
	WakeWindowWords  int             `yaml:"wake_window_words"`
	EchoUnrecognized bool            `yaml:"echo_unrecognized"`
	JoinClip         string          `yaml:"join_clip"`
	JoinClipVolume   float64         `yaml:"join_clip_volume"`
	Triggers         []TriggerConfig `yaml:"triggers"`
	// Genres replaces the built-in genre table when set.
	Genres []GenreConfig `yaml:"genres"`
}

type FavoritesConfig struct {
	Backend        string `yaml:"backend"` // "file" or "badger"
	Path           string `yaml:"path"`
	SaveIntervalMs int    `yaml:"save_interval_ms"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	// DetailedEvents are gateway event types logged at info level with
	// their (redacted) payload. Everything else is logged at debug.
	DetailedEvents    []string `yaml:"detailed_events"`
	EventPayloadBytes int      `yaml:"event_payload_bytes"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Discord: DiscordConfig{Prefix: "!", MessageLimit: 2000},
		Audio: AudioConfig{
			SampleRate:       48000,
			MinUtterance:     1.0,
			MaxUtterance:     19.0,
			SilenceTimeoutMs: 300,

			SaveRetentionHours: 24,
			SaveMaxFiles:       1000,
		},
		Transcription: TranscriptionConfig{
			Language:       "en",
			TimeoutSeconds: 30,
			GateIntervalMs: 1000,
		},
		Commands: CommandsConfig{
			WakeWindowWords: 2,
			JoinClipVolume:  0.5,
		},
		Favorites: FavoritesConfig{
			Backend:        "file",
			Path:           "favorites.json",
			SaveIntervalMs: 1000,
		},
		HTTP:    HTTPConfig{Addr: ":8080"},
		Logging: LoggingConfig{Level: "info", EventPayloadBytes: 1024},
	}
}

// Load reads path (if non-empty) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}
	cfg.ApplyEnv(os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// ApplyEnv overrides fields from the environment. lookup is os.LookupEnv
// outside tests.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	set("DISCORD_BOT_TOKEN", &c.Discord.Token)
	set("WHISPER_URL", &c.Transcription.URL)
	set("WHISPER_TOKEN", &c.Transcription.Token)
	set("MEDIA_URL", &c.Media.URL)
	set("MEDIA_API_KEY", &c.Media.APIKey)
	set("LOG_LEVEL", &c.Logging.Level)
	set("HTTP_ADDR", &c.HTTP.Addr)
	set("FAVORITES_PATH", &c.Favorites.Path)
	set("FAVORITES_BACKEND", &c.Favorites.Backend)
	set("SAVE_AUDIO_DIR", &c.Audio.SaveDir)
	if v, ok := lookup("WAKE_PHRASES"); ok && v != "" {
		c.Commands.WakePhrases = splitList(v)
	}
	if v, ok := lookup("DETAILED_EVENTS"); ok && v != "" {
		c.Logging.DetailedEvents = splitList(v)
	}
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks every section and reports the first problem found.
func (c *Config) Validate() error {
	if err := c.Discord.Validate(); err != nil {
		return fmt.Errorf("discord config: %w", err)
	}
	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}
	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription config: %w", err)
	}
	if err := c.Media.Validate(); err != nil {
		return fmt.Errorf("media config: %w", err)
	}
	if err := c.Commands.Validate(); err != nil {
		return fmt.Errorf("commands config: %w", err)
	}
	if err := c.Favorites.Validate(); err != nil {
		return fmt.Errorf("favorites config: %w", err)
	}
	return nil
}

func (d *DiscordConfig) Validate() error {
	if d.Token == "" {
		return errors.New("token is required (DISCORD_BOT_TOKEN)")
	}
	if d.Prefix == "" {
		return errors.New("prefix cannot be empty")
	}
	if d.MessageLimit < 100 {
		return fmt.Errorf("message_limit must be at least 100, got %d", d.MessageLimit)
	}
	return nil
}

func (a *AudioConfig) Validate() error {
	if a.SampleRate != 48000 {
		return fmt.Errorf("sample_rate must be 48000 Hz for Discord voice, got %d", a.SampleRate)
	}
	if a.MinUtterance <= 0 {
		return fmt.Errorf("min_utterance must be positive, got %f", a.MinUtterance)
	}
	if a.MaxUtterance < a.MinUtterance {
		return fmt.Errorf("max_utterance (%f) must not be below min_utterance (%f)", a.MaxUtterance, a.MinUtterance)
	}
	if a.SilenceTimeoutMs < 20 {
		return fmt.Errorf("silence_timeout_ms must be at least one 20ms frame, got %d", a.SilenceTimeoutMs)
	}
	if a.SaveRetentionHours < 0 || a.SaveMaxFiles < 0 {
		return errors.New("save_retention_hours and save_max_files must not be negative")
	}
	return nil
}

func (t *TranscriptionConfig) Validate() error {
	if t.URL == "" {
		return errors.New("url is required (WHISPER_URL)")
	}
	if t.GateIntervalMs < 0 {
		return fmt.Errorf("gate_interval_ms cannot be negative, got %d", t.GateIntervalMs)
	}
	if t.TimeoutSeconds < 1 {
		return fmt.Errorf("timeout_seconds must be at least 1, got %d", t.TimeoutSeconds)
	}
	return nil
}

func (m *MediaConfig) Validate() error {
	if m.URL == "" {
		return errors.New("url is required (MEDIA_URL)")
	}
	return nil
}

func (c *CommandsConfig) Validate() error {
	for i, t := range c.Triggers {
		if t.Pattern == "" || t.Clip == "" {
			return fmt.Errorf("trigger %d: pattern and clip are required", i)
		}
		if t.Volume < 0 || t.Volume > 1 {
			return fmt.Errorf("trigger %d: volume must be between 0 and 1, got %f", i, t.Volume)
		}
	}
	for i, g := range c.Genres {
		if g.Name == "" || len(g.Synonyms) == 0 {
			return fmt.Errorf("genre %d: name and synonyms are required", i)
		}
	}
	if c.JoinClipVolume < 0 || c.JoinClipVolume > 1 {
		return fmt.Errorf("join_clip_volume must be between 0 and 1, got %f", c.JoinClipVolume)
	}
	return nil
}

func (f *FavoritesConfig) Validate() error {
	switch f.Backend {
	case "file", "badger":
	default:
		return fmt.Errorf("backend must be \"file\" or \"badger\", got %q", f.Backend)
	}
	if f.Path == "" {
		return errors.New("path cannot be empty")
	}
	if f.SaveIntervalMs < 1 {
		return fmt.Errorf("save_interval_ms must be positive, got %d", f.SaveIntervalMs)
	}
	return nil
}

// Durations in the units the components take.

func (a AudioConfig) MinDuration() time.Duration { return secondsToDuration(a.MinUtterance) }
func (a AudioConfig) MaxDuration() time.Duration { return secondsToDuration(a.MaxUtterance) }
func (a AudioConfig) SilenceTimeout() time.Duration {
	return time.Duration(a.SilenceTimeoutMs) * time.Millisecond
}
func (a AudioConfig) SaveRetention() time.Duration {
	return time.Duration(a.SaveRetentionHours) * time.Hour
}

func (t TranscriptionConfig) GateInterval() time.Duration {
	return time.Duration(t.GateIntervalMs) * time.Millisecond
}

func (t TranscriptionConfig) Timeout() time.Duration {
	return time.Duration(t.TimeoutSeconds) * time.Second
}

func (f FavoritesConfig) SaveInterval() time.Duration {
	return time.Duration(f.SaveIntervalMs) * time.Millisecond
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
