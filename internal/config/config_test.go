package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func validConfig() Config {
	c := Default()
	c.Discord.Token = "tok"
	c.Transcription.URL = "http://whisper:9000/asr"
	c.Media.URL = "http://media:8000"
	return c
}

func TestDefaultsMatchDocumentedValues(t *testing.T) {
	c := Default()
	assert.Equal(t, "!", c.Discord.Prefix)
	assert.Equal(t, 2000, c.Discord.MessageLimit)
	assert.Equal(t, time.Second, c.Audio.MinDuration())
	assert.Equal(t, 19*time.Second, c.Audio.MaxDuration())
	assert.Equal(t, time.Second, c.Transcription.GateInterval())
	assert.Equal(t, time.Second, c.Favorites.SaveInterval())
	assert.Equal(t, 300*time.Millisecond, c.Audio.SilenceTimeout())
}

func TestApplyEnv(t *testing.T) {
	c := Default()
	c.ApplyEnv(env(map[string]string{
		"DISCORD_BOT_TOKEN": " abc ",
		"WHISPER_URL":       "http://stt",
		"MEDIA_URL":         "http://media",
		"FAVORITES_BACKEND": "badger",
		"WAKE_PHRASES":      "music, hey music ,",
		"LOG_LEVEL":         "",
		"SAVE_AUDIO_DIR":    "/tmp/utterances",
	}))
	assert.Equal(t, "/tmp/utterances", c.Audio.SaveDir)
	assert.Equal(t, "abc", c.Discord.Token)
	assert.Equal(t, "http://stt", c.Transcription.URL)
	assert.Equal(t, "badger", c.Favorites.Backend)
	assert.Equal(t, []string{"music", "hey music"}, c.Commands.WakePhrases)
	assert.Equal(t, "info", c.Logging.Level, "blank values do not override")
}

func TestValidate(t *testing.T) {
	c := validConfig()
	require.NoError(t, c.Validate())

	cases := map[string]func(*Config){
		"missing token":      func(c *Config) { c.Discord.Token = "" },
		"wrong sample rate":  func(c *Config) { c.Audio.SampleRate = 16000 },
		"inverted window":    func(c *Config) { c.Audio.MaxUtterance = 0.5 },
		"missing whisper":    func(c *Config) { c.Transcription.URL = "" },
		"missing media":      func(c *Config) { c.Media.URL = "" },
		"bad backend":        func(c *Config) { c.Favorites.Backend = "redis" },
		"loud trigger":       func(c *Config) { c.Commands.Triggers = []TriggerConfig{{Pattern: "x", Clip: "y", Volume: 2}} },
		"genre without list": func(c *Config) { c.Commands.Genres = []GenreConfig{{Name: "jazz"}} },
		"negative retention": func(c *Config) { c.Audio.SaveRetentionHours = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := validConfig()
			mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
discord:
  token: file-token
  prefix: "?"
transcription:
  url: http://stt
  gate_interval_ms: 1500
media:
  url: http://media
commands:
  wake_phrases: [music]
  triggers:
    - pattern: "\\bairhorn\\b"
      clip: clips/airhorn.pcm
`), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "?", c.Discord.Prefix)
	assert.Equal(t, 1500*time.Millisecond, c.Transcription.GateInterval())
	assert.Equal(t, 2000, c.Discord.MessageLimit, "unset fields keep defaults")
	require.Len(t, c.Commands.Triggers, 1)
	assert.Equal(t, "clips/airhorn.pcm", c.Commands.Triggers[0].Clip)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
