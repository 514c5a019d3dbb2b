package main

import (
	"fmt"

	"github.com/discord-voice-lab/jukebox/internal/command"
	"github.com/discord-voice-lab/jukebox/internal/config"
	"github.com/discord-voice-lab/jukebox/internal/favorites"
	"github.com/discord-voice-lab/jukebox/internal/voice"
)

// openFavorites returns the configured store and a func releasing it.
func openFavorites(c config.FavoritesConfig) (favorites.Store, func() error, error) {
	if c.Backend == "badger" {
		b, err := favorites.NewBadgerStore(favorites.BadgerOptions{Dir: c.Path})
		if err != nil {
			return nil, nil, err
		}
		return b, b.Close, nil
	}
	return favorites.NewFileStore(c.Path), func() error { return nil }, nil
}

func buildNormalizer(c config.CommandsConfig, prefix string) (*command.Normalizer, error) {
	opts := []command.Option{command.WithPrefix(prefix)}
	if len(c.Genres) > 0 {
		entries := make([]command.GenreSynonyms, 0, len(c.Genres))
		for _, g := range c.Genres {
			entries = append(entries, command.GenreSynonyms{Name: g.Name, Synonyms: g.Synonyms})
		}
		opts = append(opts, command.WithGenres(command.NewGenreTable(entries)))
	}
	if len(c.WakePhrases) > 0 {
		opts = append(opts, command.WithWakeDetector(command.NewWakeDetector(c.WakePhrases, c.WakeWindowWords)))
	}
	for i, t := range c.Triggers {
		tr, err := command.NewTrigger(t.Pattern, t.Clip, t.Volume)
		if err != nil {
			return nil, fmt.Errorf("trigger %d: %w", i, err)
		}
		opts = append(opts, command.WithTriggers(tr))
	}
	return command.NewNormalizer(opts...), nil
}

// segmenterConfig builds the per-session segmenter settings, including the
// utterance archive when save_dir is set.
func segmenterConfig(a config.AudioConfig) (voice.Config, error) {
	archive, err := voice.NewArchive(a.SaveDir, a.SaveRetention(), a.SaveMaxFiles)
	if err != nil {
		return voice.Config{}, err
	}
	return voice.Config{
		SampleRate:  a.SampleRate,
		MinDuration: a.MinDuration(),
		MaxDuration: a.MaxDuration(),
		Archive:     archive,
	}, nil
}
