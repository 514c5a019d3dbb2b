// Package favorites keeps each tenant's favorite titles and persists them
// through a pluggable Store.
package favorites

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/discord-voice-lab/jukebox/internal/fileio"
)

// Store loads and saves the whole tenant -> titles mapping.
type Store interface {
	Load(ctx context.Context) (map[string][]string, error)
	Save(ctx context.Context, m map[string][]string) error
}

// FileStore keeps the mapping in one JSON file.
type FileStore struct {
	Path string
}

func NewFileStore(path string) *FileStore { return &FileStore{Path: path} }

// Load returns an empty mapping when the file does not exist yet.
func (f *FileStore) Load(_ context.Context) (map[string][]string, error) {
	b, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string][]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	m := map[string][]string{}
	if len(b) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("favorites: parse %s: %w", f.Path, err)
	}
	return m, nil
}

func (f *FileStore) Save(_ context.Context, m map[string][]string) error {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return fileio.WriteAtomic(f.Path, b, 0o644)
}
