package favorites

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/discord-voice-lab/jukebox/internal/logging"
)

// DefaultSaveInterval is how often a dirty book is written back.
const DefaultSaveInterval = time.Second

// Book is the in-memory favorites mapping. Titles are unique per tenant
// under case-insensitive comparison and keep insertion order.
type Book struct {
	store Store

	mu    sync.Mutex
	m     map[string][]string
	dirty bool
}

func NewBook(store Store) *Book {
	return &Book{store: store, m: map[string][]string{}}
}

// Load replaces the in-memory mapping with the store's contents.
func (b *Book) Load(ctx context.Context) error {
	m, err := b.store.Load(ctx)
	if err != nil {
		return err
	}
	if m == nil {
		m = map[string][]string{}
	}
	b.mu.Lock()
	b.m = m
	b.dirty = false
	b.mu.Unlock()
	logging.Infow("favorites: loaded", "tenants", len(m))
	return nil
}

// Add records title for tenant. It reports false if it was already there.
func (b *Book) Add(tenant, title string) bool {
	title = strings.TrimSpace(title)
	if title == "" {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range b.m[tenant] {
		if strings.EqualFold(t, title) {
			return false
		}
	}
	b.m[tenant] = append(b.m[tenant], title)
	b.dirty = true
	return true
}

// Remove deletes the entry matching name and returns the stored title.
func (b *Book) Remove(tenant, name string) (string, bool) {
	name = strings.TrimSpace(name)
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.m[tenant]
	for i, t := range list {
		if strings.EqualFold(t, name) {
			b.m[tenant] = append(list[:i:i], list[i+1:]...)
			if len(b.m[tenant]) == 0 {
				delete(b.m, tenant)
			}
			b.dirty = true
			return t, true
		}
	}
	return "", false
}

// List returns a copy of tenant's favorites.
func (b *Book) List(tenant string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.m[tenant]...)
}

// Flush saves the mapping if it changed since the last save.
func (b *Book) Flush(ctx context.Context) error {
	b.mu.Lock()
	if !b.dirty {
		b.mu.Unlock()
		return nil
	}
	snap := make(map[string][]string, len(b.m))
	for k, v := range b.m {
		snap[k] = append([]string(nil), v...)
	}
	b.dirty = false
	b.mu.Unlock()

	if err := b.store.Save(ctx, snap); err != nil {
		b.mu.Lock()
		b.dirty = true
		b.mu.Unlock()
		return err
	}
	logging.Debugw("favorites: saved", "tenants", len(snap))
	return nil
}

// Run flushes every interval until ctx is done. The caller should Flush
// once more after Run returns.
func (b *Book) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSaveInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.Flush(ctx); err != nil {
				logging.Warnw("favorites: save failed", "err", err)
			}
		}
	}
}
