package favorites

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBookAddRemoveList(t *testing.T) {
	b := NewBook(NewFileStore(filepath.Join(t.TempDir(), "f.json")))

	assert.True(t, b.Add("g1", "Song A"))
	assert.False(t, b.Add("g1", "song a"), "duplicates ignore case")
	assert.True(t, b.Add("g1", "Song B"))
	assert.True(t, b.Add("g2", "Other"))

	assert.Equal(t, []string{"Song A", "Song B"}, b.List("g1"))
	assert.Equal(t, []string{"Other"}, b.List("g2"))

	title, ok := b.Remove("g1", "SONG A")
	require.True(t, ok)
	assert.Equal(t, "Song A", title)
	_, ok = b.Remove("g1", "missing")
	assert.False(t, ok)
	assert.Equal(t, []string{"Song B"}, b.List("g1"))
	assert.Empty(t, b.List("g3"))
}

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "favorites.json")
	ctx := context.Background()

	b := NewBook(NewFileStore(path))
	require.NoError(t, b.Load(ctx), "a missing file is an empty book")
	b.Add("g1", "Song A")
	require.NoError(t, b.Flush(ctx))

	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "tmp file is renamed away")

	reloaded := NewBook(NewFileStore(path))
	require.NoError(t, reloaded.Load(ctx))
	assert.Equal(t, []string{"Song A"}, reloaded.List("g1"))
}

type countingStore struct {
	saves int
	fail  bool
}

func (c *countingStore) Load(context.Context) (map[string][]string, error) {
	return map[string][]string{}, nil
}

func (c *countingStore) Save(context.Context, map[string][]string) error {
	c.saves++
	if c.fail {
		return errors.New("disk full")
	}
	return nil
}

func TestFlushOnlyWhenDirty(t *testing.T) {
	st := &countingStore{}
	b := NewBook(st)
	ctx := context.Background()

	require.NoError(t, b.Flush(ctx))
	assert.Zero(t, st.saves)

	b.Add("g1", "x")
	require.NoError(t, b.Flush(ctx))
	require.NoError(t, b.Flush(ctx))
	assert.Equal(t, 1, st.saves)

	st.fail = true
	b.Add("g1", "y")
	assert.Error(t, b.Flush(ctx))
	st.fail = false
	require.NoError(t, b.Flush(ctx), "a failed save stays dirty")
	assert.Equal(t, 3, st.saves)
}

func TestRunStopsWithContext(t *testing.T) {
	b := NewBook(&countingStore{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx, 5*time.Millisecond)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestBadgerStoreRoundTrip(t *testing.T) {
	st, err := NewBadgerStore(BadgerOptions{InMemory: true})
	require.NoError(t, err)
	defer st.Close()
	ctx := context.Background()

	require.NoError(t, st.Save(ctx, map[string][]string{"g1": {"a", "b"}, "g2": {"c"}}))
	m, err := st.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{"g1": {"a", "b"}, "g2": {"c"}}, m)

	require.NoError(t, st.Save(ctx, map[string][]string{"g1": {"a"}}))
	m, err = st.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{"g1": {"a"}}, m, "tenants missing from the save are removed")
}

func TestNewBadgerStoreRequiresDir(t *testing.T) {
	_, err := NewBadgerStore(BadgerOptions{})
	assert.Error(t, err)
}
