package voice

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewArchiveEmptyDirDisables(t *testing.T) {
	a, err := NewArchive("  ", time.Hour, 10)
	require.NoError(t, err)
	assert.Nil(t, a)
	assert.NoError(t, a.Save(Utterance{}, nil, 48000, nil))
}

func readSidecars(t *testing.T, dir string) []Sidecar {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "*.json"))
	require.NoError(t, err)
	out := make([]Sidecar, 0, len(matches))
	for _, m := range matches {
		b, err := os.ReadFile(m)
		require.NoError(t, err)
		var sc Sidecar
		require.NoError(t, json.Unmarshal(b, &sc))
		out = append(out, sc)
	}
	return out
}

func TestArchiveSaveWritesWAVAndSidecar(t *testing.T) {
	dir := t.TempDir()
	a, err := NewArchive(dir, 0, 0)
	require.NoError(t, err)

	pcm := make([]byte, 4800)
	u := Utterance{Tenant: "g1", Speaker: "u 1", Text: "play x", CorrelationID: "cid-1", Duration: 1500 * time.Millisecond}
	require.NoError(t, a.Save(u, pcm, 48000, nil))

	scs := readSidecars(t, dir)
	require.Len(t, scs, 1)
	sc := scs[0]
	assert.Equal(t, "cid-1", sc.CorrelationID)
	assert.Equal(t, "play x", sc.Transcript)
	assert.Equal(t, int64(1500), sc.DurationMs)
	assert.Empty(t, sc.Error)
	assert.True(t, strings.Contains(filepath.Base(sc.WAVPath), "_g1_u-1_cidcid-1"))

	wav, err := os.ReadFile(sc.WAVPath)
	require.NoError(t, err)
	assert.Equal(t, "RIFF", string(wav[:4]))
	assert.Len(t, wav, 44+len(pcm))
}

func TestArchiveRecordsTranscriptionError(t *testing.T) {
	dir := t.TempDir()
	a := &Archive{Dir: dir}
	require.NoError(t, a.Save(Utterance{Tenant: "g1", CorrelationID: "c"}, nil, 48000, errors.New("timeout")))
	scs := readSidecars(t, dir)
	require.Len(t, scs, 1)
	assert.Equal(t, "timeout", scs[0].Error)
	assert.Equal(t, "unknown", strings.Split(filepath.Base(scs[0].WAVPath), "_")[2])
}

func touchPair(t *testing.T, dir, base string, mod time.Time) {
	t.Helper()
	for _, ext := range []string{".json", ".wav"} {
		p := filepath.Join(dir, base+ext)
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
		require.NoError(t, os.Chtimes(p, mod, mod))
	}
}

func TestArchivePrune(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	touchPair(t, dir, "old", now.Add(-48*time.Hour))
	touchPair(t, dir, "a", now.Add(-3*time.Hour))
	touchPair(t, dir, "b", now.Add(-2*time.Hour))
	touchPair(t, dir, "c", now.Add(-1*time.Hour))

	a := &Archive{Dir: dir, Retention: 24 * time.Hour, MaxFiles: 2}
	assert.Equal(t, 2, a.Prune(now))

	for _, gone := range []string{"old", "a"} {
		_, err := os.Stat(filepath.Join(dir, gone+".wav"))
		assert.True(t, os.IsNotExist(err), gone)
	}
	for _, kept := range []string{"b", "c"} {
		_, err := os.Stat(filepath.Join(dir, kept+".json"))
		assert.NoError(t, err, kept)
	}
}

func TestSegmenterArchivesTranscribedUtterance(t *testing.T) {
	dir := t.TempDir()
	rec := &fakeSTT{text: "skip"}
	col := &collector{}
	s := NewSegmenter(context.Background(), "g1", Config{Archive: &Archive{Dir: dir}}, rec, col.handle, nil)
	speak(s, "u1", 48000*2)
	s.Wait()

	require.Equal(t, 1, col.Len())
	scs := readSidecars(t, dir)
	require.Len(t, scs, 1)
	assert.Equal(t, col.got[0].CorrelationID, scs[0].CorrelationID)
	assert.Equal(t, "skip", scs[0].Transcript)
}
