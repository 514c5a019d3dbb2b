package voice

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/discord-voice-lab/jukebox/internal/fileio"
	"github.com/discord-voice-lab/jukebox/internal/logging"
	"github.com/discord-voice-lab/jukebox/internal/stt"
)

// Archive saves every utterance sent for transcription as a mono WAV file
// with a JSON sidecar. A nil *Archive saves nothing.
type Archive struct {
	Dir       string
	Retention time.Duration
	MaxFiles  int
}

// Sidecar is the JSON written next to each archived WAV.
type Sidecar struct {
	CorrelationID string    `json:"correlation_id"`
	Tenant        string    `json:"tenant"`
	Speaker       string    `json:"speaker"`
	Transcript    string    `json:"transcript,omitempty"`
	Error         string    `json:"error,omitempty"`
	DurationMs    int64     `json:"duration_ms"`
	SampleRate    int       `json:"sample_rate"`
	WAVPath       string    `json:"wav_path"`
	CreatedAt     time.Time `json:"created_at"`
}

// NewArchive returns nil when dir is empty.
func NewArchive(dir string, retention time.Duration, maxFiles int) (*Archive, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("archive dir %s: %w", dir, err)
	}
	return &Archive{Dir: dir, Retention: retention, MaxFiles: maxFiles}, nil
}

// Save writes the WAV and sidecar for u. transcribeErr is recorded in
// place of the transcript when set.
func (a *Archive) Save(u Utterance, pcm []byte, sampleRate int, transcribeErr error) error {
	if a == nil {
		return nil
	}
	now := time.Now().UTC()
	base := fmt.Sprintf("%s_%s_%s_cid%s", now.Format("20060102T150405.000"), safeName(u.Tenant), safeName(u.Speaker), u.CorrelationID)
	wavPath := filepath.Join(a.Dir, base+".wav")
	if err := fileio.WriteAtomic(wavPath, stt.BuildWAV(pcm, sampleRate, 1, 16), 0o644); err != nil {
		return err
	}
	sc := Sidecar{
		CorrelationID: u.CorrelationID,
		Tenant:        u.Tenant,
		Speaker:       u.Speaker,
		Transcript:    u.Text,
		DurationMs:    u.Duration.Milliseconds(),
		SampleRate:    sampleRate,
		WAVPath:       wavPath,
		CreatedAt:     now,
	}
	if transcribeErr != nil {
		sc.Error = transcribeErr.Error()
	}
	b, err := json.MarshalIndent(sc, "", "  ")
	if err != nil {
		return err
	}
	return fileio.WriteAtomic(filepath.Join(a.Dir, base+".json"), b, 0o644)
}

// Run prunes the archive on every tick until ctx is done.
func (a *Archive) Run(ctx context.Context, interval time.Duration) {
	if a == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.Prune(time.Now()); n > 0 {
				logging.Debugw("archive: pruned utterances", "dir", a.Dir, "removed", n)
			}
		}
	}
}

// Prune removes pairs older than Retention, then the oldest pairs beyond
// MaxFiles. It returns the number of pairs removed.
func (a *Archive) Prune(now time.Time) int {
	entries, err := os.ReadDir(a.Dir)
	if err != nil {
		logging.Debugw("archive: readDir failed", "dir", a.Dir, "err", err)
		return 0
	}
	type pair struct {
		jsonPath, wavPath string
		mod               time.Time
	}
	var pairs []pair
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		jsonPath := filepath.Join(a.Dir, name)
		pairs = append(pairs, pair{
			jsonPath: jsonPath,
			wavPath:  strings.TrimSuffix(jsonPath, ".json") + ".wav",
			mod:      info.ModTime(),
		})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].mod.Before(pairs[j].mod) })

	removed := 0
	remove := func(p pair) {
		_ = os.Remove(p.jsonPath)
		_ = os.Remove(p.wavPath)
		removed++
	}
	kept := pairs[:0]
	for _, p := range pairs {
		if a.Retention > 0 && now.Sub(p.mod) > a.Retention {
			remove(p)
			continue
		}
		kept = append(kept, p)
	}
	if a.MaxFiles > 0 && len(kept) > a.MaxFiles {
		for _, p := range kept[:len(kept)-a.MaxFiles] {
			remove(p)
		}
	}
	return removed
}

func safeName(s string) string {
	if s == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == ' ' || r == '_' {
			return '-'
		}
		return r
	}, s)
}
