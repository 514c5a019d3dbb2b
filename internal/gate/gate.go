// Package gate serializes and throttles calls to the shared external
// transcription service. One Gate is shared by every tenant.
package gate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/discord-voice-lab/jukebox/internal/logging"
)

// DefaultInterval is the minimum spacing between two dispatches.
const DefaultInterval = 1000 * time.Millisecond

// ErrTranscriptionFailed wraps any failure of the external call.
var ErrTranscriptionFailed = errors.New("transcription failed")

// Transcriber converts mono 16-bit little-endian PCM to text.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error)
}

// Observer receives gate timings. Optional.
type Observer interface {
	GateWaited(d time.Duration)
	TranscriptionDone(err error)
}

// Gate enforces a process-wide minimum interval between dispatches.
// Callers are admitted in arrival order; a caller that arrives early
// blocks until its slot.
type Gate struct {
	next     Transcriber
	interval time.Duration
	limiter  *rate.Limiter
	observer Observer

	mu   sync.Mutex
	last time.Time
}

// New wraps next. interval <= 0 uses DefaultInterval.
func New(next Transcriber, interval time.Duration, obs Observer) *Gate {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Gate{
		next:     next,
		interval: interval,
		limiter:  rate.NewLimiter(rate.Every(interval), 1),
		observer: obs,
	}
}

// Interval returns the configured dispatch spacing.
func (g *Gate) Interval() time.Duration { return g.interval }

// Transcribe waits for this caller's slot and dispatches to the external
// service exactly once. Failures are returned wrapped in
// ErrTranscriptionFailed and are not retried.
func (g *Gate) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error) {
	start := time.Now()
	if err := g.acquire(ctx); err != nil {
		return "", err
	}
	waited := time.Since(start)
	if g.observer != nil {
		g.observer.GateWaited(waited)
	}
	logging.DebugwCtx(ctx, "gate: dispatching transcription", "waited_ms", waited.Milliseconds(), "bytes", len(pcm))

	text, err := g.next.Transcribe(ctx, pcm, sampleRate)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrTranscriptionFailed, err)
	}
	if g.observer != nil {
		g.observer.TranscriptionDone(err)
	}
	return text, err
}

// acquire reserves the next slot (reservations are handed out in arrival
// order), sleeps until it, then records the dispatch time. The final check
// against last keeps the spacing strict even when a sleeper wakes late.
func (g *Gate) acquire(ctx context.Context) error {
	r := g.limiter.Reserve()
	if err := sleep(ctx, r.Delay()); err != nil {
		r.Cancel()
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.last.IsZero() {
		if err := sleep(ctx, g.interval-time.Since(g.last)); err != nil {
			return err
		}
	}
	g.last = time.Now()
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
