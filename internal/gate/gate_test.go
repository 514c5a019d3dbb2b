package gate

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingTranscriber struct {
	mu    sync.Mutex
	calls []time.Time
	order []string
	err   error
}

func (r *recordingTranscriber) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error) {
	r.mu.Lock()
	r.calls = append(r.calls, time.Now())
	r.order = append(r.order, string(pcm))
	r.mu.Unlock()
	if r.err != nil {
		return "", r.err
	}
	return string(pcm), nil
}

func TestGateSpacesConcurrentDispatches(t *testing.T) {
	const interval = 40 * time.Millisecond
	rec := &recordingTranscriber{}
	g := New(rec, interval, nil)

	const callers = 5
	var wg sync.WaitGroup
	results := make(chan string, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			text, err := g.Transcribe(context.Background(), []byte{byte('a' + i)}, 48000)
			assert.NoError(t, err)
			results <- text
		}(i)
	}
	wg.Wait()
	close(results)

	require.Len(t, rec.calls, callers, "every caller eventually dispatches")
	calls := append([]time.Time(nil), rec.calls...)
	sort.Slice(calls, func(i, j int) bool { return calls[i].Before(calls[j]) })
	// the fake records a hair after the gate stamps the dispatch
	const slack = 2 * time.Millisecond
	for i := 1; i < len(calls); i++ {
		gap := calls[i].Sub(calls[i-1])
		assert.GreaterOrEqual(t, gap, interval-slack, "dispatch %d came %v after the previous one", i, gap)
	}
	assert.Len(t, results, callers)
}

func TestGateDispatchesInArrivalOrder(t *testing.T) {
	rec := &recordingTranscriber{}
	g := New(rec, 30*time.Millisecond, nil)

	arrivals := []string{"a", "b", "c", "d", "e"}
	var wg sync.WaitGroup
	for _, id := range arrivals {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := g.Transcribe(context.Background(), []byte(id), 48000)
			assert.NoError(t, err)
		}(id)
		// let this caller take its place in line before the next arrives
		time.Sleep(5 * time.Millisecond)
	}
	wg.Wait()

	assert.Equal(t, arrivals, rec.order)
}

func TestGateWrapsFailures(t *testing.T) {
	rec := &recordingTranscriber{err: errors.New("quota exceeded")}
	g := New(rec, 10*time.Millisecond, nil)

	_, err := g.Transcribe(context.Background(), []byte("x"), 48000)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTranscriptionFailed)
	assert.Len(t, rec.calls, 1, "failures are not retried")
}

func TestGateHonorsCancellationWhileWaiting(t *testing.T) {
	rec := &recordingTranscriber{}
	g := New(rec, time.Hour, nil)

	_, err := g.Transcribe(context.Background(), []byte("first"), 48000)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = g.Transcribe(ctx, []byte("second"), 48000)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Len(t, rec.calls, 1)
}

func TestGateDefaultInterval(t *testing.T) {
	assert.Equal(t, DefaultInterval, New(&recordingTranscriber{}, 0, nil).Interval())
}
