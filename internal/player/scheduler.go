// Package player owns a session's playback queue. All queue state lives on
// a single goroutine; public methods submit operations to it and wait.
package player

import (
	"context"
	"math/rand/v2"

	"github.com/discord-voice-lab/jukebox/internal/logging"
)

type Scheduler struct {
	tenant   string
	resolver Resolver
	output   Output
	notify   Notifier

	ctx    context.Context
	cancel context.CancelFunc
	ops    chan func()
	done   chan struct{}

	// owned by run
	queue    []Track
	current  *Track
	playback Playback
	paused   bool
	gen      uint64
}

// NewScheduler starts the scheduler goroutine. It stops when parent is
// cancelled or Close is called.
func NewScheduler(parent context.Context, tenant string, r Resolver, out Output, n Notifier) *Scheduler {
	if n == nil {
		n = nopNotifier{}
	}
	ctx, cancel := context.WithCancel(parent)
	s := &Scheduler{
		tenant:   tenant,
		resolver: r,
		output:   out,
		notify:   n,
		ctx:      ctx,
		cancel:   cancel,
		ops:      make(chan func()),
		done:     make(chan struct{}),
	}
	go s.run()
	return s
}

type nopNotifier struct{}

func (nopNotifier) NowPlaying(Track)         {}
func (nopNotifier) TrackFailed(Track, error) {}

func (s *Scheduler) run() {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			s.stopCurrent()
			s.queue = nil
			return
		case op := <-s.ops:
			op()
		}
	}
}

// call runs fn on the scheduler goroutine and waits for it.
func (s *Scheduler) call(fn func() error) error {
	var err error
	finished := make(chan struct{})
	op := func() {
		err = fn()
		close(finished)
	}
	select {
	case s.ops <- op:
	case <-s.done:
		return ErrClosed
	}
	<-finished
	return err
}

// submit queues fn without waiting; used by playback watchers.
func (s *Scheduler) submit(fn func()) {
	select {
	case s.ops <- fn:
	case <-s.done:
	}
}

// Enqueue appends t unless an equal track is current or queued. It never
// starts playback. added is false for duplicates.
func (s *Scheduler) Enqueue(t Track) (added bool, err error) {
	err = s.call(func() error {
		added = s.enqueue(t)
		return nil
	})
	return added, err
}

// TryAdvance starts the next queued track if nothing is playing.
func (s *Scheduler) TryAdvance() error {
	return s.call(func() error {
		s.tryAdvance()
		return nil
	})
}

// Play enqueues tracks and advances in one step. It returns how many were
// new.
func (s *Scheduler) Play(tracks ...Track) (int, error) {
	n := 0
	err := s.call(func() error {
		for _, t := range tracks {
			if s.enqueue(t) {
				n++
			}
		}
		s.tryAdvance()
		return nil
	})
	return n, err
}

// Skip ends the current track and moves on to the next one.
func (s *Scheduler) Skip() error {
	return s.call(func() error {
		if s.current == nil {
			return ErrNothingToSkip
		}
		s.stopCurrent()
		s.tryAdvance()
		return nil
	})
}

func (s *Scheduler) Pause() error {
	return s.call(func() error {
		if s.current == nil || s.paused {
			return ErrNothingToPause
		}
		s.playback.Pause()
		s.paused = true
		return nil
	})
}

func (s *Scheduler) Resume() error {
	return s.call(func() error {
		if s.current == nil || !s.paused {
			return ErrNothingToResume
		}
		s.playback.Resume()
		s.paused = false
		return nil
	})
}

// Clear empties the queue and ends the current track, leaving the
// scheduler idle.
func (s *Scheduler) Clear() error {
	return s.call(func() error {
		s.queue = nil
		s.stopCurrent()
		s.tryAdvance()
		return nil
	})
}

// Shuffle permutes the queue uniformly. The current track is untouched.
func (s *Scheduler) Shuffle() error {
	return s.call(func() error {
		rand.Shuffle(len(s.queue), func(i, j int) {
			s.queue[i], s.queue[j] = s.queue[j], s.queue[i]
		})
		return nil
	})
}

func (s *Scheduler) Snapshot() (Snapshot, error) {
	var snap Snapshot
	err := s.call(func() error {
		snap.State = s.state()
		if s.current != nil {
			c := *s.current
			snap.Current = &c
		}
		snap.Queue = append([]Track(nil), s.queue...)
		return nil
	})
	return snap, err
}

// Close stops playback and the scheduler goroutine. Safe to call twice.
func (s *Scheduler) Close() error {
	s.cancel()
	<-s.done
	return nil
}

func (s *Scheduler) state() State {
	switch {
	case s.current != nil && s.paused:
		return Paused
	case s.current != nil:
		return Playing
	case len(s.queue) > 0:
		return Queued
	}
	return Idle
}

func (s *Scheduler) enqueue(t Track) bool {
	if s.current != nil && s.current.matches(t) {
		return false
	}
	for _, q := range s.queue {
		if q.matches(t) {
			return false
		}
	}
	s.queue = append(s.queue, t)
	return true
}

// tryAdvance pops entries until one starts. Every attempt consumes one
// entry, so the loop is bounded by the queue length at entry.
func (s *Scheduler) tryAdvance() {
	if s.current != nil {
		return
	}
	budget := len(s.queue)
	failures := 0
	for attempt := 0; attempt < budget && len(s.queue) > 0; attempt++ {
		if s.ctx.Err() != nil {
			return
		}
		next := s.queue[0]
		s.queue = s.queue[1:]

		m, err := s.resolver.Resolve(s.ctx, next.Query)
		var pb Playback
		if err == nil {
			pb, err = s.output.Start(s.ctx, m)
		}
		if err != nil {
			failures++
			logging.Warnw("player: track failed to start", "guild.id", s.tenant, "query", next.Query, "failures", failures, "err", err)
			s.notify.TrackFailed(next, err)
			continue
		}
		if m.Title != "" {
			next.Title = m.Title
		}
		s.current = &next
		s.playback = pb
		s.paused = false
		s.gen++
		go s.watch(s.gen, pb)
		logging.Infow("player: now playing", "guild.id", s.tenant, "title", next.Label(), "queued", len(s.queue))
		s.notify.NowPlaying(next)
		return
	}
}

// watch waits for pb to end and hands the result back to the scheduler
// goroutine.
func (s *Scheduler) watch(gen uint64, pb Playback) {
	var err error
	select {
	case err = <-pb.Done():
	case <-s.done:
		return
	}
	s.submit(func() { s.finished(gen, err) })
}

// finished is onTrackFinished/onTrackErrored. Results for a playback that
// was already replaced are ignored.
func (s *Scheduler) finished(gen uint64, err error) {
	if gen != s.gen || s.current == nil {
		return
	}
	t := *s.current
	s.current = nil
	s.playback = nil
	s.paused = false
	if err != nil {
		logging.Warnw("player: track errored", "guild.id", s.tenant, "title", t.Label(), "err", err)
		s.notify.TrackFailed(t, err)
	}
	s.tryAdvance()
}

// stopCurrent ends the active playback. The generation bump makes the
// watcher's report stale.
func (s *Scheduler) stopCurrent() {
	if s.playback != nil {
		s.playback.Stop()
	}
	s.current = nil
	s.playback = nil
	s.paused = false
	s.gen++
}
