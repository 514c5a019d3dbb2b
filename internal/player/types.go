package player

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrNothingToSkip   = errors.New("nothing to skip")
	ErrNothingToPause  = errors.New("nothing to pause")
	ErrNothingToResume = errors.New("nothing to resume")
	ErrClosed          = errors.New("scheduler closed")
)

// State is the scheduler's coarse playback state.
type State int

const (
	Idle State = iota
	Queued
	Playing
	Paused
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Queued:
		return "queued"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	}
	return "unknown"
}

// Track is a queue entry. Query is what the user asked for; Title is
// filled in once the resolver has seen it.
type Track struct {
	Query string
	Title string
}

// Label is the human readable name of the track.
func (t Track) Label() string {
	if t.Title != "" {
		return t.Title
	}
	return t.Query
}

// matches reports whether t and other name the same thing, ignoring case.
func (t Track) matches(other Track) bool {
	for _, a := range []string{t.Query, t.Title} {
		if a == "" {
			continue
		}
		for _, b := range []string{other.Query, other.Title} {
			if b != "" && strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b)) {
				return true
			}
		}
	}
	return false
}

// Media is a resolved, streamable item.
type Media struct {
	ID    string
	Title string
}

type Resolver interface {
	Resolve(ctx context.Context, query string) (Media, error)
}

// Playback controls one started track. Done yields exactly one value when
// the track ends: nil on natural end or Stop, the cause otherwise.
type Playback interface {
	Pause()
	Resume()
	Stop()
	Done() <-chan error
}

// Output starts audible playback of resolved media.
type Output interface {
	Start(ctx context.Context, m Media) (Playback, error)
}

// Notifier hears about track transitions. Calls happen on the scheduler's
// goroutine and must not call back into the scheduler.
type Notifier interface {
	NowPlaying(t Track)
	TrackFailed(t Track, err error)
}

// Snapshot is a consistent copy of the scheduler's state.
type Snapshot struct {
	State   State
	Current *Track
	Queue   []Track
}
