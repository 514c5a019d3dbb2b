// Package session binds a tenant's voice connection, segmenter and
// playback scheduler together and routes commands to them.
package session

import (
	"context"
	"errors"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/discord-voice-lab/jukebox/internal/logging"
	"github.com/discord-voice-lab/jukebox/internal/player"
	"github.com/discord-voice-lab/jukebox/internal/voice"
)

var (
	ErrAlreadyOpen       = errors.New("session already open")
	ErrNotOpen           = errors.New("session not open")
	ErrTargetUnavailable = errors.New("voice target unavailable")
)

// Target is where a session connects: the voice channel to join and the
// text channel that receives replies.
type Target struct {
	GuildID       string
	ChannelID     string
	TextChannelID string
}

// Listener receives per-speaker audio. *voice.Segmenter satisfies it.
type Listener interface {
	SpeakingStarted(speaker string)
	AppendFrame(speaker string, frame []int16)
	SpeakingStopped(speaker string)
	Abort(speaker string)
}

// VoiceSink is an exclusive handle on one joined voice channel.
type VoiceSink interface {
	// Listen routes received audio to l until Leave.
	Listen(l Listener)
	// Play streams 48kHz stereo s16le PCM from src until EOF, Stop or ctx
	// cancellation. src is closed when playback ends.
	Play(ctx context.Context, src io.ReadCloser) player.Playback
	// PlayClip plays src over the current track at volume in (0, 1].
	PlayClip(src io.ReadCloser, volume float64)
	// Disconnected is closed when the connection drops without Leave.
	Disconnected() <-chan struct{}
	Leave() error
}

type VoiceTransport interface {
	Join(ctx context.Context, t Target) (VoiceSink, error)
}

// Streamer opens the PCM stream of resolved media. *media.Client
// satisfies it.
type Streamer interface {
	OpenStream(ctx context.Context, id string) (io.ReadCloser, error)
}

// Replier posts text to a channel.
type Replier interface {
	Reply(ctx context.Context, channelID, text string) error
}

// Observer receives session level events for metrics. Optional.
type Observer interface {
	SessionOpened()
	SessionClosed(reason string)
	CommandDispatched(kind, source string)
	TrackStarted()
	TrackFailed()
}

// Session is one tenant's live voice binding.
type Session struct {
	Tenant string
	Target Target
	Opened time.Time

	ctx       context.Context
	cancel    context.CancelFunc
	sink      VoiceSink
	scheduler *player.Scheduler
	segmenter *voice.Segmenter
	debug     atomic.Bool
}

// Scheduler returns the session's playback queue.
func (s *Session) Scheduler() *player.Scheduler { return s.scheduler }

func (s *Session) Debug() bool { return s.debug.Load() }

// ToggleDebug flips the transcript echo flag and returns the new value.
func (s *Session) ToggleDebug() bool {
	for {
		old := s.debug.Load()
		if s.debug.CompareAndSwap(old, !old) {
			return !old
		}
	}
}

// PlayClip plays a raw PCM file over whatever is playing.
func (s *Session) PlayClip(path string, volume float64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	logging.Debugw("session: playing clip", "guild.id", s.Tenant, "clip", path, "volume", volume)
	s.sink.PlayClip(f, volume)
	return nil
}

// close tears the session down. Every step runs even if an earlier one
// fails.
func (s *Session) close() error {
	s.cancel()
	s.segmenter.Close()
	var errs []error
	if err := s.scheduler.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := s.sink.Leave(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// sinkOutput plays resolved media on the session's sink.
type sinkOutput struct {
	sink    VoiceSink
	streams Streamer
}

func (o sinkOutput) Start(ctx context.Context, m player.Media) (player.Playback, error) {
	rc, err := o.streams.OpenStream(ctx, m.ID)
	if err != nil {
		return nil, err
	}
	return o.sink.Play(ctx, rc), nil
}

// notifier reports track transitions to the session's text channel.
type notifier struct {
	tenant  string
	channel string
	replier Replier
	obs     Observer
}

func (n notifier) NowPlaying(t player.Track) {
	if n.obs != nil {
		n.obs.TrackStarted()
	}
	n.send("Now playing: " + t.Label())
}

func (n notifier) TrackFailed(t player.Track, err error) {
	if n.obs != nil {
		n.obs.TrackFailed()
	}
	n.send("Error: could not play " + t.Label())
}

func (n notifier) send(text string) {
	if n.replier == nil || n.channel == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := n.replier.Reply(ctx, n.channel, text); err != nil {
		logging.Warnw("session: notify failed", "guild.id", n.tenant, "err", err)
	}
}
