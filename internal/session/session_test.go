package session

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/discord-voice-lab/jukebox/internal/command"
	"github.com/discord-voice-lab/jukebox/internal/favorites"
	"github.com/discord-voice-lab/jukebox/internal/player"
	"github.com/discord-voice-lab/jukebox/internal/voice"
)

type fakePlayback struct {
	done chan error
	once sync.Once
}

func newFakePlayback() *fakePlayback { return &fakePlayback{done: make(chan error, 1)} }

func (p *fakePlayback) Pause()             {}
func (p *fakePlayback) Resume()            {}
func (p *fakePlayback) Stop()              { p.once.Do(func() { p.done <- nil }) }
func (p *fakePlayback) Done() <-chan error { return p.done }

type fakeSink struct {
	mu       sync.Mutex
	listener Listener
	played   int
	clips    int
	left     bool
	leaveErr error
	gone     chan struct{}
}

func newFakeSink() *fakeSink { return &fakeSink{gone: make(chan struct{})} }

func (s *fakeSink) Listen(l Listener) {
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()
}

func (s *fakeSink) Play(_ context.Context, src io.ReadCloser) player.Playback {
	_ = src.Close()
	s.mu.Lock()
	s.played++
	s.mu.Unlock()
	return newFakePlayback()
}

func (s *fakeSink) PlayClip(src io.ReadCloser, _ float64) {
	_ = src.Close()
	s.mu.Lock()
	s.clips++
	s.mu.Unlock()
}

func (s *fakeSink) Disconnected() <-chan struct{} { return s.gone }

func (s *fakeSink) Leave() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.left = true
	return s.leaveErr
}

func (s *fakeSink) hasLeft() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.left
}

type fakeTransport struct {
	mu    sync.Mutex
	sinks map[string]*fakeSink
	fail  bool

	// when hold is set, Join signals entered and blocks until hold closes
	hold    chan struct{}
	entered chan struct{}
}

func (t *fakeTransport) Join(_ context.Context, target Target) (VoiceSink, error) {
	if t.hold != nil {
		t.entered <- struct{}{}
		<-t.hold
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fail {
		return nil, errors.New("missing permissions")
	}
	if t.sinks == nil {
		t.sinks = map[string]*fakeSink{}
	}
	s := newFakeSink()
	t.sinks[target.GuildID] = s
	return s, nil
}

func (t *fakeTransport) sink(guild string) *fakeSink {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sinks[guild]
}

type echoResolver struct{}

func (echoResolver) Resolve(_ context.Context, q string) (player.Media, error) {
	return player.Media{ID: q, Title: q}, nil
}

type emptyStreamer struct{}

func (emptyStreamer) OpenStream(context.Context, string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("")), nil
}

type nopTranscriber struct{}

func (nopTranscriber) Transcribe(context.Context, []byte, int) (string, error) { return "", nil }

type recReplier struct {
	mu   sync.Mutex
	msgs map[string][]string
}

func (r *recReplier) Reply(_ context.Context, channel, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.msgs == nil {
		r.msgs = map[string][]string{}
	}
	r.msgs[channel] = append(r.msgs[channel], text)
	return nil
}

func (r *recReplier) all(channel string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.msgs[channel]...)
}

func (r *recReplier) last(channel string) string {
	msgs := r.all(channel)
	if len(msgs) == 0 {
		return ""
	}
	return msgs[len(msgs)-1]
}

type harness struct {
	reg       *Registry
	disp      *Dispatcher
	transport *fakeTransport
	replies   *recReplier
	favs      *favorites.Book
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{transport: &fakeTransport{}, replies: &recReplier{}}
	h.reg = NewRegistry(context.Background(), Deps{
		Transport:   h.transport,
		Transcriber: nopTranscriber{},
		Resolver:    echoResolver{},
		Streamer:    emptyStreamer{},
		Replier:     h.replies,
	})
	h.favs = favorites.NewBook(favorites.NewFileStore(t.TempDir() + "/favorites.json"))
	h.disp = NewDispatcher(h.reg, command.NewNormalizer(), h.favs, DispatcherConfig{})
	t.Cleanup(func() { _ = h.reg.CloseAll() })
	return h
}

func (h *harness) text(guild, content string) {
	h.disp.HandleText(context.Background(), Message{
		GuildID:            guild,
		ChannelID:          "text-" + guild,
		AuthorID:           "u1",
		AuthorVoiceChannel: "voice-" + guild,
		Content:            content,
	})
}

func target(guild string) Target {
	return Target{GuildID: guild, ChannelID: "voice-" + guild, TextChannelID: "text-" + guild}
}

func TestRegistryOpenClose(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	s, err := h.reg.Open(ctx, "g1", target("g1"))
	require.NoError(t, err)
	assert.Same(t, s, h.reg.Get("g1"))

	_, err = h.reg.Open(ctx, "g1", target("g1"))
	assert.ErrorIs(t, err, ErrAlreadyOpen)
	assert.Same(t, s, h.reg.Get("g1"), "double open does not replace the session")

	require.NoError(t, h.reg.Close("g1"))
	assert.Nil(t, h.reg.Get("g1"))
	assert.True(t, h.transport.sink("g1").hasLeft())
	assert.ErrorIs(t, h.reg.Close("g1"), ErrNotOpen)
}

func TestRegistryTargetUnavailable(t *testing.T) {
	h := newHarness(t)
	h.transport.fail = true
	_, err := h.reg.Open(context.Background(), "g1", target("g1"))
	assert.ErrorIs(t, err, ErrTargetUnavailable)
	assert.Nil(t, h.reg.Get("g1"))

	h.transport.fail = false
	_, err = h.reg.Open(context.Background(), "g1", target("g1"))
	assert.NoError(t, err, "a failed join leaves no entry behind")
}

func TestRegistryCloseRemovesEntryOnCleanupFailure(t *testing.T) {
	h := newHarness(t)
	_, err := h.reg.Open(context.Background(), "g1", target("g1"))
	require.NoError(t, err)
	h.transport.sink("g1").leaveErr = errors.New("gateway timeout")

	assert.Error(t, h.reg.Close("g1"))
	assert.Nil(t, h.reg.Get("g1"))
}

func TestRegistryInvoluntaryDisconnect(t *testing.T) {
	h := newHarness(t)
	s, err := h.reg.Open(context.Background(), "g1", target("g1"))
	require.NoError(t, err)
	_, err = s.Scheduler().Play(player.Track{Query: "a"})
	require.NoError(t, err)

	close(h.transport.sink("g1").gone)
	require.Eventually(t, func() bool { return h.reg.Get("g1") == nil }, time.Second, 5*time.Millisecond)
	assert.True(t, h.transport.sink("g1").hasLeft())
	_, err = s.Scheduler().Snapshot()
	assert.ErrorIs(t, err, player.ErrClosed)
}

func TestSessionsAreIsolated(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s1, err := h.reg.Open(ctx, "g1", target("g1"))
	require.NoError(t, err)
	s2, err := h.reg.Open(ctx, "g2", target("g2"))
	require.NoError(t, err)

	_, err = s1.Scheduler().Play(player.Track{Query: "a"}, player.Track{Query: "b"})
	require.NoError(t, err)
	s1.ToggleDebug()

	snap, err := s2.Scheduler().Snapshot()
	require.NoError(t, err)
	assert.Equal(t, player.Idle, snap.State)
	assert.False(t, s2.Debug())

	require.NoError(t, h.reg.Close("g1"))
	_, err = s2.Scheduler().Snapshot()
	require.NoError(t, err, "closing one tenant leaves the other running")
	assert.Len(t, h.reg.List(), 1)
}

func TestTextJoinLeave(t *testing.T) {
	h := newHarness(t)
	h.disp.HandleText(context.Background(), Message{GuildID: "g1", ChannelID: "text-g1", Content: "!join"})
	assert.Equal(t, ReplyJoinVoiceFirst, h.replies.last("text-g1"))

	h.text("g1", "!join")
	assert.Equal(t, ReplyConnected, h.replies.last("text-g1"))
	h.text("g1", "!JOIN")
	assert.Equal(t, ReplyAlreadyOpen, h.replies.last("text-g1"))
	h.text("g1", "!leave")
	assert.Equal(t, ReplyDisconnected, h.replies.last("text-g1"))
	h.text("g1", "!leave")
	assert.Equal(t, ReplyNotConnected, h.replies.last("text-g1"))
}

func TestTextIgnoresBotsAndDirectMessages(t *testing.T) {
	h := newHarness(t)
	h.disp.HandleText(context.Background(), Message{ChannelID: "dm", Content: "!hello"})
	h.disp.HandleText(context.Background(), Message{GuildID: "g1", ChannelID: "text-g1", Content: "!hello", FromBot: true})
	h.text("g1", "hello without prefix")
	assert.Empty(t, h.replies.all("dm"))
	assert.Empty(t, h.replies.all("text-g1"))

	h.text("g1", "!hello")
	assert.Equal(t, []string{ReplyHello}, h.replies.all("text-g1"))
	assert.Nil(t, h.reg.Get("g1"), "hello does not need a session")
}

func TestTextPlayAutoJoins(t *testing.T) {
	h := newHarness(t)
	h.text("g1", "!play song a")
	h.text("g1", "!play Song A")

	msgs := h.replies.all("text-g1")
	assert.Contains(t, msgs, ReplyConnected)
	assert.Contains(t, msgs, "Now playing: song a")
	s := h.reg.Get("g1")
	require.NotNil(t, s)
	snap, err := s.Scheduler().Snapshot()
	require.NoError(t, err)
	assert.Empty(t, snap.Queue, "the duplicate is absorbed")

	h.text("g1", "!list")
	assert.Equal(t, "```[X] song a\n```", h.replies.last("text-g1"))
}

func TestTextSchedulerErrorsBecomeReplies(t *testing.T) {
	h := newHarness(t)
	h.text("g1", "!skip")
	assert.Equal(t, ReplyNothingToSkip, h.replies.last("text-g1"))
	h.text("g1", "!pause")
	assert.Equal(t, ReplyNothingToPause, h.replies.last("text-g1"))
	h.text("g1", "!resume")
	assert.Equal(t, ReplyNothingToResume, h.replies.last("text-g1"))
}

func TestFavoritesFlow(t *testing.T) {
	h := newHarness(t)
	h.text("g1", "!favorites")
	assert.Equal(t, ReplyNoFavorites, h.replies.last("text-g1"))
	h.text("g1", "!favorite")
	assert.Equal(t, ReplyNothingPlaying, h.replies.last("text-g1"))

	h.text("g1", "!play daft punk")
	h.text("g1", "!favorite")
	assert.Equal(t, "Added to favorites: daft punk", h.replies.last("text-g1"))
	assert.Equal(t, []string{"daft punk"}, h.favs.List("g1"))

	h.text("g1", "!unfavorite DAFT PUNK")
	assert.Equal(t, "Removed from favorites: daft punk", h.replies.last("text-g1"))
	assert.Empty(t, h.favs.List("g1"))
}

func TestDispatchPanicIsContained(t *testing.T) {
	h := newHarness(t)
	h.disp.favs = nil
	_, err := h.reg.Open(context.Background(), "g1", target("g1"))
	require.NoError(t, err)

	assert.NotPanics(t, func() { h.text("g1", "!favorites") })
	assert.Equal(t, ReplyGeneric, h.replies.last("text-g1"))

	h.text("g1", "!hello")
	assert.Equal(t, ReplyHello, h.replies.last("text-g1"), "dispatch keeps working afterwards")
}

func TestHandleUtterance(t *testing.T) {
	h := newHarness(t)
	s, err := h.reg.Open(context.Background(), "g1", target("g1"))
	require.NoError(t, err)
	s.ToggleDebug()

	h.disp.HandleUtterance(context.Background(), s, voice.Utterance{Tenant: "g1", Speaker: "42", Text: "play trance mix"})
	msgs := h.replies.all("text-g1")
	assert.Contains(t, msgs, "<@42>: play trance mix")
	assert.Contains(t, msgs, "Added to queue: trance mix")

	h.disp.HandleUtterance(context.Background(), s, voice.Utterance{Tenant: "g1", Speaker: "42", Text: "sing for me"})
	assert.Equal(t, "Unrecognized command: sing for me", h.replies.last("text-g1"))
}

func TestRunFromAutomation(t *testing.T) {
	h := newHarness(t)
	out, err := h.disp.Run(context.Background(), "g1", "skip")
	require.NoError(t, err)
	assert.Equal(t, []string{ReplySessionGone}, out)

	for _, text := range []string{"genres", "!help", "hello"} {
		out, err = h.disp.Run(context.Background(), "g1", text)
		require.NoError(t, err, text)
		require.NotEmpty(t, out, text)
		assert.NotEqual(t, ReplySessionGone, out[0], "%s needs no session", text)
	}
	out, err = h.disp.Run(context.Background(), "g1", "genres")
	require.NoError(t, err)
	assert.Contains(t, strings.Join(out, "\n"), "trance")

	out, err = h.disp.Run(context.Background(), "g1", "debug")
	require.NoError(t, err)
	assert.Equal(t, []string{ReplySessionGone}, out)

	_, err = h.reg.Open(context.Background(), "g1", target("g1"))
	require.NoError(t, err)
	out, err = h.disp.Run(context.Background(), "g1", "!play something")
	require.NoError(t, err)
	assert.Equal(t, []string{"Added to queue: something"}, out)

	_, err = h.disp.Run(context.Background(), "g1", "gibberish words")
	assert.Error(t, err)
}

func TestFormatQueue(t *testing.T) {
	assert.Equal(t, "(empty)", FormatQueue(player.Snapshot{}))
	got := FormatQueue(player.Snapshot{
		Current: &player.Track{Query: "x", Title: "X"},
		Queue:   []player.Track{{Query: "y"}, {Query: "z"}},
	})
	assert.Equal(t, "[X] X\n[1] y\n[2] z\n", got)
}

func TestRegistryAwaitPendingOpen(t *testing.T) {
	tr := &fakeTransport{hold: make(chan struct{}), entered: make(chan struct{}, 1)}
	reg := NewRegistry(context.Background(), Deps{Transport: tr, Transcriber: nopTranscriber{}, Resolver: echoResolver{}, Streamer: emptyStreamer{}})
	t.Cleanup(func() { _ = reg.CloseAll() })

	assert.Nil(t, reg.Await(context.Background(), "g1"), "nothing open")

	opened := make(chan *Session, 1)
	go func() {
		s, _ := reg.Open(context.Background(), "g1", target("g1"))
		opened <- s
	}()
	<-tr.entered
	assert.Nil(t, reg.Get("g1"), "pending entries are not visible to Get")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Nil(t, reg.Await(ctx, "g1"), "gives up with its context")

	awaited := make(chan *Session, 1)
	go func() { awaited <- reg.Await(context.Background(), "g1") }()
	close(tr.hold)
	s := <-opened
	require.NotNil(t, s)
	assert.Same(t, s, <-awaited)
}

func TestRegistryAwaitFailedOpen(t *testing.T) {
	tr := &fakeTransport{fail: true, hold: make(chan struct{}), entered: make(chan struct{}, 1)}
	reg := NewRegistry(context.Background(), Deps{Transport: tr})

	go func() { _, _ = reg.Open(context.Background(), "g1", target("g1")) }()
	<-tr.entered
	awaited := make(chan *Session, 1)
	go func() { awaited <- reg.Await(context.Background(), "g1") }()
	close(tr.hold)
	assert.Nil(t, <-awaited)
}

func TestConcurrentPlayDuringAutoOpen(t *testing.T) {
	h := newHarness(t)
	h.transport.hold = make(chan struct{})
	h.transport.entered = make(chan struct{}, 1)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.text("g1", "!play song a")
	}()
	<-h.transport.entered

	wg.Add(1)
	go func() {
		defer wg.Done()
		h.text("g1", "!play song b")
	}()
	time.Sleep(20 * time.Millisecond)
	close(h.transport.hold)
	wg.Wait()

	msgs := h.replies.all("text-g1")
	assert.NotContains(t, msgs, ReplySessionGone)
	assert.NotContains(t, msgs, ReplyJoinFailed)

	s := h.reg.Get("g1")
	require.NotNil(t, s)
	snap, err := s.Scheduler().Snapshot()
	require.NoError(t, err)
	require.NotNil(t, snap.Current)
	labels := []string{snap.Current.Label()}
	for _, tr := range snap.Queue {
		labels = append(labels, tr.Label())
	}
	assert.ElementsMatch(t, []string{"song a", "song b"}, labels)
}
