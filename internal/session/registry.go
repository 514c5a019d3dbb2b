package session

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/discord-voice-lab/jukebox/internal/logging"
	"github.com/discord-voice-lab/jukebox/internal/player"
	"github.com/discord-voice-lab/jukebox/internal/voice"
)

const shardCount = 16

// Deps are the collaborators shared by every session.
type Deps struct {
	Transport   VoiceTransport
	Transcriber voice.Transcriber
	Resolver    player.Resolver
	Streamer    Streamer
	Replier     Replier

	Segmenter voice.Config
	// JoinClip is played once right after connecting. Optional.
	JoinClip       string
	JoinClipVolume float64

	Observer      Observer
	VoiceObserver voice.Observer
}

// UtteranceHandler is called for every transcribed utterance.
type UtteranceHandler func(ctx context.Context, s *Session, u voice.Utterance)

// Registry owns the tenant -> Session mapping. Each shard has its own lock;
// no lock is held while joining or tearing down a voice connection.
type Registry struct {
	deps   Deps
	base   context.Context
	shards [shardCount]shard

	mu          sync.RWMutex
	onUtterance UtteranceHandler
}

type shard struct {
	mu sync.Mutex
	m  map[string]*entry
}

// entry is pending while the voice join is in flight so that a concurrent
// open for the same tenant reports ErrAlreadyOpen. ready is closed once the
// join settles; s stays nil if it failed.
type entry struct {
	s     *Session
	ready chan struct{}
}

// NewRegistry creates an empty registry. Sessions live until closed or
// until base is cancelled.
func NewRegistry(base context.Context, deps Deps) *Registry {
	r := &Registry{deps: deps, base: base}
	for i := range r.shards {
		r.shards[i].m = make(map[string]*entry)
	}
	return r
}

// SetUtteranceHandler installs the consumer of transcribed speech for
// sessions opened afterwards.
func (r *Registry) SetUtteranceHandler(h UtteranceHandler) {
	r.mu.Lock()
	r.onUtterance = h
	r.mu.Unlock()
}

func (r *Registry) shardFor(tenant string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(tenant))
	return &r.shards[h.Sum32()%shardCount]
}

// Open joins t and registers a session for tenant. It fails with
// ErrAlreadyOpen without side effects if one exists or is being opened.
func (r *Registry) Open(ctx context.Context, tenant string, t Target) (*Session, error) {
	sh := r.shardFor(tenant)
	sh.mu.Lock()
	if _, ok := sh.m[tenant]; ok {
		sh.mu.Unlock()
		return nil, ErrAlreadyOpen
	}
	e := &entry{ready: make(chan struct{})}
	sh.m[tenant] = e
	sh.mu.Unlock()

	sink, err := r.deps.Transport.Join(ctx, t)
	if err != nil {
		sh.mu.Lock()
		delete(sh.m, tenant)
		sh.mu.Unlock()
		close(e.ready)
		logging.Warnw("session: join failed", append(logging.GuildFields(tenant, ""), "channel.id", t.ChannelID, "err", err)...)
		return nil, fmt.Errorf("%w: %v", ErrTargetUnavailable, err)
	}

	s := r.build(tenant, t, sink)
	sh.mu.Lock()
	e.s = s
	sh.mu.Unlock()
	close(e.ready)

	sink.Listen(s.segmenter)
	go r.watchDisconnect(s)
	if r.deps.Observer != nil {
		r.deps.Observer.SessionOpened()
	}
	logging.Infow("session: opened", append(logging.GuildFields(tenant, ""), "channel.id", t.ChannelID)...)

	if r.deps.JoinClip != "" {
		vol := r.deps.JoinClipVolume
		if vol <= 0 {
			vol = 0.5
		}
		if err := s.PlayClip(r.deps.JoinClip, vol); err != nil {
			logging.Warnw("session: join clip failed", "guild.id", tenant, "err", err)
		}
	}
	return s, nil
}

func (r *Registry) build(tenant string, t Target, sink VoiceSink) *Session {
	ctx, cancel := context.WithCancel(r.base)
	s := &Session{
		Tenant: tenant,
		Target: t,
		Opened: time.Now(),
		ctx:    ctx,
		cancel: cancel,
		sink:   sink,
	}
	n := notifier{tenant: tenant, channel: t.TextChannelID, replier: r.deps.Replier, obs: r.deps.Observer}
	s.scheduler = player.NewScheduler(ctx, tenant, r.deps.Resolver, sinkOutput{sink: sink, streams: r.deps.Streamer}, n)

	r.mu.RLock()
	h := r.onUtterance
	r.mu.RUnlock()
	s.segmenter = voice.NewSegmenter(ctx, tenant, r.deps.Segmenter, r.deps.Transcriber, func(ctx context.Context, u voice.Utterance) {
		if h != nil {
			h(ctx, s, u)
		}
	}, r.deps.VoiceObserver)
	return s
}

// Close tears down tenant's session. The entry is removed even when part of
// the cleanup fails; the joined error is returned.
func (r *Registry) Close(tenant string) error {
	s := r.remove(tenant, nil)
	if s == nil {
		return ErrNotOpen
	}
	return r.teardown(s, "leave")
}

// Get returns the open session for tenant, or nil.
func (r *Registry) Get(tenant string) *Session {
	sh := r.shardFor(tenant)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if e, ok := sh.m[tenant]; ok {
		return e.s
	}
	return nil
}

// Await is Get, except that a session still being opened is waited for.
// It returns nil if there is no session, the pending open fails, or ctx
// ends first.
func (r *Registry) Await(ctx context.Context, tenant string) *Session {
	sh := r.shardFor(tenant)
	sh.mu.Lock()
	e, ok := sh.m[tenant]
	sh.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-e.ready:
	case <-ctx.Done():
		return nil
	}
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return e.s
}

// List returns open sessions ordered by tenant.
func (r *Registry) List() []*Session {
	var out []*Session
	for i := range r.shards {
		sh := &r.shards[i]
		sh.mu.Lock()
		for _, e := range sh.m {
			if e.s != nil {
				out = append(out, e.s)
			}
		}
		sh.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tenant < out[j].Tenant })
	return out
}

// CloseAll closes every open session, e.g. on shutdown.
func (r *Registry) CloseAll() error {
	var errs []error
	for _, s := range r.List() {
		if err := r.Close(s.Tenant); err != nil && !errors.Is(err, ErrNotOpen) {
			errs = append(errs, fmt.Errorf("%s: %w", s.Tenant, err))
		}
	}
	return errors.Join(errs...)
}

// remove deletes tenant's entry if it holds an open session (and, when
// want is set, only if it is that session).
func (r *Registry) remove(tenant string, want *Session) *Session {
	sh := r.shardFor(tenant)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.m[tenant]
	if !ok || e.s == nil || (want != nil && e.s != want) {
		return nil
	}
	delete(sh.m, tenant)
	return e.s
}

func (r *Registry) teardown(s *Session, reason string) error {
	err := s.close()
	if r.deps.Observer != nil {
		r.deps.Observer.SessionClosed(reason)
	}
	if err != nil {
		logging.Warnw("session: cleanup incomplete", "guild.id", s.Tenant, "reason", reason, "err", err)
	} else {
		logging.Infow("session: closed", "guild.id", s.Tenant, "reason", reason)
	}
	return err
}

// watchDisconnect runs the close path when the transport drops the
// connection on its own.
func (r *Registry) watchDisconnect(s *Session) {
	select {
	case <-s.ctx.Done():
	case <-s.sink.Disconnected():
		if r.remove(s.Tenant, s) != nil {
			_ = r.teardown(s, "disconnected")
		}
	}
}
