package session

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/discord-voice-lab/jukebox/internal/command"
	"github.com/discord-voice-lab/jukebox/internal/favorites"
	"github.com/discord-voice-lab/jukebox/internal/logging"
	"github.com/discord-voice-lab/jukebox/internal/player"
	"github.com/discord-voice-lab/jukebox/internal/voice"
)

// User-facing replies.
const (
	ReplyConnected       = "connected!"
	ReplyAlreadyOpen     = "Already connected"
	ReplyDisconnected    = "Disconnected."
	ReplyNotConnected    = "Cannot leave because not connected."
	ReplyJoinVoiceFirst  = "Error: please join a voice channel first."
	ReplyJoinFailed      = "Error: unable to join your voice channel."
	ReplyHello           = "hello back =)"
	ReplyGeneric         = "Error#180: Something went wrong, try again or contact the developers if this keeps happening."
	ReplyNoFavorites     = "You have no favorites yet."
	ReplyNothingPlaying  = "Nothing is playing."
	ReplyNothingToSkip   = "Nothing to skip."
	ReplyNothingToPause  = "Nothing to pause."
	ReplyNothingToResume = "Nothing to resume."
	ReplySessionGone     = "Not connected."
)

// Message is an inbound chat message, already stripped of transport types.
type Message struct {
	GuildID   string
	ChannelID string
	AuthorID  string
	// AuthorVoiceChannel is the voice channel the author is in, if any.
	AuthorVoiceChannel string
	Content            string
	FromBot            bool
}

// Dispatcher turns text messages and transcripts into scheduler calls and
// replies. It is the boundary where unexpected failures are contained.
type Dispatcher struct {
	reg     *Registry
	norm    *command.Normalizer
	favs    *favorites.Book
	replier Replier
	limit   int
	wake    string
	obs     Observer
	// echoUnrecognized answers spoken input that parsed to no command.
	echoUnrecognized bool
}

type DispatcherConfig struct {
	MessageLimit int
	// WakePhrase is only used in the help text.
	WakePhrase       string
	EchoUnrecognized bool
}

// NewDispatcher wires itself as reg's utterance handler.
func NewDispatcher(reg *Registry, norm *command.Normalizer, favs *favorites.Book, cfg DispatcherConfig) *Dispatcher {
	if cfg.MessageLimit <= 0 {
		cfg.MessageLimit = command.DefaultMessageLimit
	}
	d := &Dispatcher{
		reg:              reg,
		norm:             norm,
		favs:             favs,
		replier:          reg.deps.Replier,
		limit:            cfg.MessageLimit,
		wake:             cfg.WakePhrase,
		obs:              reg.deps.Observer,
		echoUnrecognized: cfg.EchoUnrecognized,
	}
	reg.SetUtteranceHandler(d.HandleUtterance)
	return d
}

// HandleText processes one chat message. It never panics.
func (d *Dispatcher) HandleText(ctx context.Context, m Message) {
	if m.GuildID == "" || m.FromBot {
		return
	}
	cmd, ok := d.norm.ParseText(m.Content)
	if !ok {
		return
	}
	ctx = logging.WithFields(ctx, "guild.id", m.GuildID, "channel.id", m.ChannelID, "user.id", m.AuthorID)
	defer d.contain(ctx, m.ChannelID)
	d.observe(cmd, "text")
	logging.DebugwCtx(ctx, "dispatcher: text command", "command", cmd.String())

	target := Target{GuildID: m.GuildID, ChannelID: m.AuthorVoiceChannel, TextChannelID: m.ChannelID}
	switch cmd.Kind {
	case command.Join:
		if m.AuthorVoiceChannel == "" {
			d.send(ctx, m.ChannelID, ReplyJoinVoiceFirst)
			return
		}
		_, err := d.reg.Open(ctx, m.GuildID, target)
		d.send(ctx, m.ChannelID, openReply(err))
		return
	case command.Leave:
		if err := d.reg.Close(m.GuildID); errors.Is(err, ErrNotOpen) {
			d.send(ctx, m.ChannelID, ReplyNotConnected)
			return
		} else if err != nil {
			logging.WarnwCtx(ctx, "dispatcher: leave cleanup failed", "err", err)
		}
		d.send(ctx, m.ChannelID, ReplyDisconnected)
		return
	case command.Debug:
		s := d.reg.Get(m.GuildID)
		if s == nil {
			d.send(ctx, m.ChannelID, ReplySessionGone)
			return
		}
		d.send(ctx, m.ChannelID, debugReply(s.ToggleDebug()))
		return
	}

	s := d.reg.Get(m.GuildID)
	if s == nil && cmd.NeedsVoice() {
		if m.AuthorVoiceChannel == "" {
			d.send(ctx, m.ChannelID, ReplyJoinVoiceFirst)
			return
		}
		var err error
		s, err = d.reg.Open(ctx, m.GuildID, target)
		if err != nil && !errors.Is(err, ErrAlreadyOpen) {
			d.send(ctx, m.ChannelID, openReply(err))
			return
		}
		if s == nil {
			// another command is opening the session right now
			if s = d.reg.Await(ctx, m.GuildID); s == nil {
				d.send(ctx, m.ChannelID, ReplyJoinFailed)
				return
			}
		} else {
			d.send(ctx, m.ChannelID, ReplyConnected)
		}
	}
	d.run(ctx, s, m.ChannelID, cmd)
}

// HandleUtterance processes one transcript from s. It never panics.
func (d *Dispatcher) HandleUtterance(ctx context.Context, s *Session, u voice.Utterance) {
	channel := s.Target.TextChannelID
	defer d.contain(ctx, channel)

	if s.Debug() {
		d.send(ctx, channel, fmt.Sprintf("<@%s>: %s", u.Speaker, u.Text))
	}
	for _, t := range d.norm.Triggers(u.Text) {
		if err := s.PlayClip(t.Clip, t.PlaybackVolume()); err != nil {
			logging.WarnwCtx(ctx, "dispatcher: trigger clip failed", "clip", t.Clip, "err", err)
		}
	}
	cmd, ok := d.norm.Normalize(u.Text)
	if !ok {
		return
	}
	d.observe(cmd, "voice")
	if cmd.Kind == command.Unrecognized {
		logging.DebugwCtx(ctx, "dispatcher: unrecognized utterance", "text", cmd.Arg)
		if d.echoUnrecognized || s.Debug() {
			d.send(ctx, channel, "Unrecognized command: "+cmd.Arg)
		}
		return
	}
	logging.InfowCtx(ctx, "dispatcher: voice command", "command", cmd.String(), "speaker.id", u.Speaker)
	d.run(ctx, s, channel, cmd)
}

// Run executes a command for an already open session, e.g. from automation.
// Join is not available here since there is no author to follow.
func (d *Dispatcher) Run(ctx context.Context, tenant, text string) (out []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			logging.Errorw("dispatcher: panic", "guild.id", tenant, "panic", r, "stack", string(debug.Stack()))
			out, err = nil, fmt.Errorf("command panicked: %v", r)
		}
	}()
	cmd, ok := d.parseAny(text)
	if !ok {
		return nil, fmt.Errorf("no command in %q", text)
	}
	d.observe(cmd, "mcp")
	switch cmd.Kind {
	case command.Join:
		return nil, errors.New("join needs a voice channel; use the chat command")
	case command.Leave:
		if err := d.reg.Close(tenant); errors.Is(err, ErrNotOpen) {
			return []string{ReplyNotConnected}, nil
		}
		return []string{ReplyDisconnected}, nil
	}
	s := d.reg.Get(tenant)
	if cmd.Kind == command.Debug {
		if s == nil {
			return []string{ReplySessionGone}, nil
		}
		return []string{debugReply(s.ToggleDebug())}, nil
	}
	// Execute answers session-free commands itself and reports a missing
	// session for the rest.
	return d.Execute(ctx, s, cmd)
}

// parseAny accepts a prefixed text command, the same without its prefix,
// or a spoken phrase.
func (d *Dispatcher) parseAny(text string) (command.Command, bool) {
	if cmd, ok := d.norm.ParseText(text); ok {
		return cmd, true
	}
	if cmd, ok := d.norm.ParseText(d.norm.Prefix() + strings.TrimSpace(text)); ok {
		return cmd, true
	}
	cmd, ok := d.norm.Normalize(text)
	if !ok || cmd.Kind == command.Unrecognized {
		return command.Command{}, false
	}
	return cmd, true
}

func (d *Dispatcher) run(ctx context.Context, s *Session, channel string, cmd command.Command) {
	msgs, err := d.Execute(ctx, s, cmd)
	if err != nil {
		logging.WarnwCtx(ctx, "dispatcher: command failed", "command", cmd.String(), "err", err)
		d.send(ctx, channel, ReplyGeneric)
		return
	}
	for _, msg := range msgs {
		d.send(ctx, channel, msg)
	}
}

// Execute applies cmd to s and returns the reply messages. Expected
// conditions (nothing to skip, empty favorites) become replies; only
// unexpected failures are returned as errors. s may be nil for commands
// that need no session.
func (d *Dispatcher) Execute(ctx context.Context, s *Session, cmd command.Command) ([]string, error) {
	switch cmd.Kind {
	case command.Help:
		return d.help(), nil
	case command.Hello:
		return []string{ReplyHello}, nil
	case command.Genres:
		return d.chunk("Genres:\n" + strings.Join(d.norm.Genres().Names(), "\n"))
	}
	if s == nil {
		return []string{ReplySessionGone}, nil
	}
	sched := s.Scheduler()
	tenant := s.Tenant

	switch cmd.Kind {
	case command.Play:
		if cmd.Arg == "" {
			return schedulerReply(sched.Resume(), "Resumed.")
		}
		return d.enqueue(sched, cmd.Arg)
	case command.Genre:
		return d.enqueue(sched, d.norm.Genres().Query(cmd.Arg))
	case command.PlayRandom, command.Random:
		return d.enqueue(sched, d.norm.Genres().Query(d.norm.Genres().Random()))
	case command.PlayFavorites:
		favs := d.favs.List(tenant)
		if len(favs) == 0 {
			return []string{ReplyNoFavorites}, nil
		}
		tracks := make([]player.Track, 0, len(favs))
		for _, f := range favs {
			tracks = append(tracks, player.Track{Query: f})
		}
		n, err := sched.Play(tracks...)
		if err != nil {
			return closedReply(err)
		}
		return []string{fmt.Sprintf("Queued %d favorites.", n)}, nil
	case command.Pause:
		return schedulerReply(sched.Pause(), "Paused.")
	case command.Resume:
		return schedulerReply(sched.Resume(), "Resumed.")
	case command.Skip:
		return schedulerReply(sched.Skip(), "Skipped.")
	case command.Shuffle:
		return schedulerReply(sched.Shuffle(), "Queue shuffled.")
	case command.Clear:
		return schedulerReply(sched.Clear(), "Queue cleared.")
	case command.List:
		snap, err := sched.Snapshot()
		if err != nil {
			return closedReply(err)
		}
		return d.chunk(FormatQueue(snap))
	case command.Favorite:
		snap, err := sched.Snapshot()
		if err != nil {
			return closedReply(err)
		}
		if snap.Current == nil {
			return []string{ReplyNothingPlaying}, nil
		}
		title := snap.Current.Label()
		if !d.favs.Add(tenant, title) {
			return []string{"Already a favorite: " + title}, nil
		}
		return []string{"Added to favorites: " + title}, nil
	case command.Unfavorite:
		if cmd.Arg == "" {
			return []string{"Usage: " + d.norm.Prefix() + "unfavorite [name]"}, nil
		}
		title, ok := d.favs.Remove(tenant, cmd.Arg)
		if !ok {
			return []string{"Not in favorites: " + cmd.Arg}, nil
		}
		return []string{"Removed from favorites: " + title}, nil
	case command.Favorites:
		favs := d.favs.List(tenant)
		if len(favs) == 0 {
			return []string{ReplyNoFavorites}, nil
		}
		return d.chunk("Favorites:\n" + strings.Join(favs, "\n"))
	case command.Debug:
		return []string{debugReply(s.ToggleDebug())}, nil
	}
	return nil, fmt.Errorf("unhandled command %q", cmd.Kind)
}

func (d *Dispatcher) enqueue(sched *player.Scheduler, query string) ([]string, error) {
	n, err := sched.Play(player.Track{Query: query})
	if err != nil {
		return closedReply(err)
	}
	if n == 0 {
		// duplicates are absorbed silently
		return nil, nil
	}
	return []string{"Added to queue: " + query}, nil
}

func (d *Dispatcher) help() []string {
	return []string{command.HelpText(d.norm.Prefix(), d.wake)}
}

func (d *Dispatcher) chunk(text string) ([]string, error) {
	return command.ChunkReply(text, d.limit)
}

// FormatQueue renders the current track and queue, one entry per line.
func FormatQueue(snap player.Snapshot) string {
	var b strings.Builder
	if snap.Current != nil {
		fmt.Fprintf(&b, "[X] %s\n", snap.Current.Label())
	}
	for i, t := range snap.Queue {
		fmt.Fprintf(&b, "[%d] %s\n", i+1, t.Label())
	}
	if b.Len() == 0 {
		return "(empty)"
	}
	return b.String()
}

func (d *Dispatcher) send(ctx context.Context, channel, text string) {
	if d.replier == nil || channel == "" || text == "" {
		return
	}
	if err := d.replier.Reply(ctx, channel, text); err != nil {
		logging.WarnwCtx(ctx, "dispatcher: reply failed", "err", err)
	}
}

// contain keeps a panic confined to the event that caused it.
func (d *Dispatcher) contain(ctx context.Context, channel string) {
	if r := recover(); r != nil {
		logging.Errorw("dispatcher: panic", append(logging.FromContext(ctx), "panic", r, "stack", string(debug.Stack()))...)
		d.send(ctx, channel, ReplyGeneric)
	}
}

func (d *Dispatcher) observe(cmd command.Command, source string) {
	if d.obs != nil {
		d.obs.CommandDispatched(string(cmd.Kind), source)
	}
}

func openReply(err error) string {
	switch {
	case err == nil:
		return ReplyConnected
	case errors.Is(err, ErrAlreadyOpen):
		return ReplyAlreadyOpen
	}
	return ReplyJoinFailed
}

func debugReply(on bool) string {
	if on {
		return "Debug mode on."
	}
	return "Debug mode off."
}

func schedulerReply(err error, ok string) ([]string, error) {
	switch {
	case err == nil:
		return []string{ok}, nil
	case errors.Is(err, player.ErrNothingToSkip):
		return []string{ReplyNothingToSkip}, nil
	case errors.Is(err, player.ErrNothingToPause):
		return []string{ReplyNothingToPause}, nil
	case errors.Is(err, player.ErrNothingToResume):
		return []string{ReplyNothingToResume}, nil
	}
	return closedReply(err)
}

func closedReply(err error) ([]string, error) {
	if errors.Is(err, player.ErrClosed) {
		return []string{ReplySessionGone}, nil
	}
	return nil, err
}
