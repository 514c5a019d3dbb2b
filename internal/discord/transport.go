// Package discord adapts discordgo to the session package: voice joins,
// audio receive and send, text messages and replies.
package discord

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/discord-voice-lab/jukebox/internal/logging"
	"github.com/discord-voice-lab/jukebox/internal/session"
)

// Transport joins voice channels on one gateway session.
type Transport struct {
	s       *discordgo.Session
	silence time.Duration
	names   *Names

	mu    sync.Mutex
	sinks map[string]*sink
}

func NewTransport(s *discordgo.Session, silence time.Duration, names *Names) *Transport {
	return &Transport{s: s, silence: silence, names: names, sinks: make(map[string]*sink)}
}

func (t *Transport) Join(ctx context.Context, target session.Target) (session.VoiceSink, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	enc, err := newEncoder()
	if err != nil {
		return nil, fmt.Errorf("opus encoder: %w", err)
	}
	vc, err := t.s.ChannelVoiceJoin(target.GuildID, target.ChannelID, false, false)
	if err != nil {
		return nil, fmt.Errorf("voice join %s/%s: %w", target.GuildID, target.ChannelID, err)
	}

	sk := newSink(sinkConfig{
		guildID:    target.GuildID,
		selfID:     t.selfID(),
		silence:    t.silence,
		conn:       connFrom(vc),
		newDecoder: newDecoder,
		enc:        enc,
		names:      t.names,
		isBot:      func(userID string) bool { return t.names.IsBot(target.GuildID, userID) },
	})
	sk.cfg.onLeave = func() { t.forget(target.GuildID, sk) }
	vc.AddHandler(func(_ *discordgo.VoiceConnection, su *discordgo.VoiceSpeakingUpdate) {
		sk.mapSpeaker(uint32(su.SSRC), su.UserID)
	})

	t.mu.Lock()
	t.sinks[target.GuildID] = sk
	t.mu.Unlock()

	logging.Infow("voice: joined channel", append(logging.GuildFields(target.GuildID, t.names.GuildName(target.GuildID)), logging.ChannelFields(target.ChannelID, "")...)...)
	return sk, nil
}

// HandleVoiceStateUpdate detects the bot being removed from a voice
// channel by anything other than Leave.
func (t *Transport) HandleVoiceStateUpdate(_ *discordgo.Session, vs *discordgo.VoiceStateUpdate) {
	if vs == nil || vs.VoiceState == nil || vs.UserID != t.selfID() || vs.ChannelID != "" {
		return
	}
	t.mu.Lock()
	sk := t.sinks[vs.GuildID]
	t.mu.Unlock()
	if sk != nil {
		sk.markGone()
	}
}

func (t *Transport) forget(guildID string, sk *sink) {
	t.mu.Lock()
	if t.sinks[guildID] == sk {
		delete(t.sinks, guildID)
	}
	t.mu.Unlock()
}

func (t *Transport) selfID() string {
	if t.s == nil || t.s.State == nil || t.s.State.User == nil {
		return ""
	}
	return t.s.State.User.ID
}

// Replier posts replies with the REST API.
type Replier struct {
	s *discordgo.Session
}

func NewReplier(s *discordgo.Session) *Replier { return &Replier{s: s} }

func (r *Replier) Reply(ctx context.Context, channelID, text string) error {
	_, err := r.s.ChannelMessageSend(channelID, text, discordgo.WithContext(ctx))
	return err
}

// TextHandler is satisfied by *session.Dispatcher.
type TextHandler interface {
	HandleText(ctx context.Context, m session.Message)
}

// OnMessageCreate returns a discordgo handler that forwards messages to h.
func OnMessageCreate(h TextHandler) func(*discordgo.Session, *discordgo.MessageCreate) {
	return func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m == nil || m.Message == nil || m.Author == nil {
			return
		}
		h.HandleText(context.Background(), toMessage(s.State, m.Message))
	}
}

func toMessage(st *discordgo.State, m *discordgo.Message) session.Message {
	msg := session.Message{
		GuildID:   m.GuildID,
		ChannelID: m.ChannelID,
		AuthorID:  m.Author.ID,
		Content:   m.Content,
		FromBot:   m.Author.Bot,
	}
	if st == nil {
		return msg
	}
	if st.User != nil && st.User.ID == m.Author.ID {
		msg.FromBot = true
	}
	if m.GuildID != "" {
		if vs, err := st.VoiceState(m.GuildID, m.Author.ID); err == nil && vs != nil {
			msg.AuthorVoiceChannel = vs.ChannelID
		}
	}
	return msg
}
