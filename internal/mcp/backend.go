package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/discord-voice-lab/jukebox/internal/player"
	"github.com/discord-voice-lab/jukebox/internal/session"
)

// sessionBackend serves the tools from the live registry.
type sessionBackend struct {
	disp *session.Dispatcher
	reg  *session.Registry
}

// NewBackend binds the tools to a dispatcher and its registry.
func NewBackend(d *session.Dispatcher, reg *session.Registry) Backend {
	return &sessionBackend{disp: d, reg: reg}
}

func (b *sessionBackend) Run(ctx context.Context, tenant, command string) ([]string, error) {
	return b.disp.Run(ctx, tenant, command)
}

func (b *sessionBackend) Sessions() []SessionInfo {
	list := b.reg.List()
	out := make([]SessionInfo, 0, len(list))
	for _, s := range list {
		info := SessionInfo{
			Tenant:      s.Tenant,
			Channel:     s.Target.ChannelID,
			TextChannel: s.Target.TextChannelID,
			Opened:      s.Opened.UTC().Format(time.RFC3339),
			State:       "closed",
		}
		if snap, err := s.Scheduler().Snapshot(); err == nil {
			info.State = snap.State.String()
			info.Queued = len(snap.Queue)
		}
		out = append(out, info)
	}
	return out
}

func (b *sessionBackend) Queue(tenant string) (QueueInfo, error) {
	s := b.reg.Get(tenant)
	if s == nil {
		return QueueInfo{}, fmt.Errorf("tenant %s: %w", tenant, session.ErrNotOpen)
	}
	snap, err := s.Scheduler().Snapshot()
	if err != nil {
		return QueueInfo{}, fmt.Errorf("tenant %s: %w", tenant, err)
	}
	return queueInfo(snap), nil
}

func queueInfo(snap player.Snapshot) QueueInfo {
	q := QueueInfo{
		State: snap.State.String(),
		Queue: make([]string, 0, len(snap.Queue)),
		Text:  session.FormatQueue(snap),
	}
	if snap.Current != nil {
		q.Current = snap.Current.Label()
	}
	for _, t := range snap.Queue {
		q.Queue = append(q.Queue, t.Label())
	}
	return q
}
