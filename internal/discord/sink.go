package discord

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/discord-voice-lab/jukebox/internal/logging"
	"github.com/discord-voice-lab/jukebox/internal/player"
	"github.com/discord-voice-lab/jukebox/internal/session"
)

// DefaultSilenceTimeout ends an utterance when a speaker sends no audio
// for this long. Discord does not reliably report speaking stops.
const DefaultSilenceTimeout = 300 * time.Millisecond

// conn is the part of a voice connection the sink drives.
type conn struct {
	recv       <-chan *discordgo.Packet
	send       chan<- []byte
	speaking   func(bool) error
	disconnect func() error
}

func connFrom(vc *discordgo.VoiceConnection) conn {
	return conn{
		recv:       vc.OpusRecv,
		send:       vc.OpusSend,
		speaking:   vc.Speaking,
		disconnect: vc.Disconnect,
	}
}

type sinkConfig struct {
	guildID    string
	selfID     string
	silence    time.Duration
	conn       conn
	newDecoder func() (decoder, error)
	enc        encoder
	names      *Names
	isBot      func(userID string) bool
	onLeave    func()
}

// sink implements session.VoiceSink over one voice connection.
type sink struct {
	cfg sinkConfig
	out *mixer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	listener session.Listener
	speakers map[uint32]string
	decoders map[uint32]decoder

	// owned by the receive loop
	lastHeard map[uint32]time.Time

	leaving   atomic.Bool
	leaveOnce sync.Once
	leaveErr  error
	goneOnce  sync.Once
	gone      chan struct{}
}

func newSink(cfg sinkConfig) *sink {
	if cfg.silence <= 0 {
		cfg.silence = DefaultSilenceTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &sink{
		cfg:       cfg,
		out:       newMixer(),
		ctx:       ctx,
		cancel:    cancel,
		speakers:  make(map[uint32]string),
		decoders:  make(map[uint32]decoder),
		lastHeard: make(map[uint32]time.Time),
		gone:      make(chan struct{}),
	}
	s.wg.Add(2)
	go s.recvLoop()
	go s.sendLoop()
	return s
}

func (s *sink) Listen(l session.Listener) {
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()
}

func (s *sink) Play(ctx context.Context, src io.ReadCloser) player.Playback {
	t := s.out.play(src)
	go func() {
		select {
		case <-ctx.Done():
			t.Stop()
		case <-s.ctx.Done():
			s.out.finish(t, nil)
		case <-t.ended:
		}
	}()
	return t
}

func (s *sink) PlayClip(src io.ReadCloser, volume float64) {
	s.out.overlay(src, volume)
}

func (s *sink) Disconnected() <-chan struct{} { return s.gone }

func (s *sink) Leave() error {
	s.leaveOnce.Do(func() {
		s.leaving.Store(true)
		s.cancel()
		s.out.close()
		s.wg.Wait()
		if s.cfg.onLeave != nil {
			s.cfg.onLeave()
		}
		if s.cfg.conn.disconnect != nil {
			s.leaveErr = s.cfg.conn.disconnect()
		}
		logging.Infow("voice: left channel", "guild.id", s.cfg.guildID)
	})
	return s.leaveErr
}

// markGone reports an involuntary disconnect. It is a no-op once Leave
// has started.
func (s *sink) markGone() {
	if s.leaving.Load() {
		return
	}
	s.goneOnce.Do(func() {
		logging.Warnw("voice: connection lost", "guild.id", s.cfg.guildID)
		close(s.gone)
	})
}

// mapSpeaker records which user owns ssrc. Bots, ourselves included, are
// never mapped so their audio is dropped.
func (s *sink) mapSpeaker(ssrc uint32, userID string) {
	if userID == "" || userID == s.cfg.selfID {
		return
	}
	if s.cfg.isBot != nil && s.cfg.isBot(userID) {
		logging.Debugw("voice: ignoring bot speaker", "ssrc", ssrc, "guild.id", s.cfg.guildID, "user.id", userID)
		return
	}
	s.mu.Lock()
	prev := s.speakers[ssrc]
	s.speakers[ssrc] = userID
	s.mu.Unlock()
	if prev != userID {
		name := ""
		if s.cfg.names != nil {
			name = s.cfg.names.UserName(userID)
		}
		logging.Debugw("voice: mapped ssrc", append([]interface{}{"ssrc", ssrc, "guild.id", s.cfg.guildID}, logging.UserFields(userID, name)...)...)
	}
}

func (s *sink) recvLoop() {
	defer s.wg.Done()
	tick := s.cfg.silence / 2
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	recv := s.cfg.conn.recv
	for {
		select {
		case <-s.ctx.Done():
			return
		case pkt, ok := <-recv:
			if !ok {
				recv = nil
				continue
			}
			s.handlePacket(pkt, time.Now())
		case now := <-ticker.C:
			s.flushSilent(now)
		}
	}
}

func (s *sink) handlePacket(pkt *discordgo.Packet, now time.Time) {
	if pkt == nil || isSilenceFrame(pkt.Opus) {
		return
	}
	s.mu.Lock()
	speaker := s.speakers[pkt.SSRC]
	l := s.listener
	var dec decoder
	var err error
	if speaker != "" && l != nil {
		dec, err = s.decoderLocked(pkt.SSRC)
	}
	s.mu.Unlock()
	if speaker == "" || l == nil {
		return
	}
	if err != nil {
		logging.Errorw("voice: decoder unavailable", "ssrc", pkt.SSRC, "err", err)
		return
	}

	pcm := make([]int16, frameSamples*channels)
	n, err := dec.Decode(pkt.Opus, pcm)
	if err != nil {
		logging.Warnw("voice: opus decode error", "ssrc", pkt.SSRC, "user_id", speaker, "err", err)
		if _, active := s.lastHeard[pkt.SSRC]; active {
			delete(s.lastHeard, pkt.SSRC)
			l.Abort(speaker)
		}
		return
	}
	if _, active := s.lastHeard[pkt.SSRC]; !active {
		l.SpeakingStarted(speaker)
	}
	s.lastHeard[pkt.SSRC] = now
	l.AppendFrame(speaker, pcm[:n*channels])
}

func (s *sink) decoderLocked(ssrc uint32) (decoder, error) {
	if d, ok := s.decoders[ssrc]; ok {
		return d, nil
	}
	d, err := s.cfg.newDecoder()
	if err != nil {
		return nil, err
	}
	s.decoders[ssrc] = d
	return d, nil
}

// flushSilent ends the utterance of every speaker quiet for the silence
// timeout.
func (s *sink) flushSilent(now time.Time) {
	if len(s.lastHeard) == 0 {
		return
	}
	s.mu.Lock()
	l := s.listener
	type stop struct {
		ssrc    uint32
		speaker string
	}
	var stops []stop
	for ssrc, last := range s.lastHeard {
		if now.Sub(last) >= s.cfg.silence {
			stops = append(stops, stop{ssrc, s.speakers[ssrc]})
		}
	}
	s.mu.Unlock()
	for _, st := range stops {
		delete(s.lastHeard, st.ssrc)
		if l != nil && st.speaker != "" {
			l.SpeakingStopped(st.speaker)
		}
	}
}

func (s *sink) sendLoop() {
	defer s.wg.Done()
	speaking := false
	setSpeaking := func(on bool) {
		if speaking == on || s.cfg.conn.speaking == nil {
			return
		}
		speaking = on
		if err := s.cfg.conn.speaking(on); err != nil {
			logging.Debugw("voice: speaking update failed", "guild.id", s.cfg.guildID, "err", err)
		}
	}
	defer setSpeaking(false)

	opusBuf := make([]byte, maxOpusBytes)
	for {
		if s.ctx.Err() != nil {
			return
		}
		frame, ok := s.out.next()
		if !ok {
			setSpeaking(false)
			select {
			case <-s.ctx.Done():
				return
			case <-s.out.wake:
			}
			continue
		}
		setSpeaking(true)
		n, err := s.cfg.enc.Encode(frame, opusBuf)
		if err != nil {
			logging.Warnw("voice: opus encode error", "guild.id", s.cfg.guildID, "err", err)
			continue
		}
		pkt := append([]byte(nil), opusBuf[:n]...)
		select {
		case s.cfg.conn.send <- pkt:
		case <-s.ctx.Done():
			return
		}
	}
}
