// Package voice turns per-speaker PCM streams into transcribed utterances.
package voice

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/discord-voice-lab/jukebox/internal/logging"
	"github.com/discord-voice-lab/jukebox/internal/stt"
)

const (
	DefaultSampleRate  = 48000
	DefaultMinDuration = 1000 * time.Millisecond
	DefaultMaxDuration = 19000 * time.Millisecond

	// bytes per mono 16-bit sample
	bytesPerSample = 2
)

// Transcriber is satisfied by *gate.Gate.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error)
}

// Handler receives every utterance that survives segmentation and
// transcription.
type Handler func(ctx context.Context, u Utterance)

// Observer is notified of accepted and dropped utterances. Optional.
type Observer interface {
	UtteranceAccepted(d time.Duration)
	UtteranceDropped(reason string)
}

type Config struct {
	SampleRate  int
	MinDuration time.Duration
	MaxDuration time.Duration
	// Archive, when set, receives every utterance sent for transcription.
	Archive *Archive
}

func (c Config) withDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.MinDuration <= 0 {
		c.MinDuration = DefaultMinDuration
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = DefaultMaxDuration
	}
	return c
}

// Segmenter owns the pending utterances of one session. Each speaker gets
// an independent buffer; flushes run concurrently and meet only at the
// shared Transcriber.
type Segmenter struct {
	tenant  string
	cfg     Config
	stt     Transcriber
	handler Handler
	obs     Observer

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	accums map[string]*pcmAccum
	wg     sync.WaitGroup
}

// NewSegmenter binds a segmenter to parent; cancelling parent has the same
// effect as Close.
func NewSegmenter(parent context.Context, tenant string, cfg Config, t Transcriber, h Handler, obs Observer) *Segmenter {
	ctx, cancel := context.WithCancel(parent)
	return &Segmenter{
		tenant:  tenant,
		cfg:     cfg.withDefaults(),
		stt:     t,
		handler: h,
		obs:     obs,
		ctx:     ctx,
		cancel:  cancel,
		accums:  make(map[string]*pcmAccum),
	}
}

// SpeakingStarted opens a fresh buffer for speaker, discarding any
// leftover from an utterance that never saw its stop event.
func (s *Segmenter) SpeakingStarted(speaker string) {
	if s.ctx.Err() != nil {
		return
	}
	s.mu.Lock()
	s.accums[speaker] = s.newAccum()
	s.mu.Unlock()
}

// AppendFrame adds interleaved stereo samples. A frame that arrives before
// SpeakingStarted opens the buffer implicitly.
func (s *Segmenter) AppendFrame(speaker string, frame []int16) {
	if s.ctx.Err() != nil || len(frame) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accums[speaker]
	if !ok {
		a = s.newAccum()
		s.accums[speaker] = a
	}
	a.last = time.Now()
	if a.overflow {
		return
	}
	if s.duration(len(a.samples)/2+len(frame)/2) > s.cfg.MaxDuration {
		a.overflow = true
		a.samples = nil
		return
	}
	a.samples = append(a.samples, frame...)
}

// SpeakingStopped detaches the speaker's buffer and runs it through the
// pipeline in the background.
func (s *Segmenter) SpeakingStopped(speaker string) {
	s.mu.Lock()
	a, ok := s.accums[speaker]
	delete(s.accums, speaker)
	s.mu.Unlock()
	if !ok || s.ctx.Err() != nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.flush(speaker, a)
	}()
}

// Abort drops the speaker's buffer without transcribing it, e.g. after a
// capture error.
func (s *Segmenter) Abort(speaker string) {
	s.mu.Lock()
	_, ok := s.accums[speaker]
	delete(s.accums, speaker)
	s.mu.Unlock()
	if ok {
		s.observeDrop(DropCaptureError)
	}
}

// Pending returns the number of speakers with an open buffer.
func (s *Segmenter) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.accums)
}

// Close discards all pending buffers. Transcriptions already in flight
// finish, but their results are dropped.
func (s *Segmenter) Close() {
	s.cancel()
	s.mu.Lock()
	s.accums = make(map[string]*pcmAccum)
	s.mu.Unlock()
}

// Wait blocks until every in-flight flush has returned.
func (s *Segmenter) Wait() { s.wg.Wait() }

func (s *Segmenter) newAccum() *pcmAccum {
	now := time.Now()
	return &pcmAccum{correlationID: uuid.NewString(), createdAt: now, last: now}
}

// duration converts a mono sample count into wall time.
func (s *Segmenter) duration(monoSamples int) time.Duration {
	return time.Duration(monoSamples) * time.Second / time.Duration(s.cfg.SampleRate)
}

func (s *Segmenter) flush(speaker string, a *pcmAccum) {
	ctx := logging.WithFields(s.ctx, "guild.id", s.tenant, "correlation_id", a.correlationID)
	if a.overflow {
		logging.DebugwCtx(ctx, "segmenter: dropping runaway buffer", "speaker.id", speaker)
		s.observeDrop(DropTooLong)
		return
	}

	mono := Downmix(a.samples)
	d := s.duration(len(mono) / bytesPerSample)
	logging.DebugwCtx(ctx, "segmenter: utterance flushed", logging.UtteranceFields(speaker, len(mono)/bytesPerSample, int(d.Milliseconds()))...)
	switch {
	case d < s.cfg.MinDuration:
		s.observeDrop(DropTooShort)
		return
	case d > s.cfg.MaxDuration:
		s.observeDrop(DropTooLong)
		return
	}

	// The gate call is allowed to finish even if the session closes; the
	// result is discarded below.
	callCtx := stt.WithCorrelationID(context.WithoutCancel(ctx), a.correlationID)
	text, err := s.stt.Transcribe(callCtx, mono, s.cfg.SampleRate)
	s.archive(ctx, Utterance{
		Tenant:        s.tenant,
		Speaker:       speaker,
		Text:          text,
		CorrelationID: a.correlationID,
		Duration:      d,
	}, mono, err)
	if s.ctx.Err() != nil {
		s.observeDrop(DropSessionGone)
		return
	}
	if err != nil {
		logging.WarnwCtx(ctx, "segmenter: transcription failed", "speaker.id", speaker, "err", err)
		s.observeDrop(DropTranscribe)
		return
	}
	if text == "" {
		s.observeDrop(DropEmpty)
		return
	}
	if s.obs != nil {
		s.obs.UtteranceAccepted(d)
	}
	logging.InfowCtx(ctx, "segmenter: transcript", "speaker.id", speaker, "text", text)
	s.handler(ctx, Utterance{
		Tenant:        s.tenant,
		Speaker:       speaker,
		Text:          text,
		CorrelationID: a.correlationID,
		Duration:      d,
	})
}

func (s *Segmenter) archive(ctx context.Context, u Utterance, mono []byte, transcribeErr error) {
	if s.cfg.Archive == nil {
		return
	}
	if err := s.cfg.Archive.Save(u, mono, s.cfg.SampleRate, transcribeErr); err != nil {
		logging.WarnwCtx(ctx, "segmenter: archive failed", "err", err)
	}
}

func (s *Segmenter) observeDrop(reason string) {
	if s.obs != nil {
		s.obs.UtteranceDropped(reason)
	}
}

// Downmix keeps the left channel of interleaved stereo samples and returns
// it as little-endian 16-bit PCM. The right channel is discarded, not mixed.
func Downmix(stereo []int16) []byte {
	out := make([]byte, 0, len(stereo))
	for i := 0; i+1 < len(stereo); i += 2 {
		out = binary.LittleEndian.AppendUint16(out, uint16(stereo[i]))
	}
	return out
}
