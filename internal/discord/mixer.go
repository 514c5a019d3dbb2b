package discord

import (
	"encoding/binary"
	"errors"
	"io"
	"math"
	"sync"
	"sync/atomic"

	"github.com/discord-voice-lab/jukebox/internal/logging"
)

// track is the playback handle of one streamed song.
type track struct {
	src    io.ReadCloser
	wake   func()
	paused atomic.Bool

	stopOnce sync.Once
	stop     chan struct{}

	endOnce sync.Once
	done    chan error
	ended   chan struct{}
}

func newTrack(src io.ReadCloser, wake func()) *track {
	return &track{
		src:   src,
		wake:  wake,
		stop:  make(chan struct{}),
		done:  make(chan error, 1),
		ended: make(chan struct{}),
	}
}

func (t *track) Pause() { t.paused.Store(true) }

func (t *track) Resume() {
	t.paused.Store(false)
	t.wake()
}

func (t *track) Stop() {
	t.stopOnce.Do(func() { close(t.stop) })
	t.wake()
}

func (t *track) Done() <-chan error { return t.done }

func (t *track) stopped() bool {
	select {
	case <-t.stop:
		return true
	default:
		return false
	}
}

// end closes the source and publishes err exactly once.
func (t *track) end(err error) {
	t.endOnce.Do(func() {
		_ = t.src.Close()
		t.done <- err
		close(t.done)
		close(t.ended)
	})
}

type clip struct {
	src    io.ReadCloser
	volume float64
}

// mixer produces the next outgoing PCM frame from the current track and
// any overlaid clips. Only the send loop calls next.
type mixer struct {
	mu    sync.Mutex
	track *track
	clips []*clip

	wake chan struct{}
	buf  []byte
}

func newMixer() *mixer {
	return &mixer{wake: make(chan struct{}, 1), buf: make([]byte, frameBytes)}
}

func (m *mixer) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// play replaces the current track; the previous one ends cleanly.
func (m *mixer) play(src io.ReadCloser) *track {
	t := newTrack(src, m.signal)
	m.mu.Lock()
	prev := m.track
	m.track = t
	m.mu.Unlock()
	if prev != nil {
		prev.end(nil)
	}
	m.signal()
	return t
}

func (m *mixer) overlay(src io.ReadCloser, volume float64) {
	m.mu.Lock()
	m.clips = append(m.clips, &clip{src: src, volume: volume})
	m.mu.Unlock()
	m.signal()
}

// next returns false when there is nothing to send.
func (m *mixer) next() ([]int16, bool) {
	m.mu.Lock()
	t := m.track
	clips := append([]*clip(nil), m.clips...)
	m.mu.Unlock()

	var out []int16
	if t != nil {
		switch {
		case t.stopped():
			m.finish(t, nil)
		case t.paused.Load():
		default:
			frame, err := readFrame(t.src, m.buf)
			switch {
			case errors.Is(err, io.EOF):
				m.finish(t, nil)
			case err != nil:
				m.finish(t, err)
			default:
				out = frame
			}
		}
	}
	for _, c := range clips {
		frame, err := readFrame(c.src, m.buf)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logging.Warnw("clip read failed", "err", err)
			}
			m.dropClip(c)
			continue
		}
		if out == nil {
			out = make([]int16, frameSamples*channels)
		}
		mixInto(out, frame, c.volume)
	}
	return out, out != nil
}

func (m *mixer) finish(t *track, err error) {
	m.mu.Lock()
	if m.track == t {
		m.track = nil
	}
	m.mu.Unlock()
	t.end(err)
}

func (m *mixer) dropClip(c *clip) {
	m.mu.Lock()
	for i, x := range m.clips {
		if x == c {
			m.clips = append(m.clips[:i], m.clips[i+1:]...)
			break
		}
	}
	m.mu.Unlock()
	_ = c.src.Close()
}

// close ends the track and discards clips. Closing the sources also
// unblocks a read in progress.
func (m *mixer) close() {
	m.mu.Lock()
	t := m.track
	clips := m.clips
	m.track, m.clips = nil, nil
	m.mu.Unlock()
	if t != nil {
		t.end(nil)
	}
	for _, c := range clips {
		_ = c.src.Close()
	}
}

// readFrame reads one 20ms stereo frame. A short final frame is padded
// with silence; io.EOF is returned once the source is exhausted.
func readFrame(r io.Reader, buf []byte) ([]int16, error) {
	n, err := io.ReadFull(r, buf)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		clear(buf[n:])
		err = nil
	}
	if err != nil {
		return nil, err
	}
	out := make([]int16, len(buf)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(buf[2*i:]))
	}
	return out, nil
}

// mixInto adds src scaled by volume to dst, saturating at the int16 range.
func mixInto(dst, src []int16, volume float64) {
	for i := range dst {
		if i >= len(src) {
			return
		}
		v := float64(dst[i]) + float64(src[i])*volume
		dst[i] = int16(math.Max(math.MinInt16, math.Min(math.MaxInt16, v)))
	}
}
