package voice

import (
	"time"
)

// pcmAccum holds one speaker's interleaved stereo samples since the last
// speaking-start, plus the correlation id assigned to the utterance.
type pcmAccum struct {
	samples       []int16
	correlationID string
	createdAt     time.Time
	last          time.Time
	// overflow is set once the buffer passes the maximum window; further
	// frames are discarded and the utterance is dropped on flush.
	overflow bool
}

// Utterance is a transcribed speech segment ready for command routing.
type Utterance struct {
	Tenant        string
	Speaker       string
	Text          string
	CorrelationID string
	Duration      time.Duration
}

// Drop reasons reported to the Observer.
const (
	DropTooShort     = "too_short"
	DropTooLong      = "too_long"
	DropTranscribe   = "transcription_failed"
	DropEmpty        = "empty_transcript"
	DropSessionGone  = "session_closed"
	DropCaptureError = "capture_error"
)
