package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserverMethods(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed("leave")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveSessions))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsClosed.WithLabelValues("leave")))

	m.UtteranceDropped("too_short")
	m.UtteranceAccepted(2 * time.Second)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.UtterancesDropped.WithLabelValues("too_short")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.UtterancesAccepted))

	m.GateWaited(time.Second)
	m.TranscriptionDone(errors.New("x"))
	m.TranscriptionDone(nil)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TranscriptionRequests))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TranscriptionFailures))

	m.CommandDispatched("play", "voice")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Commands.WithLabelValues("play", "voice")))
}

func TestHandlerServesMetrics(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.TrackStarted()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "jukebox_tracks_started_total 1")
}
