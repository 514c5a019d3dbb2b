package stt

import (
	"context"
	"encoding/binary"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildWAVHeader(t *testing.T) {
	pcm := make([]byte, 96000)
	wav := BuildWAV(pcm, 48000, 1, 16)

	require.Len(t, wav, 44+len(pcm))
	assert.Equal(t, "RIFF", string(wav[0:4]))
	assert.Equal(t, "WAVE", string(wav[8:12]))
	assert.Equal(t, uint32(36+len(pcm)), binary.LittleEndian.Uint32(wav[4:8]))
	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(wav[22:24]), "channels")
	assert.Equal(t, uint32(48000), binary.LittleEndian.Uint32(wav[24:28]), "sample rate")
	assert.Equal(t, uint32(96000), binary.LittleEndian.Uint32(wav[28:32]), "byte rate")
	assert.Equal(t, uint32(len(pcm)), binary.LittleEndian.Uint32(wav[40:44]))
}

func TestWhisperClientTranscribe(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "audio/wav", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "cid-1", r.Header.Get("X-Correlation-ID"))
		assert.Equal(t, "en", r.URL.Query().Get("language"))
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "RIFF", string(body[:4]))
		_, _ = w.Write([]byte(`{"text": "  play trance mix "}`))
	}))
	defer ts.Close()

	c, err := NewWhisperClient(Config{URL: ts.URL + "/asr", AuthToken: "secret", Language: "en"}, nil)
	require.NoError(t, err)

	ctx := WithCorrelationID(context.Background(), "cid-1")
	text, err := c.Transcribe(ctx, make([]byte, 4800), 48000)
	require.NoError(t, err)
	assert.Equal(t, "play trance mix", text)
}

func TestWhisperClientServerError(t *testing.T) {
	calls := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	c, err := NewWhisperClient(Config{URL: ts.URL}, nil)
	require.NoError(t, err)
	_, err = c.Transcribe(context.Background(), make([]byte, 10), 48000)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Equal(t, 1, calls)
}

func TestNewWhisperClientRequiresURL(t *testing.T) {
	_, err := NewWhisperClient(Config{}, nil)
	assert.Error(t, err)
}
