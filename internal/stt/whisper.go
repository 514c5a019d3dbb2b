// Package stt talks to a Whisper-compatible HTTP transcription service.
package stt

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/discord-voice-lab/jukebox/internal/logging"
)

// Config describes the remote endpoint.
type Config struct {
	URL       string
	AuthToken string
	Language  string
	BeamSize  int
	Translate bool
	Timeout   time.Duration
}

// WhisperClient implements gate.Transcriber over HTTP. It makes exactly one
// request per call; retry policy belongs to the caller.
type WhisperClient struct {
	cfg  Config
	http *http.Client
}

func NewWhisperClient(cfg Config, client *http.Client) (*WhisperClient, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("stt: url is required")
	}
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("stt: invalid url: %w", err)
	}
	q := u.Query()
	if cfg.Translate {
		q.Set("task", "translate")
	}
	if cfg.BeamSize > 0 {
		q.Set("beam_size", strconv.Itoa(cfg.BeamSize))
	}
	if cfg.Language != "" {
		q.Set("language", cfg.Language)
	}
	u.RawQuery = q.Encode()
	cfg.URL = u.String()

	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &WhisperClient{cfg: cfg, http: client}, nil
}

type correlationKey struct{}

// WithCorrelationID tags ctx so the request carries X-Correlation-ID.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

func correlationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

// Transcribe wraps mono PCM16LE in a WAV container and posts it.
func (c *WhisperClient) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error) {
	wav := BuildWAV(pcm, sampleRate, 1, 16)

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.cfg.URL, bytes.NewReader(wav))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "audio/wav")
	if c.cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.AuthToken)
	}
	cid := correlationID(ctx)
	if cid != "" {
		req.Header.Set("X-Correlation-ID", cid)
	}

	samples := len(pcm) / 2
	logging.DebugwCtx(ctx, "stt: sending audio", "bytes", len(pcm), "duration_ms", samples*1000/sampleRate)
	sent := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("stt request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("stt returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("stt decode: %w", err)
	}
	serverMs, _ := strconv.Atoi(resp.Header.Get("X-Processing-Time-ms"))
	logging.InfowCtx(ctx, "stt: response received",
		"status", resp.StatusCode,
		"stt_latency_ms", time.Since(sent).Milliseconds(),
		"stt_server_ms", serverMs)
	return strings.TrimSpace(out.Text), nil
}

// BuildWAV prepends a RIFF/WAVE header for integer PCM.
func BuildWAV(pcm []byte, sampleRate, channels, bitsPerSample int) []byte {
	byteRate := uint32(sampleRate * channels * bitsPerSample / 8)
	blockAlign := uint16(channels * bitsPerSample / 8)
	dataLen := uint32(len(pcm))

	buf := bytes.NewBuffer(make([]byte, 0, 44+len(pcm)))
	buf.WriteString("RIFF")
	_ = binary.Write(buf, binary.LittleEndian, uint32(36)+dataLen)
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(buf, binary.LittleEndian, uint16(channels))
	_ = binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(buf, binary.LittleEndian, byteRate)
	_ = binary.Write(buf, binary.LittleEndian, blockAlign)
	_ = binary.Write(buf, binary.LittleEndian, uint16(bitsPerSample))
	buf.WriteString("data")
	_ = binary.Write(buf, binary.LittleEndian, dataLen)
	buf.Write(pcm)
	return buf.Bytes()
}
