// Package media is the HTTP client for the media resolver/streamer
// service: resolve a free-text query to a track, then stream its PCM.
package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/discord-voice-lab/jukebox/internal/logging"
	"github.com/discord-voice-lab/jukebox/internal/player"
)

var (
	ErrResolutionFailed = errors.New("resolution failed")
	ErrStreamFailed     = errors.New("stream failed")
)

// errTransient marks failures worth another attempt.
var errTransient = errors.New("transient error")

type Client struct {
	BaseURL  string
	APIKey   string
	HTTP     *http.Client
	Attempts int
}

// NewClient returns a client with a timeout suited to resolution calls.
// Streams use a separate client without an overall timeout.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		APIKey:   apiKey,
		HTTP:     &http.Client{Timeout: 15 * time.Second},
		Attempts: 2,
	}
}

// Resolve looks a query up and returns its id and title.
func (c *Client) Resolve(ctx context.Context, query string) (player.Media, error) {
	u := fmt.Sprintf("%s/resolve?q=%s", c.BaseURL, url.QueryEscape(query))
	var out struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	}
	attempts := max(c.Attempts, 1)
	var err error
	for i := 0; i < attempts; i++ {
		err = c.getJSON(ctx, u, &out)
		if err == nil || !errors.Is(err, errTransient) {
			break
		}
		logging.Debugw("media: resolve attempt failed", "attempt", i+1, "query", query, "err", err)
		if i < attempts-1 {
			select {
			case <-ctx.Done():
				return player.Media{}, fmt.Errorf("%w: %v", ErrResolutionFailed, ctx.Err())
			case <-time.After(time.Duration(200*(1<<i)) * time.Millisecond):
			}
		}
	}
	if err != nil {
		return player.Media{}, fmt.Errorf("%w: %q: %v", ErrResolutionFailed, query, err)
	}
	if out.ID == "" {
		return player.Media{}, fmt.Errorf("%w: %q: no match", ErrResolutionFailed, query)
	}
	if out.Title == "" {
		out.Title = query
	}
	return player.Media{ID: out.ID, Title: out.Title}, nil
}

// OpenStream returns the raw 48kHz stereo s16le PCM of a resolved track.
// The caller closes the stream; cancelling ctx aborts it.
func (c *Client) OpenStream(ctx context.Context, id string) (io.ReadCloser, error) {
	u := fmt.Sprintf("%s/stream/%s", c.BaseURL, url.PathEscape(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStreamFailed, err)
	}
	c.authorize(req)
	// streams outlive the resolve timeout
	streamClient := &http.Client{Transport: c.transport()}
	resp, err := streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStreamFailed, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: status %d", ErrStreamFailed, resp.StatusCode)
	}
	return resp.Body, nil
}

func (c *Client) getJSON(ctx context.Context, u string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	c.authorize(req)
	resp, err := c.HTTP.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		return fmt.Errorf("%w: %v", errTransient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			return fmt.Errorf("decode error: %w", err)
		}
		return nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: status %d", errTransient, resp.StatusCode)
	}
	// 4xx are permanent
	return fmt.Errorf("status %d", resp.StatusCode)
}

func (c *Client) authorize(req *http.Request) {
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
}

func (c *Client) transport() http.RoundTripper {
	if c.HTTP != nil && c.HTTP.Transport != nil {
		return c.HTTP.Transport
	}
	return http.DefaultTransport
}
