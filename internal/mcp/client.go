package mcp

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// Client calls the bot's tools over the websocket endpoint.
type Client struct {
	client  *sdk.Client
	session *sdk.ClientSession
}

func NewClient(name, version string) *Client {
	return &Client{client: sdk.NewClient(&sdk.Implementation{Name: name, Version: version}, nil)}
}

// Connect dials rawurl; http and https schemes are mapped to ws and wss.
func (c *Client) Connect(ctx context.Context, rawurl string) error {
	u, err := url.Parse(rawurl)
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", u, err)
	}
	sess, err := c.client.Connect(ctx, newWebSocketTransport(conn), nil)
	if err != nil {
		_ = conn.Close()
		return err
	}
	c.session = sess
	return nil
}

// CallText calls a tool and returns its text content. A tool error is
// returned as an error carrying the tool's message.
func (c *Client) CallText(ctx context.Context, tool string, args map[string]any) (string, error) {
	if c.session == nil {
		return "", errors.New("mcp client not connected")
	}
	if args == nil {
		args = map[string]any{}
	}
	res, err := c.session.CallTool(ctx, &sdk.CallToolParams{Name: tool, Arguments: args})
	if err != nil {
		return "", err
	}
	var parts []string
	for _, content := range res.Content {
		if t, ok := content.(*sdk.TextContent); ok {
			parts = append(parts, t.Text)
		}
	}
	text := strings.Join(parts, "\n")
	if res.IsError {
		return "", fmt.Errorf("%s: %s", tool, text)
	}
	return text, nil
}

func (c *Client) Close() error {
	if c.session == nil {
		return nil
	}
	return c.session.Close()
}
