// Package mcp exposes bot automation as Model Context Protocol tools over
// a websocket endpoint.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/discord-voice-lab/jukebox/internal/logging"
)

// Tool names.
const (
	ToolRunCommand   = "run_command"
	ToolListSessions = "list_sessions"
	ToolQueue        = "queue"
)

// SessionInfo describes one open session.
type SessionInfo struct {
	Tenant      string `json:"tenant"`
	Channel     string `json:"channel"`
	TextChannel string `json:"text_channel"`
	Opened      string `json:"opened"`
	State       string `json:"state"`
	Queued      int    `json:"queued"`
}

// QueueInfo is a snapshot of one tenant's playback.
type QueueInfo struct {
	State   string   `json:"state"`
	Current string   `json:"current,omitempty"`
	Queue   []string `json:"queue"`
	Text    string   `json:"text"`
}

// Backend is what the tools operate on.
type Backend interface {
	Run(ctx context.Context, tenant, command string) ([]string, error)
	Sessions() []SessionInfo
	Queue(tenant string) (QueueInfo, error)
}

type runInput struct {
	Tenant  string `json:"tenant" jsonschema:"guild id of the target session"`
	Command string `json:"command" jsonschema:"command text, with or without the prefix, e.g. 'play daft punk' or '!skip'"`
}

type runOutput struct {
	Replies []string `json:"replies"`
}

type listInput struct{}

type listOutput struct {
	Sessions []SessionInfo `json:"sessions"`
}

type queueInput struct {
	Tenant string `json:"tenant" jsonschema:"guild id of the target session"`
}

// Server serves MCP sessions over websockets.
type Server struct {
	srv      *sdk.Server
	upgrader websocket.Upgrader
}

func NewServer(b Backend, version string) *Server {
	srv := sdk.NewServer(&sdk.Implementation{Name: "jukebox", Version: version}, nil)

	sdk.AddTool(srv, &sdk.Tool{
		Name:        ToolRunCommand,
		Description: "Run a bot command against a tenant's open session and return the replies",
	}, func(ctx context.Context, _ *sdk.CallToolRequest, in runInput) (*sdk.CallToolResult, runOutput, error) {
		if strings.TrimSpace(in.Tenant) == "" || strings.TrimSpace(in.Command) == "" {
			return nil, runOutput{}, errors.New("tenant and command are required")
		}
		replies, err := b.Run(ctx, in.Tenant, in.Command)
		if err != nil {
			return nil, runOutput{}, err
		}
		if replies == nil {
			replies = []string{}
		}
		return textResult(strings.Join(replies, "\n")), runOutput{Replies: replies}, nil
	})

	sdk.AddTool(srv, &sdk.Tool{
		Name:        ToolListSessions,
		Description: "List open voice sessions",
	}, func(ctx context.Context, _ *sdk.CallToolRequest, _ listInput) (*sdk.CallToolResult, listOutput, error) {
		out := listOutput{Sessions: b.Sessions()}
		if out.Sessions == nil {
			out.Sessions = []SessionInfo{}
		}
		return jsonResult(out), out, nil
	})

	sdk.AddTool(srv, &sdk.Tool{
		Name:        ToolQueue,
		Description: "Show the current track and queue of a tenant",
	}, func(ctx context.Context, _ *sdk.CallToolRequest, in queueInput) (*sdk.CallToolResult, QueueInfo, error) {
		q, err := b.Queue(in.Tenant)
		if err != nil {
			return nil, QueueInfo{}, err
		}
		return textResult(q.Text), q, nil
	})

	return &Server{srv: srv}
}

// ServeHTTP upgrades the request and serves one MCP session until the
// client disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warnw("mcp: websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	t := newWebSocketTransport(conn)
	ss, err := s.srv.Connect(context.Background(), t, nil)
	if err != nil {
		logging.Errorw("mcp: server connect failed", "err", err)
		_ = conn.Close()
		return
	}
	logging.Infow("mcp: session started", "session_id", t.id, "remote", r.RemoteAddr)
	if err := ss.Wait(); err != nil {
		logging.Debugw("mcp: session ended", "session_id", t.id, "err", err)
		return
	}
	logging.Infow("mcp: session ended", "session_id", t.id)
}

func textResult(text string) *sdk.CallToolResult {
	return &sdk.CallToolResult{Content: []sdk.Content{&sdk.TextContent{Text: text}}}
}

func jsonResult(v any) *sdk.CallToolResult {
	b, err := json.Marshal(v)
	if err != nil {
		return textResult(err.Error())
	}
	return textResult(string(b))
}
