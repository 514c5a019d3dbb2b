// Command jukeboxctl drives a running bot through its MCP endpoint.
//
//	jukeboxctl [-url ws://host:8080/mcp/ws] list
//	jukeboxctl -tenant <guild id> queue
//	jukeboxctl -tenant <guild id> run play daft punk
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/discord-voice-lab/jukebox/internal/logging"
	"github.com/discord-voice-lab/jukebox/internal/mcp"
)

func main() {
	url := flag.String("url", envOr("JUKEBOX_MCP_URL", "ws://localhost:8080/mcp/ws"), "MCP websocket endpoint")
	tenant := flag.String("tenant", "", "guild id for queue and run")
	timeout := flag.Duration("timeout", 15*time.Second, "overall timeout")
	flag.Parse()
	logging.Init()

	tool, args, err := toolCall(flag.Args(), *tenant)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	c := mcp.NewClient("jukeboxctl", "dev")
	if err := c.Connect(ctx, *url); err != nil {
		logging.FatalExitf("connect failed", "url", *url, "err", err)
	}
	defer func() { _ = c.Close() }()

	out, err := c.CallText(ctx, tool, args)
	if err != nil {
		logging.FatalExitf("call failed", "tool", tool, "err", err)
	}
	fmt.Println(out)
}

// toolCall maps command line arguments to a tool and its arguments.
func toolCall(argv []string, tenant string) (string, map[string]any, error) {
	if len(argv) == 0 {
		return "", nil, fmt.Errorf("missing subcommand: list, queue or run")
	}
	switch argv[0] {
	case "list":
		return mcp.ToolListSessions, map[string]any{}, nil
	case "queue":
		if tenant == "" {
			return "", nil, fmt.Errorf("queue needs -tenant")
		}
		return mcp.ToolQueue, map[string]any{"tenant": tenant}, nil
	case "run":
		if tenant == "" || len(argv) < 2 {
			return "", nil, fmt.Errorf("run needs -tenant and a command")
		}
		return mcp.ToolRunCommand, map[string]any{"tenant": tenant, "command": strings.Join(argv[1:], " ")}, nil
	}
	return "", nil, fmt.Errorf("unknown subcommand %q", argv[0])
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
