package mcpctl

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/earshot/internal/logging"
	"github.com/earshot/internal/web"
)

// Server binds the MCP toolset to incoming websocket sessions. It reuses the
// panel's Controller so both control surfaces act on the same pipeline.
type Server struct {
	ctrl     web.Controller
	mcp      *mcp.Server
	upgrader websocket.Upgrader
}

func NewServer(ctrl web.Controller) *Server {
	s := &Server{
		ctrl: ctrl,
		mcp:  mcp.NewServer(&mcp.Implementation{Name: "earshot", Version: "1.0.0"}, nil),
	}
	s.registerTools()
	return s
}

type setKeywordsArgs struct {
	Keywords []string `json:"keywords"`
}

type setThresholdArgs struct {
	Threshold float64 `json:"threshold"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "status",
		Description: "Current monitor state: mode, watched keywords, recognizer session, cooldown",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args struct{}) (*mcp.CallToolResult, any, error) {
		data, err := json.Marshal(s.ctrl.Status())
		if err != nil {
			return nil, nil, err
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, nil, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "set_keywords",
		Description: "Replace the watched keyword set; semantic modes re-embed immediately",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args setKeywordsArgs) (*mcp.CallToolResult, any, error) {
		if len(args.Keywords) == 0 {
			return nil, nil, fmt.Errorf("keywords must not be empty")
		}
		if err := s.ctrl.SetKeywords(ctx, args.Keywords); err != nil {
			return nil, nil, err
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("watching %d keywords", len(args.Keywords))}},
		}, nil, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "set_threshold",
		Description: "Adjust the semantic similarity threshold, within [0, 1]",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args setThresholdArgs) (*mcp.CallToolResult, any, error) {
		if args.Threshold < 0 || args.Threshold > 1 {
			return nil, nil, fmt.Errorf("threshold must be within [0, 1]")
		}
		if err := s.ctrl.SetThreshold(args.Threshold); err != nil {
			return nil, nil, err
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("threshold set to %.2f", args.Threshold)}},
		}, nil, nil
	})
}

// Handler upgrades agent connections and runs one MCP session per socket.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			logging.Warnw("mcp upgrade failed", "remote", r.RemoteAddr, "error", err)
			return
		}
		go func() {
			session, err := s.mcp.Connect(context.Background(), NewWebSocketTransport(conn), nil)
			if err != nil {
				logging.Errorw("mcp connect failed", "error", err)
				conn.Close()
				return
			}
			if err := session.Wait(); err != nil {
				logging.Debugw("mcp session ended", "error", err)
			}
		}()
	})
}
