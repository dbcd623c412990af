// Package history exposes saved chat sessions read-only, both as a plain
// listing and as an MCP server for assistants running alongside.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jwulff/smartsearch/internal/chat"
	"github.com/jwulff/smartsearch/internal/logging"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Source reads persisted sessions.
type Source interface {
	LoadAll() []chat.Session
	LoadByID(id string) (chat.Session, bool)
}

// Summary is one line of the session listing.
type Summary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  int       `json:"messages"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Summarize lists sessions most recent first, as stored.
func Summarize(sessions []chat.Session) []Summary {
	out := make([]Summary, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, Summary{ID: s.ID, Title: s.Title, Messages: len(s.Messages), UpdatedAt: s.UpdatedAt})
	}
	return out
}

// WriteList prints a table of sessions with times relative to now.
func WriteList(w io.Writer, sessions []chat.Session, now time.Time) error {
	if len(sessions) == 0 {
		_, err := fmt.Fprintln(w, "No saved chats.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tMESSAGES\tUPDATED")
	for _, s := range Summarize(sessions) {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", s.ID, s.Title, s.Messages, humanize.RelTime(s.UpdatedAt, now, "ago", "from now"))
	}
	return tw.Flush()
}

// Server serves the saved sessions over MCP.
type Server struct {
	src Source
	log *slog.Logger
	mcp *server.MCPServer
}

// NewServer registers the list_sessions and get_session tools.
func NewServer(src Source, version string, log *slog.Logger) *Server {
	if log == nil {
		log = logging.Discard()
	}
	s := &Server{
		src: src,
		log: log.With("component", "history"),
		mcp: server.NewMCPServer("smartsearch-history", version, server.WithToolCapabilities(false)),
	}

	s.mcp.AddTool(mcp.NewTool("list_sessions",
		mcp.WithDescription("List saved SmartSearch chats, most recently updated first."),
		mcp.WithNumber("limit", mcp.Description("Maximum number of chats to return.")),
	), s.handleList)

	s.mcp.AddTool(mcp.NewTool("get_session",
		mcp.WithDescription("Return one saved chat with all of its messages and sources."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Chat id from list_sessions.")),
	), s.handleGet)

	return s
}

// MCPServer returns the underlying server.
func (s *Server) MCPServer() *server.MCPServer { return s.mcp }

// ServeStdio blocks serving MCP on stdin/stdout.
func (s *Server) ServeStdio() error {
	s.log.Info("serving history over stdio")
	return server.ServeStdio(s.mcp)
}

func (s *Server) handleList(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	summaries := Summarize(s.src.LoadAll())
	if limit := req.GetInt("limit", 0); limit > 0 && limit < len(summaries) {
		summaries = summaries[:limit]
	}
	return jsonResult(summaries)
}

func (s *Server) handleGet(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	sess, ok := s.src.LoadByID(id)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("no saved chat with id %q", id)), nil
	}
	return jsonResult(sess)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
