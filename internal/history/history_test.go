package history

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/jwulff/smartsearch/internal/chat"
	"github.com/jwulff/smartsearch/internal/db"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func seededStore(t *testing.T) *db.Store {
	t.Helper()
	store, err := db.Open(filepath.Join(t.TempDir(), "history.sqlite"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	store.Save(chat.Session{
		ID: "a", Title: "Running shoes", UpdatedAt: base,
		Messages: []chat.Message{
			chat.UserMessage("Running shoes"),
			chat.BotMessage("Try these.", []chat.SourceCard{{ID: 1, Title: "Trail", URL: "https://shop.example.com/1", Domain: "shop.example.com"}}),
		},
	})
	store.Save(chat.Session{
		ID: "b", Title: "Rain jacket", UpdatedAt: base.Add(time.Hour),
		Messages: []chat.Message{chat.UserMessage("Rain jacket")},
	})
	return store
}

func callTool(t *testing.T, s *Server, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args

	var (
		res *mcp.CallToolResult
		err error
	)
	switch name {
	case "list_sessions":
		res, err = s.handleList(context.Background(), req)
	case "get_session":
		res, err = s.handleGet(context.Background(), req)
	default:
		t.Fatalf("unknown tool %s", name)
	}
	require.NoError(t, err)
	require.NotNil(t, res)
	return res
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "content is %T", res.Content[0])
	return text.Text
}

func TestListSessions(t *testing.T) {
	s := NewServer(seededStore(t), "test", nil)

	res := callTool(t, s, "list_sessions", nil)
	assert.False(t, res.IsError)

	var got []Summary
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ID)
	assert.Equal(t, "Running shoes", got[1].Title)
	assert.Equal(t, 2, got[1].Messages)
}

func TestListSessionsLimit(t *testing.T) {
	s := NewServer(seededStore(t), "test", nil)

	res := callTool(t, s, "list_sessions", map[string]any{"limit": 1})

	var got []Summary
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].ID)
}

func TestGetSession(t *testing.T) {
	s := NewServer(seededStore(t), "test", nil)

	res := callTool(t, s, "get_session", map[string]any{"id": "a"})
	assert.False(t, res.IsError)

	var got chat.Session
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &got))
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "shop.example.com", got.Messages[1].Sources[0].Domain)
}

func TestGetSessionErrors(t *testing.T) {
	s := NewServer(seededStore(t), "test", nil)

	assert.True(t, callTool(t, s, "get_session", map[string]any{"id": "missing"}).IsError)
	assert.True(t, callTool(t, s, "get_session", nil).IsError)
}

func TestWriteList(t *testing.T) {
	store := seededStore(t)

	var buf bytes.Buffer
	require.NoError(t, WriteList(&buf, store.LoadAll(), base.Add(3*time.Hour)))
	out := buf.String()

	assert.Contains(t, out, "Rain jacket")
	assert.Contains(t, out, "2 hours ago")
	assert.Contains(t, out, "3 hours ago")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("Rain jacket")), bytes.Index(buf.Bytes(), []byte("Running shoes")))
}

func TestWriteListEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteList(&buf, nil, base))
	assert.Equal(t, "No saved chats.\n", buf.String())
}
