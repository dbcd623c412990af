package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// SocketPath returns the default daemon socket path.
func SocketPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".smartsearch", "speech.sock")
}

// ErrClosed is returned when the daemon closes the connection.
var ErrClosed = errors.New("connection closed")

// lineConn moves one JSON document at a time.
type lineConn interface {
	WriteLine(data []byte) error
	ReadLine() ([]byte, error)
	Close() error
}

// Client communicates with the speech daemon.
type Client struct {
	conn lineConn
	mu   sync.Mutex
}

// Connect dials the daemon Unix socket.
func Connect(socketPath string) (*Client, error) {
	return DialContext(context.Background(), socketPath)
}

// DialContext connects to addr, which is a socket path, a unix:// URL or a
// ws:// / wss:// URL.
func DialContext(ctx context.Context, addr string) (*Client, error) {
	switch {
	case strings.HasPrefix(addr, "ws://"), strings.HasPrefix(addr, "wss://"):
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, addr, nil)
		if err != nil {
			return nil, fmt.Errorf("connect to daemon: %w", err)
		}
		return &Client{conn: &wsConn{conn: conn}}, nil
	default:
		path := strings.TrimPrefix(addr, "unix://")
		var d net.Dialer
		conn, err := d.DialContext(ctx, "unix", path)
		if err != nil {
			return nil, fmt.Errorf("connect to daemon: %w", err)
		}
		scanner := bufio.NewScanner(conn)
		scanner.Buffer(make([]byte, 1024*1024), 1024*1024) // 1MB buffer
		return &Client{conn: &socketConn{conn: conn, scanner: scanner}}, nil
	}
}

// Close shuts down the connection.
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// SendCommand sends a command and reads one response line.
func (c *Client) SendCommand(cmd Command) (Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := json.Marshal(cmd)
	if err != nil {
		return Response{}, fmt.Errorf("marshal command: %w", err)
	}

	if err := c.conn.WriteLine(data); err != nil {
		return Response{}, fmt.Errorf("write command: %w", err)
	}

	line, err := c.conn.ReadLine()
	if err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}

	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return Response{}, fmt.Errorf("unmarshal response: %w", err)
	}

	return resp, nil
}

// Send writes a command without waiting for a response. It is used on
// connections that are already streaming events.
func (c *Client) Send(cmd Command) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	if err := c.conn.WriteLine(data); err != nil {
		return fmt.Errorf("write command: %w", err)
	}
	return nil
}

// ReadEvent reads the next event. Blocks until data arrives.
// After open_mic or recognize, use this in a loop to receive events.
func (c *Client) ReadEvent() (Event, error) {
	line, err := c.conn.ReadLine()
	if err != nil {
		return Event{}, fmt.Errorf("read event: %w", err)
	}

	var ev Event
	if err := json.Unmarshal(line, &ev); err != nil {
		return Event{}, fmt.Errorf("unmarshal event: %w", err)
	}

	return ev, nil
}

type socketConn struct {
	conn    net.Conn
	scanner *bufio.Scanner
}

func (s *socketConn) WriteLine(data []byte) error {
	_, err := s.conn.Write(append(data, '\n'))
	return err
}

func (s *socketConn) ReadLine() ([]byte, error) {
	if !s.scanner.Scan() {
		if err := s.scanner.Err(); err != nil {
			return nil, err
		}
		return nil, ErrClosed
	}
	return s.scanner.Bytes(), nil
}

func (s *socketConn) Close() error {
	return s.conn.Close()
}

// wsConn allows one reader and one writer at a time, as gorilla requires.
type wsConn struct {
	conn *websocket.Conn
	wmu  sync.Mutex
}

func (w *wsConn) WriteLine(data []byte) error {
	w.wmu.Lock()
	defer w.wmu.Unlock()
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (w *wsConn) ReadLine() ([]byte, error) {
	for {
		kind, data, err := w.conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				return nil, ErrClosed
			}
			return nil, err
		}
		if kind == websocket.TextMessage {
			return data, nil
		}
	}
}

func (w *wsConn) Close() error {
	w.wmu.Lock()
	defer w.wmu.Unlock()
	_ = w.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return w.conn.Close()
}
