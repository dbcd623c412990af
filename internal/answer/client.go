// Package answer is the client for the remote answering service: one JSON
// POST per question, one reply with optional product links.
package answer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/jwulff/smartsearch/internal/chat"
	"github.com/jwulff/smartsearch/internal/logging"
)

// DefaultEndpoint is the local development backend.
const DefaultEndpoint = "http://127.0.0.1:5000/get_product_suggestions"

// ErrMalformedResponse is returned when the reply body is not the expected JSON shape.
var ErrMalformedResponse = errors.New("malformed response")

// StatusError is returned for non-2xx replies.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("answering service returned %d", e.Code)
	}
	return fmt.Sprintf("answering service returned %d: %s", e.Code, e.Body)
}

// Reply is a decoded service response. Text is empty when the service omitted it.
type Reply struct {
	Text  string
	Links []chat.Link
}

// Client posts questions to the answering service.
type Client struct {
	endpoint string
	field    string
	http     *http.Client
	log      *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithRequestField sets the JSON key carrying the question ("question" or "message").
func WithRequestField(field string) Option {
	return func(c *Client) {
		if field != "" {
			c.field = field
		}
	}
}

// WithTimeout bounds each request.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// New creates a client for endpoint.
func New(endpoint string, opts ...Option) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	hc := cleanhttp.DefaultPooledClient()
	hc.Timeout = 60 * time.Second
	c := &Client{
		endpoint: endpoint,
		field:    "question",
		http:     hc,
		log:      logging.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With("component", "answer")
	return c
}

// Ask sends question as a single POST and decodes the reply. Network errors,
// non-2xx statuses and malformed bodies are all returned as errors; there is
// no retry.
func (c *Client) Ask(ctx context.Context, question string) (Reply, error) {
	body, err := json.Marshal(map[string]string{c.field: question})
	if err != nil {
		return Reply{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Reply{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return Reply{}, fmt.Errorf("post question: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return Reply{}, fmt.Errorf("read response: %w", err)
	}
	c.log.Debug("answer received", "status", resp.StatusCode, "bytes", len(data), "elapsed", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Reply{}, &StatusError{Code: resp.StatusCode, Body: truncate(string(bytes.TrimSpace(data)), 200)}
	}

	return decode(data)
}

// wireResponse accepts both the canonical field names and the ones used by
// the product-suggestion backend.
type wireResponse struct {
	ResponseText       *string     `json:"responseText"`
	AISalesmanResponse *string     `json:"ai_salesman_response"`
	Items              *[]wireItem `json:"items"`
	ProductItems       *[]wireItem `json:"product_items"`
}

type wireItem struct {
	Name        string `json:"name"`
	Link        string `json:"link"`
	ProductName string `json:"product_name"`
	ProductLink string `json:"product_link"`
}

func decode(data []byte) (Reply, error) {
	if trimmed := bytes.TrimSpace(data); len(trimmed) == 0 || trimmed[0] != '{' {
		return Reply{}, fmt.Errorf("%w: body is not a JSON object", ErrMalformedResponse)
	}

	var w wireResponse
	if err := json.Unmarshal(data, &w); err != nil {
		return Reply{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	var r Reply
	switch {
	case w.ResponseText != nil:
		r.Text = *w.ResponseText
	case w.AISalesmanResponse != nil:
		r.Text = *w.AISalesmanResponse
	}

	var items []wireItem
	switch {
	case w.Items != nil:
		items = *w.Items
	case w.ProductItems != nil:
		items = *w.ProductItems
	}
	for _, it := range items {
		l := chat.Link{Name: it.Name, URL: it.Link}
		if l.Name == "" {
			l.Name = it.ProductName
		}
		if l.URL == "" {
			l.URL = it.ProductLink
		}
		r.Links = append(r.Links, l)
	}
	return r, nil
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}
