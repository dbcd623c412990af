// Package chat defines the conversation records shared by the controller,
// the session store and the UI.
package chat

import (
	"crypto/rand"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	// TitleLimit is the number of characters of the first user message kept in a title.
	TitleLimit = 25

	// DefaultTitle names a session that has no user message yet.
	DefaultTitle = "New Chat"

	// PlaceholderLogo is the logo reference given to every source card.
	PlaceholderLogo = "/api/placeholder/24/24"

	// SourceBrief is the description attached to sources returned by the service.
	SourceBrief = "This link was provided by the AI response."
)

// Message is one entry in a conversation. Messages are never edited after
// they are appended.
type Message struct {
	Text    string       `json:"text"`
	IsUser  bool         `json:"isUser"`
	Sources []SourceCard `json:"sources,omitempty"`
}

// SourceCard is a link attached to a bot reply. ID is the 1-based position
// within that reply.
type SourceCard struct {
	ID      int    `json:"id"`
	Title   string `json:"title"`
	URL     string `json:"url"`
	Domain  string `json:"domain"`
	LogoRef string `json:"logo"`
	Brief   string `json:"brief,omitempty"`
}

// Session is a titled conversation as persisted by the session store.
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Link is a raw item returned by the answering service.
type Link struct {
	Name string
	URL  string
}

// UserMessage returns a message typed by the user.
func UserMessage(text string) Message {
	return Message{Text: text, IsUser: true}
}

// BotMessage returns a reply message with optional sources.
func BotMessage(text string, sources []SourceCard) Message {
	return Message{Text: text, Sources: sources}
}

// Title derives a session title from the first user message.
// Returns DefaultTitle and false when there is none yet.
func Title(messages []Message) (string, bool) {
	for _, m := range messages {
		if !m.IsUser {
			continue
		}
		runes := []rune(m.Text)
		if len(runes) <= TitleLimit {
			return m.Text, true
		}
		return string(runes[:TitleLimit]) + "...", true
	}
	return DefaultTitle, false
}

// LastBotMessage returns the most recent reply in messages.
func LastBotMessage(messages []Message) (Message, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		if !messages[i].IsUser {
			return messages[i], true
		}
	}
	return Message{}, false
}

// Sources converts service links into source cards. A link without an
// absolute URL makes the whole payload invalid.
func Sources(links []Link) ([]SourceCard, error) {
	if len(links) == 0 {
		return nil, nil
	}
	cards := make([]SourceCard, 0, len(links))
	for i, l := range links {
		u, err := url.Parse(strings.TrimSpace(l.URL))
		if err != nil {
			return nil, fmt.Errorf("parse source %d: %w", i+1, err)
		}
		if u.Scheme == "" || u.Hostname() == "" {
			return nil, fmt.Errorf("parse source %d: %q is not an absolute URL", i+1, l.URL)
		}
		cards = append(cards, SourceCard{
			ID:      i + 1,
			Title:   l.Name,
			URL:     l.URL,
			Domain:  u.Hostname(),
			LogoRef: PlaceholderLogo,
			Brief:   SourceBrief,
		})
	}
	return cards, nil
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewSessionID returns a time-ordered identifier. IDs created within the
// same millisecond still sort in creation order.
func NewSessionID(now time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), entropy).String()
}
