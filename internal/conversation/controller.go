// Package conversation drives one chat: it appends messages, asks the
// answering service, persists the session on every change and hands replies
// to the typewriter.
package conversation

import (
	"context"
	"log/slog"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/jwulff/smartsearch/internal/answer"
	"github.com/jwulff/smartsearch/internal/chat"
	"github.com/jwulff/smartsearch/internal/logging"
	"github.com/jwulff/smartsearch/internal/typewriter"
)

const (
	// FallbackText replaces a reply the service sent without text.
	FallbackText = "I'm not sure how to respond."

	// ApologyText is shown when the service could not be reached or answered badly.
	ApologyText = "Sorry, I couldn't process that request."
)

// Answerer asks the remote answering service a question.
type Answerer interface {
	Ask(ctx context.Context, question string) (answer.Reply, error)
}

// SessionStore persists sessions. Save never fails from the caller's view.
type SessionStore interface {
	Save(session chat.Session)
	LoadByID(id string) (chat.Session, bool)
}

// ReplyMsg carries the outcome of one Ask back into the update loop. Seq
// identifies the Send that produced it.
type ReplyMsg struct {
	SessionID string
	Seq       int
	Reply     answer.Reply
	Err       error
}

// Controller owns the in-memory message list of the active session.
type Controller struct {
	answerer Answerer
	store    SessionStore
	log      *slog.Logger
	now      func() time.Time

	sessionID string
	title     string
	titled    bool
	messages  []chat.Message
	busy      bool
	seq       int
	cancel    context.CancelFunc

	typewriter typewriter.Model
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Controller) {
		if log != nil {
			c.log = log
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// WithTypewriterInterval sets the reveal speed.
func WithTypewriterInterval(d time.Duration) Option {
	return func(c *Controller) {
		c.typewriter = typewriter.New(d)
	}
}

// New returns a Controller with an empty session.
func New(answerer Answerer, store SessionStore, opts ...Option) Controller {
	c := Controller{
		answerer:   answerer,
		store:      store,
		log:        logging.Discard(),
		now:        time.Now,
		typewriter: typewriter.New(typewriter.DefaultInterval),
	}
	for _, opt := range opts {
		opt(&c)
	}
	c.log = c.log.With("component", "conversation")
	c.sessionID = chat.NewSessionID(c.now())
	c.title = chat.DefaultTitle
	return c
}

// Send appends text as a user message and returns the command that asks the
// service. Blank text and calls while a request is in flight do nothing.
func (c *Controller) Send(text string) tea.Cmd {
	if strings.TrimSpace(text) == "" || c.busy {
		return nil
	}

	c.append(chat.UserMessage(text))
	c.busy = true
	c.seq++

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	answerer, id, seq, log := c.answerer, c.sessionID, c.seq, c.log
	log.Info("sending question", "session", id, "seq", seq, "chars", len(text))
	return func() tea.Msg {
		defer cancel()
		reply, err := answerer.Ask(ctx, text)
		return ReplyMsg{SessionID: id, Seq: seq, Reply: reply, Err: err}
	}
}

// Update handles replies and typewriter ticks.
func (c *Controller) Update(msg tea.Msg) tea.Cmd {
	switch msg := msg.(type) {
	case ReplyMsg:
		return c.handleReply(msg)
	case typewriter.TickMsg:
		return c.typewriter.Update(msg)
	}
	return nil
}

func (c *Controller) handleReply(msg ReplyMsg) tea.Cmd {
	if msg.SessionID != c.sessionID {
		c.log.Debug("dropping reply for inactive session", "session", msg.SessionID)
		return nil
	}
	// A reply to a request cancelled by LoadSession still carries the
	// session id; only the latest Send may complete the busy state.
	if !c.busy || msg.Seq != c.seq {
		c.log.Debug("dropping stale reply", "session", msg.SessionID, "seq", msg.Seq)
		return nil
	}
	c.busy = false
	c.cancel = nil

	if msg.Err != nil {
		c.log.Warn("answer failed", "session", c.sessionID, "error", msg.Err)
		c.append(chat.BotMessage(ApologyText, nil))
		c.typewriter.Reveal(ApologyText)
		return nil
	}

	sources, err := chat.Sources(msg.Reply.Links)
	if err != nil {
		c.log.Warn("malformed answer", "session", c.sessionID, "error", err)
		c.append(chat.BotMessage(ApologyText, nil))
		c.typewriter.Reveal(ApologyText)
		return nil
	}

	text := msg.Reply.Text
	if text == "" {
		text = FallbackText
	}
	c.append(chat.BotMessage(text, sources))
	return c.typewriter.Start(text)
}

// Refresh starts a new, empty session. The previous session stays in the store.
func (c *Controller) Refresh() {
	c.abort()
	c.messages = nil
	c.busy = false
	c.typewriter.Reset()
	c.sessionID = chat.NewSessionID(c.now())
	c.title = chat.DefaultTitle
	c.titled = false
	c.log.Info("session refreshed", "session", c.sessionID)
}

// LoadSession replaces the active session with a saved one. The latest reply
// is shown fully revealed. Returns false when id is unknown.
func (c *Controller) LoadSession(id string) bool {
	sess, ok := c.store.LoadByID(id)
	if !ok {
		return false
	}

	c.abort()
	c.busy = false
	c.sessionID = sess.ID
	c.title, c.titled = sess.Title, true
	if c.title == "" {
		c.title, c.titled = chat.Title(sess.Messages)
	}

	if bot, ok := chat.LastBotMessage(sess.Messages); ok {
		c.typewriter.Reveal(bot.Text)
	} else {
		c.typewriter.Reset()
	}

	c.messages = append([]chat.Message(nil), sess.Messages...)
	c.persist()
	c.log.Info("session loaded", "session", id, "messages", len(c.messages))
	return true
}

func (c *Controller) append(m chat.Message) {
	c.messages = append(c.messages, m)
	c.persist()
}

func (c *Controller) persist() {
	if len(c.messages) == 0 {
		return
	}
	if !c.titled {
		c.title, c.titled = chat.Title(c.messages)
	}
	c.store.Save(chat.Session{
		ID:        c.sessionID,
		Title:     c.title,
		Messages:  append([]chat.Message(nil), c.messages...),
		UpdatedAt: c.now(),
	})
}

func (c *Controller) abort() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

// Messages returns a copy of the message list.
func (c Controller) Messages() []chat.Message {
	return append([]chat.Message(nil), c.messages...)
}

// Len returns the number of messages.
func (c Controller) Len() int {
	return len(c.messages)
}

// Busy reports whether a request is in flight.
func (c Controller) Busy() bool {
	return c.busy
}

// SessionID returns the active session id.
func (c Controller) SessionID() string {
	return c.sessionID
}

// Title returns the active session title.
func (c Controller) Title() string {
	return c.title
}

// Typewriter returns the renderer state.
func (c Controller) Typewriter() typewriter.Model {
	return c.typewriter
}

// DisplayText returns the text to show for message i: the typewriter prefix
// for a trailing bot reply, the full text otherwise.
func (c Controller) DisplayText(i int) string {
	if i < 0 || i >= len(c.messages) {
		return ""
	}
	m := c.messages[i]
	if i == len(c.messages)-1 && !m.IsUser && c.typewriter.Target() == m.Text {
		return c.typewriter.View()
	}
	return m.Text
}
