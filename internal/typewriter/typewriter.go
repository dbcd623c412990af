// Package typewriter reveals an already-known reply one character per tick.
package typewriter

import (
	"context"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// DefaultInterval is the delay between revealed characters.
const DefaultInterval = 20 * time.Millisecond

var lastID int64

func nextID() int {
	return int(atomic.AddInt64(&lastID, 1))
}

// TickMsg advances a Model by one character. Ticks from another Model or
// from a previous target are ignored.
type TickMsg struct {
	id  int
	gen int
}

// Model tracks the reveal position for a single target string.
type Model struct {
	id       int
	gen      int
	interval time.Duration
	target   []rune
	pos      int
}

// New returns an idle Model. A non-positive interval uses DefaultInterval.
func New(interval time.Duration) Model {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return Model{id: nextID(), interval: interval}
}

// Start switches to target and reveals it from the first character.
// Pending ticks for the previous target become stale.
func (m *Model) Start(target string) tea.Cmd {
	m.gen++
	m.target = []rune(target)
	m.pos = 0
	if len(m.target) == 0 {
		return nil
	}
	return m.tick()
}

// Reveal switches to target already fully shown, without animation.
func (m *Model) Reveal(target string) {
	m.gen++
	m.target = []rune(target)
	m.pos = len(m.target)
}

// Stop cancels pending ticks and leaves the current prefix in place.
func (m *Model) Stop() {
	m.gen++
}

// Reset cancels pending ticks and clears the target.
func (m *Model) Reset() {
	m.gen++
	m.target = nil
	m.pos = 0
}

// Update handles TickMsg and schedules the next tick while characters remain.
func (m *Model) Update(msg tea.Msg) tea.Cmd {
	tick, ok := msg.(TickMsg)
	if !ok || tick.id != m.id || tick.gen != m.gen {
		return nil
	}
	if m.pos < len(m.target) {
		m.pos++
	}
	if m.pos >= len(m.target) {
		return nil
	}
	return m.tick()
}

func (m Model) tick() tea.Cmd {
	id, gen := m.id, m.gen
	return tea.Tick(m.interval, func(time.Time) tea.Msg {
		return TickMsg{id: id, gen: gen}
	})
}

// View returns the revealed prefix.
func (m Model) View() string {
	return string(m.target[:m.pos])
}

// Target returns the full string being revealed.
func (m Model) Target() string {
	return string(m.target)
}

// Pos returns the number of characters revealed.
func (m Model) Pos() int {
	return m.pos
}

// Done reports whether the whole target is visible.
func (m Model) Done() bool {
	return m.pos >= len(m.target)
}

// Stream emits successive prefixes of target, one character longer every
// interval, and closes the channel after the full string or when ctx ends.
func Stream(ctx context.Context, target string, interval time.Duration) <-chan string {
	if interval <= 0 {
		interval = DefaultInterval
	}
	out := make(chan string)
	runes := []rune(target)

	go func() {
		defer close(out)
		if len(runes) == 0 {
			return
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for pos := 1; pos <= len(runes); pos++ {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			select {
			case <-ctx.Done():
				return
			case out <- string(runes[:pos]):
			}
		}
	}()

	return out
}
