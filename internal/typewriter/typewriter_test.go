package typewriter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// drive feeds current-generation ticks until the model stops scheduling.
func drive(t *testing.T, m *Model, limit int) []int {
	t.Helper()
	var positions []int
	for i := 0; i < limit; i++ {
		cmd := m.Update(TickMsg{id: m.id, gen: m.gen})
		positions = append(positions, m.Pos())
		if cmd == nil {
			return positions
		}
	}
	t.Fatalf("reveal did not finish within %d ticks", limit)
	return nil
}

func TestStartRevealsMonotonically(t *testing.T) {
	m := New(time.Millisecond)
	cmd := m.Start("Here you go")
	require.NotNil(t, cmd)
	assert.Equal(t, 0, m.Pos())
	assert.Equal(t, "", m.View())

	positions := drive(t, &m, 100)

	for i := 1; i < len(positions); i++ {
		assert.GreaterOrEqual(t, positions[i], positions[i-1])
	}
	assert.Equal(t, len("Here you go"), m.Pos())
	assert.Len(t, positions, len("Here you go"))
	assert.Equal(t, "Here you go", m.View())
	assert.True(t, m.Done())
}

func TestStartEmptyTarget(t *testing.T) {
	m := New(0)
	assert.Nil(t, m.Start(""))
	assert.True(t, m.Done())
}

func TestRetargetResetsAndIgnoresStaleTicks(t *testing.T) {
	m := New(time.Millisecond)
	m.Start("first reply")
	stale := TickMsg{id: m.id, gen: m.gen}
	m.Update(stale)
	m.Update(TickMsg{id: m.id, gen: m.gen})
	require.Equal(t, 2, m.Pos())

	m.Start("second")
	assert.Equal(t, 0, m.Pos())
	assert.Equal(t, "second", m.Target())

	assert.Nil(t, m.Update(stale))
	assert.Equal(t, 0, m.Pos())
}

func TestTicksFromOtherModelIgnored(t *testing.T) {
	a := New(time.Millisecond)
	b := New(time.Millisecond)
	a.Start("abc")
	b.Start("xyz")

	assert.Nil(t, a.Update(TickMsg{id: b.id, gen: b.gen}))
	assert.Equal(t, 0, a.Pos())
}

func TestRevealSkipsAnimation(t *testing.T) {
	m := New(time.Millisecond)
	m.Start("old")
	pending := TickMsg{id: m.id, gen: m.gen}

	m.Reveal("loaded from history")

	assert.Equal(t, "loaded from history", m.View())
	assert.True(t, m.Done())
	assert.Nil(t, m.Update(pending))
}

func TestStopAndReset(t *testing.T) {
	m := New(time.Millisecond)
	m.Start("abcdef")
	m.Update(TickMsg{id: m.id, gen: m.gen})
	pending := TickMsg{id: m.id, gen: m.gen}

	m.Stop()
	assert.Nil(t, m.Update(pending))
	assert.Equal(t, "a", m.View())

	m.Reset()
	assert.Equal(t, "", m.View())
	assert.Equal(t, "", m.Target())
}

func TestRevealCountsRunes(t *testing.T) {
	m := New(time.Millisecond)
	m.Start("héllo")
	positions := drive(t, &m, 10)
	assert.Len(t, positions, 5)
	assert.Equal(t, "héllo", m.View())
}

func TestStream(t *testing.T) {
	var got []string
	for p := range Stream(context.Background(), "abc", time.Millisecond) {
		got = append(got, p)
	}
	assert.Equal(t, []string{"a", "ab", "abc"}, got)
}

func TestStreamCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := Stream(ctx, "a long reply that will not finish", time.Millisecond)

	first := <-ch
	assert.Equal(t, "a", first)
	cancel()

	// Drain: the channel must close without delivering the full string.
	var last string
	for p := range ch {
		last = p
	}
	assert.NotEqual(t, "a long reply that will not finish", last)
}
