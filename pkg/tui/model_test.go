package tui

import (
	"path/filepath"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astromechza/timeline/pkg/localcache"
	"github.com/astromechza/timeline/pkg/remote"
	"github.com/astromechza/timeline/pkg/session"
	"github.com/astromechza/timeline/pkg/timeline"
)

func newTestModel(t *testing.T) (Model, *session.Session) {
	t.Helper()
	c, err := localcache.Open(filepath.Join(t.TempDir(), "cache.sqlite3"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	s := session.New(c, nil, session.Options{})
	t.Cleanup(s.Close)
	return New(s), s
}

func press(t *testing.T, m Model, keys ...tea.KeyMsg) Model {
	t.Helper()
	for _, k := range keys {
		next, _ := m.Update(k)
		m = next.(Model)
	}
	return m
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

var (
	enter = tea.KeyMsg{Type: tea.KeyEnter}
	tab   = tea.KeyMsg{Type: tea.KeyTab}
	down  = tea.KeyMsg{Type: tea.KeyDown}
)

func TestEditTitleInline(t *testing.T) {
	m, s := newTestModel(t)
	m = press(t, m, down, runes("t"))
	require.Equal(t, modeEdit, m.mode)
	assert.Equal(t, timeline.Defaults()[1].Title, m.input.Value())

	m.input.SetValue("")
	m = press(t, m, runes("Renamed"), enter)
	assert.Equal(t, modeList, m.mode)
	assert.Equal(t, "Renamed", s.Entries()[1].Title)
	assert.Equal(t, "Renamed", m.entries[1].Title)
	assert.True(t, s.PendingWrite())
}

func TestMoveEntryDown(t *testing.T) {
	m, s := newTestModel(t)
	first := timeline.Defaults()[0]
	m = press(t, m, runes("J"))
	assert.Equal(t, 1, m.cursor)
	assert.Equal(t, first, s.Entries()[1])
}

func TestAddModalValidatesAndAppends(t *testing.T) {
	m, s := newTestModel(t)
	m = press(t, m, runes("a"), runes("🎉"), enter)
	assert.Equal(t, modeAdd, m.mode)
	assert.Equal(t, "Fill all fields!", m.addError)
	assert.Len(t, s.Entries(), len(timeline.Defaults()))

	m = press(t, m, tab, runes("Test"), tab, runes("01.01.2026"), enter)
	assert.Equal(t, modeList, m.mode)
	entries := s.Entries()
	require.Len(t, entries, len(timeline.Defaults())+1)
	assert.Equal(t, timeline.Entry{Emoji: "🎉", Title: "Test", Date: "01.01.2026"}, entries[len(entries)-1])
	assert.Equal(t, len(entries)-1, m.cursor)
}

func TestResetNeedsConfirmation(t *testing.T) {
	m, s := newTestModel(t)
	require.NoError(t, s.OnReorder(0, 3))

	m = press(t, m, runes("r"), runes("n"))
	assert.NotEqual(t, timeline.Defaults(), s.Entries())

	m = press(t, m, runes("r"), runes("y"))
	assert.Equal(t, timeline.Defaults(), s.Entries())
	assert.Equal(t, "Timeline reset", m.status)
}

func TestSessionMessagesUpdateView(t *testing.T) {
	m, _ := newTestModel(t)
	next, _ := m.Update(refreshMsg{entries: []timeline.Entry{{Emoji: "x", Title: "only", Date: "d"}}})
	m = next.(Model)
	next, _ = m.Update(statusMsg{text: "Shared with foo@bar.com"})
	m = next.(Model)
	next, _ = m.Update(identityMsg{id: &remote.Identity{UID: "u", Email: "me@example.com"}})
	m = next.(Model)

	view := m.View()
	assert.Contains(t, view, "only")
	assert.Contains(t, view, "Shared with foo@bar.com")
	assert.Contains(t, view, "me@example.com")
}

func TestEscapeCancelsPrompt(t *testing.T) {
	m, _ := newTestModel(t)
	m = press(t, m, runes("s"))
	assert.Equal(t, modePrompt, m.mode)
	m = press(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	assert.Equal(t, modeList, m.mode)
}
