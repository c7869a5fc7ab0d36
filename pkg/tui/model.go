// Package tui is the terminal editor for a timeline session.
package tui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/goccy/go-graphviz"

	"github.com/astromechza/timeline/pkg/remote"
	"github.com/astromechza/timeline/pkg/session"
	"github.com/astromechza/timeline/pkg/timeline"
	"github.com/astromechza/timeline/pkg/viz"
)

const opTimeout = 20 * time.Second

type mode int

const (
	modeList mode = iota
	modeEdit
	modeAdd
	modeConfirmReset
	modePrompt
)

type prompt int

const (
	promptSignIn prompt = iota
	promptShare
	promptLoadShared
)

var promptLabels = map[prompt]string{
	promptSignIn:     "Sign in as",
	promptShare:      "Share with",
	promptLoadShared: "Load timeline shared with",
}

// opDoneMsg reports a background session call. Status text normally arrives through
// the session view; text is only set when the call has no view side effect.
type opDoneMsg struct {
	text string
	err  error
}

type Model struct {
	session *session.Session

	entries  []timeline.Entry
	cursor   int
	status   string
	identity *remote.Identity
	width    int

	mode      mode
	editField timeline.Field
	prompt    prompt
	input     textinput.Model
	addInputs []textinput.Model
	addFocus  int
	addError  string
}

func New(s *session.Session) Model {
	m := Model{
		session:  s,
		entries:  s.Entries(),
		identity: s.Identity(),
		input:    newInput(""),
	}
	m.addInputs = []textinput.Model{newInput("emoji"), newInput("title"), newInput("dd.mm.yyyy")}
	return m
}

func newInput(placeholder string) textinput.Model {
	ti := textinput.New()
	ti.Placeholder = placeholder
	ti.CharLimit = 256
	return ti
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil
	case refreshMsg:
		m.entries = msg.entries
		m.clampCursor()
		return m, nil
	case statusMsg:
		m.status = msg.text
		return m, nil
	case identityMsg:
		m.identity = msg.id
		return m, nil
	case opDoneMsg:
		if msg.text != "" {
			m.status = msg.text
		}
		if msg.err != nil {
			slog.Warn("operation failed", "err", msg.err)
		}
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return m, tea.Quit
		}
		switch m.mode {
		case modeEdit, modePrompt:
			return m.updateInput(msg)
		case modeAdd:
			return m.updateAdd(msg)
		case modeConfirmReset:
			return m.updateConfirm(msg)
		}
		return m.updateList(msg)
	}
	return m, nil
}

func (m *Model) clampCursor() {
	if m.cursor >= len(m.entries) {
		m.cursor = len(m.entries) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

func (m *Model) reload() {
	m.entries = m.session.Entries()
	m.clampCursor()
}

func (m Model) updateList(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q":
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.entries)-1 {
			m.cursor++
		}
	case "K":
		if m.cursor > 0 && m.session.OnReorder(m.cursor, m.cursor-1) == nil {
			m.cursor--
			m.reload()
		}
	case "J":
		if m.cursor < len(m.entries)-1 && m.session.OnReorder(m.cursor, m.cursor+1) == nil {
			m.cursor++
			m.reload()
		}
	case "e", "t", "d":
		if len(m.entries) == 0 {
			return m, nil
		}
		field, _ := timeline.ParseField(map[string]string{"e": "emoji", "t": "title", "d": "date"}[msg.String()])
		m.editField = field
		m.input = newInput(string(field))
		m.input.SetValue(fieldValue(m.entries[m.cursor], field))
		m.input.Focus()
		m.mode = modeEdit
		return m, textinput.Blink
	case "a":
		for i := range m.addInputs {
			m.addInputs[i].SetValue("")
			m.addInputs[i].Blur()
		}
		m.addFocus = 0
		m.addError = ""
		m.addInputs[0].Focus()
		m.mode = modeAdd
		return m, textinput.Blink
	case "r":
		m.mode = modeConfirmReset
	case "s", "l", "i":
		m.prompt = map[string]prompt{"s": promptShare, "l": promptLoadShared, "i": promptSignIn}[msg.String()]
		m.input = newInput("email")
		m.input.Focus()
		m.mode = modePrompt
		return m, textinput.Blink
	case "o":
		return m, m.run(func(ctx context.Context) opDoneMsg {
			return opDoneMsg{err: m.session.SignOut(ctx)}
		})
	case "x":
		entries := timeline.Clone(m.entries)
		return m, func() tea.Msg {
			path, err := viz.RenderToTemp(entries, graphviz.PNG)
			if err != nil {
				return opDoneMsg{text: fmt.Sprintf("Export failed: %v", err), err: err}
			}
			return opDoneMsg{text: "Exported to " + path}
		}
	}
	return m, nil
}

func fieldValue(e timeline.Entry, f timeline.Field) string {
	switch f {
	case timeline.FieldEmoji:
		return e.Emoji
	case timeline.FieldTitle:
		return e.Title
	default:
		return e.Date
	}
}

func (m Model) run(fn func(ctx context.Context) opDoneMsg) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		return fn(ctx)
	}
}

func (m Model) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.mode = modeList
		return m, nil
	case tea.KeyEnter:
		value := m.input.Value()
		editing := m.mode == modeEdit
		m.mode = modeList
		if editing {
			return m.commitEdit(value)
		}
		return m, m.submitPrompt(value)
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) commitEdit(value string) (tea.Model, tea.Cmd) {
	if err := m.session.OnEntryFieldEdited(m.cursor, m.editField, value); err != nil {
		m.status = err.Error()
		return m, nil
	}
	m.reload()
	return m, nil
}

func (m Model) submitPrompt(value string) tea.Cmd {
	switch m.prompt {
	case promptSignIn:
		return m.run(func(ctx context.Context) opDoneMsg {
			return opDoneMsg{err: m.session.SignIn(ctx, value)}
		})
	case promptShare:
		return m.run(func(ctx context.Context) opDoneMsg {
			_, err := m.session.Share(ctx, value)
			return opDoneMsg{err: err}
		})
	default:
		return m.run(func(ctx context.Context) opDoneMsg {
			return opDoneMsg{err: m.session.LoadShared(ctx, value)}
		})
	}
}

func (m Model) updateAdd(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.mode = modeList
		return m, nil
	case tea.KeyTab, tea.KeyShiftTab:
		m.addInputs[m.addFocus].Blur()
		step := 1
		if msg.Type == tea.KeyShiftTab {
			step = len(m.addInputs) - 1
		}
		m.addFocus = (m.addFocus + step) % len(m.addInputs)
		m.addInputs[m.addFocus].Focus()
		return m, nil
	case tea.KeyEnter:
		e := timeline.Entry{
			Emoji: m.addInputs[0].Value(),
			Title: m.addInputs[1].Value(),
			Date:  m.addInputs[2].Value(),
		}
		if err := m.session.OnAdd(e); err != nil {
			if errors.Is(err, timeline.ErrIncompleteEntry) {
				m.addError = "Fill all fields!"
			} else {
				m.addError = err.Error()
			}
			return m, nil
		}
		m.mode = modeList
		m.reload()
		m.cursor = len(m.entries) - 1
		return m, nil
	}
	var cmd tea.Cmd
	m.addInputs[m.addFocus], cmd = m.addInputs[m.addFocus].Update(msg)
	m.addError = ""
	return m, cmd
}

func (m Model) updateConfirm(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "y", "Y", "enter":
		m.session.OnReset()
		m.reload()
		m.status = "Timeline reset"
	}
	m.mode = modeList
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder
	header := "Our Timeline"
	if m.identity != nil {
		header += "  " + helpStyle.Render("("+m.identity.Email+")")
	}
	b.WriteString(titleStyle.Render(header))
	b.WriteString("\n\n")

	if len(m.entries) == 0 {
		b.WriteString(helpStyle.Render("  no entries, press a to add one"))
		b.WriteString("\n")
	}
	for i, e := range m.entries {
		line := fmt.Sprintf("%s  %s  %s", e.Emoji, e.Title, dateStyle.Render(e.Date))
		if i == m.cursor {
			line = cursorStyle.Render(fmt.Sprintf("%s  %s  %s", e.Emoji, e.Title, e.Date))
		}
		b.WriteString("  " + line + "\n")
	}
	b.WriteString("\n")
	b.WriteString(previewStyle.Render(timeline.Preview(m.entries)))
	b.WriteString("\n")

	switch m.mode {
	case modeEdit:
		b.WriteString(m.modal(promptStyle.Render("Edit "+string(m.editField)+": ") + m.input.View()))
	case modePrompt:
		b.WriteString(m.modal(promptStyle.Render(promptLabels[m.prompt]+": ") + m.input.View()))
	case modeAdd:
		labels := []string{"Emoji", "Title", "Date"}
		var rows []string
		for i, in := range m.addInputs {
			rows = append(rows, promptStyle.Render(fmt.Sprintf("%-6s", labels[i]))+in.View())
		}
		if m.addError != "" {
			rows = append(rows, errorStyle.Render(m.addError))
		}
		rows = append(rows, helpStyle.Render("[tab] next  [enter] add  [esc] cancel"))
		b.WriteString(m.modal(lipgloss.JoinVertical(lipgloss.Left, rows...)))
	case modeConfirmReset:
		b.WriteString(m.modal(errorStyle.Render("Reset the timeline to the defaults?") + "\n" + helpStyle.Render("[y] reset  [any] cancel")))
	default:
		b.WriteString(helpStyle.Render("↑/↓ select  e/t/d edit  K/J move  a add  r reset  s share  l load shared  i/o sign in/out  x export  q quit"))
	}
	b.WriteString("\n")

	status := m.status
	if status == "" {
		status = " "
	}
	return b.String() + statusBarStyle.Width(max(m.width, 20)).Render(status)
}

func (m Model) modal(content string) string {
	return modalBoxStyle.Render(content) + "\n"
}

// Run drives the editor until the user quits. Any pending remote write is flushed
// before returning.
func Run(s *session.Session, bridge *Bridge) error {
	p := tea.NewProgram(New(s), tea.WithAltScreen())
	bridge.Attach(p)
	defer bridge.Detach()
	_, err := p.Run()
	s.Flush()
	if err != nil {
		return fmt.Errorf("failed to run editor: %w", err)
	}
	return nil
}
