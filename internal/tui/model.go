// Package tui renders a live view of a voice conversation in the terminal.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/koscakluka/phonio/core/events"
	"github.com/muesli/reflow/wordwrap"
)

const (
	defaultWidth = 80
	maxTurns     = 50
)

var (
	titleStyle       = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	statusStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	userStyle        = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	assistantStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("170"))
	interimStyle     = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("245"))
	interruptedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

type status int

const (
	statusConnecting status = iota
	statusListening
	statusHearing
	statusClosed
	statusFailed
)

func (s status) String() string {
	switch s {
	case statusConnecting:
		return "Connecting"
	case statusListening:
		return "Listening"
	case statusHearing:
		return "Hearing you"
	case statusClosed:
		return "Session closed"
	case statusFailed:
		return "Session failed"
	default:
		return "Unknown"
	}
}

// Model is the bubbletea model of the conversation view. Events reach it
// through Program.Send, see Forward.
type Model struct {
	spinner spinner.Model
	status  status
	session string
	turns   []events.ConversationTurn
	interim string
	err     error
	width   int
}

func New() Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = statusStyle
	return Model{spinner: s, width: defaultWidth}
}

func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		if msg.Width > 0 {
			m.width = msg.Width
		}
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case events.SessionStarted:
		m.status = statusListening
		m.session = msg.SessionID
	case events.SessionFailed:
		m.status = statusFailed
		m.err = msg.Err
	case events.SessionClosed:
		if m.status != statusFailed {
			m.status = statusClosed
		}
	case events.UserSpeechStarted:
		if m.status == statusListening {
			m.status = statusHearing
		}
	case events.UserSpeechEnded:
		if m.status == statusHearing {
			m.status = statusListening
		}
	case events.TranscriptionUpdate:
		if msg.IsFinal {
			m.interim = ""
		} else {
			m.interim = msg.Text
		}
	case events.ConversationTurn:
		m.addTurn(msg)
	}
	return m, nil
}

// addTurn appends the turn or, when a turn with the same ID was already
// shown, replaces it. Interrupted assistant turns are re-emitted that way.
func (m *Model) addTurn(turn events.ConversationTurn) {
	if turn.Role == events.RoleUser {
		m.interim = ""
	}
	for i := range m.turns {
		if m.turns[i].ID == turn.ID {
			m.turns[i] = turn
			return
		}
	}
	m.turns = append(m.turns, turn)
	if len(m.turns) > maxTurns {
		m.turns = m.turns[len(m.turns)-maxTurns:]
	}
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("phonio"))
	b.WriteString("  ")
	switch m.status {
	case statusConnecting, statusListening, statusHearing:
		b.WriteString(m.spinner.View() + " ")
	}
	b.WriteString(statusStyle.Render(m.status.String()))
	if m.session != "" {
		b.WriteString(statusStyle.Render(fmt.Sprintf(" (%s)", m.session)))
	}
	b.WriteString("\n\n")

	for _, turn := range m.turns {
		b.WriteString(m.renderTurn(turn))
		b.WriteString("\n")
	}

	if m.interim != "" {
		b.WriteString(interimStyle.Render(wordwrap.String("You: "+m.interim+"...", m.width)))
		b.WriteString("\n")
	}
	if m.err != nil {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render(wordwrap.String("Error: "+m.err.Error(), m.width)))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(statusStyle.Render("q to quit"))
	b.WriteString("\n")
	return b.String()
}

func (m Model) renderTurn(turn events.ConversationTurn) string {
	label := userStyle.Render("You:")
	if turn.Role == events.RoleAssistant {
		label = assistantStyle.Render("Assistant:")
	}

	text := turn.Text
	if turn.Interrupted {
		text += " " + interruptedStyle.Render("(interrupted)")
	}
	return label + " " + wordwrap.String(text, max(m.width-len("Assistant: "), 20))
}

// Forward returns an event handler that feeds events into the program.
func Forward(p *tea.Program) func(events.Event) {
	return func(event events.Event) {
		p.Send(event)
	}
}
