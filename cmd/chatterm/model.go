package main

import (
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/BTreeMap/PortfolioChat/internal/conversation"
	"github.com/BTreeMap/PortfolioChat/internal/models"
	"github.com/BTreeMap/PortfolioChat/internal/typewriter"
)

// Message types
type frameMsg typewriter.Frame
type eventMsg conversation.Event
type submitErrMsg struct{ err error }

var (
	nameStyle        = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	headlineStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	userStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	counterpartStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	placeholderStyle = lipgloss.NewStyle().Faint(true).Italic(true)
	errorStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	helpStyle        = lipgloss.NewStyle().Faint(true)
	frameStyle       = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// model renders the typewriter headline above one conversation. It never
// calls into the engines synchronously; submissions run as commands.
type model struct {
	name     string
	greeting string
	presets  []string
	submit   func(string) error

	headline string
	messages []models.Message
	state    models.ConversationState
	closed   bool
	err      string
	preset   int
	width    int

	input textinput.Model
}

func newModel(name, greeting string, presets []string, snap models.ConversationSnapshot, submit func(string) error) model {
	ti := textinput.New()
	ti.Placeholder = "Ask me anything"
	ti.CharLimit = models.MaxMessageLength
	ti.Prompt = "> "
	ti.Focus()

	return model{
		name:     name,
		greeting: greeting,
		presets:  presets,
		submit:   submit,
		messages: snap.Messages,
		state:    snap.State,
		closed:   !snap.Open,
		input:    ti,
	}
}

func (m model) Init() tea.Cmd {
	return textinput.Blink
}

func submitCmd(submit func(string) error, text string) tea.Cmd {
	return func() tea.Msg {
		if err := submit(text); err != nil {
			return submitErrMsg{err: err}
		}
		return nil
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case frameMsg:
		m.headline = msg.Text
		return m, nil

	case eventMsg:
		return m.applyEvent(conversation.Event(msg))

	case submitErrMsg:
		m.err = msg.err.Error()
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "tab":
			if len(m.presets) > 0 {
				m.input.SetValue(m.presets[m.preset%len(m.presets)])
				m.input.CursorEnd()
				m.preset++
			}
			return m, nil
		case "enter":
			text := m.input.Value()
			if strings.TrimSpace(text) == "" || m.closed {
				return m, nil
			}
			m.input.Reset()
			m.err = ""
			return m, submitCmd(m.submit, text)
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m model) applyEvent(ev conversation.Event) (tea.Model, tea.Cmd) {
	switch ev.Kind {
	case conversation.EventAppended:
		if ev.Message != nil {
			m.messages = append(m.messages, *ev.Message)
		}
	case conversation.EventRemoved:
		if ev.Message != nil {
			kept := m.messages[:0:0]
			for _, msg := range m.messages {
				if msg.ID != ev.Message.ID {
					kept = append(kept, msg)
				}
			}
			m.messages = kept
		}
	case conversation.EventState:
		m.state = ev.State
	case conversation.EventClosed:
		m.closed = true
		m.state = models.StateClosed
		return m, tea.Quit
	}
	return m, nil
}

func (m model) View() string {
	var b strings.Builder
	b.WriteString(nameStyle.Render(m.name))
	b.WriteString("\n")
	b.WriteString(headlineStyle.Render(m.headline + "▌"))
	b.WriteString("\n\n")

	var lines []string
	if len(m.messages) == 0 && m.greeting != "" {
		lines = append(lines, helpStyle.Render(m.greeting))
	}
	for _, msg := range m.messages {
		lines = append(lines, renderMessage(msg))
	}
	body := strings.Join(lines, "\n")
	if m.width > 4 {
		b.WriteString(frameStyle.Width(m.width - 4).Render(body))
	} else {
		b.WriteString(frameStyle.Render(body))
	}
	b.WriteString("\n")

	if m.err != "" {
		b.WriteString(errorStyle.Render(m.err))
		b.WriteString("\n")
	}
	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("enter: send  tab: preset  esc: quit"))
	return b.String()
}

func renderMessage(msg models.Message) string {
	switch {
	case msg.IsPlaceholder:
		return placeholderStyle.Render(msg.Text)
	case msg.Sender == models.SenderUser:
		return userStyle.Render("you: " + msg.Text)
	default:
		return counterpartStyle.Render(msg.Text)
	}
}
