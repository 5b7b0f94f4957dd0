package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/Siddharth-777/ECHO/internal/peer"
	"github.com/Siddharth-777/ECHO/internal/session"
)

// maxLogLines bounds the chat and notice history kept in memory.
const maxLogLines = 200

type updateMsg session.Update

type sessionEndedMsg struct{}

// RoomModel is the bubbletea model of a room: participants, the chat log and
// an input line.
type RoomModel struct {
	room    string
	updates <-chan session.Update
	do      func(session.Command) bool

	state   session.Update
	log     []string
	input   textinput.Model
	spinner spinner.Model
	width   int
	height  int
	leaving bool
	ended   bool
}

// NewRoomModel creates a model fed by updates. do delivers user commands.
func NewRoomModel(room string, updates <-chan session.Update, do func(session.Command) bool) *RoomModel {
	in := textinput.New()
	in.Placeholder = "Type a message or /help"
	in.Prompt = "› "
	in.CharLimit = 1000
	in.Focus()

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	return &RoomModel{
		room:    room,
		updates: updates,
		do:      do,
		input:   in,
		spinner: s,
	}
}

// RunRoom runs the room UI until the session ends.
func RunRoom(room string, sess *session.Session) error {
	model := NewRoomModel(room, sess.Updates(), sess.Do)
	_, err := tea.NewProgram(model, tea.WithAltScreen()).Run()
	return err
}

func (m *RoomModel) waitForUpdate() tea.Cmd {
	return func() tea.Msg {
		u, ok := <-m.updates
		if !ok {
			return sessionEndedMsg{}
		}
		return updateMsg(u)
	}
}

func (m *RoomModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, m.waitForUpdate())
}

func (m *RoomModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, m.leave()
		case tea.KeyEnter:
			line := m.input.Value()
			m.input.Reset()
			if cmd := m.submit(line); cmd != nil {
				return m, cmd
			}
		}

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.input.Width = max(10, msg.Width-4)

	case updateMsg:
		m.apply(session.Update(msg))
		cmds = append(cmds, m.waitForUpdate())

	case sessionEndedMsg:
		m.ended = true
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

// submit handles one input line. It returns a command only when the
// program has to stop.
func (m *RoomModel) submit(line string) tea.Cmd {
	if strings.TrimSpace(line) == "" {
		return nil
	}
	if strings.TrimSpace(line) == "/help" {
		m.appendLog(MutedStyle.Render(session.Help))
		return nil
	}

	cmd, err := session.ParseInput(line)
	if err != nil {
		m.appendLog(ErrorStyle.Render(err.Error()))
		return nil
	}
	if cmd.Kind == session.CommandLeave {
		return m.leave()
	}
	if !m.do(cmd) {
		return tea.Quit
	}
	return nil
}

// leave asks the session to leave; the program quits once the session
// has torn everything down.
func (m *RoomModel) leave() tea.Cmd {
	if m.leaving {
		return nil
	}
	m.leaving = true
	if !m.do(session.Command{Kind: session.CommandLeave}) {
		return tea.Quit
	}
	return nil
}

func (m *RoomModel) apply(u session.Update) {
	m.state = u
	if u.Chat != nil {
		m.appendLog(formatChat(u.Chat))
	}
	if u.Notice != "" {
		m.appendLog(MutedStyle.Render(u.Notice))
	}
}

func (m *RoomModel) appendLog(line string) {
	m.log = append(m.log, line)
	if len(m.log) > maxLogLines {
		m.log = m.log[len(m.log)-maxLogLines:]
	}
}

func formatChat(c *session.ChatLine) string {
	name := BoldStyle.Render(c.Name)
	if c.Self {
		name = SelfStyle.Render(c.Name + " (you)")
	}
	return fmt.Sprintf("%s %s %s: %s", MutedStyle.Render(c.At.Format("15:04")), IconChat, name, c.Text)
}

func (m *RoomModel) View() string {
	if m.ended {
		return ""
	}

	var b strings.Builder

	header := fmt.Sprintf("%s %s", IconRoom, m.room)
	b.WriteString(HeaderStyle.Render(header) + " " + StatusStyle.Render(m.state.Status.String()))
	b.WriteString("\n")

	if m.state.Status < session.StatusJoined {
		b.WriteString(fmt.Sprintf("%s Connecting...\n", m.spinner.View()))
	} else {
		b.WriteString(ParticipantsView(m.state.Participants))
		b.WriteString("\n")
	}

	logHeight := 10
	if m.height > 0 {
		logHeight = max(3, m.height-len(m.state.Participants)-12)
	}
	lines := m.log
	if len(lines) > logHeight {
		lines = lines[len(lines)-logHeight:]
	}
	logBox := LogBoxStyle
	if m.width > 0 {
		logBox = logBox.Width(max(20, m.width-2))
	}
	b.WriteString(logBox.Render(strings.Join(lines, "\n")))
	b.WriteString("\n")

	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(FooterStyle.Render("/mic /cam /screen /peers /leave  •  esc to leave"))
	return b.String()
}

// ParticipantsView renders the participant table.
func ParticipantsView(participants []session.Participant) string {
	rows := make([][]string, 0, len(participants))
	for _, p := range participants {
		name := IconPeer + " " + p.Name
		if p.Local {
			name += " (you)"
		}
		speaking := ""
		if p.Speaking {
			speaking = SpeakingStyle.Render(IconSpeaking)
		}
		rows = append(rows, []string{name, linkLabel(p), MediaLabel(p.Media), speaking})
	}

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers("Participant", "Link", "Media", "").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		})

	return tbl.Render()
}

func linkLabel(p session.Participant) string {
	if p.Local {
		return "-"
	}
	label := fmt.Sprintf("%s (%s)", p.State, p.Role)
	switch p.State {
	case peer.StateConnected:
		return SuccessStyle.Render(label)
	case peer.StateFailed:
		return ErrorStyle.Render(label)
	case peer.StateNegotiating:
		return WarningStyle.Render(label)
	}
	return MutedStyle.Render(label)
}

// MediaLabel renders media indicators.
func MediaLabel(s peer.MediaState) string {
	parts := []string{IconMuted}
	if s.Audio {
		parts[0] = IconMic
	}
	if s.Video {
		parts = append(parts, IconCamera)
	}
	if s.Screen {
		parts = append(parts, IconScreen)
	}
	return strings.Join(parts, " ")
}
