package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/wheelibin/sunlamp/internal/lamp"
	"github.com/wheelibin/sunlamp/internal/models"
)

const historySize = 12
const barWidth = 30

type statusMessage lamp.Status

// closedMessage is sent once the status channel is closed
type closedMessage struct{}

var baseStyle = lipgloss.NewStyle().
	BorderStyle(lipgloss.NormalBorder()).
	BorderForeground(lipgloss.Color("240"))

var titleStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(lipgloss.Color("15")).
	Background(lipgloss.Color("#1e7ba0")).
	Padding(0, 1)

var labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(8)
var warmStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
var coolStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("153"))
var errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
var dimStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Italic(true)

// Run shows the dashboard until the user quits or ctx is done
func Run(ctx context.Context, updates <-chan lamp.Status) error {
	p := tea.NewProgram(NewModel(updates), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}

type Model struct {
	updates <-chan lamp.Status
	table   table.Model
	current *lamp.Status
	history []lamp.Status
}

func NewModel(updates <-chan lamp.Status) Model {
	columns := []table.Column{
		{Title: "Time", Width: 10},
		{Title: "State", Width: 16},
		{Title: "Mode", Width: 10},
		{Title: "Warm", Width: 6},
		{Title: "Cool", Width: 6},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(historySize),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	return Model{updates: updates, table: t}
}

func (m Model) Init() tea.Cmd {
	return waitForStatus(m.updates)
}

func waitForStatus(updates <-chan lamp.Status) tea.Cmd {
	return func() tea.Msg {
		st, ok := <-updates
		if !ok {
			return closedMessage{}
		}
		return statusMessage(st)
	}
}

func (m Model) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := message.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		}

	case statusMessage:
		st := lamp.Status(msg)
		m.current = &st
		m.history = append([]lamp.Status{st}, m.history...)
		if len(m.history) > historySize {
			m.history = m.history[:historySize]
		}
		m.table.SetRows(historyRows(m.history))
		return m, waitForStatus(m.updates)

	case closedMessage:
		return m, tea.Quit
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(message)
	return m, cmd
}

func historyRows(history []lamp.Status) []table.Row {
	rows := make([]table.Row, 0, len(history))
	for _, st := range history {
		rows = append(rows, table.Row{
			st.At.Format("15:04:05"),
			st.State.String(),
			string(st.Mode),
			fmt.Sprintf("%.3f", st.Target.Warm),
			fmt.Sprintf("%.3f", st.Target.Cool),
		})
	}
	return rows
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Sunrise Lamp"))
	b.WriteString("\n\n")

	if m.current == nil {
		b.WriteString(dimStyle.Render("waiting for the lamp..."))
		b.WriteString("\n")
		return b.String()
	}

	st := m.current
	b.WriteString(row("State", st.State.String()))
	b.WriteString(row("Mode", fmt.Sprintf("%s (%s, %d entries)", st.Mode, st.Source, st.Entries)))
	b.WriteString(row("Warm", warmStyle.Render(bar(st.Target.Warm))))
	b.WriteString(row("Cool", coolStyle.Render(bar(st.Target.Cool))))
	if st.LastError != "" {
		b.WriteString(row("Error", errorStyle.Render(st.LastError)))
	}
	b.WriteString("\n")
	b.WriteString(baseStyle.Render(m.table.View()))
	b.WriteString("\n")
	b.WriteString(dimStyle.Render("q to quit"))
	b.WriteString("\n")
	return b.String()
}

func row(label string, value string) string {
	return labelStyle.Render(label) + value + "\n"
}

// bar draws level in [0,1] as a fixed width gauge
func bar(level float64) string {
	level = models.Brightness{Warm: level}.Clamped().Warm
	filled := int(level*barWidth + 0.5)
	return strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled) + fmt.Sprintf(" %3.0f%%", level*100)
}
