// Package tui renders the live countdown list in a terminal.
//
// The model listens on a board subscription and redraws on every
// snapshot. Keys: r retries the load, q or ctrl+c quits. Quitting ends
// the program; the caller cancels the session context afterwards, which
// stops the countdown driver.
package tui

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/djlord-it/arc-companion/internal/countdown"
	"github.com/djlord-it/arc-companion/internal/domain"
)

// Controller triggers the retry command.
type Controller interface {
	Retry(ctx context.Context)
}

type snapshotMsg struct {
	snapshot domain.Snapshot
}

// closedMsg signals that the subscription ended.
type closedMsg struct{}

type retriedMsg struct{}

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("245"))
	countdownStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	absentStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Italic(true)
	messageStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	helpStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

const (
	minNameWidth = 12
	minMapWidth  = 10
	columnGap    = 2
)

type Model struct {
	ctx      context.Context
	updates  <-chan domain.Snapshot
	control  Controller
	snapshot domain.Snapshot
	has      bool
	width    int
	retrying bool
}

// NewModel builds a model fed by updates. ctx bounds retry requests.
func NewModel(ctx context.Context, updates <-chan domain.Snapshot, control Controller) Model {
	return Model{ctx: ctx, updates: updates, control: control}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return waitForSnapshot(m.updates)
}

// waitForSnapshot blocks until the next snapshot or the end of the
// subscription.
func waitForSnapshot(updates <-chan domain.Snapshot) tea.Cmd {
	return func() tea.Msg {
		s, ok := <-updates
		if !ok {
			return closedMsg{}
		}
		return snapshotMsg{snapshot: s}
	}
}

func (m Model) retry() tea.Cmd {
	return func() tea.Msg {
		m.control.Retry(m.ctx)
		return retriedMsg{}
	}
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			if m.retrying || m.control == nil {
				return m, nil
			}
			m.retrying = true
			return m, m.retry()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case snapshotMsg:
		m.snapshot = msg.snapshot
		m.has = true
		return m, waitForSnapshot(m.updates)

	case retriedMsg:
		m.retrying = false

	case closedMsg:
		return m, tea.Quit
	}
	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(m.body())
	b.WriteString("\n")
	help := "r retry • q quit"
	if m.retrying {
		help = "retrying... • q quit"
	}
	b.WriteString(helpStyle.Render(help))
	b.WriteString("\n")
	return b.String()
}

// Render draws a single snapshot without key help, for one-shot output.
// A width of zero disables truncation.
func Render(s domain.Snapshot, width int) string {
	return Model{snapshot: s, has: true, width: width}.body()
}

func (m Model) body() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Event timers"))
	b.WriteString("\n\n")

	switch {
	case !m.has || m.snapshot.State == domain.SnapshotLoading:
		b.WriteString("Loading...\n")
	case m.snapshot.State == domain.SnapshotEmpty:
		msg := m.snapshot.Message
		if msg == "" {
			msg = domain.NoEventsMessage
		}
		if m.ctx != nil {
			msg += " - press r to retry"
		}
		b.WriteString(messageStyle.Render(msg))
		b.WriteString("\n")
	default:
		b.WriteString(m.table())
	}
	return b.String()
}

func (m Model) table() string {
	nameWidth, mapWidth := minNameWidth, minMapWidth
	for _, tc := range m.snapshot.Timers {
		nameWidth = max(nameWidth, lipgloss.Width(tc.Timer.Name))
		mapWidth = max(mapWidth, lipgloss.Width(tc.Timer.Map))
	}
	if m.width > 0 {
		// Leave room for the countdown column.
		limit := m.width - mapWidth - 2*columnGap - len(countdown.NoUpcoming)
		if limit >= minNameWidth && nameWidth > limit {
			nameWidth = limit
		}
	}

	nameCol := lipgloss.NewStyle().Width(nameWidth + columnGap).MaxWidth(nameWidth + columnGap)
	mapCol := lipgloss.NewStyle().Width(mapWidth + columnGap)

	var b strings.Builder
	b.WriteString(headerStyle.Render(
		nameCol.Render("EVENT") + mapCol.Render("MAP") + "STARTS IN"))
	b.WriteString("\n")

	for _, tc := range m.snapshot.Timers {
		remaining := countdownStyle.Render(tc.Countdown)
		if tc.Next == nil {
			remaining = absentStyle.Render(tc.Countdown)
		}
		fmt.Fprintf(&b, "%s%s%s\n", nameCol.Render(tc.Timer.Name), mapCol.Render(tc.Timer.Map), remaining)
	}
	return b.String()
}
