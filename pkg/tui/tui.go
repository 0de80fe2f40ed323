package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/shawkym/agentpipe-orchestrator/pkg/orchestrator"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("99")).
			Background(lipgloss.Color("63")).
			Padding(0, 1)

	okStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("86"))

	degradedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("214"))

	downStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("196"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))
)

// Model polls the orchestrator's own Health() snapshot on an interval and
// renders it, the way the teacher's conversation viewport polls messageChan
// but against a status snapshot instead of a message stream.
type Model struct {
	ctx          context.Context
	orch         *orchestrator.Orchestrator
	interval     time.Duration
	health       orchestrator.HealthStatus
	lastPolled   time.Time
	pollFailures int
	err          error
	width        int
}

type healthPolled struct {
	status orchestrator.HealthStatus
}

type pollTick struct{}

func Run(ctx context.Context, orch *orchestrator.Orchestrator, interval time.Duration) error {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	m := Model{ctx: ctx, orch: orch, interval: interval}
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.poll(), tea.Tick(m.interval, func(time.Time) tea.Msg { return pollTick{} }))
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		}
		if msg.String() == "q" {
			return m, tea.Quit
		}
	case pollTick:
		return m, tea.Batch(m.poll(), tea.Tick(m.interval, func(time.Time) tea.Msg { return pollTick{} }))
	case healthPolled:
		m.health = msg.status
		m.lastPolled = msg.status.InitializationTime
		m.pollFailures = 0
	}
	return m, nil
}

func (m Model) poll() tea.Cmd {
	return func() tea.Msg {
		return healthPolled{status: m.orch.Health()}
	}
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("agentpipe-orchestrator status"))
	b.WriteString("\n\n")

	statusLine := fmt.Sprintf("status: %s", m.health.Status)
	switch m.health.Status {
	case "healthy":
		b.WriteString(okStyle.Render(statusLine))
	case "degraded":
		b.WriteString(degradedStyle.Render(statusLine))
	default:
		b.WriteString(downStyle.Render(statusLine))
	}
	b.WriteString("\n\n")

	rows := [][2]string{
		{"agents loaded", fmt.Sprintf("%d", m.health.AgentCount)},
		{"circuit breaker", m.health.Metrics.CircuitBreakerState},
		{"paused conversations", fmt.Sprintf("%d", m.health.Metrics.PausedConversations)},
		{"pending approvals", fmt.Sprintf("%d", m.health.Metrics.PendingApprovals)},
		{"safety guardian", fmt.Sprintf("%v", m.health.HasSafety)},
		{"tool bindings", fmt.Sprintf("%v", m.health.HasRAG)},
		{"observers", fmt.Sprintf("%d", m.health.Observers)},
	}
	for _, row := range rows {
		b.WriteString(labelStyle.Render(fmt.Sprintf("%-22s", row[0]+":")))
		b.WriteString(row[1])
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(helpStyle.Render(fmt.Sprintf("refreshing every %s | q / esc / ctrl+c: quit", m.interval)))

	return b.String()
}
