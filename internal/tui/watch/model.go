package watch

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/wheelforge/internal/events"
	"github.com/mattjoyce/wheelforge/internal/pipeline"
)

const maxLogLines = 500

// HealthState tracks the API server connection.
type HealthState struct {
	Status        string
	UptimeSeconds int64
	Connected     bool
	LastCheck     time.Time
}

// Model is the main BubbleTea model for the watch TUI.
type Model struct {
	apiURL string

	width  int
	height int

	// State
	health   HealthState
	run      *pipeline.Snapshot
	logLines []string

	// UI components
	theme    Theme
	progress progress.Model
	viewport viewport.Model
	ready    bool

	// Communication
	hubEvents chan events.Event

	// Error display
	lastError string
}

// New creates a new watch TUI model.
func New(apiURL string) *Model {
	return &Model{
		apiURL:    apiURL,
		theme:     NewDefaultTheme(),
		progress:  progress.New(progress.WithDefaultGradient()),
		hubEvents: make(chan events.Event, 100),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		subscribeToEvents(m.apiURL, m.hubEvents),
		receiveNextEvent(m.hubEvents),
		func() tea.Msg { return fetchHealth(m.apiURL) },
		tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) }),
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		default:
			// The viewport handles its own scrolling keys.
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.progress.Width = msg.Width - 12
		logHeight := msg.Height - 10
		if logHeight < 3 {
			logHeight = 3
		}
		if !m.ready {
			m.viewport = viewport.New(msg.Width-6, logHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width - 6
			m.viewport.Height = logHeight
		}
		m.viewport.SetContent(strings.Join(m.logLines, "\n"))
		m.viewport.GotoBottom()

	case tickMsg:
		return m, tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })

	case eventMsg:
		m.applyEvent(events.Event(msg))
		m.health.Connected = true
		m.lastError = ""
		return m, receiveNextEvent(m.hubEvents)

	case healthMsg:
		m.health.Status = msg.Status
		m.health.UptimeSeconds = msg.UptimeSeconds
		m.health.Connected = true
		m.health.LastCheck = time.Now()
		m.lastError = ""
		return m, tea.Tick(5*time.Second, func(t time.Time) tea.Msg {
			return fetchHealth(m.apiURL)
		})

	case sseDisconnectedMsg:
		m.health.Connected = false
		m.lastError = "SSE disconnected, reconnecting..."
		// Reconnect after a short delay; the existing receiveNextEvent
		// goroutine is still waiting on the channel and will pick up
		// events from the new subscription.
		return m, tea.Tick(3*time.Second, func(t time.Time) tea.Msg {
			return reconnectMsg{}
		})

	case reconnectMsg:
		return m, subscribeToEvents(m.apiURL, m.hubEvents)

	case errMsg:
		m.lastError = msg.Error()
		return m, tea.Tick(5*time.Second, func(t time.Time) tea.Msg {
			return fetchHealth(m.apiURL)
		})
	}

	return m, nil
}

// applyEvent folds one hub event into the model state.
func (m *Model) applyEvent(e events.Event) {
	switch e.Type {
	case events.TypeLogLine:
		var payload struct {
			Line string `json:"line"`
		}
		if err := json.Unmarshal(e.Data, &payload); err != nil {
			return
		}
		m.logLines = append(m.logLines, payload.Line)
		if len(m.logLines) > maxLogLines {
			m.logLines = m.logLines[len(m.logLines)-maxLogLines:]
		}
		if m.ready {
			m.viewport.SetContent(strings.Join(m.logLines, "\n"))
			m.viewport.GotoBottom()
		}

	case events.TypeStage, events.TypeRunStarted, events.TypeRunFinished:
		var snap pipeline.Snapshot
		if err := json.Unmarshal(e.Data, &snap); err != nil {
			return
		}
		m.run = &snap
	}
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting to build server..."
	}

	header := m.renderHeader()
	logPane := m.renderLog()

	var errBar string
	if m.lastError != "" {
		errBar = m.theme.StatusFailed.Render(fmt.Sprintf(" ⚠ %s", m.lastError))
	}

	help := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render(" [q] Quit • [↑/↓] Scroll Output")

	parts := []string{header, logPane}
	if errBar != "" {
		parts = append(parts, errBar)
	}
	parts = append(parts, help)

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}

func (m Model) renderHeader() string {
	conn := m.theme.StatusFailed.Render("● offline")
	if m.health.Connected {
		conn = m.theme.StatusOK.Render("● connected")
	}

	var lines []string
	lines = append(lines, lipgloss.JoinHorizontal(lipgloss.Top,
		m.theme.Title.Render("WHEELFORGE"), "  ", conn))

	if m.run != nil {
		stageStyle := m.theme.StatusRunning
		switch m.run.Stage {
		case pipeline.StageComplete:
			stageStyle = m.theme.StatusOK
		case pipeline.StageFailed:
			stageStyle = m.theme.StatusFailed
		}
		lines = append(lines,
			fmt.Sprintf("  %s %s  %s %s  %s %s",
				m.theme.Dim.Render("version"), m.theme.Highlight.Render(m.run.PackageVersion),
				m.theme.Dim.Render("cuda"), m.theme.Highlight.Render(m.run.ToolkitVersion),
				m.theme.Dim.Render("stage"), stageStyle.Render(string(m.run.Stage))),
			"  "+m.run.Status,
			"  "+m.progress.ViewAs(m.run.Progress/100),
		)
	} else {
		lines = append(lines, m.theme.Dim.Render("  Waiting for a build to start..."))
	}

	return m.theme.Border.Width(m.width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func (m Model) renderLog() string {
	content := m.theme.Dim.Render("  Waiting for build output...")
	if m.ready && len(m.logLines) > 0 {
		content = m.viewport.View()
	}
	return m.theme.Border.Width(m.width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			m.theme.Title.Render("BUILD OUTPUT"),
			content,
		))
}
