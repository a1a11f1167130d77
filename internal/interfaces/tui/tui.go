// Package tui renders a single agent run as a full-screen Bubble Tea
// program: streamed assistant text, tool call/result lines, and a step
// footer, with a spinner while the model or a tool is busy.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/termwright/opsagent/internal/domain/entity"
	"github.com/termwright/opsagent/internal/domain/service"
	"go.uber.org/zap"
)

// Config holds TUI configuration
type Config struct {
	Model     string
	SessionID string
	UserName  string
}

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	userStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	toolStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	faintStyle   = lipgloss.NewStyle().Faint(true)
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	footerStyle  = lipgloss.NewStyle().Faint(true).BorderTop(true).BorderStyle(lipgloss.NormalBorder())
	outputIndent = faintStyle.Render("  │ ")
)

// agentEventMsg carries one engine event into the Bubble Tea update loop.
type agentEventMsg entity.AgentEvent

// runDoneMsg signals that the engine's event channel closed.
type runDoneMsg struct{}

// model is the Bubble Tea state for one agent run.
type model struct {
	spin       spinner.Model
	transcript []string // finished lines
	streaming  string   // in-flight assistant text
	status     string
	task       string
	modelName  string
	sessionID  string
	steps      int
	tokens     int
	done       bool
	errText    string
	events     <-chan entity.AgentEvent
}

func newModel(task string, cfg Config, events <-chan entity.AgentEvent) model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	return model{
		spin:      sp,
		status:    "thinking...",
		task:      task,
		modelName: cfg.Model,
		sessionID: cfg.SessionID,
		events:    events,
	}
}

// waitForEvent reads the next engine event.
func (m model) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-m.events
		if !ok {
			return runDoneMsg{}
		}
		return agentEventMsg(ev)
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, m.waitForEvent())
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case runDoneMsg:
		m.done = true
		return m, tea.Quit

	case agentEventMsg:
		m.apply(entity.AgentEvent(msg))
		return m, m.waitForEvent()
	}

	return m, nil
}

// apply folds one engine event into the transcript.
func (m *model) apply(ev entity.AgentEvent) {
	switch ev.Type {
	case entity.EventThinking:
		m.status = "thinking..."

	case entity.EventTextDelta:
		m.streaming += ev.Content

	case entity.EventToolCall:
		m.flushStreaming()
		if ev.ToolCall != nil {
			m.status = ev.ToolCall.Name + " running..."
			m.transcript = append(m.transcript,
				toolStyle.Render("⚙ "+ev.ToolCall.Name)+faintStyle.Render(" "+summarizeArgs(ev.ToolCall.Arguments)))
		}

	case entity.EventToolResult:
		if ev.ToolCall != nil {
			mark := okStyle.Render("✓")
			if !ev.ToolCall.Success {
				mark = failStyle.Render("✗")
			}
			dur := ""
			if ev.ToolCall.Duration > 0 {
				dur = faintStyle.Render(" (" + ev.ToolCall.Duration.Round(time.Millisecond).String() + ")")
			}
			m.transcript = append(m.transcript, "  "+mark+" "+ev.ToolCall.Name+dur)
			for _, line := range clampOutput(ev.ToolCall.Output, 10, 500) {
				m.transcript = append(m.transcript, outputIndent+line)
			}
		}
		m.status = "thinking..."

	case entity.EventStepDone:
		if ev.StepInfo != nil {
			m.steps = ev.StepInfo.Step
			m.tokens += ev.StepInfo.TokensUsed
		}

	case entity.EventError:
		m.errText = ev.Error

	case entity.EventDone:
		m.flushStreaming()
	}
}

// flushStreaming moves in-flight assistant text into the transcript.
func (m *model) flushStreaming() {
	if m.streaming == "" {
		return
	}
	m.transcript = append(m.transcript, strings.Split(strings.TrimRight(m.streaming, "\n"), "\n")...)
	m.streaming = ""
}

func (m model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("opsagent") + faintStyle.Render("  "+m.modelName))
	if m.sessionID != "" {
		b.WriteString(faintStyle.Render("  " + m.sessionID))
	}
	b.WriteString("\n\n")
	b.WriteString(userStyle.Render("▶ ") + m.task + "\n\n")

	for _, line := range m.transcript {
		b.WriteString(line + "\n")
	}
	if m.streaming != "" {
		b.WriteString(m.streaming)
		b.WriteString("\n")
	}
	if m.errText != "" {
		b.WriteString(errorStyle.Render("⚠ "+m.errText) + "\n")
	}

	if m.done {
		b.WriteString(footerStyle.Render(fmt.Sprintf("%d steps · %d tokens · q to exit", m.steps, m.tokens)))
	} else {
		b.WriteString(m.spin.View() + faintStyle.Render(" "+m.status))
	}
	b.WriteString("\n")
	return b.String()
}

func summarizeArgs(args map[string]interface{}) string {
	for _, key := range []string{"command", "session_id", "path", "query", "text"} {
		if v, ok := args[key]; ok {
			s := fmt.Sprintf("%v", v)
			if len(s) > 60 {
				s = s[:57] + "..."
			}
			return s
		}
	}
	return ""
}

// clampOutput bounds tool output to maxLines lines and maxChars chars.
func clampOutput(output string, maxLines, maxChars int) []string {
	if output == "" {
		return nil
	}
	if len(output) > maxChars {
		output = output[:maxChars-3] + "..."
	}
	lines := strings.Split(strings.TrimRight(output, "\n"), "\n")
	if len(lines) > maxLines {
		kept := lines[:maxLines]
		kept = append(kept, fmt.Sprintf("... (%d more lines)", len(lines)-maxLines))
		return kept
	}
	return lines
}

// Run drives one agent task to completion inside the TUI and returns the
// engine's result. Blocks until the run finishes or the user quits.
func Run(
	ctx context.Context,
	agentLoop *service.AgentLoop,
	systemPrompt, task string,
	history []service.LLMMessage,
	cfg Config,
	logger *zap.Logger,
) (*service.AgentResult, error) {
	if cfg.SessionID == "" {
		cfg.SessionID = fmt.Sprintf("tui_%d", time.Now().UnixNano())
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	result, eventCh := agentLoop.Run(runCtx, systemPrompt, task, history, "")

	p := tea.NewProgram(newModel(task, cfg, eventCh))
	if _, err := p.Run(); err != nil {
		logger.Error("TUI program failed", zap.Error(err))
		cancel()
		// Drain so the engine goroutine can finish
		for range eventCh {
		}
		return result, err
	}

	// User may have quit early; cancel and drain
	cancel()
	for range eventCh {
	}
	return result, nil
}
