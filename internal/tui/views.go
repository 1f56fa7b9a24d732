package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/codecrew-dev/codecrew/internal/logbook"
	"github.com/codecrew-dev/codecrew/internal/task"
	"github.com/codecrew-dev/codecrew/internal/workflow"
)

var (
	titleStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF")).Bold(true)
	sectionStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801")).Bold(true)
	runningStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	failedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	idleStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#999999"))
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))
	senderStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#CCCCCC")).Bold(true)
	noticeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801"))
	errStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
	taskDoneStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50"))
)

// View renders the dashboard.
func (a *App) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("CODECREW"))
	b.WriteString("  ")
	b.WriteString(a.renderStatusLine())
	b.WriteString("\n\n")

	b.WriteString(sectionStyle.Render("Conversation"))
	b.WriteString("\n")
	b.WriteString(a.renderConversation())
	b.WriteString("\n")

	b.WriteString(sectionStyle.Render("Tasks"))
	b.WriteString("\n")
	b.WriteString(a.renderTasks())
	b.WriteString("\n")

	b.WriteString(sectionStyle.Render("Generated Files"))
	b.WriteString("\n")
	b.WriteString(a.renderFiles())
	b.WriteString("\n")

	b.WriteString(a.input.View())
	b.WriteString("\n")
	if a.notice != "" {
		b.WriteString(noticeStyle.Render(a.notice))
		b.WriteString("\n")
	}
	if a.err != nil {
		b.WriteString(errStyle.Render("server unreachable: " + a.err.Error()))
		b.WriteString("\n")
	}
	b.WriteString(dimStyle.Render("enter: submit · ctrl+r: reset · esc: quit"))
	return b.String()
}

func (a *App) renderStatusLine() string {
	status := a.status.WorkflowStatus
	var style lipgloss.Style
	switch {
	case status == workflow.StatusFailed:
		style = failedStyle
	case a.status.WorkflowRunning:
		style = runningStyle
	default:
		style = idleStyle
	}
	line := style.Render(string(status))
	if a.status.LastError != "" {
		line += "  " + errStyle.Render(a.status.LastError)
	}
	return line
}

func (a *App) renderConversation() string {
	if len(a.messages) == 0 {
		return dimStyle.Render("  no messages yet")
	}
	visible := a.messages
	if rows := a.conversationRows(); len(visible) > rows {
		visible = visible[len(visible)-rows:]
	}
	var b strings.Builder
	for _, msg := range visible {
		b.WriteString("  ")
		b.WriteString(senderStyle.Render(msg.From))
		b.WriteString(dimStyle.Render(" → " + msg.To))
		b.WriteString(fmt.Sprintf("  [%s]", msg.Type))
		if msg.Status == logbook.StatusFail {
			b.WriteString(" " + failedStyle.Render("FAIL"))
		}
		if summary := payloadSummary(msg.Payload); summary != "" {
			b.WriteString("  " + dimStyle.Render(truncate(summary, a.summaryWidth())))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (a *App) renderTasks() string {
	if len(a.tasks) == 0 {
		return dimStyle.Render("  no plan yet")
	}
	var b strings.Builder
	for i, view := range a.tasks {
		marker := "[ ]"
		style := dimStyle
		switch view.Status {
		case task.StatusCompleted:
			marker = "[x]"
			style = taskDoneStyle
		case task.StatusInProgress:
			marker = "[>]"
			style = runningStyle
		}
		b.WriteString(fmt.Sprintf("  %s %s\n", style.Render(marker),
			truncate(fmt.Sprintf("%d. %s", i+1, view.Description), a.summaryWidth())))
	}
	return b.String()
}

func (a *App) renderFiles() string {
	if len(a.files) == 0 {
		return dimStyle.Render("  none")
	}
	var b strings.Builder
	for _, file := range a.files {
		b.WriteString(fmt.Sprintf("  %s  %s, %d lines, %s\n",
			senderStyle.Render(file.Path),
			humanize.Bytes(uint64(file.Size)),
			file.Lines,
			dimStyle.Render(humanize.Time(file.Modified))))
	}
	return b.String()
}

// conversationRows reserves screen space for the fixed sections around the
// conversation pane.
func (a *App) conversationRows() int {
	if a.height == 0 {
		return 10
	}
	reserved := 10 + len(a.tasks) + len(a.files)
	rows := a.height - reserved
	if rows < 3 {
		return 3
	}
	return rows
}

func (a *App) summaryWidth() int {
	if a.width == 0 {
		return 60
	}
	if a.width < 40 {
		return 20
	}
	return a.width - 30
}

func payloadSummary(payload any) string {
	switch v := payload.(type) {
	case nil:
		return ""
	case string:
		return v
	case map[string]any:
		for _, key := range []string{"message", "prompt", "instruction", "summary", "reason", "warning"} {
			if s, ok := v[key].(string); ok && s != "" {
				return s
			}
		}
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

func truncate(s string, width int) string {
	if width <= 3 || len(s) <= width {
		return s
	}
	return s[:width-3] + "..."
}
