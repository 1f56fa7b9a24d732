// Package tui is the terminal viewer for a running codecrew server. It
// follows The Elm Architecture via bubbletea: the App model polls the HTTP
// endpoints on a timer and renders the conversation, task board, and
// generated files side by side.
package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/codecrew-dev/codecrew/internal/artifact"
	"github.com/codecrew-dev/codecrew/internal/logbook"
	"github.com/codecrew-dev/codecrew/internal/task"
	"github.com/codecrew-dev/codecrew/internal/workflow"
)

// maxConversation bounds how many messages the viewer keeps in memory.
const maxConversation = 200

type tickMsg time.Time

type refreshMsg struct {
	status   workflow.SystemStatus
	tasks    []task.View
	files    []artifact.GeneratedFile
	messages []logbook.Message
	err      error
}

type submitResultMsg struct {
	runID string
	err   error
}

type resetDoneMsg struct{ err error }

// App is the viewer model. It holds everything the View function renders.
type App struct {
	client       *Client
	pollInterval time.Duration

	input  textinput.Model
	width  int
	height int
	notice string

	cursor   int64
	status   workflow.SystemStatus
	tasks    []task.View
	files    []artifact.GeneratedFile
	messages []logbook.Message
	err      error
}

// NewApp builds a viewer for the server at baseURL.
func NewApp(baseURL string, pollInterval time.Duration) *App {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	input := textinput.New()
	input.Placeholder = "Describe the function to build, then press Enter"
	input.CharLimit = 500
	input.Focus()
	return &App{
		client:       NewClient(baseURL),
		pollInterval: pollInterval,
		input:        input,
	}
}

// Init starts the poll loop.
func (a *App) Init() tea.Cmd {
	return tea.Batch(a.refreshCmd(), a.tickCmd(), textinput.Blink)
}

func (a *App) tickCmd() tea.Cmd {
	return tea.Tick(a.pollInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (a *App) refreshCmd() tea.Cmd {
	client := a.client
	cursor := a.cursor
	return func() tea.Msg {
		status, err := client.Status()
		if err != nil {
			return refreshMsg{err: err}
		}
		tasks, _, _, err := client.Tasks()
		if err != nil {
			return refreshMsg{err: err}
		}
		files, err := client.Files()
		if err != nil {
			return refreshMsg{err: err}
		}
		messages, err := client.Messages(cursor, 0)
		if err != nil {
			return refreshMsg{err: err}
		}
		return refreshMsg{status: status, tasks: tasks, files: files, messages: messages}
	}
}

// Update routes messages per the Elm loop.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch m := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = m.Width
		a.height = m.Height
		a.input.Width = max(20, m.Width-6)
		return a, nil

	case tea.KeyMsg:
		switch m.String() {
		case "ctrl+c", "esc":
			return a, tea.Quit
		case "enter":
			prompt := a.input.Value()
			if prompt == "" {
				return a, nil
			}
			a.input.Reset()
			a.notice = "Submitting..."
			client := a.client
			return a, func() tea.Msg {
				runID, err := client.Submit(prompt)
				return submitResultMsg{runID: runID, err: err}
			}
		case "ctrl+r":
			a.notice = "Resetting..."
			client := a.client
			return a, func() tea.Msg {
				return resetDoneMsg{err: client.Reset()}
			}
		}

	case tickMsg:
		return a, tea.Batch(a.refreshCmd(), a.tickCmd())

	case refreshMsg:
		if m.err != nil {
			a.err = m.err
			return a, nil
		}
		a.err = nil
		a.status = m.status
		a.tasks = m.tasks
		a.files = m.files
		a.appendMessages(m.messages)
		return a, nil

	case submitResultMsg:
		if m.err != nil {
			a.notice = m.err.Error()
			return a, nil
		}
		a.notice = "Workflow started: " + m.runID
		return a, a.refreshCmd()

	case resetDoneMsg:
		if m.err != nil {
			a.notice = m.err.Error()
			return a, nil
		}
		a.notice = "System reset"
		a.cursor = 0
		a.messages = nil
		return a, a.refreshCmd()
	}

	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	return a, cmd
}

// appendMessages merges newly fetched messages and advances the cursor. A
// cursor ahead of the server's log means the server was reset underneath us,
// so the local view starts over.
func (a *App) appendMessages(batch []logbook.Message) {
	if a.cursor > int64(a.status.MessagesCount) {
		a.cursor = 0
		a.messages = nil
		return
	}
	for _, msg := range batch {
		if msg.ID > a.cursor {
			a.messages = append(a.messages, msg)
			a.cursor = msg.ID
		}
	}
	if len(a.messages) > maxConversation {
		a.messages = a.messages[len(a.messages)-maxConversation:]
	}
}
