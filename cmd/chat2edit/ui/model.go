package ui

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
)

// =============================================================================
// TYPES
// =============================================================================

// Reply is the outcome of one turn as the UI shows it.
type Reply struct {
	ConversationID string
	// Responded is false when the model ran out of attempts.
	Responded bool
	Text      string
	// Saved lists the paths response files were written to.
	Saved []string
	Calls int
}

// TurnFunc sends a request with attachment paths to a conversation. An
// empty conversation id starts a new one.
type TurnFunc func(ctx context.Context, conversationID, text string, files []string) (*Reply, error)

// Config wires the model to the rest of the program.
type Config struct {
	ConversationID string
	Provider       string
	Turn           TurnFunc
}

// Role of a transcript entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one entry in the chat transcript.
type Message struct {
	Role    Role
	Content string
	Time    time.Time
}

// TraceMsg reports a finished model call while a turn runs. Programs send
// it from an llm trace sink.
type TraceMsg struct {
	Duration time.Duration
	Err      error
}

type replyMsg struct {
	reply *Reply
	err   error
}

const (
	headerHeight = 1
	footerHeight = 1
	inputHeight  = 5
)

// Model is the bubbletea model of the interactive chat.
type Model struct {
	textarea textarea.Model
	viewport viewport.Model
	spinner  spinner.Model
	styles   Styles
	renderer *glamour.TermRenderer

	cfg      Config
	history  []Message
	pending  []string
	loading  bool
	calls    int
	cancel   context.CancelFunc
	err      error
	width    int
	height   int
	quitting bool
}

// NewModel builds the chat model.
func NewModel(cfg Config) Model {
	ta := textarea.New()
	ta.Placeholder = "Ask for an edit... (/help for commands)"
	ta.ShowLineNumbers = false
	ta.SetHeight(3)
	ta.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	m := Model{
		textarea: ta,
		viewport: viewport.New(80, 20),
		spinner:  sp,
		styles:   DefaultStyles(),
		cfg:      cfg,
	}
	m.history = append(m.history, Message{
		Role:    RoleSystem,
		Content: welcome(cfg),
		Time:    time.Now(),
	})
	m.viewport.SetContent(m.renderHistory())
	return m
}

func welcome(cfg Config) string {
	if cfg.ConversationID != "" {
		return fmt.Sprintf("Continuing conversation %s with the %s provider.", cfg.ConversationID, cfg.Provider)
	}
	return fmt.Sprintf("New conversation with the %s provider. Attach files with /attach <path>.", cfg.Provider)
}

// ConversationID is the conversation the next request goes to.
func (m Model) ConversationID() string { return m.cfg.ConversationID }

// History returns the transcript shown so far.
func (m Model) History() []Message { return m.history }

// Err is the error of the last turn, if it failed.
func (m Model) Err() error { return m.err }

// Pending returns attachment paths queued for the next request.
func (m Model) Pending() []string { return m.pending }

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return textarea.Blink
}

// =============================================================================
// UPDATE
// =============================================================================

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		taCmd tea.Cmd
		vpCmd tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			if m.loading && m.cancel != nil {
				m.cancel()
				return m, nil
			}
			m.quitting = true
			return m, tea.Quit

		case tea.KeyEnter:
			if msg.Alt || msg.Paste {
				break
			}
			if !m.loading {
				return m.handleSubmit()
			}
			return m, nil

		case tea.KeyPgUp, tea.KeyPgDown:
			m.viewport, vpCmd = m.viewport.Update(msg)
			return m, vpCmd
		}

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.textarea.SetWidth(msg.Width - 2)
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-headerHeight-footerHeight-inputHeight, 3)
		m.renderer, _ = glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(max(msg.Width-4, 20)),
		)
		m.refresh()
		return m, nil

	case spinner.TickMsg:
		if m.loading {
			var spCmd tea.Cmd
			m.spinner, spCmd = m.spinner.Update(msg)
			return m, spCmd
		}
		return m, nil

	case TraceMsg:
		if m.loading {
			m.calls++
		}
		return m, nil

	case replyMsg:
		m.loading = false
		m.cancel = nil
		m.calls = 0
		if msg.err != nil {
			m.err = msg.err
			m.appendMessage(RoleSystem, "Error: "+msg.err.Error())
			return m, nil
		}
		m.err = nil
		m.cfg.ConversationID = msg.reply.ConversationID
		m.appendMessage(RoleAssistant, formatReply(msg.reply))
		return m, nil
	}

	m.textarea, taCmd = m.textarea.Update(msg)
	m.viewport, vpCmd = m.viewport.Update(msg)
	return m, tea.Batch(taCmd, vpCmd)
}

func (m Model) handleSubmit() (tea.Model, tea.Cmd) {
	input := strings.TrimSpace(m.textarea.Value())
	if input == "" {
		return m, nil
	}
	m.textarea.Reset()

	if strings.HasPrefix(input, "/") {
		return m.handleCommand(input)
	}

	text := input
	if len(m.pending) > 0 {
		text = fmt.Sprintf("%s\n(attached: %s)", input, strings.Join(m.pending, ", "))
	}
	m.appendMessage(RoleUser, text)

	files := m.pending
	m.pending = nil
	m.loading = true
	m.calls = 0

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	return m, tea.Batch(m.spinner.Tick, m.runTurn(ctx, cancel, input, files))
}

func (m Model) runTurn(ctx context.Context, cancel context.CancelFunc, text string, files []string) tea.Cmd {
	turn := m.cfg.Turn
	conversationID := m.cfg.ConversationID
	return func() tea.Msg {
		defer cancel()
		reply, err := turn(ctx, conversationID, text, files)
		return replyMsg{reply: reply, err: err}
	}
}

// handleCommand runs a slash command.
func (m Model) handleCommand(input string) (tea.Model, tea.Cmd) {
	fields := strings.Fields(input)
	switch fields[0] {
	case "/quit", "/exit", "/q":
		m.quitting = true
		return m, tea.Quit

	case "/attach":
		if len(fields) < 2 {
			m.appendMessage(RoleSystem, "Usage: /attach <path> [path...]")
			return m, nil
		}
		for _, path := range fields[1:] {
			if _, err := os.Stat(path); err != nil {
				m.appendMessage(RoleSystem, fmt.Sprintf("Cannot attach %s: %v", path, err))
				continue
			}
			m.pending = append(m.pending, path)
		}
		m.appendMessage(RoleSystem, fmt.Sprintf("%d file(s) queued for the next request.", len(m.pending)))

	case "/detach":
		m.pending = nil
		m.appendMessage(RoleSystem, "Attachments cleared.")

	case "/new":
		m.cfg.ConversationID = ""
		m.pending = nil
		m.appendMessage(RoleSystem, "The next request starts a new conversation.")

	case "/id":
		id := m.cfg.ConversationID
		if id == "" {
			id = "(none yet)"
		}
		m.appendMessage(RoleSystem, "Conversation: "+id)

	case "/help":
		m.appendMessage(RoleSystem, helpText)

	default:
		m.appendMessage(RoleSystem, fmt.Sprintf("Unknown command %s. Type /help.", fields[0]))
	}
	return m, nil
}

const helpText = `Commands:
  /attach <path>...  queue files for the next request
  /detach            clear queued files
  /new               start a new conversation
  /id                show the conversation id
  /quit              exit (Ctrl+C cancels a running turn)`

func formatReply(r *Reply) string {
	if !r.Responded {
		return fmt.Sprintf("_No response after %d model calls. Try rephrasing the request._", r.Calls)
	}
	var b strings.Builder
	b.WriteString(r.Text)
	for _, path := range r.Saved {
		fmt.Fprintf(&b, "\n\n`saved %s`", path)
	}
	return b.String()
}

func (m *Model) appendMessage(role Role, content string) {
	m.history = append(m.history, Message{Role: role, Content: content, Time: time.Now()})
	m.refresh()
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.renderHistory())
	m.viewport.GotoBottom()
}

// =============================================================================
// VIEW
// =============================================================================

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	return strings.Join([]string{
		m.renderHeader(),
		m.viewport.View(),
		m.styles.Input.Render(m.textarea.View()),
		m.renderFooter(),
	}, "\n")
}

func (m Model) renderHeader() string {
	id := m.cfg.ConversationID
	if id == "" {
		id = "new conversation"
	}
	return m.styles.Header.Render("chat2edit") + m.styles.Muted.Render(fmt.Sprintf("%s · %s", m.cfg.Provider, id))
}

func (m Model) renderFooter() string {
	var parts []string
	if m.loading {
		parts = append(parts, fmt.Sprintf("%s working (model calls: %d)", m.spinner.View(), m.calls))
	}
	if n := len(m.pending); n > 0 {
		parts = append(parts, m.styles.Badge.Render(fmt.Sprintf("%d attached", n)))
	}
	parts = append(parts, "Enter send · /help · Ctrl+C quit")
	return m.styles.Footer.Render(strings.Join(parts, "  "))
}

func (m Model) renderHistory() string {
	var sb strings.Builder
	for _, msg := range m.history {
		switch msg.Role {
		case RoleUser:
			sb.WriteString(m.styles.UserLabel.Render("You") + "\n")
			sb.WriteString(msg.Content)
			sb.WriteString("\n")
		case RoleAssistant:
			sb.WriteString(m.styles.AssistantLabel.Render("chat2edit") + "\n")
			sb.WriteString(m.safeRenderMarkdown(msg.Content))
			sb.WriteString("\n")
		default:
			sb.WriteString(m.styles.Muted.Render(msg.Content))
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// safeRenderMarkdown renders markdown with panic recovery
func (m Model) safeRenderMarkdown(content string) (result string) {
	if m.renderer == nil {
		return content
	}
	defer func() {
		if r := recover(); r != nil {
			result = content
		}
	}()
	out, err := m.renderer.Render(content)
	if err != nil {
		return content
	}
	return strings.TrimRight(out, "\n")
}
