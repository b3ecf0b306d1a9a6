package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"spanlight/internal/adapter/tui/components"
	"spanlight/internal/adapter/tui/theme"
	"spanlight/internal/adapter/tui/uxerror"
	"spanlight/internal/domain"
	chatuc "spanlight/internal/usecase/chat"
)

// Conversation is the chat session the model drives.
type Conversation interface {
	Send(ctx context.Context, text string) error
	Abort()
	Reset()
	Load(messages []domain.Message)
	Messages() []domain.Message
}

// Lookup is the popover resolver the model drives.
type Lookup interface {
	Show(ctx context.Context, req domain.LookupRequest) error
	Hide()
	SwitchTab(src domain.Source) error
}

// Deps are the model's collaborators. Chats may be nil, which disables
// history commands.
type Deps struct {
	Context  context.Context
	Session  Conversation
	Resolver Lookup
	Chats    *chatuc.Manager
	RelayURL string
	Logger   *slog.Logger
}

var slashCommands = []components.CommandDef{
	{Name: "/help", Description: "Show commands and keys"},
	{Name: "/lookup", Args: "<span> [| context]", Description: "Look up a word or phrase"},
	{Name: "/hide", Description: "Dismiss the lookup"},
	{Name: "/cancel", Description: "Stop the reply in flight"},
	{Name: "/new", Description: "Start a new chat"},
	{Name: "/chats", Description: "List saved chats"},
	{Name: "/open", Args: "<n>", Description: "Open chat n from /chats"},
	{Name: "/rename", Args: "<name>", Description: "Rename the current chat"},
	{Name: "/delete", Args: "[n]", Description: "Delete chat n, or the current one"},
	{Name: "/clear", Description: "Empty the current chat"},
	{Name: "/quit", Description: "Exit"},
}

// Model is the root Bubble Tea model.
type Model struct {
	deps Deps
	ctx  context.Context

	chatView  components.ChatViewModel
	lookup    components.LookupPaneModel
	input     components.InputAreaModel
	statusBar components.StatusBarModel
	split     components.SplitPaneModel
	spinner   spinner.Model

	session        chatuc.SessionState
	sessionVersion uint64
	popoverVersion uint64
	notices        []components.ChatMessage
	turn           uint64

	width    int
	height   int
	quitting bool
}

// NewModel creates the root model.
func NewModel(deps Deps) Model {
	if deps.Context == nil {
		deps.Context = context.Background()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(theme.ColorUser)

	sb := components.NewStatusBar()
	sb.Relay = deps.RelayURL
	sb.Hints = defaultHints()
	if deps.Chats != nil {
		if active, ok := deps.Chats.Active(); ok {
			sb.ChatName = active.Name
		}
	}

	chatView := components.NewChatView()
	chatView.SetMaxMessages(1000)

	input := components.NewInputArea()
	input.Autocomplete = components.NewAutocomplete(slashCommands)

	return Model{
		deps:      deps,
		ctx:       deps.Context,
		chatView:  chatView,
		lookup:    components.NewLookupPane(),
		input:     input,
		statusBar: sb,
		split:     components.NewSplitPane(0.6),
		spinner:   s,
	}
}

// Init starts the spinner.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles all incoming messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.MouseMsg:
		var cmd tea.Cmd
		if m.split.Visible && m.split.Focused == components.PaneRight {
			m.lookup, cmd = m.lookup.Update(msg)
		} else {
			m.chatView, cmd = m.chatView.Update(msg)
		}
		return m, cmd

	case components.InputSubmitMsg:
		return m.handleSubmit(msg.Value)

	case components.InputAbortMsg:
		return m.cancelReply()

	case SessionMsg:
		if msg.State.Version <= m.sessionVersion {
			return m, nil
		}
		m.sessionVersion = msg.State.Version
		m.session = msg.State
		m.input.SetBusy(msg.State.Loading)
		m.refreshChat()
		return m, nil

	case PopoverMsg:
		if msg.State.Version <= m.popoverVersion {
			return m, nil
		}
		m.popoverVersion = msg.State.Version
		m.lookup.SetState(msg.State)
		if msg.State.Visible && !m.split.Visible {
			if m.split.Show() {
				m.layout()
			}
		}
		return m, nil

	case TurnDoneMsg:
		if msg.Err != nil && msg.Turn == m.turn {
			m.notice(components.RoleError, uxerror.Humanize(msg.Err).Render())
		}
		if m.deps.Chats == nil {
			return m, nil
		}
		return m, saveCmd(m.ctx, m.deps.Chats, m.deps.Session.Messages())

	case chatSavedMsg:
		if msg.Err != nil {
			m.deps.Logger.Warn("chat save failed", "error", msg.Err)
			m.notice(components.RoleError, uxerror.Humanize(msg.Err).Render())
		} else if msg.Chat.ID != "" {
			m.statusBar.ChatName = msg.Chat.Name
		}
		return m, nil

	case QuitMsg:
		m.quitting = true
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		m.lookup.SetSpinner(m.spinner.View())
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View renders the screen.
func (m Model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}
	if m.width == 0 {
		return "  Initializing..."
	}

	title := theme.BotLabel.Render(" "+theme.SymbolBot) + " " + theme.TextMuted.Render(m.statusBar.ChatName)
	main := m.chatView.View()
	if m.split.Visible {
		main = m.split.Render(main, m.lookup.View())
	}

	status := m.statusBar
	if m.session.Loading {
		status.Extra = m.spinner.View() + " Streaming" + theme.SymbolEllipsis
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		title,
		main,
		components.Divider(m.width),
		m.input.View(),
		status.View(),
	)
}

func (m *Model) layout() {
	const chrome = 1 + 1 + 3 + 1 // title, divider, input, status
	contentH := max(m.height-chrome, 5)

	m.statusBar.SetWidth(m.width)
	m.split.SetSize(m.width, contentH)
	m.chatView.SetSize(m.split.LeftWidth(), contentH)
	if m.split.Visible {
		m.lookup.SetSize(m.split.RightWidth(), contentH)
	}
	m.input.SetWidth(m.width)
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		if m.session.Loading {
			return m.cancelReply()
		}
		m.quitting = true
		return m, tea.Quit

	case tea.KeyCtrlT:
		m.split.Toggle()
		m.layout()
		return m, nil

	case tea.KeyTab:
		if m.split.Visible && !m.input.Autocomplete.Visible {
			m.split.SwitchFocus()
			m.statusBar.Hints = defaultHints()
			if m.split.Focused == components.PaneRight {
				m.statusBar.Hints = lookupHints()
			}
			return m, nil
		}

	case tea.KeyCtrlN:
		m.lookup.Tabs.Next()
		return m, m.switchSource()

	case tea.KeyCtrlP:
		m.lookup.Tabs.Prev()
		return m, m.switchSource()

	case tea.KeyEsc:
		if !m.input.Autocomplete.Visible && m.lookup.State().Visible {
			m.deps.Resolver.Hide()
			return m, nil
		}

	case tea.KeyPgUp, tea.KeyPgDown, tea.KeyUp, tea.KeyDown:
		if m.split.Visible && m.split.Focused == components.PaneRight {
			var cmd tea.Cmd
			m.lookup, cmd = m.lookup.Update(msg)
			return m, cmd
		}
		if msg.Type == tea.KeyPgUp || msg.Type == tea.KeyPgDown {
			var cmd tea.Cmd
			m.chatView, cmd = m.chatView.Update(msg)
			return m, cmd
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) switchSource() tea.Cmd {
	src := domain.Source(m.lookup.Tabs.ActiveID())
	if err := m.deps.Resolver.SwitchTab(src); err != nil {
		m.deps.Logger.Debug("switch source rejected", "source", src, "error", err)
	}
	return nil
}

func (m Model) handleSubmit(value string) (tea.Model, tea.Cmd) {
	if cmd, args, ok := components.ParseSlashCommand(value); ok {
		return m.handleSlashCommand(cmd, args)
	}
	m.notices = nil
	m.turn++
	m.refreshChat()
	return m, sendCmd(m.ctx, m.deps.Session, value, m.turn)
}

func (m Model) cancelReply() (tea.Model, tea.Cmd) {
	if !m.session.Loading {
		m.notice(components.RoleSystem, "No reply in flight.")
		return m, nil
	}
	m.deps.Session.Abort()
	m.notice(components.RoleSystem, "Reply cancelled.")
	return m, nil
}

func (m Model) handleSlashCommand(cmd string, args []string) (tea.Model, tea.Cmd) {
	switch cmd {
	case "/help":
		m.notice(components.RoleSystem, helpText())

	case "/quit", "/exit":
		m.quitting = true
		return m, tea.Quit

	case "/cancel":
		return m.cancelReply()

	case "/lookup":
		m.startLookup(args)

	case "/hide":
		m.deps.Resolver.Hide()

	case "/clear":
		m.notices = nil
		m.deps.Session.Reset()
		if m.deps.Chats != nil {
			return m, saveCmd(m.ctx, m.deps.Chats, nil)
		}

	case "/new", "/chats", "/open", "/rename", "/delete":
		if m.deps.Chats == nil {
			m.notice(components.RoleSystem, "Chat history is disabled.")
			break
		}
		m.handleHistory(cmd, args)

	default:
		m.notice(components.RoleSystem, fmt.Sprintf("Unknown command: %s. Type /help for available commands.", cmd))
	}
	return m, nil
}

func (m *Model) startLookup(args []string) {
	span, surrounding, explicit := parseLookup(args)
	if !explicit {
		surrounding = lookupContext(m.deps.Session.Messages(), span)
	}
	req, err := domain.NewLookupRequest(span, surrounding, domain.Position{})
	if err == nil {
		err = m.deps.Resolver.Show(m.ctx, req)
	}
	if err != nil {
		m.notice(components.RoleError, "Usage: /lookup <span> [| context]\n  "+err.Error())
		return
	}
	if !m.split.Visible && m.split.Show() {
		m.layout()
	}
}

func (m *Model) handleHistory(cmd string, args []string) {
	chats := m.deps.Chats
	switch cmd {
	case "/new":
		m.deps.Session.Reset()
		chat, err := chats.CreateNewChat(m.ctx)
		m.notices = nil
		m.statusBar.ChatName = chat.Name
		if err != nil {
			m.notice(components.RoleError, uxerror.Humanize(err).Render())
			return
		}
		m.notice(components.RoleSystem, theme.SymbolSuccess+" Started a new chat.")

	case "/chats":
		list := chats.Chats()
		if len(list) == 0 {
			m.notice(components.RoleSystem, "No saved chats.")
			return
		}
		active, _ := chats.Active()
		var sb strings.Builder
		sb.WriteString("Chats:")
		for i, c := range list {
			marker := "  "
			if c.ID == active.ID {
				marker = theme.SymbolArrowR + " "
			}
			fmt.Fprintf(&sb, "\n%s%2d. %s (%d messages, %s)", marker, i+1, c.Name, c.MessageCount, components.RelativeTime(c.UpdatedAt))
		}
		m.notice(components.RoleSystem, sb.String())

	case "/open":
		chat, ok := m.chatAt(args)
		if !ok {
			return
		}
		if _, err := chats.Select(chat.ID); err != nil {
			m.notice(components.RoleError, uxerror.Humanize(err).Render())
			return
		}
		m.notices = nil
		m.deps.Session.Load(chat.Messages)
		m.statusBar.ChatName = chat.Name

	case "/rename":
		name := strings.TrimSpace(strings.Join(args, " "))
		active, ok := chats.Active()
		if name == "" || !ok {
			m.notice(components.RoleSystem, "Usage: /rename <name> (with a chat open)")
			return
		}
		if err := chats.Rename(m.ctx, active.ID, name); err != nil {
			m.notice(components.RoleError, uxerror.Humanize(err).Render())
			return
		}
		m.statusBar.ChatName = name

	case "/delete":
		target, ok := chats.Active()
		if len(args) > 0 {
			target, ok = m.chatAt(args)
		}
		if !ok {
			m.notice(components.RoleSystem, "Nothing to delete.")
			return
		}
		active, _ := chats.Active()
		if err := chats.Delete(m.ctx, target.ID); err != nil {
			m.notice(components.RoleError, uxerror.Humanize(err).Render())
			return
		}
		if target.ID == active.ID {
			m.notices = nil
			m.deps.Session.Reset()
			m.statusBar.ChatName = ""
		}
		m.notice(components.RoleSystem, fmt.Sprintf("%s Deleted %q.", theme.SymbolSuccess, target.Name))
	}
}

// chatAt resolves a 1-based /chats index argument.
func (m *Model) chatAt(args []string) (domain.Chat, bool) {
	list := m.deps.Chats.Chats()
	if len(args) == 0 {
		m.notice(components.RoleSystem, "Give a chat number from /chats.")
		return domain.Chat{}, false
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 || n > len(list) {
		m.notice(components.RoleSystem, fmt.Sprintf("No chat %q. See /chats.", args[0]))
		return domain.Chat{}, false
	}
	return list[n-1], true
}

func (m *Model) notice(role components.MessageRole, text string) {
	m.notices = append(m.notices, components.ChatMessage{Role: role, Content: text})
	m.refreshChat()
}

// refreshChat renders the session transcript followed by local notices.
func (m *Model) refreshChat() {
	msgs := m.session.Messages
	out := make([]components.ChatMessage, 0, len(msgs)+len(m.notices))
	for i, msg := range msgs {
		role := components.RoleUser
		if msg.Sender == domain.SenderAssistant {
			role = components.RoleAssistant
		}
		out = append(out, components.ChatMessage{
			ID:        msg.ID,
			Role:      role,
			Content:   msg.Text,
			Timestamp: msg.Timestamp,
			Streaming: m.session.Loading && i == len(msgs)-1 && role == components.RoleAssistant,
		})
	}
	out = append(out, m.notices...)
	m.chatView.SetMessages(out)
}

func defaultHints() []components.KeyHint {
	return []components.KeyHint{
		{Key: "Enter", Desc: "Send"},
		{Key: "Ctrl+T", Desc: "Lookup"},
		{Key: "Ctrl+N/P", Desc: "Source"},
		{Key: "/help", Desc: "Help"},
		{Key: "Ctrl+C", Desc: "Quit"},
	}
}

func lookupHints() []components.KeyHint {
	return []components.KeyHint{
		{Key: "Tab", Desc: "Chat"},
		{Key: "Up/Down", Desc: "Scroll"},
		{Key: "Ctrl+N/P", Desc: "Source"},
		{Key: "Esc", Desc: "Dismiss"},
	}
}

func helpText() string {
	var sb strings.Builder
	sb.WriteString("Commands:")
	for _, c := range slashCommands {
		usage := c.Name
		if c.Args != "" {
			usage += " " + c.Args
		}
		fmt.Fprintf(&sb, "\n  %-28s %s", usage, c.Description)
	}
	sb.WriteString(`

Keys:
  Enter        Send (a new message replaces the reply in flight;
               on empty input it cancels the reply)
  Alt+Enter    New line
  Ctrl+T       Toggle the lookup pane
  Tab          Switch pane focus
  Ctrl+N/P     Next/previous lookup source
  Esc          Dismiss the lookup
  PgUp/PgDn    Scroll
  Ctrl+C       Cancel the reply, or quit`)
	return sb.String()
}
