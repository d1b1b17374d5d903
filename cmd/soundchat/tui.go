package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	chat "github.com/soundwave-music/chat-go"
)

// loadMoreThreshold is how close to the top, in lines, the viewport must be
// scrolled before older history is requested.
const loadMoreThreshold = 2

// ============================================================================
// Styles
// ============================================================================

var (
	accentColor = lipgloss.Color("#1DB954")
	mutedColor  = lipgloss.Color("#9CA3AF")
	errorColor  = lipgloss.Color("#EF4444")

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(accentColor).
			Border(lipgloss.NormalBorder(), false, false, true, false).
			BorderForeground(mutedColor).
			Padding(0, 1)

	footerStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), true, false, false, false).
			BorderForeground(mutedColor).
			Padding(0, 1)

	timeStyle    = lipgloss.NewStyle().Foreground(mutedColor)
	ownStyle     = lipgloss.NewStyle().Foreground(accentColor)
	otherStyle   = lipgloss.NewStyle().Bold(true)
	pendingStyle = lipgloss.NewStyle().Faint(true)
	failedStyle  = lipgloss.NewStyle().Foreground(errorColor)
	mutedStyle   = lipgloss.NewStyle().Foreground(mutedColor).Italic(true)
	onlineStyle  = lipgloss.NewStyle().Foreground(accentColor)
)

// ============================================================================
// Messages
// ============================================================================

// refreshMsg asks the model to re-render from session state.
type refreshMsg struct{}

type noteMsg chat.Notification

type contactsMsg struct {
	users []chat.User
	err   error
}

type sentMsg struct {
	msg chat.Message
	err error
}

// loadedMoreMsg reports a finished LoadMore together with the viewport
// geometry captured before it started.
type loadedMoreMsg struct {
	ok         bool
	prevHeight int
	prevOffset int
}

type errMsg struct{ err error }

// ============================================================================
// Model
// ============================================================================

type model struct {
	ctx     context.Context
	session *chat.Session
	initial chat.Conversation

	contacts []chat.User
	known    map[string]chat.User

	viewport viewport.Model
	input    textinput.Model
	ready    bool
	width    int
	height   int

	loadingMore bool
	dirty       bool
	note        *chat.Notification
}

func newModel(ctx context.Context, session *chat.Session, initial chat.Conversation) model {
	ti := textinput.New()
	ti.Placeholder = "Message"
	ti.CharLimit = 2000
	ti.Focus()

	return model{
		ctx:     ctx,
		session: session,
		initial: initial,
		known:   make(map[string]chat.User),
		input:   ti,
	}
}

// chatKeyMap keeps letter keys free for the input box.
func chatKeyMap() viewport.KeyMap {
	return viewport.KeyMap{
		PageUp:       key.NewBinding(key.WithKeys("pgup")),
		PageDown:     key.NewBinding(key.WithKeys("pgdown")),
		HalfPageUp:   key.NewBinding(key.WithKeys("ctrl+u")),
		HalfPageDown: key.NewBinding(key.WithKeys("ctrl+d")),
		Up:           key.NewBinding(key.WithKeys("up")),
		Down:         key.NewBinding(key.WithKeys("down")),
	}
}

func (m model) Init() tea.Cmd {
	cmds := []tea.Cmd{textinput.Blink, m.connect(), m.loadContacts()}
	if !m.initial.IsZero() {
		cmds = append(cmds, m.selectConversation(m.initial))
	}
	return tea.Batch(cmds...)
}

// ── Commands ─────────────────────────────────────────────

func (m model) connect() tea.Cmd {
	return func() tea.Msg {
		// Failures are retried by the connection and surfaced as notes.
		_ = m.session.Connect(m.ctx)
		return refreshMsg{}
	}
}

func (m model) loadContacts() tea.Cmd {
	return func() tea.Msg {
		users, err := m.session.Following(m.ctx)
		return contactsMsg{users: users, err: err}
	}
}

func (m model) selectConversation(conv chat.Conversation) tea.Cmd {
	peer, ok := m.known[conv.PeerID]
	if !ok {
		peer = chat.User{ID: conv.PeerID}
	}
	return func() tea.Msg {
		var err error
		if conv.IsRoom() {
			err = m.session.SelectRoom(m.ctx, conv.RoomID)
		} else {
			err = m.session.SelectPeer(m.ctx, peer)
		}
		if err != nil {
			return errMsg{err}
		}
		return refreshMsg{}
	}
}

func (m model) send(content string) tea.Cmd {
	return func() tea.Msg {
		msg, err := m.session.Send(m.ctx, content)
		return sentMsg{msg: msg, err: err}
	}
}

func (m model) retry(tempID string) tea.Cmd {
	return func() tea.Msg {
		msg, err := m.session.Retry(m.ctx, tempID)
		return sentMsg{msg: msg, err: err}
	}
}

// maybeLoadMore requests older history when the viewport is near the top.
// The geometry is captured now so the scroll position can be restored once
// the taller content is rendered.
func (m *model) maybeLoadMore() tea.Cmd {
	if !m.ready || m.loadingMore || m.viewport.YOffset > loadMoreThreshold {
		return nil
	}
	st := m.session.PageState()
	if st.Conversation.IsZero() || !st.HasMore || st.IsLoading {
		return nil
	}
	m.loadingMore = true
	prevHeight, prevOffset := m.viewport.TotalLineCount(), m.viewport.YOffset
	session, ctx := m.session, m.ctx
	return func() tea.Msg {
		ok := session.LoadMore(ctx)
		return loadedMoreMsg{ok: ok, prevHeight: prevHeight, prevOffset: prevOffset}
	}
}

// ── Update ───────────────────────────────────────────────

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		vh := msg.Height - 5
		if vh < 3 {
			vh = 3
		}
		if !m.ready {
			m.viewport = viewport.New(msg.Width, vh)
			m.viewport.KeyMap = chatKeyMap()
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = vh
		}
		m.input.Width = msg.Width - 6
		m.render(true)

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "enter":
			content := strings.TrimSpace(m.input.Value())
			if content == "" {
				return m, nil
			}
			m.input.Reset()
			return m, m.send(content)
		case "ctrl+r":
			if tempID := lastFailed(m.session.Visible()); tempID != "" {
				return m, m.retry(tempID)
			}
			return m, nil
		case "tab":
			if next, ok := m.nextContact(); ok {
				return m, m.selectConversation(chat.Conversation{PeerID: next.ID})
			}
			return m, nil
		case "home":
			m.viewport.GotoTop()
			load := m.maybeLoadMore()
			return m, load
		case "pgup", "pgdown", "up", "down", "ctrl+u", "ctrl+d":
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			load := m.maybeLoadMore()
			return m, tea.Batch(cmd, load)
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd

	case tea.MouseMsg:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		load := m.maybeLoadMore()
		return m, tea.Batch(cmd, load)

	case refreshMsg:
		if m.loadingMore {
			m.dirty = true
			return m, nil
		}
		m.render(false)

	case loadedMoreMsg:
		m.loadingMore = false
		m.dirty = false
		m.render(false)
		if msg.ok {
			m.viewport.SetYOffset(chat.AnchorScroll(msg.prevHeight, m.viewport.TotalLineCount(), msg.prevOffset))
		}

	case contactsMsg:
		if msg.err != nil {
			m.note = &chat.Notification{Level: chat.NotifyError, Message: "Could not load contacts: " + msg.err.Error()}
			return m, nil
		}
		m.contacts = msg.users
		for _, u := range msg.users {
			m.known[u.ID] = u
		}
		if m.session.Active().IsZero() && len(msg.users) > 0 {
			cmds = append(cmds, m.selectConversation(chat.Conversation{PeerID: msg.users[0].ID}))
		}
		m.render(false)

	case sentMsg:
		if msg.err != nil {
			m.note = &chat.Notification{Level: chat.NotifyError, Message: msg.err.Error()}
		}
		m.render(true)

	case noteMsg:
		n := chat.Notification(msg)
		m.note = &n

	case errMsg:
		m.note = &chat.Notification{Level: chat.NotifyError, Message: msg.err.Error()}
	}

	return m, tea.Batch(cmds...)
}

func (m *model) nextContact() (chat.User, bool) {
	if len(m.contacts) == 0 {
		return chat.User{}, false
	}
	active := m.session.Active().PeerID
	for i, u := range m.contacts {
		if u.ID == active {
			return m.contacts[(i+1)%len(m.contacts)], true
		}
	}
	return m.contacts[0], true
}

func lastFailed(msgs []chat.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Error {
			return msgs[i].TempID
		}
	}
	return ""
}

// ── View ─────────────────────────────────────────────────

// nameOf resolves a sender using contacts and the selected peer.
func (m model) nameOf(userID string) string {
	if peer, ok := m.session.Peer(); ok && peer.ID == userID {
		return displayName(userID, m.session.Self().ID, map[string]chat.User{userID: peer})
	}
	return displayName(userID, m.session.Self().ID, m.known)
}

// render rebuilds the viewport content. The view follows new messages when
// it was already at the bottom, or when follow is set.
func (m *model) render(follow bool) {
	if !m.ready {
		return
	}
	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(m.messageLines())
	if follow || atBottom {
		m.viewport.GotoBottom()
	}
}

func (m *model) messageLines() string {
	selfID := m.session.Self().ID
	var b strings.Builder

	st := m.session.PageState()
	switch {
	case st.Conversation.IsZero():
		b.WriteString(mutedStyle.Render("Pick someone to chat with (tab cycles contacts)."))
		return b.String()
	case st.IsLoading:
		b.WriteString(mutedStyle.Render("Loading messages…"))
		b.WriteByte('\n')
	case st.IsLoadingMore:
		b.WriteString(mutedStyle.Render("Loading older messages…"))
		b.WriteByte('\n')
	case !st.HasMore:
		b.WriteString(mutedStyle.Render("Beginning of conversation"))
		b.WriteByte('\n')
	}

	for i, msg := range m.session.Visible() {
		if i > 0 {
			b.WriteByte('\n')
		}
		ts := timeStyle.Render(msg.CreatedAt.Local().Format("15:04"))
		name := m.nameOf(msg.SenderID)
		if msg.SenderID == selfID {
			name = ownStyle.Render(name)
		} else {
			name = otherStyle.Render(name)
		}
		line := fmt.Sprintf("%s %s: %s", ts, name, msg.Content)
		switch {
		case msg.Error:
			line = failedStyle.Render(line + "  (not sent, ctrl+r to retry)")
		case msg.Pending:
			line = pendingStyle.Render(line)
		}
		b.WriteString(line)
	}
	return b.String()
}

func (m model) header() string {
	conv := m.session.Active()
	title := "soundchat"
	status := ""
	switch {
	case conv.IsRoom():
		title = "# " + conv.RoomID
	case conv.PeerID != "":
		title = m.nameOf(conv.PeerID)
		presence := m.session.Presence()
		if presence.IsOnline(conv.PeerID) {
			status = onlineStyle.Render("● online")
			if a := presence.Activity(conv.PeerID); a != "" {
				status += mutedStyle.Render("  ♪ " + a)
			}
		} else {
			status = mutedStyle.Render("○ offline")
		}
	}
	conn := mutedStyle.Render(string(m.session.ConnState()))
	return headerStyle.Width(m.width).Render(title + "  " + status + "  " + conn)
}

func (m model) footer() string {
	line := ""
	if m.note != nil {
		if m.note.Level == chat.NotifyError {
			line = failedStyle.Render(m.note.Message)
		} else {
			line = mutedStyle.Render(m.note.Message)
		}
	}
	return footerStyle.Width(m.width).Render(m.input.View() + "\n" + line)
}

func (m model) View() string {
	if !m.ready {
		return "Connecting…"
	}
	return lipgloss.JoinVertical(lipgloss.Left, m.header(), m.viewport.View(), m.footer())
}
