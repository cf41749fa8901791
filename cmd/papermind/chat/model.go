// Package chat implements the interactive papermind client: a login and
// registration screen in front of a chat over the uploaded documents.
//
// The view only renders controller snapshots and forwards intents. Network
// calls run in tea.Cmd goroutines, so the event loop (theme toggling,
// scrolling, typing) stays responsive while an upload or query is in flight.
package chat

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"papermind/cmd/papermind/ui"
	"papermind/internal/gateway"
	"papermind/internal/logging"
	"papermind/internal/pipeline"
	"papermind/internal/tokenstore"
	"papermind/internal/types"

	"github.com/charmbracelet/bubbles/filepicker"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
)

// InitChat builds the model. Call Init (through tea.Program) to start
// session validation.
func InitChat(ctx context.Context, cfg Config) Model {
	styles := ui.NewStyles(ui.ThemeFor(cfg.Theme.Current()))

	inputs := make([]textinput.Model, fieldCount)
	for i := range inputs {
		ti := textinput.New()
		ti.CharLimit = 128
		ti.Width = 40
		inputs[i] = ti
	}
	inputs[fieldName].Placeholder = "Full name"
	inputs[fieldEmail].Placeholder = "you@example.com"
	inputs[fieldPassword].Placeholder = "Password"
	inputs[fieldPassword].EchoMode = textinput.EchoPassword
	inputs[fieldPassword].EchoCharacter = '•'
	inputs[fieldEmail].Focus()

	ta := textarea.New()
	ta.Placeholder = "Ask a question about your documents..."
	ta.ShowLineNumbers = false
	ta.SetHeight(3)
	ta.CharLimit = 4000
	ta.KeyMap.InsertNewline.SetEnabled(false)

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = styles.Spinner

	fp := filepicker.New()
	fp.CurrentDirectory = cfg.StartDir
	if fp.CurrentDirectory == "" {
		if wd, err := os.Getwd(); err == nil {
			fp.CurrentDirectory = wd
		}
	}

	l := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	l.Title = "Conversations"

	m := Model{
		cfg:        cfg,
		ctx:        ctx,
		inputs:     inputs,
		textarea:   ta,
		viewport:   viewport.New(80, 20),
		spinner:    sp,
		list:       l,
		filepicker: fp,
		styles:     styles,
		viewMode:   LoginView,
		focused:    fieldEmail,
		session:    cfg.Session.Current(),
		sessCh:     cfg.Session.Subscribe(),
	}
	m.renderer = newRenderer(styles, 80)
	return m
}

func newRenderer(styles ui.Styles, width int) *glamour.TermRenderer {
	if width < 20 {
		width = 20
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(styles.GlamourStyle()),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		logging.Get(logging.CategoryUI).Warn("Markdown renderer unavailable: %v", err)
		return nil
	}
	return r
}

// Init starts the listeners and validates the stored token.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		m.spinner.Tick,
		waitForSession(m.sessCh),
		waitForEvent(m.cfg.Pipelines.Events()),
		waitForStorage(m.cfg.StorageChanges),
		m.initializeSession(),
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.layout()
		m.ready = true
		return m, nil

	case tea.FocusMsg:
		m.cfg.Session.OnRegainFocus()
		return m, nil

	case sessionMsg:
		return m.handleSession(types.Session(msg))

	case eventMsg:
		m.handleEvent(pipeline.Event(msg))
		return m, waitForEvent(m.cfg.Pipelines.Events())

	case storageMsg:
		if m.cfg.Theme.OnExternalStorageChange(tokenstore.Change(msg)) {
			m.applyTheme()
		}
		return m, waitForStorage(m.cfg.StorageChanges)

	case loginDone:
		m.submitting = false
		if msg.err != nil {
			m.loggingIn = false
			m.formErr = types.BannerText(msg.err, "Login failed")
			m.inputs[fieldPassword].SetValue("")
		}
		return m, nil

	case registerDone:
		return m.handleRegistered(msg.err)

	case opDone:
		if msg.err != nil && !errors.Is(msg.err, pipeline.ErrStale) {
			logging.UIDebug("operation in %s failed: %v", msg.conversationID, msg.err)
		}
		m.refresh(true)
		return m, nil

	case conversationsReady:
		if msg.err != nil {
			m.notice = fmt.Sprintf("Could not start a conversation: %v", msg.err)
		}
		m.refresh(true)
		return m, nil

	case spinner.TickMsg:
		if !m.busy() {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return m, tea.Quit
		}
		switch m.viewMode {
		case LoginView, RegisterView:
			return m.updateAuthForm(msg)
		case FilePickerView:
			return m.updateFilePicker(msg)
		case ListView:
			return m.updateList(msg)
		default:
			return m.updateChat(msg)
		}
	}

	// The file picker reads directories asynchronously.
	if m.viewMode == FilePickerView {
		var cmd tea.Cmd
		m.filepicker, cmd = m.filepicker.Update(msg)
		return m, cmd
	}
	return m, nil
}

// =============================================================================
// SESSION
// =============================================================================

func (m Model) handleSession(s types.Session) (tea.Model, tea.Cmd) {
	prev := m.session
	m.session = s
	cmds := []tea.Cmd{waitForSession(m.sessCh)}

	switch {
	case s.Authenticated() && (!prev.Authenticated() || prev.Epoch != s.Epoch):
		fresh := m.loggingIn
		m.loggingIn = false
		m.viewMode = ChatView
		m.formErr, m.formInfo, m.notice = "", "", ""
		m.inputs[fieldPassword].SetValue("")
		m.textarea.Focus()
		logging.UI("chat opened for %s", s.Profile.Email)
		cmds = append(cmds, m.loadConversations(s.Profile.Email, fresh))

	case !s.Authenticated() && prev.Authenticated():
		m.cfg.Pipelines.Forget()
		m.cfg.Conversations.Reset()
		m.viewMode = LoginView
		m.textarea.Reset()
		m.textarea.Blur()
		m.focusField(fieldEmail)
		m.viewport.SetContent("")
		logging.UI("returned to login")

	case s.Status == types.StatusAuthenticating:
		cmds = append(cmds, m.spinner.Tick)
	}
	return m, tea.Batch(cmds...)
}

// =============================================================================
// LOGIN / REGISTER
// =============================================================================

func (m *Model) visibleFields() []int {
	if m.viewMode == RegisterView {
		return []int{fieldName, fieldEmail, fieldPassword}
	}
	return []int{fieldEmail, fieldPassword}
}

func (m *Model) focusField(field int) {
	m.focused = field
	for i := range m.inputs {
		if i == field {
			m.inputs[i].Focus()
		} else {
			m.inputs[i].Blur()
		}
	}
}

func (m *Model) cycleFocus(delta int) {
	fields := m.visibleFields()
	pos := 0
	for i, f := range fields {
		if f == m.focused {
			pos = i
		}
	}
	pos = (pos + delta + len(fields)) % len(fields)
	m.focusField(fields[pos])
}

func (m Model) updateAuthForm(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "tab", "down":
		m.cycleFocus(1)
		return m, nil
	case "shift+tab", "up":
		m.cycleFocus(-1)
		return m, nil
	case "ctrl+r":
		if m.viewMode == LoginView {
			m.viewMode = RegisterView
			m.focusField(fieldName)
		} else {
			m.viewMode = LoginView
			m.focusField(fieldEmail)
		}
		m.formErr, m.formInfo = "", ""
		return m, nil
	case "enter":
		if m.submitting {
			return m, nil
		}
		return m.submitAuthForm()
	}

	var cmd tea.Cmd
	m.inputs[m.focused], cmd = m.inputs[m.focused].Update(msg)
	return m, cmd
}

func (m Model) submitAuthForm() (tea.Model, tea.Cmd) {
	email := strings.TrimSpace(m.inputs[fieldEmail].Value())
	password := m.inputs[fieldPassword].Value()
	m.formErr, m.formInfo = "", ""
	m.submitting = true

	if m.viewMode == RegisterView {
		reg := types.Registration{
			Name:     strings.TrimSpace(m.inputs[fieldName].Value()),
			Email:    email,
			Password: password,
		}
		return m, tea.Batch(m.spinner.Tick, m.register(reg))
	}
	m.loggingIn = true
	return m, tea.Batch(m.spinner.Tick, m.login(email, password))
}

func (m Model) handleRegistered(err error) (tea.Model, tea.Cmd) {
	m.submitting = false
	if err != nil {
		switch types.KindOf(err) {
		case types.KindDuplicateAccount:
			m.formErr = "An account with this email already exists"
		case types.KindNetwork:
			m.formErr = "Could not reach the server"
		default:
			m.formErr = types.BannerText(err, "Registration failed")
		}
		return m, nil
	}
	// Registration never signs in; the user logs in next.
	m.viewMode = LoginView
	m.formInfo = "Account created. Please log in."
	m.inputs[fieldName].SetValue("")
	m.inputs[fieldPassword].SetValue("")
	m.focusField(fieldPassword)
	return m, nil
}

// =============================================================================
// CHAT
// =============================================================================

func (m Model) active() *pipeline.Pipeline {
	return m.cfg.Pipelines.Active()
}

func (m Model) busy() bool {
	if m.submitting || m.session.Status == types.StatusAuthenticating {
		return true
	}
	if p := m.active(); p != nil {
		return p.Snapshot().State.Busy()
	}
	return false
}

func (m Model) updateChat(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	p := m.active()

	switch msg.String() {
	case "enter":
		return m.handleSubmit()

	case "esc":
		m.notice = ""
		if p != nil {
			p.DismissBanner()
		}
		m.refresh(false)
		return m, nil

	case "ctrl+o":
		if p == nil {
			return m, nil
		}
		if err := p.SetMode(types.ModeFile); err != nil {
			return m, nil
		}
		m.viewMode = FilePickerView
		return m, m.filepicker.Init()

	case "ctrl+x":
		if p != nil {
			_ = p.ClearFiles()
		}
		return m, nil

	case "ctrl+r":
		if p != nil {
			if n := len(p.Snapshot().Pending); n > 0 {
				_ = p.RemoveFile(n - 1)
			}
		}
		return m, nil

	case "ctrl+n":
		m.textarea.Reset()
		return m, m.newConversation()

	case "ctrl+l":
		m.populateList()
		m.viewMode = ListView
		return m, nil

	case "ctrl+t":
		if _, err := m.cfg.Theme.Toggle(); err != nil {
			m.notice = "Theme could not be saved"
		}
		m.applyTheme()
		return m, nil

	case "ctrl+g":
		if err := m.cfg.Session.Logout(); err != nil {
			logging.Get(logging.CategoryUI).Warn("Logout could not clear storage: %v", err)
		}
		return m, nil

	case "pgup", "pgdown":
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.textarea, cmd = m.textarea.Update(msg)
	return m, cmd
}

func (m Model) handleSubmit() (tea.Model, tea.Cmd) {
	p := m.active()
	if p == nil {
		return m, nil
	}
	op, err := p.Begin(m.ctx, m.textarea.Value())
	if err != nil || op == nil {
		// ErrBusy and local validation leave the input untouched.
		m.refresh(false)
		return m, nil
	}
	if op.Kind() == types.StateQuerying {
		m.textarea.Reset()
	}
	m.refresh(true)
	return m, tea.Batch(m.spinner.Tick, runOperation(m.ctx, p.ConversationID(), op))
}

func (m *Model) handleEvent(e pipeline.Event) {
	p := m.active()
	if p == nil || p.ConversationID() != e.ConversationID {
		return
	}
	m.refresh(e.Kind == pipeline.EventScrollToLatest)
}

func (m Model) updateFilePicker(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "esc" {
		m.viewMode = ChatView
		if p := m.active(); p != nil && len(p.Snapshot().Pending) == 0 {
			_ = p.SetMode(types.ModeText)
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.filepicker, cmd = m.filepicker.Update(msg)
	if ok, path := m.filepicker.DidSelectFile(msg); ok {
		m.viewMode = ChatView
		ref, err := gateway.DetectFile(path)
		if err != nil {
			m.notice = err.Error()
			return m, cmd
		}
		if p := m.active(); p != nil {
			if err := p.AddFiles(ref); err != nil {
				m.notice = err.Error()
			}
		}
		m.refresh(false)
	}
	return m, cmd
}

func (m *Model) populateList() {
	convs := m.cfg.Conversations.List()
	items := make([]list.Item, 0, len(convs))
	selected := 0
	// Newest first, like the sidebar of recent chats.
	for i := len(convs) - 1; i >= 0; i-- {
		c := convs[i]
		if c.ID == m.cfg.Conversations.SelectedID() {
			selected = len(items)
		}
		items = append(items, conversationItem{
			id:    c.ID,
			title: c.Title,
			desc:  fmt.Sprintf("%d messages, %s", len(c.Messages), c.CreatedAt.Format(time.DateTime)),
		})
	}
	m.list.SetItems(items)
	m.list.Select(selected)
}

func (m Model) updateList(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.viewMode = ChatView
		return m, nil
	case "enter":
		if it, ok := m.list.SelectedItem().(conversationItem); ok {
			if err := m.cfg.Pipelines.Select(it.id); err != nil {
				m.notice = err.Error()
			}
		}
		m.viewMode = ChatView
		m.refresh(true)
		return m, nil
	}
	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

// =============================================================================
// LAYOUT
// =============================================================================

func (m *Model) applyTheme() {
	m.styles = ui.NewStyles(ui.ThemeFor(m.cfg.Theme.Current()))
	m.spinner.Style = m.styles.Spinner
	m.renderer = newRenderer(m.styles, m.viewport.Width-4)
	m.refresh(false)
}

const (
	headerHeight   = 1
	footerHeight   = 1
	composerHeight = 5 // textarea plus border
	statusHeight   = 2 // banner and pending files
)

func (m *Model) layout() {
	w := m.width
	if w < 20 {
		w = 20
	}
	h := m.height - headerHeight - footerHeight - composerHeight - statusHeight
	if h < 3 {
		h = 3
	}
	m.viewport.Width = w
	m.viewport.Height = h
	m.textarea.SetWidth(w - 2)
	m.list.SetSize(w, m.height-2)
	m.filepicker.Height = m.height - 4
	m.renderer = newRenderer(m.styles, w-4)
	m.refresh(false)
}

// refresh re-renders the active transcript, optionally scrolling to the end.
func (m *Model) refresh(scroll bool) {
	p := m.active()
	if p == nil {
		m.viewport.SetContent("")
		return
	}
	m.viewport.SetContent(m.renderTranscript(p.Snapshot().Messages))
	if scroll {
		m.viewport.GotoBottom()
	}
}

// RunInteractiveChat starts the interactive client.
func RunInteractiveChat(ctx context.Context, cfg Config) error {
	p := tea.NewProgram(InitChat(ctx, cfg), tea.WithAltScreen(), tea.WithReportFocus(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	return nil
}
