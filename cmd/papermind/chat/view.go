package chat

import (
	"fmt"
	"strings"

	"papermind/cmd/papermind/ui"
	"papermind/internal/types"

	"github.com/charmbracelet/lipgloss"
)

// View renders the active screen. Anything but an Authenticated session gets
// the login form.
func (m Model) View() string {
	if !m.session.Authenticated() {
		return m.viewAuth()
	}
	switch m.viewMode {
	case FilePickerView:
		return lipgloss.JoinVertical(lipgloss.Left,
			m.styles.Title.Render("Select a PDF to upload"),
			m.filepicker.View(),
			m.styles.Footer.Render("enter select • esc back"),
		)
	case ListView:
		return m.list.View()
	default:
		return m.viewChat()
	}
}

func (m Model) viewAuth() string {
	s := m.styles
	var b strings.Builder

	b.WriteString(ui.Logo(s))
	b.WriteString("\n")

	if m.session.Status == types.StatusAuthenticating && !m.submitting {
		b.WriteString(m.spinner.View() + " Checking your session...")
		return s.Card.Render(b.String())
	}

	register := m.viewMode == RegisterView
	if register {
		b.WriteString(s.Bold.Render("Create an account") + "\n\n")
	} else {
		b.WriteString(s.Bold.Render("Welcome back") + "\n\n")
	}

	labels := map[int]string{fieldName: "Name", fieldEmail: "Email", fieldPassword: "Password"}
	for _, f := range m.visibleFields() {
		label := s.Muted.Render(labels[f])
		if f == m.focused {
			label = s.Prompt.Render(labels[f])
		}
		b.WriteString(label + "\n" + m.inputs[f].View() + "\n\n")
	}

	action := "Login"
	if register {
		action = "Create account"
	}
	if m.submitting {
		b.WriteString(m.spinner.View() + " " + s.Muted.Render(action+"..."))
	} else {
		b.WriteString(s.Button.Render(action))
	}
	b.WriteString("\n\n")

	// Third-party sign-in is not supported; the button is shown disabled.
	b.WriteString(s.DisabledButton.Render("G  Continue with Google") + "\n")

	if m.formErr != "" {
		b.WriteString("\n" + s.Error.Render(m.formErr) + "\n")
	}
	if m.formInfo != "" {
		b.WriteString("\n" + s.Success.Render(m.formInfo) + "\n")
	}

	toggle := "ctrl+r create an account"
	if register {
		toggle = "ctrl+r back to login"
	}
	b.WriteString("\n" + s.Footer.Render("tab next field • enter submit • "+toggle+" • ctrl+c quit"))

	card := s.Card.Render(b.String())
	if m.width > 0 && m.height > 0 {
		return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, card)
	}
	return card
}

func (m Model) viewChat() string {
	s := m.styles
	p := m.active()

	header := m.renderHeader()
	if p == nil {
		return lipgloss.JoinVertical(lipgloss.Left, header, m.spinner.View()+" Starting a new conversation...")
	}
	snap := p.Snapshot()

	var status []string
	switch {
	case snap.Banner != "":
		status = append(status, s.Banner.Render(snap.Banner)+s.Muted.Render("  esc to dismiss"))
	case m.notice != "":
		status = append(status, s.Warning.Render(m.notice))
	default:
		status = append(status, "")
	}

	switch snap.State {
	case types.StateUploading:
		status = append(status, m.spinner.View()+" Uploading...")
	case types.StateQuerying:
		status = append(status, m.spinner.View()+" Thinking...")
	default:
		status = append(status, m.renderPending(snap.Pending, snap.Mode))
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		m.viewport.View(),
		strings.Join(status, "\n"),
		m.textarea.View(),
		s.Footer.Render("enter send • ctrl+o add PDF • ctrl+x clear files • ctrl+n new chat • ctrl+l chats • ctrl+t theme • ctrl+g logout"),
	)
}

func (m Model) renderHeader() string {
	s := m.styles
	profile := m.session.Profile
	if profile.Email == "" {
		profile = m.cfg.Session.CachedProfile()
	}
	title := types.DefaultConversationTitle
	if c, ok := m.cfg.Conversations.Selected(); ok {
		title = c.Title
	}
	left := fmt.Sprintf("PaperMind %s │ %s", m.cfg.Version, title)
	right := fmt.Sprintf("%s <%s> │ %s", profile.DisplayName(), profile.DisplayEmail(), m.cfg.Theme.Current())

	gap := m.width - lipgloss.Width(left) - lipgloss.Width(right) - 4
	if gap < 1 {
		gap = 1
	}
	return s.Header.Render(left + strings.Repeat(" ", gap) + right)
}

func (m Model) renderPending(files []types.FileRef, mode types.InputMode) string {
	s := m.styles
	if len(files) == 0 {
		if mode == types.ModeFile {
			return s.Muted.Render("No files selected")
		}
		return ""
	}
	chips := make([]string, len(files))
	for i, f := range files {
		chips[i] = s.FileChip.Render(f.Name)
	}
	return lipgloss.JoinHorizontal(lipgloss.Center, chips...) +
		s.Muted.Render(fmt.Sprintf("  %d file(s) ready • enter upload • ctrl+r remove last", len(files)))
}

func (m Model) renderTranscript(msgs []types.Message) string {
	s := m.styles
	if len(msgs) == 0 {
		return s.Subtitle.Render("Upload a PDF with ctrl+o, then ask questions about it.")
	}

	width := m.viewport.Width - 4
	if width < 20 {
		width = 20
	}
	var b strings.Builder
	for i, msg := range msgs {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(m.renderMessage(msg, width))
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) renderMessage(msg types.Message, width int) string {
	s := m.styles
	stamp := s.Muted.Render(msg.Timestamp.Format("15:04"))
	content := msg.Content
	if msg.IsImage {
		content = "[image] " + content
	}

	switch msg.Role {
	case types.RoleUser:
		return s.Prompt.Render("You ") + stamp + "\n" + s.ForRole(msg.Role).Width(width).Render(content)
	case types.RoleAssistant:
		if m.renderer != nil {
			if out, err := m.renderer.Render(content); err == nil {
				content = strings.TrimRight(out, "\n")
			}
		}
		return s.Bold.Render("PaperMind ") + stamp + "\n" + s.ForRole(msg.Role).Render(content)
	case types.RoleSystem:
		return s.ForRole(msg.Role).Render("✓ "+content) + " " + stamp
	case types.RoleError:
		return s.ForRole(msg.Role).Width(width).Render(content) + " " + stamp
	default:
		return content
	}
}
