package chat

import (
	"context"
	"errors"

	"papermind/internal/conversation"
	"papermind/internal/logging"
	"papermind/internal/pipeline"
	"papermind/internal/tokenstore"
	"papermind/internal/types"

	tea "github.com/charmbracelet/bubbletea"
)

// waitForSession listens for session snapshots.
func waitForSession(ch <-chan types.Session) tea.Cmd {
	return func() tea.Msg {
		s, ok := <-ch
		if !ok {
			return nil
		}
		return sessionMsg(s)
	}
}

// waitForEvent listens for pipeline signals.
func waitForEvent(ch <-chan pipeline.Event) tea.Cmd {
	return func() tea.Msg {
		e, ok := <-ch
		if !ok {
			return nil
		}
		return eventMsg(e)
	}
}

// waitForStorage listens for changes made by other processes.
func waitForStorage(ch <-chan tokenstore.Change) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		c, ok := <-ch
		if !ok {
			return nil
		}
		return storageMsg(c)
	}
}

func (m Model) initializeSession() tea.Cmd {
	sess, ctx := m.cfg.Session, m.ctx
	return func() tea.Msg {
		sess.Initialize(ctx)
		return nil
	}
}

func (m Model) login(email, password string) tea.Cmd {
	sess, ctx := m.cfg.Session, m.ctx
	return func() tea.Msg {
		return loginDone{err: sess.Login(ctx, email, password)}
	}
}

func (m Model) register(reg types.Registration) tea.Cmd {
	sess, ctx := m.cfg.Session, m.ctx
	return func() tea.Msg {
		return registerDone{err: sess.Register(ctx, reg)}
	}
}

// loadConversations loads the account's conversations. A fresh login, or an
// account with none yet, starts a new conversation, which clears the
// backend index.
func (m Model) loadConversations(owner string, fresh bool) tea.Cmd {
	convs, pipes, ctx := m.cfg.Conversations, m.cfg.Pipelines, m.ctx
	return func() tea.Msg {
		if err := convs.Load(ctx, owner); err != nil {
			logging.Get(logging.CategoryUI).Warn("Failed to load conversations: %v", err)
		}
		if fresh || convs.SelectedID() == "" {
			if _, err := pipes.ResetConversation(ctx); err != nil && !errors.Is(err, conversation.ErrIndexNotCleared) {
				return conversationsReady{err: err}
			}
		}
		return conversationsReady{}
	}
}

func (m Model) newConversation() tea.Cmd {
	pipes, ctx := m.cfg.Pipelines, m.ctx
	return func() tea.Msg {
		_, err := pipes.ResetConversation(ctx)
		if errors.Is(err, conversation.ErrIndexNotCleared) {
			// Surfaced as the new pipeline's banner.
			err = nil
		}
		return conversationsReady{err: err}
	}
}

// runOperation performs the network half of a submission off the event loop.
func runOperation(ctx context.Context, conversationID string, op *pipeline.Operation) tea.Cmd {
	return func() tea.Msg {
		return opDone{conversationID: conversationID, err: op.Run(ctx)}
	}
}
