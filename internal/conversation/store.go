// Package conversation owns the list of conversations and the selected one.
//
// Only the message pipeline appends to a transcript; selecting a conversation
// never changes it.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"papermind/internal/logging"
	"papermind/internal/types"

	"github.com/google/uuid"
)

// ErrIndexNotCleared is returned alongside a newly created conversation when
// the backend index could not be wiped. The conversation exists and is
// selected; answers may still draw on documents uploaded before it.
var ErrIndexNotCleared = errors.New("backend index was not cleared")

// ErrNotFound is returned for an unknown conversation id.
var ErrNotFound = errors.New("conversation not found")

// IndexClearer wipes the backend's shared embedding index.
type IndexClearer interface {
	ClearIndex(ctx context.Context) error
}

// Repository persists conversations. Store works without one.
type Repository interface {
	LoadConversations(ctx context.Context, owner string) ([]types.Conversation, error)
	SaveConversation(ctx context.Context, owner string, c types.Conversation) error
	AppendMessage(ctx context.Context, conversationID string, m types.Message) error
}

// Store is safe for concurrent use.
type Store struct {
	clearer IndexClearer
	repo    Repository

	mu            sync.RWMutex
	owner         string
	conversations []types.Conversation
	selected      string

	newID func() string
	now   func() time.Time
}

// New creates an empty store. repo may be nil.
func New(clearer IndexClearer, repo Repository) *Store {
	return &Store{
		clearer: clearer,
		repo:    repo,
		newID:   uuid.NewString,
		now:     time.Now,
	}
}

// Load replaces the in-memory list with owner's persisted conversations and
// selects the most recent one. Without a repository it only records owner.
func (s *Store) Load(ctx context.Context, owner string) error {
	var loaded []types.Conversation
	if s.repo != nil {
		var err error
		loaded, err = s.repo.LoadConversations(ctx, owner)
		if err != nil {
			return fmt.Errorf("failed to load conversations: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.owner = owner
	s.conversations = loaded
	s.selected = ""
	if n := len(loaded); n > 0 {
		s.selected = loaded[n-1].ID
	}
	logging.Conversation("Loaded %d conversations for %s", len(loaded), owner)
	return nil
}

// Reset forgets every conversation in memory, as on logout.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.owner = ""
	s.conversations = nil
	s.selected = ""
}

// Create wipes the backend index, then appends a fresh empty conversation and
// selects it. A failed wipe still creates the conversation and is reported
// as ErrIndexNotCleared.
func (s *Store) Create(ctx context.Context) (types.Conversation, error) {
	var warn error
	if err := s.clearer.ClearIndex(ctx); err != nil {
		logging.ConversationWarn("Index clear failed, stale documents may leak into the new conversation: %v", err)
		warn = fmt.Errorf("%w: %w", ErrIndexNotCleared, err)
	}

	c := types.Conversation{
		ID:        s.newID(),
		Title:     types.DefaultConversationTitle,
		CreatedAt: s.now(),
	}

	s.mu.Lock()
	s.conversations = append(s.conversations, c)
	s.selected = c.ID
	owner := s.owner
	s.mu.Unlock()

	if s.repo != nil {
		if err := s.repo.SaveConversation(ctx, owner, c); err != nil {
			logging.ConversationWarn("Failed to persist conversation %s: %v", c.ID, err)
		}
	}
	logging.Conversation("Created conversation %s", c.ID)
	return c, warn
}

// Select switches the active conversation.
func (s *Store) Select(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.find(id) < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.selected = id
	return nil
}

// SelectedID returns the active conversation id, or "" when none.
func (s *Store) SelectedID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selected
}

// Selected returns a copy of the active conversation.
func (s *Store) Selected() (types.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.find(s.selected)
	if i < 0 {
		return types.Conversation{}, false
	}
	return s.conversations[i].Clone(), true
}

// Get returns a copy of the conversation with the given id.
func (s *Store) Get(id string) (types.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.find(id)
	if i < 0 {
		return types.Conversation{}, false
	}
	return s.conversations[i].Clone(), true
}

// List returns copies of all conversations, oldest first.
func (s *Store) List() []types.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Conversation, len(s.conversations))
	for i, c := range s.conversations {
		out[i] = c.Clone()
	}
	return out
}

// Messages returns a copy of a conversation's transcript.
func (s *Store) Messages(id string) []types.Message {
	c, _ := s.Get(id)
	return c.Messages
}

// Append adds m to the end of conversation id. The first User message also
// becomes the conversation title.
func (s *Store) Append(ctx context.Context, id string, m types.Message) error {
	s.mu.Lock()
	i := s.find(id)
	if i < 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	c := &s.conversations[i]
	c.Messages = append(c.Messages, m)
	retitled := false
	if m.Role == types.RoleUser && c.Title == types.DefaultConversationTitle && !hasEarlierUser(c.Messages) {
		c.Title = titleFrom(m.Content)
		retitled = true
	}
	snapshot := types.Conversation{ID: c.ID, Title: c.Title, CreatedAt: c.CreatedAt}
	owner := s.owner
	s.mu.Unlock()

	if s.repo == nil {
		return nil
	}
	if err := s.repo.AppendMessage(ctx, id, m); err != nil {
		logging.ConversationWarn("Failed to persist message in %s: %v", id, err)
	}
	if retitled {
		if err := s.repo.SaveConversation(ctx, owner, snapshot); err != nil {
			logging.ConversationWarn("Failed to persist title of %s: %v", id, err)
		}
	}
	return nil
}

func (s *Store) find(id string) int {
	if id == "" {
		return -1
	}
	for i := range s.conversations {
		if s.conversations[i].ID == id {
			return i
		}
	}
	return -1
}

// hasEarlierUser reports whether a User message precedes the last entry.
func hasEarlierUser(msgs []types.Message) bool {
	for _, m := range msgs[:len(msgs)-1] {
		if m.Role == types.RoleUser {
			return true
		}
	}
	return false
}

const maxTitleLen = 40

func titleFrom(content string) string {
	title := strings.Join(strings.Fields(content), " ")
	if r := []rune(title); len(r) > maxTitleLen {
		title = string(r[:maxTitleLen-3]) + "..."
	}
	if title == "" {
		return types.DefaultConversationTitle
	}
	return title
}
