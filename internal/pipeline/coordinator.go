package pipeline

import (
	"context"
	"errors"
	"sync"

	"papermind/internal/conversation"
	"papermind/internal/logging"
	"papermind/internal/types"
)

// Conversations is the slice of the conversation store the coordinator uses.
type Conversations interface {
	Transcript
	Create(ctx context.Context) (types.Conversation, error)
	Select(id string) error
	SelectedID() string
}

// Coordinator keeps one pipeline per conversation and binds the active one to
// the selected conversation.
type Coordinator struct {
	convs  Conversations
	deps   Deps
	events chan Event

	mu        sync.Mutex
	pipelines map[string]*Pipeline
}

// eventBuffer bounds undelivered events. Events are idempotent hints, so a
// full buffer drops them.
const eventBuffer = 64

// NewCoordinator wires pipelines to convs. deps.Transcript is replaced by
// convs.
func NewCoordinator(convs Conversations, deps Deps) *Coordinator {
	deps.Transcript = convs
	return &Coordinator{
		convs:     convs,
		deps:      deps,
		events:    make(chan Event, eventBuffer),
		pipelines: make(map[string]*Pipeline),
	}
}

// Events delivers pipeline and selection signals.
func (c *Coordinator) Events() <-chan Event { return c.events }

func (c *Coordinator) emit(e Event) {
	select {
	case c.events <- e:
	default:
		logging.PipelineDebug("event buffer full, dropping %s", e.Kind)
	}
}

// For returns the pipeline of conversation id, creating it on first use.
func (c *Coordinator) For(id string) *Pipeline {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pipelines[id]
	if !ok {
		p = New(id, c.deps, c.emit)
		c.pipelines[id] = p
	}
	return p
}

// Active returns the pipeline of the selected conversation, or nil when none
// is selected.
func (c *Coordinator) Active() *Pipeline {
	id := c.convs.SelectedID()
	if id == "" {
		return nil
	}
	return c.For(id)
}

// Select switches the active conversation and signals one scroll to latest.
func (c *Coordinator) Select(id string) error {
	if err := c.convs.Select(id); err != nil {
		return err
	}
	c.emit(Event{Kind: EventScrollToLatest, ConversationID: id})
	return nil
}

// ResetConversation starts a new conversation. The store wipes the backend
// index first; a failed wipe still yields the new, empty, Idle pipeline with
// the banner set, and is reported to Deps.OnError. Pending files of the
// previous conversation are dropped when it is Idle; an in-flight operation
// there still completes into its own transcript.
func (c *Coordinator) ResetConversation(ctx context.Context) (*Pipeline, error) {
	prev := c.convs.SelectedID()

	conv, err := c.convs.Create(ctx)
	if err != nil && !errors.Is(err, conversation.ErrIndexNotCleared) {
		return nil, err
	}

	if prev != "" {
		if old := c.existing(prev); old != nil {
			if clearErr := old.ClearFiles(); clearErr == nil {
				old.DismissBanner()
			}
		}
	}

	p := c.For(conv.ID)
	if err != nil {
		p.reportError(err)
		p.mu.Lock()
		p.setBanner(BannerClearFailed)
		p.mu.Unlock()
		p.emit(Event{Kind: EventBannerChanged, ConversationID: conv.ID})
	}
	c.emit(Event{Kind: EventScrollToLatest, ConversationID: conv.ID})
	return p, err
}

func (c *Coordinator) existing(id string) *Pipeline {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pipelines[id]
}

// Forget drops every pipeline, as on logout.
func (c *Coordinator) Forget() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pipelines = make(map[string]*Pipeline)
}
