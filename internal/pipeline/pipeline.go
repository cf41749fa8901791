// Package pipeline runs the per-conversation upload/query state machine.
//
//	Idle -> Uploading -> Idle
//	Idle -> Querying  -> Idle
//
// Transitions start only from Idle, so at most one operation is in flight per
// conversation and transcript order equals submission order.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"papermind/internal/gateway"
	"papermind/internal/logging"
	"papermind/internal/types"
)

// Banner and transcript texts shown to the user.
const (
	BannerOnlyPDF      = "Please select only PDF files"
	BannerNoFiles      = "Please select at least one PDF file"
	BannerUploadFailed = "Failed to upload PDF"
	BannerQueryFailed  = "Failed to get response"
	BannerClearFailed  = "Failed to clear chat"

	QueryFailureText = "Sorry, I encountered an error. Please try again or upload a PDF first."
)

var (
	// ErrBusy rejects submissions and pending-file edits while an operation
	// is in flight.
	ErrBusy = errors.New("an operation is already in progress")

	// ErrStale is returned by Operation.Run when the session changed while
	// the request was in flight; the result was dropped.
	ErrStale = errors.New("session changed, result discarded")
)

// Backend is the slice of the gateway the pipeline calls.
type Backend interface {
	UploadDocuments(ctx context.Context, files []types.FileRef) (gateway.UploadResult, error)
	QueryDocuments(ctx context.Context, question string) (string, error)
}

// Transcript is where the pipeline appends messages.
type Transcript interface {
	Append(ctx context.Context, conversationID string, m types.Message) error
	Messages(conversationID string) []types.Message
}

// Deps are shared by every pipeline of a coordinator.
type Deps struct {
	Backend    Backend
	Transcript Transcript

	// Epoch returns the session epoch. Results of operations submitted under
	// an older epoch are discarded.
	Epoch func() uint64

	// OnError sees every backend failure; the session uses it to close itself
	// on Unauthorized responses.
	OnError func(error) bool
}

// Snapshot is a read-only view of one pipeline.
type Snapshot struct {
	ConversationID string
	State          types.OperationState
	Mode           types.InputMode
	Pending        []types.FileRef
	Banner         string
	Messages       []types.Message
}

// Pipeline is the state machine for one conversation.
type Pipeline struct {
	convID string
	deps   Deps
	emit   func(Event)

	mu      sync.Mutex
	state   types.OperationState
	pending []types.FileRef
	mode    types.InputMode
	banner  string
}

// New creates an Idle pipeline for conversationID. emit may be nil.
func New(conversationID string, deps Deps, emit func(Event)) *Pipeline {
	if deps.Epoch == nil {
		deps.Epoch = func() uint64 { return 0 }
	}
	if emit == nil {
		emit = func(Event) {}
	}
	return &Pipeline{convID: conversationID, deps: deps, emit: emit}
}

// ConversationID returns the conversation this pipeline appends to.
func (p *Pipeline) ConversationID() string { return p.convID }

// Snapshot returns the current state and transcript.
func (p *Pipeline) Snapshot() Snapshot {
	p.mu.Lock()
	s := Snapshot{
		ConversationID: p.convID,
		State:          p.state,
		Mode:           p.mode,
		Pending:        append([]types.FileRef(nil), p.pending...),
		Banner:         p.banner,
	}
	p.mu.Unlock()
	s.Messages = p.deps.Transcript.Messages(p.convID)
	return s
}

// =============================================================================
// PENDING FILES
// =============================================================================

// AddFiles queues files for upload and switches to file mode. Picking files
// dismisses any banner. Files already queued (same path) are skipped.
func (p *Pipeline) AddFiles(files ...types.FileRef) error {
	p.mu.Lock()
	if p.state.Busy() {
		p.mu.Unlock()
		return ErrBusy
	}
	for _, f := range files {
		if !containsPath(p.pending, f.Path) {
			p.pending = append(p.pending, f)
		}
	}
	if len(p.pending) > 0 {
		p.mode = types.ModeFile
	}
	hadBanner := p.setBanner("")
	p.mu.Unlock()

	p.emit(Event{Kind: EventStateChanged, ConversationID: p.convID})
	if hadBanner {
		p.emit(Event{Kind: EventBannerChanged, ConversationID: p.convID})
	}
	return nil
}

// RemoveFile drops the pending file at index. Removing the last one returns
// the composer to text mode.
func (p *Pipeline) RemoveFile(index int) error {
	p.mu.Lock()
	if p.state.Busy() {
		p.mu.Unlock()
		return ErrBusy
	}
	if index < 0 || index >= len(p.pending) {
		p.mu.Unlock()
		return fmt.Errorf("no pending file at index %d", index)
	}
	p.pending = append(p.pending[:index:index], p.pending[index+1:]...)
	if len(p.pending) == 0 {
		p.mode = types.ModeText
	}
	p.mu.Unlock()

	p.emit(Event{Kind: EventStateChanged, ConversationID: p.convID})
	return nil
}

// ClearFiles drops every pending file and returns to text mode.
func (p *Pipeline) ClearFiles() error {
	p.mu.Lock()
	if p.state.Busy() {
		p.mu.Unlock()
		return ErrBusy
	}
	p.pending = nil
	p.mode = types.ModeText
	p.mu.Unlock()

	p.emit(Event{Kind: EventStateChanged, ConversationID: p.convID})
	return nil
}

// SetMode switches the composer between text entry and file picking.
func (p *Pipeline) SetMode(mode types.InputMode) error {
	p.mu.Lock()
	if p.state.Busy() {
		p.mu.Unlock()
		return ErrBusy
	}
	p.mode = mode
	p.mu.Unlock()

	p.emit(Event{Kind: EventStateChanged, ConversationID: p.convID})
	return nil
}

// DismissBanner clears the transient error banner.
func (p *Pipeline) DismissBanner() {
	p.mu.Lock()
	changed := p.setBanner("")
	p.mu.Unlock()
	if changed {
		p.emit(Event{Kind: EventBannerChanged, ConversationID: p.convID})
	}
}

// setBanner reports whether the banner changed. Caller must hold p.mu.
func (p *Pipeline) setBanner(text string) bool {
	if p.banner == text {
		return false
	}
	p.banner = text
	return true
}

func containsPath(files []types.FileRef, path string) bool {
	for _, f := range files {
		if f.Path == path {
			return true
		}
	}
	return false
}

// ValidateBatch checks an upload batch locally. Every file must declare
// application/pdf; a failing batch is rejected whole.
func ValidateBatch(files []types.FileRef) error {
	if len(files) == 0 {
		return types.ValidationError("upload", BannerNoFiles)
	}
	for _, f := range files {
		if !f.IsPDF() {
			return types.ValidationError("upload", BannerOnlyPDF)
		}
	}
	return nil
}

// =============================================================================
// SUBMISSION
// =============================================================================

// Operation is an accepted submission waiting to be run.
type Operation struct {
	p        *Pipeline
	kind     types.OperationState
	files    []types.FileRef
	question string
	epoch    uint64
}

// Kind is StateUploading or StateQuerying.
func (op *Operation) Kind() types.OperationState { return op.kind }

// Begin applies the synchronous half of a submission and returns the
// operation to run. Pending files make it an upload regardless of text;
// otherwise non-blank text makes it a query. It returns (nil, nil) for a
// no-op, ErrBusy while an operation is in flight, and a Validation error for
// a batch rejected locally.
//
// For a query the User message is appended before Begin returns.
func (p *Pipeline) Begin(ctx context.Context, text string) (*Operation, error) {
	p.mu.Lock()
	if p.state.Busy() {
		p.mu.Unlock()
		logging.PipelineDebug("submission rejected in %s: %s in flight", p.convID, p.state)
		return nil, ErrBusy
	}

	if len(p.pending) > 0 {
		if err := ValidateBatch(p.pending); err != nil {
			p.setBanner(types.BannerText(err, BannerOnlyPDF))
			p.mu.Unlock()
			logging.PipelineWarn("upload batch rejected in %s: %v", p.convID, err)
			p.emit(Event{Kind: EventBannerChanged, ConversationID: p.convID})
			return nil, err
		}
		op := &Operation{
			p:     p,
			kind:  types.StateUploading,
			files: append([]types.FileRef(nil), p.pending...),
			epoch: p.deps.Epoch(),
		}
		p.state = types.StateUploading
		p.setBanner("")
		p.mu.Unlock()

		logging.Pipeline("uploading %d file(s) in %s", len(op.files), p.convID)
		p.emit(Event{Kind: EventStateChanged, ConversationID: p.convID})
		return op, nil
	}

	question := strings.TrimSpace(text)
	if question == "" {
		p.mu.Unlock()
		return nil, nil
	}
	op := &Operation{p: p, kind: types.StateQuerying, question: question, epoch: p.deps.Epoch()}
	p.state = types.StateQuerying
	p.setBanner("")
	p.mu.Unlock()

	// Optimistic: the User message is permanent whatever the outcome.
	p.append(ctx, types.NewMessage(types.RoleUser, question))
	p.emit(Event{Kind: EventInputCleared, ConversationID: p.convID})
	p.emit(Event{Kind: EventStateChanged, ConversationID: p.convID})
	logging.Pipeline("querying in %s", p.convID)
	return op, nil
}

// Submit is Begin followed by Run.
func (p *Pipeline) Submit(ctx context.Context, text string) error {
	op, err := p.Begin(ctx, text)
	if err != nil || op == nil {
		return err
	}
	return op.Run(ctx)
}

// Run performs the network call and applies its result. It returns the
// backend error, ErrStale when the result was dropped, or nil.
func (op *Operation) Run(ctx context.Context) error {
	switch op.kind {
	case types.StateUploading:
		_, err := op.p.deps.Backend.UploadDocuments(ctx, op.files)
		return op.p.finishUpload(ctx, op, err)
	default:
		answer, err := op.p.deps.Backend.QueryDocuments(ctx, op.question)
		return op.p.finishQuery(ctx, op, answer, err)
	}
}

// stale returns the pipeline to Idle when the session moved on since op was
// submitted.
func (p *Pipeline) stale(op *Operation) bool {
	if p.deps.Epoch() == op.epoch {
		return false
	}
	p.mu.Lock()
	p.state = types.StateIdle
	p.mu.Unlock()
	logging.PipelineWarn("discarding %s result in %s: session changed", op.kind, p.convID)
	p.emit(Event{Kind: EventStateChanged, ConversationID: p.convID})
	return true
}

func (p *Pipeline) reportError(err error) {
	if p.deps.OnError != nil {
		p.deps.OnError(err)
	}
}

func (p *Pipeline) finishUpload(ctx context.Context, op *Operation, err error) error {
	if p.stale(op) {
		return ErrStale
	}

	if err != nil {
		p.mu.Lock()
		p.state = types.StateIdle
		p.setBanner(types.BannerText(err, BannerUploadFailed))
		p.mu.Unlock()
		logging.PipelineWarn("upload failed in %s: %v", p.convID, err)
		p.emit(Event{Kind: EventStateChanged, ConversationID: p.convID})
		p.emit(Event{Kind: EventBannerChanged, ConversationID: p.convID})
		p.reportError(err)
		return err
	}

	p.append(ctx, types.NewMessage(types.RoleSystem, uploadSummary(op.files)))
	p.mu.Lock()
	p.state = types.StateIdle
	p.pending = nil
	p.mode = types.ModeText
	p.mu.Unlock()
	logging.Pipeline("uploaded %d file(s) in %s", len(op.files), p.convID)
	p.emit(Event{Kind: EventStateChanged, ConversationID: p.convID})
	return nil
}

func (p *Pipeline) finishQuery(ctx context.Context, op *Operation, answer string, err error) error {
	if p.stale(op) {
		return ErrStale
	}

	if err != nil {
		p.append(ctx, types.NewMessage(types.RoleError, QueryFailureText))
		p.mu.Lock()
		p.state = types.StateIdle
		p.setBanner(types.BannerText(err, BannerQueryFailed))
		p.mu.Unlock()
		logging.PipelineWarn("query failed in %s: %v", p.convID, err)
		p.emit(Event{Kind: EventStateChanged, ConversationID: p.convID})
		p.emit(Event{Kind: EventBannerChanged, ConversationID: p.convID})
		p.reportError(err)
		return err
	}

	p.append(ctx, types.NewMessage(types.RoleAssistant, answer))
	p.mu.Lock()
	p.state = types.StateIdle
	p.mu.Unlock()
	p.emit(Event{Kind: EventStateChanged, ConversationID: p.convID})
	return nil
}

func (p *Pipeline) append(ctx context.Context, m types.Message) {
	if err := p.deps.Transcript.Append(ctx, p.convID, m); err != nil {
		logging.PipelineWarn("append to %s failed: %v", p.convID, err)
		return
	}
	p.emit(Event{Kind: EventScrollToLatest, ConversationID: p.convID})
}

// uploadSummary is "2 PDFs uploaded successfully: a.pdf, b.pdf".
func uploadSummary(files []types.FileRef) string {
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.Name
	}
	noun := "PDF"
	if len(files) > 1 {
		noun = "PDFs"
	}
	return fmt.Sprintf("%d %s uploaded successfully: %s", len(files), noun, strings.Join(names, ", "))
}
