package chat

import (
	"context"

	"papermind/cmd/papermind/ui"
	"papermind/internal/conversation"
	"papermind/internal/pipeline"
	"papermind/internal/session"
	"papermind/internal/theme"
	"papermind/internal/tokenstore"
	"papermind/internal/types"

	"github.com/charmbracelet/bubbles/filepicker"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	"github.com/charmbracelet/glamour"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config wires the chat interface to the core controllers.
type Config struct {
	Session       *session.Controller
	Conversations *conversation.Store
	Pipelines     *pipeline.Coordinator
	Theme         *theme.Controller

	// StorageChanges carries notifications from other processes; the view
	// uses them to follow the theme. The session consumes its own copy.
	StorageChanges <-chan tokenstore.Change

	Version  string
	StartDir string // where the file picker opens
}

// ViewMode determines which screen is active.
type ViewMode int

const (
	LoginView ViewMode = iota
	RegisterView
	ChatView
	FilePickerView
	ListView
)

// Form field indexes. The login form uses only email and password.
const (
	fieldName = iota
	fieldEmail
	fieldPassword
	fieldCount
)

// conversationItem is a list item for the conversation list.
type conversationItem struct {
	id, title, desc string
}

func (i conversationItem) Title() string       { return i.title }
func (i conversationItem) Description() string { return i.desc }
func (i conversationItem) FilterValue() string { return i.title }

// =============================================================================
// CORE TYPES
// =============================================================================

// Model is the main model for the interactive client.
type Model struct {
	cfg Config
	ctx context.Context

	// UI Components
	inputs     []textinput.Model
	textarea   textarea.Model
	viewport   viewport.Model
	spinner    spinner.Model
	list       list.Model
	filepicker filepicker.Model
	styles     ui.Styles
	renderer   *glamour.TermRenderer

	viewMode ViewMode
	width    int
	height   int
	ready    bool

	// Auth forms
	focused    int
	submitting bool
	formErr    string
	formInfo   string
	loggingIn  bool // a login from this view is in flight or just succeeded

	// Session snapshot, as last delivered by the controller
	session types.Session
	sessCh  <-chan types.Session

	// Errors not owned by a pipeline (e.g. a picked file that cannot be read)
	notice string
}

// =============================================================================
// MESSAGES
// =============================================================================

type (
	sessionMsg   types.Session
	eventMsg     pipeline.Event
	storageMsg   tokenstore.Change
	loginDone    struct{ err error }
	registerDone struct{ err error }
	opDone       struct {
		conversationID string
		err            error
	}
	conversationsReady struct{ err error }
)
