package pipeline

// EventKind names a signal the view reacts to.
type EventKind int

const (
	// EventScrollToLatest follows every transcript append, and a conversation
	// switch.
	EventScrollToLatest EventKind = iota + 1
	EventStateChanged
	EventBannerChanged
	// EventInputCleared tells the view to empty the composer after a query
	// was accepted.
	EventInputCleared
)

func (k EventKind) String() string {
	switch k {
	case EventScrollToLatest:
		return "scroll_to_latest"
	case EventStateChanged:
		return "state_changed"
	case EventBannerChanged:
		return "banner_changed"
	case EventInputCleared:
		return "input_cleared"
	default:
		return "unknown"
	}
}

// Event is emitted by a pipeline or its coordinator.
type Event struct {
	Kind           EventKind
	ConversationID string
}
