package domain

// ─── Observer Events ────────────────────────────────────────────────────────
// Events are pushed to the UI layer; the core never polls it.

// EventKind discriminates observer events on the wire.
type EventKind string

const (
	EventError        EventKind = "error"
	EventNotification EventKind = "notification"
	EventHistory      EventKind = "history"
	EventStream       EventKind = "stream"
	EventStreamEnd    EventKind = "stream_end"
	EventProgress     EventKind = "progress"
)

// Progress reports how far a model download has got.
type Progress struct {
	Model      string  `json:"model"`
	Downloaded int64   `json:"downloaded"`
	Total      int64   `json:"total"`
	Percent    float64 `json:"percent"`
}

// Event is a single observer notification.
type Event struct {
	Kind      EventKind `json:"kind"`
	Message   string    `json:"message,omitempty"`
	Text      string    `json:"text,omitempty"`
	RunID     string    `json:"run_id,omitempty"`
	Cancelled bool      `json:"cancelled,omitempty"`
	History   []Turn    `json:"history,omitempty"`
	Progress  *Progress `json:"progress,omitempty"`
}

func ErrorEvent(msg string) Event { return Event{Kind: EventError, Message: msg} }

func NotificationEvent(msg string) Event { return Event{Kind: EventNotification, Message: msg} }

func HistoryEvent(turns []Turn) Event {
	if turns == nil {
		turns = []Turn{}
	}
	return Event{Kind: EventHistory, History: turns}
}

func StreamEvent(runID, text string) Event {
	return Event{Kind: EventStream, RunID: runID, Text: text}
}

func StreamEndEvent(runID string, cancelled bool) Event {
	return Event{Kind: EventStreamEnd, RunID: runID, Cancelled: cancelled}
}

func ProgressEvent(p Progress) Event { return Event{Kind: EventProgress, Progress: &p} }

// Lifecycle messages shown to the user.
const (
	MsgModelLoaded      = "Model loaded."
	MsgModelUnloaded    = "Model unloaded."
	MsgModelDownloaded  = "Model downloaded."
	MsgDownloadStopped  = "Download stopped."
	MsgHistoryCleared   = "History cleared."
	MsgModelNotFound    = "Model not found."
	MsgNoModelLoaded    = "No model loaded."
	MsgModelDeleted     = "Model deleted."
	MsgCatalogSynced    = "Model catalog updated."
	MsgInferenceStopped = "Inference stopped."
)
