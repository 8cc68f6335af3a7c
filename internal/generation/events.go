package generation

// EventType identifies a push-channel frame.
type EventType string

const (
	EventSubscribe EventType = "subscribe"
	EventStatus    EventType = "status"
	EventChunk     EventType = "chunk"
	EventTerminal  EventType = "terminal"
)

// Outcomes carried by terminal events.
const (
	OutcomeComplete = "complete"
	OutcomeFailed   = "failed"
)

// Event is one frame on the push channel. Subscribe frames flow client to
// server; the rest flow server to client for a single job id.
type Event struct {
	Type       EventType `json:"type"`
	JobID      string    `json:"job_id"`
	State      string    `json:"state,omitempty"`
	Progress   int       `json:"progress,omitempty"`
	Message    string    `json:"message,omitempty"`
	Chunk      string    `json:"chunk,omitempty"`
	IsComplete bool      `json:"is_complete,omitempty"`
	Outcome    string    `json:"outcome,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// StatusReport is the poll channel's view of a job.
type StatusReport struct {
	State    string `json:"state"`
	Progress int    `json:"progress"`
	Message  string `json:"message,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Request describes one generation ask.
type Request struct {
	Prompt  string            `json:"prompt" binding:"required"`
	Kind    string            `json:"kind"` // "banner" or "landing_page"
	Context map[string]string `json:"context,omitempty"`
}
