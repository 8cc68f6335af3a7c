package generation

import "time"

// State is a job lifecycle state.
type State string

const (
	StateIdle       State = "idle"
	StateStarting   State = "starting"
	StateGenerating State = "generating"
	StateComplete   State = "complete"
	StateFailed     State = "failed"
)

// Terminal reports whether the state accepts no further mutation.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateFailed
}

// Active reports whether the job still expects events.
func (s State) Active() bool {
	return s == StateStarting || s == StateGenerating
}

// Job is the record of one generation request. Values are immutable:
// the with* methods return a new Job and leave the receiver untouched.
type Job struct {
	ID            string
	State         State
	IsStreaming   bool
	Progress      int
	StatusMessage string
	Buffer        string
	Err           string
	CreatedAt     time.Time
	TerminatedAt  time.Time
}

func newJob(id, message string, now time.Time) Job {
	return Job{
		ID:            id,
		State:         StateStarting,
		StatusMessage: message,
		CreatedAt:     now,
	}
}

// withStatus applies a progress/status update. Terminal jobs and unknown
// states are left unchanged; progress never decreases within one job.
func (j Job) withStatus(state State, progress int, message string) Job {
	if j.State.Terminal() {
		return j
	}
	switch state {
	case StateStarting:
		// First acknowledgement while still starting; no transition yet.
	case StateGenerating:
		j.State = StateGenerating
	default:
		return j
	}
	if progress > j.Progress {
		j.Progress = progress
	}
	if message != "" {
		j.StatusMessage = message
	}
	return j
}

// withBuffer replaces the streamed output with the assembler's latest buffer.
// A chunk implies the upstream accepted the job, so a Starting job moves to
// Generating even if the status ack was lost.
func (j Job) withBuffer(buffer string, streaming bool) Job {
	if j.State.Terminal() {
		return j
	}
	j.State = StateGenerating
	j.Buffer = buffer
	j.IsStreaming = streaming
	return j
}

// withTerminal moves the job to Complete or Failed. The first terminal event
// wins; applying another to an already-terminal job is a no-op.
func (j Job) withTerminal(outcome string, errMsg string, now time.Time) Job {
	if j.State.Terminal() {
		return j
	}
	if outcome == OutcomeComplete {
		j.State = StateComplete
	} else {
		j.State = StateFailed
		if errMsg == "" {
			errMsg = "generation failed"
		}
		j.Err = errMsg
	}
	j.IsStreaming = false
	j.TerminatedAt = now
	return j
}

// Snapshot is the durable projection of a Job. The transport handle is
// deliberately absent: it is meaningless across a restart.
type Snapshot struct {
	JobID         string     `json:"job_id"`
	State         State      `json:"state"`
	Progress      int        `json:"progress"`
	StatusMessage string     `json:"status_message,omitempty"`
	Buffer        string     `json:"buffer,omitempty"`
	Error         string     `json:"error,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	TerminatedAt  *time.Time `json:"terminated_at,omitempty"`
}

// Snapshot returns the persistable projection of the job.
func (j Job) Snapshot() Snapshot {
	s := Snapshot{
		JobID:         j.ID,
		State:         j.State,
		Progress:      j.Progress,
		StatusMessage: j.StatusMessage,
		Buffer:        j.Buffer,
		Error:         j.Err,
		CreatedAt:     j.CreatedAt,
	}
	if !j.TerminatedAt.IsZero() {
		t := j.TerminatedAt
		s.TerminatedAt = &t
	}
	return s
}

// FromSnapshot reconstructs a Job from its persisted projection. A job that
// was streaming when the process died resumes as not-streaming until the next
// chunk arrives.
func FromSnapshot(s Snapshot) Job {
	j := Job{
		ID:            s.JobID,
		State:         s.State,
		Progress:      s.Progress,
		StatusMessage: s.StatusMessage,
		Buffer:        s.Buffer,
		Err:           s.Error,
		CreatedAt:     s.CreatedAt,
	}
	if s.TerminatedAt != nil {
		j.TerminatedAt = *s.TerminatedAt
	}
	return j
}
