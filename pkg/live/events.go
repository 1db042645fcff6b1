package live

import (
	"time"

	"github.com/agrovoice/agrovoice/pkg/live/protocol"
)

// Event is the interface for all live session events.
type Event interface {
	// EventType returns the event type string for serialization.
	EventType() string
}

// SessionConnectedEvent is emitted when the transport handshake completes.
type SessionConnectedEvent struct {
	SessionID    string `json:"session_id"`
	Model        string `json:"model"`
	ContextSize  int    `json:"context_size"`
	PrimedWith   int    `json:"primed_with"`
	SampleRateIn int    `json:"sample_rate_in"`
}

func (e *SessionConnectedEvent) EventType() string { return "session.connected" }

// SessionClosedEvent is emitted when the session ends.
type SessionClosedEvent struct {
	Reason string `json:"reason,omitempty"`
}

func (e *SessionClosedEvent) EventType() string { return "session.closed" }

// StateChangedEvent is emitted when the session state changes.
type StateChangedEvent struct {
	From SessionState `json:"from"`
	To   SessionState `json:"to"`
}

func (e *StateChangedEvent) EventType() string { return "state.changed" }

// StatusEvent carries free-text status for display.
type StatusEvent struct {
	Text string `json:"text"`
}

func (e *StatusEvent) EventType() string { return "status" }

// AudioScheduledEvent is emitted when an inbound audio chunk has been placed
// on the playback timeline.
type AudioScheduledEvent struct {
	Seq        int64         `json:"seq"`
	Bytes      int           `json:"bytes"`
	StartAt    time.Time     `json:"start_at"`
	Gap        time.Duration `json:"gap"`
	BufferedMS int           `json:"buffered_ms"`
}

func (e *AudioScheduledEvent) EventType() string { return "audio.scheduled" }

// ToolCallEvent is emitted when the agent invokes a tool.
type ToolCallEvent struct {
	InvocationID string         `json:"invocation_id"`
	Name         string         `json:"name"`
	Args         map[string]any `json:"args,omitempty"`
}

func (e *ToolCallEvent) EventType() string { return "tool.call" }

// ToolResultEvent is emitted when a tool acknowledgment has been sent back.
// Duration covers arrival to completion; it is zero for image
// acknowledgments, whose wait is on the operator.
type ToolResultEvent struct {
	InvocationID string        `json:"invocation_id"`
	Name         string        `json:"name"`
	IsError      bool          `json:"is_error,omitempty"`
	Duration     time.Duration `json:"duration,omitempty"`
}

func (e *ToolResultEvent) EventType() string { return "tool.result" }

// CaptureRequestedEvent is emitted when the agent asks for a camera image.
// The shell is expected to eventually call ResolveCapture or CancelCapture.
type CaptureRequestedEvent struct {
	InvocationID string `json:"invocation_id"`
}

func (e *CaptureRequestedEvent) EventType() string { return "capture.requested" }

// CitationsEvent carries search grounding sources for the current turn.
type CitationsEvent struct {
	Citations []protocol.GroundingWeb `json:"citations"`
}

func (e *CitationsEvent) EventType() string { return "citations" }

// TurnCompleteEvent is emitted when the agent finishes a turn.
type TurnCompleteEvent struct{}

func (e *TurnCompleteEvent) EventType() string { return "turn.complete" }

// ContextChangedEvent carries the current context window snapshot after an
// append or clear.
type ContextChangedEvent struct {
	Entries []ContextEntry `json:"entries"`
	Summary string         `json:"summary,omitempty"`
}

func (e *ContextChangedEvent) EventType() string { return "context.changed" }

// ErrorEvent is emitted when an error occurs.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ErrorEvent) EventType() string { return "error" }

// DebugEvent is emitted for debugging information.
type DebugEvent struct {
	Category string `json:"category"` // AUDIO, TOOL, IMAGE, CONTEXT, TRANSPORT, SESSION
	Message  string `json:"message"`
}

func (e *DebugEvent) EventType() string { return "debug" }

// Hooks are optional callbacks invoked synchronously from the inbound event
// loop. All fields may be nil. Callbacks must not block.
type Hooks struct {
	Status         func(text string)
	Error          func(text string)
	Loading        func(active bool, toolName string)
	Citations      func(citations []protocol.GroundingWeb)
	ContextChanged func(entries []ContextEntry, summary string)
	CaptureOpen    func(invocationID string)
}
