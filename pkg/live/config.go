package live

// SessionState represents the current state of the live session.
type SessionState int

const (
	// StateDisconnected is the initial state before the first connect and
	// after a transport failure.
	StateDisconnected SessionState = iota
	// StateConnecting is while the transport handshake is in flight.
	StateConnecting
	// StateLive is when the bidirectional stream is established.
	StateLive
	// StateClosed is when the session has been closed. Terminal.
	StateClosed
)

// String returns a human-readable state name.
func (s SessionState) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateLive:
		return "LIVE"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// SessionConfig holds all configuration for a live session.
type SessionConfig struct {
	// Model is the live agent model to use.
	Model string `json:"model"`

	// System is the system prompt for the agent.
	System string `json:"system,omitempty"`

	// Language is a BCP-47 code threaded into the agent's speech config
	// and into tool calls that produce user-facing text.
	Language string `json:"language,omitempty"`

	// Voice is the prebuilt voice name for spoken responses.
	Voice string `json:"voice,omitempty"`

	// ContextSize bounds the rolling tool-result window. Default: 10.
	ContextSize int `json:"context_size"`

	// InputSampleRate is the microphone sample rate in Hz. Default: 16000.
	InputSampleRate int `json:"input_sample_rate"`

	// OutputSampleRate is the agent audio sample rate in Hz. Default: 24000.
	OutputSampleRate int `json:"output_sample_rate"`

	// Channels is the number of audio channels. Default: 1 (mono).
	Channels int `json:"channels"`
}

// DefaultSessionConfig returns a SessionConfig with sensible defaults.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Model:            "gemini-live-2.5-flash-preview",
		Language:         "en-US",
		Voice:            "Aoede",
		ContextSize:      10,
		InputSampleRate:  16000,
		OutputSampleRate: 24000,
		Channels:         1,
	}
}
