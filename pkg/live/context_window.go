package live

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

// ContextEntry is one completed tool result kept as conversational memory.
// Entries are never mutated after creation.
type ContextEntry struct {
	Tool    string         `json:"tool"`
	Payload map[string]any `json:"payload"`
	IsError bool           `json:"is_error,omitempty"`
	At      time.Time      `json:"at"`
}

// Summary returns the entry's display line, preferring a tool-provided
// summary field.
func (e ContextEntry) Summary() string {
	if s, ok := e.Payload["summary"].(string); ok && strings.TrimSpace(s) != "" {
		return s
	}
	if e.IsError {
		if msg, ok := e.Payload["error"].(string); ok {
			return msg
		}
	}
	return e.Tool
}

// ContextWindow is a bounded FIFO log of tool results shared across session
// generations. Appends evict the oldest entry beyond the bound.
type ContextWindow struct {
	mu      sync.Mutex
	entries []ContextEntry
	max     int
}

// NewContextWindow creates a window bounded to max entries. A non-positive
// max falls back to the default of 10.
func NewContextWindow(max int) *ContextWindow {
	if max <= 0 {
		max = 10
	}
	return &ContextWindow{max: max}
}

// Append adds an entry, evicting the oldest if the bound is exceeded.
func (w *ContextWindow) Append(entry ContextEntry) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.entries = append(w.entries, entry)
	if len(w.entries) > w.max {
		w.entries = w.entries[len(w.entries)-w.max:]
	}
}

// Snapshot returns a copy of the current entries, oldest first.
func (w *ContextWindow) Snapshot() []ContextEntry {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]ContextEntry, len(w.entries))
	copy(out, w.entries)
	return out
}

// Len returns the current entry count.
func (w *ContextWindow) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entries)
}

// Clear removes all entries.
func (w *ContextWindow) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries = nil
}

// PrimingText renders a snapshot into the text turn sent to a fresh session
// so the agent resumes with prior tool results in memory. Returns "" for an
// empty snapshot.
func PrimingText(entries []ContextEntry) string {
	if len(entries) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("Prior tool results from this conversation, oldest first:\n")
	for _, entry := range entries {
		blob, err := json.Marshal(entry.Payload)
		if err != nil {
			blob = []byte(`{}`)
		}
		status := ""
		if entry.IsError {
			status = " (failed)"
		}
		fmt.Fprintf(&b, "- %s%s: %s\n", entry.Tool, status, blob)
	}
	b.WriteString("Continue the conversation with this context in mind.")
	return b.String()
}
