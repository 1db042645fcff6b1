package live

import (
	"errors"
	"sync"
)

// ErrCapturePending is returned when an agent image request arrives while an
// earlier one is still waiting on the user.
var ErrCapturePending = errors.New("an image capture is already pending")

// ImageRequestBroker mediates agent-initiated camera captures. It holds at
// most one pending request at a time; a second concurrent request is rejected
// so the caller can acknowledge it with an error instead of silently
// replacing the slot.
type ImageRequestBroker struct {
	mu      sync.Mutex
	pending string // invocation id, "" when the slot is free
}

func NewImageRequestBroker() *ImageRequestBroker {
	return &ImageRequestBroker{}
}

// Request claims the slot for invocationID. Returns ErrCapturePending if a
// request is already outstanding.
func (b *ImageRequestBroker) Request(invocationID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pending != "" {
		return ErrCapturePending
	}
	b.pending = invocationID
	return nil
}

// Resolve consumes the pending request and returns its invocation id.
// ok is false when no request was pending, which is the user-initiated
// capture path.
func (b *ImageRequestBroker) Resolve() (invocationID string, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pending == "" {
		return "", false
	}
	id := b.pending
	b.pending = ""
	return id, true
}

// Cancel clears the pending request, returning the invocation id that was
// waiting so the caller can acknowledge the dismissal.
func (b *ImageRequestBroker) Cancel() (invocationID string, ok bool) {
	return b.Resolve()
}

// Pending reports whether a capture request is outstanding.
func (b *ImageRequestBroker) Pending() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pending != ""
}

// PendingID returns the outstanding invocation id, or "".
func (b *ImageRequestBroker) PendingID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pending
}
