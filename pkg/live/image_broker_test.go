package live

import (
	"errors"
	"testing"
)

func TestImageRequestBroker_SingleSlot(t *testing.T) {
	b := NewImageRequestBroker()

	if err := b.Request("call-1"); err != nil {
		t.Fatalf("first Request() error = %v", err)
	}
	if !b.Pending() {
		t.Fatal("expected pending request")
	}

	err := b.Request("call-2")
	if !errors.Is(err, ErrCapturePending) {
		t.Fatalf("second Request() error = %v, want ErrCapturePending", err)
	}
	if got := b.PendingID(); got != "call-1" {
		t.Fatalf("pending id = %q, want call-1 (second request must not replace first)", got)
	}
}

func TestImageRequestBroker_ResolveFreesSlot(t *testing.T) {
	b := NewImageRequestBroker()
	if err := b.Request("call-1"); err != nil {
		t.Fatalf("Request() error = %v", err)
	}

	id, ok := b.Resolve()
	if !ok || id != "call-1" {
		t.Fatalf("Resolve() = %q, %v", id, ok)
	}
	if b.Pending() {
		t.Fatal("slot not freed after resolve")
	}

	if err := b.Request("call-3"); err != nil {
		t.Fatalf("Request after resolve error = %v", err)
	}
}

func TestImageRequestBroker_ResolveWithoutPending(t *testing.T) {
	b := NewImageRequestBroker()
	if id, ok := b.Resolve(); ok || id != "" {
		t.Fatalf("Resolve() = %q, %v, want no-op", id, ok)
	}
}

func TestImageRequestBroker_CancelFreesSlot(t *testing.T) {
	b := NewImageRequestBroker()
	if err := b.Request("call-1"); err != nil {
		t.Fatalf("Request() error = %v", err)
	}

	id, ok := b.Cancel()
	if !ok || id != "call-1" {
		t.Fatalf("Cancel() = %q, %v", id, ok)
	}

	if err := b.Request("call-2"); err != nil {
		t.Fatalf("Request after cancel error = %v", err)
	}
}
