package live

import (
	"context"
	"testing"
)

func TestAckQueue_ReleasesInArrivalOrder(t *testing.T) {
	var q ackQueue

	first := q.add("1", "marketData")
	second := q.add("2", "marketData")

	// Second call completes first; its ack must wait behind the first.
	ready := q.complete(second, map[string]any{"summary": "b"}, false)
	if len(ready) != 0 {
		t.Fatalf("acks released out of order: %+v", ready)
	}

	ready = q.complete(first, map[string]any{"summary": "a"}, false)
	if len(ready) != 2 {
		t.Fatalf("released %d acks, want 2", len(ready))
	}
	if ready[0].InvocationID != "1" || ready[1].InvocationID != "2" {
		t.Fatalf("ack order = %q, %q, want 1 then 2", ready[0].InvocationID, ready[1].InvocationID)
	}
}

func TestAckQueue_CompletedHeadReleasesImmediately(t *testing.T) {
	var q ackQueue

	slot := q.add("1", "marketData")
	ready := q.complete(slot, map[string]any{}, false)
	if len(ready) != 1 || ready[0].InvocationID != "1" {
		t.Fatalf("ready = %+v", ready)
	}
	if q.outstanding() != 0 {
		t.Fatalf("outstanding = %d, want 0", q.outstanding())
	}
}

func TestAckQueue_ErrorAckCarriesFlag(t *testing.T) {
	var q ackQueue

	slot := q.add("1", "marketData")
	ready := q.complete(slot, map[string]any{"error": "fetch failed"}, true)
	if len(ready) != 1 {
		t.Fatalf("released %d acks, want 1", len(ready))
	}
	if !ready[0].IsError {
		t.Fatal("error flag lost")
	}
	if ready[0].Response["error"] != "fetch failed" {
		t.Fatalf("response = %+v", ready[0].Response)
	}
}

func TestAckQueue_ResetDropsOutstanding(t *testing.T) {
	var q ackQueue

	slot := q.add("1", "marketData")
	q.reset()

	ready := q.complete(slot, map[string]any{}, false)
	if len(ready) != 0 {
		t.Fatalf("stale completion released acks: %+v", ready)
	}
	if q.outstanding() != 0 {
		t.Fatalf("outstanding = %d, want 0", q.outstanding())
	}
}

func TestToolRegistry(t *testing.T) {
	r := NewToolRegistry()
	r.Register("marketData", func(ctx context.Context, args map[string]any, snapshot []ContextEntry) (map[string]any, error) {
		return map[string]any{"summary": "ok"}, nil
	})

	fn, ok := r.Lookup("marketData")
	if !ok {
		t.Fatal("registered tool not found")
	}
	resp, err := fn(context.Background(), nil, nil)
	if err != nil || resp["summary"] != "ok" {
		t.Fatalf("resp=%v err=%v", resp, err)
	}

	if _, ok := r.Lookup("unknown"); ok {
		t.Fatal("unknown tool resolved")
	}
	if names := r.Names(); len(names) != 1 || names[0] != "marketData" {
		t.Fatalf("names = %v", names)
	}
}
