package live

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ToolFunc handles one data-tool invocation. The snapshot is the context
// window at dispatch time. A returned error becomes an error-shaped
// acknowledgment and context entry; it never fails the session.
type ToolFunc func(ctx context.Context, args map[string]any, snapshot []ContextEntry) (map[string]any, error)

// ToolRegistry maps tool names to handlers.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]ToolFunc
}

func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]ToolFunc)}
}

// Register binds name to fn, replacing any previous handler.
func (r *ToolRegistry) Register(name string, fn ToolFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[name] = fn
}

// Lookup returns the handler for name.
func (r *ToolRegistry) Lookup(name string) (ToolFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.tools[name]
	return fn, ok
}

// Names returns the registered tool names.
func (r *ToolRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

// Ack is one tool acknowledgment ready to be sent to the agent. Duration
// measures arrival to completion.
type Ack struct {
	InvocationID string
	Name         string
	Response     map[string]any
	IsError      bool
	Duration     time.Duration
}

// ackSlot is one outstanding data-tool call awaiting its result.
type ackSlot struct {
	id    string
	name  string
	added time.Time
	resp  map[string]any
	err   bool
	dur   time.Duration
	done  bool
}

// ackQueue preserves request arrival order for data-tool acknowledgments:
// results may complete out of order, but an ack is only released once every
// earlier slot has completed.
type ackQueue struct {
	mu    sync.Mutex
	slots []*ackSlot
}

// add enqueues a slot for an arriving call.
func (q *ackQueue) add(invocationID, name string) *ackSlot {
	q.mu.Lock()
	defer q.mu.Unlock()

	slot := &ackSlot{id: invocationID, name: name, added: time.Now()}
	q.slots = append(q.slots, slot)
	return slot
}

// complete records slot's result and pops every leading completed slot,
// returning their acks in arrival order. slot must have come from add on
// this queue; a slot discarded by reset releases nothing.
func (q *ackQueue) complete(slot *ackSlot, resp map[string]any, isError bool) []Ack {
	q.mu.Lock()
	defer q.mu.Unlock()

	slot.resp = resp
	slot.err = isError
	slot.dur = time.Since(slot.added)
	slot.done = true

	var ready []Ack
	for len(q.slots) > 0 && q.slots[0].done {
		head := q.slots[0]
		q.slots = q.slots[1:]
		ready = append(ready, Ack{
			InvocationID: head.id,
			Name:         head.name,
			Response:     head.resp,
			IsError:      head.err,
			Duration:     head.dur,
		})
	}
	return ready
}

// reset drops all outstanding slots. Results completing against dropped
// slots release nothing.
func (q *ackQueue) reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.slots = nil
}

// outstanding returns the number of unreleased slots.
func (q *ackQueue) outstanding() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.slots)
}

// errResponse shapes a tool failure for both the acknowledgment and the
// context entry.
func errResponse(err error) map[string]any {
	return map[string]any{"error": fmt.Sprint(err)}
}
