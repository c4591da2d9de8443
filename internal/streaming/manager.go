// Package streaming provides in-memory pub/sub of workflow progress events,
// with a per-workflow ring buffer so late subscribers can replay what they
// missed.
package streaming

import (
	"encoding/json"
	"sync"
	"time"
)

// Event types published over a workflow's lifetime.
const (
	EventStateChanged   = "state_changed"
	EventAgentStarted   = "agent_started"
	EventAgentCompleted = "agent_completed"
	EventAgentFailed    = "agent_failed"
	EventCompleted      = "completed"
	EventError          = "error"
)

// Event is one progress update for a workflow.
type Event struct {
	WorkflowID string    `json:"workflow_id"`
	Type       string    `json:"type"`
	State      string    `json:"state,omitempty"`
	Agent      string    `json:"agent,omitempty"`
	Message    string    `json:"message,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	Seq        uint64    `json:"seq"`
}

// Marshal returns the event as JSON for transport or logs.
func (e Event) Marshal() []byte {
	b, _ := json.Marshal(e)
	return b
}

// Manager is an in-memory event bus keyed by workflow ID. Construct one per
// process and inject it; publishing never blocks, slow subscribers drop.
type Manager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan Event]struct{}
	history     map[string]*ring
	capacity    int
}

// NewManager creates a manager whose per-workflow replay buffers hold
// capacity events each.
func NewManager(capacity int) *Manager {
	if capacity <= 0 {
		capacity = 256
	}
	return &Manager{
		subscribers: make(map[string]map[chan Event]struct{}),
		history:     make(map[string]*ring),
		capacity:    capacity,
	}
}

// Subscribe adds a subscriber channel for a workflow; the caller must drain
// it and call Unsubscribe when done.
func (m *Manager) Subscribe(workflowID string, buffer int) chan Event {
	ch := make(chan Event, buffer)
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := m.subscribers[workflowID]
	if subs == nil {
		subs = make(map[chan Event]struct{})
		m.subscribers[workflowID] = subs
	}
	subs[ch] = struct{}{}
	return ch
}

// Unsubscribe removes and closes the subscriber channel.
func (m *Manager) Unsubscribe(workflowID string, ch chan Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if subs, ok := m.subscribers[workflowID]; ok {
		delete(subs, ch)
		close(ch)
		if len(subs) == 0 {
			delete(m.subscribers, workflowID)
		}
	}
}

// Publish assigns a sequence number, records the event for replay, and fans
// it out to current subscribers without blocking.
func (m *Manager) Publish(workflowID string, evt Event) {
	evt.WorkflowID = workflowID
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	rg := m.history[workflowID]
	if rg == nil {
		rg = newRing(m.capacity)
		m.history[workflowID] = rg
	}
	evt.Seq = rg.nextSeq
	rg.nextSeq++
	rg.push(evt)

	// Fan out while still holding the lock so Unsubscribe cannot close a
	// channel between the map read and the send. Sends never block.
	for ch := range m.subscribers[workflowID] {
		select {
		case ch <- evt:
		default:
			// Slow subscriber, drop.
		}
	}
}

// ReplaySince returns buffered events with Seq > since, best-effort within
// ring capacity.
func (m *Manager) ReplaySince(workflowID string, since uint64) []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rg := m.history[workflowID]
	if rg == nil {
		return nil
	}
	return rg.since(since)
}

// Forget drops the replay buffer for a finished workflow.
func (m *Manager) Forget(workflowID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.history, workflowID)
}

// ring is a fixed-capacity ring buffer of events.
type ring struct {
	buf     []Event
	start   int
	count   int
	nextSeq uint64
}

func newRing(capacity int) *ring { return &ring{buf: make([]Event, capacity)} }

func (r *ring) push(e Event) {
	if len(r.buf) == 0 {
		return
	}
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = e
		r.count++
		return
	}
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) since(seq uint64) []Event {
	if r.count == 0 {
		return nil
	}
	out := make([]Event, 0, r.count)
	for i := 0; i < r.count; i++ {
		ev := r.buf[(r.start+i)%len(r.buf)]
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out
}
