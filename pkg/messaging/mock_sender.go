package messaging

import (
	"context"
	"sync"
)

// MockEventSender is a no-op implementation of EventSender for testing.
type MockEventSender struct{}

// NewMockEventSender creates a new MockEventSender.
func NewMockEventSender() *MockEventSender {
	return &MockEventSender{}
}

// SendEvent does nothing.
func (m *MockEventSender) SendEvent(ctx context.Context, event *Event) error {
	return nil
}

// Close does nothing.
func (m *MockEventSender) Close() error {
	return nil
}

// RecordingSender keeps every event it receives, for assertions in tests.
type RecordingSender struct {
	mu     sync.Mutex
	events []Event
	notify chan struct{}
}

// NewRecordingSender creates an empty RecordingSender.
func NewRecordingSender() *RecordingSender {
	return &RecordingSender{notify: make(chan struct{}, 1)}
}

// SendEvent stores a copy of the event.
func (r *RecordingSender) SendEvent(ctx context.Context, event *Event) error {
	r.mu.Lock()
	r.events = append(r.events, *event)
	r.mu.Unlock()

	select {
	case r.notify <- struct{}{}:
	default:
	}
	return nil
}

// Events returns a snapshot of the recorded events.
func (r *RecordingSender) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType returns recorded events of one type.
func (r *RecordingSender) OfType(t EventType) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// Ensure senders implement EventSender
var (
	_ EventSender = (*MockEventSender)(nil)
	_ EventSender = (*RecordingSender)(nil)
)
