package messaging

import (
	"context"
	"time"
)

// EventSender defines an interface for publishing pipeline events.
// This keeps the core package independent of the logging, Kafka and
// metrics implementations.
type EventSender interface {
	SendEvent(ctx context.Context, event *Event) error
}

// EventType names what happened to an order
type EventType string

// Event types
const (
	EventRejected EventType = "rejected"
	EventPlaced   EventType = "placed"
	EventMatched  EventType = "matched"
	EventSettled  EventType = "settled"
	EventCorrupt  EventType = "corrupt"
)

// Settlement statuses carried by settled events
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Event is one structured observation of the matching pipeline.
// Orders are carried in their canonical text form.
type Event struct {
	Type        EventType     `json:"type"`
	Raw         string        `json:"raw,omitempty"`
	Reason      string        `json:"reason,omitempty"`
	Incoming    string        `json:"incoming,omitempty"`
	Resting     string        `json:"resting,omitempty"`
	Key         string        `json:"key,omitempty"`
	Status      string        `json:"status,omitempty"`
	AmountCents int64         `json:"amountCents,omitempty"`
	Buyer       string        `json:"buyer,omitempty"`
	Seller      string        `json:"seller,omitempty"`
	FailedLegs  []string      `json:"failedLegs,omitempty"`
	Error       string        `json:"error,omitempty"`
	Duration    time.Duration `json:"duration,omitempty"`
	Time        time.Time     `json:"time"`
}

// PartitionKey returns the key used to keep one order's events together on partitioned transports
func (e *Event) PartitionKey() string {
	if e.Incoming != "" {
		return e.Incoming
	}
	return e.Raw
}
