// Package streaming is in-process pub/sub for execution events. The durable
// record lives in the store's event log; the hub carries a live copy to
// whatever transport is attached on top.
package streaming

import "context"

// StreamEvent is a real-time copy of an execution event.
type StreamEvent struct {
	WorkOrderID string `json:"work_order_id"`
	RunID       string `json:"run_id,omitempty"`
	StepID      string `json:"step_id,omitempty"`
	EventType   string `json:"event_type"`
	Payload     any    `json:"payload,omitempty"`
}

// EventFilter specifies which events a subscriber wants to receive.
type EventFilter struct {
	WorkOrderID string   `json:"work_order_id,omitempty"`
	RunID       string   `json:"run_id,omitempty"`
	EventTypes  []string `json:"event_types,omitempty"`
}

// EventHub provides pub/sub for real-time execution events.
type EventHub interface {
	Publish(ctx context.Context, event StreamEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error)
}
