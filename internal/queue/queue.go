package queue

import "context"

// Message is the job-generation work item. It is redelivered unchanged
// if a consumer fails before acknowledging.
type Message struct {
	JobID        string `json:"job_id"`
	Topic        string `json:"topic"`
	Category     string `json:"category"`
	TargetLength int    `json:"target_length"`
	SourceCount  int    `json:"source_count"`
}

// Handler processes one delivery. A nil return acknowledges the
// message; an error triggers redelivery (at-least-once semantics), so
// handlers must be idempotent.
type Handler func(ctx context.Context, msg Message) error

// Queue decouples job submission from worker execution. Publish returns
// only after the broker has confirmed the enqueue.
type Queue interface {
	Publish(ctx context.Context, msg Message) error
	Consume(ctx context.Context, workers int, handler Handler) error
	Close() error
}
