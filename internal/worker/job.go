package worker

import (
	"context"
	"time"
)

// Task is one unit of background work routed by Operation
type Task struct {
	Operation     string
	JobID         string
	Payload       []byte
	CorrelationID string
	EnqueuedAt    time.Time
}

// HandlerFunc executes a task
type HandlerFunc func(ctx context.Context, task Task) error
