// Package queue is a durable log of continuation tasks. Each task carries
// the remaining identifiers of a session; claiming is exclusive and leased,
// so a crashed worker's task is picked up again after its lease expires.
package queue

import (
	"context"
	"fmt"
	"time"
)

// Task statuses.
const (
	StatusPending = "pending"
	StatusRunning = "running"
	StatusDone    = "done"
	StatusDead    = "dead"
)

// Task is one continuation step.
type Task struct {
	ID        string
	SessionID string
	Remaining []string
	Attempts  int
	LastError string
	CreatedAt time.Time
}

// Log persists tasks.
type Log interface {
	// Append stores t as pending. Appending an existing id is a no-op.
	Append(ctx context.Context, t Task) error
	// Claim leases the oldest available task, or returns nil when none is.
	Claim(ctx context.Context, lease time.Duration) (*Task, error)
	// Complete marks a claimed task done.
	Complete(ctx context.Context, id string) error
	// Release returns a failed task to the queue, or marks it dead once it
	// has been attempted maxAttempts times.
	Release(ctx context.Context, id, errMsg string, maxAttempts int) error
	Close() error
}

// Counter reports how many tasks are in each status.
type Counter interface {
	Counts(ctx context.Context) (map[string]int, error)
}

// TaskID derives the id of the task continuing session with n identifiers
// left. The remaining count strictly decreases along a session's chain, so
// a redelivered step appends the same id and the log ignores it.
func TaskID(sessionID string, n int) string {
	return fmt.Sprintf("%s#%d", sessionID, n)
}

// retryDelay is the wait before a released task becomes claimable again.
func retryDelay(attempts int) time.Duration {
	d := time.Duration(attempts) * 10 * time.Second
	if d > 5*time.Minute {
		d = 5 * time.Minute
	}
	return d
}
