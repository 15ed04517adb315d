// Package monitoring watches the continuation queue and posts alerts to a
// webhook when enrichment chains die or back up.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-pipeline/internal/queue"
)

// MetricsSnapshot holds a point-in-time view of the continuation queue.
type MetricsSnapshot struct {
	Pending int `json:"pending"`
	Running int `json:"running"`
	Done    int `json:"done"`
	Dead    int `json:"dead"`

	CollectedAt time.Time `json:"collected_at"`
}

// Backlog is the number of tasks not yet finished.
func (s *MetricsSnapshot) Backlog() int {
	return s.Pending + s.Running
}

// Collector gathers metrics from the task log.
type Collector struct {
	counter queue.Counter
}

// NewCollector creates a new metrics collector.
func NewCollector(counter queue.Counter) *Collector {
	return &Collector{counter: counter}
}

// Collect gathers a snapshot of queue metrics.
func (c *Collector) Collect(ctx context.Context) (*MetricsSnapshot, error) {
	counts, err := c.counter.Counts(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count tasks")
	}
	return &MetricsSnapshot{
		Pending:     counts[queue.StatusPending],
		Running:     counts[queue.StatusRunning],
		Done:        counts[queue.StatusDone],
		Dead:        counts[queue.StatusDead],
		CollectedAt: time.Now().UTC(),
	}, nil
}
