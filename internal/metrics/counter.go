package metrics

import (
	"sync"
	"time"

	"github.com/ricirt/taskdispatch/internal/dispatch"
)

// Counter keeps per-task totals in memory for the JSON snapshot endpoint
// and for tests that need to wait on worker progress.
type Counter struct {
	mu        sync.Mutex
	enqueued  map[string]int
	failed    map[string]int
	processed map[string]map[string]int
	unknown   map[string]int
}

func NewCounter() *Counter {
	return &Counter{
		enqueued:  make(map[string]int),
		failed:    make(map[string]int),
		processed: make(map[string]map[string]int),
		unknown:   make(map[string]int),
	}
}

// Snapshot is a copy of the counters at one point in time.
type Snapshot struct {
	Enqueued      map[string]int            `json:"enqueued"`
	EnqueueFailed map[string]int            `json:"enqueue_failed"`
	Processed     map[string]map[string]int `json:"processed,omitempty"`
	Unknown       map[string]int            `json:"unknown,omitempty"`
}

func (c *Counter) Hooks() dispatch.Hooks {
	return dispatch.Hooks{
		OnEnqueued: func(task, _ string) {
			c.mu.Lock()
			c.enqueued[task]++
			c.mu.Unlock()
		},
		OnEnqueueFailed: func(task, _ string) {
			c.mu.Lock()
			c.failed[task]++
			c.mu.Unlock()
		},
		OnProcessed: func(task, status string, _ time.Duration) {
			c.mu.Lock()
			if c.processed[task] == nil {
				c.processed[task] = make(map[string]int)
			}
			c.processed[task][status]++
			c.mu.Unlock()
		},
		OnUnknown: func(task string) {
			c.mu.Lock()
			c.unknown[task]++
			c.mu.Unlock()
		},
	}
}

// Processed returns how many messages for task ended with status.
func (c *Counter) Processed(task, status string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.processed[task][status]
}

func (c *Counter) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Snapshot{
		Enqueued:      copyCounts(c.enqueued),
		EnqueueFailed: copyCounts(c.failed),
		Processed:     make(map[string]map[string]int, len(c.processed)),
		Unknown:       copyCounts(c.unknown),
	}
	for task, byStatus := range c.processed {
		s.Processed[task] = copyCounts(byStatus)
	}
	return s
}

func copyCounts(in map[string]int) map[string]int {
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
