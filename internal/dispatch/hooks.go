package dispatch

import "time"

// Hooks are optional observation callbacks. The client fires the enqueue
// hooks and workers fire the processing hooks. Nil fields are no-ops.
type Hooks struct {
	OnEnqueued      func(task, queue string)
	OnEnqueueFailed func(task, queue string)
	OnProcessed     func(task, status string, took time.Duration)
	OnUnknown       func(task string)
}

// WithDefaults fills nil callbacks with no-ops.
func (h Hooks) WithDefaults() Hooks {
	if h.OnEnqueued == nil {
		h.OnEnqueued = func(string, string) {}
	}
	if h.OnEnqueueFailed == nil {
		h.OnEnqueueFailed = func(string, string) {}
	}
	if h.OnProcessed == nil {
		h.OnProcessed = func(string, string, time.Duration) {}
	}
	if h.OnUnknown == nil {
		h.OnUnknown = func(string) {}
	}
	return h
}

// Merge returns hooks that call both h and other.
func (h Hooks) Merge(other Hooks) Hooks {
	a, b := h.WithDefaults(), other.WithDefaults()
	return Hooks{
		OnEnqueued:      func(t, q string) { a.OnEnqueued(t, q); b.OnEnqueued(t, q) },
		OnEnqueueFailed: func(t, q string) { a.OnEnqueueFailed(t, q); b.OnEnqueueFailed(t, q) },
		OnProcessed: func(t, s string, d time.Duration) {
			a.OnProcessed(t, s, d)
			b.OnProcessed(t, s, d)
		},
		OnUnknown: func(t string) { a.OnUnknown(t); b.OnUnknown(t) },
	}
}
