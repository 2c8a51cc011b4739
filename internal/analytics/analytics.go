// Package analytics forwards user activity events to an external service.
package analytics

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

var ErrDeliveryFailed = errors.New("analytics delivery failed")

// Event is the JSON body posted to the analytics webhook.
type Event struct {
	UserID     int64          `json:"user_id"`
	Action     string         `json:"action"`
	Data       map[string]any `json:"data,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Sink abstracts delivery to the analytics service. Swapping it in tests
// gives full control over delivery without real HTTP calls.
type Sink interface {
	Track(ctx context.Context, e Event) error
}

// LogSink logs events instead of delivering them. Used when no webhook URL
// is configured.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Track(_ context.Context, e Event) error {
	s.logger.Info("analytics event",
		zap.Int64("user_id", e.UserID),
		zap.String("action", e.Action),
		zap.Any("data", e.Data),
	)
	return nil
}

// Recorder keeps events in memory. Err, when set, fails every call.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	Err    error
}

func (r *Recorder) Track(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.events = append(r.events, e)
	return nil
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}
