// Package broker moves task messages between producers and workers.
//
// Two transports share the same contract: Redis lists for multi-process
// deployments and an in-memory store for tests and single-process runs.
// Both store messages as JSON text, so a message that round-trips through
// one transport round-trips through the other.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrQueueFull   = errors.New("queue is at capacity")
	ErrClosed      = errors.New("broker is closed")
	ErrInvalidURL  = errors.New("invalid broker URL")
	ErrBadMessage  = errors.New("malformed task message")
	ErrNoQueues    = errors.New("receive needs at least one queue")
	ErrUnknownItem = errors.New("delivery is not in flight")

	// ErrConsumerInUse means another process holds a live lease on the
	// consumer name.
	ErrConsumerInUse = errors.New("consumer name is leased by another process")
)

// Message is the unit placed on a queue.
// Args keeps every positional argument as raw JSON so handlers decode them
// into whatever type they expect.
type Message struct {
	ID         string            `json:"id"`
	TaskName   string            `json:"task_name"`
	Args       []json.RawMessage `json:"args"`
	Queue      string            `json:"queue"`
	EnqueuedAt time.Time         `json:"enqueued_at"`
}

func (m *Message) encode() (string, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshal message %s: %w", m.TaskName, err)
	}
	return string(b), nil
}

func decodeMessage(raw string) (*Message, error) {
	var m Message
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadMessage, err)
	}
	if m.TaskName == "" {
		return nil, fmt.Errorf("%w: empty task_name", ErrBadMessage)
	}
	return &m, nil
}

// Delivery is a message handed to one consumer. It stays in that consumer's
// in-flight list until it is acknowledged or dead-lettered.
type Delivery struct {
	Message  *Message
	Queue    string
	Consumer string

	raw string
}

// DeadLetter is a message parked for manual inspection.
type DeadLetter struct {
	MessageID string    `json:"message_id,omitempty"`
	TaskName  string    `json:"task_name,omitempty"`
	Payload   string    `json:"payload"`
	Reason    string    `json:"reason"`
	FailedAt  time.Time `json:"failed_at"`
}

func newDeadLetter(raw, reason string) (string, error) {
	dl := DeadLetter{Payload: raw, Reason: reason, FailedAt: time.Now().UTC()}
	if m, err := decodeMessage(raw); err == nil {
		dl.MessageID = m.ID
		dl.TaskName = m.TaskName
	}
	b, err := json.Marshal(dl)
	if err != nil {
		return "", fmt.Errorf("marshal dead letter: %w", err)
	}
	return string(b), nil
}

// QueueStats is a point-in-time depth snapshot of one queue.
type QueueStats struct {
	Queue string `json:"queue"`
	Ready int64  `json:"ready"`
	Dead  int64  `json:"dead"`
}

// Broker is the transport contract used by the dispatch client and workers.
type Broker interface {
	// Publish appends msg to msg.Queue. It does not wait for a consumer.
	Publish(ctx context.Context, msg *Message) error

	// Receive blocks until a message is available on one of queues or ctx
	// is done. The returned delivery is in flight for consumer.
	Receive(ctx context.Context, consumer string, queues []string) (*Delivery, error)

	// Ack removes a delivery from the in-flight list.
	Ack(ctx context.Context, d *Delivery) error

	// DeadLetter moves a delivery from the in-flight list to the queue's dead list.
	DeadLetter(ctx context.Context, d *Delivery, reason string) error

	// Recover puts messages left in flight by consumer back on their queues.
	// Workers call it on start so a crash before ack leads to redelivery.
	Recover(ctx context.Context, consumer string, queues []string) (int, error)

	// Lease claims consumer for holder until ttl elapses. Calling it again
	// with the same holder extends the lease; any other holder gets
	// ErrConsumerInUse while the lease is live. Recover is only safe for a
	// consumer whose lease the caller holds.
	Lease(ctx context.Context, consumer, holder string, ttl time.Duration) error

	// Release drops the lease if holder still owns it.
	Release(ctx context.Context, consumer, holder string) error

	Stats(ctx context.Context, queue string) (QueueStats, error)
	DeadLetters(ctx context.Context, queue string, limit int64) ([]DeadLetter, error)

	Ping(ctx context.Context) error
	Close() error
}

// ReadyKey is the list holding messages waiting for a consumer.
func ReadyKey(queue string) string {
	return "queue:" + queue + ":ready"
}

// ProcessingKey is the per-consumer list of in-flight messages.
func ProcessingKey(queue, consumer string) string {
	return "queue:" + queue + ":processing:" + consumer
}

// DeadKey is the list of dead-lettered messages.
func DeadKey(queue string) string {
	return "queue:" + queue + ":dead"
}

// LeaseKey holds the id of the process that owns a consumer name.
func LeaseKey(consumer string) string {
	return "consumer:" + consumer + ":lease"
}

func decodeDeadLetters(items []string) ([]DeadLetter, error) {
	out := make([]DeadLetter, 0, len(items))
	for _, item := range items {
		var dl DeadLetter
		if err := json.Unmarshal([]byte(item), &dl); err != nil {
			return nil, fmt.Errorf("decode dead letter: %w", err)
		}
		out = append(out, dl)
	}
	return out, nil
}
