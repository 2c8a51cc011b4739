package broker

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Memory is an in-process broker. Queues are FIFO; Receive scans the given
// queues in order, so earlier queues are served before later ones whenever
// both have messages waiting.
//
// A capacity of zero means unbounded. With a capacity set, Publish returns
// ErrQueueFull immediately instead of blocking the producer.
type Memory struct {
	mu       sync.Mutex
	capacity int
	ready    map[string][]string
	inflight map[string][]string
	dead     map[string][]string
	leases   map[string]lease
	wake     chan struct{}
	closed   bool
}

func NewMemory(capacity int) *Memory {
	return &Memory{
		capacity: capacity,
		ready:    make(map[string][]string),
		inflight: make(map[string][]string),
		dead:     make(map[string][]string),
		leases:   make(map[string]lease),
		wake:     make(chan struct{}),
	}
}

func (m *Memory) Publish(_ context.Context, msg *Message) error {
	raw, err := msg.encode()
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.capacity > 0 && len(m.ready[msg.Queue]) >= m.capacity {
		return fmt.Errorf("%w: %s", ErrQueueFull, msg.Queue)
	}
	m.ready[msg.Queue] = append(m.ready[msg.Queue], raw)
	m.broadcast()
	return nil
}

// broadcast wakes every blocked receiver. Caller holds mu.
func (m *Memory) broadcast() {
	close(m.wake)
	m.wake = make(chan struct{})
}

func (m *Memory) Receive(ctx context.Context, consumer string, queues []string) (*Delivery, error) {
	if len(queues) == 0 {
		return nil, ErrNoQueues
	}
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return nil, ErrClosed
		}
		if d := m.takeLocked(consumer, queues); d != nil {
			m.mu.Unlock()
			return d, nil
		}
		wake := m.wake
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wake:
		}
	}
}

// takeLocked pops the first decodable message. Undecodable ones go straight
// to the dead list since no handler could ever run them.
func (m *Memory) takeLocked(consumer string, queues []string) *Delivery {
	for _, q := range queues {
		for len(m.ready[q]) > 0 {
			raw := m.ready[q][0]
			m.ready[q] = m.ready[q][1:]

			msg, err := decodeMessage(raw)
			if err != nil {
				if rec, derr := newDeadLetter(raw, err.Error()); derr == nil {
					m.dead[q] = append(m.dead[q], rec)
				}
				continue
			}
			key := ProcessingKey(q, consumer)
			m.inflight[key] = append(m.inflight[key], raw)
			return &Delivery{Message: msg, Queue: q, Consumer: consumer, raw: raw}
		}
	}
	return nil
}

func (m *Memory) removeInflightLocked(d *Delivery) bool {
	key := ProcessingKey(d.Queue, d.Consumer)
	items := m.inflight[key]
	for i, raw := range items {
		if raw == d.raw {
			m.inflight[key] = append(items[:i:i], items[i+1:]...)
			return true
		}
	}
	return false
}

func (m *Memory) Ack(_ context.Context, d *Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.removeInflightLocked(d) {
		return ErrUnknownItem
	}
	return nil
}

func (m *Memory) DeadLetter(_ context.Context, d *Delivery, reason string) error {
	rec, err := newDeadLetter(d.raw, reason)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeInflightLocked(d)
	m.dead[d.Queue] = append(m.dead[d.Queue], rec)
	return nil
}

func (m *Memory) Recover(_ context.Context, consumer string, queues []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, q := range queues {
		key := ProcessingKey(q, consumer)
		n += len(m.inflight[key])
		m.ready[q] = append(m.ready[q], m.inflight[key]...)
		delete(m.inflight, key)
	}
	if n > 0 {
		m.broadcast()
	}
	return n, nil
}

type lease struct {
	holder  string
	expires time.Time
}

func (m *Memory) Lease(_ context.Context, consumer, holder string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	now := time.Now()
	if cur, ok := m.leases[consumer]; ok && cur.holder != holder && now.Before(cur.expires) {
		return fmt.Errorf("%w: %s", ErrConsumerInUse, consumer)
	}
	m.leases[consumer] = lease{holder: holder, expires: now.Add(ttl)}
	return nil
}

func (m *Memory) Release(_ context.Context, consumer, holder string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.leases[consumer]; ok && cur.holder == holder {
		delete(m.leases, consumer)
	}
	return nil
}

func (m *Memory) Stats(_ context.Context, queue string) (QueueStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return QueueStats{
		Queue: queue,
		Ready: int64(len(m.ready[queue])),
		Dead:  int64(len(m.dead[queue])),
	}, nil
}

// DeadLetters returns up to limit records, newest first.
func (m *Memory) DeadLetters(_ context.Context, queue string, limit int64) ([]DeadLetter, error) {
	m.mu.Lock()
	items := m.dead[queue]
	newest := make([]string, 0, len(items))
	for i := len(items) - 1; i >= 0; i-- {
		if limit > 0 && int64(len(newest)) >= limit {
			break
		}
		newest = append(newest, items[i])
	}
	m.mu.Unlock()
	return decodeDeadLetters(newest)
}

func (m *Memory) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

// Close unblocks every pending Receive. Messages still queued are dropped.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		m.broadcast()
	}
	return nil
}
