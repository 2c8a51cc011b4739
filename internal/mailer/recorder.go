package mailer

import (
	"context"
	"sync"
)

// Recorder is an in-memory Sender used in tests. It records every message
// it accepts; addresses in FailFor are rejected with ErrSendFailed.
type Recorder struct {
	mu   sync.Mutex
	sent []Message

	FailFor map[string]bool
	Err     error
}

func NewRecorder() *Recorder {
	return &Recorder{FailFor: make(map[string]bool)}
}

func (r *Recorder) Send(_ context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	if r.FailFor[msg.To] {
		return ErrSendFailed
	}
	r.sent = append(r.sent, msg)
	return nil
}

// Sent returns a copy of every accepted message in order.
func (r *Recorder) Sent() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.sent...)
}

// SentTo returns the accepted messages for one address.
func (r *Recorder) SentTo(addr string) []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Message
	for _, m := range r.sent {
		if m.To == addr {
			out = append(out, m)
		}
	}
	return out
}
