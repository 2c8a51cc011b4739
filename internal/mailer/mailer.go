// Package mailer sends the plain-text emails produced by task handlers.
package mailer

import (
	"context"
	"errors"
	"net/mail"
)

var (
	ErrSendFailed     = errors.New("failed to send email")
	ErrInvalidMessage = errors.New("invalid email message")
	ErrInvalidConfig  = errors.New("invalid mailer config")
)

// Message is one outgoing email.
type Message struct {
	To      string
	Subject string
	Body    string
	// Tag groups messages in the provider's dashboard, e.g. "welcome".
	Tag string
}

func (m Message) Validate() error {
	if _, err := mail.ParseAddress(m.To); err != nil {
		return errors.Join(ErrInvalidMessage, err)
	}
	if m.Subject == "" {
		return errors.Join(ErrInvalidMessage, errors.New("empty subject"))
	}
	return nil
}

// Sender delivers a message. Implementations must be safe for concurrent use.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}
