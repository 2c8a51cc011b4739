package mailer

import (
	"context"
	"errors"
	"fmt"

	"github.com/mrz1836/postmark"
)

type Postmark struct {
	client *postmark.Client
	from   string
}

type PostmarkOption func(*Postmark)

// WithPostmarkBaseURL points the client at another API host.
func WithPostmarkBaseURL(url string) PostmarkOption {
	return func(p *Postmark) { p.client.BaseURL = url }
}

// NewPostmark creates a Postmark-backed sender. The server token and sender
// address are required.
func NewPostmark(serverToken, accountToken, from string, opts ...PostmarkOption) (*Postmark, error) {
	if serverToken == "" {
		return nil, fmt.Errorf("%w: postmark server token is required", ErrInvalidConfig)
	}
	if from == "" {
		return nil, fmt.Errorf("%w: sender address is required", ErrInvalidConfig)
	}
	p := &Postmark{client: postmark.NewClient(serverToken, accountToken), from: from}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *Postmark) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	resp, err := p.client.SendEmail(ctx, postmark.Email{
		From:     p.from,
		To:       msg.To,
		Subject:  msg.Subject,
		Tag:      msg.Tag,
		TextBody: msg.Body,
	})
	if err != nil {
		return errors.Join(ErrSendFailed, err)
	}
	if resp.ErrorCode > 0 {
		return errors.Join(ErrSendFailed,
			fmt.Errorf("postmark error: %d - %s", resp.ErrorCode, resp.Message))
	}
	return nil
}
