package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/mrz1836/postmark"
)

var (
	ErrInvalidRecipient  = errors.New("tasks: invalid recipient")
	ErrFailedToSendEmail = errors.New("tasks: failed to send email")
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// Email is the payload of a send_email job.
type Email struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	Tag     string `json:"tag,omitempty"`
}

// Validate checks the recipient and subject.
func (e Email) Validate() error {
	to := strings.TrimSpace(e.To)
	if to == "" || !emailRegex.MatchString(to) {
		return fmt.Errorf("%w: %q", ErrInvalidRecipient, e.To)
	}
	if strings.TrimSpace(e.Subject) == "" {
		return fmt.Errorf("tasks: email to %q has no subject", e.To)
	}
	return nil
}

// EmailSender delivers a validated email.
type EmailSender interface {
	SendEmail(ctx context.Context, e Email) error
}

type postmarkSender struct {
	client *postmark.Client
	from   string
}

// NewPostmarkSender sends through the Postmark API.
func NewPostmarkSender(serverToken, accountToken, from string) (EmailSender, error) {
	if serverToken == "" {
		return nil, errors.New("tasks: postmark server token is required")
	}
	if !emailRegex.MatchString(from) {
		return nil, fmt.Errorf("tasks: sender email %q is not a valid address", from)
	}
	return &postmarkSender{
		client: postmark.NewClient(serverToken, accountToken),
		from:   from,
	}, nil
}

func (s *postmarkSender) SendEmail(ctx context.Context, e Email) error {
	resp, err := s.client.SendEmail(ctx, postmark.Email{
		From:       s.from,
		To:         e.To,
		Subject:    e.Subject,
		TextBody:   e.Body,
		Tag:        e.Tag,
		TrackOpens: false,
	})
	if err != nil {
		return errors.Join(ErrFailedToSendEmail, err)
	}
	if resp.ErrorCode > 0 {
		return errors.Join(ErrFailedToSendEmail, fmt.Errorf("postmark error: %d - %s", resp.ErrorCode, resp.Message))
	}
	return nil
}

// logSender writes emails to the log instead of sending them.
type logSender struct {
	logger *slog.Logger
	from   string
}

// NewLogSender returns a sender for local runs without Postmark credentials.
func NewLogSender(logger *slog.Logger, from string) EmailSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &logSender{logger: logger, from: from}
}

func (s *logSender) SendEmail(ctx context.Context, e Email) error {
	s.logger.InfoContext(ctx, "email not sent, no postmark token configured",
		"from", s.from,
		"to", e.To,
		"subject", e.Subject,
		"body_bytes", len(e.Body),
	)
	return nil
}
