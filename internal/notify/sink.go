package notify

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"regexp"

	"github.com/resend/resend-go/v2"
)

// Subject of every contact notification.
const Subject = "New Contact Email"

// Notice is appended to a reply when the visitor shared an email address.
const Notice = "Thanks for sharing your email! %s will follow up soon."

var emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,4}`)

// ExtractEmail returns the first email address in text and whether one was
// found.
func ExtractEmail(text string) (string, bool) {
	m := emailPattern.FindString(text)
	return m, m != ""
}

// Email is one outgoing message.
type Email struct {
	From    string
	To      string
	Subject string
	HTML    string
}

// Sender delivers an email.
type Sender interface {
	Send(ctx context.Context, e Email) (id string, err error)
}

// ResendSender sends through the Resend API.
type ResendSender struct {
	client *resend.Client
}

// NewResendSender creates a sender authenticated with apiKey.
func NewResendSender(apiKey string) *ResendSender {
	return &ResendSender{client: resend.NewClient(apiKey)}
}

func (s *ResendSender) Send(ctx context.Context, e Email) (string, error) {
	resp, err := s.client.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    e.From,
		To:      []string{e.To},
		Subject: e.Subject,
		Html:    e.HTML,
	})
	if err != nil {
		return "", fmt.Errorf("sending email: %w", err)
	}
	return resp.Id, nil
}

// Sink tells the site owner that a visitor left an email address.
type Sink struct {
	sender Sender
	from   string
	alert  string
	logger *slog.Logger
}

// New creates a Sink. A nil sender or empty alert address disables sending;
// Notify then only logs.
func New(sender Sender, from, alertAddress string) *Sink {
	return &Sink{
		sender: sender,
		from:   from,
		alert:  alertAddress,
		logger: slog.Default(),
	}
}

// Enabled reports whether notifications are actually sent.
func (s *Sink) Enabled() bool {
	return s.sender != nil && s.alert != ""
}

// Notify sends the contact notification for email. It never fails: missing
// configuration and vendor rejections are logged and swallowed.
func (s *Sink) Notify(ctx context.Context, email string) {
	if !s.Enabled() {
		s.logger.Warn("email notification skipped: not configured", "email", email)
		return
	}

	id, err := s.sender.Send(ctx, Email{
		From:    s.from,
		To:      s.alert,
		Subject: Subject,
		HTML:    fmt.Sprintf("<p>New contact email received: <strong>%s</strong></p>", html.EscapeString(email)),
	})
	if err != nil {
		s.logger.Warn("email notification failed", "email", email, "error", err)
		return
	}
	s.logger.Info("email notification sent", "email", email, "id", id)
}
