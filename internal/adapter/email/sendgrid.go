// Package email delivers rendered order emails through SendGrid.
package email

import (
	"context"
	"fmt"

	"mccapes-reconciler/internal/core/domain"
	"mccapes-reconciler/pkg/apperror"

	"github.com/rs/zerolog"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// Client is the subset of *sendgrid.Client used by the sender.
type Client interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// Config configures the SendGrid sender.
type Config struct {
	APIKey      string
	FromAddress string
	FromName    string
}

// SendGridSender implements ports.EmailSender.
type SendGridSender struct {
	client Client
	from   *mail.Email
	log    zerolog.Logger
}

// NewSendGridSender creates a sender. client may be nil to use the real SendGrid API.
func NewSendGridSender(cfg Config, client Client, log zerolog.Logger) (*SendGridSender, error) {
	if cfg.APIKey == "" && client == nil {
		return nil, apperror.ErrConfigurationMissing("email.sendgrid_api_key")
	}
	if cfg.FromAddress == "" {
		return nil, apperror.ErrConfigurationMissing("email.from_address")
	}
	if client == nil {
		client = sendgrid.NewSendClient(cfg.APIKey)
	}
	return &SendGridSender{
		client: client,
		from:   mail.NewEmail(cfg.FromName, cfg.FromAddress),
		log:    log,
	}, nil
}

// Send delivers msg. Any status >= 400 is an error.
func (s *SendGridSender) Send(ctx context.Context, msg *domain.EmailMessage) error {
	to := mail.NewEmail(msg.ToName, msg.ToAddress)
	message := mail.NewSingleEmail(s.from, msg.Subject, to, msg.PlainText, msg.HTML)

	resp, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("sendgrid send: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("sendgrid send: status %d: %s", resp.StatusCode, resp.Body)
	}

	s.log.Debug().
		Str("to", msg.ToAddress).
		Int("status_code", resp.StatusCode).
		Msg("Email accepted by SendGrid")
	return nil
}
