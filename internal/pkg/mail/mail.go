// Package mail implements the email transports. Every transport classifies
// its failures as apperror.ErrTransientProvider (worth retrying) or
// apperror.ErrPermanentProvider (will not succeed on retry).
package mail

import (
	"context"
	"fmt"

	"github.com/ManuelReschke/LeadHub/internal/pkg/config"
)

// Message is a single HTML email.
type Message struct {
	To      string
	Subject string
	HTML    string
}

// Mailer delivers a message to one recipient.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// New returns the transport selected in the configuration.
func New(cfg config.MailConfig) (Mailer, error) {
	switch cfg.Transport {
	case config.MailTransportAPI:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("MAIL_API_KEY is required for the api transport")
		}
		return NewAPIMailer(cfg), nil
	case config.MailTransportSMTP:
		if cfg.SMTPHost == "" {
			return nil, fmt.Errorf("SMTP_HOST is required for the smtp transport")
		}
		return NewSMTPMailer(cfg), nil
	case config.MailTransportLog:
		return LogMailer{}, nil
	default:
		return nil, fmt.Errorf("unsupported mail transport %q", cfg.Transport)
	}
}
