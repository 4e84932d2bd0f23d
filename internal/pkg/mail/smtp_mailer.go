package mail

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"net/textproto"

	"github.com/ManuelReschke/LeadHub/internal/pkg/apperror"
	"github.com/ManuelReschke/LeadHub/internal/pkg/config"
	"github.com/gofiber/fiber/v2/log"
)

// SMTPMailer sends emails via SMTP
type SMTPMailer struct {
	host     string
	port     string
	username string
	password string
	sender   string
	send     func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPMailer(cfg config.MailConfig) *SMTPMailer {
	return &SMTPMailer{
		host:     cfg.SMTPHost,
		port:     cfg.SMTPPort,
		username: cfg.SMTPUsername,
		password: cfg.SMTPPassword,
		sender:   cfg.Sender,
		send:     smtp.SendMail,
	}
}

func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return apperror.TransientProvider("context_done", err)
	}

	sender := m.sender
	if sender == "" {
		sender = fmt.Sprintf("no-reply@%s", "localhost")
		log.Warnf("[Mail] Sender not set, using default sender: %s", sender)
	}

	var auth smtp.Auth
	if m.username != "" && m.password != "" {
		auth = smtp.PlainAuth("", m.username, m.password, m.host)
	}

	addr := fmt.Sprintf("%s:%s", m.host, m.port)

	body := []byte(
		fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n", sender, msg.To, msg.Subject) +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/html; charset=UTF-8\r\n\r\n" +
			msg.HTML,
	)

	if err := m.send(addr, auth, sender, []string{msg.To}, body); err != nil {
		return classifySMTP(err)
	}
	log.Debugf("[Mail] Email sent to %s via %s", msg.To, addr)
	return nil
}

// classifySMTP treats 4xx replies and connection failures as transient and
// 5xx replies as permanent.
func classifySMTP(err error) error {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) && tpErr.Code >= 500 {
		return apperror.PermanentProvider("smtp_rejected", err)
	}
	return apperror.TransientProvider("smtp_unavailable", err)
}
