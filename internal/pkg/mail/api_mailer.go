package mail

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ManuelReschke/LeadHub/internal/pkg/apperror"
	"github.com/ManuelReschke/LeadHub/internal/pkg/config"
	"github.com/gofiber/fiber/v2"
)

type apiPayload struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

// APIMailer posts messages to a transactional email HTTP API.
type APIMailer struct {
	url     string
	apiKey  string
	sender  string
	timeout time.Duration
}

func NewAPIMailer(cfg config.MailConfig) *APIMailer {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &APIMailer{url: cfg.APIURL, apiKey: cfg.APIKey, sender: cfg.Sender, timeout: timeout}
}

func (m *APIMailer) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return apperror.TransientProvider("context_done", err)
	}

	agent := fiber.Post(m.url).
		Set(fiber.HeaderAuthorization, "Bearer "+m.apiKey).
		Timeout(m.timeout).
		JSON(apiPayload{
			From:    m.sender,
			To:      []string{msg.To},
			Subject: msg.Subject,
			HTML:    msg.HTML,
		})

	code, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return apperror.TransientProvider("mail_api_unreachable", errs[0])
	}
	return classifyStatus(code, body)
}

// classifyStatus maps the HTTP status of the email API onto error kinds.
// Rate limiting is treated like an outage.
func classifyStatus(code int, body []byte) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests || code >= 500:
		return apperror.TransientProvider("mail_api_unavailable", fmt.Errorf("status %d: %s", code, truncate(body)))
	default:
		return apperror.PermanentProvider("mail_api_rejected", fmt.Errorf("status %d: %s", code, truncate(body)))
	}
}

func truncate(b []byte) string {
	const max = 200
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
