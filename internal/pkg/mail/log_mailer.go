package mail

import (
	"context"

	"github.com/gofiber/fiber/v2/log"
)

// LogMailer only logs outgoing mail. Meant for local development.
type LogMailer struct{}

func (LogMailer) Send(_ context.Context, msg Message) error {
	log.Infof("[Mail] (log transport) to=%s subject=%q bytes=%d", msg.To, msg.Subject, len(msg.HTML))
	return nil
}
