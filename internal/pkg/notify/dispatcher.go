// Package notify writes in-app notifications, queues outbound email in the
// caller's transaction and delivers queued email with retries.
package notify

import (
	"context"
	"time"

	"github.com/ManuelReschke/LeadHub/app/models"
	"github.com/ManuelReschke/LeadHub/app/repository"
	"github.com/ManuelReschke/LeadHub/internal/pkg/apperror"
	"github.com/ManuelReschke/LeadHub/internal/pkg/mail"
	"github.com/ManuelReschke/LeadHub/internal/pkg/metrics"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
)

// DefaultBackoff is the wait before each retry of SendEmail.
var DefaultBackoff = []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}

// InApp is a notification stored for the in-app inbox.
type InApp struct {
	UserID    uint
	Type      string
	Title     string
	Message   string
	RelatedID *uint
	Metadata  map[string]any
}

// Email is a message queued in the outbox.
type Email struct {
	To        string
	Subject   string
	HTML      string
	DedupeKey string
}

// SendResult reports a direct delivery attempt.
type SendResult struct {
	Success  bool
	Attempts int
	Err      error
}

type Dispatcher struct {
	mailer  mail.Mailer
	metrics *metrics.Metrics
	backoff []time.Duration
	sleep   func(ctx context.Context, d time.Duration) error
	now     func() time.Time
}

type Option func(*Dispatcher)

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

func WithBackoff(backoff []time.Duration) Option {
	return func(d *Dispatcher) { d.backoff = backoff }
}

// WithSleep replaces the wait between retries.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(d *Dispatcher) { d.sleep = sleep }
}

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

func NewDispatcher(mailer mail.Mailer, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		mailer:  mailer,
		backoff: DefaultBackoff,
		sleep:   sleepContext,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// NotifyInApp persists a notification through store, which may be a
// transaction.
func (d *Dispatcher) NotifyInApp(ctx context.Context, store repository.Store, n InApp) error {
	return store.Notifications().Create(ctx, &models.Notification{
		UserID:    n.UserID,
		Type:      n.Type,
		Title:     n.Title,
		Message:   n.Message,
		RelatedID: n.RelatedID,
		Metadata:  n.Metadata,
	})
}

// QueueEmail writes the email to the outbox through store. Returns false
// when an email with the same dedupe key was queued before.
func (d *Dispatcher) QueueEmail(ctx context.Context, store repository.Store, e Email) (bool, error) {
	event := &models.OutboxEvent{
		ID:            uuid.NewString(),
		Kind:          models.OutboxKindEmail,
		Recipient:     e.To,
		Subject:       e.Subject,
		Body:          e.HTML,
		Status:        models.OutboxStatusPending,
		NextAttemptAt: d.now(),
	}
	if e.DedupeKey != "" {
		key := e.DedupeKey
		event.DedupeKey = &key
	}
	return store.Outbox().Enqueue(ctx, event)
}

// Deliver stores the in-app notification and queues the matching email for
// the user. Users without an email address only get the in-app entry.
func (d *Dispatcher) Deliver(ctx context.Context, store repository.Store, user *models.User, c Content, relatedID *uint, dedupeKey string) error {
	if err := d.NotifyInApp(ctx, store, InApp{
		UserID:    user.ID,
		Type:      c.Type,
		Title:     c.Title,
		Message:   c.Message,
		RelatedID: relatedID,
		Metadata:  c.Metadata,
	}); err != nil {
		return err
	}
	if user.Email == "" {
		return nil
	}
	_, err := d.QueueEmail(ctx, store, Email{To: user.Email, Subject: c.Subject, HTML: c.HTML, DedupeKey: dedupeKey})
	return err
}

// SendEmail delivers directly, retrying transient failures with the
// configured backoff. Permanent failures return after the first attempt.
func (d *Dispatcher) SendEmail(ctx context.Context, to, subject, html string) SendResult {
	msg := mail.Message{To: to, Subject: subject, HTML: html}
	var res SendResult
	for {
		res.Attempts++
		err := d.mailer.Send(ctx, msg)
		if err == nil {
			d.metrics.EmailDelivery("sent")
			return SendResult{Success: true, Attempts: res.Attempts}
		}
		res.Err = err
		if !apperror.Retryable(err) {
			d.metrics.EmailDelivery("rejected")
			log.Warnf("[Notify] Email to %s rejected: %v", to, err)
			return res
		}
		retry := res.Attempts - 1
		if retry >= len(d.backoff) {
			d.metrics.EmailDelivery("exhausted")
			log.Warnf("[Notify] Email to %s failed after %d attempts: %v", to, res.Attempts, err)
			return res
		}
		d.metrics.EmailDelivery("retry")
		if err := d.sleep(ctx, d.backoff[retry]); err != nil {
			res.Err = apperror.TransientProvider("context_done", err)
			return res
		}
	}
}
