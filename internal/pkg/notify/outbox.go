package notify

import (
	"context"
	"time"

	"github.com/ManuelReschke/LeadHub/app/repository"
	"github.com/ManuelReschke/LeadHub/internal/pkg/alerts"
	"github.com/ManuelReschke/LeadHub/internal/pkg/apperror"
	"github.com/ManuelReschke/LeadHub/internal/pkg/sweep"
	"github.com/gofiber/fiber/v2/log"
)

const (
	outboxBaseDelay = 30 * time.Second
	outboxMaxDelay  = time.Hour
	outboxLease     = 2 * time.Minute
)

// OutboxWorker drains due outbox rows through the dispatcher.
type OutboxWorker struct {
	store       repository.Store
	dispatcher  *Dispatcher
	alerts      alerts.Publisher
	batchSize   int
	maxAttempts int
	now         func() time.Time
}

func NewOutboxWorker(store repository.Store, d *Dispatcher, pub alerts.Publisher, batchSize, maxAttempts int) *OutboxWorker {
	if batchSize <= 0 {
		batchSize = 50
	}
	if maxAttempts <= 0 {
		maxAttempts = 8
	}
	return &OutboxWorker{
		store:       store,
		dispatcher:  d,
		alerts:      pub,
		batchSize:   batchSize,
		maxAttempts: maxAttempts,
		now:         d.now,
	}
}

// retryDelay doubles from 30s per attempt, capped at one hour.
func retryDelay(attempts int) time.Duration {
	d := outboxBaseDelay
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= outboxMaxDelay {
			return outboxMaxDelay
		}
	}
	return d
}

// DrainOnce delivers one batch of due rows. Rows claimed by another worker
// in the meantime are skipped.
func (w *OutboxWorker) DrainOnce(ctx context.Context) (sweep.Summary, error) {
	summary := sweep.Summary{Job: "drain-outbox"}
	due, err := w.store.Outbox().ListDue(ctx, w.now(), w.batchSize)
	if err != nil {
		return summary, err
	}

	for _, ev := range due {
		if ctx.Err() != nil {
			break
		}
		claimed, err := w.store.Outbox().Claim(ctx, ev.ID, ev.Attempts, w.now().Add(outboxLease))
		if err != nil {
			log.Errorf("[Outbox] Failed to claim %s: %v", ev.ID, err)
			summary.Errors++
			continue
		}
		if !claimed {
			summary.Skipped++
			continue
		}
		summary.Processed++
		attempts := ev.Attempts + 1

		res := w.dispatcher.SendEmail(ctx, ev.Recipient, ev.Subject, ev.Body)
		switch {
		case res.Success:
			if err := w.store.Outbox().MarkSent(ctx, ev.ID, w.now()); err != nil {
				log.Errorf("[Outbox] Sent %s but failed to mark it: %v", ev.ID, err)
				summary.Errors++
				continue
			}
			summary.Sent++
		case !apperror.Retryable(res.Err) || attempts >= w.maxAttempts:
			summary.Errors++
			if err := w.store.Outbox().MarkDead(ctx, ev.ID, res.Err.Error()); err != nil {
				log.Errorf("[Outbox] Failed to mark %s dead: %v", ev.ID, err)
				continue
			}
			alerts.Raise(ctx, w.alerts, alerts.Alert{
				Kind:       alerts.KindOutboxDead,
				Severity:   alerts.SeverityError,
				Message:    "email delivery abandoned",
				ResourceID: ev.ID,
				Fields:     map[string]any{"attempts": attempts, "reason": apperror.ReasonOf(res.Err)},
			})
		default:
			summary.Errors++
			next := w.now().Add(retryDelay(attempts))
			if err := w.store.Outbox().MarkRetry(ctx, ev.ID, next, res.Err.Error()); err != nil {
				log.Errorf("[Outbox] Failed to reschedule %s: %v", ev.ID, err)
			}
		}
	}

	if summary.Processed > 0 {
		log.Infof("[Outbox] %s", summary)
	}
	return summary, nil
}
