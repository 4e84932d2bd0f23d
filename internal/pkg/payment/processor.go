// Package payment processes the payment gateway's transaction callbacks
// and keeps subscriptions in line with them.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ManuelReschke/LeadHub/app/models"
	"github.com/ManuelReschke/LeadHub/app/repository"
	"github.com/ManuelReschke/LeadHub/internal/pkg/alerts"
	"github.com/ManuelReschke/LeadHub/internal/pkg/apperror"
	"github.com/ManuelReschke/LeadHub/internal/pkg/config"
	"github.com/ManuelReschke/LeadHub/internal/pkg/metrics"
	"github.com/ManuelReschke/LeadHub/internal/pkg/notify"
	"github.com/gofiber/fiber/v2/log"
)

// errDuplicate aborts a transaction that lost the race on the payment's
// transaction id.
var errDuplicate = errors.New("payment already recorded")

type Processor struct {
	store      repository.Store
	dispatcher *notify.Dispatcher
	alerts     alerts.Publisher
	metrics    *metrics.Metrics
	cfg        config.PaymentConfig
	now        func() time.Time
}

type Option func(*Processor)

func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Processor) { p.metrics = m }
}

func NewProcessor(store repository.Store, dispatcher *notify.Dispatcher, pub alerts.Publisher, cfg config.PaymentConfig, opts ...Option) *Processor {
	if cfg.Currency == "" {
		cfg.Currency = "CHF"
	}
	if cfg.Gateway == "" {
		cfg.Gateway = "payrexx"
	}
	p := &Processor{store: store, dispatcher: dispatcher, alerts: pub, cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Handle processes one callback. The signature is checked against the raw
// body before anything is parsed. Replays of a known transaction id are
// acknowledged without touching any state.
func (p *Processor) Handle(ctx context.Context, raw []byte, signature string) Outcome {
	if !VerifySignature(raw, signature, p.cfg.WebhookSecret) {
		p.metrics.WebhookEvent("invalid_signature")
		log.Warnf("[Payment] Rejected callback with missing or invalid signature (%d bytes)", len(raw))
		return rejected(http.StatusForbidden, "invalid_signature", "Ungültige Signatur")
	}

	txn, payload, err := parseTransaction(raw)
	if err != nil {
		p.metrics.WebhookEvent("malformed")
		log.Warnf("[Payment] Malformed callback: %v", err)
		return rejected(http.StatusBadRequest, "malformed", "Ungültige Anfrage")
	}

	event, err := p.audit(ctx, txn, payload)
	if err != nil {
		p.metrics.WebhookEvent("error")
		log.Errorf("[Payment] Failed to store callback %s: %v", txn.ID, err)
		return rejected(http.StatusInternalServerError, "internal_error", "Interner Fehler")
	}

	out, procErr := p.process(ctx, txn)
	msg := ""
	if procErr != nil {
		msg = procErr.Error()
	}
	if err := p.store.WebhookEvents().MarkProcessed(ctx, event.ID, msg, p.now()); err != nil {
		log.Errorf("[Payment] Failed to mark callback %s processed: %v", txn.ID, err)
	}
	return out
}

func parseTransaction(raw []byte) (Transaction, string, error) {
	form, err := url.ParseQuery(string(raw))
	if err != nil {
		return Transaction{}, "", fmt.Errorf("parse form: %w", err)
	}
	payload := form.Get("transaction")
	if payload == "" {
		return Transaction{}, "", errors.New("missing transaction field")
	}
	var txn Transaction
	dec := json.NewDecoder(strings.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&txn); err != nil {
		return Transaction{}, "", fmt.Errorf("decode transaction: %w", err)
	}
	txn = txn.normalized()
	if txn.ID.String() == "" || txn.Status == "" {
		return Transaction{}, "", errors.New("transaction id or status missing")
	}
	return txn, payload, nil
}

// audit stores the callback. A redelivery of the same id and status reuses
// the existing row.
func (p *Processor) audit(ctx context.Context, txn Transaction, payload string) (*models.WebhookEvent, error) {
	event := &models.WebhookEvent{
		Gateway:        p.cfg.Gateway,
		EventID:        txn.ID.String() + ":" + txn.Status,
		EventType:      "transaction." + txn.Status,
		PayloadJSON:    payload,
		SignatureValid: true,
	}
	created, existing, err := p.store.WebhookEvents().CreateIfNotExists(ctx, event)
	if err != nil {
		return nil, err
	}
	if !created {
		return existing, nil
	}
	return event, nil
}

func (p *Processor) process(ctx context.Context, txn Transaction) (Outcome, error) {
	txID := txn.ID.String()
	ref, err := ParseReference(txn.ReferenceID)
	if err != nil {
		p.metrics.WebhookEvent("malformed")
		return rejected(http.StatusBadRequest, "invalid_reference", "Ungültige Referenz"), err
	}
	plan, ok := PlanFor(ref.Plan)
	if !ok {
		p.metrics.WebhookEvent("unknown_plan")
		return rejected(http.StatusBadRequest, "unknown_plan", "Unbekanntes Abo"), fmt.Errorf("unknown plan %q", ref.Plan)
	}

	if _, err := p.store.Payments().GetByTransactionID(ctx, txID); err == nil {
		p.metrics.WebhookEvent("replay")
		log.Infof("[Payment] Transaction %s already processed", txID)
		return alreadyProcessed(), nil
	} else if !errors.Is(err, apperror.ErrNotFound) {
		p.metrics.WebhookEvent("error")
		return rejected(http.StatusInternalServerError, "internal_error", "Interner Fehler"), err
	}

	if _, err := p.store.Users().GetByID(ctx, ref.UserID); err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			p.metrics.WebhookEvent("unknown_user")
			return rejected(http.StatusBadRequest, "unknown_user", "Unbekannter Benutzer"), err
		}
		p.metrics.WebhookEvent("error")
		return rejected(http.StatusInternalServerError, "internal_error", "Interner Fehler"), err
	}

	switch txn.Status {
	case StatusConfirmed:
		return p.confirm(ctx, txn, ref, plan)
	case StatusWaiting:
		p.metrics.WebhookEvent("waiting")
		return received(), nil
	case StatusDeclined, StatusFailed, StatusCancelled:
		return p.fail(ctx, txn, ref, plan)
	default:
		p.metrics.WebhookEvent("ignored")
		log.Warnf("[Payment] Ignoring transaction %s with unknown status %q", txID, txn.Status)
		return received(), nil
	}
}

// confirm activates the paid plan after checking that the amount and
// currency match the plan exactly.
func (p *Processor) confirm(ctx context.Context, txn Transaction, ref Reference, plan Plan) (Outcome, error) {
	txID := txn.ID.String()
	if txn.Amount != plan.Amount || txn.Currency != p.cfg.Currency {
		p.metrics.WebhookEvent("amount_mismatch")
		log.Warnf("[Payment] Transaction %s: amount %d %s does not match plan %s (%d %s)", txID, txn.Amount, txn.Currency, plan.Type, plan.Amount, p.cfg.Currency)
		alerts.Raise(ctx, p.alerts, alerts.Alert{
			Kind:       alerts.KindPaymentMismatch,
			Severity:   alerts.SeverityError,
			Message:    "confirmed payment does not match plan price",
			ResourceID: txID,
			Fields: map[string]any{
				"user_id":  ref.UserID,
				"plan":     plan.Type,
				"amount":   txn.Amount,
				"currency": txn.Currency,
			},
		})
		return rejected(http.StatusBadRequest, "amount_mismatch", "Betrag stimmt nicht überein"), errors.New("amount mismatch")
	}

	now := p.now()
	end := plan.PeriodEnd(now)
	err := p.store.Transaction(ctx, func(tx repository.Store) error {
		sub, err := tx.Subscriptions().GetOrCreate(ctx, ref.UserID, now)
		if err != nil {
			return err
		}
		sub.PlanType = plan.Type
		sub.Status = models.SubscriptionStatusActive
		sub.ProposalsLimit = models.UnlimitedProposals
		sub.ProposalsUsedThisPeriod = 0
		sub.CurrentPeriodStart = &now
		sub.CurrentPeriodEnd = &end
		sub.PendingPlan = nil
		if err := tx.Subscriptions().Save(ctx, sub); err != nil {
			return err
		}
		if err := p.recordPayment(ctx, tx, txn, ref, models.PaymentStatusPaid, &now); err != nil {
			return err
		}
		user, err := tx.Users().GetByID(ctx, ref.UserID)
		if err != nil {
			return err
		}
		return p.dispatcher.Deliver(ctx, tx, user, notify.PaymentConfirmed(plan.Type, end), nil, "payment_confirmed:"+txID)
	})
	if errors.Is(err, errDuplicate) {
		p.metrics.WebhookEvent("replay")
		return alreadyProcessed(), nil
	}
	if err != nil {
		p.metrics.WebhookEvent("error")
		log.Errorf("[Payment] Failed to activate %s for user %d: %v", plan.Type, ref.UserID, err)
		return rejected(http.StatusInternalServerError, "internal_error", "Interner Fehler"), err
	}
	p.metrics.WebhookEvent("activated")
	log.Infof("[Payment] Activated %s for user %d until %s (transaction %s)", plan.Type, ref.UserID, end.Format(time.RFC3339), txID)
	return received(), nil
}

// fail records a failed transaction. The subscription only falls back to
// free if the user does not hold another active paid plan; otherwise only
// a pending selection of the same plan is cleared.
func (p *Processor) fail(ctx context.Context, txn Transaction, ref Reference, plan Plan) (Outcome, error) {
	txID := txn.ID.String()
	now := p.now()
	err := p.store.Transaction(ctx, func(tx repository.Store) error {
		sub, err := tx.Subscriptions().GetOrCreate(ctx, ref.UserID, now)
		if err != nil {
			return err
		}
		switch {
		case sub.IsPaidActive(now):
			if sub.PendingPlan != nil && *sub.PendingPlan == plan.Type {
				sub.PendingPlan = nil
			}
		case sub.PlanType != models.PlanFree:
			sub.ApplyFreeTier(now)
		default:
			sub.PendingPlan = nil
		}
		if err := tx.Subscriptions().Save(ctx, sub); err != nil {
			return err
		}
		if err := p.recordPayment(ctx, tx, txn, ref, models.PaymentStatusFailed, nil); err != nil {
			return err
		}
		user, err := tx.Users().GetByID(ctx, ref.UserID)
		if err != nil {
			return err
		}
		return p.dispatcher.Deliver(ctx, tx, user, notify.PaymentFailed(plan.Type), nil, "payment_failed:"+txID)
	})
	if errors.Is(err, errDuplicate) {
		p.metrics.WebhookEvent("replay")
		return alreadyProcessed(), nil
	}
	if err != nil {
		p.metrics.WebhookEvent("error")
		log.Errorf("[Payment] Failed to record failed transaction %s: %v", txID, err)
		return rejected(http.StatusInternalServerError, "internal_error", "Interner Fehler"), err
	}

	p.metrics.WebhookEvent("failed")
	alerts.Raise(ctx, p.alerts, alerts.Alert{
		Kind:       alerts.KindPaymentFailed,
		Severity:   alerts.SeverityWarning,
		Message:    "payment " + txn.Status,
		ResourceID: txID,
		Fields:     map[string]any{"user_id": ref.UserID, "plan": plan.Type, "status": txn.Status},
	})
	return received(), nil
}

func (p *Processor) recordPayment(ctx context.Context, tx repository.Store, txn Transaction, ref Reference, status string, paidAt *time.Time) error {
	err := tx.Payments().Create(ctx, &models.PaymentRecord{
		UserID:        ref.UserID,
		TransactionID: txn.ID.String(),
		PlanType:      ref.Plan,
		Amount:        txn.Amount,
		Currency:      p.currencyOf(txn),
		Status:        status,
		PaidAt:        paidAt,
	})
	if errors.Is(err, apperror.ErrConflict) {
		return errDuplicate
	}
	return err
}

func (p *Processor) currencyOf(txn Transaction) string {
	if len(txn.Currency) == 3 {
		return txn.Currency
	}
	return p.cfg.Currency
}

// Checkout returns the reference to send to the gateway when userID starts
// paying for plan, and marks the plan as pending on the subscription.
func (p *Processor) Checkout(ctx context.Context, userID uint, planType string) (Reference, Plan, error) {
	plan, ok := PlanFor(planType)
	if !ok {
		return Reference{}, Plan{}, apperror.Validation("unknown_plan", fmt.Errorf("plan %q", planType))
	}
	now := p.now()
	err := p.store.Transaction(ctx, func(tx repository.Store) error {
		sub, err := tx.Subscriptions().GetOrCreate(ctx, userID, now)
		if err != nil {
			return err
		}
		pending := plan.Type
		sub.PendingPlan = &pending
		return tx.Subscriptions().Save(ctx, sub)
	})
	if err != nil {
		return Reference{}, Plan{}, err
	}
	ref := NewReference(userID, plan.Type, now)
	log.Infof("[Payment] Checkout %s for user %d (%s)", ref, userID, notify.FormatCHF(plan.Amount))
	return ref, plan, nil
}
