package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ManuelReschke/LeadHub/app/models"
	"github.com/ManuelReschke/LeadHub/app/repository/memory"
	"github.com/ManuelReschke/LeadHub/internal/pkg/alerts"
	"github.com/ManuelReschke/LeadHub/internal/pkg/apperror"
	"github.com/ManuelReschke/LeadHub/internal/pkg/config"
	"github.com/ManuelReschke/LeadHub/internal/pkg/mail"
	"github.com/ManuelReschke/LeadHub/internal/pkg/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "whsec_test"

var now = time.Date(2026, 6, 15, 10, 30, 0, 0, time.UTC)

func clock() time.Time { return now }

type recordingPublisher struct {
	mu     sync.Mutex
	alerts []alerts.Alert
}

func (p *recordingPublisher) Publish(_ context.Context, a alerts.Alert) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.alerts = append(p.alerts, a)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) kinds() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, a := range p.alerts {
		out = append(out, a.Kind)
	}
	return out
}

type fixture struct {
	store     *memory.Store
	alerts    *recordingPublisher
	processor *Processor
	user      *models.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New(memory.WithClock(clock))
	pub := &recordingPublisher{}
	dispatcher := notify.NewDispatcher(mail.LogMailer{}, notify.WithClock(clock))
	cfg := config.PaymentConfig{Gateway: "payrexx", WebhookSecret: secret, Currency: "CHF"}
	f := &fixture{
		store:     store,
		alerts:    pub,
		processor: NewProcessor(store, dispatcher, pub, cfg, WithClock(clock)),
		user:      &models.User{Name: "Pia", Email: "pia@example.ch", Role: models.ROLE_PROVIDER},
	}
	require.NoError(t, store.Users().Create(context.Background(), f.user))
	return f
}

func body(t *testing.T, txn map[string]any) []byte {
	t.Helper()
	raw, err := json.Marshal(txn)
	require.NoError(t, err)
	return []byte(url.Values{"transaction": {string(raw)}}.Encode())
}

func (f *fixture) txn(id int, status, plan string, amount int64) map[string]any {
	return map[string]any{
		"id":          id,
		"status":      status,
		"referenceId": NewReference(f.user.ID, plan, now.Add(-time.Minute)).String(),
		"amount":      amount,
		"currency":    "CHF",
	}
}

func (f *fixture) send(t *testing.T, txn map[string]any) Outcome {
	t.Helper()
	raw := body(t, txn)
	return f.processor.Handle(context.Background(), raw, Sign(raw, secret))
}

func (f *fixture) subscription(t *testing.T) *models.Subscription {
	t.Helper()
	sub, err := f.store.Subscriptions().GetByUserID(context.Background(), f.user.ID)
	require.NoError(t, err)
	return sub
}

func TestVerifySignature(t *testing.T) {
	payload := []byte("transaction=%7B%7D")
	sig := Sign(payload, secret)

	assert.True(t, VerifySignature(payload, sig, secret))
	assert.True(t, VerifySignature(payload, "  "+sig+" ", secret))
	assert.True(t, VerifySignature(payload, strings.ToUpper(sig), secret))
	assert.False(t, VerifySignature(payload, "", secret))
	assert.False(t, VerifySignature(payload, sig, ""))
	assert.False(t, VerifySignature(payload, "not-hex", secret))
	assert.False(t, VerifySignature(append(payload, '1'), sig, secret))
	assert.False(t, VerifySignature(payload, Sign(payload, "other"), secret))
}

func TestParseReference(t *testing.T) {
	ref, err := ParseReference("42-6_month-1760000000")
	require.NoError(t, err)
	assert.Equal(t, Reference{UserID: 42, Plan: models.PlanSixMonth, Timestamp: 1760000000}, ref)
	assert.Equal(t, "42-6_month-1760000000", ref.String())

	for _, bad := range []string{"", "42-annual", "x-annual-1", "0-annual-1", "42-annual-soon", "1-2-3-4"} {
		_, err := ParseReference(bad)
		assert.Error(t, err, bad)
	}
}

func TestPlans(t *testing.T) {
	annual, ok := PlanFor("ANNUAL")
	require.True(t, ok)
	assert.Equal(t, int64(96000), annual.Amount)
	assert.Equal(t, now.AddDate(1, 0, 0), annual.PeriodEnd(now))

	_, ok = PlanFor(models.PlanFree)
	assert.False(t, ok, "free is not purchasable")
}

func TestConfirmedActivatesPendingPlan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _, err := f.processor.Checkout(ctx, f.user.ID, models.PlanAnnual)
	require.NoError(t, err)
	require.NotNil(t, f.subscription(t).PendingPlan)

	out := f.send(t, f.txn(5001, StatusConfirmed, models.PlanAnnual, 96000))
	assert.Equal(t, http.StatusOK, out.Status)
	assert.Equal(t, true, out.Body["received"])

	sub := f.subscription(t)
	assert.Equal(t, models.PlanAnnual, sub.PlanType)
	assert.Equal(t, models.UnlimitedProposals, sub.ProposalsLimit)
	assert.Zero(t, sub.ProposalsUsedThisPeriod)
	require.NotNil(t, sub.CurrentPeriodEnd)
	assert.Equal(t, now.AddDate(0, 12, 0), *sub.CurrentPeriodEnd)
	assert.Nil(t, sub.PendingPlan)

	rec, err := f.store.Payments().GetByTransactionID(ctx, "5001")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPaid, rec.Status)
	require.NotNil(t, rec.PaidAt)

	notes, err := f.store.Notifications().ListByUser(ctx, f.user.ID, 10)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, models.NotificationPaymentConfirmed, notes[0].Type)
	assert.Len(t, f.store.OutboxEvents(), 1)

	events := f.store.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "5001:confirmed", events[0].EventID)
	assert.NotNil(t, events[0].ProcessedAt)
	assert.Empty(t, events[0].ProcessingError)
}

func TestReplayDoesNotMutateTwice(t *testing.T) {
	f := newFixture(t)
	txn := f.txn(5002, StatusConfirmed, models.PlanMonthly, 9900)

	first := f.send(t, txn)
	require.Equal(t, http.StatusOK, first.Status)

	// Quota used after activation must survive the replay.
	sub := f.subscription(t)
	sub.ProposalsUsedThisPeriod = 4
	require.NoError(t, f.store.Subscriptions().Save(context.Background(), sub))

	second := f.send(t, txn)
	assert.Equal(t, http.StatusOK, second.Status)
	assert.Equal(t, true, second.Body["already_processed"])
	assert.Equal(t, 4, f.subscription(t).ProposalsUsedThisPeriod)
	assert.Len(t, f.store.OutboxEvents(), 1)
	assert.Len(t, f.store.Events(), 1, "redelivery reuses the audit row")
}

func TestTamperedBodyIsRejected(t *testing.T) {
	f := newFixture(t)
	original := body(t, f.txn(5003, StatusConfirmed, models.PlanAnnual, 96000))
	sig := Sign(original, secret)
	tampered := body(t, f.txn(5003, StatusConfirmed, models.PlanAnnual, 100))

	out := f.processor.Handle(context.Background(), tampered, sig)
	assert.Equal(t, http.StatusForbidden, out.Status)
	assert.Equal(t, "invalid_signature", out.Body["reason"])

	out = f.processor.Handle(context.Background(), original, "")
	assert.Equal(t, http.StatusForbidden, out.Status)

	_, err := f.store.Subscriptions().GetByUserID(context.Background(), f.user.ID)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
	assert.Empty(t, f.store.Events(), "unsigned callbacks are not stored")
}

func TestAmountMismatchDoesNotActivate(t *testing.T) {
	f := newFixture(t)
	out := f.send(t, f.txn(5004, StatusConfirmed, models.PlanAnnual, 9900))
	assert.Equal(t, http.StatusBadRequest, out.Status)
	assert.Equal(t, "amount_mismatch", out.Body["reason"])
	assert.Equal(t, []string{alerts.KindPaymentMismatch}, f.alerts.kinds())

	_, err := f.store.Payments().GetByTransactionID(context.Background(), "5004")
	assert.ErrorIs(t, err, apperror.ErrNotFound)

	txn := f.txn(5005, StatusConfirmed, models.PlanAnnual, 96000)
	txn["currency"] = "EUR"
	out = f.send(t, txn)
	assert.Equal(t, http.StatusBadRequest, out.Status)
}

func TestDeclinedDoesNotClobberActivePlan(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusOK, f.send(t, f.txn(6001, StatusConfirmed, models.PlanMonthly, 9900)).Status)

	out := f.send(t, f.txn(6000, StatusDeclined, models.PlanAnnual, 96000))
	assert.Equal(t, http.StatusOK, out.Status)

	sub := f.subscription(t)
	assert.Equal(t, models.PlanMonthly, sub.PlanType)
	assert.Equal(t, models.UnlimitedProposals, sub.ProposalsLimit)

	rec, err := f.store.Payments().GetByTransactionID(context.Background(), "6000")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusFailed, rec.Status)
	assert.Contains(t, f.alerts.kinds(), alerts.KindPaymentFailed)
}

func TestFailedClearsPendingPlanOfFreeUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _, err := f.processor.Checkout(ctx, f.user.ID, models.PlanSixMonth)
	require.NoError(t, err)
	sub := f.subscription(t)
	sub.ProposalsUsedThisPeriod = 2
	require.NoError(t, f.store.Subscriptions().Save(ctx, sub))

	out := f.send(t, f.txn(7000, StatusFailed, models.PlanSixMonth, 54000))
	assert.Equal(t, http.StatusOK, out.Status)

	sub = f.subscription(t)
	assert.Equal(t, models.PlanFree, sub.PlanType)
	assert.Nil(t, sub.PendingPlan)
	assert.Equal(t, 2, sub.ProposalsUsedThisPeriod, "free usage is kept")

	notes, err := f.store.Notifications().ListByUser(ctx, f.user.ID, 10)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, models.NotificationPaymentFailed, notes[0].Type)
}

func TestCancelledRevertsLapsedPaidPlan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	start, end := now.AddDate(0, -2, 0), now.AddDate(0, -1, 0)
	require.NoError(t, f.store.Subscriptions().Save(ctx, &models.Subscription{
		UserID:             f.user.ID,
		PlanType:           models.PlanMonthly,
		Status:             models.SubscriptionStatusActive,
		ProposalsLimit:     models.UnlimitedProposals,
		CurrentPeriodStart: &start,
		CurrentPeriodEnd:   &end,
	}))

	out := f.send(t, f.txn(7001, StatusCancelled, models.PlanMonthly, 9900))
	assert.Equal(t, http.StatusOK, out.Status)

	sub := f.subscription(t)
	assert.Equal(t, models.PlanFree, sub.PlanType)
	assert.Equal(t, models.FreeProposalsLimit, sub.ProposalsLimit)
}

func TestWaitingAndUnknownStatusAreAcknowledged(t *testing.T) {
	f := newFixture(t)
	for _, status := range []string{StatusWaiting, "refunded"} {
		out := f.send(t, f.txn(8000, status, models.PlanMonthly, 9900))
		assert.Equal(t, http.StatusOK, out.Status, status)
	}
	_, err := f.store.Subscriptions().GetByUserID(context.Background(), f.user.ID)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
	assert.Len(t, f.store.Events(), 2)
}

func TestMalformedCallbacks(t *testing.T) {
	f := newFixture(t)
	cases := map[string][]byte{
		"no transaction": []byte("foo=bar"),
		"broken json":    []byte(url.Values{"transaction": {"{"}}.Encode()),
		"bad reference":  body(t, map[string]any{"id": 1, "status": "confirmed", "referenceId": "nope"}),
		"unknown plan":   body(t, map[string]any{"id": 2, "status": "confirmed", "referenceId": "1-lifetime-1"}),
		"unknown user":   body(t, map[string]any{"id": 3, "status": "confirmed", "referenceId": "999-monthly-1", "amount": 9900, "currency": "CHF"}),
		"missing id":     body(t, map[string]any{"status": "confirmed"}),
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			out := f.processor.Handle(context.Background(), raw, Sign(raw, secret))
			assert.Equal(t, http.StatusBadRequest, out.Status)
			assert.NotContains(t, out.Body, "signature")
		})
	}
}

func TestInvoiceFieldsAreUsed(t *testing.T) {
	f := newFixture(t)
	out := f.send(t, map[string]any{
		"id":     9000,
		"status": "Confirmed",
		"invoice": map[string]any{
			"referenceId": NewReference(f.user.ID, models.PlanSixMonth, now).String(),
			"amount":      54000,
			"currency":    "chf",
		},
	})
	assert.Equal(t, http.StatusOK, out.Status)
	assert.Equal(t, models.PlanSixMonth, f.subscription(t).PlanType)
}
