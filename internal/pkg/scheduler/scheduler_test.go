package scheduler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ManuelReschke/LeadHub/app/models"
	"github.com/ManuelReschke/LeadHub/app/repository/memory"
	"github.com/ManuelReschke/LeadHub/internal/pkg/accesstoken"
	"github.com/ManuelReschke/LeadHub/internal/pkg/alerts"
	"github.com/ManuelReschke/LeadHub/internal/pkg/apperror"
	"github.com/ManuelReschke/LeadHub/internal/pkg/cache"
	"github.com/ManuelReschke/LeadHub/internal/pkg/config"
	"github.com/ManuelReschke/LeadHub/internal/pkg/lifecycle"
	"github.com/ManuelReschke/LeadHub/internal/pkg/mail"
	"github.com/ManuelReschke/LeadHub/internal/pkg/matching"
	"github.com/ManuelReschke/LeadHub/internal/pkg/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	clock   *fakeClock
	store   *memory.Store
	service *Service
	seq     int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 5, 4, 6, 0, 0, 0, time.UTC)}
	store := memory.New(memory.WithClock(clock.Now))
	tokens := config.TokenConfig{LeadTTLDays: 7, ProposalTTLDays: 14, ConversationTTLDays: 30, PurgeAfter: 24 * time.Hour}
	grantor := accesstoken.NewGrantor(store, "https://app.leadhub.ch", tokens, accesstoken.WithClock(clock.Now))
	dispatcher := notify.NewDispatcher(mail.LogMailer{}, notify.WithClock(clock.Now))
	pub := alerts.LogPublisher{}
	deps := Deps{
		Store:      store,
		Lifecycle:  lifecycle.NewService(store, grantor, dispatcher, lifecycle.WithClock(clock.Now)),
		Matcher:    matching.NewMatcher(store, grantor, dispatcher, pub, matching.WithClock(clock.Now)),
		Grantor:    grantor,
		Dispatcher: dispatcher,
		Outbox:     notify.NewOutboxWorker(store, dispatcher, pub, 10, 3),
		Alerts:     pub,
	}
	cfg := config.SchedulerConfig{BatchSize: 50, ReminderLookahead: 48 * time.Hour, LockTTL: time.Minute}
	return &fixture{
		clock:   clock,
		store:   store,
		service: NewService(deps, cfg, tokens, WithClock(clock.Now)),
	}
}

func (f *fixture) user(t *testing.T, role string) *models.User {
	t.Helper()
	f.seq++
	u := &models.User{Name: fmt.Sprintf("User %d", f.seq), Email: fmt.Sprintf("u%d@example.ch", f.seq), Role: role}
	require.NoError(t, f.store.Users().Create(context.Background(), u))
	return u
}

func (f *fixture) lead(t *testing.T, deadlineIn time.Duration) *models.Lead {
	t.Helper()
	owner := f.user(t, models.ROLE_OWNER)
	deadline := f.clock.Now().Add(deadlineIn)
	l := &models.Lead{OwnerID: owner.ID, Category: "gipser", Canton: "LU", PostalCode: "6003", Status: models.LeadStatusActive, ProposalDeadline: &deadline}
	require.NoError(t, f.store.Leads().Create(context.Background(), l))
	return l
}

// provider creates an approved provider and returns its profile.
func (f *fixture) provider(t *testing.T) *models.ProviderProfile {
	t.Helper()
	u := f.user(t, models.ROLE_PROVIDER)
	p := &models.ProviderProfile{UserID: u.ID, Categories: []string{"gipser"}, ServiceAreas: []string{"LU"}, VerificationStatus: models.VerificationApproved}
	require.NoError(t, f.store.Providers().Create(context.Background(), p))
	return p
}

func (f *fixture) proposal(t *testing.T, lead *models.Lead, p *models.ProviderProfile, status string) *models.Proposal {
	t.Helper()
	pr := &models.Proposal{LeadID: lead.ID, ProviderID: p.ID, ProviderUserID: p.UserID, PriceMin: 1000, PriceMax: 2000, Status: status}
	require.NoError(t, f.store.Proposals().Create(context.Background(), pr))
	return pr
}

func (f *fixture) notifications(t *testing.T, userID uint) []models.Notification {
	t.Helper()
	notes, err := f.store.Notifications().ListByUser(context.Background(), userID, 50)
	require.NoError(t, err)
	return notes
}

func TestExpiryPassIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lead := f.lead(t, time.Hour)
	a, b, c := f.provider(t), f.provider(t), f.provider(t)
	pa := f.proposal(t, lead, a, models.ProposalStatusPending)
	pb := f.proposal(t, lead, b, models.ProposalStatusPending)
	pc := f.proposal(t, lead, c, models.ProposalStatusRejected)
	open := f.lead(t, 72*time.Hour)

	f.clock.Advance(2 * time.Hour)

	summary, err := f.service.RunExpiryPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 3, summary.Sent, "owner notice plus two withdrawals")
	assert.Zero(t, summary.Errors)

	got, err := f.store.Leads().GetByID(ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LeadStatusExpired, got.Status)
	got, err = f.store.Leads().GetByID(ctx, open.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LeadStatusActive, got.Status)

	for id, want := range map[uint]string{
		pa.ID: models.ProposalStatusWithdrawn,
		pb.ID: models.ProposalStatusWithdrawn,
		pc.ID: models.ProposalStatusRejected,
	} {
		p, err := f.store.Proposals().GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, p.Status)
	}
	assert.Len(t, f.notifications(t, lead.OwnerID), 1)
	assert.Len(t, f.notifications(t, a.UserID), 1)
	assert.Empty(t, f.notifications(t, c.UserID))
	emails := len(f.store.OutboxEvents())

	again, err := f.service.RunExpiryPass(ctx)
	require.NoError(t, err)
	assert.Zero(t, again.Processed)
	assert.Zero(t, again.Sent)
	assert.Len(t, f.notifications(t, lead.OwnerID), 1)
	assert.Len(t, f.store.OutboxEvents(), emails)
}

func TestExpiryPassWalksEveryPage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A full first page of leads whose owner is gone fails on every run.
	deadline := f.clock.Now().Add(30 * time.Minute)
	for j := 0; j < f.service.cfg.BatchSize; j++ {
		l := &models.Lead{OwnerID: 9999, Category: "gipser", Canton: "LU", Status: models.LeadStatusActive, ProposalDeadline: &deadline}
		require.NoError(t, f.store.Leads().Create(ctx, l))
	}
	var leads []*models.Lead
	for j := 0; j < 60; j++ {
		leads = append(leads, f.lead(t, time.Hour))
	}

	f.clock.Advance(2 * time.Hour)

	summary, err := f.service.RunExpiryPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 60, summary.Processed)
	assert.Equal(t, f.service.cfg.BatchSize, summary.Errors)
	for _, l := range leads {
		got, err := f.store.Leads().GetByID(ctx, l.ID)
		require.NoError(t, err)
		assert.Equal(t, models.LeadStatusExpired, got.Status, "lead %d", l.ID)
	}
}

func TestReminderPassWalksEveryPage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for j := 0; j < 2*f.service.cfg.BatchSize+5; j++ {
		f.lead(t, 24*time.Hour)
	}
	f.lead(t, 72*time.Hour)

	summary, err := f.service.RunReminderPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2*f.service.cfg.BatchSize+5, summary.Processed)
	assert.Zero(t, summary.Errors)
}

func TestReminderPassRemindsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lead := f.lead(t, 24*time.Hour)
	bidder, looker, idle := f.provider(t), f.provider(t), f.provider(t)
	f.proposal(t, lead, bidder, models.ProposalStatusPending)
	for _, p := range []*models.ProviderProfile{bidder, looker} {
		require.NoError(t, f.store.LeadViews().Record(ctx, &models.LeadView{LeadID: lead.ID, ProviderID: p.ID, ProviderUserID: p.UserID, ViewedAt: f.clock.Now()}))
	}
	far := f.lead(t, 96*time.Hour)
	f.proposal(t, far, idle, models.ProposalStatusPending)

	summary, err := f.service.RunReminderPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 2, summary.Sent)

	owner := f.notifications(t, lead.OwnerID)
	require.Len(t, owner, 1)
	assert.Equal(t, models.NotificationDecisionReminder, owner[0].Type)

	nudged := f.notifications(t, looker.UserID)
	require.Len(t, nudged, 1)
	assert.Equal(t, models.NotificationLeadLastChance, nudged[0].Type)
	assert.Empty(t, f.notifications(t, bidder.UserID), "providers who bid get no nudge")
	assert.Empty(t, f.notifications(t, far.OwnerID), "deadline outside the window")

	again, err := f.service.RunReminderPass(ctx)
	require.NoError(t, err)
	assert.Zero(t, again.Sent)
	assert.Equal(t, 2, again.Skipped)
}

func TestSubscriptionExpiryRevertsToFree(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, models.ROLE_PROVIDER)
	start := f.clock.Now().AddDate(0, -1, 0)
	end := f.clock.Now().Add(-time.Hour)
	require.NoError(t, f.store.Subscriptions().Save(ctx, &models.Subscription{
		UserID:             u.ID,
		PlanType:           models.PlanMonthly,
		Status:             models.SubscriptionStatusActive,
		ProposalsLimit:     models.UnlimitedProposals,
		CurrentPeriodStart: &start,
		CurrentPeriodEnd:   &end,
	}))

	summary, err := f.service.Run(ctx, JobExpireSubscriptions)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)

	sub, err := f.store.Subscriptions().GetByUserID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PlanFree, sub.PlanType)
	assert.Equal(t, models.FreeProposalsLimit, sub.ProposalsLimit)

	notes := f.notifications(t, u.ID)
	require.Len(t, notes, 1)
	assert.Equal(t, models.NotificationSubscriptionExpired, notes[0].Type)

	again, err := f.service.Run(ctx, JobExpireSubscriptions)
	require.NoError(t, err)
	assert.Zero(t, again.Processed)
}

func TestRunDrainsOutboxAndPurgesTokens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lead := f.lead(t, time.Hour)
	f.clock.Advance(2 * time.Hour)
	_, err := f.service.Run(ctx, JobExpireLeads)
	require.NoError(t, err)

	summary, err := f.service.Run(ctx, JobDrainOutbox)
	require.NoError(t, err)
	assert.Equal(t, JobDrainOutbox, summary.Job)
	assert.Equal(t, 1, summary.Sent)

	_, err = f.service.Grantor.Issue(ctx, accesstoken.IssueRequest{UserID: lead.OwnerID, ResourceType: models.TokenResourceLead, ResourceID: &lead.ID, TTLDays: 1})
	require.NoError(t, err)
	f.clock.Advance(3 * 24 * time.Hour)
	summary, err = f.service.Run(ctx, JobPurgeTokens)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
}

func TestRunUnknownJob(t *testing.T) {
	f := newFixture(t)
	_, err := f.service.Run(context.Background(), "defrag")
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestTriggerRespectsLock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	locker := cache.NewLocalLocker()
	m := NewManager(f.service, locker, config.SchedulerConfig{LockTTL: time.Minute})

	release, err := locker.Acquire(ctx, "job:"+JobPurgeTokens, time.Minute)
	require.NoError(t, err)
	_, err = m.Trigger(ctx, JobPurgeTokens)
	assert.ErrorIs(t, err, apperror.ErrConflict)

	release()
	summary, err := m.Trigger(ctx, JobPurgeTokens)
	require.NoError(t, err)
	assert.Equal(t, JobPurgeTokens, summary.Job)
}

func TestManagerStartStop(t *testing.T) {
	f := newFixture(t)
	m := NewManager(f.service, cache.NewLocalLocker(), config.SchedulerConfig{
		ExpiryInterval: time.Hour,
		OutboxInterval: time.Hour,
	})
	assert.Len(t, m.schedules, 2, "jobs without interval are not scheduled")

	assert.False(t, m.IsRunning())
	m.Stop()
	m.Start()
	m.Start()
	assert.True(t, m.IsRunning())
	m.Stop()
	assert.False(t, m.IsRunning())
	m.Start()
	assert.True(t, m.IsRunning(), "manager restarts")
	m.Stop()
}
