package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ManuelReschke/LeadHub/app/models"
	"github.com/ManuelReschke/LeadHub/app/repository"
	"github.com/ManuelReschke/LeadHub/internal/pkg/apperror"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func activeLead(t *testing.T, s *Store) *models.Lead {
	t.Helper()
	deadline := time.Now().Add(24 * time.Hour)
	lead := &models.Lead{OwnerID: 1, Category: "elektriker", Canton: "ZH", Status: models.LeadStatusActive, ProposalDeadline: &deadline}
	require.NoError(t, s.Leads().Create(context.Background(), lead))
	return lead
}

func TestTransactionRollsBackOnError(t *testing.T) {
	s := New()
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.Transaction(ctx, func(tx repository.Store) error {
		require.NoError(t, tx.Users().Create(ctx, &models.User{Email: "a@example.ch", Role: models.ROLE_OWNER}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = s.Users().GetByID(ctx, 1)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestTransactionCommits(t *testing.T) {
	s := New()
	ctx := context.Background()

	err := s.Transaction(ctx, func(tx repository.Store) error {
		return tx.Users().Create(ctx, &models.User{Email: "a@example.ch", Role: models.ROLE_OWNER})
	})
	require.NoError(t, err)

	u, err := s.Users().GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "a@example.ch", u.Email)
}

func TestClaimAcceptedSlotOnlyOnce(t *testing.T) {
	s := New()
	ctx := context.Background()
	lead := activeLead(t, s)

	var wg sync.WaitGroup
	wins := make(chan uint, 10)
	for i := uint(1); i <= 10; i++ {
		wg.Add(1)
		go func(pid uint) {
			defer wg.Done()
			ok, err := s.Leads().ClaimAcceptedSlot(ctx, lead.ID, pid)
			if err == nil && ok {
				wins <- pid
			}
		}(i)
	}
	wg.Wait()
	close(wins)

	assert.Len(t, wins, 1)
	stored, err := s.Leads().GetByID(ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LeadStatusCompleted, stored.Status)
	require.NotNil(t, stored.AcceptedProposalID)
}

func TestDuplicateProposalConflicts(t *testing.T) {
	s := New()
	ctx := context.Background()

	p := &models.Proposal{LeadID: 1, ProviderID: 2, ProviderUserID: 3, Status: models.ProposalStatusPending}
	require.NoError(t, s.Proposals().Create(ctx, p))

	again := &models.Proposal{LeadID: 1, ProviderID: 2, ProviderUserID: 3, Status: models.ProposalStatusPending}
	assert.ErrorIs(t, s.Proposals().Create(ctx, again), apperror.ErrConflict)
}

func TestLedgerRecordIsIdempotent(t *testing.T) {
	s := New()
	ctx := context.Background()

	created, err := s.Ledger().Record(ctx, 1, 2, models.LedgerNewLead)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.Ledger().Record(ctx, 1, 2, models.LedgerNewLead)
	require.NoError(t, err)
	assert.False(t, created)

	created, err = s.Ledger().Record(ctx, 1, 2, models.LedgerLeadExpired)
	require.NoError(t, err)
	assert.True(t, created)
}

func TestOutboxDedupeAndClaim(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()
	key := "lead:1:new_lead:2"

	first := &models.OutboxEvent{ID: uuid.NewString(), Kind: models.OutboxKindEmail, Recipient: "p@example.ch", Subject: "Neu", DedupeKey: &key, Status: models.OutboxStatusPending, NextAttemptAt: now}
	ok, err := s.Outbox().Enqueue(ctx, first)
	require.NoError(t, err)
	assert.True(t, ok)

	second := *first
	second.ID = uuid.NewString()
	ok, err = s.Outbox().Enqueue(ctx, &second)
	require.NoError(t, err)
	assert.False(t, ok, "same dedupe key must not enqueue twice")

	due, err := s.Outbox().ListDue(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)

	claimed, err := s.Outbox().Claim(ctx, due[0].ID, due[0].Attempts, now.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = s.Outbox().Claim(ctx, due[0].ID, due[0].Attempts, now.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, claimed, "stale attempts value loses the claim")

	due, err = s.Outbox().ListDue(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, due, "leased rows are not due")
}

func TestConsumeProposalRespectsQuota(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, err := s.Subscriptions().GetOrCreate(ctx, 9, time.Now())
	require.NoError(t, err)

	for i := 0; i < models.FreeProposalsLimit; i++ {
		ok, err := s.Subscriptions().ConsumeProposal(ctx, 9)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := s.Subscriptions().ConsumeProposal(ctx, 9)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTokenMarkUsedOnce(t *testing.T) {
	s := New()
	ctx := context.Background()
	tok := &models.AccessToken{Token: "abcdefghijklmnopqrstuvwxyz0123456789ABCDEFG", UserID: 1, ResourceType: models.TokenResourceDashboard, ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, s.Tokens().Create(ctx, tok))

	ok, err := s.Tokens().MarkUsed(ctx, tok.ID, time.Now())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Tokens().MarkUsed(ctx, tok.ID, time.Now())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListActiveDeadlinePagesByCursor(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	later := base.Add(time.Hour)

	for _, deadline := range []time.Time{later, base, later, base, base} {
		d := deadline
		lead := &models.Lead{OwnerID: 1, Category: "maler", Canton: "BE", Status: models.LeadStatusActive, ProposalDeadline: &d}
		require.NoError(t, s.Leads().Create(ctx, lead))
	}
	want := []uint{2, 4, 5, 1, 3}

	var (
		got    []uint
		cursor repository.LeadCursor
	)
	for {
		page, err := s.Leads().ListActiveDeadlineBefore(ctx, later, cursor, 2)
		require.NoError(t, err)
		for _, l := range page {
			got = append(got, l.ID)
		}
		if len(page) < 2 {
			break
		}
		cursor = repository.CursorAfter(page[len(page)-1])
	}
	assert.Equal(t, want, got)

	page, err := s.Leads().ListActiveDeadlineBetween(ctx, base, later, repository.LeadCursor{}, 10)
	require.NoError(t, err)
	assert.Len(t, page, 2, "the window excludes its start")
}
