package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLeadValidate(t *testing.T) {
	deadline := time.Now().Add(72 * time.Hour)
	accepted := uint(7)

	valid := Lead{OwnerID: 1, Category: "elektriker", Canton: "ZH", PostalCode: "8001", Status: LeadStatusActive, ProposalDeadline: &deadline}
	assert.NoError(t, valid.Validate())

	noDeadline := valid
	noDeadline.ProposalDeadline = nil
	assert.Error(t, noDeadline.Validate(), "active lead needs a deadline")

	draft := noDeadline
	draft.Status = LeadStatusDraft
	assert.NoError(t, draft.Validate(), "draft lead may omit the deadline")

	acceptedButActive := valid
	acceptedButActive.AcceptedProposalID = &accepted
	assert.Error(t, acceptedButActive.Validate())

	completed := acceptedButActive
	completed.Status = LeadStatusCompleted
	assert.NoError(t, completed.Validate())

	badZip := valid
	badZip.PostalCode = "80O1"
	assert.Error(t, badZip.Validate())

	badBudget := valid
	badBudget.BudgetMin = 5000
	badBudget.BudgetMax = 100
	assert.Error(t, badBudget.Validate())
}

func TestSubscriptionValidate(t *testing.T) {
	now := time.Now()
	sub := NewFreeSubscription(3, now)
	assert.NoError(t, sub.Validate())
	assert.Equal(t, FreeProposalsLimit, sub.ProposalsLimit)
	assert.True(t, sub.HasQuota())
	assert.False(t, sub.IsPaidActive(now))

	sub.PlanType = PlanAnnual
	assert.Error(t, sub.Validate(), "paid plans must be unlimited")

	sub.ProposalsLimit = UnlimitedProposals
	assert.NoError(t, sub.Validate())
	assert.True(t, sub.IsPaidActive(now))
	assert.False(t, sub.IsPaidActive(now.AddDate(0, 2, 0)))

	bogus := "weekly"
	sub.PendingPlan = &bogus
	assert.Error(t, sub.Validate())
}

func TestProviderProfileValidate(t *testing.T) {
	p := ProviderProfile{UserID: 1, Categories: []string{"elektriker"}, ServiceAreas: []string{"ZH"}, VerificationStatus: VerificationApproved}
	assert.NoError(t, p.Validate())
	assert.True(t, p.IsApproved())

	p.Categories = nil
	assert.Error(t, p.Validate())
}

func TestAccessTokenIsExpired(t *testing.T) {
	now := time.Now()
	tok := AccessToken{ExpiresAt: now}
	assert.True(t, tok.IsExpired(now), "expiry instant itself is expired")
	assert.False(t, tok.IsExpired(now.Add(-time.Second)))
}
