// Package matching routes newly activated leads to the providers who serve
// their category and area, and notifies each provider exactly once.
package matching

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ManuelReschke/LeadHub/app/models"
	"github.com/ManuelReschke/LeadHub/app/repository"
	"github.com/ManuelReschke/LeadHub/internal/pkg/accesstoken"
	"github.com/ManuelReschke/LeadHub/internal/pkg/alerts"
	"github.com/ManuelReschke/LeadHub/internal/pkg/apperror"
	"github.com/ManuelReschke/LeadHub/internal/pkg/metrics"
	"github.com/ManuelReschke/LeadHub/internal/pkg/notify"
	"github.com/ManuelReschke/LeadHub/internal/pkg/sweep"
	"github.com/gofiber/fiber/v2/log"
)

// Result summarizes one matcher run for a lead.
type Result struct {
	LeadID   uint `json:"lead_id"`
	Eligible int  `json:"eligible"`
	Notified int  `json:"notified"`
	Skipped  int  `json:"skipped"`
	Failed   int  `json:"failed"`
	Orphan   bool `json:"orphan"`
}

type Matcher struct {
	store      repository.Store
	grantor    *accesstoken.Grantor
	dispatcher *notify.Dispatcher
	alerts     alerts.Publisher
	metrics    *metrics.Metrics
	index      *CategoryIndex
	now        func() time.Time
}

type Option func(*Matcher)

func WithClock(now func() time.Time) Option {
	return func(m *Matcher) { m.now = now }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Matcher) { m.metrics = mt }
}

func WithCategoryIndex(idx *CategoryIndex) Option {
	return func(m *Matcher) { m.index = idx }
}

func NewMatcher(store repository.Store, grantor *accesstoken.Grantor, dispatcher *notify.Dispatcher, pub alerts.Publisher, opts ...Option) *Matcher {
	m := &Matcher{
		store:      store,
		grantor:    grantor,
		dispatcher: dispatcher,
		alerts:     pub,
		index:      MustCategoryIndex(DefaultGroups),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Eligible returns the approved providers whose categories and service
// areas both match the lead.
func (m *Matcher) Eligible(ctx context.Context, lead *models.Lead) ([]models.ProviderProfile, error) {
	approved, err := m.store.Providers().ListApproved(ctx)
	if err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}
	var eligible []models.ProviderProfile
	for _, p := range approved {
		if !AreaMatches(p.ServiceAreas, lead.Canton, lead.PostalCode) {
			continue
		}
		if !m.index.Matches(lead.Category, p.Categories) {
			continue
		}
		eligible = append(eligible, p)
	}
	return eligible, nil
}

// MatchLead notifies every eligible provider of an active lead that was not
// notified before. A failure for one provider is counted and does not stop
// the others; the lead is marked matched only when nobody failed, so the
// pending sweep retries the rest.
func (m *Matcher) MatchLead(ctx context.Context, leadID uint) (*Result, error) {
	lead, err := m.store.Leads().GetByID(ctx, leadID)
	if err != nil {
		return nil, err
	}
	if lead.Status != models.LeadStatusActive {
		return nil, apperror.Validation("lead_not_active", fmt.Errorf("lead %d is %s", lead.ID, lead.Status))
	}

	eligible, err := m.Eligible(ctx, lead)
	if err != nil {
		return nil, err
	}
	res := &Result{LeadID: lead.ID, Eligible: len(eligible)}

	if len(eligible) == 0 {
		res.Orphan = true
		log.Warnf("[Matcher] No eligible provider for lead %d (%s, %s %s)", lead.ID, lead.Category, lead.PostalCode, lead.Canton)
		alerts.Raise(ctx, m.alerts, alerts.Alert{
			Kind:       alerts.KindOrphanLead,
			Severity:   alerts.SeverityWarning,
			Message:    "no eligible provider for lead",
			ResourceID: strconv.FormatUint(uint64(lead.ID), 10),
			Fields:     map[string]any{"category": lead.Category, "canton": lead.Canton, "postal_code": lead.PostalCode},
		})
		m.metrics.MatchDispatch("orphan")
		return res, m.store.Leads().MarkMatched(ctx, lead.ID, m.now())
	}

	for i := range eligible {
		sent, err := m.notifyProvider(ctx, lead, &eligible[i])
		switch {
		case err != nil:
			res.Failed++
			m.metrics.MatchDispatch("failed")
			log.Errorf("[Matcher] Failed to notify provider %d about lead %d: %v", eligible[i].ID, lead.ID, err)
		case sent:
			res.Notified++
			m.metrics.MatchDispatch("sent")
		default:
			res.Skipped++
			m.metrics.MatchDispatch("skipped")
		}
	}

	if res.Failed == 0 {
		if err := m.store.Leads().MarkMatched(ctx, lead.ID, m.now()); err != nil {
			return res, err
		}
	}
	log.Infof("[Matcher] Lead %d: eligible=%d notified=%d skipped=%d failed=%d", lead.ID, res.Eligible, res.Notified, res.Skipped, res.Failed)
	return res, nil
}

// notifyProvider writes ledger entry, token, in-app notification and email
// in one transaction. Returns false if the ledger already had the entry.
func (m *Matcher) notifyProvider(ctx context.Context, lead *models.Lead, p *models.ProviderProfile) (bool, error) {
	sent := false
	err := m.store.Transaction(ctx, func(tx repository.Store) error {
		created, err := tx.Ledger().Record(ctx, lead.ID, p.UserID, models.LedgerNewLead)
		if err != nil || !created {
			return err
		}
		user, err := tx.Users().GetByID(ctx, p.UserID)
		if err != nil {
			return err
		}
		issued, err := m.grantor.In(tx).Issue(ctx, accesstoken.IssueRequest{
			UserID:       user.ID,
			ResourceType: models.TokenResourceLead,
			ResourceID:   &lead.ID,
			Metadata:     map[string]any{"provider_id": p.ID},
		})
		if err != nil {
			return err
		}
		dedupe := fmt.Sprintf("%s:%d:%d", models.LedgerNewLead, lead.ID, user.ID)
		if err := m.dispatcher.Deliver(ctx, tx, user, notify.NewLead(lead, issued.DeepLink), &lead.ID, dedupe); err != nil {
			return err
		}
		sent = true
		return nil
	})
	return sent, err
}

// MatchPending runs MatchLead for active leads that have not been matched
// completely yet.
func (m *Matcher) MatchPending(ctx context.Context, limit int) (sweep.Summary, error) {
	summary := sweep.Summary{Job: "match-leads"}
	leads, err := m.store.Leads().ListActiveUnmatched(ctx, limit)
	if err != nil {
		return summary, err
	}
	for _, l := range leads {
		if ctx.Err() != nil {
			break
		}
		res, err := m.MatchLead(ctx, l.ID)
		if err != nil {
			summary.Errors++
			log.Errorf("[Matcher] Lead %d: %v", l.ID, err)
			continue
		}
		summary.Processed++
		summary.Sent += res.Notified
		summary.Skipped += res.Skipped
		summary.Errors += res.Failed
	}
	return summary, nil
}

// Publish activates a draft lead and matches it. The lead needs a deadline
// in the future.
func (m *Matcher) Publish(ctx context.Context, leadID uint) (*Result, error) {
	lead, err := m.store.Leads().GetByID(ctx, leadID)
	if err != nil {
		return nil, err
	}
	if lead.ProposalDeadline == nil || !lead.ProposalDeadline.After(m.now()) {
		return nil, apperror.Validation("deadline_required", errors.New("proposal deadline missing or in the past"))
	}
	ok, err := m.store.Leads().TransitionStatus(ctx, lead.ID, models.LeadStatusDraft, models.LeadStatusActive)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperror.Conflict("lead_not_draft", fmt.Errorf("lead %d is %s", lead.ID, lead.Status))
	}
	return m.MatchLead(ctx, lead.ID)
}
