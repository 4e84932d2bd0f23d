// Package scheduler runs the periodic back-office passes: lead expiry,
// deadline reminders, subscription expiry, matching retries, outbox
// delivery and token housekeeping.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/ManuelReschke/LeadHub/app/models"
	"github.com/ManuelReschke/LeadHub/app/repository"
	"github.com/ManuelReschke/LeadHub/internal/pkg/accesstoken"
	"github.com/ManuelReschke/LeadHub/internal/pkg/alerts"
	"github.com/ManuelReschke/LeadHub/internal/pkg/apperror"
	"github.com/ManuelReschke/LeadHub/internal/pkg/config"
	"github.com/ManuelReschke/LeadHub/internal/pkg/lifecycle"
	"github.com/ManuelReschke/LeadHub/internal/pkg/matching"
	"github.com/ManuelReschke/LeadHub/internal/pkg/metrics"
	"github.com/ManuelReschke/LeadHub/internal/pkg/notify"
	"github.com/ManuelReschke/LeadHub/internal/pkg/sweep"
	"github.com/gofiber/fiber/v2/log"
)

// Job names, also used in the internal HTTP routes.
const (
	JobExpireLeads         = "expire-leads"
	JobLeadReminders       = "lead-reminders"
	JobMatchLeads          = "match-leads"
	JobDrainOutbox         = "drain-outbox"
	JobExpireSubscriptions = "expire-subscriptions"
	JobPurgeTokens         = "purge-tokens"
)

// Jobs lists every known job.
var Jobs = []string{
	JobExpireLeads,
	JobLeadReminders,
	JobMatchLeads,
	JobDrainOutbox,
	JobExpireSubscriptions,
	JobPurgeTokens,
}

// Deps bundles the components the passes drive.
type Deps struct {
	Store      repository.Store
	Lifecycle  *lifecycle.Service
	Matcher    *matching.Matcher
	Grantor    *accesstoken.Grantor
	Dispatcher *notify.Dispatcher
	Outbox     *notify.OutboxWorker
	Alerts     alerts.Publisher
	Metrics    *metrics.Metrics
}

type Service struct {
	Deps
	cfg    config.SchedulerConfig
	tokens config.TokenConfig
	now    func() time.Time
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(deps Deps, cfg config.SchedulerConfig, tokens config.TokenConfig, opts ...Option) *Service {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if cfg.ReminderLookahead <= 0 {
		cfg.ReminderLookahead = 48 * time.Hour
	}
	s := &Service{Deps: deps, cfg: cfg, tokens: tokens, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run executes one pass of the named job and records its metrics. Items
// that failed are raised as one operational alert per run.
func (s *Service) Run(ctx context.Context, job string) (sweep.Summary, error) {
	var pass func(context.Context) (sweep.Summary, error)
	switch job {
	case JobExpireLeads:
		pass = s.RunExpiryPass
	case JobLeadReminders:
		pass = s.RunReminderPass
	case JobMatchLeads:
		pass = func(ctx context.Context) (sweep.Summary, error) { return s.Matcher.MatchPending(ctx, s.cfg.BatchSize) }
	case JobDrainOutbox:
		pass = s.Outbox.DrainOnce
	case JobExpireSubscriptions:
		pass = s.RunSubscriptionExpiryPass
	case JobPurgeTokens:
		pass = s.RunTokenPurge
	default:
		return sweep.Summary{Job: job}, apperror.NotFound("unknown_job", fmt.Errorf("job %q", job))
	}

	started := time.Now()
	summary, err := pass(ctx)
	summary.Job = job
	s.Metrics.ObserveSweep(job, time.Since(started))
	s.Metrics.SweepItems(job, "processed", summary.Processed)
	s.Metrics.SweepItems(job, "sent", summary.Sent)
	s.Metrics.SweepItems(job, "skipped", summary.Skipped)
	s.Metrics.SweepItems(job, "error", summary.Errors)
	if err != nil {
		return summary, err
	}
	if summary.Errors > 0 && job != JobDrainOutbox {
		alerts.Raise(ctx, s.Alerts, alerts.Alert{
			Kind:     alerts.KindSweepErrors,
			Severity: alerts.SeverityWarning,
			Message:  "sweep finished with failed items",
			Fields:   map[string]any{"job": job, "errors": summary.Errors, "processed": summary.Processed},
		})
	}
	return summary, nil
}

// eachLead walks every page of list. A short page ends the walk; the
// cursor moves past leads that failed so they cannot pin the first page.
func (s *Service) eachLead(ctx context.Context, list func(after repository.LeadCursor, limit int) ([]models.Lead, error), fn func(lead *models.Lead)) error {
	var cursor repository.LeadCursor
	for {
		leads, err := list(cursor, s.cfg.BatchSize)
		if err != nil {
			return err
		}
		for i := range leads {
			if ctx.Err() != nil {
				return nil
			}
			fn(&leads[i])
		}
		if s.cfg.BatchSize <= 0 || len(leads) < s.cfg.BatchSize {
			return nil
		}
		cursor = repository.CursorAfter(leads[len(leads)-1])
	}
}

// RunExpiryPass expires active leads past their deadline. Each lead is
// handled in its own transaction: the conditional status update, the
// owner notice and the withdrawal of all pending proposals commit together.
// A lead that is no longer active is skipped, so the pass can be re-run.
func (s *Service) RunExpiryPass(ctx context.Context) (sweep.Summary, error) {
	summary := sweep.Summary{Job: JobExpireLeads}
	now := s.now()
	list := func(after repository.LeadCursor, limit int) ([]models.Lead, error) {
		return s.Store.Leads().ListActiveDeadlineBefore(ctx, now, after, limit)
	}
	err := s.eachLead(ctx, list, func(lead *models.Lead) {
		expired, sent, err := s.expireLead(ctx, lead)
		switch {
		case err != nil:
			summary.Errors++
			log.Errorf("[Scheduler] Failed to expire lead %d: %v", lead.ID, err)
		case expired:
			summary.Processed++
			summary.Sent += sent
		default:
			summary.Skipped++
		}
	})
	if err != nil {
		return summary, err
	}
	log.Infof("[Scheduler] %s", summary)
	return summary, nil
}

func (s *Service) expireLead(ctx context.Context, lead *models.Lead) (bool, int, error) {
	expired, sent := false, 0
	err := s.Store.Transaction(ctx, func(tx repository.Store) error {
		sent = 0
		ok, err := tx.Leads().TransitionStatus(ctx, lead.ID, models.LeadStatusActive, models.LeadStatusExpired)
		if err != nil || !ok {
			return err
		}
		expired = true

		created, err := tx.Ledger().Record(ctx, lead.ID, lead.OwnerID, models.LedgerLeadExpired)
		if err != nil {
			return err
		}
		if created {
			owner, err := tx.Users().GetByID(ctx, lead.OwnerID)
			if err != nil {
				return err
			}
			dedupe := fmt.Sprintf("%s:%d", models.LedgerLeadExpired, lead.ID)
			if err := s.Dispatcher.Deliver(ctx, tx, owner, notify.LeadExpired(lead), &lead.ID, dedupe); err != nil {
				return err
			}
			sent++
		}

		withdrawn, err := s.Lifecycle.WithdrawPending(ctx, tx, []models.Lead{*lead})
		if err != nil {
			return err
		}
		sent += int(withdrawn)
		return nil
	})
	if err != nil {
		return false, 0, err
	}
	return expired, sent, nil
}

// RunReminderPass nudges both sides of leads whose deadline falls within
// the lookahead window. The owner is reminded once if proposals wait for a
// decision; every provider who opened the lead without bidding gets one
// last-chance email with a fresh lead token.
func (s *Service) RunReminderPass(ctx context.Context) (sweep.Summary, error) {
	summary := sweep.Summary{Job: JobLeadReminders}
	now := s.now()
	list := func(after repository.LeadCursor, limit int) ([]models.Lead, error) {
		return s.Store.Leads().ListActiveDeadlineBetween(ctx, now, now.Add(s.cfg.ReminderLookahead), after, limit)
	}
	err := s.eachLead(ctx, list, func(lead *models.Lead) {
		summary.Processed++

		sent, err := s.remindOwner(ctx, lead)
		summary = tally(summary, sent, err, "owner reminder", lead.ID)

		views, err := s.Store.LeadViews().ListByLead(ctx, lead.ID)
		if err != nil {
			summary.Errors++
			log.Errorf("[Scheduler] Failed to list views of lead %d: %v", lead.ID, err)
			return
		}
		proposals, err := s.Store.Proposals().ListByLead(ctx, lead.ID)
		if err != nil {
			summary.Errors++
			log.Errorf("[Scheduler] Failed to list proposals of lead %d: %v", lead.ID, err)
			return
		}
		bid := make(map[uint]bool, len(proposals))
		for _, p := range proposals {
			bid[p.ProviderID] = true
		}
		for _, v := range views {
			if bid[v.ProviderID] {
				continue
			}
			sent, err := s.nudgeProvider(ctx, lead, v.ProviderUserID)
			summary = tally(summary, sent, err, "last chance", lead.ID)
		}
	})
	if err != nil {
		return summary, err
	}
	log.Infof("[Scheduler] %s", summary)
	return summary, nil
}

func tally(summary sweep.Summary, sent bool, err error, what string, leadID uint) sweep.Summary {
	switch {
	case err != nil:
		summary.Errors++
		log.Errorf("[Scheduler] Failed to send %s for lead %d: %v", what, leadID, err)
	case sent:
		summary.Sent++
	default:
		summary.Skipped++
	}
	return summary
}

func (s *Service) remindOwner(ctx context.Context, lead *models.Lead) (bool, error) {
	pending, err := s.Store.Proposals().CountPendingByLead(ctx, lead.ID)
	if err != nil || pending == 0 {
		return false, err
	}
	sent := false
	err = s.Store.Transaction(ctx, func(tx repository.Store) error {
		created, err := tx.Ledger().Record(ctx, lead.ID, lead.OwnerID, models.LedgerOwnerDecisionReminder)
		if err != nil || !created {
			return err
		}
		owner, err := tx.Users().GetByID(ctx, lead.OwnerID)
		if err != nil {
			return err
		}
		issued, err := s.Grantor.In(tx).Issue(ctx, accesstoken.IssueRequest{
			UserID:       owner.ID,
			ResourceType: models.TokenResourceDashboard,
			Metadata:     map[string]any{"lead_id": lead.ID},
		})
		if err != nil {
			return err
		}
		dedupe := fmt.Sprintf("%s:%d", models.LedgerOwnerDecisionReminder, lead.ID)
		if err := s.Dispatcher.Deliver(ctx, tx, owner, notify.DecisionReminder(lead, pending, issued.DeepLink), &lead.ID, dedupe); err != nil {
			return err
		}
		sent = true
		return nil
	})
	return sent, err
}

func (s *Service) nudgeProvider(ctx context.Context, lead *models.Lead, userID uint) (bool, error) {
	sent := false
	err := s.Store.Transaction(ctx, func(tx repository.Store) error {
		created, err := tx.Ledger().Record(ctx, lead.ID, userID, models.LedgerProviderLastChance)
		if err != nil || !created {
			return err
		}
		user, err := tx.Users().GetByID(ctx, userID)
		if err != nil {
			return err
		}
		issued, err := s.Grantor.In(tx).Issue(ctx, accesstoken.IssueRequest{
			UserID:       user.ID,
			ResourceType: models.TokenResourceLead,
			ResourceID:   &lead.ID,
		})
		if err != nil {
			return err
		}
		dedupe := fmt.Sprintf("%s:%d:%d", models.LedgerProviderLastChance, lead.ID, user.ID)
		if err := s.Dispatcher.Deliver(ctx, tx, user, notify.LastChance(lead, issued.DeepLink), &lead.ID, dedupe); err != nil {
			return err
		}
		sent = true
		return nil
	})
	return sent, err
}

// RunSubscriptionExpiryPass reverts paid subscriptions whose period ended
// to the free plan and tells the user.
func (s *Service) RunSubscriptionExpiryPass(ctx context.Context) (sweep.Summary, error) {
	summary := sweep.Summary{Job: JobExpireSubscriptions}
	now := s.now()
	subs, err := s.Store.Subscriptions().ListPaidEndedBefore(ctx, now, s.cfg.BatchSize)
	if err != nil {
		return summary, err
	}

	for _, candidate := range subs {
		if ctx.Err() != nil {
			break
		}
		reverted := false
		err := s.Store.Transaction(ctx, func(tx repository.Store) error {
			sub, err := tx.Subscriptions().GetByUserID(ctx, candidate.UserID)
			if err != nil {
				return err
			}
			// Renewed or already reverted since the listing.
			if sub.PlanType == models.PlanFree || sub.CurrentPeriodEnd == nil || sub.CurrentPeriodEnd.After(now) {
				return nil
			}
			plan, ended := sub.PlanType, *sub.CurrentPeriodEnd
			sub.ApplyFreeTier(now)
			if err := tx.Subscriptions().Save(ctx, sub); err != nil {
				return err
			}
			user, err := tx.Users().GetByID(ctx, sub.UserID)
			if err != nil {
				return err
			}
			dedupe := fmt.Sprintf("%s:%d:%d", models.NotificationSubscriptionExpired, sub.UserID, ended.Unix())
			if err := s.Dispatcher.Deliver(ctx, tx, user, notify.SubscriptionExpired(plan), nil, dedupe); err != nil {
				return err
			}
			reverted = true
			return nil
		})
		switch {
		case err != nil:
			summary.Errors++
			log.Errorf("[Scheduler] Failed to expire subscription of user %d: %v", candidate.UserID, err)
		case reverted:
			summary.Processed++
			summary.Sent++
		default:
			summary.Skipped++
		}
	}
	log.Infof("[Scheduler] %s", summary)
	return summary, nil
}

// RunTokenPurge deletes tokens that expired longer ago than the configured
// retention.
func (s *Service) RunTokenPurge(ctx context.Context) (sweep.Summary, error) {
	summary := sweep.Summary{Job: JobPurgeTokens}
	n, err := s.Grantor.PurgeExpired(ctx, s.tokens.PurgeAfter)
	if err != nil {
		return summary, err
	}
	summary.Processed = int(n)
	if n > 0 {
		log.Infof("[Scheduler] Purged %d expired access tokens", n)
	}
	return summary, nil
}
