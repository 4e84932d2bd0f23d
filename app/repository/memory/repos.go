package memory

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/ManuelReschke/LeadHub/app/models"
	"github.com/ManuelReschke/LeadHub/app/repository"
)

func sortedKeys[K cmp.Ordered, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func limited[T any](list []T, limit int) []T {
	if limit > 0 && len(list) > limit {
		return list[:limit]
	}
	return list
}

type leadRepo struct{ s *Store }

func (r leadRepo) Create(_ context.Context, lead *models.Lead) error {
	if err := validate(lead, "lead"); err != nil {
		return err
	}
	return r.s.do(func(st *state) error {
		lead.ID = st.next("leads")
		lead.CreatedAt, lead.UpdatedAt = r.s.now(), r.s.now()
		st.leads[lead.ID] = *lead
		return nil
	})
}

func (r leadRepo) GetByID(_ context.Context, id uint) (*models.Lead, error) {
	var out models.Lead
	err := r.s.do(func(st *state) error {
		l, ok := st.leads[id]
		if !ok {
			return notFound("lead", id)
		}
		out = l
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r leadRepo) TransitionStatus(_ context.Context, id uint, from, to string) (bool, error) {
	changed := false
	err := r.s.do(func(st *state) error {
		l, ok := st.leads[id]
		if !ok || l.Status != from {
			return nil
		}
		l.Status = to
		l.UpdatedAt = r.s.now()
		st.leads[id] = l
		changed = true
		return nil
	})
	return changed, err
}

func (r leadRepo) ClaimAcceptedSlot(_ context.Context, leadID, proposalID uint) (bool, error) {
	claimed := false
	err := r.s.do(func(st *state) error {
		l, ok := st.leads[leadID]
		if !ok || l.Status != models.LeadStatusActive || l.AcceptedProposalID != nil {
			return nil
		}
		id := proposalID
		l.AcceptedProposalID = &id
		l.Status = models.LeadStatusCompleted
		l.UpdatedAt = r.s.now()
		st.leads[leadID] = l
		claimed = true
		return nil
	})
	return claimed, err
}

func (r leadRepo) MarkMatched(_ context.Context, id uint, at time.Time) error {
	return r.s.do(func(st *state) error {
		l, ok := st.leads[id]
		if !ok {
			return notFound("lead", id)
		}
		l.MatchedAt = &at
		st.leads[id] = l
		return nil
	})
}

// listActive returns active leads matching match, ordered by (deadline, id)
// and starting after the cursor.
func (r leadRepo) listActive(match func(models.Lead) bool, after repository.LeadCursor, limit int) ([]models.Lead, error) {
	var out []models.Lead
	err := r.s.do(func(st *state) error {
		for _, l := range st.leads {
			if l.Status != models.LeadStatusActive || l.ProposalDeadline == nil || !match(l) {
				continue
			}
			if !after.IsZero() && compareCursor(repository.CursorAfter(l), after) <= 0 {
				continue
			}
			out = append(out, l)
		}
		return nil
	})
	slices.SortFunc(out, func(a, b models.Lead) int {
		return compareCursor(repository.CursorAfter(a), repository.CursorAfter(b))
	})
	return limited(out, limit), err
}

func compareCursor(a, b repository.LeadCursor) int {
	if c := a.Deadline.Compare(b.Deadline); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

func (r leadRepo) ListActiveDeadlineBefore(_ context.Context, t time.Time, after repository.LeadCursor, limit int) ([]models.Lead, error) {
	return r.listActive(func(l models.Lead) bool {
		return !l.ProposalDeadline.After(t)
	}, after, limit)
}

func (r leadRepo) ListActiveDeadlineBetween(_ context.Context, from, to time.Time, after repository.LeadCursor, limit int) ([]models.Lead, error) {
	return r.listActive(func(l models.Lead) bool {
		return l.ProposalDeadline.After(from) && !l.ProposalDeadline.After(to)
	}, after, limit)
}

func (r leadRepo) ListActiveUnmatched(_ context.Context, limit int) ([]models.Lead, error) {
	var out []models.Lead
	err := r.s.do(func(st *state) error {
		for _, id := range sortedKeys(st.leads) {
			l := st.leads[id]
			if l.Status == models.LeadStatusActive && l.MatchedAt == nil {
				out = append(out, l)
			}
		}
		return nil
	})
	return limited(out, limit), err
}

type proposalRepo struct{ s *Store }

func (r proposalRepo) Create(_ context.Context, p *models.Proposal) error {
	if err := validate(p, "proposal"); err != nil {
		return err
	}
	return r.s.do(func(st *state) error {
		for _, existing := range st.proposals {
			if existing.LeadID == p.LeadID && existing.ProviderID == p.ProviderID {
				return conflict("proposal")
			}
		}
		p.ID = st.next("proposals")
		p.CreatedAt, p.UpdatedAt = r.s.now(), r.s.now()
		st.proposals[p.ID] = *p
		return nil
	})
}

func (r proposalRepo) GetByID(_ context.Context, id uint) (*models.Proposal, error) {
	var out models.Proposal
	err := r.s.do(func(st *state) error {
		p, ok := st.proposals[id]
		if !ok {
			return notFound("proposal", id)
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r proposalRepo) filter(match func(models.Proposal) bool) ([]models.Proposal, error) {
	var out []models.Proposal
	err := r.s.do(func(st *state) error {
		for _, id := range sortedKeys(st.proposals) {
			if p := st.proposals[id]; match(p) {
				out = append(out, p)
			}
		}
		return nil
	})
	return out, err
}

func (r proposalRepo) ListByLead(_ context.Context, leadID uint) ([]models.Proposal, error) {
	return r.filter(func(p models.Proposal) bool { return p.LeadID == leadID })
}

func (r proposalRepo) ListPendingByLeads(_ context.Context, leadIDs []uint) ([]models.Proposal, error) {
	return r.filter(func(p models.Proposal) bool {
		return p.IsPending() && slices.Contains(leadIDs, p.LeadID)
	})
}

func (r proposalRepo) CountPendingByLead(_ context.Context, leadID uint) (int64, error) {
	list, err := r.filter(func(p models.Proposal) bool { return p.IsPending() && p.LeadID == leadID })
	return int64(len(list)), err
}

func (r proposalRepo) TransitionStatus(_ context.Context, id uint, from, to string, at time.Time) (bool, error) {
	changed := false
	err := r.s.do(func(st *state) error {
		p, ok := st.proposals[id]
		if !ok || p.Status != from {
			return nil
		}
		p.Status = to
		p.DecidedAt = &at
		p.UpdatedAt = r.s.now()
		st.proposals[id] = p
		changed = true
		return nil
	})
	return changed, err
}

func (r proposalRepo) WithdrawPendingByLeads(_ context.Context, leadIDs []uint, at time.Time) (int64, error) {
	var n int64
	err := r.s.do(func(st *state) error {
		for id, p := range st.proposals {
			if p.IsPending() && slices.Contains(leadIDs, p.LeadID) {
				p.Status = models.ProposalStatusWithdrawn
				p.DecidedAt = &at
				st.proposals[id] = p
				n++
			}
		}
		return nil
	})
	return n, err
}

type conversationRepo struct{ s *Store }

func (r conversationRepo) Create(_ context.Context, c *models.Conversation) error {
	if err := validate(c, "conversation"); err != nil {
		return err
	}
	return r.s.do(func(st *state) error {
		for _, existing := range st.conversations {
			if existing.ProposalID == c.ProposalID {
				return conflict("conversation")
			}
		}
		if _, dup := st.conversations[c.ID]; dup {
			return conflict("conversation")
		}
		c.CreatedAt = r.s.now()
		st.conversations[c.ID] = *c
		return nil
	})
}

func (r conversationRepo) GetByProposalID(_ context.Context, proposalID uint) (*models.Conversation, error) {
	var out *models.Conversation
	err := r.s.do(func(st *state) error {
		for _, c := range st.conversations {
			if c.ProposalID == proposalID {
				c := c
				out = &c
				return nil
			}
		}
		return notFound("conversation", proposalID)
	})
	return out, err
}

type leadViewRepo struct{ s *Store }

func (r leadViewRepo) Record(_ context.Context, v *models.LeadView) error {
	if err := validate(v, "lead_view"); err != nil {
		return err
	}
	return r.s.do(func(st *state) error {
		key := leadProvider{v.LeadID, v.ProviderID}
		if _, seen := st.views[key]; seen {
			return nil
		}
		v.ID = st.next("lead_views")
		st.views[key] = *v
		return nil
	})
}

func (r leadViewRepo) ListByLead(_ context.Context, leadID uint) ([]models.LeadView, error) {
	var out []models.LeadView
	err := r.s.do(func(st *state) error {
		for _, v := range st.views {
			if v.LeadID == leadID {
				out = append(out, v)
			}
		}
		return nil
	})
	slices.SortFunc(out, func(a, b models.LeadView) int { return cmp.Compare(a.ID, b.ID) })
	return out, err
}

type subscriptionRepo struct{ s *Store }

func (r subscriptionRepo) GetByUserID(_ context.Context, userID uint) (*models.Subscription, error) {
	var out models.Subscription
	err := r.s.do(func(st *state) error {
		sub, ok := st.subs[userID]
		if !ok {
			return notFound("subscription", userID)
		}
		out = sub
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r subscriptionRepo) GetOrCreate(ctx context.Context, userID uint, now time.Time) (*models.Subscription, error) {
	err := r.s.do(func(st *state) error {
		if _, ok := st.subs[userID]; ok {
			return nil
		}
		fresh := models.NewFreeSubscription(userID, now)
		fresh.ID = st.next("subscriptions")
		fresh.CreatedAt, fresh.UpdatedAt = r.s.now(), r.s.now()
		st.subs[userID] = *fresh
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r.GetByUserID(ctx, userID)
}

func (r subscriptionRepo) Save(_ context.Context, sub *models.Subscription) error {
	if err := validate(sub, "subscription"); err != nil {
		return err
	}
	return r.s.do(func(st *state) error {
		existing, ok := st.subs[sub.UserID]
		if ok && existing.ID != sub.ID {
			return conflict("subscription")
		}
		if sub.ID == 0 {
			sub.ID = st.next("subscriptions")
			sub.CreatedAt = r.s.now()
		}
		sub.UpdatedAt = r.s.now()
		st.subs[sub.UserID] = *sub
		return nil
	})
}

func (r subscriptionRepo) ConsumeProposal(_ context.Context, userID uint) (bool, error) {
	consumed := false
	err := r.s.do(func(st *state) error {
		sub, ok := st.subs[userID]
		if !ok || sub.Status != models.SubscriptionStatusActive || !sub.HasQuota() {
			return nil
		}
		sub.ProposalsUsedThisPeriod++
		st.subs[userID] = sub
		consumed = true
		return nil
	})
	return consumed, err
}

func (r subscriptionRepo) ListPaidEndedBefore(_ context.Context, t time.Time, limit int) ([]models.Subscription, error) {
	var out []models.Subscription
	err := r.s.do(func(st *state) error {
		for _, userID := range sortedKeys(st.subs) {
			sub := st.subs[userID]
			if sub.PlanType != models.PlanFree && sub.Status == models.SubscriptionStatusActive &&
				sub.CurrentPeriodEnd != nil && !sub.CurrentPeriodEnd.After(t) {
				out = append(out, sub)
			}
		}
		return nil
	})
	return limited(out, limit), err
}

type paymentRepo struct{ s *Store }

func (r paymentRepo) GetByTransactionID(_ context.Context, transactionID string) (*models.PaymentRecord, error) {
	var out models.PaymentRecord
	err := r.s.do(func(st *state) error {
		p, ok := st.payments[transactionID]
		if !ok {
			return notFound("payment", transactionID)
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r paymentRepo) Create(_ context.Context, p *models.PaymentRecord) error {
	if err := validate(p, "payment"); err != nil {
		return err
	}
	return r.s.do(func(st *state) error {
		if _, dup := st.payments[p.TransactionID]; dup {
			return conflict("payment")
		}
		p.ID = st.next("payments")
		p.CreatedAt = r.s.now()
		st.payments[p.TransactionID] = *p
		return nil
	})
}

type webhookRepo struct{ s *Store }

func (r webhookRepo) CreateIfNotExists(_ context.Context, e *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	var (
		created bool
		stored  models.WebhookEvent
	)
	err := r.s.do(func(st *state) error {
		for _, existing := range st.webhooks {
			if existing.Gateway == e.Gateway && existing.EventID == e.EventID {
				stored = existing
				return nil
			}
		}
		e.ID = st.next("webhook_events")
		e.CreatedAt, e.UpdatedAt = r.s.now(), r.s.now()
		st.webhooks[e.ID] = *e
		stored = *e
		created = true
		return nil
	})
	if err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r webhookRepo) MarkProcessed(_ context.Context, id uint, processingError string, at time.Time) error {
	return r.s.do(func(st *state) error {
		e, ok := st.webhooks[id]
		if !ok {
			return notFound("webhook_event", id)
		}
		e.ProcessedAt = &at
		e.ProcessingError = processingError
		st.webhooks[id] = e
		return nil
	})
}

// Events returns every stored webhook event, oldest first.
func (s *Store) Events() []models.WebhookEvent {
	var out []models.WebhookEvent
	_ = s.do(func(st *state) error {
		for _, id := range sortedKeys(st.webhooks) {
			out = append(out, st.webhooks[id])
		}
		return nil
	})
	return out
}

type tokenRepo struct{ s *Store }

func (r tokenRepo) Create(_ context.Context, t *models.AccessToken) error {
	if err := validate(t, "token"); err != nil {
		return err
	}
	return r.s.do(func(st *state) error {
		for _, existing := range st.tokens {
			if existing.Token == t.Token {
				return conflict("token")
			}
		}
		t.ID = st.next("tokens")
		t.CreatedAt = r.s.now()
		st.tokens[t.ID] = *t
		return nil
	})
}

func (r tokenRepo) GetByToken(_ context.Context, token string) (*models.AccessToken, error) {
	var out *models.AccessToken
	err := r.s.do(func(st *state) error {
		for _, t := range st.tokens {
			if t.Token == token {
				t := t
				out = &t
				return nil
			}
		}
		return notFound("token", "")
	})
	return out, err
}

func (r tokenRepo) MarkUsed(_ context.Context, id uint, at time.Time) (bool, error) {
	marked := false
	err := r.s.do(func(st *state) error {
		t, ok := st.tokens[id]
		if !ok || t.UsedAt != nil {
			return nil
		}
		t.UsedAt = &at
		st.tokens[id] = t
		marked = true
		return nil
	})
	return marked, err
}

func (r tokenRepo) DeleteExpiredBefore(_ context.Context, t time.Time) (int64, error) {
	var n int64
	err := r.s.do(func(st *state) error {
		for id, tok := range st.tokens {
			if tok.ExpiresAt.Before(t) {
				delete(st.tokens, id)
				n++
			}
		}
		return nil
	})
	return n, err
}

type notificationRepo struct{ s *Store }

func (r notificationRepo) Create(_ context.Context, n *models.Notification) error {
	if err := validate(n, "notification"); err != nil {
		return err
	}
	return r.s.do(func(st *state) error {
		n.ID = st.next("notifications")
		n.CreatedAt = r.s.now()
		st.notifications[n.ID] = *n
		return nil
	})
}

func (r notificationRepo) ListByUser(_ context.Context, userID uint, limit int) ([]models.Notification, error) {
	var out []models.Notification
	err := r.s.do(func(st *state) error {
		keys := sortedKeys(st.notifications)
		slices.Reverse(keys)
		for _, id := range keys {
			if n := st.notifications[id]; n.UserID == userID {
				out = append(out, n)
			}
		}
		return nil
	})
	return limited(out, limit), err
}

type outboxRepo struct{ s *Store }

func (r outboxRepo) Enqueue(_ context.Context, e *models.OutboxEvent) (bool, error) {
	if err := validate(e, "outbox_event"); err != nil {
		return false, err
	}
	created := false
	err := r.s.do(func(st *state) error {
		if e.DedupeKey != nil {
			for _, existing := range st.outbox {
				if existing.DedupeKey != nil && *existing.DedupeKey == *e.DedupeKey {
					return nil
				}
			}
		}
		if _, dup := st.outbox[e.ID]; dup {
			return nil
		}
		e.CreatedAt, e.UpdatedAt = r.s.now(), r.s.now()
		st.outbox[e.ID] = *e
		created = true
		return nil
	})
	return created, err
}

func (r outboxRepo) ListDue(_ context.Context, now time.Time, limit int) ([]models.OutboxEvent, error) {
	var out []models.OutboxEvent
	err := r.s.do(func(st *state) error {
		for _, e := range st.outbox {
			if e.Status == models.OutboxStatusPending && !e.NextAttemptAt.After(now) {
				out = append(out, e)
			}
		}
		return nil
	})
	slices.SortFunc(out, func(a, b models.OutboxEvent) int {
		if c := a.NextAttemptAt.Compare(b.NextAttemptAt); c != 0 {
			return c
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return limited(out, limit), err
}

func (r outboxRepo) Claim(_ context.Context, id string, seenAttempts int, leaseUntil time.Time) (bool, error) {
	claimed := false
	err := r.s.do(func(st *state) error {
		e, ok := st.outbox[id]
		if !ok || e.Status != models.OutboxStatusPending || e.Attempts != seenAttempts {
			return nil
		}
		e.Attempts++
		e.NextAttemptAt = leaseUntil
		st.outbox[id] = e
		claimed = true
		return nil
	})
	return claimed, err
}

func (r outboxRepo) update(id string, fn func(e *models.OutboxEvent)) error {
	return r.s.do(func(st *state) error {
		e, ok := st.outbox[id]
		if !ok {
			return notFound("outbox_event", id)
		}
		fn(&e)
		e.UpdatedAt = r.s.now()
		st.outbox[id] = e
		return nil
	})
}

func (r outboxRepo) MarkSent(_ context.Context, id string, at time.Time) error {
	return r.update(id, func(e *models.OutboxEvent) {
		e.Status = models.OutboxStatusSent
		e.SentAt = &at
		e.LastError = ""
	})
}

func (r outboxRepo) MarkRetry(_ context.Context, id string, next time.Time, lastError string) error {
	return r.update(id, func(e *models.OutboxEvent) {
		e.NextAttemptAt = next
		e.LastError = lastError
	})
}

func (r outboxRepo) MarkDead(_ context.Context, id string, lastError string) error {
	return r.update(id, func(e *models.OutboxEvent) {
		e.Status = models.OutboxStatusDead
		e.LastError = lastError
	})
}

func (r outboxRepo) CountByStatus(_ context.Context, status string) (int64, error) {
	var n int64
	err := r.s.do(func(st *state) error {
		for _, e := range st.outbox {
			if e.Status == status {
				n++
			}
		}
		return nil
	})
	return n, err
}

// OutboxEvents returns every outbox row ordered by creation.
func (s *Store) OutboxEvents() []models.OutboxEvent {
	var out []models.OutboxEvent
	_ = s.do(func(st *state) error {
		for _, e := range st.outbox {
			out = append(out, e)
		}
		return nil
	})
	slices.SortStableFunc(out, func(a, b models.OutboxEvent) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

type ledgerRepo struct{ s *Store }

func (r ledgerRepo) Record(_ context.Context, leadID, recipientID uint, kind string) (bool, error) {
	entry := models.DispatchLedger{LeadID: leadID, RecipientID: recipientID, Kind: kind}
	if err := validate(&entry, "ledger_entry"); err != nil {
		return false, err
	}
	created := false
	err := r.s.do(func(st *state) error {
		key := ledgerKey{leadID, recipientID, kind}
		if _, ok := st.ledger[key]; ok {
			return nil
		}
		entry.ID = st.next("dispatch_ledger")
		entry.CreatedAt = r.s.now()
		st.ledger[key] = entry
		created = true
		return nil
	})
	return created, err
}

func (r ledgerRepo) Exists(_ context.Context, leadID, recipientID uint, kind string) (bool, error) {
	found := false
	err := r.s.do(func(st *state) error {
		_, found = st.ledger[ledgerKey{leadID, recipientID, kind}]
		return nil
	})
	return found, err
}
