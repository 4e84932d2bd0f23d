// Package lifecycle implements the proposal state machine:
// pending -> accepted | rejected | withdrawn, all of them terminal.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ManuelReschke/LeadHub/app/models"
	"github.com/ManuelReschke/LeadHub/app/repository"
	"github.com/ManuelReschke/LeadHub/internal/pkg/accesstoken"
	"github.com/ManuelReschke/LeadHub/internal/pkg/apperror"
	"github.com/ManuelReschke/LeadHub/internal/pkg/metrics"
	"github.com/ManuelReschke/LeadHub/internal/pkg/notify"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
)

// MaxBatch caps the ids accepted by one batch call.
const MaxBatch = 100

const (
	DecisionAccept = "accept"
	DecisionReject = "reject"
)

// Decision is the outcome of accepting or rejecting a proposal.
type Decision struct {
	ProposalID     uint   `json:"proposal_id"`
	LeadID         uint   `json:"lead_id"`
	Status         string `json:"status"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// BatchResult reports a batch decision. Errors maps proposal ids to the
// reason code of their failure.
type BatchResult struct {
	Succeeded int             `json:"succeeded"`
	Failed    int             `json:"failed"`
	Errors    map[uint]string `json:"errors"`
}

// SubmitInput is a provider's bid.
type SubmitInput struct {
	PriceMin int64  `json:"price_min"`
	PriceMax int64  `json:"price_max"`
	Message  string `json:"message"`
	Timeline string `json:"timeline"`
}

// Contacts are the counterpart's details, visible after acceptance.
type Contacts struct {
	ConversationID string     `json:"conversation_id"`
	Name           string     `json:"name"`
	Email          string     `json:"email"`
	Phone          string     `json:"phone"`
	RevealedAt     *time.Time `json:"revealed_at,omitempty"`
}

type Service struct {
	store      repository.Store
	grantor    *accesstoken.Grantor
	dispatcher *notify.Dispatcher
	metrics    *metrics.Metrics
	now        func() time.Time
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func NewService(store repository.Store, grantor *accesstoken.Grantor, dispatcher *notify.Dispatcher, opts ...Option) *Service {
	s := &Service{
		store:      store,
		grantor:    grantor,
		dispatcher: dispatcher,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ownedProposal loads a proposal and its lead and checks that ownerID owns
// the lead. Foreign proposals look like missing ones.
func ownedProposal(ctx context.Context, tx repository.Store, ownerID, proposalID uint) (*models.Proposal, *models.Lead, error) {
	p, err := tx.Proposals().GetByID(ctx, proposalID)
	if err != nil {
		return nil, nil, err
	}
	lead, err := tx.Leads().GetByID(ctx, p.LeadID)
	if err != nil {
		return nil, nil, err
	}
	if lead.OwnerID != ownerID {
		return nil, nil, apperror.NotFound("proposal_not_found", fmt.Errorf("proposal %d not owned by %d", proposalID, ownerID))
	}
	return p, lead, nil
}

// Accept accepts a pending proposal. The lead's accepted slot is claimed
// with a conditional update, so of two concurrent accepts on one lead only
// one wins and the other proposal stays pending. Contacts are revealed to
// both parties through a new conversation.
func (s *Service) Accept(ctx context.Context, ownerID, proposalID uint) (*Decision, error) {
	var decision *Decision
	err := s.store.Transaction(ctx, func(tx repository.Store) error {
		p, lead, err := ownedProposal(ctx, tx, ownerID, proposalID)
		if err != nil {
			return err
		}
		if !p.IsPending() {
			return apperror.Conflict("proposal_not_pending", fmt.Errorf("proposal %d is %s", p.ID, p.Status))
		}
		if lead.Status != models.LeadStatusActive && lead.AcceptedProposalID == nil {
			return apperror.Conflict("lead_closed", fmt.Errorf("lead %d is %s", lead.ID, lead.Status))
		}

		now := s.now()
		claimed, err := tx.Leads().ClaimAcceptedSlot(ctx, lead.ID, p.ID)
		if err != nil {
			return err
		}
		if !claimed {
			return apperror.Conflict("already_decided", fmt.Errorf("lead %d already has an accepted proposal", lead.ID))
		}
		moved, err := tx.Proposals().TransitionStatus(ctx, p.ID, models.ProposalStatusPending, models.ProposalStatusAccepted, now)
		if err != nil {
			return err
		}
		if !moved {
			return apperror.Conflict("proposal_not_pending", fmt.Errorf("proposal %d changed concurrently", p.ID))
		}

		conv := &models.Conversation{
			ID:                 uuid.NewString(),
			LeadID:             lead.ID,
			ProposalID:         p.ID,
			OwnerID:            lead.OwnerID,
			ProviderUserID:     p.ProviderUserID,
			ContactsRevealedAt: &now,
		}
		if err := tx.Conversations().Create(ctx, conv); err != nil {
			return err
		}
		if err := s.notifyAccepted(ctx, tx, lead, p, conv); err != nil {
			return err
		}
		decision = &Decision{ProposalID: p.ID, LeadID: lead.ID, Status: models.ProposalStatusAccepted, ConversationID: conv.ID}
		return nil
	})
	s.metrics.ProposalDecision(DecisionAccept, outcomeLabel(err))
	if err != nil {
		return nil, err
	}
	log.Infof("[Lifecycle] Proposal %d accepted for lead %d", decision.ProposalID, decision.LeadID)
	return decision, nil
}

func (s *Service) notifyAccepted(ctx context.Context, tx repository.Store, lead *models.Lead, p *models.Proposal, conv *models.Conversation) error {
	grantor := s.grantor.In(tx)
	for _, side := range []struct {
		userID  uint
		content func(link string) notify.Content
	}{
		{p.ProviderUserID, func(link string) notify.Content { return notify.ProposalAccepted(lead, p, link) }},
		{lead.OwnerID, func(link string) notify.Content { return notify.AcceptanceConfirmed(lead, p, link) }},
	} {
		user, err := tx.Users().GetByID(ctx, side.userID)
		if err != nil {
			return err
		}
		issued, err := grantor.Issue(ctx, accesstoken.IssueRequest{
			UserID:       user.ID,
			ResourceType: models.TokenResourceConversation,
			ResourceID:   &p.ID,
			LinkID:       conv.ID,
		})
		if err != nil {
			return err
		}
		dedupe := fmt.Sprintf("%s:%d:%d", models.NotificationProposalAccepted, p.ID, user.ID)
		if err := s.dispatcher.Deliver(ctx, tx, user, side.content(issued.DeepLink), &lead.ID, dedupe); err != nil {
			return err
		}
	}
	return nil
}

// Reject rejects a pending proposal and tells the provider.
func (s *Service) Reject(ctx context.Context, ownerID, proposalID uint) (*Decision, error) {
	var decision *Decision
	err := s.store.Transaction(ctx, func(tx repository.Store) error {
		p, lead, err := ownedProposal(ctx, tx, ownerID, proposalID)
		if err != nil {
			return err
		}
		moved, err := tx.Proposals().TransitionStatus(ctx, p.ID, models.ProposalStatusPending, models.ProposalStatusRejected, s.now())
		if err != nil {
			return err
		}
		if !moved {
			return apperror.Conflict("proposal_not_pending", fmt.Errorf("proposal %d is %s", p.ID, p.Status))
		}
		provider, err := tx.Users().GetByID(ctx, p.ProviderUserID)
		if err != nil {
			return err
		}
		dedupe := fmt.Sprintf("%s:%d", models.NotificationProposalRejected, p.ID)
		if err := s.dispatcher.Deliver(ctx, tx, provider, notify.ProposalRejected(lead, p), &lead.ID, dedupe); err != nil {
			return err
		}
		decision = &Decision{ProposalID: p.ID, LeadID: lead.ID, Status: models.ProposalStatusRejected}
		return nil
	})
	s.metrics.ProposalDecision(DecisionReject, outcomeLabel(err))
	if err != nil {
		return nil, err
	}
	return decision, nil
}

// BatchAccept accepts each id on its own. Accepting several proposals of
// the same lead leaves all but the first as failed with already_decided.
func (s *Service) BatchAccept(ctx context.Context, ownerID uint, ids []uint) (*BatchResult, error) {
	return s.batch(ctx, ids, func(id uint) error {
		_, err := s.Accept(ctx, ownerID, id)
		return err
	})
}

func (s *Service) BatchReject(ctx context.Context, ownerID uint, ids []uint) (*BatchResult, error) {
	return s.batch(ctx, ids, func(id uint) error {
		_, err := s.Reject(ctx, ownerID, id)
		return err
	})
}

func (s *Service) batch(ctx context.Context, ids []uint, fn func(id uint) error) (*BatchResult, error) {
	if len(ids) == 0 {
		return nil, apperror.Validation("no_ids", errors.New("empty batch"))
	}
	if len(ids) > MaxBatch {
		return nil, apperror.Validation("batch_too_large", fmt.Errorf("%d ids, max %d", len(ids), MaxBatch))
	}
	res := &BatchResult{Errors: map[uint]string{}}
	seen := make(map[uint]bool, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		if err := fn(id); err != nil {
			res.Failed++
			res.Errors[id] = reasonOrInternal(err)
			if apperror.KindOf(err) == "" {
				log.Errorf("[Lifecycle] Batch decision on proposal %d failed: %v", id, err)
			}
			continue
		}
		res.Succeeded++
	}
	return res, nil
}

// WithdrawPending withdraws every pending proposal of the given leads in one
// statement through store, which is usually the caller's transaction, and
// tells each affected provider. Returns the number of withdrawn proposals.
func (s *Service) WithdrawPending(ctx context.Context, store repository.Store, leads []models.Lead) (int64, error) {
	if len(leads) == 0 {
		return 0, nil
	}
	byID := make(map[uint]*models.Lead, len(leads))
	ids := make([]uint, 0, len(leads))
	for i := range leads {
		byID[leads[i].ID] = &leads[i]
		ids = append(ids, leads[i].ID)
	}

	pending, err := store.Proposals().ListPendingByLeads(ctx, ids)
	if err != nil {
		return 0, err
	}
	n, err := store.Proposals().WithdrawPendingByLeads(ctx, ids, s.now())
	if err != nil {
		return 0, err
	}
	for _, p := range pending {
		provider, err := store.Users().GetByID(ctx, p.ProviderUserID)
		if err != nil {
			return 0, err
		}
		lead := byID[p.LeadID]
		dedupe := fmt.Sprintf("%s:%d", models.NotificationProposalWithdrawn, p.ID)
		if err := s.dispatcher.Deliver(ctx, store, provider, notify.ProposalWithdrawn(lead), &lead.ID, dedupe); err != nil {
			return 0, err
		}
	}
	return n, nil
}

// WithdrawPendingForLead is WithdrawPending for one lead in its own
// transaction.
func (s *Service) WithdrawPendingForLead(ctx context.Context, leadID uint) (int64, error) {
	var n int64
	err := s.store.Transaction(ctx, func(tx repository.Store) error {
		lead, err := tx.Leads().GetByID(ctx, leadID)
		if err != nil {
			return err
		}
		n, err = s.WithdrawPending(ctx, tx, []models.Lead{*lead})
		return err
	})
	return n, err
}

// approvedProvider returns the approved provider profile of a user.
func (s *Service) approvedProvider(ctx context.Context, userID uint) (*models.ProviderProfile, error) {
	provider, err := s.store.Providers().GetByUserID(ctx, userID)
	if errors.Is(err, apperror.ErrNotFound) {
		return nil, apperror.Validation("provider_not_approved", err)
	}
	if err != nil {
		return nil, err
	}
	if !provider.IsApproved() {
		return nil, apperror.Validation("provider_not_approved", fmt.Errorf("provider %d is %s", provider.ID, provider.VerificationStatus))
	}
	return provider, nil
}

// Submit creates a provider's proposal on an open lead. One quota unit of
// the provider's subscription is consumed in the same transaction.
func (s *Service) Submit(ctx context.Context, providerUserID, leadID uint, in SubmitInput) (*models.Proposal, error) {
	provider, err := s.approvedProvider(ctx, providerUserID)
	if err != nil {
		return nil, err
	}
	proposal := &models.Proposal{
		LeadID:         leadID,
		ProviderID:     provider.ID,
		ProviderUserID: providerUserID,
		PriceMin:       in.PriceMin,
		PriceMax:       in.PriceMax,
		Message:        strings.TrimSpace(in.Message),
		Timeline:       strings.TrimSpace(in.Timeline),
		Status:         models.ProposalStatusPending,
	}

	err = s.store.Transaction(ctx, func(tx repository.Store) error {
		lead, err := tx.Leads().GetByID(ctx, leadID)
		if err != nil {
			return err
		}
		if !lead.IsOpen(s.now()) {
			return apperror.Validation("lead_closed", fmt.Errorf("lead %d is %s", lead.ID, lead.Status))
		}
		if lead.OwnerID == providerUserID {
			return apperror.Validation("own_lead", errors.New("cannot bid on own lead"))
		}
		if err := tx.Proposals().Create(ctx, proposal); err != nil {
			return err
		}
		if _, err := tx.Subscriptions().GetOrCreate(ctx, providerUserID, s.now()); err != nil {
			return err
		}
		consumed, err := tx.Subscriptions().ConsumeProposal(ctx, providerUserID)
		if err != nil {
			return err
		}
		if !consumed {
			return apperror.Validation("quota_exhausted", fmt.Errorf("user %d has no proposals left", providerUserID))
		}

		owner, err := tx.Users().GetByID(ctx, lead.OwnerID)
		if err != nil {
			return err
		}
		issued, err := s.grantor.In(tx).Issue(ctx, accesstoken.IssueRequest{
			UserID:       owner.ID,
			ResourceType: models.TokenResourceProposal,
			ResourceID:   &proposal.ID,
		})
		if err != nil {
			return err
		}
		dedupe := fmt.Sprintf("%s:%d", models.NotificationProposalReceived, proposal.ID)
		return s.dispatcher.Deliver(ctx, tx, owner, notify.ProposalReceived(lead, proposal, issued.DeepLink), &lead.ID, dedupe)
	})
	if err != nil {
		return nil, err
	}
	log.Infof("[Lifecycle] Provider %d submitted proposal %d on lead %d", provider.ID, proposal.ID, leadID)
	return proposal, nil
}

// RecordView notes that a provider opened a lead. Repeated views are kept
// as the first one.
func (s *Service) RecordView(ctx context.Context, providerUserID, leadID uint) error {
	provider, err := s.store.Providers().GetByUserID(ctx, providerUserID)
	if err != nil {
		return err
	}
	if _, err := s.store.Leads().GetByID(ctx, leadID); err != nil {
		return err
	}
	return s.store.LeadViews().Record(ctx, &models.LeadView{
		LeadID:         leadID,
		ProviderID:     provider.ID,
		ProviderUserID: providerUserID,
		ViewedAt:       s.now(),
	})
}

// Contacts returns the other party's contact details. Only the owner and
// the provider of an accepted proposal can see them; everybody else gets
// not found.
func (s *Service) Contacts(ctx context.Context, viewerID, proposalID uint) (*Contacts, error) {
	hidden := apperror.NotFound("contacts_not_found", nil)

	p, err := s.store.Proposals().GetByID(ctx, proposalID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, hidden
		}
		return nil, err
	}
	if p.Status != models.ProposalStatusAccepted {
		return nil, hidden
	}
	conv, err := s.store.Conversations().GetByProposalID(ctx, p.ID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, hidden
		}
		return nil, err
	}
	if !conv.HasParticipant(viewerID) {
		return nil, hidden
	}

	counterpart := conv.OwnerID
	if viewerID == conv.OwnerID {
		counterpart = conv.ProviderUserID
	}
	user, err := s.store.Users().GetByID(ctx, counterpart)
	if err != nil {
		return nil, err
	}
	return &Contacts{
		ConversationID: conv.ID,
		Name:           user.Name,
		Email:          user.Email,
		Phone:          user.Phone,
		RevealedAt:     conv.ContactsRevealedAt,
	}, nil
}

func reasonOrInternal(err error) string {
	if r := apperror.ReasonOf(err); r != "" {
		return r
	}
	return "internal_error"
}

func outcomeLabel(err error) string {
	if err == nil {
		return "ok"
	}
	if k := apperror.KindOf(err); k != "" {
		return string(k)
	}
	return "error"
}
