package repository

import (
	"context"
	"time"

	"github.com/ManuelReschke/LeadHub/app/models"
)

// Store bundles the repositories and runs units of work. Repositories
// returned from the Store passed into Transaction operate inside it.
//
// Missing rows surface as apperror.ErrNotFound, unique violations as
// apperror.ErrConflict, invalid records as apperror.ErrValidation.
type Store interface {
	Users() UserRepository
	Leads() LeadRepository
	Providers() ProviderRepository
	Proposals() ProposalRepository
	Conversations() ConversationRepository
	LeadViews() LeadViewRepository
	Subscriptions() SubscriptionRepository
	Payments() PaymentRepository
	WebhookEvents() WebhookEventRepository
	Tokens() AccessTokenRepository
	Notifications() NotificationRepository
	Outbox() OutboxRepository
	Ledger() DispatchLedgerRepository

	Transaction(ctx context.Context, fn func(tx Store) error) error
}

// UserRepository defines the interface for user-related database operations
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id uint) (*models.User, error)
}

// LeadRepository defines the lead queries and the conditional updates the
// lifecycle and the sweeps rely on.
type LeadRepository interface {
	Create(ctx context.Context, lead *models.Lead) error
	GetByID(ctx context.Context, id uint) (*models.Lead, error)
	// TransitionStatus moves the lead from one status to another only if it
	// is still in from. Returns false when another writer got there first.
	TransitionStatus(ctx context.Context, id uint, from, to string) (bool, error)
	// ClaimAcceptedSlot sets accepted_proposal_id and completes the lead if
	// it is active and no proposal was accepted yet.
	ClaimAcceptedSlot(ctx context.Context, leadID, proposalID uint) (bool, error)
	MarkMatched(ctx context.Context, id uint, at time.Time) error
	// ListActiveDeadlineBefore and ListActiveDeadlineBetween page through
	// active leads ordered by (proposal_deadline, id), starting after the
	// cursor.
	ListActiveDeadlineBefore(ctx context.Context, t time.Time, after LeadCursor, limit int) ([]models.Lead, error)
	ListActiveDeadlineBetween(ctx context.Context, from, to time.Time, after LeadCursor, limit int) ([]models.Lead, error)
	ListActiveUnmatched(ctx context.Context, limit int) ([]models.Lead, error)
}

// LeadCursor is the position after the last lead of a page. The zero value
// starts at the first lead.
type LeadCursor struct {
	Deadline time.Time
	ID       uint
}

// CursorAfter returns the cursor following lead.
func CursorAfter(lead models.Lead) LeadCursor {
	c := LeadCursor{ID: lead.ID}
	if lead.ProposalDeadline != nil {
		c.Deadline = *lead.ProposalDeadline
	}
	return c
}

// IsZero reports whether the cursor points at the start.
func (c LeadCursor) IsZero() bool { return c.ID == 0 }

// ProviderRepository defines the interface for provider profile operations
type ProviderRepository interface {
	Create(ctx context.Context, profile *models.ProviderProfile) error
	GetByID(ctx context.Context, id uint) (*models.ProviderProfile, error)
	GetByUserID(ctx context.Context, userID uint) (*models.ProviderProfile, error)
	ListApproved(ctx context.Context) ([]models.ProviderProfile, error)
}

// ProposalRepository defines the proposal queries and guarded transitions.
type ProposalRepository interface {
	Create(ctx context.Context, proposal *models.Proposal) error
	GetByID(ctx context.Context, id uint) (*models.Proposal, error)
	ListByLead(ctx context.Context, leadID uint) ([]models.Proposal, error)
	// ListPendingByLeads locks the returned rows when called inside a
	// transaction.
	ListPendingByLeads(ctx context.Context, leadIDs []uint) ([]models.Proposal, error)
	CountPendingByLead(ctx context.Context, leadID uint) (int64, error)
	TransitionStatus(ctx context.Context, id uint, from, to string, at time.Time) (bool, error)
	// WithdrawPendingByLeads flips every pending proposal of the given leads
	// in one statement.
	WithdrawPendingByLeads(ctx context.Context, leadIDs []uint, at time.Time) (int64, error)
}

type ConversationRepository interface {
	Create(ctx context.Context, conv *models.Conversation) error
	GetByProposalID(ctx context.Context, proposalID uint) (*models.Conversation, error)
}

type LeadViewRepository interface {
	// Record stores the first view of a lead by a provider; repeated views
	// are ignored.
	Record(ctx context.Context, view *models.LeadView) error
	ListByLead(ctx context.Context, leadID uint) ([]models.LeadView, error)
}

// SubscriptionRepository defines the interface for plan state per user
type SubscriptionRepository interface {
	GetByUserID(ctx context.Context, userID uint) (*models.Subscription, error)
	// GetOrCreate returns the user's row, creating the free default.
	GetOrCreate(ctx context.Context, userID uint, now time.Time) (*models.Subscription, error)
	Save(ctx context.Context, sub *models.Subscription) error
	// ConsumeProposal increments the usage counter if quota is left.
	ConsumeProposal(ctx context.Context, userID uint) (bool, error)
	ListPaidEndedBefore(ctx context.Context, t time.Time, limit int) ([]models.Subscription, error)
}

type PaymentRepository interface {
	GetByTransactionID(ctx context.Context, transactionID string) (*models.PaymentRecord, error)
	Create(ctx context.Context, record *models.PaymentRecord) error
}

type WebhookEventRepository interface {
	CreateIfNotExists(ctx context.Context, event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	MarkProcessed(ctx context.Context, id uint, processingError string, at time.Time) error
}

type AccessTokenRepository interface {
	Create(ctx context.Context, token *models.AccessToken) error
	GetByToken(ctx context.Context, token string) (*models.AccessToken, error)
	// MarkUsed sets used_at if it is still empty.
	MarkUsed(ctx context.Context, id uint, at time.Time) (bool, error)
	DeleteExpiredBefore(ctx context.Context, t time.Time) (int64, error)
}

type NotificationRepository interface {
	Create(ctx context.Context, n *models.Notification) error
	ListByUser(ctx context.Context, userID uint, limit int) ([]models.Notification, error)
}

// OutboxRepository defines the outbox table operations used by the
// delivery worker.
type OutboxRepository interface {
	// Enqueue inserts the event; returns false if an event with the same
	// dedupe key already exists.
	Enqueue(ctx context.Context, event *models.OutboxEvent) (bool, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]models.OutboxEvent, error)
	// Claim bumps attempts and leases the row until leaseUntil, provided
	// nobody else claimed it since it was listed.
	Claim(ctx context.Context, id string, seenAttempts int, leaseUntil time.Time) (bool, error)
	MarkSent(ctx context.Context, id string, at time.Time) error
	MarkRetry(ctx context.Context, id string, next time.Time, lastError string) error
	MarkDead(ctx context.Context, id string, lastError string) error
	CountByStatus(ctx context.Context, status string) (int64, error)
}

// DispatchLedgerRepository records (lead, recipient, kind) dispatches.
type DispatchLedgerRepository interface {
	// Record inserts the marker; returns false if it already existed.
	Record(ctx context.Context, leadID, recipientID uint, kind string) (bool, error)
	Exists(ctx context.Context, leadID, recipientID uint, kind string) (bool, error)
}
