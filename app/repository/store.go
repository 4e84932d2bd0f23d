package repository

import (
	"context"
	"errors"

	"github.com/ManuelReschke/LeadHub/app/models"
	"github.com/ManuelReschke/LeadHub/internal/pkg/apperror"
	"gorm.io/gorm"
)

// gormStore implements Store on top of a *gorm.DB. Inside Transaction the
// db field holds the transaction handle.
type gormStore struct {
	db *gorm.DB
}

// NewStore creates a Store backed by GORM. The connection should be opened
// with TranslateError enabled so unique violations map to ErrConflict.
func NewStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) Users() UserRepository                 { return &userRepository{db: s.db} }
func (s *gormStore) Leads() LeadRepository                 { return &leadRepository{db: s.db} }
func (s *gormStore) Providers() ProviderRepository         { return &providerRepository{db: s.db} }
func (s *gormStore) Proposals() ProposalRepository         { return &proposalRepository{db: s.db} }
func (s *gormStore) Conversations() ConversationRepository { return &conversationRepository{db: s.db} }
func (s *gormStore) LeadViews() LeadViewRepository         { return &leadViewRepository{db: s.db} }
func (s *gormStore) Subscriptions() SubscriptionRepository { return &subscriptionRepository{db: s.db} }
func (s *gormStore) Payments() PaymentRepository           { return &paymentRepository{db: s.db} }
func (s *gormStore) WebhookEvents() WebhookEventRepository { return &webhookEventRepository{db: s.db} }
func (s *gormStore) Tokens() AccessTokenRepository         { return &accessTokenRepository{db: s.db} }
func (s *gormStore) Notifications() NotificationRepository { return &notificationRepository{db: s.db} }
func (s *gormStore) Outbox() OutboxRepository              { return &outboxRepository{db: s.db} }
func (s *gormStore) Ledger() DispatchLedgerRepository      { return &dispatchLedgerRepository{db: s.db} }

// Transaction runs fn in a database transaction. Returning an error from fn
// rolls everything back.
func (s *gormStore) Transaction(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormStore{db: tx})
	})
}

// translate maps driver errors onto the shared error kinds.
func translate(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return apperror.NotFound(what+"_not_found", err)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return apperror.Conflict(what+"_exists", err)
	default:
		return err
	}
}

// create validates and inserts a record.
func create(ctx context.Context, db *gorm.DB, record models.Validatable, what string) error {
	if err := record.Validate(); err != nil {
		return apperror.Validation("invalid_"+what, err)
	}
	return translate(db.WithContext(ctx).Create(record).Error, what)
}
