package repository

import (
	"context"
	"time"

	"github.com/ManuelReschke/LeadHub/app/models"
	"github.com/ManuelReschke/LeadHub/internal/pkg/apperror"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// subscriptionRepository implements the SubscriptionRepository interface
type subscriptionRepository struct {
	db *gorm.DB
}

func (r *subscriptionRepository) GetByUserID(ctx context.Context, userID uint) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&sub).Error; err != nil {
		return nil, translate(err, "subscription")
	}
	return &sub, nil
}

// GetOrCreate inserts the free default for the user if no row exists yet and
// returns the stored row either way.
func (r *subscriptionRepository) GetOrCreate(ctx context.Context, userID uint, now time.Time) (*models.Subscription, error) {
	fresh := models.NewFreeSubscription(userID, now)
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(fresh).Error; err != nil {
		return nil, err
	}
	return r.GetByUserID(ctx, userID)
}

func (r *subscriptionRepository) Save(ctx context.Context, sub *models.Subscription) error {
	if err := sub.Validate(); err != nil {
		return apperror.Validation("invalid_subscription", err)
	}
	return translate(r.db.WithContext(ctx).Save(sub).Error, "subscription")
}

func (r *subscriptionRepository) ConsumeProposal(ctx context.Context, userID uint) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("user_id = ? AND status = ?", userID, models.SubscriptionStatusActive).
		Where("(proposals_limit = ? OR proposals_used_this_period < proposals_limit)", models.UnlimitedProposals).
		Update("proposals_used_this_period", gorm.Expr("proposals_used_this_period + 1"))
	return res.RowsAffected == 1, res.Error
}

func (r *subscriptionRepository) ListPaidEndedBefore(ctx context.Context, t time.Time, limit int) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.WithContext(ctx).
		Where("plan_type <> ? AND status = ? AND current_period_end IS NOT NULL AND current_period_end <= ?",
			models.PlanFree, models.SubscriptionStatusActive, t).
		Order("current_period_end ASC").
		Limit(limit).
		Find(&subs).Error
	return subs, err
}

// paymentRepository implements the PaymentRepository interface
type paymentRepository struct {
	db *gorm.DB
}

func (r *paymentRepository) GetByTransactionID(ctx context.Context, transactionID string) (*models.PaymentRecord, error) {
	var record models.PaymentRecord
	if err := r.db.WithContext(ctx).Where("transaction_id = ?", transactionID).First(&record).Error; err != nil {
		return nil, translate(err, "payment")
	}
	return &record, nil
}

func (r *paymentRepository) Create(ctx context.Context, record *models.PaymentRecord) error {
	return create(ctx, r.db, record, "payment")
}

// webhookEventRepository implements the WebhookEventRepository interface
type webhookEventRepository struct {
	db *gorm.DB
}

func (r *webhookEventRepository) CreateIfNotExists(ctx context.Context, event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "gateway"},
			{Name: "event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.WebhookEvent
	if err := r.db.WithContext(ctx).Where("gateway = ? AND event_id = ?", event.Gateway, event.EventID).
		First(&stored).Error; err != nil {
		return false, nil, translate(err, "webhook_event")
	}
	return created, &stored, nil
}

func (r *webhookEventRepository) MarkProcessed(ctx context.Context, id uint, processingError string, at time.Time) error {
	updates := map[string]interface{}{
		"processed_at":     &at,
		"processing_error": processingError,
	}
	return r.db.WithContext(ctx).Model(&models.WebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}
