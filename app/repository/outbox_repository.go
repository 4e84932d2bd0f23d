package repository

import (
	"context"
	"time"

	"github.com/ManuelReschke/LeadHub/app/models"
	"github.com/ManuelReschke/LeadHub/internal/pkg/apperror"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// outboxRepository implements the OutboxRepository interface
type outboxRepository struct {
	db *gorm.DB
}

func (r *outboxRepository) Enqueue(ctx context.Context, event *models.OutboxEvent) (bool, error) {
	if err := event.Validate(); err != nil {
		return false, apperror.Validation("invalid_outbox_event", err)
	}
	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(event)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *outboxRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]models.OutboxEvent, error) {
	var events []models.OutboxEvent
	err := r.db.WithContext(ctx).
		Where("status = ? AND next_attempt_at <= ?", models.OutboxStatusPending, now).
		Order("next_attempt_at ASC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

// Claim leases the row by pushing next_attempt_at forward. The attempts
// guard makes a second worker that listed the same row lose the race.
func (r *outboxRepository) Claim(ctx context.Context, id string, seenAttempts int, leaseUntil time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.OutboxEvent{}).
		Where("id = ? AND status = ? AND attempts = ?", id, models.OutboxStatusPending, seenAttempts).
		Updates(map[string]interface{}{
			"attempts":        gorm.Expr("attempts + 1"),
			"next_attempt_at": leaseUntil,
		})
	return res.RowsAffected == 1, res.Error
}

func (r *outboxRepository) MarkSent(ctx context.Context, id string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     models.OutboxStatusSent,
			"sent_at":    at,
			"last_error": "",
		}).Error
}

func (r *outboxRepository) MarkRetry(ctx context.Context, id string, next time.Time, lastError string) error {
	return r.db.WithContext(ctx).Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"next_attempt_at": next,
			"last_error":      lastError,
		}).Error
}

func (r *outboxRepository) MarkDead(ctx context.Context, id string, lastError string) error {
	return r.db.WithContext(ctx).Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     models.OutboxStatusDead,
			"last_error": lastError,
		}).Error
}

func (r *outboxRepository) CountByStatus(ctx context.Context, status string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.OutboxEvent{}).Where("status = ?", status).Count(&n).Error
	return n, err
}

// dispatchLedgerRepository implements the DispatchLedgerRepository interface
type dispatchLedgerRepository struct {
	db *gorm.DB
}

func (r *dispatchLedgerRepository) Record(ctx context.Context, leadID, recipientID uint, kind string) (bool, error) {
	entry := &models.DispatchLedger{LeadID: leadID, RecipientID: recipientID, Kind: kind}
	if err := entry.Validate(); err != nil {
		return false, apperror.Validation("invalid_ledger_entry", err)
	}
	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "lead_id"}, {Name: "recipient_id"}, {Name: "kind"}},
		DoNothing: true,
	}).Create(entry)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *dispatchLedgerRepository) Exists(ctx context.Context, leadID, recipientID uint, kind string) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.DispatchLedger{}).
		Where("lead_id = ? AND recipient_id = ? AND kind = ?", leadID, recipientID, kind).
		Count(&n).Error
	return n > 0, err
}
