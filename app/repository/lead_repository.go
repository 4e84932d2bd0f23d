package repository

import (
	"context"
	"time"

	"github.com/ManuelReschke/LeadHub/app/models"
	"gorm.io/gorm"
)

// leadRepository implements the LeadRepository interface
type leadRepository struct {
	db *gorm.DB
}

func (r *leadRepository) Create(ctx context.Context, lead *models.Lead) error {
	return create(ctx, r.db, lead, "lead")
}

func (r *leadRepository) GetByID(ctx context.Context, id uint) (*models.Lead, error) {
	var lead models.Lead
	if err := r.db.WithContext(ctx).First(&lead, id).Error; err != nil {
		return nil, translate(err, "lead")
	}
	return &lead, nil
}

func (r *leadRepository) TransitionStatus(ctx context.Context, id uint, from, to string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Lead{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	return res.RowsAffected == 1, res.Error
}

// ClaimAcceptedSlot is the single write that decides which proposal wins a
// lead. Concurrent accepts race on the accepted_proposal_id IS NULL guard.
func (r *leadRepository) ClaimAcceptedSlot(ctx context.Context, leadID, proposalID uint) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Lead{}).
		Where("id = ? AND status = ? AND accepted_proposal_id IS NULL", leadID, models.LeadStatusActive).
		Updates(map[string]interface{}{
			"accepted_proposal_id": proposalID,
			"status":               models.LeadStatusCompleted,
		})
	return res.RowsAffected == 1, res.Error
}

func (r *leadRepository) MarkMatched(ctx context.Context, id uint, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.Lead{}).
		Where("id = ?", id).
		Update("matched_at", at).Error
}

func (r *leadRepository) ListActiveDeadlineBefore(ctx context.Context, t time.Time, after LeadCursor, limit int) ([]models.Lead, error) {
	var leads []models.Lead
	err := afterCursor(r.db.WithContext(ctx), after).
		Where("status = ? AND proposal_deadline IS NOT NULL AND proposal_deadline <= ?", models.LeadStatusActive, t).
		Order("proposal_deadline ASC, id ASC").
		Limit(limit).
		Find(&leads).Error
	return leads, err
}

func (r *leadRepository) ListActiveDeadlineBetween(ctx context.Context, from, to time.Time, after LeadCursor, limit int) ([]models.Lead, error) {
	var leads []models.Lead
	err := afterCursor(r.db.WithContext(ctx), after).
		Where("status = ? AND proposal_deadline > ? AND proposal_deadline <= ?", models.LeadStatusActive, from, to).
		Order("proposal_deadline ASC, id ASC").
		Limit(limit).
		Find(&leads).Error
	return leads, err
}

// afterCursor restricts a (proposal_deadline, id) ordered query to the rows
// following c.
func afterCursor(db *gorm.DB, c LeadCursor) *gorm.DB {
	if c.IsZero() {
		return db
	}
	return db.Where("(proposal_deadline > ? OR (proposal_deadline = ? AND id > ?))", c.Deadline, c.Deadline, c.ID)
}

func (r *leadRepository) ListActiveUnmatched(ctx context.Context, limit int) ([]models.Lead, error) {
	var leads []models.Lead
	err := r.db.WithContext(ctx).
		Where("status = ? AND matched_at IS NULL", models.LeadStatusActive).
		Order("id ASC").
		Limit(limit).
		Find(&leads).Error
	return leads, err
}
