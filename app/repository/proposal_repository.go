package repository

import (
	"context"
	"time"

	"github.com/ManuelReschke/LeadHub/app/models"
	"github.com/ManuelReschke/LeadHub/internal/pkg/apperror"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// proposalRepository implements the ProposalRepository interface
type proposalRepository struct {
	db *gorm.DB
}

func (r *proposalRepository) Create(ctx context.Context, proposal *models.Proposal) error {
	return create(ctx, r.db, proposal, "proposal")
}

func (r *proposalRepository) GetByID(ctx context.Context, id uint) (*models.Proposal, error) {
	var proposal models.Proposal
	if err := r.db.WithContext(ctx).First(&proposal, id).Error; err != nil {
		return nil, translate(err, "proposal")
	}
	return &proposal, nil
}

func (r *proposalRepository) ListByLead(ctx context.Context, leadID uint) ([]models.Proposal, error) {
	var proposals []models.Proposal
	err := r.db.WithContext(ctx).Where("lead_id = ?", leadID).Order("id ASC").Find(&proposals).Error
	return proposals, err
}

func (r *proposalRepository) ListPendingByLeads(ctx context.Context, leadIDs []uint) ([]models.Proposal, error) {
	var proposals []models.Proposal
	if len(leadIDs) == 0 {
		return proposals, nil
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("lead_id IN ? AND status = ?", leadIDs, models.ProposalStatusPending).
		Order("id ASC").
		Find(&proposals).Error
	return proposals, err
}

func (r *proposalRepository) CountPendingByLead(ctx context.Context, leadID uint) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.Proposal{}).
		Where("lead_id = ? AND status = ?", leadID, models.ProposalStatusPending).
		Count(&n).Error
	return n, err
}

func (r *proposalRepository) TransitionStatus(ctx context.Context, id uint, from, to string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Proposal{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]interface{}{
			"status":     to,
			"decided_at": at,
		})
	return res.RowsAffected == 1, res.Error
}

func (r *proposalRepository) WithdrawPendingByLeads(ctx context.Context, leadIDs []uint, at time.Time) (int64, error) {
	if len(leadIDs) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).Model(&models.Proposal{}).
		Where("lead_id IN ? AND status = ?", leadIDs, models.ProposalStatusPending).
		Updates(map[string]interface{}{
			"status":     models.ProposalStatusWithdrawn,
			"decided_at": at,
		})
	return res.RowsAffected, res.Error
}

// conversationRepository implements the ConversationRepository interface
type conversationRepository struct {
	db *gorm.DB
}

func (r *conversationRepository) Create(ctx context.Context, conv *models.Conversation) error {
	return create(ctx, r.db, conv, "conversation")
}

func (r *conversationRepository) GetByProposalID(ctx context.Context, proposalID uint) (*models.Conversation, error) {
	var conv models.Conversation
	if err := r.db.WithContext(ctx).Where("proposal_id = ?", proposalID).First(&conv).Error; err != nil {
		return nil, translate(err, "conversation")
	}
	return &conv, nil
}

// leadViewRepository implements the LeadViewRepository interface
type leadViewRepository struct {
	db *gorm.DB
}

func (r *leadViewRepository) Record(ctx context.Context, view *models.LeadView) error {
	if err := view.Validate(); err != nil {
		return apperror.Validation("invalid_lead_view", err)
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "lead_id"}, {Name: "provider_id"}},
		DoNothing: true,
	}).Create(view).Error
}

func (r *leadViewRepository) ListByLead(ctx context.Context, leadID uint) ([]models.LeadView, error) {
	var views []models.LeadView
	err := r.db.WithContext(ctx).Where("lead_id = ?", leadID).Order("id ASC").Find(&views).Error
	return views, err
}
