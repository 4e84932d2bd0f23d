package repository

import (
	"context"
	"time"

	"github.com/ManuelReschke/LeadHub/app/models"
	"gorm.io/gorm"
)

// accessTokenRepository implements the AccessTokenRepository interface
type accessTokenRepository struct {
	db *gorm.DB
}

func (r *accessTokenRepository) Create(ctx context.Context, token *models.AccessToken) error {
	return create(ctx, r.db, token, "token")
}

func (r *accessTokenRepository) GetByToken(ctx context.Context, token string) (*models.AccessToken, error) {
	var t models.AccessToken
	if err := r.db.WithContext(ctx).Where("token = ?", token).First(&t).Error; err != nil {
		return nil, translate(err, "token")
	}
	return &t, nil
}

func (r *accessTokenRepository) MarkUsed(ctx context.Context, id uint, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.AccessToken{}).
		Where("id = ? AND used_at IS NULL", id).
		Update("used_at", at)
	return res.RowsAffected == 1, res.Error
}

func (r *accessTokenRepository) DeleteExpiredBefore(ctx context.Context, t time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("expires_at < ?", t).Delete(&models.AccessToken{})
	return res.RowsAffected, res.Error
}

// notificationRepository implements the NotificationRepository interface
type notificationRepository struct {
	db *gorm.DB
}

func (r *notificationRepository) Create(ctx context.Context, n *models.Notification) error {
	return create(ctx, r.db, n, "notification")
}

func (r *notificationRepository) ListByUser(ctx context.Context, userID uint, limit int) ([]models.Notification, error) {
	var list []models.Notification
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id DESC").
		Limit(limit).
		Find(&list).Error
	return list, err
}
