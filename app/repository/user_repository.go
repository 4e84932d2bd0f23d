package repository

import (
	"context"

	"github.com/ManuelReschke/LeadHub/app/models"
	"gorm.io/gorm"
)

// userRepository implements the UserRepository interface
type userRepository struct {
	db *gorm.DB
}

// Create creates a new user in the database
func (r *userRepository) Create(ctx context.Context, user *models.User) error {
	return create(ctx, r.db, user, "user")
}

// GetByID retrieves a user by their ID
func (r *userRepository) GetByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, translate(err, "user")
	}
	return &user, nil
}

// providerRepository implements the ProviderRepository interface
type providerRepository struct {
	db *gorm.DB
}

func (r *providerRepository) Create(ctx context.Context, profile *models.ProviderProfile) error {
	return create(ctx, r.db, profile, "provider")
}

func (r *providerRepository) GetByID(ctx context.Context, id uint) (*models.ProviderProfile, error) {
	var profile models.ProviderProfile
	if err := r.db.WithContext(ctx).First(&profile, id).Error; err != nil {
		return nil, translate(err, "provider")
	}
	return &profile, nil
}

func (r *providerRepository) GetByUserID(ctx context.Context, userID uint) (*models.ProviderProfile, error) {
	var profile models.ProviderProfile
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&profile).Error; err != nil {
		return nil, translate(err, "provider")
	}
	return &profile, nil
}

// ListApproved returns every verified provider. Category and area filters
// are applied in memory since both live in JSON columns.
func (r *providerRepository) ListApproved(ctx context.Context) ([]models.ProviderProfile, error) {
	var profiles []models.ProviderProfile
	err := r.db.WithContext(ctx).
		Where("verification_status = ?", models.VerificationApproved).
		Order("id ASC").
		Find(&profiles).Error
	return profiles, err
}
