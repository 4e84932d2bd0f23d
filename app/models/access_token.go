package models

import "time"

const (
	TokenResourceLead         = "lead"
	TokenResourceProposal     = "proposal"
	TokenResourceDashboard    = "dashboard"
	TokenResourceConversation = "conversation"
	TokenResourceRating       = "rating"
)

// AccessToken is an opaque, expiring, resource-scoped credential carried in
// email deep links.
type AccessToken struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	Token        string         `gorm:"type:varchar(64);not null;uniqueIndex" json:"-" validate:"required,min=32,max=64"`
	UserID       uint           `gorm:"not null;index" json:"user_id" validate:"required"`
	ResourceType string         `gorm:"type:varchar(20);not null" json:"resource_type" validate:"required,oneof=lead proposal dashboard conversation rating"`
	ResourceID   *uint          `gorm:"default:null" json:"resource_id,omitempty"`
	ExpiresAt    time.Time      `gorm:"type:timestamp;not null;index" json:"expires_at" validate:"required"`
	Metadata     map[string]any `gorm:"serializer:json;type:json" json:"metadata,omitempty"`
	UsedAt       *time.Time     `gorm:"type:timestamp;default:null" json:"used_at,omitempty"`
	CreatedAt    time.Time      `gorm:"autoCreateTime" json:"created_at"`
}

func (t *AccessToken) Validate() error {
	return validate.Struct(t)
}

// IsExpired reports whether the token is no longer valid at now.
func (t *AccessToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
