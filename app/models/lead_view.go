package models

import "time"

// LeadView records that a provider opened a lead. Used by the reminder pass
// to find providers who looked but never bid.
type LeadView struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	LeadID         uint      `gorm:"not null;uniqueIndex:ux_lead_views_lead_provider,priority:1" json:"lead_id" validate:"required"`
	ProviderID     uint      `gorm:"not null;uniqueIndex:ux_lead_views_lead_provider,priority:2" json:"provider_id" validate:"required"`
	ProviderUserID uint      `gorm:"not null" json:"provider_user_id" validate:"required"`
	ViewedAt       time.Time `gorm:"type:timestamp;not null" json:"viewed_at" validate:"required"`
}

func (v *LeadView) Validate() error {
	return validate.Struct(v)
}
