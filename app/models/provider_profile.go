package models

import "time"

const (
	VerificationPending  = "pending"
	VerificationApproved = "approved"
	VerificationRejected = "rejected"
)

// ProviderProfile describes a tradesperson: what they do and where.
// ServiceAreas mixes canton codes ("ZH") and postal codes ("8001").
type ProviderProfile struct {
	ID                 uint      `gorm:"primaryKey" json:"id"`
	UserID             uint      `gorm:"not null;uniqueIndex" json:"user_id" validate:"required"`
	CompanyName        string    `gorm:"type:varchar(200);default:''" json:"company_name" validate:"max=200"`
	Categories         []string  `gorm:"serializer:json;type:json" json:"categories" validate:"required,min=1,dive,required,max=64"`
	ServiceAreas       []string  `gorm:"serializer:json;type:json" json:"service_areas" validate:"required,min=1,dive,required,max=10"`
	VerificationStatus string    `gorm:"type:varchar(20);not null;default:'pending';index" json:"verification_status" validate:"required,oneof=pending approved rejected"`
	CreatedAt          time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (p *ProviderProfile) Validate() error {
	return validate.Struct(p)
}

func (p *ProviderProfile) IsApproved() bool {
	return p.VerificationStatus == VerificationApproved
}
