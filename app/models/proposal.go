package models

import "time"

const (
	ProposalStatusPending   = "pending"
	ProposalStatusAccepted  = "accepted"
	ProposalStatusRejected  = "rejected"
	ProposalStatusWithdrawn = "withdrawn"
)

// Proposal is a provider's bid on a lead. A provider bids at most once per
// lead; only one proposal per lead can ever be accepted.
type Proposal struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	LeadID         uint       `gorm:"not null;uniqueIndex:ux_proposals_lead_provider,priority:1;index:idx_proposals_lead_status,priority:1" json:"lead_id" validate:"required"`
	ProviderID     uint       `gorm:"not null;uniqueIndex:ux_proposals_lead_provider,priority:2" json:"provider_id" validate:"required"`
	ProviderUserID uint       `gorm:"not null;index" json:"provider_user_id" validate:"required"`
	PriceMin       int64      `gorm:"default:0" json:"price_min" validate:"gte=0"`
	PriceMax       int64      `gorm:"default:0" json:"price_max" validate:"gte=0,gtefield=PriceMin"`
	Message        string     `gorm:"type:text" json:"message" validate:"max=5000"`
	Timeline       string     `gorm:"type:varchar(200);default:''" json:"timeline" validate:"max=200"`
	Status         string     `gorm:"type:varchar(20);not null;default:'pending';index:idx_proposals_lead_status,priority:2" json:"status" validate:"required,oneof=pending accepted rejected withdrawn"`
	DecidedAt      *time.Time `gorm:"type:timestamp;default:null" json:"decided_at,omitempty"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (p *Proposal) Validate() error {
	return validate.Struct(p)
}

func (p *Proposal) IsPending() bool {
	return p.Status == ProposalStatusPending
}
