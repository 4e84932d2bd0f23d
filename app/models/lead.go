package models

import "time"

const (
	LeadStatusDraft     = "draft"
	LeadStatusActive    = "active"
	LeadStatusExpired   = "expired"
	LeadStatusCompleted = "completed"
	LeadStatusCancelled = "cancelled"
)

const (
	UrgencyFlexible = "flexible"
	UrgencyNormal   = "normal"
	UrgencyUrgent   = "urgent"
)

// Lead is a service request posted by a property owner.
type Lead struct {
	ID                 uint       `gorm:"primaryKey" json:"id"`
	OwnerID            uint       `gorm:"not null;index" json:"owner_id" validate:"required"`
	Title              string     `gorm:"type:varchar(200);default:''" json:"title" validate:"max=200"`
	Description        string     `gorm:"type:text" json:"description" validate:"max=10000"`
	Category           string     `gorm:"type:varchar(64);not null;index" json:"category" validate:"required,max=64"`
	Canton             string     `gorm:"type:char(2);not null;index" json:"canton" validate:"required,len=2,alpha"`
	PostalCode         string     `gorm:"type:varchar(10);default:'';index" json:"postal_code" validate:"omitempty,numeric,len=4"`
	BudgetMin          int64      `gorm:"default:0" json:"budget_min" validate:"gte=0"`
	BudgetMax          int64      `gorm:"default:0" json:"budget_max" validate:"gte=0"`
	Urgency            string     `gorm:"type:varchar(20);default:'normal'" json:"urgency" validate:"omitempty,oneof=flexible normal urgent"`
	Status             string     `gorm:"type:varchar(20);not null;default:'draft';index:idx_leads_status_deadline,priority:1" json:"status" validate:"required,oneof=draft active expired completed cancelled"`
	ProposalDeadline   *time.Time `gorm:"type:timestamp;default:null;index:idx_leads_status_deadline,priority:2" json:"proposal_deadline,omitempty"`
	AcceptedProposalID *uint      `gorm:"default:null" json:"accepted_proposal_id,omitempty"`
	MatchedAt          *time.Time `gorm:"type:timestamp;default:null" json:"matched_at,omitempty"`
	CreatedAt          time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (l *Lead) Validate() error {
	return validate.Struct(l)
}

// IsOpen reports whether the lead still accepts proposals at t.
func (l *Lead) IsOpen(t time.Time) bool {
	return l.Status == LeadStatusActive && l.ProposalDeadline != nil && t.Before(*l.ProposalDeadline)
}
