package models

import (
	"time"
)

const (
	NotificationNewLead             = "new_lead"
	NotificationLeadLastChance      = "lead_last_chance"
	NotificationProposalReceived    = "proposal_received"
	NotificationProposalAccepted    = "proposal_accepted"
	NotificationProposalRejected    = "proposal_rejected"
	NotificationProposalWithdrawn   = "proposal_withdrawn"
	NotificationLeadExpired         = "lead_expired"
	NotificationDecisionReminder    = "decision_reminder"
	NotificationPaymentConfirmed    = "payment_confirmed"
	NotificationPaymentFailed       = "payment_failed"
	NotificationSubscriptionExpired = "subscription_expired"
)

// Notification is an in-app message. Written once; reading and dismissing
// happen in the client application.
type Notification struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	UserID    uint           `gorm:"not null;index" json:"user_id" validate:"required"`
	Type      string         `gorm:"type:varchar(50);not null" json:"type" validate:"required,max=50"`
	Title     string         `gorm:"type:varchar(200);not null" json:"title" validate:"required,max=200"`
	Message   string         `gorm:"type:text" json:"message" validate:"max=5000"`
	RelatedID *uint          `gorm:"default:null" json:"related_id,omitempty"`
	Metadata  map[string]any `gorm:"serializer:json;type:json" json:"metadata,omitempty"`
	IsRead    bool           `gorm:"default:false" json:"is_read"`
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
}

func (n *Notification) Validate() error {
	return validate.Struct(n)
}
