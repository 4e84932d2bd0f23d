package models

import "time"

// Conversation links owner and provider once a proposal is accepted. Its
// existence is what makes the contact details of both parties visible.
type Conversation struct {
	ID                 string     `gorm:"type:char(36);primaryKey" json:"id" validate:"required,uuid"`
	LeadID             uint       `gorm:"not null;index" json:"lead_id" validate:"required"`
	ProposalID         uint       `gorm:"not null;uniqueIndex" json:"proposal_id" validate:"required"`
	OwnerID            uint       `gorm:"not null;index" json:"owner_id" validate:"required"`
	ProviderUserID     uint       `gorm:"not null;index" json:"provider_user_id" validate:"required"`
	ContactsRevealedAt *time.Time `gorm:"type:timestamp;default:null" json:"contacts_revealed_at,omitempty"`
	CreatedAt          time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

func (c *Conversation) Validate() error {
	return validate.Struct(c)
}

// HasParticipant reports whether userID is the owner or the provider.
func (c *Conversation) HasParticipant(userID uint) bool {
	return userID != 0 && (userID == c.OwnerID || userID == c.ProviderUserID)
}
