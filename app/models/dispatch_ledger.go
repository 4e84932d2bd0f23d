package models

import "time"

const (
	LedgerNewLead               = "new_lead"
	LedgerOwnerDecisionReminder = "owner_decision_reminder"
	LedgerProviderLastChance    = "provider_last_chance"
	LedgerLeadExpired           = "lead_expired"
)

// DispatchLedger marks a notification as sent for (lead, recipient, kind)
// so re-running a sweep never notifies the same person twice.
type DispatchLedger struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	LeadID      uint      `gorm:"not null;uniqueIndex:ux_dispatch_ledger,priority:1" json:"lead_id" validate:"required"`
	RecipientID uint      `gorm:"not null;uniqueIndex:ux_dispatch_ledger,priority:2" json:"recipient_id" validate:"required"`
	Kind        string    `gorm:"type:varchar(40);not null;uniqueIndex:ux_dispatch_ledger,priority:3" json:"kind" validate:"required,oneof=new_lead owner_decision_reminder provider_last_chance lead_expired"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (d *DispatchLedger) Validate() error {
	return validate.Struct(d)
}
