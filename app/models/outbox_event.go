package models

import "time"

const OutboxKindEmail = "email"

const (
	OutboxStatusPending = "pending"
	OutboxStatusSent    = "sent"
	OutboxStatusDead    = "dead"
)

// OutboxEvent is an outbound message persisted in the same transaction as
// the state change that caused it. A delivery worker drains pending rows.
type OutboxEvent struct {
	ID            string     `gorm:"type:char(36);primaryKey" json:"id" validate:"required,uuid"`
	Kind          string     `gorm:"type:varchar(20);not null" json:"kind" validate:"required,oneof=email"`
	Recipient     string     `gorm:"type:varchar(191);not null" json:"recipient" validate:"required,email"`
	Subject       string     `gorm:"type:varchar(255);not null" json:"subject" validate:"required,max=255"`
	Body          string     `gorm:"type:longtext" json:"body"`
	DedupeKey     *string    `gorm:"type:varchar(191);uniqueIndex" json:"dedupe_key,omitempty" validate:"omitempty,max=191"`
	Status        string     `gorm:"type:varchar(20);not null;default:'pending';index:idx_outbox_status_next,priority:1" json:"status" validate:"required,oneof=pending sent dead"`
	Attempts      int        `gorm:"not null;default:0" json:"attempts" validate:"gte=0"`
	NextAttemptAt time.Time  `gorm:"type:timestamp;not null;index:idx_outbox_status_next,priority:2" json:"next_attempt_at"`
	LastError     string     `gorm:"type:text" json:"last_error"`
	SentAt        *time.Time `gorm:"type:timestamp;default:null" json:"sent_at,omitempty"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (e *OutboxEvent) Validate() error {
	return validate.Struct(e)
}
