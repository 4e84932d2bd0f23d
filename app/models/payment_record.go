package models

import "time"

const (
	PaymentStatusPaid   = "paid"
	PaymentStatusFailed = "failed"
)

// PaymentRecord stores the outcome of one gateway transaction. The external
// transaction id is unique and serves as the webhook idempotency key.
type PaymentRecord struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	UserID        uint       `gorm:"not null;index" json:"user_id" validate:"required"`
	TransactionID string     `gorm:"type:varchar(191);not null;uniqueIndex" json:"transaction_id" validate:"required,max=191"`
	PlanType      string     `gorm:"type:varchar(20);not null" json:"plan_type" validate:"required,oneof=monthly 6_month annual"`
	Amount        int64      `gorm:"not null" json:"amount" validate:"gte=0"`
	Currency      string     `gorm:"type:char(3);not null" json:"currency" validate:"required,len=3,uppercase"`
	Status        string     `gorm:"type:varchar(20);not null;index" json:"status" validate:"required,oneof=paid failed"`
	PaidAt        *time.Time `gorm:"type:timestamp;default:null" json:"paid_at,omitempty"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

func (p *PaymentRecord) Validate() error {
	return validate.Struct(p)
}
