package models

import "time"

// WebhookEvent stores gateway callbacks with deduplication metadata. It is
// an audit trail; idempotency of the subscription effect rests on
// PaymentRecord.TransactionID.
type WebhookEvent struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	Gateway         string     `gorm:"type:varchar(20);not null;index:ux_webhook_events_gateway_event,unique,priority:1" json:"gateway" validate:"required,max=20"`
	EventID         string     `gorm:"type:varchar(191);not null;index:ux_webhook_events_gateway_event,unique,priority:2" json:"event_id" validate:"required,max=191"`
	EventType       string     `gorm:"type:varchar(50);not null;index" json:"event_type" validate:"max=50"`
	PayloadJSON     string     `gorm:"type:longtext;not null" json:"payload_json"`
	SignatureValid  bool       `gorm:"default:false;index" json:"signature_valid"`
	ProcessedAt     *time.Time `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	ProcessingError string     `gorm:"type:text" json:"processing_error"`
	CreatedAt       time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (e *WebhookEvent) Validate() error {
	return validate.Struct(e)
}
