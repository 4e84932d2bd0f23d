package models

import "time"

const (
	ROLE_OWNER    = "owner"
	ROLE_PROVIDER = "provider"
	ROLE_ADMIN    = "admin"
)

// User holds the identity and the contact details that stay hidden from the
// other side of a deal until a proposal is accepted.
type User struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"type:varchar(150)" json:"name" validate:"max=150"`
	Email     string    `gorm:"uniqueIndex;type:varchar(191);not null" json:"email" validate:"required,email,max=191"`
	Phone     string    `gorm:"type:varchar(40);default:''" json:"phone" validate:"max=40"`
	Role      string    `gorm:"type:varchar(20);not null;default:'owner'" json:"role" validate:"oneof=owner provider admin"`
	Locale    string    `gorm:"type:varchar(5);not null;default:'de'" json:"locale" validate:"omitempty,oneof=de fr it en"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (u *User) Validate() error {
	return validate.Struct(u)
}
