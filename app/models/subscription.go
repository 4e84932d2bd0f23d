package models

import "time"

const (
	PlanFree     = "free"
	PlanMonthly  = "monthly"
	PlanSixMonth = "6_month"
	PlanAnnual   = "annual"
)

const (
	SubscriptionStatusActive    = "active"
	SubscriptionStatusExpired   = "expired"
	SubscriptionStatusCancelled = "cancelled"
)

const (
	UnlimitedProposals = -1
	FreeProposalsLimit = 3
)

// Subscription is the single plan row of a user. Paid plans grant unlimited
// proposals; the free plan a small monthly quota.
type Subscription struct {
	ID                      uint       `gorm:"primaryKey" json:"id"`
	UserID                  uint       `gorm:"not null;uniqueIndex" json:"user_id" validate:"required"`
	PlanType                string     `gorm:"type:varchar(20);not null;default:'free';index" json:"plan_type" validate:"required,oneof=free monthly 6_month annual"`
	Status                  string     `gorm:"type:varchar(20);not null;default:'active';index" json:"status" validate:"required,oneof=active expired cancelled"`
	ProposalsLimit          int        `gorm:"not null;default:3" json:"proposals_limit" validate:"gte=-1"`
	ProposalsUsedThisPeriod int        `gorm:"not null;default:0" json:"proposals_used_this_period" validate:"gte=0"`
	CurrentPeriodStart      *time.Time `gorm:"type:timestamp;default:null" json:"current_period_start,omitempty"`
	CurrentPeriodEnd        *time.Time `gorm:"type:timestamp;default:null;index" json:"current_period_end,omitempty"`
	PendingPlan             *string    `gorm:"type:varchar(20);default:null" json:"pending_plan,omitempty" validate:"omitempty,oneof=monthly 6_month annual"`
	CreatedAt               time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt               time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (s *Subscription) Validate() error {
	return validate.Struct(s)
}

// IsPaidActive reports whether the user currently holds an active non-free plan.
func (s *Subscription) IsPaidActive(now time.Time) bool {
	if s.PlanType == PlanFree || s.Status != SubscriptionStatusActive {
		return false
	}
	return s.CurrentPeriodEnd == nil || now.Before(*s.CurrentPeriodEnd)
}

// HasQuota reports whether another proposal may be submitted this period.
func (s *Subscription) HasQuota() bool {
	return s.ProposalsLimit == UnlimitedProposals || s.ProposalsUsedThisPeriod < s.ProposalsLimit
}

// ApplyFreeTier resets the row to the free plan starting at now.
func (s *Subscription) ApplyFreeTier(now time.Time) {
	end := now.AddDate(0, 1, 0)
	s.PlanType = PlanFree
	s.Status = SubscriptionStatusActive
	s.ProposalsLimit = FreeProposalsLimit
	s.ProposalsUsedThisPeriod = 0
	s.CurrentPeriodStart = &now
	s.CurrentPeriodEnd = &end
	s.PendingPlan = nil
}

// NewFreeSubscription returns the default row created for a new user.
func NewFreeSubscription(userID uint, now time.Time) *Subscription {
	s := &Subscription{UserID: userID}
	s.ApplyFreeTier(now)
	return s
}
