package models

import (
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

const (
	PlanFree    = "free"
	PlanPremium = "premium"
	PlanPartner = "partner"
)

const (
	SubscriptionStatusActive         = "active"
	SubscriptionStatusExpired        = "expired"
	SubscriptionStatusCancelled      = "cancelled"
	SubscriptionStatusSuspended      = "suspended"
	SubscriptionStatusPendingPayment = "pending_payment"
)

const (
	BillingCycleMonthly = "monthly"
	BillingCycleYearly  = "yearly"
	BillingCycleOneTime = "one_time"
)

// Subscription is a user's paid entitlement record with a billing period and
// renewal policy. The renewal engine owns transitions of Status and the retry
// bookkeeping fields; amounts are stored in minor units.
type Subscription struct {
	ID                 uint       `gorm:"primaryKey" json:"id"`
	UserID             uint       `gorm:"not null;index" json:"user_id"`
	User               User       `gorm:"foreignKey:UserID" json:"-"`
	PlanType           string     `gorm:"type:varchar(20);not null;default:'free'" json:"plan_type" validate:"oneof=free premium partner"`
	Status             string     `gorm:"type:varchar(32);not null;default:'pending_payment';index:idx_subscriptions_status_renewal,priority:1" json:"status" validate:"oneof=active expired cancelled suspended pending_payment"`
	Amount             int64      `gorm:"not null;default:0" json:"amount"`
	Currency           string     `gorm:"type:varchar(3);not null;default:'VND'" json:"currency"`
	BillingCycle       string     `gorm:"type:varchar(16);not null;default:'monthly'" json:"billing_cycle" validate:"oneof=monthly yearly one_time"`
	CurrentPeriodStart time.Time  `gorm:"type:timestamp;not null" json:"current_period_start"`
	CurrentPeriodEnd   time.Time  `gorm:"type:timestamp;not null" json:"current_period_end"`
	NextBillingDate    *time.Time `gorm:"type:timestamp;default:null;index" json:"next_billing_date,omitempty"`
	AutoRenewal        bool       `gorm:"default:false;index:idx_subscriptions_status_renewal,priority:2" json:"auto_renewal"`
	GracePeriodDays    int        `gorm:"not null;default:3" json:"grace_period_days"`

	// Retry bookkeeping, promoted from the legacy metadata bag to typed
	// columns so the state machine can read/write them without key typos.
	RetryCount                int        `gorm:"not null;default:0" json:"retry_count"`
	NextRetryAt               *time.Time `gorm:"type:timestamp;default:null" json:"next_retry_at,omitempty"`
	LastRenewalError          string     `gorm:"type:varchar(500);default:null" json:"last_renewal_error,omitempty"`
	SuspendedAt               *time.Time `gorm:"type:timestamp;default:null" json:"suspended_at,omitempty"`
	AutoRenewalDisabledReason string     `gorm:"type:varchar(255);default:null" json:"auto_renewal_disabled_reason,omitempty"`

	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (s *Subscription) Validate() error {
	v := validator.New()

	return v.Struct(s)
}

// IsRenewable reports whether the subscription may be picked up by a renewal
// pass at all. The selection query applies the same predicate; this is the
// in-process guard for candidates that changed after selection.
func (s *Subscription) IsRenewable() bool {
	return s.Status == SubscriptionStatusActive &&
		s.AutoRenewal &&
		s.BillingCycle != BillingCycleOneTime
}
