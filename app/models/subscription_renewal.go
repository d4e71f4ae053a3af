package models

import "time"

// SubscriptionRenewal is the audit row written for every successful period
// extension. The new period end is always derived from the previous period
// end, never from the wall clock, so late-running passes do not drift the
// billing anchor.
type SubscriptionRenewal struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	SubscriptionID uint      `gorm:"not null;index" json:"subscription_id"`
	OldPeriodEnd   time.Time `gorm:"type:timestamp;not null" json:"old_period_end"`
	NewPeriodEnd   time.Time `gorm:"type:timestamp;not null" json:"new_period_end"`
	TransactionID  *uint     `gorm:"index;default:null" json:"transaction_id,omitempty"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
}
