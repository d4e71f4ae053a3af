package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	TransactionStatusPending   = "pending"
	TransactionStatusCompleted = "completed"
	TransactionStatusFailed    = "failed"
	TransactionStatusCancelled = "cancelled"
	TransactionStatusRefunded  = "refunded"
)

const (
	TransactionTypeSubscription = "subscription"
	TransactionTypeOneTime      = "one_time"
	TransactionTypeRenewal      = "renewal"
	TransactionTypeUpgrade      = "upgrade"
	TransactionTypeDowngrade    = "downgrade"
)

// PaymentTransaction is one row in the append-only charge ledger. Every
// attempt, successful or not, gets its own row; completed and refunded rows
// are never mutated afterwards (enforced in the repository).
type PaymentTransaction struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	SubscriptionID *uint      `gorm:"index;default:null" json:"subscription_id,omitempty"`
	UserID         uint       `gorm:"not null;index" json:"user_id"`
	Amount         int64      `gorm:"not null" json:"amount"`
	Currency       string     `gorm:"type:varchar(3);not null;default:'VND'" json:"currency"`
	Method         string     `gorm:"type:varchar(32);not null" json:"method"`
	Type           string     `gorm:"type:varchar(20);not null;default:'subscription'" json:"type"`
	Status         string     `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	GatewayTxnRef  string     `gorm:"type:varchar(64);not null;uniqueIndex" json:"gateway_txn_ref"`
	GatewayTxnNo   string     `gorm:"type:varchar(64);default:null" json:"gateway_txn_no,omitempty"`
	RawResponse    string     `gorm:"type:longtext" json:"raw_response,omitempty"`
	PaymentDate    *time.Time `gorm:"type:timestamp;default:null" json:"payment_date,omitempty"`
	FailureReason  string     `gorm:"type:varchar(500);default:null" json:"failure_reason,omitempty"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`
}

// IsFinal reports whether the row reached an immutable state.
func (t *PaymentTransaction) IsFinal() bool {
	return t.Status == TransactionStatusCompleted || t.Status == TransactionStatusRefunded
}
