package models

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// PaymentMethod stores a tokenized card reference issued by the payment
// gateway. Sensitive card data never touches this table; only the opaque
// token plus masked display metadata. At most one row per user may be both
// default and active (enforced transactionally in the repository).
type PaymentMethod struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	UserID         uint           `gorm:"not null;index:idx_payment_methods_user_default,priority:1" json:"user_id"`
	SubscriptionID *uint          `gorm:"index;default:null" json:"subscription_id,omitempty"`
	GatewayToken   string         `gorm:"type:varchar(191);not null" json:"-"`
	CardBrand      string         `gorm:"type:varchar(20)" json:"card_brand"`
	CardLast4      string         `gorm:"type:varchar(4)" json:"card_last4"`
	CardExpMonth   int            `json:"card_exp_month"`
	CardExpYear    int            `json:"card_exp_year"`
	IsActive       bool           `gorm:"default:true;index:idx_payment_methods_user_default,priority:3" json:"is_active"`
	IsDefault      bool           `gorm:"default:false;index:idx_payment_methods_user_default,priority:2" json:"is_default"`
	CreatedAt      time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`
}

// MaskedLabel returns a display string like "visa •••• 4242 (12/27)".
func (m *PaymentMethod) MaskedLabel() string {
	return fmt.Sprintf("%s •••• %s (%02d/%02d)", m.CardBrand, m.CardLast4, m.CardExpMonth, m.CardExpYear%100)
}
