package billing

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/memberloop/memberpay/app/models"
	"gorm.io/gorm"
)

var (
	// ErrTransactionFinal is returned when a caller tries to mutate a ledger
	// row that already reached completed or refunded state.
	ErrTransactionFinal = errors.New("billing: transaction is final and immutable")
	// ErrNotRenewable is returned by CreateSubscriptionRenewal for one_time
	// subscriptions, which have no next period to extend into.
	ErrNotRenewable = errors.New("billing: subscription billing cycle is not renewable")
)

// Repository is the data-access contract the renewal engine depends on. It
// covers subscription CRUD, the append-only payment ledger and tokenized
// payment methods. All methods return plain errors; callers decide whether an
// error aborts a whole pass or just one candidate.
type Repository interface {
	CreateSubscription(sub *models.Subscription) error
	UpdateSubscription(sub *models.Subscription) error
	CancelSubscription(subscriptionID uint) error
	GetSubscriptionByID(subscriptionID uint) (*models.Subscription, error)
	GetSubscriptionsForRenewal(daysAhead int) ([]models.Subscription, error)
	CreateSubscriptionRenewal(subscriptionID uint, transactionID *uint) (*models.SubscriptionRenewal, error)
	SetAutoRenewal(subscriptionID uint, enabled bool, reason string) error
	ResetRetryState(subscriptionID uint) error
	ScheduleRetry(subscriptionID uint, retryCount int, nextRetryAt time.Time, reason string) error
	SuspendSubscription(subscriptionID uint, reason string) error

	CreateTransaction(txn *models.PaymentTransaction) error
	UpdateTransactionStatus(transactionID uint, status string, gatewayTxnNo string, rawResponse string, failureReason string) error
	GetTransactionByRef(gatewayTxnRef string) (*models.PaymentTransaction, error)

	SavePaymentMethod(method *models.PaymentMethod) error
	GetDefaultPaymentMethod(userID uint) (*models.PaymentMethod, error)
	DeactivatePaymentMethod(paymentMethodID uint) error

	FindOrphanedRenewals(olderThan time.Time) ([]models.PaymentTransaction, error)
	RepairOrphanedRenewal(transactionID uint) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a subscription store backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) CreateSubscription(sub *models.Subscription) error {
	return r.db.Create(sub).Error
}

func (r *gormRepository) UpdateSubscription(sub *models.Subscription) error {
	return r.db.Save(sub).Error
}

func (r *gormRepository) CancelSubscription(subscriptionID uint) error {
	return r.db.Model(&models.Subscription{}).
		Where("id = ?", subscriptionID).
		Updates(map[string]interface{}{
			"status":       models.SubscriptionStatusCancelled,
			"auto_renewal": false,
		}).Error
}

func (r *gormRepository) GetSubscriptionByID(subscriptionID uint) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.First(&sub, subscriptionID).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

// GetSubscriptionsForRenewal selects the candidates for one renewal pass:
// active, auto-renewing, periodically billed, due within daysAhead, and not
// inside a retry back-off window.
func (r *gormRepository) GetSubscriptionsForRenewal(daysAhead int) ([]models.Subscription, error) {
	now := time.Now()
	cutoff := now.AddDate(0, 0, daysAhead)

	var subs []models.Subscription
	err := r.db.
		Where("status = ? AND auto_renewal = ? AND billing_cycle <> ?",
			models.SubscriptionStatusActive, true, models.BillingCycleOneTime).
		Where("next_billing_date IS NOT NULL AND next_billing_date <= ?", cutoff).
		Where("next_retry_at IS NULL OR next_retry_at <= ?", now).
		Find(&subs).Error
	if err != nil {
		return nil, err
	}
	return subs, nil
}

// CreateSubscriptionRenewal extends the subscription by one billing period.
// The new period end is computed from the current period end, not from the
// wall clock, so a pass that runs late does not shift the billing anchor.
// The audit row and the subscription update commit in one DB transaction.
func (r *gormRepository) CreateSubscriptionRenewal(subscriptionID uint, transactionID *uint) (*models.SubscriptionRenewal, error) {
	var renewal *models.SubscriptionRenewal

	err := r.db.Transaction(func(tx *gorm.DB) error {
		var sub models.Subscription
		if err := tx.First(&sub, subscriptionID).Error; err != nil {
			return err
		}
		if sub.BillingCycle == models.BillingCycleOneTime {
			return ErrNotRenewable
		}

		oldEnd := sub.CurrentPeriodEnd
		newEnd := AddBillingPeriod(oldEnd, sub.BillingCycle)
		nextBilling := newEnd

		updates := map[string]interface{}{
			"current_period_start": oldEnd,
			"current_period_end":   newEnd,
			"next_billing_date":    nextBilling,
			"status":               models.SubscriptionStatusActive,
		}
		if err := tx.Model(&models.Subscription{}).Where("id = ?", sub.ID).Updates(updates).Error; err != nil {
			return err
		}

		renewal = &models.SubscriptionRenewal{
			SubscriptionID: sub.ID,
			OldPeriodEnd:   oldEnd,
			NewPeriodEnd:   newEnd,
			TransactionID:  transactionID,
		}
		return tx.Create(renewal).Error
	})
	if err != nil {
		return nil, err
	}
	return renewal, nil
}

func (r *gormRepository) SetAutoRenewal(subscriptionID uint, enabled bool, reason string) error {
	updates := map[string]interface{}{
		"auto_renewal":                 enabled,
		"auto_renewal_disabled_reason": reason,
	}
	if enabled {
		updates["auto_renewal_disabled_reason"] = ""
	}
	return r.db.Model(&models.Subscription{}).
		Where("id = ?", subscriptionID).
		Updates(updates).Error
}

// ResetRetryState clears the retry bookkeeping after a successful renewal.
// Targeted update on purpose: the period fields may have just been extended
// and must not be overwritten from a stale in-memory copy.
func (r *gormRepository) ResetRetryState(subscriptionID uint) error {
	return r.db.Model(&models.Subscription{}).
		Where("id = ?", subscriptionID).
		Updates(map[string]interface{}{
			"retry_count":        0,
			"next_retry_at":      nil,
			"last_renewal_error": "",
		}).Error
}

// ScheduleRetry stamps the back-off window after a failed charge. Status and
// auto_renewal stay untouched so the next pass can retry.
func (r *gormRepository) ScheduleRetry(subscriptionID uint, retryCount int, nextRetryAt time.Time, reason string) error {
	return r.db.Model(&models.Subscription{}).
		Where("id = ?", subscriptionID).
		Updates(map[string]interface{}{
			"retry_count":        retryCount,
			"next_retry_at":      nextRetryAt,
			"last_renewal_error": reason,
		}).Error
}

// SuspendSubscription is the terminal escalation after exhausted retries.
func (r *gormRepository) SuspendSubscription(subscriptionID uint, reason string) error {
	now := time.Now()
	return r.db.Model(&models.Subscription{}).
		Where("id = ?", subscriptionID).
		Updates(map[string]interface{}{
			"status":                       models.SubscriptionStatusSuspended,
			"auto_renewal":                 false,
			"suspended_at":                 now,
			"last_renewal_error":           reason,
			"auto_renewal_disabled_reason": "renewal retries exhausted",
		}).Error
}

func (r *gormRepository) CreateTransaction(txn *models.PaymentTransaction) error {
	if txn.GatewayTxnRef == "" {
		txn.GatewayTxnRef = uuid.NewString()
	}
	return r.db.Create(txn).Error
}

// UpdateTransactionStatus mutates a ledger row unless it already reached a
// final state. Failed renewal attempts get fresh rows instead; this method
// exists for the pending -> completed/failed transition of redirect payments.
func (r *gormRepository) UpdateTransactionStatus(transactionID uint, status string, gatewayTxnNo string, rawResponse string, failureReason string) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		var txn models.PaymentTransaction
		if err := tx.First(&txn, transactionID).Error; err != nil {
			return err
		}
		if txn.IsFinal() {
			return fmt.Errorf("%w: id=%d status=%s", ErrTransactionFinal, txn.ID, txn.Status)
		}

		updates := map[string]interface{}{
			"status":         status,
			"failure_reason": failureReason,
		}
		if gatewayTxnNo != "" {
			updates["gateway_txn_no"] = gatewayTxnNo
		}
		if rawResponse != "" {
			updates["raw_response"] = rawResponse
		}
		if status == models.TransactionStatusCompleted {
			now := time.Now()
			updates["payment_date"] = &now
		}
		return tx.Model(&txn).Updates(updates).Error
	})
}

func (r *gormRepository) GetTransactionByRef(gatewayTxnRef string) (*models.PaymentTransaction, error) {
	var txn models.PaymentTransaction
	if err := r.db.Where("gateway_txn_ref = ?", gatewayTxnRef).First(&txn).Error; err != nil {
		return nil, err
	}
	return &txn, nil
}

// SavePaymentMethod persists a payment method. When the new method is marked
// default, the previous default of the same user is unset in the same DB
// transaction so the single-default invariant holds at every commit point.
func (r *gormRepository) SavePaymentMethod(method *models.PaymentMethod) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if method.IsDefault {
			if err := tx.Model(&models.PaymentMethod{}).
				Where("user_id = ? AND is_default = ? AND id <> ?", method.UserID, true, method.ID).
				Update("is_default", false).Error; err != nil {
				return err
			}
		}
		return tx.Save(method).Error
	})
}

func (r *gormRepository) GetDefaultPaymentMethod(userID uint) (*models.PaymentMethod, error) {
	var method models.PaymentMethod
	err := r.db.
		Where("user_id = ? AND is_default = ? AND is_active = ?", userID, true, true).
		First(&method).Error
	if err != nil {
		return nil, err
	}
	return &method, nil
}

func (r *gormRepository) DeactivatePaymentMethod(paymentMethodID uint) error {
	return r.db.Model(&models.PaymentMethod{}).
		Where("id = ?", paymentMethodID).
		Updates(map[string]interface{}{
			"is_active":  false,
			"is_default": false,
		}).Error
}

// FindOrphanedRenewals returns completed renewal ledger rows whose
// subscription period was never extended past the payment date. A crash
// between the ledger write and the period extension leaves exactly this
// shape behind.
func (r *gormRepository) FindOrphanedRenewals(olderThan time.Time) ([]models.PaymentTransaction, error) {
	var txns []models.PaymentTransaction
	err := r.db.
		Joins("JOIN subscriptions ON subscriptions.id = payment_transactions.subscription_id").
		Where("payment_transactions.type = ? AND payment_transactions.status = ?",
			models.TransactionTypeRenewal, models.TransactionStatusCompleted).
		Where("payment_transactions.payment_date IS NOT NULL AND payment_transactions.payment_date < ?", olderThan).
		Where("subscriptions.current_period_end < payment_transactions.payment_date").
		Find(&txns).Error
	if err != nil {
		return nil, err
	}
	return txns, nil
}

// RepairOrphanedRenewal re-applies the period extension a completed ledger
// row already paid for.
func (r *gormRepository) RepairOrphanedRenewal(transactionID uint) error {
	var txn models.PaymentTransaction
	if err := r.db.First(&txn, transactionID).Error; err != nil {
		return err
	}
	if txn.SubscriptionID == nil {
		return fmt.Errorf("billing: transaction %d has no subscription", transactionID)
	}
	_, err := r.CreateSubscriptionRenewal(*txn.SubscriptionID, &txn.ID)
	return err
}
