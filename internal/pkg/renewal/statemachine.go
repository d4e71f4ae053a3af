package renewal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/memberloop/memberpay/app/models"
	"github.com/memberloop/memberpay/internal/pkg/metrics/counter"
)

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeRenewed
	outcomeRetryScheduled
	outcomeSuspended
	outcomeFailed
)

const reasonNoPaymentMethod = "no active default payment method"

// renewSubscription runs the eligible -> charging -> {renewed |
// retry-scheduled | suspended} step for one candidate. Errors are appended
// to the pass result; nothing here may abort the surrounding loop.
func (j *Job) renewSubscription(ctx context.Context, sub *models.Subscription, cfg Config, result *Result) outcome {
	// Eligibility guard. Candidates come pre-filtered from the store, but a
	// subscription can change between selection and processing.
	if !sub.IsRenewable() {
		log.Debugf("[RenewalJob] Skipping subscription %d (status=%s auto_renewal=%t cycle=%s)",
			sub.ID, sub.Status, sub.AutoRenewal, sub.BillingCycle)
		return outcomeSkipped
	}

	// Payment method guard. Auto-renewal without a chargeable method is an
	// invariant violation; self-heal by clearing the flag instead of failing
	// the same way every pass.
	method, err := j.repo.GetDefaultPaymentMethod(sub.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if err := j.repo.SetAutoRenewal(sub.ID, false, reasonNoPaymentMethod); err != nil {
				result.Errors = append(result.Errors,
					fmt.Sprintf("subscription %d: disable auto-renewal failed: %v", sub.ID, err))
			}
			log.Infof("[RenewalJob] Subscription %d has no payment method, auto-renewal disabled", sub.ID)
			result.Errors = append(result.Errors,
				fmt.Sprintf("subscription %d: %s", sub.ID, reasonNoPaymentMethod))
			return outcomeFailed
		}
		result.Errors = append(result.Errors,
			fmt.Sprintf("subscription %d: payment method lookup failed: %v", sub.ID, err))
		return outcomeFailed
	}

	chargeCtx, cancel := context.WithTimeout(ctx, cfg.ChargeTimeout)
	res := j.charger.Charge(chargeCtx, method.GatewayToken, sub.Amount)
	cancel()

	if res.Success {
		return j.completeRenewal(sub, method, res.TransactionID, result)
	}
	return j.handleChargeFailure(sub, method, res.Error, res.TokenInvalid, cfg, result)
}

func (j *Job) completeRenewal(sub *models.Subscription, method *models.PaymentMethod, gatewayTxnNo string, result *Result) outcome {
	now := time.Now()
	txn := &models.PaymentTransaction{
		SubscriptionID: &sub.ID,
		UserID:         sub.UserID,
		Amount:         sub.Amount,
		Currency:       sub.Currency,
		Method:         method.MaskedLabel(),
		Type:           models.TransactionTypeRenewal,
		Status:         models.TransactionStatusCompleted,
		GatewayTxnNo:   gatewayTxnNo,
		PaymentDate:    &now,
	}
	if err := j.repo.CreateTransaction(txn); err != nil {
		result.Errors = append(result.Errors,
			fmt.Sprintf("subscription %d: ledger write failed after successful charge: %v", sub.ID, err))
		return outcomeFailed
	}

	if _, err := j.repo.CreateSubscriptionRenewal(sub.ID, &txn.ID); err != nil {
		// The charge went through and is on the ledger; the reconciliation
		// pass will pick the orphaned row up and extend the period.
		result.Errors = append(result.Errors,
			fmt.Sprintf("subscription %d: period extension failed: %v", sub.ID, err))
		return outcomeFailed
	}

	if err := j.repo.ResetRetryState(sub.ID); err != nil {
		result.Errors = append(result.Errors,
			fmt.Sprintf("subscription %d: retry counter reset failed: %v", sub.ID, err))
	}

	log.Infof("[RenewalJob] Renewed subscription %d for user %d (txn %s)", sub.ID, sub.UserID, gatewayTxnNo)
	return outcomeRenewed
}

func (j *Job) handleChargeFailure(sub *models.Subscription, method *models.PaymentMethod, reason string, tokenInvalid bool, cfg Config, result *Result) outcome {
	if reason == "" {
		reason = "charge declined"
	}

	txn := &models.PaymentTransaction{
		SubscriptionID: &sub.ID,
		UserID:         sub.UserID,
		Amount:         sub.Amount,
		Currency:       sub.Currency,
		Method:         method.MaskedLabel(),
		Type:           models.TransactionTypeRenewal,
		Status:         models.TransactionStatusFailed,
		FailureReason:  reason,
	}
	if err := j.repo.CreateTransaction(txn); err != nil {
		result.Errors = append(result.Errors,
			fmt.Sprintf("subscription %d: failure ledger write failed: %v", sub.ID, err))
	}

	// A token the gateway no longer accepts will not get better with
	// retries; deactivate the method and stop auto-renewing.
	if tokenInvalid {
		if err := j.repo.DeactivatePaymentMethod(method.ID); err != nil {
			result.Errors = append(result.Errors,
				fmt.Sprintf("subscription %d: payment method deactivation failed: %v", sub.ID, err))
		}
		if err := j.repo.SetAutoRenewal(sub.ID, false, "payment token rejected by gateway"); err != nil {
			result.Errors = append(result.Errors,
				fmt.Sprintf("subscription %d: disable auto-renewal failed: %v", sub.ID, err))
		}
		result.Errors = append(result.Errors,
			fmt.Sprintf("subscription %d: payment token invalid, auto-renewal disabled", sub.ID))
		return outcomeFailed
	}

	result.Errors = append(result.Errors, fmt.Sprintf("subscription %d: %s", sub.ID, reason))

	if sub.RetryCount+1 >= cfg.MaxRetryAttempts {
		return j.suspend(sub, reason, result)
	}

	nextRetry := time.Now().Add(cfg.RetryDelay)
	attempt := sub.RetryCount + 1
	if err := j.repo.ScheduleRetry(sub.ID, attempt, nextRetry, reason); err != nil {
		result.Errors = append(result.Errors,
			fmt.Sprintf("subscription %d: retry bookkeeping failed: %v", sub.ID, err))
		return outcomeFailed
	}

	log.Infof("[RenewalJob] Charge failed for subscription %d (attempt %d/%d), retry at %s",
		sub.ID, attempt, cfg.MaxRetryAttempts, nextRetry.Format(time.RFC3339))
	return outcomeRetryScheduled
}

func (j *Job) suspend(sub *models.Subscription, reason string, result *Result) outcome {
	if err := j.repo.SuspendSubscription(sub.ID, reason); err != nil {
		result.Errors = append(result.Errors,
			fmt.Sprintf("subscription %d: suspension write failed: %v", sub.ID, err))
		return outcomeFailed
	}

	log.Warnf("[RenewalJob] Suspended subscription %d after %d failed attempts: %s",
		sub.ID, sub.RetryCount+1, reason)
	_ = counter.Add(counter.FieldSuspended, 1)

	if j.notifier != nil {
		sub.Status = models.SubscriptionStatusSuspended
		sub.AutoRenewal = false
		sub.LastRenewalError = reason
		j.notifier.NotifySuspension(sub, reason)
	}
	return outcomeSuspended
}
