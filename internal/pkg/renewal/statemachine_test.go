package renewal

import (
	"context"
	"testing"
	"time"

	"github.com/memberloop/memberpay/app/models"
	"github.com/memberloop/memberpay/internal/pkg/gateway"
)

func TestPassNeverChargesIneligibleSubscriptions(t *testing.T) {
	repo := newFakeRepo()
	charger := &fakeCharger{}

	oneTime := activeSubscription(1, 10, time.Hour)
	oneTime.BillingCycle = models.BillingCycleOneTime
	repo.addSubscription(oneTime)

	noAuto := activeSubscription(2, 11, time.Hour)
	noAuto.AutoRenewal = false
	repo.addSubscription(noAuto)

	pending := activeSubscription(3, 12, time.Hour)
	pending.Status = models.SubscriptionStatusPendingPayment
	repo.addSubscription(pending)

	job := NewJob(repo, charger, nil, testJobConfig())
	result := job.RunOnce(context.Background())

	if charger.callCount() != 0 {
		t.Fatalf("expected no charge attempts, got %d", charger.callCount())
	}
	if result.TotalChecked != 0 {
		t.Fatalf("expected no candidates selected, got %d", result.TotalChecked)
	}
}

func TestEligibilityGuardSkipsChangedCandidate(t *testing.T) {
	// A subscription can lose eligibility between selection and processing;
	// the in-process guard must skip it rather than charge it.
	repo := newFakeRepo()
	charger := &fakeCharger{}
	job := NewJob(repo, charger, nil, testJobConfig())

	sub := activeSubscription(1, 10, time.Hour)
	sub.AutoRenewal = false

	result := &Result{}
	if got := job.renewSubscription(context.Background(), sub, job.Config(), result); got != outcomeSkipped {
		t.Fatalf("expected skip outcome, got %v", got)
	}
	if charger.callCount() != 0 {
		t.Fatalf("expected no charge for ineligible subscription")
	}
}

func TestMissingPaymentMethodDisablesAutoRenewal(t *testing.T) {
	repo := newFakeRepo()
	charger := &fakeCharger{}
	repo.addSubscription(activeSubscription(1, 10, time.Hour))
	// No payment method saved for user 10.

	job := NewJob(repo, charger, nil, testJobConfig())
	result := job.RunOnce(context.Background())

	if charger.callCount() != 0 {
		t.Fatalf("expected no charge without a payment method")
	}
	if result.FailedRenewals != 1 {
		t.Fatalf("expected 1 failed renewal, got %d", result.FailedRenewals)
	}

	sub, _ := repo.GetSubscriptionByID(1)
	if sub.AutoRenewal {
		t.Fatalf("expected auto_renewal flipped off")
	}
	if sub.AutoRenewalDisabledReason != reasonNoPaymentMethod {
		t.Fatalf("expected disable reason recorded, got %q", sub.AutoRenewalDisabledReason)
	}
	if sub.RetryCount != 0 {
		t.Fatalf("retry counter must not move without a payment method, got %d", sub.RetryCount)
	}
}

func TestSuccessfulRenewal(t *testing.T) {
	repo := newFakeRepo()
	charger := &fakeCharger{results: []gateway.ChargeResult{
		{Success: true, TransactionID: "gw-123"},
	}}
	sub := activeSubscription(1, 10, 24*time.Hour)
	sub.RetryCount = 2
	origPeriodEnd := sub.CurrentPeriodEnd
	repo.addSubscription(sub)
	repo.addPaymentMethod(defaultMethod(5, 10))

	job := NewJob(repo, charger, nil, testJobConfig())
	result := job.RunOnce(context.Background())

	if result.TotalChecked != 1 || result.SuccessfulRenewals != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if got := repo.transactionCount(models.TransactionStatusCompleted); got != 1 {
		t.Fatalf("expected 1 completed ledger row, got %d", got)
	}

	renewed, _ := repo.GetSubscriptionByID(1)
	if renewed.RetryCount != 0 {
		t.Fatalf("expected retry counter reset, got %d", renewed.RetryCount)
	}
	if !renewed.CurrentPeriodEnd.After(origPeriodEnd) {
		t.Fatalf("expected period extended beyond %s", origPeriodEnd)
	}
	if len(repo.renewals) != 1 {
		t.Fatalf("expected a renewal audit row")
	}
	if !repo.renewals[0].OldPeriodEnd.Equal(origPeriodEnd) {
		t.Fatalf("renewal must anchor on the previous period end")
	}
}

func TestFailedChargeSchedulesRetry(t *testing.T) {
	repo := newFakeRepo()
	charger := &fakeCharger{results: []gateway.ChargeResult{
		{Success: false, Error: "card declined by issuer"},
	}}
	repo.addSubscription(activeSubscription(1, 10, time.Hour))
	repo.addPaymentMethod(defaultMethod(5, 10))

	job := NewJob(repo, charger, nil, testJobConfig())
	result := job.RunOnce(context.Background())

	if result.FailedRenewals != 1 || result.RetriesScheduled != 1 {
		t.Fatalf("expected failed+retry-scheduled, got %+v", result)
	}
	if got := repo.transactionCount(models.TransactionStatusFailed); got != 1 {
		t.Fatalf("expected a failed ledger row, got %d", got)
	}

	sub, _ := repo.GetSubscriptionByID(1)
	if sub.RetryCount != 1 {
		t.Fatalf("expected retry count 1, got %d", sub.RetryCount)
	}
	if sub.NextRetryAt == nil || !sub.NextRetryAt.After(time.Now()) {
		t.Fatalf("expected a future next_retry_at")
	}
	if sub.Status != models.SubscriptionStatusActive || !sub.AutoRenewal {
		t.Fatalf("status and auto_renewal must stay untouched before exhaustion")
	}
	if sub.LastRenewalError != "card declined by issuer" {
		t.Fatalf("expected failure reason recorded, got %q", sub.LastRenewalError)
	}
}

func TestRetryExhaustionSuspendsAfterThirdFailure(t *testing.T) {
	repo := newFakeRepo()
	charger := &fakeCharger{results: []gateway.ChargeResult{
		{Success: false, Error: "insufficient funds"},
	}}
	notifier := &fakeNotifier{}
	repo.addSubscription(activeSubscription(1, 10, time.Hour))
	repo.addPaymentMethod(defaultMethod(5, 10))

	cfg := testJobConfig()
	cfg.RetryDelay = time.Millisecond
	job := NewJob(repo, charger, notifier, cfg)

	for attempt := 1; attempt <= 3; attempt++ {
		time.Sleep(5 * time.Millisecond) // let the retry back-off lapse
		result := job.RunOnce(context.Background())
		if result.TotalChecked != 1 {
			t.Fatalf("attempt %d: expected candidate selected, got %+v", attempt, result)
		}

		sub, _ := repo.GetSubscriptionByID(1)
		if attempt < 3 {
			if sub.Status != models.SubscriptionStatusActive {
				t.Fatalf("attempt %d: suspended too early", attempt)
			}
			if sub.RetryCount != attempt {
				t.Fatalf("attempt %d: retry count = %d", attempt, sub.RetryCount)
			}
		} else {
			if sub.Status != models.SubscriptionStatusSuspended {
				t.Fatalf("expected suspension after third failure, status=%s", sub.Status)
			}
			if sub.AutoRenewal {
				t.Fatalf("expected auto_renewal off after suspension")
			}
			if sub.SuspendedAt == nil {
				t.Fatalf("expected suspension timestamp")
			}
		}
	}

	if got := repo.transactionCount(models.TransactionStatusFailed); got != 3 {
		t.Fatalf("expected 3 failed ledger rows, got %d", got)
	}
	if notifier.count() != 1 {
		t.Fatalf("expected exactly one suspension notification, got %d", notifier.count())
	}
}

func TestInvalidTokenDeactivatesPaymentMethod(t *testing.T) {
	repo := newFakeRepo()
	charger := &fakeCharger{results: []gateway.ChargeResult{
		{Success: false, Error: "token revoked", TokenInvalid: true},
	}}
	repo.addSubscription(activeSubscription(1, 10, time.Hour))
	method := defaultMethod(5, 10)
	repo.addPaymentMethod(method)

	job := NewJob(repo, charger, nil, testJobConfig())
	result := job.RunOnce(context.Background())

	if result.FailedRenewals != 1 || result.RetriesScheduled != 0 {
		t.Fatalf("invalid token must not schedule retries: %+v", result)
	}
	if method.IsActive || method.IsDefault {
		t.Fatalf("expected payment method deactivated")
	}
	sub, _ := repo.GetSubscriptionByID(1)
	if sub.AutoRenewal {
		t.Fatalf("expected auto_renewal disabled for invalid token")
	}
}
