package renewal

import (
	"context"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/memberloop/memberpay/app/models"
	"github.com/memberloop/memberpay/internal/pkg/billing"
	"github.com/memberloop/memberpay/internal/pkg/gateway"
)

// fakeRepo is an in-memory stand-in for the subscription store. Its renewal
// selection applies the same predicate as the SQL implementation so the
// selection-window tests exercise real behavior.
type fakeRepo struct {
	mu       sync.Mutex
	subs     map[uint]*models.Subscription
	methods  map[uint]*models.PaymentMethod // keyed by user ID
	txns     []*models.PaymentTransaction
	renewals []*models.SubscriptionRenewal
	orphans  []models.PaymentTransaction

	selectErr    error
	lastDaysAhead int
	nextTxnID    uint
	repairedIDs  []uint
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		subs:    make(map[uint]*models.Subscription),
		methods: make(map[uint]*models.PaymentMethod),
	}
}

func (f *fakeRepo) addSubscription(sub *models.Subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[sub.ID] = sub
}

func (f *fakeRepo) addPaymentMethod(m *models.PaymentMethod) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.methods[m.UserID] = m
}

func (f *fakeRepo) CreateSubscription(sub *models.Subscription) error {
	f.addSubscription(sub)
	return nil
}

func (f *fakeRepo) UpdateSubscription(sub *models.Subscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *sub
	f.subs[sub.ID] = &cp
	return nil
}

func (f *fakeRepo) CancelSubscription(id uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sub, ok := f.subs[id]; ok {
		sub.Status = models.SubscriptionStatusCancelled
		sub.AutoRenewal = false
	}
	return nil
}

func (f *fakeRepo) GetSubscriptionByID(id uint) (*models.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.subs[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *sub
	return &cp, nil
}

func (f *fakeRepo) GetSubscriptionsForRenewal(daysAhead int) ([]models.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastDaysAhead = daysAhead
	if f.selectErr != nil {
		return nil, f.selectErr
	}

	now := time.Now()
	cutoff := now.AddDate(0, 0, daysAhead)
	var out []models.Subscription
	for _, sub := range f.subs {
		if sub.Status != models.SubscriptionStatusActive || !sub.AutoRenewal ||
			sub.BillingCycle == models.BillingCycleOneTime {
			continue
		}
		if sub.NextBillingDate == nil || sub.NextBillingDate.After(cutoff) {
			continue
		}
		if sub.NextRetryAt != nil && sub.NextRetryAt.After(now) {
			continue
		}
		out = append(out, *sub)
	}
	return out, nil
}

func (f *fakeRepo) CreateSubscriptionRenewal(subscriptionID uint, transactionID *uint) (*models.SubscriptionRenewal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.subs[subscriptionID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	if sub.BillingCycle == models.BillingCycleOneTime {
		return nil, billing.ErrNotRenewable
	}

	oldEnd := sub.CurrentPeriodEnd
	newEnd := billing.AddBillingPeriod(oldEnd, sub.BillingCycle)
	sub.CurrentPeriodStart = oldEnd
	sub.CurrentPeriodEnd = newEnd
	nb := newEnd
	sub.NextBillingDate = &nb

	renewal := &models.SubscriptionRenewal{
		SubscriptionID: subscriptionID,
		OldPeriodEnd:   oldEnd,
		NewPeriodEnd:   newEnd,
		TransactionID:  transactionID,
	}
	f.renewals = append(f.renewals, renewal)
	return renewal, nil
}

func (f *fakeRepo) SetAutoRenewal(subscriptionID uint, enabled bool, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sub, ok := f.subs[subscriptionID]; ok {
		sub.AutoRenewal = enabled
		sub.AutoRenewalDisabledReason = reason
	}
	return nil
}

func (f *fakeRepo) ResetRetryState(subscriptionID uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sub, ok := f.subs[subscriptionID]; ok {
		sub.RetryCount = 0
		sub.NextRetryAt = nil
		sub.LastRenewalError = ""
	}
	return nil
}

func (f *fakeRepo) ScheduleRetry(subscriptionID uint, retryCount int, nextRetryAt time.Time, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sub, ok := f.subs[subscriptionID]; ok {
		sub.RetryCount = retryCount
		sub.NextRetryAt = &nextRetryAt
		sub.LastRenewalError = reason
	}
	return nil
}

func (f *fakeRepo) SuspendSubscription(subscriptionID uint, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sub, ok := f.subs[subscriptionID]; ok {
		now := time.Now()
		sub.Status = models.SubscriptionStatusSuspended
		sub.AutoRenewal = false
		sub.SuspendedAt = &now
		sub.LastRenewalError = reason
		sub.AutoRenewalDisabledReason = "renewal retries exhausted"
	}
	return nil
}

func (f *fakeRepo) CreateTransaction(txn *models.PaymentTransaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextTxnID++
	txn.ID = f.nextTxnID
	cp := *txn
	f.txns = append(f.txns, &cp)
	return nil
}

func (f *fakeRepo) UpdateTransactionStatus(id uint, status, gatewayTxnNo, rawResponse, failureReason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, txn := range f.txns {
		if txn.ID == id {
			if txn.IsFinal() {
				return billing.ErrTransactionFinal
			}
			txn.Status = status
			txn.GatewayTxnNo = gatewayTxnNo
			txn.FailureReason = failureReason
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (f *fakeRepo) GetTransactionByRef(ref string) (*models.PaymentTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, txn := range f.txns {
		if txn.GatewayTxnRef == ref {
			cp := *txn
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepo) SavePaymentMethod(m *models.PaymentMethod) error {
	f.addPaymentMethod(m)
	return nil
}

func (f *fakeRepo) GetDefaultPaymentMethod(userID uint) (*models.PaymentMethod, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.methods[userID]
	if !ok || !m.IsActive || !m.IsDefault {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *m
	return &cp, nil
}

func (f *fakeRepo) DeactivatePaymentMethod(id uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.methods {
		if m.ID == id {
			m.IsActive = false
			m.IsDefault = false
		}
	}
	return nil
}

func (f *fakeRepo) FindOrphanedRenewals(olderThan time.Time) ([]models.PaymentTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.orphans, nil
}

func (f *fakeRepo) RepairOrphanedRenewal(id uint) error {
	f.mu.Lock()
	f.repairedIDs = append(f.repairedIDs, id)
	var subID *uint
	for i := range f.orphans {
		if f.orphans[i].ID == id {
			subID = f.orphans[i].SubscriptionID
		}
	}
	f.mu.Unlock()
	if subID != nil {
		_, err := f.CreateSubscriptionRenewal(*subID, &id)
		return err
	}
	return gorm.ErrRecordNotFound
}

func (f *fakeRepo) transactionCount(status string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, txn := range f.txns {
		if txn.Status == status {
			n++
		}
	}
	return n
}

// fakeCharger returns queued results in order, repeating the last one.
type fakeCharger struct {
	mu      sync.Mutex
	results []gateway.ChargeResult
	calls   int
	tokens  []string
}

func (c *fakeCharger) Charge(ctx context.Context, token string, amount int64) gateway.ChargeResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.tokens = append(c.tokens, token)
	if len(c.results) == 0 {
		return gateway.ChargeResult{Success: true, TransactionID: "sim-txn"}
	}
	res := c.results[0]
	if len(c.results) > 1 {
		c.results = c.results[1:]
	}
	return res
}

func (c *fakeCharger) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// blockingCharger blocks until released or the context expires.
type blockingCharger struct {
	release chan struct{}
	started chan struct{}
}

func newBlockingCharger() *blockingCharger {
	return &blockingCharger{
		release: make(chan struct{}),
		started: make(chan struct{}, 16),
	}
}

func (c *blockingCharger) Charge(ctx context.Context, token string, amount int64) gateway.ChargeResult {
	c.started <- struct{}{}
	select {
	case <-ctx.Done():
		return gateway.ChargeResult{Success: false, Error: "charge timed out: " + ctx.Err().Error()}
	case <-c.release:
		return gateway.ChargeResult{Success: true, TransactionID: "late-txn"}
	}
}

type fakeNotifier struct {
	mu          sync.Mutex
	suspensions []uint
}

func (n *fakeNotifier) NotifySuspension(sub *models.Subscription, reason string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.suspensions = append(n.suspensions, sub.ID)
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.suspensions)
}

func activeSubscription(id, userID uint, nextBillingIn time.Duration) *models.Subscription {
	now := time.Now()
	nb := now.Add(nextBillingIn)
	return &models.Subscription{
		ID:                 id,
		UserID:             userID,
		PlanType:           models.PlanPremium,
		Status:             models.SubscriptionStatusActive,
		Amount:             199000,
		Currency:           "VND",
		BillingCycle:       models.BillingCycleMonthly,
		CurrentPeriodStart: now.AddDate(0, -1, 0),
		CurrentPeriodEnd:   nb,
		NextBillingDate:    &nb,
		AutoRenewal:        true,
	}
}

func defaultMethod(id, userID uint) *models.PaymentMethod {
	return &models.PaymentMethod{
		ID:           id,
		UserID:       userID,
		GatewayToken: "tok_billing",
		CardBrand:    "visa",
		CardLast4:    "4242",
		CardExpMonth: 12,
		CardExpYear:  2028,
		IsActive:     true,
		IsDefault:    true,
	}
}

func testJobConfig() Config {
	return Config{
		CheckInterval:    time.Hour,
		DaysBeforeExpiry: 3,
		MaxRetryAttempts: 3,
		RetryDelay:       time.Hour,
		ThrottleDelay:    0,
		ChargeTimeout:    time.Second,
	}
}
