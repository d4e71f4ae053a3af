package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"gorm.io/gorm"

	"github.com/memberloop/memberpay/app/models"
	"github.com/memberloop/memberpay/internal/pkg/renewal"
)

// emptyRepo is a subscription store with nothing due for renewal.
type emptyRepo struct{}

func (emptyRepo) CreateSubscription(*models.Subscription) error { return nil }
func (emptyRepo) UpdateSubscription(*models.Subscription) error { return nil }
func (emptyRepo) CancelSubscription(uint) error                 { return nil }
func (emptyRepo) GetSubscriptionByID(uint) (*models.Subscription, error) {
	return nil, gorm.ErrRecordNotFound
}
func (emptyRepo) GetSubscriptionsForRenewal(int) ([]models.Subscription, error) { return nil, nil }
func (emptyRepo) CreateSubscriptionRenewal(uint, *uint) (*models.SubscriptionRenewal, error) {
	return nil, gorm.ErrRecordNotFound
}
func (emptyRepo) SetAutoRenewal(uint, bool, string) error               { return nil }
func (emptyRepo) ResetRetryState(uint) error                            { return nil }
func (emptyRepo) ScheduleRetry(uint, int, time.Time, string) error      { return nil }
func (emptyRepo) SuspendSubscription(uint, string) error                { return nil }
func (emptyRepo) CreateTransaction(*models.PaymentTransaction) error    { return nil }
func (emptyRepo) UpdateTransactionStatus(uint, string, string, string, string) error {
	return nil
}
func (emptyRepo) GetTransactionByRef(string) (*models.PaymentTransaction, error) {
	return nil, gorm.ErrRecordNotFound
}
func (emptyRepo) SavePaymentMethod(*models.PaymentMethod) error { return nil }
func (emptyRepo) GetDefaultPaymentMethod(uint) (*models.PaymentMethod, error) {
	return nil, gorm.ErrRecordNotFound
}
func (emptyRepo) DeactivatePaymentMethod(uint) error { return nil }
func (emptyRepo) FindOrphanedRenewals(time.Time) ([]models.PaymentTransaction, error) {
	return nil, nil
}
func (emptyRepo) RepairOrphanedRenewal(uint) error { return nil }

func newTestManager(enabled bool, gate bool) *Manager {
	job := renewal.NewJob(emptyRepo{}, nil, nil, renewal.DefaultConfig())
	cfg := DefaultConfig()
	cfg.EnableRenewalJob = enabled
	m := NewManager(job, cfg)
	m.SetSchedulingGate(func() bool { return gate })
	return m
}

func TestInitializeIdempotent(t *testing.T) {
	m := newTestManager(true, true)
	defer m.Shutdown()

	m.Initialize()
	assert.True(t, m.GetStatus().IsInitialized)
	assert.True(t, m.GetStatus().RenewalJob.IsRunning)

	// Second initialize must not double-start anything.
	m.Initialize()
	assert.True(t, m.GetStatus().RenewalJob.IsRunning)
}

func TestEnvironmentGateBlocksScheduling(t *testing.T) {
	m := newTestManager(true, false)
	defer m.Shutdown()

	m.Initialize()
	status := m.GetStatus()
	assert.True(t, status.IsInitialized)
	assert.False(t, status.RenewalJob.IsRunning, "gated environment must not self-schedule")

	// Manual runs still work without the scheduler.
	result := m.RunManually(context.Background())
	assert.NotNil(t, result)
	assert.False(t, result.InProgress)
}

func TestShutdownWithoutInitialize(t *testing.T) {
	m := newTestManager(true, true)
	m.Shutdown() // must not panic or block
	assert.False(t, m.GetStatus().IsInitialized)
}

func TestUpdateConfigPropagatesWithoutRestart(t *testing.T) {
	m := newTestManager(true, true)
	defer m.Shutdown()
	m.Initialize()

	days := 10
	retries := 5
	interval := 30 * time.Minute
	updated := m.UpdateConfig(ConfigPatch{
		DaysBeforeExpiry: &days,
		MaxRetryAttempts: &retries,
		CheckInterval:    &interval,
	})

	assert.Equal(t, 10, updated.RenewalJob.DaysBeforeExpiry)
	assert.Equal(t, 5, updated.RenewalJob.MaxRetryAttempts)

	status := m.GetStatus()
	assert.Equal(t, 10, status.RenewalJob.Config.DaysBeforeExpiry)
	assert.Equal(t, 30*time.Minute, status.RenewalJob.Config.CheckInterval)
	assert.True(t, status.RenewalJob.IsRunning, "config update must not stop the job")
}

func TestUpdateConfigTogglesScheduler(t *testing.T) {
	m := newTestManager(true, true)
	defer m.Shutdown()
	m.Initialize()
	assert.True(t, m.GetStatus().RenewalJob.IsRunning)

	off := false
	m.UpdateConfig(ConfigPatch{EnableRenewalJob: &off})
	assert.False(t, m.GetStatus().RenewalJob.IsRunning)

	on := true
	m.UpdateConfig(ConfigPatch{EnableRenewalJob: &on})
	assert.True(t, m.GetStatus().RenewalJob.IsRunning)
}
