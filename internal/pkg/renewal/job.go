package renewal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/memberloop/memberpay/app/models"
	"github.com/memberloop/memberpay/internal/pkg/billing"
	"github.com/memberloop/memberpay/internal/pkg/gateway"
	"github.com/memberloop/memberpay/internal/pkg/metrics/counter"
)

// Notifier receives escalation events from the renewal engine. Failures in
// the notifier never fail the renewal itself.
type Notifier interface {
	NotifySuspension(sub *models.Subscription, reason string)
}

// Job owns the recurring renewal timer and the per-pass orchestration. One
// Job instance serves both the scheduled ticks and manual admin triggers;
// RunOnce is guarded so the two can never double-charge a candidate.
type Job struct {
	repo     billing.Repository
	charger  gateway.TokenCharger
	notifier Notifier
	lease    RunLease

	mu      sync.Mutex
	cfg     Config
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	runMu sync.Mutex
}

// NewJob wires a renewal job. notifier and lease may be nil; the job then
// skips suspension notifications and cross-process locking respectively.
func NewJob(repo billing.Repository, charger gateway.TokenCharger, notifier Notifier, cfg Config) *Job {
	return &Job{
		repo:     repo,
		charger:  charger,
		notifier: notifier,
		cfg:      cfg.normalized(),
	}
}

// SetLease installs a cross-process run lease. Call before Start.
func (j *Job) SetLease(lease RunLease) {
	j.lease = lease
}

// Config returns the currently effective configuration.
func (j *Job) Config() Config {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cfg
}

// UpdateConfig swaps the configuration. The next pass (scheduled or manual)
// observes the new values; the ticker interval is adjusted in place without
// restarting the job.
func (j *Job) UpdateConfig(cfg Config) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.cfg = cfg.normalized()
}

// IsRunning reports whether the scheduler loop is armed.
func (j *Job) IsRunning() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.running
}

// Start runs one pass immediately and then arms the recurring timer.
// Starting an already-running job is a logged no-op.
func (j *Job) Start() {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		log.Info("[RenewalJob] Start called while already running, ignoring")
		return
	}
	j.running = true
	j.stopCh = make(chan struct{})
	j.mu.Unlock()

	log.Infof("[RenewalJob] Starting (interval: %s)", j.Config().CheckInterval)

	j.wg.Add(1)
	go j.loop()
}

// Stop cancels the timer and waits for an in-flight pass to finish.
// Stopping a stopped job is a no-op.
func (j *Job) Stop() {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return
	}
	j.running = false
	close(j.stopCh)
	j.mu.Unlock()

	j.wg.Wait()
	log.Info("[RenewalJob] Stopped")
}

func (j *Job) loop() {
	defer j.wg.Done()

	j.runScheduledPass()

	ticker := time.NewTicker(j.Config().CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-j.stopCh:
			return
		case <-ticker.C:
			j.runScheduledPass()
			// Pick up interval changes applied via UpdateConfig.
			ticker.Reset(j.Config().CheckInterval)
		}
	}
}

func (j *Job) runScheduledPass() {
	result := j.RunOnce(context.Background())
	if result.InProgress {
		log.Info("[RenewalJob] Scheduled pass skipped, another pass is in flight")
		return
	}
	log.Infof("[RenewalJob] Pass complete: checked=%d ok=%d failed=%d skipped=%d errors=%d",
		result.TotalChecked, result.SuccessfulRenewals, result.FailedRenewals,
		result.SkippedRenewals, len(result.Errors))
}

// RunOnce executes a single renewal pass and returns its aggregate result.
// A concurrent call while a pass is in flight returns an in-progress marker
// instead of running the same candidates twice.
func (j *Job) RunOnce(ctx context.Context) *Result {
	if !j.runMu.TryLock() {
		return &Result{InProgress: true}
	}
	defer j.runMu.Unlock()

	cfg := j.Config()

	if j.lease != nil {
		ttl := cfg.CheckInterval
		if ttl < time.Minute {
			ttl = time.Minute
		}
		acquired, err := j.lease.Acquire(ttl)
		if err != nil {
			log.Errorf("[RenewalJob] Run lease error, proceeding with local guard only: %v", err)
		} else if !acquired {
			return &Result{InProgress: true}
		} else {
			defer func() {
				if err := j.lease.Release(); err != nil {
					log.Errorf("[RenewalJob] Run lease release error: %v", err)
				}
			}()
		}
	}

	result := &Result{Errors: []string{}}

	candidates, err := j.repo.GetSubscriptionsForRenewal(cfg.DaysBeforeExpiry)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("candidate query failed: %v", err))
		return result
	}
	if len(candidates) == 0 {
		return result
	}

	for i := range candidates {
		select {
		case <-ctx.Done():
			result.Errors = append(result.Errors, fmt.Sprintf("pass aborted: %v", ctx.Err()))
			return result
		default:
		}

		sub := candidates[i]
		result.TotalChecked++

		outcome := j.renewSubscription(ctx, &sub, cfg, result)
		switch outcome {
		case outcomeSkipped:
			result.SkippedRenewals++
		case outcomeRenewed:
			result.SuccessfulRenewals++
		case outcomeRetryScheduled:
			result.FailedRenewals++
			result.RetriesScheduled++
		case outcomeFailed, outcomeSuspended:
			result.FailedRenewals++
		}

		// Throttle between candidates to spread gateway load.
		if cfg.ThrottleDelay > 0 && i < len(candidates)-1 {
			select {
			case <-ctx.Done():
			case <-time.After(cfg.ThrottleDelay):
			}
		}
	}

	// Outcome metrics are best effort; a cache hiccup never fails a pass.
	_ = counter.Add(counter.FieldRenewed, int64(result.SuccessfulRenewals))
	_ = counter.Add(counter.FieldFailed, int64(result.FailedRenewals))
	_ = counter.Add(counter.FieldRetryScheduled, int64(result.RetriesScheduled))

	return result
}

// Reconcile detects completed renewal ledger rows whose subscription period
// was never extended (a crash between the ledger write and the period
// update) and repairs them. Returns the number of repaired rows.
func (j *Job) Reconcile(ctx context.Context) (int, error) {
	_ = ctx
	orphans, err := j.repo.FindOrphanedRenewals(time.Now().Add(-1 * time.Hour))
	if err != nil {
		return 0, fmt.Errorf("orphan scan failed: %w", err)
	}

	repaired := 0
	for _, txn := range orphans {
		if err := j.repo.RepairOrphanedRenewal(txn.ID); err != nil {
			log.Errorf("[RenewalJob] Failed to repair orphaned renewal txn %d: %v", txn.ID, err)
			continue
		}
		log.Infof("[RenewalJob] Repaired orphaned renewal txn %d (subscription %d)",
			txn.ID, derefUint(txn.SubscriptionID))
		repaired++
	}
	return repaired, nil
}

func derefUint(p *uint) uint {
	if p == nil {
		return 0
	}
	return *p
}
