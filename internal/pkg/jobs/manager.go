package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/memberloop/memberpay/internal/pkg/env"
	"github.com/memberloop/memberpay/internal/pkg/renewal"
)

// Config is the manager-level job configuration.
type Config struct {
	EnableRenewalJob  bool           `json:"enable_renewal_job"`
	RenewalJob        renewal.Config `json:"renewal_job"`
	ReconcileInterval time.Duration  `json:"reconcile_interval"`
}

// DefaultConfig enables the renewal job with its default schedule.
func DefaultConfig() Config {
	return Config{
		EnableRenewalJob:  true,
		RenewalJob:        renewal.DefaultConfig(),
		ReconcileInterval: 6 * time.Hour,
	}
}

// ConfigPatch is a partial configuration update; nil fields keep their
// current value.
type ConfigPatch struct {
	EnableRenewalJob *bool          `json:"enable_renewal_job,omitempty"`
	CheckInterval    *time.Duration `json:"check_interval,omitempty"`
	DaysBeforeExpiry *int           `json:"days_before_expiry,omitempty"`
	MaxRetryAttempts *int           `json:"max_retry_attempts,omitempty"`
	RetryDelay       *time.Duration `json:"retry_delay,omitempty"`
}

// JobStatus describes the renewal job as seen by operators.
type JobStatus struct {
	IsRunning bool           `json:"is_running"`
	Config    renewal.Config `json:"config"`
}

// Status is the manager's externally visible state.
type Status struct {
	IsInitialized bool      `json:"is_initialized"`
	Config        Config    `json:"config"`
	RenewalJob    JobStatus `json:"renewal_job"`
}

// Manager owns the lifecycle of the background jobs. It is constructed once
// by the composition root and passed to whatever needs it; there is no
// process-global instance.
type Manager struct {
	job *renewal.Job

	mu          sync.Mutex
	cfg         Config
	initialized bool
	stopCh      chan struct{}
	wg          sync.WaitGroup

	// schedulingAllowed gates timer activation by deployment environment.
	// Manual runs work in every environment.
	schedulingAllowed func() bool
}

// NewManager wires a manager around an already-constructed renewal job.
func NewManager(job *renewal.Job, cfg Config) *Manager {
	if cfg.ReconcileInterval <= 0 {
		cfg.ReconcileInterval = DefaultConfig().ReconcileInterval
	}
	job.UpdateConfig(cfg.RenewalJob)
	return &Manager{
		job:               job,
		cfg:               cfg,
		schedulingAllowed: defaultSchedulingGate,
	}
}

func defaultSchedulingGate() bool {
	return env.IsProd() || env.GetEnv("JOBS_FORCE_ENABLE", "false") == "true"
}

// SetSchedulingGate overrides the environment gate (tests).
func (m *Manager) SetSchedulingGate(gate func() bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedulingAllowed = gate
}

// Initialize starts the enabled jobs. Calling it on an initialized manager
// is a no-op.
func (m *Manager) Initialize() {
	m.mu.Lock()
	if m.initialized {
		m.mu.Unlock()
		log.Info("[Jobs] Initialize called twice, ignoring")
		return
	}
	m.initialized = true
	m.stopCh = make(chan struct{})
	enable := m.cfg.EnableRenewalJob && m.schedulingAllowed()
	reconcileEvery := m.cfg.ReconcileInterval
	m.mu.Unlock()

	if enable {
		m.job.Start()
		m.wg.Add(1)
		go m.reconcileWorker(reconcileEvery)
		log.Info("[Jobs] Renewal job scheduled")
	} else {
		log.Info("[Jobs] Renewal job not scheduled (disabled or environment gate); manual runs remain available")
	}
}

// Shutdown stops all jobs. Safe to call on an uninitialized manager.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if !m.initialized {
		m.mu.Unlock()
		return
	}
	m.initialized = false
	close(m.stopCh)
	m.mu.Unlock()

	m.wg.Wait()
	m.job.Stop()
	log.Info("[Jobs] Shut down")
}

// RunManually triggers a single renewal pass outside the schedule. It works
// in every environment, initialized or not.
func (m *Manager) RunManually(ctx context.Context) *renewal.Result {
	log.Info("[Jobs] Manual renewal pass triggered")
	return m.job.RunOnce(ctx)
}

// GetStatus reports manager and job state.
func (m *Manager) GetStatus() Status {
	m.mu.Lock()
	cfg := m.cfg
	initialized := m.initialized
	m.mu.Unlock()

	return Status{
		IsInitialized: initialized,
		Config:        cfg,
		RenewalJob: JobStatus{
			IsRunning: m.job.IsRunning(),
			Config:    m.job.Config(),
		},
	}
}

// UpdateConfig merges a partial update and propagates it into the running
// job without a restart. Toggling EnableRenewalJob starts or stops the
// scheduler on an initialized manager.
func (m *Manager) UpdateConfig(patch ConfigPatch) Config {
	m.mu.Lock()
	if patch.EnableRenewalJob != nil {
		m.cfg.EnableRenewalJob = *patch.EnableRenewalJob
	}
	if patch.CheckInterval != nil {
		m.cfg.RenewalJob.CheckInterval = *patch.CheckInterval
	}
	if patch.DaysBeforeExpiry != nil {
		m.cfg.RenewalJob.DaysBeforeExpiry = *patch.DaysBeforeExpiry
	}
	if patch.MaxRetryAttempts != nil {
		m.cfg.RenewalJob.MaxRetryAttempts = *patch.MaxRetryAttempts
	}
	if patch.RetryDelay != nil {
		m.cfg.RenewalJob.RetryDelay = *patch.RetryDelay
	}
	cfg := m.cfg
	initialized := m.initialized
	allowed := m.schedulingAllowed()
	m.mu.Unlock()

	m.job.UpdateConfig(cfg.RenewalJob)

	if initialized {
		if cfg.EnableRenewalJob && allowed {
			m.job.Start() // no-op when already running
		} else {
			m.job.Stop()
		}
	}
	return cfg
}

// reconcileWorker periodically repairs completed renewal charges whose
// period extension was lost to a crash.
func (m *Manager) reconcileWorker(interval time.Duration) {
	defer m.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			repaired, err := m.job.Reconcile(context.Background())
			if err != nil {
				log.Errorf("[Jobs] Reconciliation error: %v", err)
				continue
			}
			if repaired > 0 {
				log.Infof("[Jobs] Reconciliation repaired %d orphaned renewals", repaired)
			}
		}
	}
}
