package scheduler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/ManuelReschke/LeadHub/internal/pkg/apperror"
	"github.com/ManuelReschke/LeadHub/internal/pkg/cache"
	"github.com/ManuelReschke/LeadHub/internal/pkg/config"
	"github.com/ManuelReschke/LeadHub/internal/pkg/sweep"
	"github.com/gofiber/fiber/v2/log"
)

type schedule struct {
	job      string
	interval time.Duration
}

// Manager runs the passes on tickers inside the API process. Every run,
// scheduled or triggered over HTTP, takes the job's lock first so two
// replicas never run the same pass at once.
type Manager struct {
	service   *Service
	locker    cache.Locker
	lockTTL   time.Duration
	schedules []schedule
	stopCh    chan struct{}
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	running   bool
}

func NewManager(service *Service, locker cache.Locker, cfg config.SchedulerConfig) *Manager {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Minute
	}
	m := &Manager{service: service, locker: locker, lockTTL: cfg.LockTTL}
	for _, s := range []schedule{
		{JobExpireLeads, cfg.ExpiryInterval},
		{JobLeadReminders, cfg.ReminderInterval},
		{JobMatchLeads, cfg.MatchInterval},
		{JobDrainOutbox, cfg.OutboxInterval},
		{JobExpireSubscriptions, cfg.SubscriptionInterval},
		{JobPurgeTokens, cfg.TokenPurgeInterval},
	} {
		if s.interval > 0 {
			m.schedules = append(m.schedules, s)
		}
	}
	return m
}

// Start launches one ticker worker per scheduled job.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so manager can be restarted safely.
	m.stopCh = make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.running = true
	log.Info("[Scheduler] Starting background jobs")

	for _, s := range m.schedules {
		m.wg.Add(1)
		go m.worker(ctx, s, m.stopCh)
	}

	log.Infof("[Scheduler] Started %d jobs", len(m.schedules))
}

// Stop stops the tickers, cancels running passes and waits for them.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[Scheduler] Stopping background jobs...")
	close(m.stopCh)
	m.cancel()
	m.stopCh = nil
	m.running = false

	m.wg.Wait()
	log.Info("[Scheduler] Stopped successfully")
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Manager) worker(ctx context.Context, s schedule, stopCh <-chan struct{}) {
	defer m.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	log.Infof("[Scheduler] Started %s worker (interval: %s)", s.job, s.interval)

	for {
		select {
		case <-stopCh:
			log.Infof("[Scheduler] %s worker stopping", s.job)
			return
		case <-ticker.C:
			_, err := m.Trigger(ctx, s.job)
			switch {
			case errors.Is(err, apperror.ErrConflict):
				log.Debugf("[Scheduler] %s already running elsewhere, skipping", s.job)
			case err != nil:
				log.Errorf("[Scheduler] %s failed: %v", s.job, err)
			}
		}
	}
}

// Trigger runs one pass of job under its lock. A pass already running on
// any instance yields a conflict.
func (m *Manager) Trigger(ctx context.Context, job string) (sweep.Summary, error) {
	if !slices.Contains(Jobs, job) {
		return sweep.Summary{Job: job}, apperror.NotFound("unknown_job", fmt.Errorf("job %q", job))
	}
	release, err := m.locker.Acquire(ctx, "job:"+job, m.lockTTL)
	if errors.Is(err, cache.ErrLockHeld) {
		return sweep.Summary{Job: job}, apperror.Conflict("job_running", fmt.Errorf("%s is locked", job))
	}
	if err != nil {
		return sweep.Summary{Job: job}, fmt.Errorf("acquire lock for %s: %w", job, err)
	}
	defer release()
	return m.service.Run(ctx, job)
}
