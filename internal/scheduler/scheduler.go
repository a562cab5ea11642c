package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Sweeper removes expired entries
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// Status is a snapshot of the scheduler for health reporting
type Status struct {
	Running bool      `json:"running"`
	NextRun time.Time `json:"nextRun"`
	LastRun time.Time `json:"lastRun"`
}

// Scheduler runs the OTP sweep on a fixed interval
type Scheduler struct {
	cron      *cron.Cron
	entryID   cron.EntryID
	interval  time.Duration
	sweeper   Sweeper
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	isRunning bool
	mu        sync.RWMutex
}

// NewScheduler creates a scheduler that calls sweeper every interval
func NewScheduler(interval time.Duration, sweeper Sweeper) *Scheduler {
	return &Scheduler{
		cron:     cron.New(cron.WithSeconds()),
		interval: interval,
		sweeper:  sweeper,
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("scheduler is already running")
	}
	if s.interval <= 0 {
		return fmt.Errorf("invalid sweep interval: %s", s.interval)
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())

	entryID, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.interval), s.sweep)
	if err != nil {
		s.cancel()
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	s.entryID = entryID
	s.cron.Start()
	s.isRunning = true

	logrus.Infof("OTP sweep scheduled every %s", s.interval)
	return nil
}

// Stop stops the scheduler and waits for a running sweep
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}

	s.cancel()
	s.cron.Remove(s.entryID)
	ctx := s.cron.Stop()
	s.isRunning = false
	s.mu.Unlock()

	// sweeps take the read lock, so wait with it released
	select {
	case <-ctx.Done():
		logrus.Info("Scheduler stopped gracefully")
	case <-time.After(30 * time.Second):
		logrus.Warn("Scheduler stop timeout, forcing shutdown")
	}
	return nil
}

// IsRunning returns whether the scheduler is running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

func (s *Scheduler) sweep() {
	s.wg.Add(1)
	defer s.wg.Done()

	s.mu.RLock()
	if !s.isRunning {
		s.mu.RUnlock()
		return
	}
	ctx := s.ctx
	s.mu.RUnlock()

	if _, err := s.sweeper.Sweep(ctx); err != nil {
		logrus.WithError(err).Error("OTP sweep failed")
	}
}

// RunOnce sweeps immediately, outside the schedule
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	s.wg.Add(1)
	defer s.wg.Done()
	return s.sweeper.Sweep(ctx)
}

// GetNextRun returns the time of the next scheduled run
func (s *Scheduler) GetNextRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.isRunning {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Next
}

// GetLastRun returns the time of the last run
func (s *Scheduler) GetLastRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.isRunning {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Prev
}

// Status reports running state and run times
func (s *Scheduler) Status() Status {
	return Status{
		Running: s.IsRunning(),
		NextRun: s.GetNextRun(),
		LastRun: s.GetLastRun(),
	}
}

// Wait waits for in-flight sweeps to finish
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
