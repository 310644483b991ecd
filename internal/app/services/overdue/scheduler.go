package overdue

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/openshelf/library-service/internal/app/system"
	"github.com/openshelf/library-service/pkg/logger"
)

// DefaultSchedule runs the sweep daily at 02:00. All schedule evaluation is
// in UTC; due dates are stored in UTC as well, so there is no timezone
// skew between the cron clock and the overdue comparison.
const DefaultSchedule = "0 2 * * *"

var _ system.Service = (*Scheduler)(nil)

// Scheduler runs the overdue sweep on a cron schedule.
type Scheduler struct {
	sweeper  *Sweeper
	log      *logger.Logger
	schedule string

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewScheduler creates a lifecycle-managed sweep scheduler. An empty
// schedule falls back to DefaultSchedule.
func NewScheduler(sweeper *Sweeper, schedule string, log *logger.Logger) *Scheduler {
	if log == nil {
		log = logger.NewDefault("overdue-scheduler")
	}
	if schedule == "" {
		schedule = DefaultSchedule
	}
	return &Scheduler{
		sweeper:  sweeper,
		log:      log,
		schedule: schedule,
	}
}

func (s *Scheduler) Name() string { return "overdue-scheduler" }

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	c := cron.New(cron.WithLocation(time.UTC))
	if _, err := c.AddFunc(s.schedule, func() { s.runOnce(ctx) }); err != nil {
		return err
	}
	c.Start()

	s.cron = c
	s.running = true
	s.log.WithField("schedule", s.schedule).Info("overdue scheduler started")
	return nil
}

func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	c := s.cron
	s.cron = nil
	s.running = false
	s.mu.Unlock()

	// Stop returns a context that is done once in-flight jobs finish.
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		return ctx.Err()
	}

	s.log.Info("overdue scheduler stopped")
	return nil
}

func (s *Scheduler) runOnce(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	if _, err := s.sweeper.Run(runCtx); err != nil {
		s.log.WithError(err).Warn("scheduled overdue sweep reported errors")
	}
}
