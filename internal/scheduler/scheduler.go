// Package scheduler runs the periodic maintenance jobs of the storefront.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// JobOrderReaper is the name of the stale order cleanup job.
const JobOrderReaper = "orderReaper"

// OrderExpirer cancels pending orders that were never paid.
type OrderExpirer interface {
	ExpireStale(ctx context.Context, ttl time.Duration) (int, error)
}

// Scheduler wraps a cron runner and remembers the entry of every named job.
type Scheduler struct {
	cron   *cron.Cron
	jobIDs map[string]cron.EntryID
}

// New creates a scheduler whose jobs recover from panics and log through
// logrus.
func New() *Scheduler {
	logger := cron.PrintfLogger(logrus.StandardLogger())
	return &Scheduler{
		cron:   cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger))),
		jobIDs: make(map[string]cron.EntryID),
	}
}

// AddOrderReaper schedules the cancellation of pending orders older than ttl.
//
// Parameters:
//   - spec: cron expression or descriptor, e.g. "@every 10m"
//   - orders: the order store to clean up
//   - ttl: how long an unpaid order stays pending
func (s *Scheduler) AddOrderReaper(spec string, orders OrderExpirer, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("order ttl must be positive, got %s", ttl)
	}
	id, err := s.cron.AddFunc(spec, reapOrders(orders, ttl))
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}
	s.jobIDs[JobOrderReaper] = id
	return nil
}

// Entry returns the cron entry of a named job.
func (s *Scheduler) Entry(name string) (cron.Entry, bool) {
	id, ok := s.jobIDs[name]
	if !ok {
		return cron.Entry{}, false
	}
	return s.cron.Entry(id), true
}

func (s *Scheduler) Start() {
	s.cron.Start()
	logrus.WithField("jobs", len(s.jobIDs)).Info("Scheduler started")
}

// Stop stops scheduling and returns a context that is done once running
// jobs have finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// reapOrders returns the job body. Each run gets a deadline well inside the
// shortest sensible interval.
func reapOrders(orders OrderExpirer, ttl time.Duration) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		n, err := orders.ExpireStale(ctx, ttl)
		if err != nil {
			logrus.WithError(err).Error("Failed to expire stale orders")
			return
		}
		logrus.WithField("cancelled", n).Debug("Order reaper finished")
	}
}
