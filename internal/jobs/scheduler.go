// Package jobs runs periodic maintenance next to the HTTP server.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"bookstore-backend/internal/infra/metrics"

	"github.com/robfig/cron/v3"
)

// Expirer flips lapsed subscriptions to expired.
type Expirer interface {
	ExpireSubscriptions(ctx context.Context) (int64, error)
}

type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler registers the subscription sweep on spec, a six-field cron
// expression (seconds first).
func NewScheduler(spec string, expirer Expirer) (*Scheduler, error) {
	c := cron.New(cron.WithSeconds())
	if _, err := c.AddFunc(spec, func() { SweepSubscriptions(expirer) }); err != nil {
		return nil, fmt.Errorf("schedule subscription sweep %q: %w", spec, err)
	}
	return &Scheduler{cron: c}, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	slog.Info("cron jobs started", "jobs", len(s.cron.Entries()))
}

// Stop waits up to timeout for running jobs to finish.
func (s *Scheduler) Stop(timeout time.Duration) {
	ctx := s.cron.Stop()
	select {
	case <-ctx.Done():
		slog.Info("cron jobs stopped")
	case <-time.After(timeout):
		slog.Warn("cron jobs forced to stop after timeout")
	}
}

// SweepSubscriptions runs one expiry pass.
func SweepSubscriptions(expirer Expirer) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	n, err := expirer.ExpireSubscriptions(ctx)
	if err != nil {
		slog.Error("subscription sweep failed", "err", err)
		return
	}
	metrics.SubscriptionsExpired.Add(float64(n))
	slog.Info("subscription sweep finished", "expired", n)
}
