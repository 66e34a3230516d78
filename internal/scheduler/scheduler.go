// Package scheduler runs periodic background jobs.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Expirer moves overdue cards to EXPIRED
type Expirer interface {
	ExpireOverdue(ctx context.Context) (int, error)
}

// ExpirySweeper runs the expiry sweep on a cron schedule
type ExpirySweeper struct {
	cron    *cron.Cron
	expirer Expirer
	log     *logrus.Logger
	timeout time.Duration
}

// NewExpirySweeper registers the sweep under schedule (standard 5-field
// cron syntax or descriptors such as "@daily"), evaluated in UTC.
func NewExpirySweeper(schedule string, expirer Expirer, log *logrus.Logger) (*ExpirySweeper, error) {
	s := &ExpirySweeper{
		cron:    cron.New(cron.WithLocation(time.UTC)),
		expirer: expirer,
		log:     log,
		timeout: 10 * time.Minute,
	}
	if _, err := s.cron.AddFunc(schedule, s.Sweep); err != nil {
		return nil, fmt.Errorf("invalid expiry sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Sweep runs one pass immediately
func (s *ExpirySweeper) Sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	start := time.Now()
	n, err := s.expirer.ExpireOverdue(ctx)
	if err != nil {
		s.log.WithError(err).WithField("expired", n).Error("Expiry sweep failed")
		return
	}
	s.log.WithFields(logrus.Fields{
		"expired":     n,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("Expiry sweep finished")
}

// Start runs the schedule in the background
func (s *ExpirySweeper) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for a running sweep or ctx, whichever ends first
func (s *ExpirySweeper) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.log.Warn("Expiry sweep still running at shutdown")
	}
}
