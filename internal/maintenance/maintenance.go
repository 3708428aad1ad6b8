// Package maintenance runs the condition server's daily jobs: the counter
// reset at the start of the working day and the event retention cleanup at
// midnight.
package maintenance

import (
	"context"
	"log"
	"time"

	"kanshi/config"
	"kanshi/internal/clock"
	"kanshi/internal/store"
)

// Job identifies a scheduled maintenance task.
type Job string

const (
	JobReset   Job = "reset"
	JobCleanup Job = "cleanup"
)

// Service schedules the maintenance jobs.
type Service struct {
	store         store.Store
	clock         clock.Clock
	loc           *time.Location
	resetHour     int
	retentionDays int
}

// NewService creates a maintenance service. A nil clock means the system
// clock.
func NewService(st store.Store, cfg config.MaintenanceConfig, loc *time.Location, c clock.Clock) *Service {
	if c == nil {
		c = clock.System{}
	}
	if loc == nil {
		loc = time.Local
	}
	return &Service{
		store:         st,
		clock:         c,
		loc:           loc,
		resetHour:     cfg.ResetHour,
		retentionDays: cfg.RetentionDays,
	}
}

// NextAt returns the first time strictly after now at hour:00 in loc.
func NextAt(now time.Time, hour int, loc *time.Location) time.Time {
	now = now.In(loc)
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, loc)
	if !next.After(now) {
		next = time.Date(now.Year(), now.Month(), now.Day()+1, hour, 0, 0, 0, loc)
	}
	return next
}

// Next returns the job due next and when it is due.
func (s *Service) Next(now time.Time) (time.Time, Job) {
	reset := NextAt(now, s.resetHour, s.loc)
	cleanup := NextAt(now, 0, s.loc)
	if cleanup.Before(reset) {
		return cleanup, JobCleanup
	}
	return reset, JobReset
}

// Run executes the jobs at their scheduled times until ctx is done.
func (s *Service) Run(ctx context.Context) {
	log.Println("Starting maintenance service...")
	for {
		at, job := s.Next(s.clock.Now())
		timer := time.NewTimer(at.Sub(s.clock.Now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Println("Maintenance service shutting down.")
			return
		case <-timer.C:
			s.RunJob(ctx, job)
		}
	}
}

// RunJob executes one job immediately. Failures are logged.
func (s *Service) RunJob(ctx context.Context, job Job) {
	switch job {
	case JobReset:
		if err := s.Reset(ctx); err != nil {
			log.Printf("Error during daily reset: %v", err)
		}
	case JobCleanup:
		if _, err := s.Cleanup(ctx); err != nil {
			log.Printf("Error during event cleanup: %v", err)
		}
	}
}

// Reset zeroes the counters as of today's reset hour.
func (s *Service) Reset(ctx context.Context) error {
	now := s.clock.Now().In(s.loc)
	at := time.Date(now.Year(), now.Month(), now.Day(), s.resetHour, 0, 0, 0, s.loc)
	log.Printf("Daily reset at %s", at.Format(time.RFC3339))
	return s.store.ResetCounters(ctx, at)
}

// Cleanup deletes events older than the retention span.
func (s *Service) Cleanup(ctx context.Context) (int64, error) {
	cutoff := s.clock.Now().In(s.loc).AddDate(0, 0, -s.retentionDays)
	n, err := s.store.DeleteEventsBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	log.Printf("Deleted %d events older than %s", n, cutoff.Format(time.RFC3339))
	return n, nil
}
