package cron

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper refreshes expiring sessions and drops idle ones.
type Sweeper interface {
	Sweep(ctx context.Context) error
}

// RevocationPurger forgets revoked tokens that have expired.
type RevocationPurger interface {
	PurgeRevoked(now time.Time) int
}

type SessionJobs struct {
	sweeper Sweeper
	revoked RevocationPurger
	every   time.Duration
}

func NewSessionJobs(sweeper Sweeper, revoked RevocationPurger, every time.Duration) *SessionJobs {
	return &SessionJobs{sweeper: sweeper, revoked: revoked, every: every}
}

func (j *SessionJobs) RegisterJobs(scheduler *Scheduler) {
	scheduler.AddJob("sweep_sessions", j.every, j.SweepSessions)
	scheduler.AddJob("purge_revoked_tokens", time.Hour, j.PurgeRevokedTokens)
}

func (j *SessionJobs) SweepSessions(ctx context.Context) error {
	return j.sweeper.Sweep(ctx)
}

func (j *SessionJobs) PurgeRevokedTokens(ctx context.Context) error {
	if n := j.revoked.PurgeRevoked(time.Now()); n > 0 {
		slog.Info("Cron: purged revoked tokens", "count", n)
	}
	return nil
}
