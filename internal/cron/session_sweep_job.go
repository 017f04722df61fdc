package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/storefront/pkg/logger"
)

const sessionSweepJobName = "session-sweep"

// Sweeper evicts idle sessions and reports how many went.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// SessionSweepJobParams configure the idle session sweep.
type SessionSweepJobParams struct {
	Logger   *logger.Logger
	Sessions Sweeper
}

type sessionSweepJob struct {
	logg     *logger.Logger
	sessions Sweeper
}

// NewSessionSweepJob builds the job that drops idle browser sessions from memory.
func NewSessionSweepJob(params SessionSweepJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Sessions == nil {
		return nil, fmt.Errorf("session sweeper required")
	}
	return &sessionSweepJob{logg: params.Logger, sessions: params.Sessions}, nil
}

func (j *sessionSweepJob) Name() string { return sessionSweepJobName }

func (j *sessionSweepJob) Run(ctx context.Context) error {
	evicted, err := j.sessions.Sweep(ctx)
	if err != nil {
		return fmt.Errorf("sweep sessions: %w", err)
	}
	j.logg.Debug(j.logg.WithField(ctx, "evicted", evicted), "jobs.session_sweep.done")
	return nil
}
