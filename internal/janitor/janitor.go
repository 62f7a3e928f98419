// Package janitor performs periodic background sweeps of idle sessions
// and their associated pending operations, scheduled by a cron
// expression rather than a fixed ticker.
package janitor

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/HyphaGroup/mcpcore/internal/logger"
	"github.com/HyphaGroup/mcpcore/internal/schedule"
)

// SessionSweeper is the subset of the session manager the janitor needs:
// finding sessions that have been idle since a cutoff, and ending them.
type SessionSweeper interface {
	IdleSince(cutoff time.Time) []string
	End(sessionID string) bool
}

// OperationSweeper is the subset of the operation manager the janitor
// needs: releasing pending operations belonging to a session being swept.
type OperationSweeper interface {
	CleanupSession(sessionID string)
}

// Config holds janitor configuration.
type Config struct {
	// Schedule is a standard five-field cron expression.
	Schedule string
	// IdleTimeout is how long a session may sit idle before it is ended.
	IdleTimeout time.Duration
}

// Janitor periodically sweeps idle sessions and their operations.
type Janitor struct {
	sessions   SessionSweeper
	operations OperationSweeper
	sched      string
	idle       time.Duration

	cron    *cron.Cron
	mu      sync.Mutex
	running bool
}

// New creates a Janitor. cfg.Schedule must be a valid cron expression;
// an invalid one falls back to hourly sweeps.
func New(sessions SessionSweeper, operations OperationSweeper, cfg Config) *Janitor {
	sched := cfg.Schedule
	if err := schedule.ValidateCron(sched); err != nil {
		sched = "0 * * * *"
	}

	idle := cfg.IdleTimeout
	if idle <= 0 {
		idle = 30 * time.Minute
	}

	return &Janitor{
		sessions:   sessions,
		operations: operations,
		sched:      sched,
		idle:       idle,
		cron:       cron.New(),
	}
}

// Start schedules the sweep and begins running it in the background.
// Calling Start on a janitor that is already running is a no-op.
func (j *Janitor) Start() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.running {
		return nil
	}

	if _, err := j.cron.AddFunc(j.sched, j.sweep); err != nil {
		return err
	}

	j.cron.Start()
	j.running = true
	logger.Info("janitor started (schedule=%s, idleTimeout=%v)", j.sched, j.idle)
	return nil
}

// Stop halts future sweeps and waits for any in-flight sweep to finish.
func (j *Janitor) Stop(ctx context.Context) {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return
	}
	j.running = false
	j.mu.Unlock()

	stopCtx := j.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}
	logger.Info("janitor stopped")
}

// sweep ends every session idle since the configured timeout and
// releases their pending operations.
func (j *Janitor) sweep() {
	cutoff := time.Now().Add(-j.idle)
	idle := j.sessions.IdleSince(cutoff)

	for _, sessionID := range idle {
		j.operations.CleanupSession(sessionID)
		if j.sessions.End(sessionID) {
			logger.Info("janitor ended idle session %s", sessionID)
		}
	}
}

// RunOnce runs a single sweep synchronously. Exposed for tests and for
// operators who want to trigger a sweep out of band.
func (j *Janitor) RunOnce() {
	j.sweep()
}
