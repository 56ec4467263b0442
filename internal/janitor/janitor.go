// Package janitor reclaims disk and memory held by finished conversions.
// Results are retained for a bounded period after completion; once it lapses
// the bundle, the working directory, and the registry record are released.
package janitor

import (
	"log/slog"
	"os"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mdlforge/conversiond/internal/job"
	"github.com/mdlforge/conversiond/internal/ratelimit"
)

// Config holds janitor configuration.
type Config struct {
	Logger    *slog.Logger
	Registry  *job.Registry
	Limiter   *ratelimit.Limiter
	Retention time.Duration
	Schedule  string
}

// Janitor periodically evicts expired terminal jobs and their files.
type Janitor struct {
	logger    *slog.Logger
	registry  *job.Registry
	limiter   *ratelimit.Limiter
	retention time.Duration
	schedule  string
	cron      *cron.Cron
	now       func() time.Time
}

// New creates a janitor; Start schedules it.
func New(cfg *Config) *Janitor {
	return &Janitor{
		logger:    cfg.Logger,
		registry:  cfg.Registry,
		limiter:   cfg.Limiter,
		retention: cfg.Retention,
		schedule:  cfg.Schedule,
		cron:      cron.New(),
		now:       time.Now,
	}
}

// Start schedules periodic sweeps.
func (j *Janitor) Start() error {
	if _, err := j.cron.AddFunc(j.schedule, j.Sweep); err != nil {
		return err
	}
	j.cron.Start()

	j.logger.Info("Janitor started",
		slog.String("schedule", j.schedule),
		slog.Duration("retention", j.retention),
	)
	return nil
}

// Stop halts scheduling and waits for a running sweep to finish.
func (j *Janitor) Stop() {
	ctx := j.cron.Stop()
	<-ctx.Done()
	j.logger.Info("Janitor stopped")
}

// Sweep evicts terminal jobs past retention, deletes their files, and drops
// idle rate limiter entries. Jobs still queued or processing are untouched.
func (j *Janitor) Sweep() {
	cutoff := j.now().Add(-j.retention)
	evicted := j.registry.EvictTerminalBefore(cutoff)

	for _, expired := range evicted {
		if expired.WorkDir != "" {
			if err := os.RemoveAll(expired.WorkDir); err != nil {
				j.logger.Error("Failed to remove expired working directory",
					slog.String("job_id", expired.ID),
					slog.String("dir", expired.WorkDir),
					slog.Any("error", err),
				)
			}
		}
	}

	j.limiter.Evict()

	if len(evicted) > 0 {
		j.logger.Info("Expired jobs evicted",
			slog.Int("count", len(evicted)),
		)
	}
}
