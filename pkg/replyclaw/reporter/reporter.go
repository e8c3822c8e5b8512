// Package reporter periodically logs an activity summary derived from
// the stats aggregator, so operators can follow message volume without
// polling the HTTP API.
package reporter

import (
	"context"
	"time"

	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/jholhewres/replyclaw/pkg/replyclaw/stats"
)

// Config holds reporter configuration.
type Config struct {
	// Enabled turns the periodic summary on.
	Enabled bool `yaml:"enabled"`

	// Schedule is a cron expression (default: hourly).
	Schedule string `yaml:"schedule"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:  true,
		Schedule: "0 * * * *",
	}
}

// Reporter runs the scheduled summary job.
type Reporter struct {
	agg    *stats.Aggregator
	cfg    Config
	logger *slog.Logger
	cron   *cron.Cron

	// jobCtx is the detached context the scheduled job runs on.
	jobCtx context.Context
}

// New creates a Reporter.
func New(agg *stats.Aggregator, cfg Config, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultConfig().Schedule
	}
	return &Reporter{
		agg:    agg,
		cfg:    cfg,
		logger: logger.With("component", "reporter"),
	}
}

// Start schedules the summary job. No-op when disabled.
func (r *Reporter) Start(ctx context.Context) error {
	if !r.cfg.Enabled {
		return nil
	}

	r.cron = cron.New(cron.WithParser(cron.NewParser(
		cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)))

	// A job firing between the shutdown signal and Stop must still run
	// its queries, so it is detached from the caller's cancellation.
	r.jobCtx = context.WithoutCancel(ctx)

	_, err := r.cron.AddFunc(r.cfg.Schedule, func() {
		r.logSummary(r.jobCtx)
	})
	if err != nil {
		return err
	}

	r.cron.Start()
	r.logger.Info("reporter started", "schedule", r.cfg.Schedule)
	return nil
}

// Stop stops the cron scheduler and waits for a running job to finish.
func (r *Reporter) Stop() {
	if r.cron == nil {
		return
	}
	stopCtx := r.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(5 * time.Second):
		r.logger.Warn("reporter job still running at stop timeout")
	}
}

// logSummary emits one summary log line. Failures are logged, never fatal.
func (r *Reporter) logSummary(ctx context.Context) {
	snapshot, err := r.agg.Snapshot(ctx)
	if err != nil {
		r.logger.Error("activity summary failed", "error", err)
		return
	}

	recent, err := r.agg.RecentActivity(ctx)
	if err != nil {
		r.logger.Error("recent activity query failed", "error", err)
		return
	}

	r.logger.Info("activity summary",
		"total_messages", snapshot.TotalMessages,
		"active_templates", snapshot.ActiveTemplates,
		"response_rate", snapshot.ResponseRate,
		"recent_window_messages", len(recent),
	)
}
