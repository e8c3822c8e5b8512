// Package stats derives summary counters from the message log and the
// template table. All queries are read-only; an empty log yields zeros,
// never an error.
package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/jholhewres/replyclaw/pkg/replyclaw/store"
)

// Source is the read-only store surface the aggregator consumes.
type Source interface {
	CountLogs(ctx context.Context) (int64, error)
	CountRespondedLogs(ctx context.Context) (int64, error)
	CountActiveTemplates(ctx context.Context) (int64, error)
	RecentLogs(ctx context.Context, n int) ([]*store.LogEntry, error)
	RecentLogsSince(ctx context.Context, since time.Time, n int) ([]*store.LogEntry, error)
}

// Config holds aggregator configuration.
type Config struct {
	// RecentLimit is how many entries the snapshot includes.
	RecentLimit int `yaml:"recent_limit"`

	// ActivityWindow bounds the recent-activity view.
	ActivityWindow time.Duration `yaml:"activity_window"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		RecentLimit:    10,
		ActivityWindow: 24 * time.Hour,
	}
}

// Snapshot is the dashboard statistics payload.
type Snapshot struct {
	TotalMessages   int64             `json:"total_messages"`
	ActiveTemplates int64             `json:"active_templates"`
	ResponseRate    float64           `json:"response_rate"`
	RecentMessages  []*store.LogEntry `json:"recent_messages"`
}

// Aggregator computes statistics over the store.
type Aggregator struct {
	source Source
	cfg    Config
}

// New creates an Aggregator.
func New(source Source, cfg Config) *Aggregator {
	if cfg.RecentLimit < 1 {
		cfg.RecentLimit = DefaultConfig().RecentLimit
	}
	if cfg.ActivityWindow <= 0 {
		cfg.ActivityWindow = DefaultConfig().ActivityWindow
	}
	return &Aggregator{source: source, cfg: cfg}
}

// Snapshot returns the current statistics. The response rate is the share
// of exchanges answered from a template, defined as 0 for an empty log.
func (a *Aggregator) Snapshot(ctx context.Context) (*Snapshot, error) {
	total, err := a.source.CountLogs(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting messages: %w", err)
	}

	responded, err := a.source.CountRespondedLogs(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting responded messages: %w", err)
	}

	active, err := a.source.CountActiveTemplates(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting active templates: %w", err)
	}

	recent, err := a.source.RecentLogs(ctx, a.cfg.RecentLimit)
	if err != nil {
		return nil, fmt.Errorf("listing recent messages: %w", err)
	}

	rate := 0.0
	if total > 0 {
		rate = float64(responded) / float64(total)
	}

	return &Snapshot{
		TotalMessages:   total,
		ActiveTemplates: active,
		ResponseRate:    rate,
		RecentMessages:  recent,
	}, nil
}

// RecentActivity returns the exchanges inside the configured activity
// window (default: last 24 hours), newest first.
func (a *Aggregator) RecentActivity(ctx context.Context) ([]*store.LogEntry, error) {
	since := time.Now().UTC().Add(-a.cfg.ActivityWindow)
	entries, err := a.source.RecentLogsSince(ctx, since, a.cfg.RecentLimit)
	if err != nil {
		return nil, fmt.Errorf("listing recent activity: %w", err)
	}
	return entries, nil
}
