// Package retention runs background maintenance: expiring old runs, pruning
// the recurring problem statistics and reconciling the catalog with storage.
package retention

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vibewatch/vibewatch/internal/config"
	"github.com/vibewatch/vibewatch/internal/logging"
	"github.com/vibewatch/vibewatch/internal/manifest"
	"github.com/vibewatch/vibewatch/internal/pipeline"
)

// CycleResult is the outcome of one maintenance cycle.
type CycleResult struct {
	ExpiredRuns    []string
	Reconciliation *manifest.ReconciliationReport
}

// Daemon runs maintenance cycles on an interval.
type Daemon struct {
	cfg    config.RetentionConfig
	runner *pipeline.Runner
	logger *zap.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewDaemon creates a maintenance daemon for runner.
func NewDaemon(cfg config.RetentionConfig, runner *pipeline.Runner, logger *zap.Logger) *Daemon {
	return &Daemon{
		cfg:    cfg,
		runner: runner,
		logger: logging.OrNop(logger).With(zap.String("component", "retention")),
	}
}

// Start begins the maintenance loop. It runs until the context is cancelled
// or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	if d.cfg.Interval <= 0 {
		return fmt.Errorf("retention: interval must be positive")
	}

	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("retention: daemon is already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.running = true
	d.done = make(chan struct{})
	d.mu.Unlock()

	go d.run(ctx)
	return nil
}

// Stop stops the loop and waits for the current cycle to finish.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return nil
	}
	d.cancel()
	<-d.done
	d.running = false
	return nil
}

func (d *Daemon) run(ctx context.Context) {
	defer close(d.done)

	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.RunOnce(ctx); err != nil && ctx.Err() == nil {
				d.logger.Warn("maintenance cycle failed", zap.Error(err))
			}
		}
	}
}

// RunOnce performs one cycle. Expiry runs only when a TTL is configured.
// Reconciliation issues are logged, never repaired.
func (d *Daemon) RunOnce(ctx context.Context) (*CycleResult, error) {
	result := &CycleResult{}

	if d.cfg.TTL > 0 {
		ids, err := d.runner.Expire(ctx, d.cfg.TTL)
		if err != nil {
			return nil, fmt.Errorf("retention: expire runs: %w", err)
		}
		result.ExpiredRuns = ids
	}

	if stats := d.runner.Stats(); stats != nil {
		stats.Prune()
	}

	report, err := Reconcile(ctx, d.runner, d.logger)
	if err != nil {
		return nil, err
	}
	result.Reconciliation = report
	return result, nil
}

// Reconcile compares the run catalog with stored outputs and logs what
// does not line up.
func Reconcile(ctx context.Context, runner *pipeline.Runner, logger *zap.Logger) (*manifest.ReconciliationReport, error) {
	logger = logging.OrNop(logger)

	report, err := manifest.Reconcile(ctx, runner.Catalog(), runner.Storage())
	if err != nil {
		return nil, fmt.Errorf("retention: reconcile: %w", err)
	}
	if !report.HasIssues() {
		logger.Debug("catalog and storage consistent",
			zap.Int("runs", report.TotalRuns),
			zap.Int("objects", report.TotalStorageObjects))
		return report, nil
	}

	for _, e := range report.DanglingEntries {
		logger.Warn("run output missing from storage",
			zap.String("run_id", e.RunID),
			zap.String("object", e.ObjectPath))
	}
	for _, obj := range report.OrphanedObjects {
		logger.Warn("stored output has no run", zap.String("object", obj))
	}
	return report, nil
}
