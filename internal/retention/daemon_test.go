package retention

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/vibewatch/vibewatch/internal/config"
	"github.com/vibewatch/vibewatch/internal/features"
	"github.com/vibewatch/vibewatch/internal/manifest"
	"github.com/vibewatch/vibewatch/internal/observability"
	"github.com/vibewatch/vibewatch/internal/pipeline"
	"github.com/vibewatch/vibewatch/internal/storage"
)

func fixturePaths() features.Paths {
	dir := filepath.Join("..", "features", "testdata")
	return features.Paths{
		Activity:    filepath.Join(dir, "activity_tracker_dataset.csv"),
		Leave:       filepath.Join(dir, "leave_dataset.csv"),
		Onboarding:  filepath.Join(dir, "onboarding_dataset.csv"),
		Performance: filepath.Join(dir, "performance_dataset.csv"),
		Rewards:     filepath.Join(dir, "rewards_dataset.csv"),
		Mood:        filepath.Join(dir, "vibemeter_dataset.csv"),
	}
}

func newRunner(t *testing.T) (*pipeline.Runner, *storage.LocalStorage) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewLocalStorage(filepath.Join(dir, "storage"))
	require.NoError(t, err)
	catalog, err := manifest.NewCatalog(filepath.Join(dir, "manifest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { catalog.Close() })

	runner, err := pipeline.NewRunner(pipeline.Options{
		Storage: store,
		Catalog: catalog,
		Stats:   observability.NewProblemStats(time.Hour),
		Config:  config.PipelineConfig{WorkDir: filepath.Join(dir, "work")},
	})
	require.NoError(t, err)
	return runner, store
}

func TestDaemon_RunOnce_ExpiresOlderRuns(t *testing.T) {
	runner, store := newRunner(t)
	ctx := context.Background()

	first, err := runner.Run(ctx, pipeline.RunRequest{Paths: fixturePaths(), Force: true})
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	second, err := runner.Run(ctx, pipeline.RunRequest{Paths: fixturePaths(), Force: true})
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	d := NewDaemon(config.RetentionConfig{TTL: time.Nanosecond, Interval: time.Hour}, runner, zap.NewNop())
	res, err := d.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{first.Run.RunID}, res.ExpiredRuns)
	assert.False(t, res.Reconciliation.HasIssues())
	assert.Equal(t, 1, res.Reconciliation.TotalRuns)

	ok, err := store.Exists(ctx, second.Run.SummaryPath)
	require.NoError(t, err)
	assert.True(t, ok, "the latest successful run is always kept")
}

func TestDaemon_RunOnce_ReportsOrphans(t *testing.T) {
	runner, store := newRunner(t)
	ctx := context.Background()

	_, err := runner.Run(ctx, pipeline.RunRequest{Paths: fixturePaths()})
	require.NoError(t, err)

	stray := filepath.Join(t.TempDir(), "stray.csv")
	require.NoError(t, os.WriteFile(stray, []byte("x\n"), 0644))
	require.NoError(t, store.Upload(ctx, stray, "runs/ghost/anomaly_summary.csv"))

	core, logs := observer.New(zapcore.WarnLevel)
	d := NewDaemon(config.RetentionConfig{Interval: time.Hour}, runner, zap.New(core))
	res, err := d.RunOnce(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.ExpiredRuns, "no TTL, nothing expires")
	assert.Equal(t, []string{"runs/ghost/anomaly_summary.csv"}, res.Reconciliation.OrphanedObjects)
	assert.Equal(t, 1, logs.FilterMessage("stored output has no run").Len())
}

func TestDaemon_StartStop(t *testing.T) {
	runner, _ := newRunner(t)

	d := NewDaemon(config.RetentionConfig{}, runner, nil)
	assert.Error(t, d.Start(context.Background()), "zero interval is rejected")

	d = NewDaemon(config.RetentionConfig{Interval: 10 * time.Millisecond}, runner, nil)
	require.NoError(t, d.Start(context.Background()))
	assert.Error(t, d.Start(context.Background()))
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, d.Stop())
	require.NoError(t, d.Stop())
}
