package manifest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vibewatch/vibewatch/internal/storage"
)

func putObject(t *testing.T, store *storage.LocalStorage, objectPath string) {
	t.Helper()
	src := filepath.Join(t.TempDir(), "obj.csv")
	require.NoError(t, os.WriteFile(src, []byte("Employee_ID\n"), 0644))
	require.NoError(t, store.Upload(context.Background(), src, objectPath))
}

func TestReconcile_NoIssues(t *testing.T) {
	catalog := newTestCatalog(t)
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	run := testRun("run-1", "fp", time.Now())
	require.NoError(t, catalog.RecordRun(context.Background(), run, nil))
	putObject(t, store, run.MasterPath)
	putObject(t, store, run.SummaryPath)
	putObject(t, store, "latest/master_df.csv")

	report, err := Reconcile(context.Background(), catalog, store)
	require.NoError(t, err)
	assert.False(t, report.HasIssues())
	assert.Equal(t, 1, report.TotalRuns)
	assert.Equal(t, 2, report.TotalStorageObjects)
}

func TestReconcile_DanglingAndOrphaned(t *testing.T) {
	catalog := newTestCatalog(t)
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	run := testRun("run-1", "fp", time.Now())
	require.NoError(t, catalog.RecordRun(context.Background(), run, nil))
	putObject(t, store, run.MasterPath)
	putObject(t, store, "runs/ghost/master_df.csv")

	report, err := Reconcile(context.Background(), catalog, store)
	require.NoError(t, err)
	assert.True(t, report.HasIssues())
	assert.Equal(t, []DanglingEntry{{RunID: "run-1", ObjectPath: run.SummaryPath}}, report.DanglingEntries)
	assert.Equal(t, []string{"runs/ghost/master_df.csv"}, report.OrphanedObjects)
}
