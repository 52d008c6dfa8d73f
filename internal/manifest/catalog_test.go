package manifest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vwerrors "github.com/vibewatch/vibewatch/internal/errors"
	"github.com/vibewatch/vibewatch/pkg/types"
)

func newTestCatalog(t *testing.T) *SQLiteCatalog {
	t.Helper()
	catalog, err := NewCatalog(filepath.Join(t.TempDir(), "manifest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { catalog.Close() })
	return catalog
}

func testRun(id, fingerprint string, finished time.Time) *RunRecord {
	return &RunRecord{
		RunID:          id,
		DatasetID:      "ds-1",
		Fingerprint:    fingerprint,
		Status:         StatusSucceeded,
		FeatureVersion: "v1",
		EmployeeCount:  100,
		Offset:         -0.48,
		MasterPath:     "runs/" + id + "/master_df.csv",
		SummaryPath:    "runs/" + id + "/anomaly_summary.csv",
		StartedAt:      finished.Add(-time.Second),
		FinishedAt:     finished,
	}
}

func testFlagged() []*FlaggedRecord {
	return []*FlaggedRecord{
		FromAnomaly("", 1, types.AnomalyRecord{
			EmployeeID: "EMP0042",
			Score:      -0.031,
			Problems: []types.Contribution{
				{Feature: "Decayed Vibe Score", Magnitude: 0.41},
				{Feature: "Sick Leave Impact Factor", Magnitude: 0.12},
			},
			OtherProblems:    []types.Contribution{},
			AverageWorkHours: types.Some(11.5),
			VibeFactor:       types.Some(-2.25),
		}),
		FromAnomaly("", 2, types.AnomalyRecord{
			EmployeeID: "EMP0007",
			Score:      -0.004,
		}),
	}
}

func TestCatalog_RecordAndGet(t *testing.T) {
	catalog := newTestCatalog(t)
	ctx := context.Background()
	now := time.UnixMilli(time.Now().UnixMilli()).UTC()

	run := testRun("run-1", "fp-a", now)
	require.NoError(t, catalog.RecordRun(ctx, run, testFlagged()))
	assert.Equal(t, 2, run.FlaggedCount)

	got, err := catalog.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, run, got)

	flagged, err := catalog.ListFlagged(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, flagged, 2)
	assert.Equal(t, "EMP0042", flagged[0].EmployeeID)
	assert.Equal(t, "run-1", flagged[0].RunID)
	assert.Equal(t, 0.41, flagged[0].Problems[0].Magnitude)
	assert.Equal(t, types.Some(11.5), flagged[0].AverageWorkHours)
	assert.False(t, flagged[0].RewardFactor.Valid)
	assert.Equal(t, []types.Contribution{}, flagged[1].Problems)

	one, err := catalog.GetFlagged(ctx, "run-1", "EMP0007")
	require.NoError(t, err)
	assert.Equal(t, 2, one.Rank)
	assert.Equal(t, types.LabelAnomalous, one.Anomaly().Label)
}

func TestCatalog_DuplicateRunIsConflict(t *testing.T) {
	catalog := newTestCatalog(t)
	ctx := context.Background()

	require.NoError(t, catalog.RecordRun(ctx, testRun("run-1", "fp", time.Now()), nil))
	err := catalog.RecordRun(ctx, testRun("run-1", "fp", time.Now()), nil)
	assert.Equal(t, vwerrors.CodeWriteConflict, vwerrors.GetCode(err))
}

func TestCatalog_NotFound(t *testing.T) {
	catalog := newTestCatalog(t)
	ctx := context.Background()

	_, err := catalog.GetRun(ctx, "nope")
	assert.Equal(t, vwerrors.CodeRunNotFound, vwerrors.GetCode(err))
	_, err = catalog.LatestRun(ctx)
	assert.Equal(t, vwerrors.CodeRunNotFound, vwerrors.GetCode(err))
	_, err = catalog.ListFlagged(ctx, "nope")
	assert.Equal(t, vwerrors.CodeRunNotFound, vwerrors.GetCode(err))

	require.NoError(t, catalog.RecordRun(ctx, testRun("run-1", "fp", time.Now()), nil))
	flagged, err := catalog.ListFlagged(ctx, "run-1")
	require.NoError(t, err)
	assert.Empty(t, flagged)
	_, err = catalog.GetFlagged(ctx, "run-1", "EMP1")
	assert.Equal(t, vwerrors.CodeRunNotFound, vwerrors.GetCode(err))
}

func TestCatalog_LatestAndFingerprint(t *testing.T) {
	catalog := newTestCatalog(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	require.NoError(t, catalog.RecordRun(ctx, testRun("run-1", "fp-a", base), nil))
	require.NoError(t, catalog.RecordRun(ctx, testRun("run-2", "fp-b", base.Add(time.Minute)), nil))
	failed := testRun("run-3", "fp-a", base.Add(2*time.Minute))
	failed.Status = StatusFailed
	failed.ErrorMessage = "[INPUT:MISSING_COLUMN] missing column"
	require.NoError(t, catalog.RecordRun(ctx, failed, nil))

	latest, err := catalog.LatestRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, "run-2", latest.RunID)

	byFP, err := catalog.FindRunByFingerprint(ctx, "fp-a", "v1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", byFP.RunID)

	_, err = catalog.FindRunByFingerprint(ctx, "fp-a", "v2")
	assert.Equal(t, vwerrors.CodeRunNotFound, vwerrors.GetCode(err))

	runs, err := catalog.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "run-3", runs[0].RunID)
	assert.Equal(t, failed.ErrorMessage, runs[0].ErrorMessage)

	runs, err = catalog.ListRuns(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestCatalog_DeleteExpiredKeepsLatest(t *testing.T) {
	catalog := newTestCatalog(t)
	ctx := context.Background()
	old := time.Now().Add(-48 * time.Hour)

	require.NoError(t, catalog.RecordRun(ctx, testRun("run-1", "fp", old), testFlagged()))
	require.NoError(t, catalog.RecordRun(ctx, testRun("run-2", "fp", old.Add(time.Hour)), nil))

	deleted, err := catalog.DeleteExpired(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []string{"run-1"}, deleted)

	_, err = catalog.GetRun(ctx, "run-1")
	assert.Equal(t, vwerrors.CodeRunNotFound, vwerrors.GetCode(err))
	_, err = catalog.GetRun(ctx, "run-2")
	assert.NoError(t, err)
}

func TestCatalog_ReopenKeepsRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.db")
	catalog, err := NewCatalog(path)
	require.NoError(t, err)
	require.NoError(t, catalog.RecordRun(context.Background(), testRun("run-1", "fp", time.Now()), testFlagged()))
	require.NoError(t, catalog.Close())

	reopened, err := NewCatalog(path)
	require.NoError(t, err)
	defer reopened.Close()
	flagged, err := reopened.ListFlagged(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Len(t, flagged, 2)
}
