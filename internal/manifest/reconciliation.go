package manifest

import (
	"context"
	"strings"
	"time"

	vwerrors "github.com/vibewatch/vibewatch/internal/errors"
	"github.com/vibewatch/vibewatch/internal/storage"
)

// RunsPrefix is the storage prefix under which per-run outputs live.
const RunsPrefix = "runs/"

// ReconciliationReport contains the results of a catalog-storage reconciliation.
type ReconciliationReport struct {
	// DanglingEntries are run outputs recorded in the catalog but missing from storage.
	DanglingEntries []DanglingEntry
	// OrphanedObjects are objects under RunsPrefix whose run is not in the catalog.
	OrphanedObjects []string
	// TotalRuns is the number of runs checked.
	TotalRuns int
	// TotalStorageObjects is the number of storage objects scanned.
	TotalStorageObjects int
	RunAt               time.Time
}

// DanglingEntry is a catalog record pointing to a missing storage object.
type DanglingEntry struct {
	RunID      string
	ObjectPath string
}

// HasIssues returns true if the report contains any dangling entries or orphaned objects.
func (r *ReconciliationReport) HasIssues() bool {
	return len(r.DanglingEntries) > 0 || len(r.OrphanedObjects) > 0
}

// Reconcile checks that every recorded output exists in storage and that
// every stored run output belongs to a recorded run.
func Reconcile(ctx context.Context, catalog Catalog, store storage.ObjectStorage) (*ReconciliationReport, error) {
	report := &ReconciliationReport{RunAt: time.Now()}

	runs, err := catalog.ListRuns(ctx, 0)
	if err != nil {
		return nil, err
	}
	report.TotalRuns = len(runs)

	known := make(map[string]bool, len(runs))
	for _, r := range runs {
		known[r.RunID] = true
		for _, p := range []string{r.MasterPath, r.SummaryPath} {
			if p == "" {
				continue
			}
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			exists, err := store.Exists(ctx, p)
			if err != nil {
				return nil, vwerrors.NewStorageError(vwerrors.CodeDownloadFailed, "check object "+p, err)
			}
			if !exists {
				report.DanglingEntries = append(report.DanglingEntries, DanglingEntry{RunID: r.RunID, ObjectPath: p})
			}
		}
	}

	objects, err := store.ListObjects(ctx, RunsPrefix)
	if err != nil {
		return nil, vwerrors.NewStorageError(vwerrors.CodeDownloadFailed, "list run outputs", err)
	}
	report.TotalStorageObjects = len(objects)
	for _, obj := range objects {
		rest := strings.TrimPrefix(obj, RunsPrefix)
		runID, _, _ := strings.Cut(rest, "/")
		if !known[runID] {
			report.OrphanedObjects = append(report.OrphanedObjects, obj)
		}
	}
	return report, nil
}
