// Package pipeline runs merge and detect end to end over one input snapshot
// and records the outcome in the run catalog.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vibewatch/vibewatch/internal/config"
	"github.com/vibewatch/vibewatch/internal/detect"
	vwerrors "github.com/vibewatch/vibewatch/internal/errors"
	"github.com/vibewatch/vibewatch/internal/features"
	"github.com/vibewatch/vibewatch/internal/logging"
	"github.com/vibewatch/vibewatch/internal/manifest"
	"github.com/vibewatch/vibewatch/internal/notify"
	"github.com/vibewatch/vibewatch/internal/observability"
	"github.com/vibewatch/vibewatch/internal/storage"
	"github.com/vibewatch/vibewatch/pkg/types"
)

// Stage names used in metrics and logs.
const (
	StageFetch  = "fetch"
	StageMerge  = "merge"
	StageDetect = "detect"
	StageUpload = "upload"
	StageRecord = "record"
	StageAlert  = "alert"
)

// RunRequest selects the input snapshot of a run. Exactly one of DatasetID,
// Objects or Paths is used, in that order of precedence.
type RunRequest struct {
	// DatasetID names a dataset previously stored with SaveDataset.
	DatasetID string

	// Objects maps each source to an object path in storage.
	Objects map[types.Source]string

	// Paths are local files.
	Paths features.Paths

	// Force runs detection even when the same snapshot was already processed.
	Force bool
}

// RunResult is the outcome of a run.
type RunResult struct {
	Run     *manifest.RunRecord
	Flagged []types.AnomalyRecord

	// Reused is set when the result was taken from an earlier run over the
	// same snapshot.
	Reused bool
}

// Options wires a Runner.
type Options struct {
	Storage   storage.ObjectStorage
	Catalog   manifest.Catalog
	Publisher notify.Publisher
	Metrics   *observability.Metrics
	Stats     *observability.ProblemStats
	Logger    *zap.Logger
	Config    config.PipelineConfig
}

// Runner executes pipeline runs. Runs are serialized; the catalog has a
// single writer and the latest/ objects are overwritten by each run.
type Runner struct {
	store     storage.ObjectStorage
	catalog   manifest.Catalog
	publisher notify.Publisher
	metrics   *observability.Metrics
	stats     *observability.ProblemStats
	logger    *zap.Logger
	cfg       config.PipelineConfig

	detector *detect.Detector
	now      func() time.Time
	newID    func() string
	mu       sync.Mutex
}

// NewRunner creates a runner. Storage and Catalog are required.
func NewRunner(opts Options) (*Runner, error) {
	if opts.Storage == nil || opts.Catalog == nil {
		return nil, fmt.Errorf("pipeline: storage and catalog are required")
	}
	logger := logging.OrNop(opts.Logger).With(zap.String("component", "pipeline"))
	publisher := opts.Publisher
	if publisher == nil {
		publisher = notify.NewLogPublisher(opts.Logger)
	}
	workDir := opts.Config.WorkDir
	if workDir == "" {
		workDir = os.TempDir()
	}
	cfg := opts.Config
	cfg.WorkDir = workDir

	return &Runner{
		store:     opts.Storage,
		catalog:   opts.Catalog,
		publisher: publisher,
		metrics:   opts.Metrics,
		stats:     opts.Stats,
		logger:    logger,
		cfg:       cfg,
		detector:  detect.NewDetector(opts.Logger),
		now:       time.Now,
		newID:     uuid.NewString,
	}, nil
}

// Storage returns the object store the runner reads and writes.
func (r *Runner) Storage() storage.ObjectStorage { return r.store }

// Catalog returns the run catalog.
func (r *Runner) Catalog() manifest.Catalog { return r.catalog }

// Stats returns the problem statistics, which may be nil.
func (r *Runner) Stats() *observability.ProblemStats { return r.stats }

// WorkDir returns the scratch directory root.
func (r *Runner) WorkDir() string { return r.cfg.WorkDir }

// Run executes one pipeline run. A run that fails after it has started is
// recorded in the catalog with status failed and the error is returned.
func (r *Runner) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	run := &manifest.RunRecord{
		RunID:          r.newID(),
		DatasetID:      req.DatasetID,
		FeatureVersion: detect.FeatureVersion,
		StartedAt:      r.now(),
	}
	log := r.logger.With(zap.String("run_id", run.RunID))

	dir := filepath.Join(r.cfg.WorkDir, "run-"+run.RunID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, vwerrors.NewStorageError(vwerrors.CodeWriteFailed, "create run dir", err)
	}
	defer os.RemoveAll(dir)

	res, err := r.execute(ctx, req, run, dir, log)
	if err != nil {
		r.fail(run, err, log)
		return nil, err
	}
	return res, nil
}

func (r *Runner) execute(ctx context.Context, req RunRequest, run *manifest.RunRecord, dir string, log *zap.Logger) (*RunResult, error) {
	paths, err := r.inputs(ctx, req, dir)
	if err != nil {
		return nil, err
	}

	fp, err := Fingerprint(paths)
	if err != nil {
		return nil, err
	}
	run.Fingerprint = fp

	if r.cfg.ReuseFingerprint && !req.Force {
		if prev, err := r.catalog.FindRunByFingerprint(ctx, fp, detect.FeatureVersion); err == nil {
			log.Info("snapshot already processed", zap.String("previous_run_id", prev.RunID))
			flagged, err := r.Flagged(ctx, prev.RunID)
			if err != nil {
				return nil, err
			}
			r.metrics.RunFinished("reused")
			return &RunResult{Run: prev, Flagged: flagged, Reused: true}, nil
		} else if vwerrors.GetCode(err) != vwerrors.CodeRunNotFound {
			return nil, err
		}
	}

	masterPath := filepath.Join(dir, MasterFile)
	summaryPath := filepath.Join(dir, SummaryFile)

	start := time.Now()
	master, err := features.MergeFiles(ctx, paths, masterPath)
	r.metrics.ObserveStage(StageMerge, time.Since(start))
	if err != nil {
		return nil, err
	}
	log.Info("master table built", zap.Int("employees", master.Len()), zap.Int("columns", len(master.Columns())))

	start = time.Now()
	result, err := r.detector.Detect(ctx, master)
	if err == nil {
		err = writeSummary(result.Flagged, summaryPath)
	}
	r.metrics.ObserveStage(StageDetect, time.Since(start))
	if err != nil {
		return nil, err
	}
	log.Info("detection finished",
		zap.Int("flagged", len(result.Flagged)),
		zap.Float64("offset", result.Offset),
		zap.Strings("dropped_features", result.Dropped))

	start = time.Now()
	run.MasterPath = storage.Join(RunsPrefix, run.RunID, MasterFile)
	run.SummaryPath = storage.Join(RunsPrefix, run.RunID, SummaryFile)
	err = r.upload(ctx, map[string]string{
		masterPath:  run.MasterPath,
		summaryPath: run.SummaryPath,
	})
	r.metrics.ObserveStage(StageUpload, time.Since(start))
	if err != nil {
		return nil, err
	}

	run.Status = manifest.StatusSucceeded
	run.EmployeeCount = master.Len()
	run.Offset = result.Offset
	run.FinishedAt = r.now()
	records := make([]*manifest.FlaggedRecord, len(result.Flagged))
	for i, a := range result.Flagged {
		records[i] = manifest.FromAnomaly(run.RunID, i+1, a)
	}

	start = time.Now()
	err = r.catalog.RecordRun(ctx, run, records)
	r.metrics.ObserveStage(StageRecord, time.Since(start))
	if err != nil {
		return nil, err
	}

	// latest/ only moves once the run is durable in the catalog.
	if err := r.upload(ctx, map[string]string{
		masterPath:  storage.Join(LatestPrefix, MasterFile),
		summaryPath: storage.Join(LatestPrefix, SummaryFile),
	}); err != nil {
		log.Warn("failed to refresh latest outputs", zap.Error(err))
	}

	r.stats.Record(result.Flagged)
	r.metrics.SetLatest(run.EmployeeCount, run.FlaggedCount)
	r.metrics.RunFinished(manifest.StatusSucceeded)
	r.alert(ctx, run, result.Flagged, log)

	log.Info("run succeeded",
		zap.Int("employees", run.EmployeeCount),
		zap.Int("flagged", run.FlaggedCount),
		zap.Duration("elapsed", run.FinishedAt.Sub(run.StartedAt)))
	return &RunResult{Run: run, Flagged: result.Flagged}, nil
}

func writeSummary(flagged []types.AnomalyRecord, path string) error {
	summary, err := detect.SummaryTable(flagged)
	if err != nil {
		return vwerrors.NewInternalError("render summary", err)
	}
	if err := summary.WriteCSVFile(path); err != nil {
		return vwerrors.NewStorageError(vwerrors.CodeWriteFailed, "write anomaly summary", err)
	}
	return nil
}

// inputs resolves the request to six local files under dir.
func (r *Runner) inputs(ctx context.Context, req RunRequest, dir string) (features.Paths, error) {
	objects := req.Objects
	if req.DatasetID != "" {
		objects = DatasetObjects(req.DatasetID)
	}
	if len(objects) == 0 {
		return req.Paths, req.Paths.Validate()
	}

	start := time.Now()
	defer func() { r.metrics.ObserveStage(StageFetch, time.Since(start)) }()

	batch := BatchRequestFor(objects)
	res, err := storage.NewBatchDownloader(r.store, r.cfg.DownloadConcurrency).Download(ctx, batch, filepath.Join(dir, "inputs"))
	if err != nil {
		return features.Paths{}, vwerrors.NewStorageError(vwerrors.CodeDownloadFailed, "fetch inputs", err)
	}
	if err := res.Err(); err != nil {
		code := vwerrors.CodeDownloadFailed
		if errors.Is(err, storage.ErrObjectNotFound) {
			code = vwerrors.CodeObjectNotFound
		}
		return features.Paths{}, vwerrors.NewStorageError(code, "fetch inputs", err)
	}

	var paths features.Paths
	for _, src := range types.AllSources() {
		paths.Set(src, res.LocalPaths[FileName(src)])
	}
	return paths, paths.Validate()
}

// BatchRequestFor downloads each source object under its canonical file name.
func BatchRequestFor(objects map[types.Source]string) *storage.BatchRequest {
	req := &storage.BatchRequest{Objects: make(map[string]string, len(objects))}
	for src, obj := range objects {
		req.Objects[FileName(src)] = obj
	}
	return req
}

func (r *Runner) upload(ctx context.Context, files map[string]string) error {
	for local, obj := range files {
		if err := r.store.Upload(ctx, local, obj); err != nil {
			return vwerrors.NewStorageError(vwerrors.CodeUploadFailed, "upload "+obj, err)
		}
	}
	return nil
}

func (r *Runner) alert(ctx context.Context, run *manifest.RunRecord, flagged []types.AnomalyRecord, log *zap.Logger) {
	if len(flagged) == 0 {
		return
	}
	start := time.Now()
	err := r.publisher.Publish(ctx, notify.NewAlerts(run.RunID, flagged, run.FinishedAt))
	r.metrics.ObserveStage(StageAlert, time.Since(start))
	if err != nil {
		r.metrics.AlertsPublished("failed", len(flagged))
		log.Warn("failed to publish alerts", zap.Int("alerts", len(flagged)), zap.Error(err))
		return
	}
	r.metrics.AlertsPublished("published", len(flagged))
}

// fail records a failed run. The original context may be cancelled, so the
// record gets its own short deadline.
func (r *Runner) fail(run *manifest.RunRecord, cause error, log *zap.Logger) {
	r.metrics.RunFinished(manifest.StatusFailed)
	log.Error("run failed",
		zap.String("error_code", vwerrors.GetCode(cause)),
		zap.Error(cause))

	run.Status = manifest.StatusFailed
	run.ErrorMessage = cause.Error()
	run.MasterPath = ""
	run.SummaryPath = ""
	run.FinishedAt = r.now()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.catalog.RecordRun(ctx, run, nil); err != nil {
		log.Warn("failed to record failed run", zap.Error(err))
	}
}

// Latest returns the latest successful run and its flagged employees.
func (r *Runner) Latest(ctx context.Context) (*RunResult, error) {
	run, err := r.catalog.LatestRun(ctx)
	if err != nil {
		return nil, err
	}
	flagged, err := r.Flagged(ctx, run.RunID)
	if err != nil {
		return nil, err
	}
	return &RunResult{Run: run, Flagged: flagged}, nil
}

// Get returns a run and its flagged employees.
func (r *Runner) Get(ctx context.Context, runID string) (*RunResult, error) {
	run, err := r.catalog.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	flagged, err := r.Flagged(ctx, run.RunID)
	if err != nil {
		return nil, err
	}
	return &RunResult{Run: run, Flagged: flagged}, nil
}

// Flagged returns the flagged employees of a run, most anomalous first.
func (r *Runner) Flagged(ctx context.Context, runID string) ([]types.AnomalyRecord, error) {
	records, err := r.catalog.ListFlagged(ctx, runID)
	if err != nil {
		return nil, err
	}
	out := make([]types.AnomalyRecord, len(records))
	for i, f := range records {
		out[i] = f.Anomaly()
	}
	return out, nil
}

// Expire deletes runs older than ttl from the catalog along with their
// stored outputs, keeping the latest successful run.
func (r *Runner) Expire(ctx context.Context, ttl time.Duration) ([]string, error) {
	ids, err := r.catalog.DeleteExpired(ctx, ttl)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		for _, name := range []string{MasterFile, SummaryFile} {
			obj := storage.Join(RunsPrefix, id, name)
			if err := r.store.Delete(ctx, obj); err != nil {
				r.logger.Warn("failed to delete expired output", zap.String("object", obj), zap.Error(err))
			}
		}
	}
	if len(ids) > 0 {
		r.logger.Info("expired runs deleted", zap.Int("runs", len(ids)))
	}
	return ids, nil
}
