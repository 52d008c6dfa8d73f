package manifest

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	"github.com/golang/snappy"
	_ "github.com/mattn/go-sqlite3"

	vwerrors "github.com/vibewatch/vibewatch/internal/errors"
	"github.com/vibewatch/vibewatch/pkg/types"
)

// Run statuses.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Catalog records pipeline runs and their flagged employees.
type Catalog interface {
	// RecordRun stores a run and its flagged employees atomically.
	RecordRun(ctx context.Context, run *RunRecord, flagged []*FlaggedRecord) error

	// FindRunByFingerprint returns the latest successful run over the same
	// input snapshot and feature version.
	FindRunByFingerprint(ctx context.Context, fingerprint, featureVersion string) (*RunRecord, error)

	// GetRun retrieves a single run by ID.
	GetRun(ctx context.Context, runID string) (*RunRecord, error)

	// LatestRun returns the most recently finished successful run.
	LatestRun(ctx context.Context) (*RunRecord, error)

	// ListRuns returns up to limit runs, newest first.
	ListRuns(ctx context.Context, limit int) ([]*RunRecord, error)

	// ListFlagged returns the flagged employees of a run, most anomalous first.
	ListFlagged(ctx context.Context, runID string) ([]*FlaggedRecord, error)

	// GetFlagged returns one flagged employee of a run.
	GetFlagged(ctx context.Context, runID, employeeID string) (*FlaggedRecord, error)

	// DeleteExpired removes runs finished before now minus ttl, except the
	// latest successful run, and returns their IDs.
	DeleteExpired(ctx context.Context, ttl time.Duration) ([]string, error)

	// Close closes the catalog database connections.
	Close() error
}

// RunRecord is one pipeline run.
type RunRecord struct {
	RunID          string
	DatasetID      string
	Fingerprint    string
	Status         string
	ErrorMessage   string
	FeatureVersion string
	EmployeeCount  int
	FlaggedCount   int
	Offset         float64
	MasterPath     string
	SummaryPath    string
	StartedAt      time.Time
	FinishedAt     time.Time
}

// FlaggedRecord is one flagged employee of a run.
type FlaggedRecord struct {
	RunID      string
	EmployeeID string
	Rank       int
	Score      float64

	Problems          []types.Contribution
	OtherProblems     []types.Contribution
	AverageWorkHours  types.OptionalFloat
	RewardFactor      types.OptionalFloat
	PerformanceRating types.OptionalFloat
	VibeFactor        types.OptionalFloat
}

// FromAnomaly converts a detector record at the given rank.
func FromAnomaly(runID string, rank int, r types.AnomalyRecord) *FlaggedRecord {
	return &FlaggedRecord{
		RunID:             runID,
		EmployeeID:        r.EmployeeID,
		Rank:              rank,
		Score:             r.Score,
		Problems:          r.Problems,
		OtherProblems:     r.OtherProblems,
		AverageWorkHours:  r.AverageWorkHours,
		RewardFactor:      r.RewardFactor,
		PerformanceRating: r.PerformanceRating,
		VibeFactor:        r.VibeFactor,
	}
}

// Anomaly converts the record back into a detector record.
func (f *FlaggedRecord) Anomaly() types.AnomalyRecord {
	return types.AnomalyRecord{
		EmployeeID:        f.EmployeeID,
		Score:             f.Score,
		Label:             types.LabelAnomalous,
		Problems:          f.Problems,
		OtherProblems:     f.OtherProblems,
		AverageWorkHours:  f.AverageWorkHours,
		RewardFactor:      f.RewardFactor,
		PerformanceRating: f.PerformanceRating,
		VibeFactor:        f.VibeFactor,
	}
}

// flaggedPayload is the JSON stored, snappy-compressed, in the payload column.
type flaggedPayload struct {
	Problems          []types.Contribution `json:"problems"`
	OtherProblems     []types.Contribution `json:"other_problems"`
	AverageWorkHours  *float64             `json:"average_work_hours,omitempty"`
	RewardFactor      *float64             `json:"reward_factor,omitempty"`
	PerformanceRating *float64             `json:"performance_rating,omitempty"`
	VibeFactor        *float64             `json:"vibe_factor,omitempty"`
}

func optionalPtr(v types.OptionalFloat) *float64 {
	if !v.Valid {
		return nil
	}
	x := v.Value
	return &x
}

func ptrOptional(p *float64) types.OptionalFloat {
	if p == nil {
		return types.OptionalFloat{}
	}
	return types.Some(*p)
}

func encodePayload(f *FlaggedRecord) ([]byte, error) {
	p := flaggedPayload{
		Problems:          f.Problems,
		OtherProblems:     f.OtherProblems,
		AverageWorkHours:  optionalPtr(f.AverageWorkHours),
		RewardFactor:      optionalPtr(f.RewardFactor),
		PerformanceRating: optionalPtr(f.PerformanceRating),
		VibeFactor:        optionalPtr(f.VibeFactor),
	}
	if p.Problems == nil {
		p.Problems = []types.Contribution{}
	}
	if p.OtherProblems == nil {
		p.OtherProblems = []types.Contribution{}
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return snappy.Encode(nil, raw), nil
}

func decodePayload(data []byte, f *FlaggedRecord) error {
	raw, err := snappy.Decode(nil, data)
	if err != nil {
		return err
	}
	var p flaggedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return err
	}
	f.Problems = p.Problems
	f.OtherProblems = p.OtherProblems
	f.AverageWorkHours = ptrOptional(p.AverageWorkHours)
	f.RewardFactor = ptrOptional(p.RewardFactor)
	f.PerformanceRating = ptrOptional(p.PerformanceRating)
	f.VibeFactor = ptrOptional(p.VibeFactor)
	return nil
}

// SQLiteCatalog implements Catalog using SQLite.
type SQLiteCatalog struct {
	db     *sql.DB // write connection (single writer)
	readDB *sql.DB // read-only pool
	dbPath string
	mu     sync.Mutex // serialises writes
}

// NewCatalog opens or creates the catalog at dbPath.
func NewCatalog(dbPath string) (*SQLiteCatalog, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, vwerrors.NewManifestError(vwerrors.CodeUnexpected, "open database", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	catalog := &SQLiteCatalog{db: db, dbPath: dbPath}

	// Schema must exist before a read-only connection can open the file.
	if err := catalog.initSchema(); err != nil {
		db.Close()
		return nil, vwerrors.NewManifestError(vwerrors.CodeUnexpected, "initialize schema", err)
	}

	readDB, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&mode=ro")
	if err != nil {
		db.Close()
		return nil, vwerrors.NewManifestError(vwerrors.CodeUnexpected, "open read database", err)
	}
	readDB.SetMaxOpenConns(4)
	readDB.SetMaxIdleConns(4)
	readDB.SetConnMaxLifetime(5 * time.Minute)
	catalog.readDB = readDB

	return catalog, nil
}

func (c *SQLiteCatalog) initSchema() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, stmt := range AllSchemaSQL() {
		if _, err := c.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// RecordRun stores a run and its flagged employees in one transaction. A run
// ID that already exists is a write conflict.
func (c *SQLiteCatalog) RecordRun(ctx context.Context, run *RunRecord, flagged []*FlaggedRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return vwerrors.NewManifestError(vwerrors.CodeUnexpected, "begin transaction", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs WHERE run_id = ?", run.RunID).Scan(&exists)
	if err != nil {
		return vwerrors.NewManifestError(vwerrors.CodeUnexpected, "check run id", err)
	}
	if exists > 0 {
		return vwerrors.NewManifestError(vwerrors.CodeWriteConflict, "run already recorded", nil).
			WithDetails(map[string]interface{}{"run_id": run.RunID})
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (
			run_id, dataset_id, fingerprint, status, error_message, feature_version,
			employee_count, flagged_count, decision_offset, master_path, summary_path,
			started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.DatasetID, run.Fingerprint, run.Status, nullString(run.ErrorMessage), run.FeatureVersion,
		run.EmployeeCount, len(flagged), run.Offset, nullString(run.MasterPath), nullString(run.SummaryPath),
		run.StartedAt.UnixMilli(), run.FinishedAt.UnixMilli(),
	)
	if err != nil {
		return vwerrors.NewManifestError(vwerrors.CodeUnexpected, "insert run", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO flagged_employees (run_id, employee_id, rank, score, payload)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return vwerrors.NewManifestError(vwerrors.CodeUnexpected, "prepare flagged insert", err)
	}
	defer stmt.Close()

	for _, f := range flagged {
		payload, err := encodePayload(f)
		if err != nil {
			return vwerrors.NewManifestError(vwerrors.CodeUnexpected, "encode flagged payload", err)
		}
		if _, err := stmt.ExecContext(ctx, run.RunID, f.EmployeeID, f.Rank, f.Score, payload); err != nil {
			return vwerrors.NewManifestError(vwerrors.CodeUnexpected, "insert flagged employee", err).
				WithDetails(map[string]interface{}{"employee_id": f.EmployeeID})
		}
	}

	if err := tx.Commit(); err != nil {
		return vwerrors.NewManifestError(vwerrors.CodeUnexpected, "commit run", err)
	}
	run.FlaggedCount = len(flagged)
	return nil
}

const runColumns = `
	run_id, dataset_id, fingerprint, status, error_message, feature_version,
	employee_count, flagged_count, decision_offset, master_path, summary_path,
	started_at, finished_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*RunRecord, error) {
	var (
		r                   RunRecord
		errMsg, master, sum sql.NullString
		offset              sql.NullFloat64
		started, finished   int64
	)
	err := row.Scan(
		&r.RunID, &r.DatasetID, &r.Fingerprint, &r.Status, &errMsg, &r.FeatureVersion,
		&r.EmployeeCount, &r.FlaggedCount, &offset, &master, &sum,
		&started, &finished,
	)
	if err != nil {
		return nil, err
	}
	r.ErrorMessage = errMsg.String
	r.Offset = offset.Float64
	r.MasterPath = master.String
	r.SummaryPath = sum.String
	r.StartedAt = time.UnixMilli(started).UTC()
	r.FinishedAt = time.UnixMilli(finished).UTC()
	return &r, nil
}

func (c *SQLiteCatalog) queryRun(ctx context.Context, what string, query string, args ...interface{}) (*RunRecord, error) {
	r, err := scanRun(c.readDB.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, vwerrors.NewManifestError(vwerrors.CodeRunNotFound, what+" not found", nil)
	}
	if err != nil {
		return nil, vwerrors.NewManifestError(vwerrors.CodeUnexpected, "scan run", err)
	}
	return r, nil
}

// FindRunByFingerprint returns the latest successful run over the same inputs.
func (c *SQLiteCatalog) FindRunByFingerprint(ctx context.Context, fingerprint, featureVersion string) (*RunRecord, error) {
	return c.queryRun(ctx, "run for fingerprint",
		`SELECT`+runColumns+` FROM runs
		 WHERE fingerprint = ? AND feature_version = ? AND status = ?
		 ORDER BY finished_at DESC LIMIT 1`,
		fingerprint, featureVersion, StatusSucceeded)
}

// GetRun retrieves a single run by ID.
func (c *SQLiteCatalog) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	return c.queryRun(ctx, "run "+runID, `SELECT`+runColumns+` FROM runs WHERE run_id = ?`, runID)
}

// LatestRun returns the most recently finished successful run.
func (c *SQLiteCatalog) LatestRun(ctx context.Context) (*RunRecord, error) {
	return c.queryRun(ctx, "successful run",
		`SELECT`+runColumns+` FROM runs WHERE status = ? ORDER BY finished_at DESC, started_at DESC LIMIT 1`,
		StatusSucceeded)
}

// ListRuns returns up to limit runs, newest first. A non-positive limit
// returns every run.
func (c *SQLiteCatalog) ListRuns(ctx context.Context, limit int) ([]*RunRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := c.readDB.QueryContext(ctx,
		`SELECT`+runColumns+` FROM runs ORDER BY finished_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, vwerrors.NewManifestError(vwerrors.CodeUnexpected, "list runs", err)
	}
	defer rows.Close()

	var runs []*RunRecord
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, vwerrors.NewManifestError(vwerrors.CodeUnexpected, "scan run", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, vwerrors.NewManifestError(vwerrors.CodeUnexpected, "iterate runs", err)
	}
	return runs, nil
}

func scanFlagged(row rowScanner) (*FlaggedRecord, error) {
	var (
		f       FlaggedRecord
		payload []byte
	)
	if err := row.Scan(&f.RunID, &f.EmployeeID, &f.Rank, &f.Score, &payload); err != nil {
		return nil, err
	}
	if err := decodePayload(payload, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// ListFlagged returns the flagged employees of a run ordered by rank. An
// unknown run is RUN_NOT_FOUND; a run with no anomalies returns an empty list.
func (c *SQLiteCatalog) ListFlagged(ctx context.Context, runID string) ([]*FlaggedRecord, error) {
	if _, err := c.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	rows, err := c.readDB.QueryContext(ctx,
		`SELECT run_id, employee_id, rank, score, payload
		 FROM flagged_employees WHERE run_id = ? ORDER BY rank`, runID)
	if err != nil {
		return nil, vwerrors.NewManifestError(vwerrors.CodeUnexpected, "list flagged employees", err)
	}
	defer rows.Close()

	out := []*FlaggedRecord{}
	for rows.Next() {
		f, err := scanFlagged(rows)
		if err != nil {
			return nil, vwerrors.NewManifestError(vwerrors.CodeUnexpected, "scan flagged employee", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, vwerrors.NewManifestError(vwerrors.CodeUnexpected, "iterate flagged employees", err)
	}
	return out, nil
}

// GetFlagged returns one flagged employee of a run.
func (c *SQLiteCatalog) GetFlagged(ctx context.Context, runID, employeeID string) (*FlaggedRecord, error) {
	f, err := scanFlagged(c.readDB.QueryRowContext(ctx,
		`SELECT run_id, employee_id, rank, score, payload
		 FROM flagged_employees WHERE run_id = ? AND employee_id = ?`, runID, employeeID))
	if err == sql.ErrNoRows {
		return nil, vwerrors.NewManifestError(vwerrors.CodeRunNotFound, "employee not flagged in run", nil).
			WithDetails(map[string]interface{}{"run_id": runID, "employee_id": employeeID})
	}
	if err != nil {
		return nil, vwerrors.NewManifestError(vwerrors.CodeUnexpected, "scan flagged employee", err)
	}
	return f, nil
}

// DeleteExpired removes runs finished before now minus ttl. The latest
// successful run is always kept.
func (c *SQLiteCatalog) DeleteExpired(ctx context.Context, ttl time.Duration) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := time.Now().Add(-ttl).UnixMilli()

	var latest sql.NullString
	err := c.db.QueryRowContext(ctx,
		`SELECT run_id FROM runs WHERE status = ? ORDER BY finished_at DESC, started_at DESC LIMIT 1`,
		StatusSucceeded).Scan(&latest)
	if err != nil && err != sql.ErrNoRows {
		return nil, vwerrors.NewManifestError(vwerrors.CodeUnexpected, "find latest run", err)
	}

	rows, err := c.db.QueryContext(ctx,
		`SELECT run_id FROM runs WHERE finished_at < ? AND run_id != ?`,
		cutoff, latest.String)
	if err != nil {
		return nil, vwerrors.NewManifestError(vwerrors.CodeUnexpected, "query expired runs", err)
	}
	var expired []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, vwerrors.NewManifestError(vwerrors.CodeUnexpected, "scan run id", err)
		}
		expired = append(expired, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, vwerrors.NewManifestError(vwerrors.CodeUnexpected, "iterate expired runs", err)
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, vwerrors.NewManifestError(vwerrors.CodeUnexpected, "begin transaction", err)
	}
	defer tx.Rollback()
	for _, id := range expired {
		if _, err := tx.ExecContext(ctx, "DELETE FROM flagged_employees WHERE run_id = ?", id); err != nil {
			return nil, vwerrors.NewManifestError(vwerrors.CodeUnexpected, "delete flagged employees", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM runs WHERE run_id = ?", id); err != nil {
			return nil, vwerrors.NewManifestError(vwerrors.CodeUnexpected, "delete run", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, vwerrors.NewManifestError(vwerrors.CodeUnexpected, "commit expiry", err)
	}
	return expired, nil
}

// Close closes the catalog database connections.
func (c *SQLiteCatalog) Close() error {
	if err := c.readDB.Close(); err != nil {
		c.db.Close()
		return err
	}
	return c.db.Close()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
