// Package manifest provides the run catalog: one row per pipeline run plus
// the flagged employees each run produced.
package manifest

// CreateRunsTableSQL creates the runs table. fingerprint is the murmur3
// digest of the six input files and serves as the idempotency key of a
// successful run.
const CreateRunsTableSQL = `
CREATE TABLE IF NOT EXISTS runs (
    run_id TEXT PRIMARY KEY,
    dataset_id TEXT NOT NULL DEFAULT '',
    fingerprint TEXT NOT NULL,
    status TEXT NOT NULL,
    error_message TEXT,
    feature_version TEXT NOT NULL,
    employee_count INTEGER NOT NULL DEFAULT 0,
    flagged_count INTEGER NOT NULL DEFAULT 0,
    decision_offset REAL,
    master_path TEXT,
    summary_path TEXT,
    started_at INTEGER NOT NULL,
    finished_at INTEGER NOT NULL
)`

// CreateFlaggedTableSQL creates the flagged employees table. payload holds
// the snappy-compressed JSON of the problems and display values.
const CreateFlaggedTableSQL = `
CREATE TABLE IF NOT EXISTS flagged_employees (
    run_id TEXT NOT NULL,
    employee_id TEXT NOT NULL,
    rank INTEGER NOT NULL,
    score REAL NOT NULL,
    payload BLOB NOT NULL,
    PRIMARY KEY (run_id, employee_id),
    FOREIGN KEY (run_id) REFERENCES runs(run_id)
)`

// CreateIndexesSQL creates the lookup indexes.
var CreateIndexesSQL = []string{
	`CREATE INDEX IF NOT EXISTS idx_runs_fingerprint ON runs(fingerprint, feature_version)
		WHERE status = 'succeeded'`,
	`CREATE INDEX IF NOT EXISTS idx_runs_finished ON runs(finished_at)`,
	`CREATE INDEX IF NOT EXISTS idx_flagged_rank ON flagged_employees(run_id, rank)`,
}

// AllSchemaSQL returns all SQL statements needed to initialize the catalog.
func AllSchemaSQL() []string {
	statements := []string{
		CreateRunsTableSQL,
		CreateFlaggedTableSQL,
	}
	return append(statements, CreateIndexesSQL...)
}
