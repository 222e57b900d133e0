// Package history is the durable run ledger: one row per pipeline run,
// written at start and finalized at completion or failure.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Record is one pipeline run's summary row.
type Record struct {
	ID             string  `json:"id"`
	PackageVersion string  `json:"package_version"`
	ToolkitVersion string  `json:"toolkit_version"`
	PythonTag      string  `json:"python_tag"`
	Stage          string  `json:"stage"`
	Status         string  `json:"status"`
	ArtifactPath   *string `json:"artifact_path,omitempty"`
	ArtifactSum    *string `json:"artifact_b3sum,omitempty"`
	StartedAt      string  `json:"started_at"`
	CompletedAt    *string `json:"completed_at,omitempty"`
	LastError      *string `json:"last_error,omitempty"`
}

type Store struct {
	db *sql.DB
}

// Open opens (and creates if needed) the ledger database at path and ensures
// the schema exists.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("history path is empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(pctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	if err := bootstrap(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func bootstrap(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS build_run (
  id              TEXT PRIMARY KEY,
  package_version TEXT NOT NULL,
  toolkit_version TEXT NOT NULL,
  python_tag      TEXT NOT NULL,
  stage           TEXT NOT NULL,
  status          TEXT NOT NULL,
  artifact_path   TEXT,
  artifact_b3sum  TEXT,
  started_at      TEXT NOT NULL,
  completed_at    TEXT,
  last_error      TEXT
);`,
		`CREATE INDEX IF NOT EXISTS build_run_started_at_idx ON build_run(started_at);`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap history schema: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

// Begin records a started run.
func (s *Store) Begin(ctx context.Context, id, packageVersion, toolkitVersion, pythonTag string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx, `
INSERT INTO build_run(id, package_version, toolkit_version, python_tag, stage, status, started_at)
VALUES(?, ?, ?, ?, 'idle', 'running', ?);
`, id, packageVersion, toolkitVersion, pythonTag, now)
	if err != nil {
		return fmt.Errorf("record run start: %w", err)
	}
	return nil
}

// SetStage advances the recorded stage of a running run.
func (s *Store) SetStage(ctx context.Context, id, stage string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE build_run SET stage = ? WHERE id = ?;`, stage, id)
	if err != nil {
		return fmt.Errorf("record run stage: %w", err)
	}
	return nil
}

// Finish finalizes a run row. artifactPath/artifactSum/lastError may be empty.
func (s *Store) Finish(ctx context.Context, id, stage, status, artifactPath, artifactSum, lastError string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx, `
UPDATE build_run
SET stage = ?, status = ?, artifact_path = NULLIF(?, ''), artifact_b3sum = NULLIF(?, ''),
    completed_at = ?, last_error = NULLIF(?, '')
WHERE id = ?;
`, stage, status, artifactPath, artifactSum, now, lastError, id)
	if err != nil {
		return fmt.Errorf("record run finish: %w", err)
	}
	return nil
}

// Recent returns the newest n runs, newest first.
func (s *Store) Recent(ctx context.Context, n int) ([]Record, error) {
	if n <= 0 {
		n = 20
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, package_version, toolkit_version, python_tag, stage, status,
       artifact_path, artifact_b3sum, started_at, completed_at, last_error
FROM build_run
ORDER BY started_at DESC
LIMIT ?;
`, n)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.PackageVersion, &r.ToolkitVersion, &r.PythonTag,
			&r.Stage, &r.Status, &r.ArtifactPath, &r.ArtifactSum,
			&r.StartedAt, &r.CompletedAt, &r.LastError); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
