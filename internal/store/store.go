// Package store provides SQLite-backed persistence for pipeline checkpoints
// and run summaries.
package store

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/labcoat-dev/labcoat/internal/research"
)

// Checkpoint is the durable record of a pipeline's position. At most one
// checkpoint exists per pipeline id; Save overwrites on every transition.
type Checkpoint struct {
	PipelineID string
	RunID      string
	Stage      research.Stage
	State      []byte // serialized stage-local state blob
	UpdatedAt  time.Time
}

// Summary is the persisted outcome of one completed run.
type Summary struct {
	RunID      string
	Total      int
	Reported   int
	Failed     int
	Abandoned  int
	ReportPath string
	CreatedAt  time.Time
}

// Store provides SQLite-backed persistence for checkpoints. Writes to the
// same pipeline id are serialized by a per-id mutex; reads are always safe.
type Store struct {
	db    *sql.DB
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Open opens the SQLite database at dbPath and creates tables if they don't exist.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := createTables(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return &Store{db: db, locks: make(map[string]*sync.Mutex)}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS checkpoints (
		pipeline_id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		stage TEXT NOT NULL,
		state BLOB,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS run_summaries (
		run_id TEXT PRIMARY KEY,
		total INTEGER NOT NULL,
		reported INTEGER NOT NULL,
		failed INTEGER NOT NULL,
		abandoned INTEGER NOT NULL,
		report_path TEXT,
		created_at DATETIME NOT NULL
	);
	`
	_, err := db.Exec(schema)
	return err
}

// lockFor returns the write mutex for a pipeline id, creating it on first use.
func (s *Store) lockFor(pipelineID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[pipelineID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[pipelineID] = l
	}
	return l
}

// Save upserts the checkpoint for cp.PipelineID. The stage must be one of
// the defined pipeline stages.
func (s *Store) Save(cp *Checkpoint) error {
	if !cp.Stage.Valid() {
		return fmt.Errorf("invalid checkpoint stage %q", cp.Stage)
	}

	l := s.lockFor(cp.PipelineID)
	l.Lock()
	defer l.Unlock()

	cp.UpdatedAt = time.Now().UTC()
	_, err := s.db.Exec(
		`INSERT INTO checkpoints (pipeline_id, run_id, stage, state, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(pipeline_id) DO UPDATE SET
		   run_id = excluded.run_id,
		   stage = excluded.stage,
		   state = excluded.state,
		   updated_at = excluded.updated_at`,
		cp.PipelineID, cp.RunID, string(cp.Stage), cp.State, cp.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert checkpoint: %w", err)
	}

	return nil
}

// Load retrieves the checkpoint for a pipeline id.
// Returns nil, nil if no checkpoint exists (not an error).
func (s *Store) Load(pipelineID string) (*Checkpoint, error) {
	row := s.db.QueryRow(
		`SELECT pipeline_id, run_id, stage, state, updated_at
		 FROM checkpoints WHERE pipeline_id = ?`,
		pipelineID,
	)

	var cp Checkpoint
	var stage string
	err := row.Scan(&cp.PipelineID, &cp.RunID, &stage, &cp.State, &cp.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan checkpoint: %w", err)
	}
	cp.Stage = research.Stage(stage)

	return &cp, nil
}

// NonTerminal returns the checkpoints of every pipeline that has not
// reached a terminal stage, oldest first. Used on restart to resume
// interrupted pipelines before admitting new ideas.
func (s *Store) NonTerminal() ([]*Checkpoint, error) {
	rows, err := s.db.Query(
		`SELECT pipeline_id, run_id, stage, state, updated_at
		 FROM checkpoints
		 WHERE stage NOT IN (?, ?, ?)
		 ORDER BY updated_at ASC`,
		string(research.StageReported), string(research.StageFailed), string(research.StageAbandoned),
	)
	if err != nil {
		return nil, fmt.Errorf("query checkpoints: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var cps []*Checkpoint
	for rows.Next() {
		var cp Checkpoint
		var stage string
		if err := rows.Scan(&cp.PipelineID, &cp.RunID, &stage, &cp.State, &cp.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		cp.Stage = research.Stage(stage)
		cps = append(cps, &cp)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return cps, nil
}

// Delete removes the checkpoint for a pipeline id. Missing rows are fine.
func (s *Store) Delete(pipelineID string) error {
	l := s.lockFor(pipelineID)
	l.Lock()
	defer l.Unlock()

	if _, err := s.db.Exec(`DELETE FROM checkpoints WHERE pipeline_id = ?`, pipelineID); err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}

// SaveSummary records the outcome of a completed run.
func (s *Store) SaveSummary(sum *Summary) error {
	sum.CreatedAt = time.Now().UTC()
	_, err := s.db.Exec(
		`INSERT INTO run_summaries (run_id, total, reported, failed, abandoned, report_path, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id) DO UPDATE SET
		   total = excluded.total,
		   reported = excluded.reported,
		   failed = excluded.failed,
		   abandoned = excluded.abandoned,
		   report_path = excluded.report_path,
		   created_at = excluded.created_at`,
		sum.RunID, sum.Total, sum.Reported, sum.Failed, sum.Abandoned, sum.ReportPath, sum.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert run summary: %w", err)
	}
	return nil
}

// LatestSummary returns the most recent run summary, or nil, nil when no
// run has completed yet.
func (s *Store) LatestSummary() (*Summary, error) {
	row := s.db.QueryRow(
		`SELECT run_id, total, reported, failed, abandoned, COALESCE(report_path, ''), created_at
		 FROM run_summaries
		 ORDER BY created_at DESC
		 LIMIT 1`,
	)

	var sum Summary
	err := row.Scan(&sum.RunID, &sum.Total, &sum.Reported, &sum.Failed, &sum.Abandoned, &sum.ReportPath, &sum.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan run summary: %w", err)
	}

	return &sum, nil
}
