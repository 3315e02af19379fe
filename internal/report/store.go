package report

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"layer-monitor/internal/defect"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	job_id       TEXT PRIMARY KEY,
	part_name    TEXT NOT NULL,
	gcode_file   TEXT,
	started_at   TEXT NOT NULL,
	finished_at  TEXT
);

CREATE TABLE IF NOT EXISTS layer_summaries (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id           TEXT NOT NULL,
	layer            INTEGER NOT NULL,
	total            INTEGER NOT NULL,
	overextrusions   INTEGER NOT NULL,
	underextrusions  INTEGER NOT NULL,
	decision         TEXT NOT NULL,
	outcome          TEXT NOT NULL,
	capture_ref      TEXT,
	detections_json  TEXT NOT NULL,
	created_at       TEXT NOT NULL,
	FOREIGN KEY (job_id) REFERENCES jobs(job_id)
);
`

// ErrNoJob is returned by Record before StartJob.
var ErrNoJob = errors.New("report: no job started")

// Job is one monitored print.
type Job struct {
	ID         string
	PartName   string
	GcodeFile  string
	StartedAt  time.Time
	FinishedAt time.Time // zero while running
}

// Store keeps every job's summaries in SQLite.
type Store struct {
	db    *sql.DB
	jobID string
	now   func() time.Time
}

// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// StartJob registers a job; later Record calls attach to it.
func (s *Store) StartJob(ctx context.Context, part, gcodeFile string) (string, error) {
	id := uuid.New().String()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (job_id, part_name, gcode_file, started_at) VALUES (?, ?, ?, ?)`,
		id, part, gcodeFile, s.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", fmt.Errorf("insert job: %w", err)
	}
	s.jobID = id
	return id, nil
}

// JobID returns the current job, empty before StartJob.
func (s *Store) JobID() string { return s.jobID }

// Record appends a layer summary to the current job.
func (s *Store) Record(ctx context.Context, sum defect.LayerSummary) error {
	if s.jobID == "" {
		return ErrNoJob
	}
	dets, err := json.Marshal(sum.Detections)
	if err != nil {
		return fmt.Errorf("marshal detections: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO layer_summaries
		 (job_id, layer, total, overextrusions, underextrusions, decision, outcome, capture_ref, detections_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.jobID, sum.Layer, sum.Total, sum.Overextrusions, sum.Underextrusions,
		sum.Decision, sum.Outcome.String(), sum.CaptureRef, string(dets),
		s.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert summary: %w", err)
	}
	return nil
}

// Summaries returns a job's summaries in inspection order.
func (s *Store) Summaries(ctx context.Context, jobID string) ([]defect.LayerSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT layer, total, overextrusions, underextrusions, decision, outcome, capture_ref, detections_json
		 FROM layer_summaries WHERE job_id = ? ORDER BY id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("query summaries: %w", err)
	}
	defer rows.Close()

	var out []defect.LayerSummary
	for rows.Next() {
		var (
			sum     defect.LayerSummary
			outcome string
			ref     sql.NullString
			dets    string
		)
		if err := rows.Scan(&sum.Layer, &sum.Total, &sum.Overextrusions, &sum.Underextrusions,
			&sum.Decision, &outcome, &ref, &dets); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		if err := sum.Outcome.UnmarshalText([]byte(outcome)); err != nil {
			return nil, err
		}
		sum.CaptureRef = ref.String
		if err := json.Unmarshal([]byte(dets), &sum.Detections); err != nil {
			return nil, fmt.Errorf("unmarshal detections: %w", err)
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Jobs lists all jobs, newest first.
func (s *Store) Jobs(ctx context.Context) ([]Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT job_id, part_name, gcode_file, started_at, finished_at FROM jobs ORDER BY started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		var (
			j               Job
			gcode, finished sql.NullString
			started         string
		)
		if err := rows.Scan(&j.ID, &j.PartName, &gcode, &started, &finished); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		j.GcodeFile = gcode.String
		j.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		if finished.Valid {
			j.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished.String)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// Close marks the current job finished and closes the database.
func (s *Store) Close() error {
	var err error
	if s.jobID != "" {
		_, err = s.db.Exec(`UPDATE jobs SET finished_at = ? WHERE job_id = ?`,
			s.now().UTC().Format(time.RFC3339Nano), s.jobID)
		if err != nil {
			err = fmt.Errorf("finish job: %w", err)
		}
	}
	return errors.Join(err, s.db.Close())
}
