package models

import (
	"database/sql"
	"fmt"
	"time"

	loaderrors "chatload/errors"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Run is one finished load test as kept in the results store.
type Run struct {
	ID            string              `json:"id" db:"id"`
	StartedAt     time.Time           `json:"started_at" db:"started_at"`
	FinishedAt    time.Time           `json:"finished_at" db:"finished_at"`
	TargetURL     string              `json:"target_url" db:"target_url"`
	Stages        []Stage             `json:"stages" db:"stages"`
	VirtualUsers  int                 `json:"virtual_users" db:"virtual_users"`
	PeakActive    int                 `json:"peak_active" db:"peak_active"`
	SessionErrors int                 `json:"session_errors" db:"session_errors"`
	Interrupted   bool                `json:"interrupted" db:"interrupted"`
	Summary       jsoniter.RawMessage `json:"summary,omitempty" db:"summary"`
	CreatedAt     time.Time           `json:"created_at" db:"created_at"`
}

// NewRunID returns a fresh identifier for a run.
func NewRunID() string {
	return uuid.New().String()
}

type RunRepository struct {
	db *sql.DB
}

func NewRunRepository(db *sql.DB) *RunRepository {
	return &RunRepository{db: db}
}

const runColumns = `id, started_at, finished_at, target_url, stages, virtual_users, peak_active, session_errors, interrupted, summary, created_at`

// CreateRun stores run, assigning an ID when it has none.
func (r *RunRepository) CreateRun(run *Run) error {
	if run.ID == "" {
		run.ID = NewRunID()
	} else if _, err := uuid.Parse(run.ID); err != nil {
		return loaderrors.NewStoreError(fmt.Errorf("invalid run id %q: %v", run.ID, err), "create run")
	}

	stages, err := json.Marshal(run.Stages)
	if err != nil {
		return loaderrors.NewStoreError(fmt.Errorf("failed to encode stages: %v", err), "create run")
	}

	summary := string(run.Summary)
	if summary == "" {
		summary = "{}"
	}

	query := `
		INSERT INTO runs (id, started_at, finished_at, target_url, stages, virtual_users, peak_active, session_errors, interrupted, summary, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	`
	_, err = r.db.Exec(query,
		run.ID, run.StartedAt.UTC(), run.FinishedAt.UTC(), run.TargetURL, string(stages),
		run.VirtualUsers, run.PeakActive, run.SessionErrors, run.Interrupted, summary,
	)
	if err != nil {
		return loaderrors.NewStoreError(err, "create run")
	}
	return nil
}

// GetRun returns nil, nil when no run has the given id.
func (r *RunRepository) GetRun(id string) (*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE id = ?`

	run, err := scanRun(r.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, loaderrors.NewStoreError(err, "get run")
	}
	return run, nil
}

// ListRuns returns the most recent runs first, without their summaries.
func (r *RunRepository) ListRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC LIMIT ?`
	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, loaderrors.NewStoreError(err, "list runs")
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, loaderrors.NewStoreError(err, "list runs")
		}
		run.Summary = nil
		runs = append(runs, *run)
	}

	if err := rows.Err(); err != nil {
		return nil, loaderrors.NewStoreError(err, "list runs")
	}
	return runs, nil
}

func (r *RunRepository) CountRuns() (int, error) {
	var count int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM runs`).Scan(&count); err != nil {
		return 0, loaderrors.NewStoreError(err, "count runs")
	}
	return count, nil
}

func (r *RunRepository) DeleteRun(id string) error {
	if _, err := r.db.Exec(`DELETE FROM runs WHERE id = ?`, id); err != nil {
		return loaderrors.NewStoreError(err, "delete run")
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	run := &Run{}
	var stages, summary string

	err := row.Scan(
		&run.ID, &run.StartedAt, &run.FinishedAt, &run.TargetURL, &stages,
		&run.VirtualUsers, &run.PeakActive, &run.SessionErrors, &run.Interrupted,
		&summary, &run.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(stages), &run.Stages); err != nil {
		return nil, fmt.Errorf("failed to decode stages of run %s: %v", run.ID, err)
	}
	run.Summary = jsoniter.RawMessage(summary)

	return run, nil
}
