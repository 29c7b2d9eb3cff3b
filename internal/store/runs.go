package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mtzanidakis/directorate/internal/document"
)

type Run struct {
	ID          string     `json:"id"`
	Task        string     `json:"task"`
	Status      string     `json:"status"`
	Source      string     `json:"source"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

const runColumns = `id, task, status, source, error, created_at, updated_at, completed_at`

func scanRun(s scanner) (*Run, error) {
	r := &Run{}
	var errMsg sql.NullString
	if err := s.Scan(&r.ID, &r.Task, &r.Status, &r.Source, &errMsg, &r.CreatedAt, &r.UpdatedAt, &r.CompletedAt); err != nil {
		return nil, err
	}
	r.Error = errMsg.String
	return r, nil
}

func (s *Store) SaveRun(r *Run) error {
	if r.Source == "" {
		r.Source = "cli"
	}
	_, err := s.db.Exec(`
		INSERT INTO runs (id, task, status, source, error)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			error = excluded.error,
			updated_at = CURRENT_TIMESTAMP`,
		r.ID, r.Task, r.Status, r.Source, r.Error)
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	return nil
}

func (s *Store) GetRun(id string) (*Run, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// ListRuns returns the most recent runs first.
func (s *Store) ListRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`SELECT `+runColumns+` FROM runs ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// UpdateRunStatus sets the status and error of a run. Terminal statuses
// stamp completed_at.
func (s *Store) UpdateRunStatus(id, status, errMsg string) error {
	var completed any
	if status == string(document.RunCompleted) || status == string(document.RunError) {
		completed = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		UPDATE runs SET status = ?, error = ?, completed_at = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, status, errMsg, completed, id)
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	return nil
}

func (s *Store) DeleteRun(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM run_events WHERE run_id = ?`, id); err != nil {
		return fmt.Errorf("delete run events: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM runs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	return tx.Commit()
}

// AppendEvent stores ev. A duplicate (run_id, seq) fails, which keeps the log
// strictly ordered even if two writers race.
func (s *Store) AppendEvent(ev document.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO run_events (id, run_id, seq, type, agent, body, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.RunID, ev.Seq, string(ev.Type), ev.Agent, string(body), ev.Time)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// ListEvents returns the events of a run in sequence order.
func (s *Store) ListEvents(runID string) ([]document.Event, error) {
	rows, err := s.db.Query(`SELECT body FROM run_events WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []document.Event
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		var ev document.Event
		if err := json.Unmarshal([]byte(body), &ev); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
