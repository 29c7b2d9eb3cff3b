package store

import (
	"database/sql"
	"fmt"
	"time"
)

type Brief struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Schedule   string     `json:"schedule"`
	Task       string     `json:"task"`
	Status     string     `json:"status"`
	NextRunAt  *time.Time `json:"next_run_at,omitempty"`
	LastRunAt  *time.Time `json:"last_run_at,omitempty"`
	LastStatus string     `json:"last_status,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
	LastRunID  string     `json:"last_run_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

const briefColumns = `id, name, schedule, task, status, next_run_at, last_run_at,
	last_status, last_error, last_run_id, created_at`

func scanBrief(s scanner) (*Brief, error) {
	b := &Brief{}
	var lastStatus, lastError, lastRunID sql.NullString
	err := s.Scan(&b.ID, &b.Name, &b.Schedule, &b.Task, &b.Status, &b.NextRunAt, &b.LastRunAt,
		&lastStatus, &lastError, &lastRunID, &b.CreatedAt)
	if err != nil {
		return nil, err
	}
	b.LastStatus = lastStatus.String
	b.LastError = lastError.String
	b.LastRunID = lastRunID.String
	return b, nil
}

func (s *Store) SaveBrief(b *Brief) error {
	_, err := s.db.Exec(`
		INSERT INTO scheduled_briefs (id, name, schedule, task, status, next_run_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			schedule = excluded.schedule,
			task = excluded.task,
			status = excluded.status,
			next_run_at = excluded.next_run_at`,
		b.ID, b.Name, b.Schedule, b.Task, b.Status, b.NextRunAt)
	if err != nil {
		return fmt.Errorf("save brief: %w", err)
	}
	return nil
}

func (s *Store) GetBrief(id string) (*Brief, error) {
	row := s.db.QueryRow(`SELECT `+briefColumns+` FROM scheduled_briefs WHERE id = ?`, id)
	b, err := scanBrief(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get brief: %w", err)
	}
	return b, nil
}

func (s *Store) ListBriefs() ([]Brief, error) {
	return s.queryBriefs(`SELECT ` + briefColumns + ` FROM scheduled_briefs ORDER BY name`)
}

func (s *Store) GetDueBriefs(now time.Time) ([]Brief, error) {
	return s.queryBriefs(`SELECT `+briefColumns+` FROM scheduled_briefs
		WHERE status = 'active' AND next_run_at <= ?
		ORDER BY next_run_at`, now)
}

func (s *Store) queryBriefs(query string, args ...any) ([]Brief, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query briefs: %w", err)
	}
	defer rows.Close()

	var briefs []Brief
	for rows.Next() {
		b, err := scanBrief(rows)
		if err != nil {
			return nil, fmt.Errorf("scan brief: %w", err)
		}
		briefs = append(briefs, *b)
	}
	return briefs, rows.Err()
}

func (s *Store) UpdateBriefRun(id, runID, lastStatus, lastError string, nextRunAt *time.Time) error {
	_, err := s.db.Exec(`
		UPDATE scheduled_briefs
		SET last_run_at = CURRENT_TIMESTAMP, last_run_id = ?, last_status = ?, last_error = ?, next_run_at = ?
		WHERE id = ?`, runID, lastStatus, lastError, nextRunAt, id)
	if err != nil {
		return fmt.Errorf("update brief run: %w", err)
	}
	return nil
}

func (s *Store) UpdateBriefStatus(id, status string) error {
	_, err := s.db.Exec(`UPDATE scheduled_briefs SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("update brief status: %w", err)
	}
	return nil
}

// DeleteBriefsNotIn removes briefs whose IDs are no longer configured.
func (s *Store) DeleteBriefsNotIn(ids []string) error {
	if len(ids) == 0 {
		_, err := s.db.Exec(`DELETE FROM scheduled_briefs`)
		return err
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err := s.db.Exec(`DELETE FROM scheduled_briefs WHERE id NOT IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return fmt.Errorf("delete stale briefs: %w", err)
	}
	return nil
}
