package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

type Director struct {
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Model       string    `json:"model,omitempty"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
	After       []string  `json:"after"`
	Position    int       `json:"position"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (s *Store) SaveDirector(d *Director) error {
	after, err := json.Marshal(d.After)
	if err != nil {
		return fmt.Errorf("marshal after: %w", err)
	}
	if d.After == nil {
		after = []byte("[]")
	}
	_, err = s.db.Exec(`
		INSERT INTO directors (name, description, model, temperature, max_tokens, after, position)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			description = excluded.description,
			model = excluded.model,
			temperature = excluded.temperature,
			max_tokens = excluded.max_tokens,
			after = excluded.after,
			position = excluded.position,
			updated_at = CURRENT_TIMESTAMP`,
		d.Name, d.Description, d.Model, d.Temperature, d.MaxTokens, string(after), d.Position)
	if err != nil {
		return fmt.Errorf("save director: %w", err)
	}
	return nil
}

func scanDirector(s scanner) (*Director, error) {
	d := &Director{}
	var description, model sql.NullString
	var after string
	if err := s.Scan(&d.Name, &description, &model, &d.Temperature, &d.MaxTokens, &after, &d.Position, &d.UpdatedAt); err != nil {
		return nil, err
	}
	d.Description = description.String
	d.Model = model.String
	if err := json.Unmarshal([]byte(after), &d.After); err != nil {
		return nil, fmt.Errorf("decode after: %w", err)
	}
	return d, nil
}

func (s *Store) GetDirector(name string) (*Director, error) {
	row := s.db.QueryRow(`
		SELECT name, description, model, temperature, max_tokens, after, position, updated_at
		FROM directors WHERE name = ?`, name)
	d, err := scanDirector(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get director: %w", err)
	}
	return d, nil
}

// ListDirectors returns directors in configuration order.
func (s *Store) ListDirectors() ([]Director, error) {
	rows, err := s.db.Query(`
		SELECT name, description, model, temperature, max_tokens, after, position, updated_at
		FROM directors ORDER BY position, name`)
	if err != nil {
		return nil, fmt.Errorf("list directors: %w", err)
	}
	defer rows.Close()

	var directors []Director
	for rows.Next() {
		d, err := scanDirector(rows)
		if err != nil {
			return nil, fmt.Errorf("scan director: %w", err)
		}
		directors = append(directors, *d)
	}
	return directors, rows.Err()
}

func (s *Store) DeleteDirectorsNotIn(names []string) error {
	if len(names) == 0 {
		_, err := s.db.Exec(`DELETE FROM directors`)
		return err
	}
	args := make([]any, len(names))
	for i, n := range names {
		args[i] = n
	}
	_, err := s.db.Exec(`DELETE FROM directors WHERE name NOT IN (`+placeholders(len(names))+`)`, args...)
	if err != nil {
		return fmt.Errorf("delete stale directors: %w", err)
	}
	return nil
}
