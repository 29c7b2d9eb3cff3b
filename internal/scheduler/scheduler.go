// Package scheduler starts pipeline runs for configured briefs when they are
// due.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mtzanidakis/directorate/internal/config"
	"github.com/mtzanidakis/directorate/internal/document"
	"github.com/mtzanidakis/directorate/internal/natsbus"
	"github.com/mtzanidakis/directorate/internal/schedule"
	"github.com/mtzanidakis/directorate/internal/store"
)

const (
	StatusActive    = "active"
	StatusCompleted = "completed"
)

// briefNamespace derives stable brief IDs from their names.
var briefNamespace = uuid.MustParse("5b0c7f4e-2a61-4d0f-9a3e-6f1d2c8b7e90")

// Runner executes a task to completion.
type Runner interface {
	Run(ctx context.Context, task, source string) (*document.Document, error)
}

type Publisher interface {
	PublishJSON(topic string, v any) error
}

type Scheduler struct {
	store  *store.Store
	runner Runner
	bus    Publisher
	now    func() time.Time

	mu           sync.Mutex
	pollInterval time.Duration
	reloadCh     chan struct{}
}

func New(s *store.Store, runner Runner, bus Publisher, cfg config.SchedulerConfig) *Scheduler {
	return &Scheduler{
		store:        s,
		runner:       runner,
		bus:          bus,
		now:          time.Now,
		pollInterval: cfg.PollInterval,
		reloadCh:     make(chan struct{}, 1),
	}
}

// BriefID returns the stable ID of the brief called name.
func BriefID(name string) string {
	return uuid.NewSHA1(briefNamespace, []byte(name)).String()
}

// Sync stores the configured briefs and removes the ones no longer listed.
// A brief keeps its next run unless its schedule changed.
func (s *Scheduler) Sync(briefs []config.BriefDefinition) error {
	ids := make([]string, 0, len(briefs))
	for _, def := range briefs {
		sched, err := schedule.Parse(def.Schedule)
		if err != nil {
			return fmt.Errorf("brief %s: %w", def.Name, err)
		}
		id := BriefID(def.Name)
		ids = append(ids, id)

		existing, err := s.store.GetBrief(id)
		if err != nil {
			return err
		}
		b := &store.Brief{ID: id, Name: def.Name, Schedule: def.Schedule, Task: def.Task, Status: StatusActive}
		switch {
		case existing != nil && existing.Schedule == def.Schedule:
			b.Status = existing.Status
			b.NextRunAt = existing.NextRunAt
		default:
			b.NextRunAt = sched.Next(s.now())
			if b.NextRunAt == nil {
				b.Status = StatusCompleted
			}
		}
		if err := s.store.SaveBrief(b); err != nil {
			return err
		}
	}
	if err := s.store.DeleteBriefsNotIn(ids); err != nil {
		return err
	}
	slog.Info("briefs synced", "count", len(briefs))
	return nil
}

// UpdateConfig changes the poll interval and resets the ticker.
func (s *Scheduler) UpdateConfig(cfg config.SchedulerConfig) {
	s.mu.Lock()
	s.pollInterval = cfg.PollInterval
	s.mu.Unlock()
	select {
	case s.reloadCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pollInterval <= 0 {
		return 30 * time.Second
	}
	return s.pollInterval
}

// Start polls for due briefs until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval())
	defer ticker.Stop()

	slog.Info("scheduler started", "poll_interval", s.interval())

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopped")
			return nil
		case <-s.reloadCh:
			ticker.Reset(s.interval())
			slog.Info("scheduler config reloaded", "poll_interval", s.interval())
		case <-ticker.C:
			s.Poll(ctx)
		}
	}
}

// Poll runs every due brief once.
func (s *Scheduler) Poll(ctx context.Context) {
	briefs, err := s.store.GetDueBriefs(s.now())
	if err != nil {
		slog.Error("failed to get due briefs", "error", err)
		return
	}
	for _, b := range briefs {
		if ctx.Err() != nil {
			return
		}
		s.execute(ctx, b)
	}
}

func (s *Scheduler) execute(ctx context.Context, b store.Brief) {
	slog.Info("executing brief", "id", b.ID, "name", b.Name)

	doc, err := s.runner.Run(ctx, b.Task, "brief:"+b.Name)

	var runID, lastStatus, lastError string
	if doc != nil {
		runID = doc.RunID
	}
	if err != nil {
		lastStatus = "error"
		lastError = err.Error()
		slog.Error("brief run failed", "id", b.ID, "name", b.Name, "error", err)
	} else {
		lastStatus = "success"
	}

	nextRun := schedule.NextRun(b.Schedule, s.now())
	if err := s.store.UpdateBriefRun(b.ID, runID, lastStatus, lastError, nextRun); err != nil {
		slog.Error("failed to update brief run", "id", b.ID, "error", err)
	}

	s.publish(b, runID, lastStatus)

	if nextRun == nil {
		slog.Info("no next run, marking one-shot brief completed", "id", b.ID, "name", b.Name)
		if err := s.store.UpdateBriefStatus(b.ID, StatusCompleted); err != nil {
			slog.Error("failed to complete brief", "id", b.ID, "error", err)
		}
	}
}

func (s *Scheduler) publish(b store.Brief, runID, status string) {
	if s.bus == nil {
		return
	}
	event := map[string]any{
		"type":      "brief_executed",
		"timestamp": s.now().UTC().Format(time.RFC3339),
		"data": map[string]any{
			"id":     b.ID,
			"name":   b.Name,
			"run_id": runID,
			"status": status,
		},
	}
	if err := s.bus.PublishJSON(natsbus.TopicEventsBriefRun, event); err != nil {
		slog.Warn("publish brief event", "error", err)
	}
}
