package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/mtzanidakis/directorate/internal/document"
	"github.com/mtzanidakis/directorate/internal/pipeline"
	"github.com/mtzanidakis/directorate/internal/schedule"
	"github.com/mtzanidakis/directorate/internal/store"
)

func (s *Server) registerAPI(mux *http.ServeMux) {
	// Runs
	mux.HandleFunc("GET /api/runs", s.listRuns)
	mux.HandleFunc("POST /api/runs", s.createRun)
	mux.HandleFunc("GET /api/runs/{id}", s.getRun)
	mux.HandleFunc("GET /api/runs/{id}/events", s.getRunEvents)
	mux.HandleFunc("GET /api/runs/{id}/mailbox/{director}", s.getMailbox)
	mux.HandleFunc("POST /api/runs/{id}/resume", s.resumeRun)
	mux.HandleFunc("DELETE /api/runs/{id}", s.deleteRun)

	mux.HandleFunc("GET /api/directors", s.listDirectors)
	mux.HandleFunc("GET /api/briefs", s.listBriefs)

	// Secrets
	mux.HandleFunc("GET /api/secrets", s.listSecrets)
	mux.HandleFunc("PUT /api/secrets/{name}", s.putSecret)
	mux.HandleFunc("DELETE /api/secrets/{name}", s.deleteSecret)

	mux.HandleFunc("GET /api/status", s.getStatus)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			jsonError(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	runs, err := s.pipeline.List(limit)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []store.Run{}
	}
	jsonResponse(w, runs)
}

func (s *Server) createRun(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Task string `json:"task"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	id, err := s.pipeline.Start(s.runCtx, body.Task, "web")
	if err != nil {
		if errors.Is(err, pipeline.ErrEmptyTask) {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Location", "/api/runs/"+id)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	jsonResponse(w, map[string]string{"id": id, "status": string(document.RunRunning)})
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	doc, err := s.pipeline.Get(r.PathValue("id"))
	if err != nil {
		runError(w, err)
		return
	}
	jsonResponse(w, doc)
}

func (s *Server) getRunEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.pipeline.Events(r.PathValue("id"))
	if err != nil {
		runError(w, err)
		return
	}
	if events == nil {
		events = []document.Event{}
	}
	jsonResponse(w, events)
}

func (s *Server) getMailbox(w http.ResponseWriter, r *http.Request) {
	doc, err := s.pipeline.Get(r.PathValue("id"))
	if err != nil {
		runError(w, err)
		return
	}
	director := r.PathValue("director")
	if _, ok := s.registry.GetDefinition(director); !ok {
		jsonError(w, "director not found", http.StatusNotFound)
		return
	}
	inbox := doc.Messages[director]
	if inbox == nil {
		inbox = map[string]document.Message{}
	}
	jsonResponse(w, inbox)
}

func (s *Server) resumeRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	started, err := s.pipeline.StartResume(s.runCtx, id)
	if err != nil {
		runError(w, err)
		return
	}
	if !started {
		jsonResponse(w, map[string]string{"id": id, "status": string(document.RunCompleted)})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	jsonResponse(w, map[string]string{"id": id, "status": "resuming"})
}

func (s *Server) deleteRun(w http.ResponseWriter, r *http.Request) {
	if err := s.pipeline.Delete(r.PathValue("id")); err != nil {
		runError(w, err)
		return
	}
	jsonResponse(w, map[string]string{"status": "deleted"})
}

func (s *Server) listDirectors(w http.ResponseWriter, r *http.Request) {
	directors, err := s.registry.List()
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if directors == nil {
		directors = []store.Director{}
	}
	jsonResponse(w, directors)
}

func (s *Server) listBriefs(w http.ResponseWriter, r *http.Request) {
	briefs, err := s.store.ListBriefs()
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	out := make([]map[string]any, 0, len(briefs))
	for _, b := range briefs {
		entry := map[string]any{
			"id":          b.ID,
			"name":        b.Name,
			"schedule":    b.Schedule,
			"task":        b.Task,
			"status":      b.Status,
			"next_run_at": b.NextRunAt,
			"last_run_at": b.LastRunAt,
			"last_status": b.LastStatus,
			"last_error":  b.LastError,
			"last_run_id": b.LastRunID,
		}
		if sched, err := schedule.Parse(b.Schedule); err == nil {
			entry["schedule_display"] = sched.String()
		}
		out = append(out, entry)
	}
	jsonResponse(w, out)
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	runs, _ := s.pipeline.List(10)
	recent := make([]map[string]string, 0, len(runs))
	for _, run := range runs {
		recent = append(recent, map[string]string{
			"id":     run.ID,
			"task":   run.Task,
			"status": run.Status,
			"time":   formatTime(run.CreatedAt),
		})
	}
	briefs, _ := s.store.GetDueBriefs(time.Now().Add(24 * time.Hour))

	jsonResponse(w, map[string]any{
		"status":         "ok",
		"version":        s.version,
		"uptime":         formatUptime(time.Since(s.startedAt)),
		"active_runs":    s.pipeline.Active(),
		"directors":      len(s.registry.Definitions()),
		"briefs_due_24h": len(briefs),
		"ws_clients":     s.hub.Len(),
		"nats":           s.bus != nil,
		"recent_runs":    recent,
	})
}

// runError maps pipeline errors to status codes.
func runError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pipeline.ErrRunNotFound):
		jsonError(w, "run not found", http.StatusNotFound)
	case errors.Is(err, document.ErrLocked):
		jsonError(w, "run is in progress", http.StatusConflict)
	default:
		jsonError(w, err.Error(), http.StatusInternalServerError)
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, mins)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	return fmt.Sprintf("%dm", mins)
}

func jsonResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
