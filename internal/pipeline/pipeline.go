// Package pipeline runs the directors of a task one after another over a
// shared document folded from the run's event log.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/mtzanidakis/directorate/internal/config"
	"github.com/mtzanidakis/directorate/internal/director"
	"github.com/mtzanidakis/directorate/internal/document"
	"github.com/mtzanidakis/directorate/internal/natsbus"
	"github.com/mtzanidakis/directorate/internal/router"
	"github.com/mtzanidakis/directorate/internal/store"
)

var (
	ErrEmptyTask   = errors.New("task is empty")
	ErrRunNotFound = errors.New("run not found")
)

// Publisher fans events out. A nil Publisher disables publishing.
type Publisher interface {
	PublishJSON(topic string, v any) error
}

// Store persists runs and their event logs.
type Store interface {
	SaveRun(r *store.Run) error
	GetRun(id string) (*store.Run, error)
	ListRuns(limit int) ([]store.Run, error)
	UpdateRunStatus(id, status, errMsg string) error
	DeleteRun(id string) error
	AppendEvent(ev document.Event) error
	ListEvents(runID string) ([]document.Event, error)
}

// DefinitionSource supplies the current director definitions.
type DefinitionSource interface {
	Definitions() []config.DirectorDefinition
}

type Options struct {
	Store      Store
	Documents  string
	Directors  DefinitionSource
	Factory    director.Factory
	Classifier router.Classifier
	Router     config.RouterConfig
	Lead       string
	Bus        Publisher
}

type Pipeline struct {
	store      Store
	documents  string
	directors  DefinitionSource
	factory    director.Factory
	classifier router.Classifier
	lead       string
	bus        Publisher

	mu     sync.RWMutex
	router config.RouterConfig

	active atomic.Int32
}

func New(opts Options) *Pipeline {
	classifier := opts.Classifier
	if classifier == nil {
		classifier = router.HeuristicClassifier{}
	}
	return &Pipeline{
		store:      opts.Store,
		documents:  opts.Documents,
		directors:  opts.Directors,
		factory:    opts.Factory,
		classifier: classifier,
		lead:       opts.Lead,
		bus:        opts.Bus,
		router:     opts.Router,
	}
}

// SetRouter swaps the routing config after a reload. Runs already past the
// routing point are unaffected.
func (p *Pipeline) SetRouter(cfg config.RouterConfig) {
	p.mu.Lock()
	p.router = cfg
	p.mu.Unlock()
}

func (p *Pipeline) routerConfig() config.RouterConfig {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.router
}

// Active returns the number of runs currently executing in this process.
func (p *Pipeline) Active() int {
	return int(p.active.Load())
}

// run is the in-memory state of one executing run.
type run struct {
	id       string
	file     *document.File
	doc      *document.Document
	plan     *Plan
	override *router.Decision
}

// Run executes task to completion and returns the final document. On a
// director failure the document is returned together with the error.
func (p *Pipeline) Run(ctx context.Context, task, source string) (*document.Document, error) {
	r, err := p.start(task, source)
	if err != nil {
		return nil, err
	}
	return p.execute(ctx, r)
}

// Start validates task, records the run and executes it in the background.
func (p *Pipeline) Start(ctx context.Context, task, source string) (string, error) {
	r, err := p.start(task, source)
	if err != nil {
		return "", err
	}
	go func() {
		if _, err := p.execute(ctx, r); err != nil {
			slog.Error("run failed", "run", r.id, "error", err)
		}
	}()
	return r.id, nil
}

func (p *Pipeline) start(task, source string) (*run, error) {
	task, override := router.ParseOverride(task)
	task = strings.TrimSpace(task)
	if task == "" {
		return nil, ErrEmptyTask
	}

	plan, err := BuildPlan(p.directors.Definitions(), p.lead)
	if err != nil {
		return nil, fmt.Errorf("build plan: %w", err)
	}

	id := uuid.New().String()
	r := &run{
		id:       id,
		file:     document.Open(p.documents, id),
		plan:     plan,
		override: override,
	}
	r.doc, _ = document.Fold(nil)

	if err := r.file.TryLock(); err != nil {
		return nil, err
	}
	if err := p.store.SaveRun(&store.Run{ID: id, Task: task, Status: string(document.RunRunning), Source: source}); err != nil {
		r.file.Unlock()
		return nil, err
	}
	started := document.RunStartedPayload{Task: task, Plan: plan.Order}
	if override != nil {
		started.ForcedRoute = string(override.Complexity)
	}
	if err := p.emit(r, document.EventRunStarted, "", started); err != nil {
		r.file.Unlock()
		return nil, err
	}

	slog.Info("run started", "run", id, "plan", strings.Join(plan.Order, ","), "source", source)
	return r, nil
}

// Resume continues a run from its event log. Completed runs are returned
// unchanged; failed or interrupted runs restart at the first director that
// has not completed.
func (p *Pipeline) Resume(ctx context.Context, runID string) (*document.Document, error) {
	r, done, err := p.prepareResume(runID)
	if err != nil {
		return nil, err
	}
	if done != nil {
		return done, nil
	}
	return p.execute(ctx, r)
}

// StartResume validates and locks a run, then continues it in the
// background. It reports false when the run had already completed.
func (p *Pipeline) StartResume(ctx context.Context, runID string) (bool, error) {
	r, done, err := p.prepareResume(runID)
	if err != nil {
		return false, err
	}
	if done != nil {
		return false, nil
	}
	go func() {
		if _, err := p.execute(ctx, r); err != nil {
			slog.Error("resumed run failed", "run", r.id, "error", err)
		}
	}()
	return true, nil
}

// prepareResume returns either a locked run ready to execute or, for a
// completed run, its document.
func (p *Pipeline) prepareResume(runID string) (*run, *document.Document, error) {
	rec, err := p.store.GetRun(runID)
	if err != nil {
		return nil, nil, err
	}
	if rec == nil {
		return nil, nil, ErrRunNotFound
	}

	events, err := p.store.ListEvents(runID)
	if err != nil {
		return nil, nil, err
	}
	doc, err := document.Fold(events)
	if err != nil {
		return nil, nil, fmt.Errorf("fold run %s: %w", runID, err)
	}
	if doc.Status == document.RunCompleted {
		return nil, doc, nil
	}

	plan, err := BuildPlan(p.directors.Definitions(), p.lead)
	if err != nil {
		return nil, nil, fmt.Errorf("build plan: %w", err)
	}
	for _, name := range doc.Plan {
		if !contains(plan.Order, name) {
			return nil, nil, fmt.Errorf("run %s needs director %q which is no longer configured", runID, name)
		}
	}
	plan.Order = doc.Plan

	r := &run{id: runID, file: document.Open(p.documents, runID), doc: doc, plan: plan}
	if c := router.Complexity(doc.ForcedRoute); c.Valid() {
		r.override = router.Forced(c)
	}
	if err := r.file.TryLock(); err != nil {
		return nil, nil, err
	}
	if err := p.emit(r, document.EventRunResumed, "", nil); err != nil {
		r.file.Unlock()
		return nil, nil, err
	}
	if err := p.store.UpdateRunStatus(runID, string(document.RunRunning), ""); err != nil {
		r.file.Unlock()
		return nil, nil, err
	}

	next, _ := doc.NextDirector()
	slog.Info("run resumed", "run", runID, "from", next)
	return r, nil, nil
}

func (p *Pipeline) execute(ctx context.Context, r *run) (*document.Document, error) {
	p.active.Add(1)
	defer p.active.Add(-1)
	defer r.file.Unlock()

	for {
		// Routing happens once, as soon as the anchor director has completed.
		// Checking before every step also covers runs resumed after it.
		rc := p.routerConfig()
		if rc.Enabled && r.doc.Route == nil && r.doc.Agents[rc.After].Status == document.StatusCompleted {
			if err := p.route(ctx, r, rc); err != nil {
				p.fail(r, "", err)
				return r.doc, fmt.Errorf("route: %w", err)
			}
		}

		name, ok := r.doc.NextDirector()
		if !ok {
			break
		}
		if err := p.step(ctx, r, name); err != nil {
			p.fail(r, name, err)
			return r.doc, fmt.Errorf("%s: %w", name, err)
		}
	}

	if err := p.emit(r, document.EventRunCompleted, "", nil); err != nil {
		return r.doc, err
	}
	if err := p.store.UpdateRunStatus(r.id, string(document.RunCompleted), ""); err != nil {
		return r.doc, err
	}
	slog.Info("run completed", "run", r.id)
	return r.doc, nil
}

// step runs one director: start, run against its view, mark the inbox read,
// then deliver its messages and record its analysis.
func (p *Pipeline) step(ctx context.Context, r *run, name string) error {
	if err := p.emit(r, document.EventAgentStarted, name, nil); err != nil {
		return err
	}
	slog.Info("director started", "run", r.id, "director", name)

	d, err := p.factory(name)
	if err != nil {
		return err
	}

	view := r.doc.ViewFor(name, r.plan.Inputs[name])
	if err := ctx.Err(); err != nil {
		return err
	}
	out, err := d.Run(ctx, view)
	if err != nil {
		return err
	}

	deliver, err := p.checkOutput(r, name, out)
	if err != nil {
		return err
	}

	// Inbox messages are marked read only after a successful step.
	for _, m := range view.Inbox {
		if err := p.emit(r, document.EventMessageRead, name, document.MessageReadPayload{Target: name, Key: m.Key}); err != nil {
			return err
		}
	}

	for _, m := range deliver {
		if err := p.emit(r, document.EventMessageSent, name, document.MessageSentPayload{
			Target: m.To, Key: m.Key, Content: m.Content,
		}); err != nil {
			return err
		}
		p.publish(natsbus.TopicDirectorInbox(m.To), map[string]string{
			"run_id": r.id, "from": name, "key": m.Key,
		})
	}

	if err := p.emit(r, document.EventAgentCompleted, name, document.AgentCompletedPayload{
		Analysis: out.Analysis, Message: out.Summary,
	}); err != nil {
		return err
	}
	slog.Info("director completed", "run", r.id, "director", name, "summary", out.Summary)
	return nil
}

// checkOutput validates everything a director produced before any of it is
// recorded. Messages to configured directors outside the run's plan are
// dropped.
func (p *Pipeline) checkOutput(r *run, name string, out *director.Output) ([]director.Outgoing, error) {
	if string(out.Analysis.Kind) != name {
		return nil, fmt.Errorf("%w: %s produced a %s analysis", document.ErrSchema, name, out.Analysis.Kind)
	}
	if err := out.Analysis.Validate(); err != nil {
		return nil, err
	}

	registered := make(map[string]bool)
	for _, def := range p.directors.Definitions() {
		registered[def.Name] = true
	}

	var deliver []director.Outgoing
	for _, m := range out.Messages {
		switch {
		case m.To == name:
			return nil, fmt.Errorf("%w: %s addressed a message to itself", document.ErrSchema, name)
		case !registered[m.To]:
			return nil, fmt.Errorf("%w: %s addressed unknown director %q", document.ErrSchema, name, m.To)
		case strings.TrimSpace(m.Key) == "":
			return nil, fmt.Errorf("%w: %s sent a message without key", document.ErrSchema, name)
		case !contains(r.doc.Plan, m.To):
			slog.Debug("dropping message to director outside the plan", "run", r.id, "from", name, "to", m.To, "key", m.Key)
			continue
		}
		deliver = append(deliver, m)
	}
	return deliver, nil
}

// route classifies the task once the router's anchor director completed and
// removes the branch not taken from the remaining plan.
func (p *Pipeline) route(ctx context.Context, r *run, rc config.RouterConfig) error {
	var d router.Decision
	if r.override != nil {
		d = *r.override
	} else {
		var err error
		d, err = p.classifier.Classify(ctx, r.doc.Task)
		if err != nil {
			slog.Warn("classifier failed, using heuristic", "run", r.id, "error", err)
			d, _ = router.HeuristicClassifier{}.Classify(ctx, r.doc.Task)
		}
	}

	next, skipped := rc.Simple, rc.Complex
	if d.Complexity == router.Complex {
		next, skipped = rc.Complex, rc.Simple
	}
	// The lead synthesizes the run and is never skipped, only moved.
	if skipped == r.plan.Lead {
		skipped = ""
	}
	if !contains(r.doc.Plan, next) {
		slog.Warn("routed director not in plan, keeping plan", "run", r.id, "next", next)
		return nil
	}

	plan := reroute(r.doc.Plan, rc.After, next, skipped)
	route := document.Route{
		Complexity: string(d.Complexity),
		Next:       next,
		Reason:     d.Reason,
		Override:   d.Override,
	}
	if !contains(plan, skipped) {
		route.Skipped = skipped
	}
	if err := p.emit(r, document.EventRouteDecided, "", document.RouteDecidedPayload{Route: route, Plan: plan}); err != nil {
		return err
	}
	slog.Info("route decided", "run", r.id, "complexity", d.Complexity, "next", next, "reason", d.Reason)
	return nil
}

// reroute keeps everything up to and including after, puts next right after
// it and drops skipped.
func reroute(plan []string, after, next, skipped string) []string {
	out := make([]string, 0, len(plan))
	i := 0
	for ; i < len(plan); i++ {
		out = append(out, plan[i])
		if plan[i] == after {
			i++
			break
		}
	}
	out = append(out, next)
	for ; i < len(plan); i++ {
		if plan[i] == next || plan[i] == skipped {
			continue
		}
		out = append(out, plan[i])
	}
	return out
}

// fail records a failed step. Errors while recording are logged, the original
// error is what the caller reports.
func (p *Pipeline) fail(r *run, name string, cause error) {
	msg := cause.Error()
	if name != "" {
		if err := p.emit(r, document.EventAgentFailed, name, document.FailedPayload{Error: msg}); err != nil {
			slog.Error("record director failure", "run", r.id, "director", name, "error", err)
		}
		msg = name + ": " + msg
	}
	if err := p.emit(r, document.EventRunFailed, "", document.FailedPayload{Error: msg}); err != nil {
		slog.Error("record run failure", "run", r.id, "error", err)
	}
	if err := p.store.UpdateRunStatus(r.id, string(document.RunError), msg); err != nil {
		slog.Error("update run status", "run", r.id, "error", err)
	}
	slog.Error("run failed", "run", r.id, "director", name, "error", cause)
}

// emit validates an event against a copy of the document, appends it to the
// log, then commits the copy, saves the document and publishes the event.
// The in-memory document never runs ahead of the log.
func (p *Pipeline) emit(r *run, typ document.EventType, agent string, payload any) error {
	ev, err := document.NewEvent(r.id, r.doc.Seq+1, typ, agent, payload)
	if err != nil {
		return err
	}
	next := r.doc.Clone()
	if err := document.Apply(next, ev); err != nil {
		return err
	}
	if err := p.store.AppendEvent(ev); err != nil {
		return fmt.Errorf("append %s event: %w", typ, err)
	}
	*r.doc = *next
	if err := r.file.Save(r.doc); err != nil {
		return err
	}
	p.publish(natsbus.TopicEventsRun(r.id), ev)
	return nil
}

func (p *Pipeline) publish(topic string, v any) {
	if p.bus == nil {
		return
	}
	if err := p.bus.PublishJSON(topic, v); err != nil {
		slog.Warn("publish event", "topic", topic, "error", err)
	}
}

// Get folds the stored event log of a run.
func (p *Pipeline) Get(runID string) (*document.Document, error) {
	events, err := p.Events(runID)
	if err != nil {
		return nil, err
	}
	return document.Fold(events)
}

// Events returns the event log of a run in order.
func (p *Pipeline) Events(runID string) ([]document.Event, error) {
	rec, err := p.store.GetRun(runID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrRunNotFound
	}
	return p.store.ListEvents(runID)
}

func (p *Pipeline) List(limit int) ([]store.Run, error) {
	return p.store.ListRuns(limit)
}

// Delete removes a run that is not executing, together with its document.
func (p *Pipeline) Delete(runID string) error {
	rec, err := p.store.GetRun(runID)
	if err != nil {
		return err
	}
	if rec == nil {
		return ErrRunNotFound
	}
	f := document.Open(p.documents, runID)
	if err := f.TryLock(); err != nil {
		return err
	}
	defer f.Unlock()
	if err := p.store.DeleteRun(runID); err != nil {
		return err
	}
	return f.Remove()
}
