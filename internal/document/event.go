package document

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrSchema = errors.New("schema violation")

type EventType string

const (
	EventRunStarted     EventType = "run_started"
	EventRouteDecided   EventType = "route_decided"
	EventAgentStarted   EventType = "agent_started"
	EventMessageRead    EventType = "message_read"
	EventMessageSent    EventType = "message_sent"
	EventAgentCompleted EventType = "agent_completed"
	EventAgentFailed    EventType = "agent_failed"
	EventRunCompleted   EventType = "run_completed"
	EventRunFailed      EventType = "run_failed"
	EventRunResumed     EventType = "run_resumed"
)

// Event is one append-only change to a run. Agent is set for every event
// emitted on behalf of a director.
type Event struct {
	ID      string          `json:"id"`
	RunID   string          `json:"run_id"`
	Seq     int64           `json:"seq"`
	Type    EventType       `json:"type"`
	Agent   string          `json:"agent,omitempty"`
	Time    time.Time       `json:"time"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type RunStartedPayload struct {
	Task string   `json:"task"`
	Plan []string `json:"plan"`
	// ForcedRoute is the complexity named by a task prefix, if any.
	ForcedRoute string `json:"forced_route,omitempty"`
}

type RouteDecidedPayload struct {
	Route Route    `json:"route"`
	Plan  []string `json:"plan"`
}

type MessageReadPayload struct {
	Target string `json:"target"`
	Key    string `json:"key"`
}

type MessageSentPayload struct {
	Target  string `json:"target"`
	Key     string `json:"key"`
	Content string `json:"content"`
}

type AgentCompletedPayload struct {
	Analysis Analysis `json:"analysis"`
	Message  string   `json:"message"`
}

type FailedPayload struct {
	Error string `json:"error"`
}

// NewEvent builds an event with a fresh ID and the current time.
func NewEvent(runID string, seq int64, typ EventType, agent string, payload any) (Event, error) {
	ev := Event{
		ID:    uuid.New().String(),
		RunID: runID,
		Seq:   seq,
		Type:  typ,
		Agent: agent,
		Time:  time.Now().UTC(),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Event{}, fmt.Errorf("marshal %s payload: %w", typ, err)
		}
		ev.Payload = data
	}
	return ev, nil
}

func decodePayload(ev Event, v any) error {
	if len(ev.Payload) == 0 {
		return fmt.Errorf("%w: %s event without payload", ErrSchema, ev.Type)
	}
	if err := json.Unmarshal(ev.Payload, v); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrSchema, ev.Type, err)
	}
	return nil
}

// Fold replays events into a fresh document.
func Fold(events []Event) (*Document, error) {
	doc := empty()
	for _, ev := range events {
		if err := Apply(doc, ev); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

// Apply validates ev against doc and applies it. doc is left untouched when
// an error is returned.
func Apply(doc *Document, ev Event) error {
	if ev.Seq != doc.Seq+1 {
		return fmt.Errorf("%w: event seq %d after %d", ErrSchema, ev.Seq, doc.Seq)
	}
	if doc.RunID != "" && ev.RunID != doc.RunID {
		return fmt.Errorf("%w: event for run %s applied to %s", ErrSchema, ev.RunID, doc.RunID)
	}
	if ev.Type != EventRunStarted && doc.Seq == 0 {
		return fmt.Errorf("%w: %s before run_started", ErrSchema, ev.Type)
	}

	switch ev.Type {
	case EventRunStarted:
		var p RunStartedPayload
		if err := decodePayload(ev, &p); err != nil {
			return err
		}
		if doc.Seq != 0 {
			return fmt.Errorf("%w: run already started", ErrSchema)
		}
		if strings.TrimSpace(p.Task) == "" || len(p.Plan) == 0 {
			return fmt.Errorf("%w: run_started needs a task and a plan", ErrSchema)
		}
		doc.RunID = ev.RunID
		doc.Task = p.Task
		doc.Plan = p.Plan
		doc.ForcedRoute = p.ForcedRoute
		doc.Status = RunRunning
		doc.CreatedAt = ev.Time

	case EventRouteDecided:
		var p RouteDecidedPayload
		if err := decodePayload(ev, &p); err != nil {
			return err
		}
		for _, name := range p.Plan {
			if !doc.inPlan(name) {
				return fmt.Errorf("%w: route adds unplanned director %q", ErrSchema, name)
			}
		}
		if !contains(p.Plan, p.Route.Next) {
			return fmt.Errorf("%w: route next %q not in plan", ErrSchema, p.Route.Next)
		}
		route := p.Route
		doc.Route = &route
		doc.Plan = p.Plan

	case EventAgentStarted:
		if err := requirePlanned(doc, ev.Agent); err != nil {
			return err
		}
		if doc.Agents[ev.Agent].Status == StatusCompleted {
			return fmt.Errorf("%w: %s already completed", ErrSchema, ev.Agent)
		}
		doc.Agents[ev.Agent] = AgentRecord{Status: StatusWorking, LastUpdate: ev.Time, Message: "started"}

	case EventMessageRead:
		var p MessageReadPayload
		if err := decodePayload(ev, &p); err != nil {
			return err
		}
		if p.Target != ev.Agent {
			return fmt.Errorf("%w: %s cannot read %s's inbox", ErrSchema, ev.Agent, p.Target)
		}
		m, ok := doc.Messages[p.Target][p.Key]
		if !ok {
			return fmt.Errorf("%w: no message %s for %s", ErrSchema, p.Key, p.Target)
		}
		m.Read = true
		doc.Messages[p.Target][p.Key] = m

	case EventMessageSent:
		var p MessageSentPayload
		if err := decodePayload(ev, &p); err != nil {
			return err
		}
		if err := requireWorking(doc, ev.Agent); err != nil {
			return err
		}
		if p.Target == ev.Agent {
			return fmt.Errorf("%w: %s cannot message itself", ErrSchema, ev.Agent)
		}
		if !doc.inPlan(p.Target) {
			return fmt.Errorf("%w: unknown message target %q", ErrSchema, p.Target)
		}
		if strings.TrimSpace(p.Key) == "" {
			return fmt.Errorf("%w: message without key", ErrSchema)
		}
		if doc.Messages[p.Target] == nil {
			doc.Messages[p.Target] = make(map[string]Message)
		}
		doc.Messages[p.Target][p.Key] = Message{
			Content:   p.Content,
			From:      ev.Agent,
			Timestamp: ev.Time,
		}

	case EventAgentCompleted:
		var p AgentCompletedPayload
		if err := decodePayload(ev, &p); err != nil {
			return err
		}
		if err := requireWorking(doc, ev.Agent); err != nil {
			return err
		}
		if string(p.Analysis.Kind) != ev.Agent {
			return fmt.Errorf("%w: %s recorded a %s analysis", ErrSchema, ev.Agent, p.Analysis.Kind)
		}
		doc.Analyses[ev.Agent] = p.Analysis
		doc.Agents[ev.Agent] = AgentRecord{Status: StatusCompleted, LastUpdate: ev.Time, Message: p.Message}

	case EventAgentFailed:
		var p FailedPayload
		if err := decodePayload(ev, &p); err != nil {
			return err
		}
		if err := requireWorking(doc, ev.Agent); err != nil {
			return err
		}
		doc.Agents[ev.Agent] = AgentRecord{Status: StatusError, LastUpdate: ev.Time, Message: p.Error}

	case EventRunCompleted:
		if doc.Status != RunRunning {
			return fmt.Errorf("%w: run_completed while %s", ErrSchema, doc.Status)
		}
		if next, ok := doc.NextDirector(); ok {
			return fmt.Errorf("%w: run_completed with %s not completed", ErrSchema, next)
		}
		doc.Status = RunCompleted

	case EventRunFailed:
		var p FailedPayload
		if err := decodePayload(ev, &p); err != nil {
			return err
		}
		if doc.Status != RunRunning {
			return fmt.Errorf("%w: run_failed while %s", ErrSchema, doc.Status)
		}
		doc.Status = RunError
		doc.Error = p.Error

	case EventRunResumed:
		if doc.Status == RunCompleted {
			return fmt.Errorf("%w: completed run cannot resume", ErrSchema)
		}
		doc.Status = RunRunning
		doc.Error = ""

	default:
		return fmt.Errorf("%w: unknown event type %q", ErrSchema, ev.Type)
	}

	doc.Seq = ev.Seq
	doc.UpdatedAt = ev.Time
	return nil
}

func requirePlanned(doc *Document, agent string) error {
	if agent == "" {
		return fmt.Errorf("%w: director event without agent", ErrSchema)
	}
	if !doc.inPlan(agent) {
		return fmt.Errorf("%w: %s is not in the plan", ErrSchema, agent)
	}
	return nil
}

func requireWorking(doc *Document, agent string) error {
	if err := requirePlanned(doc, agent); err != nil {
		return err
	}
	if doc.Agents[agent].Status != StatusWorking {
		return fmt.Errorf("%w: %s is not working", ErrSchema, agent)
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
