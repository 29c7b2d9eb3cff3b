// Package document holds the shared communication document of a run: agent
// records, the mailbox and the analyses, folded from an append-only event log.
package document

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Status is the state of one director's record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusWorking   Status = "working"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// RunStatus is the state of the whole run.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunError     RunStatus = "error"
)

type AgentRecord struct {
	Status     Status    `json:"status"`
	LastUpdate time.Time `json:"last_update"`
	Message    string    `json:"message"`
}

type Message struct {
	Content   string    `json:"content"`
	From      string    `json:"from"`
	Timestamp time.Time `json:"timestamp"`
	Read      bool      `json:"read"`
}

// Mailbox is addressed as mailbox[target][key].
type Mailbox map[string]map[string]Message

// Route is the classifier's branch decision.
type Route struct {
	Complexity string `json:"complexity"`
	Next       string `json:"next"`
	Skipped    string `json:"skipped,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Override   bool   `json:"override,omitempty"`
}

type Document struct {
	RunID       string                 `json:"run_id"`
	Task        string                 `json:"task"`
	Status      RunStatus              `json:"status"`
	Plan        []string               `json:"plan"`
	Route       *Route                 `json:"route,omitempty"`
	ForcedRoute string                 `json:"forced_route,omitempty"`
	Agents      map[string]AgentRecord `json:"agents"`
	Messages    Mailbox                `json:"messages"`
	Analyses    map[string]Analysis    `json:"analyses"`
	Error       string                 `json:"error,omitempty"`
	Seq         int64                  `json:"seq"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

func empty() *Document {
	return &Document{
		Status:   RunPending,
		Agents:   make(map[string]AgentRecord),
		Messages: make(Mailbox),
		Analyses: make(map[string]Analysis),
	}
}

// Clone returns a copy that shares nothing mutable with d.
func (d *Document) Clone() *Document {
	c := *d
	c.Plan = append([]string(nil), d.Plan...)
	if d.Route != nil {
		route := *d.Route
		c.Route = &route
	}
	c.Agents = make(map[string]AgentRecord, len(d.Agents))
	for k, v := range d.Agents {
		c.Agents[k] = v
	}
	c.Messages = make(Mailbox, len(d.Messages))
	for target, box := range d.Messages {
		inner := make(map[string]Message, len(box))
		for k, v := range box {
			inner[k] = v
		}
		c.Messages[target] = inner
	}
	c.Analyses = make(map[string]Analysis, len(d.Analyses))
	for k, v := range d.Analyses {
		c.Analyses[k] = v
	}
	return &c
}

func (d *Document) inPlan(name string) bool {
	for _, p := range d.Plan {
		if p == name {
			return true
		}
	}
	return false
}

// Unread returns the unread messages addressed to director, ordered by key.
func (d *Document) Unread(director string) []InboxMessage {
	var out []InboxMessage
	for key, m := range d.Messages[director] {
		if m.Read {
			continue
		}
		out = append(out, InboxMessage{Key: key, From: m.From, Content: m.Content, Timestamp: m.Timestamp})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// NextDirector returns the first planned director that has not completed.
func (d *Document) NextDirector() (string, bool) {
	for _, name := range d.Plan {
		if d.Agents[name].Status != StatusCompleted {
			return name, true
		}
	}
	return "", false
}

// Summary renders a short plain-text report of the run.
func (d *Document) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run %s: %s\n", d.RunID, d.Status)
	fmt.Fprintf(&b, "Task: %s\n", d.Task)
	if d.Route != nil {
		fmt.Fprintf(&b, "Route: %s -> %s\n", d.Route.Complexity, d.Route.Next)
	}
	for _, name := range d.Plan {
		rec, ok := d.Agents[name]
		if !ok {
			fmt.Fprintf(&b, "- %s: not reached\n", name)
			continue
		}
		fmt.Fprintf(&b, "- %s: %s", name, rec.Status)
		if rec.Message != "" {
			fmt.Fprintf(&b, " (%s)", rec.Message)
		}
		b.WriteString("\n")
	}
	if d.Error != "" {
		fmt.Fprintf(&b, "Error: %s\n", d.Error)
	}
	return b.String()
}
