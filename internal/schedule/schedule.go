// Package schedule parses brief schedules and computes their next run.
package schedule

import (
	"fmt"
	"strings"
	"time"

	"github.com/adhocore/gronx"
)

type Kind string

const (
	Cron     Kind = "cron"
	Interval Kind = "interval"
	Once     Kind = "once"
)

const intervalPrefix = "interval:"

type Schedule struct {
	Kind     Kind
	Expr     string        // cron expression (Cron)
	Interval time.Duration // (Interval)
	At       time.Time     // (Once)
}

// Parse accepts a cron expression (including gronx tags like @daily),
// "interval:<duration>" or an RFC3339 timestamp.
func Parse(raw string) (Schedule, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Schedule{}, fmt.Errorf("empty schedule")
	}

	if d, ok := strings.CutPrefix(raw, intervalPrefix); ok {
		iv, err := time.ParseDuration(strings.TrimSpace(d))
		if err != nil {
			return Schedule{}, fmt.Errorf("invalid interval %q: %w", d, err)
		}
		if iv <= 0 {
			return Schedule{}, fmt.Errorf("interval must be positive")
		}
		return Schedule{Kind: Interval, Interval: iv}, nil
	}

	if at, err := time.Parse(time.RFC3339, raw); err == nil {
		return Schedule{Kind: Once, At: at}, nil
	}

	if !gronx.New().IsValid(raw) {
		return Schedule{}, fmt.Errorf("invalid schedule: not a cron expression, interval or RFC3339 time: %s", raw)
	}
	return Schedule{Kind: Cron, Expr: raw}, nil
}

// Next returns the first run strictly after now, or nil when a one-shot
// schedule has passed.
func (s Schedule) Next(now time.Time) *time.Time {
	var next time.Time
	switch s.Kind {
	case Cron:
		t, err := gronx.NextTickAfter(s.Expr, now, false)
		if err != nil {
			return nil
		}
		next = t
	case Interval:
		next = now.Add(s.Interval)
	case Once:
		if !s.At.After(now) {
			return nil
		}
		next = s.At
	default:
		return nil
	}
	return &next
}

// NextRun parses raw and returns its next run after now.
func NextRun(raw string, now time.Time) *time.Time {
	s, err := Parse(raw)
	if err != nil {
		return nil
	}
	return s.Next(now)
}

// String returns a human-readable description.
func (s Schedule) String() string {
	switch s.Kind {
	case Cron:
		return s.Expr
	case Interval:
		d := s.Interval
		switch {
		case d%time.Hour == 0:
			if h := int(d.Hours()); h != 1 {
				return fmt.Sprintf("Every %d hours", h)
			}
			return "Every hour"
		case d%time.Minute == 0:
			if m := int(d.Minutes()); m != 1 {
				return fmt.Sprintf("Every %d minutes", m)
			}
			return "Every minute"
		default:
			return "Every " + d.String()
		}
	case Once:
		return "Once at " + s.At.Format("Jan 2 15:04")
	default:
		return ""
	}
}
