package pipeline

import (
	"errors"
	"fmt"

	"github.com/mtzanidakis/directorate/internal/config"
)

// Plan is the strict execution order of a run.
type Plan struct {
	Order  []string            // directors in the order they run
	Inputs map[string][]string // director -> predecessors whose analyses it sees
	Lead   string
}

var ErrCycle = errors.New("director graph contains a cycle")

// BuildPlan orders the directors so every director runs after the ones it
// lists in "after". Ties are broken by configuration order and the lead
// director, when set, always runs last.
func BuildPlan(defs []config.DirectorDefinition, lead string) (*Plan, error) {
	if len(defs) == 0 {
		return nil, errors.New("no directors to plan")
	}

	index := make(map[string]int, len(defs))
	for i, d := range defs {
		if _, dup := index[d.Name]; dup {
			return nil, fmt.Errorf("duplicate director %q", d.Name)
		}
		index[d.Name] = i
	}
	if lead != "" {
		if _, ok := index[lead]; !ok {
			return nil, fmt.Errorf("lead director %q is not configured", lead)
		}
	}

	edges := make(map[string][]string)
	inDegree := make(map[string]int, len(defs))
	inputs := make(map[string][]string)
	for _, d := range defs {
		inDegree[d.Name] += 0
		for _, dep := range d.After {
			if _, ok := index[dep]; !ok {
				return nil, fmt.Errorf("director %q runs after unknown director %q", d.Name, dep)
			}
			if dep == d.Name {
				return nil, fmt.Errorf("%w: %s runs after itself", ErrCycle, d.Name)
			}
			edges[dep] = append(edges[dep], d.Name)
			inDegree[d.Name]++
			inputs[d.Name] = append(inputs[d.Name], dep)
		}
	}

	// The lead synthesizes everyone else's work
	if lead != "" {
		for _, d := range defs {
			if d.Name == lead || contains(inputs[lead], d.Name) {
				continue
			}
			edges[d.Name] = append(edges[d.Name], lead)
			inDegree[lead]++
			if len(defs[index[lead]].After) == 0 {
				inputs[lead] = append(inputs[lead], d.Name)
			}
		}
	}

	// Kahn's algorithm, always taking the ready director that comes first in
	// the configuration
	order := make([]string, 0, len(defs))
	ready := make([]bool, len(defs))
	for _, d := range defs {
		if inDegree[d.Name] == 0 {
			ready[index[d.Name]] = true
		}
	}
	for len(order) < len(defs) {
		next := -1
		for i, r := range ready {
			if r {
				next = i
				break
			}
		}
		if next < 0 {
			return nil, ErrCycle
		}
		ready[next] = false
		name := defs[next].Name
		order = append(order, name)
		for _, to := range edges[name] {
			inDegree[to]--
			if inDegree[to] == 0 {
				ready[index[to]] = true
			}
		}
	}

	return &Plan{Order: order, Inputs: inputs, Lead: lead}, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
