package config

import (
	"testing"
	"time"
)

func TestDiff_NoChanges(t *testing.T) {
	cfg := defaults()
	d := Diff(&cfg, &cfg)
	if d.HasChanges() {
		t.Error("expected no changes")
	}
	if len(d.NonReloadable) != 0 {
		t.Errorf("expected no non-reloadable changes, got %v", d.NonReloadable)
	}
}

func TestDiff_DirectorAdded(t *testing.T) {
	old := &Config{
		Directors: []DirectorDefinition{{Name: ProductOwner}},
	}
	new := &Config{
		Directors: []DirectorDefinition{{Name: ProductOwner}, {Name: StaffEngineer}},
	}
	d := Diff(old, new)
	if len(d.DirectorsAdded) != 1 || d.DirectorsAdded[0] != StaffEngineer {
		t.Errorf("expected staff_engineer added, got %v", d.DirectorsAdded)
	}
	if len(d.DirectorsRemoved) != 0 {
		t.Errorf("expected no removals, got %v", d.DirectorsRemoved)
	}
	if len(d.DirectorsChanged) != 0 {
		t.Errorf("expected no changes, got %v", d.DirectorsChanged)
	}
}

func TestDiff_DirectorRemoved(t *testing.T) {
	old := &Config{
		Directors: []DirectorDefinition{{Name: ProductOwner}, {Name: StaffEngineer}},
	}
	new := &Config{
		Directors: []DirectorDefinition{{Name: ProductOwner}},
	}
	d := Diff(old, new)
	if len(d.DirectorsRemoved) != 1 || d.DirectorsRemoved[0] != StaffEngineer {
		t.Errorf("expected staff_engineer removed, got %v", d.DirectorsRemoved)
	}
	if !d.HasChanges() {
		t.Error("expected changes")
	}
}

func TestDiff_DirectorChanged(t *testing.T) {
	temp := 0.7
	old := &Config{
		Directors: []DirectorDefinition{{Name: StaffEngineer, MaxTokens: 2500}},
	}
	new := &Config{
		Directors: []DirectorDefinition{{Name: StaffEngineer, MaxTokens: 2500, Temperature: &temp}},
	}
	d := Diff(old, new)
	if len(d.DirectorsChanged) != 1 || d.DirectorsChanged[0] != StaffEngineer {
		t.Errorf("expected staff_engineer changed, got %v", d.DirectorsChanged)
	}
}

func TestDiff_RouterChanged(t *testing.T) {
	old := defaults()
	new := defaults()
	new.Router.Enabled = true
	d := Diff(&old, &new)
	if !d.RouterChanged {
		t.Error("expected router changed")
	}
	if !d.NewRouter.Enabled {
		t.Error("expected new router config to be carried")
	}
}

func TestDiff_BriefsAndScheduler(t *testing.T) {
	old := defaults()
	new := defaults()
	new.Briefs = []BriefDefinition{{Name: "daily", Schedule: "@daily", Task: "triage"}}
	new.Scheduler.PollInterval = time.Minute

	d := Diff(&old, &new)
	if !d.BriefsChanged || len(d.NewBriefs) != 1 {
		t.Errorf("expected briefs changed, got %+v", d.NewBriefs)
	}
	if !d.SchedulerChanged || d.NewPollInterval.PollInterval != time.Minute {
		t.Errorf("expected scheduler changed to 1m, got %v", d.NewPollInterval.PollInterval)
	}
}

func TestDiff_NonReloadable(t *testing.T) {
	old := defaults()
	new := defaults()
	new.Web.Port = 9999
	new.LLM.Model = "claude-3-5-sonnet"

	d := Diff(&old, &new)
	if d.HasChanges() {
		t.Error("non-reloadable changes should not count as reloadable")
	}
	if len(d.NonReloadable) != 2 {
		t.Fatalf("expected 2 non-reloadable, got %v", d.NonReloadable)
	}
	if d.NonReloadable[0] != "web.port" || d.NonReloadable[1] != "llm" {
		t.Errorf("unexpected order: %v", d.NonReloadable)
	}
}
