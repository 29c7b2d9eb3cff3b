package registry

import (
	"path/filepath"
	"testing"

	"github.com/mtzanidakis/directorate/internal/config"
	"github.com/mtzanidakis/directorate/internal/store"
)

func newTestRegistry(t *testing.T) (*Registry, *store.Store) {
	t.Helper()
	dir := t.TempDir()
	s, err := store.New(config.StoreConfig{Path: filepath.Join(dir, "test.db")})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	hot := 0.9
	directors := []config.DirectorDefinition{
		{Name: "product_owner", Description: "Interrogates the client", MaxTokens: 1500},
		{Name: "staff_engineer", Description: "Defines the architecture", Model: "claude-3-5-sonnet", Temperature: &hot, After: []string{"product_owner"}},
	}
	defaults := config.LLMConfig{
		Model:       "claude-3-haiku-20240307",
		Temperature: 0.3,
		MaxTokens:   2000,
	}

	return New(s, directors, defaults), s
}

func TestSync(t *testing.T) {
	reg, s := newTestRegistry(t)

	if err := reg.Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}

	directors, err := s.ListDirectors()
	if err != nil {
		t.Fatalf("list directors: %v", err)
	}
	if len(directors) != 2 {
		t.Fatalf("expected 2 directors, got %d", len(directors))
	}

	d, err := reg.Get("staff_engineer")
	if err != nil {
		t.Fatalf("get staff_engineer: %v", err)
	}
	if d.Model != "claude-3-5-sonnet" {
		t.Errorf("expected stored model claude-3-5-sonnet, got %q", d.Model)
	}
	if d.MaxTokens != 2000 {
		t.Errorf("expected default max tokens 2000, got %d", d.MaxTokens)
	}
}

func TestSyncDeletesStale(t *testing.T) {
	reg, s := newTestRegistry(t)

	// Pre-seed a stale director
	_ = s.SaveDirector(&store.Director{Name: "cto"})

	if err := reg.Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}

	stale, err := s.GetDirector("cto")
	if err != nil {
		t.Fatalf("get stale: %v", err)
	}
	if stale != nil {
		t.Error("expected stale director to be deleted")
	}
}

func TestResolve(t *testing.T) {
	reg, _ := newTestRegistry(t)

	po := reg.Resolve("product_owner")
	if po.Model != "claude-3-haiku-20240307" || *po.Temperature != 0.3 || po.MaxTokens != 1500 {
		t.Errorf("unexpected product_owner params %+v", po)
	}

	se := reg.Resolve("staff_engineer")
	if se.Model != "claude-3-5-sonnet" || *se.Temperature != 0.9 || se.MaxTokens != 2000 {
		t.Errorf("unexpected staff_engineer params %+v", se)
	}

	unknown := reg.Resolve("cto")
	if unknown.Model != "claude-3-haiku-20240307" {
		t.Errorf("expected defaults for unknown director, got %+v", unknown)
	}
}

func TestUpdate(t *testing.T) {
	reg, s := newTestRegistry(t)
	_ = reg.Sync()

	reg.Update([]config.DirectorDefinition{{Name: "product_owner", Description: "changed"}})
	if err := reg.Sync(); err != nil {
		t.Fatal(err)
	}

	directors, _ := s.ListDirectors()
	if len(directors) != 1 || directors[0].Description != "changed" {
		t.Errorf("expected single updated director, got %+v", directors)
	}
	if _, ok := reg.GetDefinition("staff_engineer"); ok {
		t.Error("expected staff_engineer definition removed")
	}
	if got := reg.Descriptions()["product_owner"]; got != "changed" {
		t.Errorf("expected updated description, got %q", got)
	}
}

func TestResolveZeroTemperature(t *testing.T) {
	reg, _ := newTestRegistry(t)
	cold := 0.0
	reg.Update([]config.DirectorDefinition{{Name: "product_owner", Temperature: &cold}})

	p := reg.Resolve("product_owner")
	if p.Temperature == nil || *p.Temperature != 0 {
		t.Errorf("expected explicit temperature 0, got %v", p.Temperature)
	}
}
