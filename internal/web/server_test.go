package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mtzanidakis/directorate/internal/config"
	"github.com/mtzanidakis/directorate/internal/director"
	"github.com/mtzanidakis/directorate/internal/document"
	"github.com/mtzanidakis/directorate/internal/llm/llmtest"
	"github.com/mtzanidakis/directorate/internal/pipeline"
	"github.com/mtzanidakis/directorate/internal/registry"
	"github.com/mtzanidakis/directorate/internal/store"
	"github.com/mtzanidakis/directorate/internal/vault"
)

const (
	poReply = `{"questions":[],"assumptions":[],"specifications":["Add GET /auth/google"],"business_context":"signup"}`
	seReply = `{"technical_questions":[],"architecture":{"components":["Auth module"],"data_flow":"api","apis":[]},"technology_decisions":[],"complexity_analysis":{"high_risk":[],"estimated_effort":"1 week","technical_debt":[]},"implementation_phases":["Phase 1"],"scalability_concerns":[]}`
	emReply = `{"coordination":{"conflicts_identified":[],"resolutions":[]},"implementation_prompts":["Build it"],"execution_plan":["Step 1"],"quality_gates":[],"priority_assessment":{"priority_level":"low","business_impact":"","recommended_timeline":"1 week"}}`
)

func newTestServer(t *testing.T, auth string, withVault bool) (*Server, *httptest.Server) {
	t.Helper()
	return newTestServerIn(t, t.TempDir(), auth, withVault)
}

func newTestServerIn(t *testing.T, dir, auth string, withVault bool) (*Server, *httptest.Server) {
	t.Helper()
	st, err := store.New(config.StoreConfig{Path: filepath.Join(dir, "test.db")})
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	defs := []config.DirectorDefinition{
		{Name: director.ProductOwner},
		{Name: director.StaffEngineer, After: []string{director.ProductOwner}},
		{Name: director.EngineeringManager, After: []string{director.ProductOwner, director.StaffEngineer}},
	}
	reg := registry.New(st, defs, config.LLMConfig{Model: "test-model", MaxTokens: 500})
	if err := reg.Sync(); err != nil {
		t.Fatalf("sync registry: %v", err)
	}

	client := llmtest.New().
		On("You are the Product Owner", llmtest.Reply{Text: poReply}).
		On("You are the Staff Engineer", llmtest.Reply{Text: seReply}).
		On("You are the Engineering Manager", llmtest.Reply{Text: emReply})
	p := pipeline.New(pipeline.Options{
		Store:     st,
		Documents: filepath.Join(dir, "documents"),
		Directors: reg,
		Factory:   director.NewFactory(client, reg, "Go"),
		Lead:      director.EngineeringManager,
	})

	var secrets *vault.Secrets
	if withVault {
		v, err := vault.New("test-passphrase")
		if err != nil {
			t.Fatal(err)
		}
		secrets = vault.NewSecrets(st, v)
	}

	s := NewServer(st, p, reg, secrets, nil, config.WebConfig{Auth: auth}, "test")
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func do(t *testing.T, method, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out map[string]any
	json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func waitForStatus(t *testing.T, url string, want document.RunStatus) *document.Document {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err != nil {
			t.Fatal(err)
		}
		var doc document.Document
		json.NewDecoder(resp.Body).Decode(&doc)
		resp.Body.Close()
		if doc.Status == want {
			return &doc
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("run did not reach %s", want)
	return nil
}

func TestAuthRequired(t *testing.T) {
	_, ts := newTestServer(t, "s3cret", false)

	resp, _ := do(t, http.MethodGet, ts.URL+"/api/runs", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/runs", nil)
	req.SetBasicAuth("admin", "s3cret")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with basic auth, got %d", resp.StatusCode)
	}

	resp, _ = do(t, http.MethodPost, ts.URL+"/api/login", `{"password":"wrong"}`)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 for wrong password, got %d", resp.StatusCode)
	}
	resp, _ = do(t, http.MethodPost, ts.URL+"/api/login", `{"password":"s3cret"}`)
	if resp.StatusCode != http.StatusOK || len(resp.Cookies()) == 0 {
		t.Errorf("expected session cookie, got %d %v", resp.StatusCode, resp.Cookies())
	}
}

func TestRunLifecycle(t *testing.T) {
	_, ts := newTestServer(t, "", false)

	resp, body := do(t, http.MethodPost, ts.URL+"/api/runs", `{"task":"Add login with Google"}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	id, _ := body["id"].(string)
	if id == "" {
		t.Fatal("expected run id")
	}

	doc := waitForStatus(t, ts.URL+"/api/runs/"+id, document.RunCompleted)
	if len(doc.Analyses) != 3 {
		t.Errorf("expected 3 analyses, got %d", len(doc.Analyses))
	}

	evResp, err := http.Get(ts.URL + "/api/runs/" + id + "/events")
	if err != nil {
		t.Fatal(err)
	}
	var events []document.Event
	json.NewDecoder(evResp.Body).Decode(&events)
	evResp.Body.Close()
	if int64(len(events)) != doc.Seq || events[0].Type != document.EventRunStarted {
		t.Errorf("unexpected event log: %d events, seq %d", len(events), doc.Seq)
	}

	resp, mailbox := do(t, http.MethodGet, ts.URL+"/api/runs/"+id+"/mailbox/staff_engineer", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("mailbox: %d", resp.StatusCode)
	}
	if _, ok := mailbox["client_interrogation"]; !ok {
		t.Errorf("expected client_interrogation in mailbox, got %v", mailbox)
	}

	resp, body = do(t, http.MethodPost, ts.URL+"/api/runs/"+id+"/resume", "")
	if resp.StatusCode != http.StatusOK || body["status"] != string(document.RunCompleted) {
		t.Errorf("expected completed run to stay completed, got %d %v", resp.StatusCode, body)
	}

	resp, _ = do(t, http.MethodDelete, ts.URL+"/api/runs/"+id, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete: %d", resp.StatusCode)
	}
	resp, _ = do(t, http.MethodGet, ts.URL+"/api/runs/"+id, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %d", resp.StatusCode)
	}
}

// seedFailedRun records a run that stopped before any director ran.
func seedFailedRun(t *testing.T, st *store.Store, id string) {
	t.Helper()
	if err := st.SaveRun(&store.Run{ID: id, Task: "Add login with Google", Status: string(document.RunError), Source: "test"}); err != nil {
		t.Fatal(err)
	}
	plan := []string{director.ProductOwner, director.StaffEngineer, director.EngineeringManager}
	started, err := document.NewEvent(id, 1, document.EventRunStarted, "", document.RunStartedPayload{Task: "Add login with Google", Plan: plan})
	if err != nil {
		t.Fatal(err)
	}
	failed, err := document.NewEvent(id, 2, document.EventRunFailed, "", document.FailedPayload{Error: "interrupted"})
	if err != nil {
		t.Fatal(err)
	}
	for _, ev := range []document.Event{started, failed} {
		if err := st.AppendEvent(ev); err != nil {
			t.Fatal(err)
		}
	}
}

func TestResumeLockedRun(t *testing.T) {
	dir := t.TempDir()
	s, ts := newTestServerIn(t, dir, "", false)
	seedFailedRun(t, s.store, "run-1")

	held := document.Open(filepath.Join(dir, "documents"), "run-1")
	if err := held.TryLock(); err != nil {
		t.Fatal(err)
	}
	resp, _ := do(t, http.MethodPost, ts.URL+"/api/runs/run-1/resume", "")
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409 while the run is held, got %d", resp.StatusCode)
	}
	held.Unlock()

	resp, body := do(t, http.MethodPost, ts.URL+"/api/runs/run-1/resume", "")
	if resp.StatusCode != http.StatusAccepted || body["status"] != "resuming" {
		t.Fatalf("expected 202 resuming, got %d %v", resp.StatusCode, body)
	}
	waitForStatus(t, ts.URL+"/api/runs/run-1", document.RunCompleted)

	resp, _ = do(t, http.MethodPost, ts.URL+"/api/runs/missing/resume", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for unknown run, got %d", resp.StatusCode)
	}
}

func TestCreateRunValidation(t *testing.T) {
	_, ts := newTestServer(t, "", false)

	for _, body := range []string{`{"task":"  "}`, `not json`} {
		resp, _ := do(t, http.MethodPost, ts.URL+"/api/runs", body)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("body %q: expected 400, got %d", body, resp.StatusCode)
		}
	}
	resp, _ := do(t, http.MethodGet, ts.URL+"/api/runs/missing/mailbox/product_owner", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for unknown run, got %d", resp.StatusCode)
	}
}

func TestDirectorsAndStatus(t *testing.T) {
	_, ts := newTestServer(t, "", false)

	resp, err := http.Get(ts.URL + "/api/directors")
	if err != nil {
		t.Fatal(err)
	}
	var directors []store.Director
	json.NewDecoder(resp.Body).Decode(&directors)
	resp.Body.Close()
	if len(directors) != 3 || directors[0].Name != director.ProductOwner || directors[0].Model != "test-model" {
		t.Errorf("unexpected directors %+v", directors)
	}

	_, status := do(t, http.MethodGet, ts.URL+"/api/status", "")
	if status["version"] != "test" || status["directors"] != float64(3) {
		t.Errorf("unexpected status %v", status)
	}
}

func TestSecretsAPI(t *testing.T) {
	_, noVault := newTestServer(t, "", false)
	resp, _ := do(t, http.MethodGet, noVault.URL+"/api/secrets", "")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503 without vault, got %d", resp.StatusCode)
	}

	_, ts := newTestServer(t, "", true)
	resp, _ = do(t, http.MethodPut, ts.URL+"/api/secrets/anthropic", `{"value":"sk-1","description":"main key"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("put secret: %d", resp.StatusCode)
	}

	listResp, err := http.Get(ts.URL + "/api/secrets")
	if err != nil {
		t.Fatal(err)
	}
	var secrets []map[string]any
	json.NewDecoder(listResp.Body).Decode(&secrets)
	listResp.Body.Close()
	if len(secrets) != 1 || secrets[0]["name"] != "anthropic" {
		t.Fatalf("unexpected secrets %v", secrets)
	}
	if _, ok := secrets[0]["value"]; ok {
		t.Error("secret value must not be listed")
	}

	resp, _ = do(t, http.MethodDelete, ts.URL+"/api/secrets/anthropic", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("delete secret: %d", resp.StatusCode)
	}
	resp, _ = do(t, http.MethodDelete, ts.URL+"/api/secrets/anthropic", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 on second delete, got %d", resp.StatusCode)
	}
}

func TestWebSocketBroadcast(t *testing.T) {
	s, ts := newTestServer(t, "", false)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.hub.Run(ctx)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for s.hub.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	s.hub.Broadcast(Event{Topic: "events.run.abc", Data: json.RawMessage(`{"type":"run_started"}`)})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got Event
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Topic != "events.run.abc" || !strings.Contains(string(got.Data), "run_started") {
		t.Errorf("unexpected event %+v", got)
	}
}
