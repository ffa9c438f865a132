package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"hyvve/internal/config"
	"hyvve/internal/db"
	"hyvve/internal/engine"
	"hyvve/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default("hyvve")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	if _, err := e.InitProject(context.Background(), cfg.Project.ID, "hyvve", "", "tester"); err != nil {
		t.Fatalf("init project: %v", err)
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth: AuthConfig{
			JWTSecret:              "test-secret",
			AllowLegacyActorHeader: true,
		},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor-Id", "tester")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func errCode(t *testing.T, data []byte) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope %s: %v", string(data), err)
	}
	return envelope.Error.Code
}

func asMap(t *testing.T, data []byte) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal %s: %v", string(data), err)
	}
	return m
}

func TestSuggestionAcceptExecutesAction(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	base := srv.URL + "/v0/projects/hyvve"

	res, data := doJSON(t, client, http.MethodPost, base+"/suggestions", map[string]any{
		"agent":       "navi",
		"action_kind": "create_work_item",
		"payload":     map[string]any{"type": "feature", "title": "Ship search"},
		"confidence":  0.92,
		"rationale":   "requested in standup",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("propose status %d: %s", res.StatusCode, string(data))
	}
	proposed := asMap(t, data)
	if proposed["auto_surface"] != true {
		t.Fatalf("high confidence must auto-surface: %s", string(data))
	}
	id, _ := proposed["id"].(string)
	if id == "" {
		t.Fatalf("missing suggestion id: %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/suggestions/"+id+"/accept", map[string]any{}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("accept status %d: %s", res.StatusCode, string(data))
	}
	accepted := asMap(t, data)
	if accepted["status"] != "accepted" {
		t.Fatalf("accept result: %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, base+"/work-items", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list work items status %d: %s", res.StatusCode, string(data))
	}
	listing := asMap(t, data)
	items, _ := listing["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("accepted action must create one work item: %s", string(data))
	}

	// terminal suggestions conflict on a second decision
	res, data = doJSON(t, client, http.MethodPost, base+"/suggestions/"+id+"/accept", map[string]any{}, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected conflict, got %d: %s", res.StatusCode, string(data))
	}
	if code := errCode(t, data); code != "already_terminal" {
		t.Fatalf("conflict envelope code %q: %s", code, string(data))
	}
}

func TestLowConfidenceQueuesForApproval(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	base := srv.URL + "/v0/projects/hyvve"

	res, data := doJSON(t, client, http.MethodPost, base+"/suggestions", map[string]any{
		"agent":       "navi",
		"action_kind": "create_work_item",
		"payload":     map[string]any{"type": "bug", "title": "Fix flaky test"},
		"confidence":  0.4,
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("propose status %d: %s", res.StatusCode, string(data))
	}
	proposed := asMap(t, data)
	if proposed["auto_surface"] != false || proposed["approval_queue"] != true {
		t.Fatalf("low confidence routing: %s", string(data))
	}
	id, _ := proposed["id"].(string)

	res, data = doJSON(t, client, http.MethodPost, base+"/suggestions/"+id+"/reject", map[string]any{}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("reject status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, base+"/work-items", nil, nil)
	listing := asMap(t, data)
	if items, _ := listing["items"].([]any); len(items) != 0 {
		t.Fatalf("rejected suggestion must not execute: %s", string(data))
	}
	_ = res
}

func TestInvalidPayloadIsBadRequest(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	base := srv.URL + "/v0/projects/hyvve"

	res, data := doJSON(t, client, http.MethodPost, base+"/suggestions", map[string]any{
		"agent":       "navi",
		"action_kind": "create_work_item",
		"payload":     map[string]any{"type": "feature"},
		"confidence":  0.9,
	}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", res.StatusCode, string(data))
	}
	if code := errCode(t, data); code != "bad_request" {
		t.Fatalf("error envelope code %q: %s", code, string(data))
	}

	// sage is not allowed to create work items
	res, data = doJSON(t, client, http.MethodPost, base+"/suggestions", map[string]any{
		"agent":       "sage",
		"action_kind": "create_work_item",
		"payload":     map[string]any{"type": "feature", "title": "x"},
		"confidence":  0.9,
	}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("catalog violation: expected 400, got %d: %s", res.StatusCode, string(data))
	}
}

func TestTimerLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	base := srv.URL + "/v0/projects/hyvve"

	res, data := doJSON(t, client, http.MethodPost, base+"/work-items", map[string]any{
		"type":  "feature",
		"title": "Timed work",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create work item status %d: %s", res.StatusCode, string(data))
	}
	itemID, _ := asMap(t, data)["id"].(string)

	res, data = doJSON(t, client, http.MethodPost, base+"/timers/start", map[string]any{
		"user_id":      "u1",
		"work_item_id": itemID,
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("start timer status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/timers/start", map[string]any{
		"user_id":      "u1",
		"work_item_id": itemID,
	}, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("second start: expected conflict, got %d: %s", res.StatusCode, string(data))
	}
	if code := errCode(t, data); code != "timer_active" {
		t.Fatalf("conflict envelope code %q: %s", code, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/timers/stop", map[string]any{
		"user_id": "u1",
		"note":    "done for now",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("stop timer status %d: %s", res.StatusCode, string(data))
	}
	entry := asMap(t, data)
	if entry["source"] != "timer" || entry["work_item_id"] != itemID {
		t.Fatalf("stop entry: %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/timers/stop", map[string]any{
		"user_id": "u1",
	}, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("second stop: expected conflict, got %d: %s", res.StatusCode, string(data))
	}
}

func TestEstimateColdStartOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/hyvve/estimates", map[string]any{
		"work_type": "feature",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("estimate status %d: %s", res.StatusCode, string(data))
	}
	est := asMap(t, data)
	if est["cold_start"] != true || est["hours"] != 8.0 {
		t.Fatalf("cold start estimate: %s", string(data))
	}
}

func TestAuthRequiredWithoutCredentials(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v0/projects/hyvve/work-items", nil)
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.StatusCode)
	}

	// health stays open
	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/v0/health", nil)
	res, err = srv.Client().Do(req)
	if err != nil {
		t.Fatalf("health request: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", res.StatusCode)
	}
}

func TestDevLoginIssuesUsableToken(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v0/auth/dev/login", bytes.NewReader([]byte(`{"actor_id":"dev-user"}`)))
	req.Header.Set("Content-Type", "application/json")
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("dev login: %v", err)
	}
	data, _ := io.ReadAll(res.Body)
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login status %d: %s", res.StatusCode, string(data))
	}
	token, _ := asMap(t, data)["token"].(string)
	if token == "" {
		t.Fatalf("dev login token missing: %s", string(data))
	}

	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/v0/projects/hyvve/work-items", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	res, err = client.Do(req)
	if err != nil {
		t.Fatalf("authed request: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("bearer auth status %d", res.StatusCode)
	}

	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/v0/projects/hyvve/work-items", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	res, err = client.Do(req)
	if err != nil {
		t.Fatalf("bad token request: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad bearer status %d", res.StatusCode)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/apikeys", map[string]any{
		"actor_id": "ci-bot",
		"name":     "ci",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create api key status %d: %s", res.StatusCode, string(data))
	}
	key, _ := asMap(t, data)["key"].(string)
	if key == "" {
		t.Fatalf("api key secret missing: %s", string(data))
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v0/projects/hyvve/work-items", nil)
	req.Header.Set("X-Api-Key", key)
	res2, err := client.Do(req)
	if err != nil {
		t.Fatalf("api key request: %v", err)
	}
	res2.Body.Close()
	if res2.StatusCode != http.StatusOK {
		t.Fatalf("api key auth status %d", res2.StatusCode)
	}

	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/v0/projects/hyvve/work-items", nil)
	req.Header.Set("X-Api-Key", "bogus")
	res3, err := client.Do(req)
	if err != nil {
		t.Fatalf("bogus key request: %v", err)
	}
	res3.Body.Close()
	if res3.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bogus key status %d", res3.StatusCode)
	}
}

func TestPhaseTransitionOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	base := srv.URL + "/v0/projects/hyvve"

	res, data := doJSON(t, client, http.MethodPost, base+"/work-items", map[string]any{
		"type":  "chore",
		"title": "Move me",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", res.StatusCode, string(data))
	}
	itemID, _ := asMap(t, data)["id"].(string)

	res, data = doJSON(t, client, http.MethodPatch, base+"/work-items/"+itemID, map[string]any{
		"phase": "planned",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("move status %d: %s", res.StatusCode, string(data))
	}
	if asMap(t, data)["phase"] != "planned" {
		t.Fatalf("phase after move: %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodPatch, base+"/work-items/"+itemID, map[string]any{
		"phase": "done",
	}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("skipping phases: expected 400, got %d: %s", res.StatusCode, string(data))
	}
}

func TestEventLogRecordsActions(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	base := srv.URL + "/v0/projects/hyvve"

	res, data := doJSON(t, client, http.MethodPost, base+"/work-items", map[string]any{
		"type":  "feature",
		"title": "Logged",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, base+"/events?type=work_item.created", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, string(data))
	}
	listing := asMap(t, data)
	items, _ := listing["items"].([]any)
	if len(items) == 0 {
		t.Fatalf("expected a work_item.created event: %s", string(data))
	}
}
