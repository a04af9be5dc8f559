package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"planline/internal/config"
	"planline/internal/db"
	"planline/internal/domain"
	"planline/internal/engine"
	"planline/internal/migrate"
	"planline/internal/repo"
)

const testJWTSecret = "test-secret"

const testPlanYAML = `
project:
  id: proj-1
  name: Bridge retrofit
  start: 2026-01-05
activities:
  - id: A
    name: Design
    duration_days: 5
    distribution:
      type: triangular
      min: 3
      likely: 5
      max: 9
  - id: B
    name: Build
    duration_days: 3
    predecessors:
      - id: A
`

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default("proj-1"))
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth: AuthConfig{
			JWTSecret:              testJWTSecret,
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
		Engine: e,
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

func actorHeader() map[string]string {
	return map[string]string{"X-Actor-Id": "tester"}
}

func importPlan(t *testing.T, srv *testServer) {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/projects/import",
		map[string]any{"yaml": testPlanYAML}, actorHeader())
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("import status %d: %s", res.StatusCode, string(data))
	}
}

func TestHealthUnauthenticated(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(data))
	}
}

func TestUnauthenticatedRequestRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/projects", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v", err)
	}
	if envelope.Error.Code != "unauthorized" {
		t.Fatalf("error code %q", envelope.Error.Code)
	}
}

func TestImportScheduleCheckSimulateFlow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	importPlan(t, srv)
	client := srv.Client()

	schedRes, schedBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/proj-1/schedule", nil, actorHeader())
	if schedRes.StatusCode != http.StatusOK {
		t.Fatalf("schedule status %d: %s", schedRes.StatusCode, string(schedBody))
	}
	var sched ScheduleResponse
	if err := json.Unmarshal(schedBody, &sched); err != nil {
		t.Fatalf("unmarshal schedule: %v", err)
	}
	if sched.ProjectFinish != "2026-01-15" || sched.TotalDuration != 8 {
		t.Fatalf("schedule result: %+v", sched)
	}
	if len(sched.CriticalPath) != 2 {
		t.Fatalf("critical path: %v", sched.CriticalPath)
	}

	checkRes, checkBody := doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/proj-1/check", nil, actorHeader())
	if checkRes.StatusCode != http.StatusOK {
		t.Fatalf("check status %d: %s", checkRes.StatusCode, string(checkBody))
	}
	var check CheckResponse
	if err := json.Unmarshal(checkBody, &check); err != nil {
		t.Fatalf("unmarshal check: %v", err)
	}
	if len(check.Findings) == 0 {
		t.Fatalf("expected findings for the open-ended chain")
	}

	simRes, simBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/proj-1/simulate",
		map[string]any{"iterations": 50, "seed": 42}, actorHeader())
	if simRes.StatusCode != http.StatusOK {
		t.Fatalf("simulate status %d: %s", simRes.StatusCode, string(simBody))
	}
	var sim SimulationResponse
	if err := json.Unmarshal(simBody, &sim); err != nil {
		t.Fatalf("unmarshal simulation: %v", err)
	}
	if sim.RunID == "" || sim.Iterations != 50 {
		t.Fatalf("simulation result: %+v", sim)
	}
	if sim.Criticality["A"] != 100 {
		t.Fatalf("A should always be critical: %+v", sim.Criticality)
	}

	evRes, evBody := doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/proj-1/events", nil, actorHeader())
	if evRes.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", evRes.StatusCode, string(evBody))
	}
	var evs []EventResponse
	if err := json.Unmarshal(evBody, &evs); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(evs) != 3 || evs[0].Type != "simulate.run" {
		t.Fatalf("events: %+v", evs)
	}
}

func TestProjectNotFound(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/projects/ghost", nil, actorHeader())
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", res.StatusCode, string(data))
	}
}

func TestScheduleCycleMapsTo422(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	cyclic := `
project:
  id: proj-1
  start: 2026-01-05
activities:
  - id: A
    duration_days: 1
    predecessors:
      - id: B
  - id: B
    duration_days: 1
    predecessors:
      - id: A
`
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/import",
		map[string]any{"yaml": cyclic}, actorHeader())
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("import status %d: %s", res.StatusCode, string(data))
	}

	schedRes, schedBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/proj-1/schedule", nil, actorHeader())
	if schedRes.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", schedRes.StatusCode, string(schedBody))
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(schedBody, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v", err)
	}
	if envelope.Error.Code != "schedule_cycle" {
		t.Fatalf("error code %q", envelope.Error.Code)
	}
}

func TestJWTAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "alice",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/projects", nil,
		map[string]string{"Authorization": "Bearer " + signed})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("jwt request status %d: %s", res.StatusCode, string(data))
	}

	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/projects", nil,
		map[string]string{"Authorization": "Bearer not-a-token"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token should 401, got %d", res.StatusCode)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	raw := "pln_testkey"
	err := srv.Engine.Repo.InsertAPIKey(context.Background(), domain.APIKey{
		ID:        "key-1",
		ActorID:   "bob",
		Name:      "ci",
		KeyHash:   repo.HashAPIKey(raw),
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		t.Fatalf("insert api key: %v", err)
	}

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/projects", nil,
		map[string]string{"X-Api-Key": raw})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("api key request status %d: %s", res.StatusCode, string(data))
	}

	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/projects", nil,
		map[string]string{"X-Api-Key": "wrong"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unknown key should 401, got %d", res.StatusCode)
	}
}
