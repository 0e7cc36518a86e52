package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/clawpen/clawpen/internal/clawpen/auth"
	"github.com/clawpen/clawpen/internal/clawpen/httpapi"
	"github.com/clawpen/clawpen/internal/clawpen/lifecycle"
	"github.com/clawpen/clawpen/internal/clawpen/router"
	"github.com/clawpen/clawpen/internal/clawpen/runtime"
	"github.com/clawpen/clawpen/internal/clawpen/store"
	"github.com/clawpen/clawpen/internal/clawpen/team"
)

// memRuntime is an in-memory runtime.Runtime double for handler tests.
type memRuntime struct {
	mu         sync.Mutex
	nextID     int
	containers map[runtime.Handle]runtime.State
	agents     map[runtime.Handle]string
}

func newMemRuntime() *memRuntime {
	return &memRuntime{
		containers: make(map[runtime.Handle]runtime.State),
		agents:     make(map[runtime.Handle]string),
	}
}

func (f *memRuntime) Create(ctx context.Context, spec runtime.Spec) (runtime.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	handle := runtime.Handle(fmt.Sprintf("ctr-%d", f.nextID))
	f.containers[handle] = runtime.StateCreated
	f.agents[handle] = spec.AgentID
	return handle, nil
}

func (f *memRuntime) Start(ctx context.Context, handle runtime.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.containers[handle]; !ok {
		return runtime.ErrNotFound
	}
	f.containers[handle] = runtime.StateRunning
	return nil
}

func (f *memRuntime) Stop(ctx context.Context, handle runtime.Handle, grace time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.containers[handle]; !ok {
		return runtime.ErrNotFound
	}
	f.containers[handle] = runtime.StateExited
	return nil
}

func (f *memRuntime) Remove(ctx context.Context, handle runtime.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.containers[handle]; !ok {
		return runtime.ErrNotFound
	}
	delete(f.containers, handle)
	delete(f.agents, handle)
	return nil
}

func (f *memRuntime) Status(ctx context.Context, handle runtime.Handle) (runtime.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state, ok := f.containers[handle]
	if !ok {
		return runtime.Status{Handle: handle, State: runtime.StateGone}, nil
	}
	return runtime.Status{Handle: handle, State: state}, nil
}

func (f *memRuntime) List(ctx context.Context) ([]runtime.Container, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []runtime.Container
	for handle, state := range f.containers {
		out = append(out, runtime.Container{AgentID: f.agents[handle], Handle: handle, State: state})
	}
	return out, nil
}

func (f *memRuntime) Logs(ctx context.Context, handle runtime.Handle, opts runtime.LogOptions) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("log line\n")), nil
}

func (f *memRuntime) Attach(ctx context.Context, handle runtime.Handle) (io.ReadWriteCloser, error) {
	return nil, fmt.Errorf("memRuntime: attach not supported")
}

type testServer struct {
	*httptest.Server
	auth  *auth.Service
	token string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	f, err := os.CreateTemp(t.TempDir(), "clawpen-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp db file: %v", err)
	}
	f.Close()
	st, err := store.New(f.Name())
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	authService, err := auth.NewService(ctx, st, false, nil)
	if err != nil {
		t.Fatalf("auth.NewService: %v", err)
	}
	if err := authService.SetPassword(ctx, "hunter2hunter2"); err != nil {
		t.Fatalf("SetPassword: %v", err)
	}

	manager := lifecycle.NewManager(st, newMemRuntime(), nil, lifecycle.Options{
		AllowedMountBases: []string{"/srv/agents"},
	})

	teams, err := team.NewRegistry(fstest.MapFS{
		"support.yaml": {Data: []byte(`
mode: keyword
default_member: helper
members:
  - agent: helper
    keywords: [help]
  - agent: billing
    keywords: [invoice]
`)},
	})
	if err != nil {
		t.Fatalf("team.NewRegistry: %v", err)
	}

	teamRouter := router.New(teams, nil, st, nil)
	server := httpapi.NewServer(authService, manager, teamRouter, teams, nil)

	ts := httptest.NewServer(server.Routes())
	t.Cleanup(ts.Close)

	pair, err := authService.Login(ctx, "hunter2hunter2")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	return &testServer{Server: ts, auth: authService, token: pair.AccessToken}
}

// do issues an authenticated JSON request and decodes the response into out
// (when non-nil).
func (ts *testServer) do(t *testing.T, method, path string, body, out any) int {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.URL+path, reader)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+ts.token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp.StatusCode
}

func TestHealth_Unauthenticated(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
}

func TestProtectedRoutes_RequireToken(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/agents")
	if err != nil {
		t.Fatalf("GET /agents: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no token: got %d, want 401", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/agents", nil)
	req.Header.Set("Authorization", "Bearer bogus")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /agents: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("bogus token: got %d, want 401", resp.StatusCode)
	}
}

func TestAuth_TokenViaQueryParam(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/agents?token=" + ts.token)
	if err != nil {
		t.Fatalf("GET /agents: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
}

func TestLogin(t *testing.T) {
	ts := newTestServer(t)

	body := strings.NewReader(`{"password":"hunter2hunter2"}`)
	resp, err := http.Post(ts.URL+"/auth/login", "application/json", body)
	if err != nil {
		t.Fatalf("POST /auth/login: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d, want 200", resp.StatusCode)
	}
	var pair auth.TokenPair
	if err := json.NewDecoder(resp.Body).Decode(&pair); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Error("expected both tokens in the login response")
	}
}

func TestLogin_WrongPassword(t *testing.T) {
	ts := newTestServer(t)

	body := strings.NewReader(`{"password":"wrong-password"}`)
	resp, err := http.Post(ts.URL+"/auth/login", "application/json", body)
	if err != nil {
		t.Fatalf("POST /auth/login: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status: got %d, want 401", resp.StatusCode)
	}
}

func TestRegister_Disabled(t *testing.T) {
	ts := newTestServer(t)

	body := strings.NewReader(`{"password":"newpassword1"}`)
	resp, err := http.Post(ts.URL+"/auth/register", "application/json", body)
	if err != nil {
		t.Fatalf("POST /auth/register: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status: got %d, want 403", resp.StatusCode)
	}
}

func TestAgentLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t)

	var agent lifecycle.Agent
	status := ts.do(t, http.MethodPost, "/agents", map[string]any{"name": "coder"}, &agent)
	if status != http.StatusCreated {
		t.Fatalf("create: got %d, want 201", status)
	}
	if agent.State != lifecycle.StateCreated {
		t.Errorf("State: got %s", agent.State)
	}

	var started lifecycle.Agent
	if status := ts.do(t, http.MethodPost, "/agents/"+agent.ID+"/start", nil, &started); status != http.StatusOK {
		t.Fatalf("start: got %d, want 200", status)
	}
	if started.State != lifecycle.StateRunning {
		t.Errorf("State after start: got %s", started.State)
	}

	// Deleting while running is refused.
	if status := ts.do(t, http.MethodDelete, "/agents/"+agent.ID, nil, nil); status != http.StatusConflict {
		t.Errorf("delete while running: got %d, want 409", status)
	}

	var stopped lifecycle.Agent
	if status := ts.do(t, http.MethodPost, "/agents/"+agent.ID+"/stop", nil, &stopped); status != http.StatusOK {
		t.Fatalf("stop: got %d, want 200", status)
	}
	if stopped.State != lifecycle.StateStopped {
		t.Errorf("State after stop: got %s", stopped.State)
	}

	if status := ts.do(t, http.MethodDelete, "/agents/"+agent.ID, nil, nil); status != http.StatusNoContent {
		t.Fatalf("delete: got %d, want 204", status)
	}
	if status := ts.do(t, http.MethodGet, "/agents/"+agent.ID, nil, nil); status != http.StatusNotFound {
		t.Errorf("get after delete: got %d, want 404", status)
	}
}

func TestCreateAgent_Validation(t *testing.T) {
	ts := newTestServer(t)

	if status := ts.do(t, http.MethodPost, "/agents", map[string]any{"name": "bad name!"}, nil); status != http.StatusBadRequest {
		t.Errorf("invalid name: got %d, want 400", status)
	}

	if status := ts.do(t, http.MethodPost, "/agents", map[string]any{"name": "coder"}, nil); status != http.StatusCreated {
		t.Fatalf("create: got %d, want 201", status)
	}
	if status := ts.do(t, http.MethodPost, "/agents", map[string]any{"name": "coder"}, nil); status != http.StatusConflict {
		t.Errorf("duplicate name: got %d, want 409", status)
	}
}

func TestAgentEventsOverHTTP(t *testing.T) {
	ts := newTestServer(t)

	var agent lifecycle.Agent
	if status := ts.do(t, http.MethodPost, "/agents", map[string]any{"name": "coder"}, &agent); status != http.StatusCreated {
		t.Fatalf("create failed")
	}
	ts.do(t, http.MethodPost, "/agents/"+agent.ID+"/start", nil, nil)

	var events []map[string]any
	if status := ts.do(t, http.MethodGet, "/agents/"+agent.ID+"/events", nil, &events); status != http.StatusOK {
		t.Fatalf("events: got %d, want 200", status)
	}
	if len(events) == 0 {
		t.Error("expected recorded events")
	}
}

func TestClassifyOverHTTP(t *testing.T) {
	ts := newTestServer(t)

	var decision router.Decision
	status := ts.do(t, http.MethodPost, "/teams/support/classify",
		map[string]any{"message": "where is my invoice"}, &decision)
	if status != http.StatusOK {
		t.Fatalf("classify: got %d, want 200", status)
	}
	if decision.Member != "billing" {
		t.Errorf("Member: got %q, want %q", decision.Member, "billing")
	}
	if decision.Method != router.MethodKeyword {
		t.Errorf("Method: got %q", decision.Method)
	}

	if status := ts.do(t, http.MethodPost, "/teams/support/classify", map[string]any{}, nil); status != http.StatusBadRequest {
		t.Errorf("empty message: got %d, want 400", status)
	}
	if status := ts.do(t, http.MethodPost, "/teams/ghost/classify", map[string]any{"message": "x"}, nil); status != http.StatusNotFound {
		t.Errorf("unknown team: got %d, want 404", status)
	}
}

func TestListTeamsOverHTTP(t *testing.T) {
	ts := newTestServer(t)

	var teams []string
	if status := ts.do(t, http.MethodGet, "/teams", nil, &teams); status != http.StatusOK {
		t.Fatalf("teams: got %d, want 200", status)
	}
	if len(teams) != 1 || teams[0] != "support" {
		t.Errorf("teams: got %v", teams)
	}
}
