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

	"matchline/internal/config"
	"matchline/internal/db"
	"matchline/internal/domain"
	"matchline/internal/engine"
	"matchline/internal/migrate"
	"matchline/internal/scheduler"
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
	cfg := config.Default()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	sched := scheduler.New(e, cfg.SweepInterval(), nil)
	handler, err := New(Config{
		Engine:    e,
		Scheduler: sched,
		BasePath:  "/v0",
		Auth:      AuthConfig{AllowLegacyExpertHeader: true},
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
			sched.Stop()
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
	req.Header.Set("X-Expert-Id", "tester")
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

func seedExpert(t *testing.T, srv *testServer, id string) {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/experts", map[string]any{
		"id":                      id,
		"subjects":                []string{"Math"},
		"min_price":               30.0,
		"max_price":               80.0,
		"rating_avg":              4.5,
		"rating_count":            20,
		"accept_rate":             0.9,
		"median_response_minutes": 10,
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("seed expert %s: %d %s", id, res.StatusCode, string(data))
	}
}

func seedTask(t *testing.T, srv *testServer) domain.Task {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tasks", map[string]any{
		"subject":     "Math",
		"title":       "Integrals",
		"price":       50,
		"deadline_at": time.Now().UTC().Add(48 * time.Hour).Format(time.RFC3339),
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("seed task: %d %s", res.StatusCode, string(data))
	}
	var created domain.Task
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal task: %v", err)
	}
	return created
}

func TestClaimConfirmFlow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	seedExpert(t, srv, "e1")
	task := seedTask(t, srv)
	if task.InvitedNow != 1 || task.CurrentWave != 1 {
		t.Fatalf("first wave not issued: %+v", task)
	}

	claimRes, claimBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+task.ID+"/claim", nil,
		map[string]string{"X-Expert-Id": "e1"})
	if claimRes.StatusCode != http.StatusOK {
		t.Fatalf("claim: %d %s", claimRes.StatusCode, string(claimBody))
	}

	resvRes, resvBody := doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks/"+task.ID+"/reservation", nil, nil)
	if resvRes.StatusCode != http.StatusOK {
		t.Fatalf("reservation: %d %s", resvRes.StatusCode, string(resvBody))
	}
	var resv domain.Reservation
	if err := json.Unmarshal(resvBody, &resv); err != nil {
		t.Fatalf("unmarshal reservation: %v", err)
	}
	if resv.ReservedBy != "e1" || resv.TimeRemainingMs <= 0 {
		t.Fatalf("reservation body: %+v", resv)
	}

	confirmRes, confirmBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+task.ID+"/confirm", nil,
		map[string]string{"X-Expert-Id": "e1"})
	if confirmRes.StatusCode != http.StatusOK {
		t.Fatalf("confirm: %d %s", confirmRes.StatusCode, string(confirmBody))
	}
	var confirmed domain.Task
	if err := json.Unmarshal(confirmBody, &confirmed); err != nil {
		t.Fatalf("unmarshal confirmed: %v", err)
	}
	if confirmed.Status != domain.TaskClaimed {
		t.Fatalf("status = %s, want claimed", confirmed.Status)
	}
}

func TestClaimConflict(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	task := seedTask(t, srv)
	res1, body1 := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+task.ID+"/claim", nil,
		map[string]string{"X-Expert-Id": "e1"})
	if res1.StatusCode != http.StatusOK {
		t.Fatalf("first claim: %d %s", res1.StatusCode, string(body1))
	}
	res2, body2 := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+task.ID+"/claim", nil,
		map[string]string{"X-Expert-Id": "e2"})
	if res2.StatusCode != http.StatusConflict {
		t.Fatalf("expected conflict, got %d %s", res2.StatusCode, string(body2))
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body2, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v", err)
	}
	if envelope.Error.Code != "not_open" {
		t.Fatalf("error code = %s", envelope.Error.Code)
	}
}

func TestConfirmByStrangerForbidden(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	task := seedTask(t, srv)
	doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+task.ID+"/claim", nil,
		map[string]string{"X-Expert-Id": "e1"})
	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/"+task.ID+"/confirm", nil,
		map[string]string{"X-Expert-Id": "stranger"})
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d %s", res.StatusCode, string(body))
	}
}

func TestInviteRespondAuthorization(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	seedExpert(t, srv, "e1")
	task := seedTask(t, srv)

	invRes, invBody := doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks/"+task.ID+"/invites", nil, nil)
	if invRes.StatusCode != http.StatusOK {
		t.Fatalf("list invites: %d %s", invRes.StatusCode, string(invBody))
	}
	var invites []domain.Invite
	if err := json.Unmarshal(invBody, &invites); err != nil {
		t.Fatalf("unmarshal invites: %v", err)
	}
	if len(invites) != 1 {
		t.Fatalf("invites = %+v", invites)
	}

	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/invites/"+invites[0].ID+"/respond",
		map[string]any{"status": "accepted"}, map[string]string{"X-Expert-Id": "intruder"})
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d %s", res.StatusCode, string(body))
	}

	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/invites/"+invites[0].ID+"/respond",
		map[string]any{"status": "accepted"}, map[string]string{"X-Expert-Id": "e1"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("accept: %d %s", res.StatusCode, string(body))
	}
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/v0/tasks", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.StatusCode)
	}

	healthRes, err := srv.Client().Get(srv.URL + "/v0/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	defer healthRes.Body.Close()
	if healthRes.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", healthRes.StatusCode)
	}
}

func TestSchedulerEndpoints(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, body := doJSON(t, client, http.MethodGet, srv.URL+"/v0/scheduler", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status: %d %s", res.StatusCode, string(body))
	}
	var status struct {
		Running bool `json:"running"`
	}
	_ = json.Unmarshal(body, &status)
	if status.Running {
		t.Fatal("scheduler should start stopped")
	}

	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/scheduler/start", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("start: %d %s", res.StatusCode, string(body))
	}
	_ = json.Unmarshal(body, &status)
	if !status.Running {
		t.Fatal("scheduler not running after start")
	}

	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/scheduler/stop", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("stop: %d %s", res.StatusCode, string(body))
	}
	_ = json.Unmarshal(body, &status)
	if status.Running {
		t.Fatal("scheduler still running after stop")
	}
}
