package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"luvia/internal/config"
	"luvia/internal/db"
	"luvia/internal/domain"
	"luvia/internal/engine"
	"luvia/internal/migrate"
	"luvia/internal/repo"
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
	cfg := config.Default("luvia-test")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	r := repo.Repo{DB: conn}
	users := []domain.User{
		{ID: "client-1", Name: "Sarah Premium", Role: domain.RoleClient, Tier: domain.TierSeedling, Points: 12450, CreatedAt: "2026-01-01T00:00:00Z"},
		{ID: "cleaner-1", Name: "Ngozi Field", Role: domain.RoleCleaner, Tier: domain.TierSeedling, CreatedAt: "2026-01-01T00:00:00Z"},
		{ID: "admin-1", Name: "Ops Admin", Role: domain.RoleAdmin, Tier: domain.TierSeedling, CreatedAt: "2026-01-01T00:00:00Z"},
	}
	for _, u := range users {
		if err := r.InsertUser(context.Background(), u); err != nil {
			t.Fatalf("seed user %s: %v", u.ID, err)
		}
	}
	if err := r.InsertProduct(context.Background(), domain.Product{ID: "p1", Name: "LUVIA Signature Fragrance", Category: "Specialty", Price: 4500, Eco: true}); err != nil {
		t.Fatalf("seed product: %v", err)
	}
	e := engine.New(conn, cfg)
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{AllowLegacyActorHeader: true},
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

func asActor(id string) map[string]string {
	return map[string]string{"X-Actor-Id": id}
}

func TestHealthNeedsNoAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(data))
	}

	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/jobs", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d", res.StatusCode)
	}
}

func TestBookingLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/jobs", map[string]any{
		"client_id":     "client-1",
		"service":       "cleaning",
		"property_size": "Small (1-2 Rooms)",
		"location":      "Lekki Phase 1",
	}, asActor("client-1"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("book status %d: %s", res.StatusCode, string(data))
	}
	var job JobResponse
	if err := json.Unmarshal(data, &job); err != nil {
		t.Fatalf("unmarshal job: %v", err)
	}
	if job.Status != "PENDING" {
		t.Fatalf("expected PENDING, got %s", job.Status)
	}
	if job.TotalAmount != 15000 || job.ReleasedAmount != 10500 || job.EscrowAmount != 4500 {
		t.Fatalf("unexpected amounts: %d/%d/%d", job.TotalAmount, job.ReleasedAmount, job.EscrowAmount)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/jobs/"+job.ID+"/sop", map[string]any{
		"module_ids": []string{"mod-security"},
	}, asActor("admin-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("inject status %d: %s", res.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, &job); err != nil {
		t.Fatalf("unmarshal injected job: %v", err)
	}
	if job.Status != "WORK_IN_PROGRESS" {
		t.Fatalf("expected WORK_IN_PROGRESS, got %s", job.Status)
	}
	if len(job.SOPList) != 1 {
		t.Fatalf("expected 1 checklist item, got %d", len(job.SOPList))
	}
	taskID := job.SOPList[0].ID

	// Mandatory evidence missing, review must be blocked.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/jobs/"+job.ID+"/submit", nil, asActor("cleaner-1"))
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 on gated submit, got %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/jobs/"+job.ID+"/tasks/"+taskID+"/evidence", nil, asActor("cleaner-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("evidence status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/jobs/"+job.ID+"/submit", nil, asActor("cleaner-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("submit status %d: %s", res.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, &job); err != nil {
		t.Fatalf("unmarshal submitted job: %v", err)
	}
	if job.Status != "COMPLETED" {
		t.Fatalf("expected COMPLETED, got %s", job.Status)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/jobs/"+job.ID+"/release", nil, asActor("client-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("release status %d: %s", res.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, &job); err != nil {
		t.Fatalf("unmarshal released job: %v", err)
	}
	if job.Status != "VERIFIED" {
		t.Fatalf("expected VERIFIED, got %s", job.Status)
	}
}

func TestRoleEnforcement(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/jobs", map[string]any{
		"client_id":     "client-1",
		"service":       "cleaning",
		"property_size": "Small (1-2 Rooms)",
	}, asActor("cleaner-1"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 booking as cleaner, got %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/jobs", map[string]any{
		"client_id":     "client-1",
		"service":       "cleaning",
		"property_size": "Small (1-2 Rooms)",
	}, asActor("client-1"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("book status %d: %s", res.StatusCode, string(data))
	}
	var job JobResponse
	_ = json.Unmarshal(data, &job)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/jobs/"+job.ID+"/sop", map[string]any{
		"module_ids": []string{"mod-kitchen"},
	}, asActor("client-1"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 injecting as client, got %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/v0/pricing/factor", map[string]any{
		"factor": 2.0,
	}, asActor("cleaner-1"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 setting factor as cleaner, got %d: %s", res.StatusCode, string(data))
	}
}

func TestErrorEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/jobs/LUV-0000", nil, asActor("client-1"))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if envelope.Error.Code != "not_found" {
		t.Fatalf("expected not_found, got %q", envelope.Error.Code)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/jobs", map[string]any{
		"client_id":     "client-1",
		"service":       "cleaning",
		"property_size": "Small (1-2 Rooms)",
	}, asActor("client-1"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("book status %d: %s", res.StatusCode, string(data))
	}
	var job JobResponse
	_ = json.Unmarshal(data, &job)

	// Escrow release before completion is a state conflict.
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/jobs/"+job.ID+"/release", nil, asActor("client-1"))
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", res.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if envelope.Error.Code != "state_conflict" {
		t.Fatalf("expected state_conflict, got %q", envelope.Error.Code)
	}
}

func TestCheckoutOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/checkout", map[string]any{
		"user_id": "client-1",
		"items": []map[string]any{
			{"product_id": "p1", "quantity": 2, "auto_refill": true},
		},
	}, asActor("client-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("checkout status %d: %s", res.StatusCode, string(data))
	}
	var out CheckoutResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal checkout: %v", err)
	}
	if out.Subtotal != 9000 || out.RefillDiscount != 900 || out.Total != 8100 {
		t.Fatalf("unexpected totals: subtotal %d refill %d total %d", out.Subtotal, out.RefillDiscount, out.Total)
	}
	if out.PointsEarned != 81 {
		t.Fatalf("expected 81 points earned, got %d", out.PointsEarned)
	}

	userRes, userData := doJSON(t, client, http.MethodGet, srv.URL+"/v0/users/client-1", nil, asActor("client-1"))
	if userRes.StatusCode != http.StatusOK {
		t.Fatalf("get user status %d: %s", userRes.StatusCode, string(userData))
	}
	var u UserResponse
	_ = json.Unmarshal(userData, &u)
	if u.Points != 12531 {
		t.Fatalf("expected 12531 points after checkout, got %d", u.Points)
	}
}
