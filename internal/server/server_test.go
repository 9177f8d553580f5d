package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"fleetplan/internal/catalog"
	"fleetplan/internal/db"
	"fleetplan/internal/domain"
	"fleetplan/internal/engine"
	"fleetplan/internal/engine/auth"
	"fleetplan/internal/migrate"
	"fleetplan/internal/projection"
)

const testSecret = "test-secret"

type testServer struct {
	URL     string
	client  *http.Client
	engine  engine.Engine
	planner string
	viewer  string
	close   func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func (s *testServer) as(key string) map[string]string {
	return map[string]string{"X-Api-Key": key}
}

func newTestEngine(t *testing.T, c *catalog.Catalog) engine.Engine {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, c)
	if err := e.ImportCatalog(context.Background(), c, "tester"); err != nil {
		t.Fatalf("import catalog: %v", err)
	}
	return e
}

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	e := newTestEngine(t, catalog.Default("fleet"))
	ctx := context.Background()
	_, planner, err := e.CreateAPIKey(ctx, "planner-1", "ci", auth.RolePlanner, "tester")
	if err != nil {
		t.Fatalf("planner key: %v", err)
	}
	_, viewer, err := e.CreateAPIKey(ctx, "viewer-1", "ci", auth.RoleViewer, "tester")
	if err != nil {
		t.Fatalf("viewer key: %v", err)
	}
	handler, err := New(Config{Engine: e, BasePath: "/v0", Auth: AuthConfig{JWTSecret: testSecret}})
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
		URL:     "http://" + ln.Addr().String(),
		client:  &http.Client{},
		engine:  e,
		planner: planner,
		viewer:  viewer,
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
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

func TestHealthAndAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, body)
	}
	res, body = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/catalog", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", res.StatusCode, body)
	}
	var envelope struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Error.Code != "unauthorized" {
		t.Fatalf("unexpected error envelope %s", body)
	}
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/catalog", nil, map[string]string{"X-Api-Key": "fp_nope"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unknown key should be rejected, got %d", res.StatusCode)
	}
	res, body = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/catalog", nil, map[string]string{"Authorization": "Basic " + srv.planner})
	if err := json.Unmarshal(body, &envelope); err != nil || res.StatusCode != http.StatusUnauthorized || envelope.Error.Code != "invalid_credentials" {
		t.Fatalf("non-bearer authorization should be refused, got %d: %s", res.StatusCode, body)
	}
}

func TestBearerTokensNeedSecret(t *testing.T) {
	e := newTestEngine(t, catalog.Default("fleet"))
	handler, err := New(Config{Engine: e, BasePath: "/v0"})
	if err != nil {
		t.Fatal(err)
	}
	token, err := SignToken(testSecret, "alice", []string{auth.RoleViewer}, jwt.RegisteredClaims{})
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodGet, "/v0/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized || !strings.Contains(rec.Body.String(), "invalid_credentials") {
		t.Fatalf("token accepted without a configured secret: %d %s", rec.Code, rec.Body.String())
	}
}

func TestCatalogEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/catalog", nil, srv.as(srv.viewer))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("catalog status %d: %s", res.StatusCode, body)
	}
	var got CatalogResponse
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decode catalog: %v", err)
	}
	if got.Fleet.ID != "fleet" || len(got.Categories) != 3 || len(got.Vehicles) != 35 {
		t.Fatalf("unexpected catalog %+v", got)
	}
}

func TestMonthlyUpdateRoundTrip(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/schedule/monthly/update", MonthlyUpdateRequest{
		Year: 2024, Month: 2, Day: 5, Vehicle: "1101", Code: "J1",
	}, srv.as(srv.planner))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("update status %d: %s", res.StatusCode, body)
	}
	var wr domain.WriteResult
	if err := json.Unmarshal(body, &wr); err != nil || !wr.Success {
		t.Fatalf("write should succeed: %s", body)
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/schedule/monthly?year=2024&month=2", nil, srv.as(srv.viewer))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, body)
	}
	var list AssignmentsResponse
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Items) != 1 || list.Items[0].Code != "J1" || list.Items[0].ManHours != 8 {
		t.Fatalf("unexpected items %+v", list.Items)
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/views/monthly?year=2024&month=2", nil, srv.as(srv.viewer))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("view status %d: %s", res.StatusCode, body)
	}
	var view projection.MonthlyView
	if err := json.Unmarshal(body, &view); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	cell, ok := view.Cell("1101", 5)
	if !ok || cell.Code != "J1" {
		t.Fatalf("cell 1101-5 missing: %s", body)
	}
	if view.DaysInMonth != 31 {
		t.Fatalf("march has 31 days, got %d", view.DaysInMonth)
	}
}

func TestRejectedWriteIsNotAnError(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/schedule/monthly/update", MonthlyUpdateRequest{
		Year: 2024, Month: 2, Day: 5, Vehicle: "1101", Code: "Q9",
	}, srv.as(srv.planner))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, body)
	}
	var wr domain.WriteResult
	if err := json.Unmarshal(body, &wr); err != nil {
		t.Fatal(err)
	}
	if wr.Success || !strings.Contains(wr.Message, "Q9") {
		t.Fatalf("expected rejection, got %+v", wr)
	}
}

func TestViewerCannotWrite(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/schedule/annual/update", AnnualUpdateRequest{
		Year: 2024, Month: 0, Vehicle: "1101", Category: catalog.Balanced, SlotIndex: 0, Code: "J1",
	}, srv.as(srv.viewer))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", res.StatusCode, body)
	}
	if !strings.Contains(string(body), auth.ScheduleWrite) {
		t.Fatalf("error should name the permission: %s", body)
	}
}

func TestAnnualUpdateWithJWT(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	token, err := SignToken(testSecret, "alice", []string{auth.RolePlanner}, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	bearer := map[string]string{"Authorization": "Bearer " + token}

	writes := []AnnualUpdateRequest{
		{Vehicle: "1102", Category: catalog.Balanced, SlotIndex: 0, Code: "J1"},
		{Vehicle: "1102", Category: catalog.Special, SlotIndex: 0, Code: "T1"},
		{Vehicle: "1102", Category: catalog.Special, SlotIndex: 1, Code: "T3"},
		{Vehicle: "1105", Category: catalog.Special, SlotIndex: 0, Code: "T2"},
	}
	for _, w := range writes {
		w.Year, w.Month = 2024, 3
		res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/schedule/annual/update", w, bearer)
		if res.StatusCode != http.StatusOK || !strings.Contains(string(body), `"success":true`) {
			t.Fatalf("write %s: %d %s", w.Code, res.StatusCode, body)
		}
	}
	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/schedule/annual/update", AnnualUpdateRequest{
		Year: 2024, Month: 3, Vehicle: "1102", Category: catalog.Balanced, SlotIndex: 1, Code: "J7",
	}, bearer)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(body), `"success":false`) {
		t.Fatalf("second Balanced slot should be rejected: %d %s", res.StatusCode, body)
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/views/annual?year=2024", nil, bearer)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("view status %d: %s", res.StatusCode, body)
	}
	var view projection.AnnualView
	if err := json.Unmarshal(body, &view); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	buckets := view.Schedule[projection.MonthKey(2024, 3)]["1102"]
	if !reflect.DeepEqual(buckets[catalog.Balanced], []string{"J1"}) || !reflect.DeepEqual(buckets[catalog.Special], []string{"T1", "T3"}) {
		t.Fatalf("unexpected buckets %v", buckets)
	}
	summary, hours := view.MonthlySummary[3], view.MonthlyManHours[3]
	if summary["J"] != 1 || summary["T1"] != 1 || summary["T2"] != 1 || summary["T3"] != 1 {
		t.Fatalf("unexpected summary %v", summary)
	}
	if hours[catalog.Balanced] != 8 || hours[catalog.Special] != 22 {
		t.Fatalf("unexpected hours %v", hours)
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/views/annual/overview?year=2024&highlight=Special", nil, bearer)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("overview status %d: %s", res.StatusCode, body)
	}
	var o projection.Overview
	if err := json.Unmarshal(body, &o); err != nil {
		t.Fatal(err)
	}
	if o.TotalTasks != 4 || o.BusiestPeriod != 3 || o.BusiestManHours != 30 {
		t.Fatalf("unexpected overview %+v", o)
	}
	if o.PrefixCounts["J"] != 1 || o.PrefixCounts["T"] != 3 {
		t.Fatalf("unexpected prefix counts %v", o.PrefixCounts)
	}
	if len(o.TopPeriods) != 1 || o.TopPeriods[0] != (projection.PeriodHours{Period: 3, ManHours: 22}) {
		t.Fatalf("unexpected top periods %+v", o.TopPeriods)
	}
	wantVehicles := []projection.VehicleHours{
		{Vehicle: "1102", Tasks: 2, ManHours: 16},
		{Vehicle: "1105", Tasks: 1, ManHours: 6},
	}
	if !reflect.DeepEqual(o.TopVehicles, wantVehicles) {
		t.Fatalf("unexpected top vehicles %+v", o.TopVehicles)
	}

	for _, path := range []string{
		"/v0/views/annual/overview?year=2024&highlight=J",
		"/v0/views/monthly/overview?year=2024&month=3&highlight=Nope",
	} {
		res, body = doJSON(t, client, http.MethodGet, srv.URL+path, nil, bearer)
		if res.StatusCode != http.StatusBadRequest || !strings.Contains(string(body), "unknown_reference") {
			t.Fatalf("%s: expected 400, got %d: %s", path, res.StatusCode, body)
		}
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, bearer)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(body), `"actor_id":"alice"`) {
		t.Fatalf("me: %d %s", res.StatusCode, body)
	}
}

func TestInvalidQueryIsBadRequest(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/views/monthly?year=2024&month=12", nil, srv.as(srv.viewer))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", res.StatusCode, body)
	}
	res, body = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/schedule/annual?year=2024&categories=Nope", nil, srv.as(srv.viewer))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown category, got %d: %s", res.StatusCode, body)
	}
}

func TestPreScheduleAndEvents(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/schedule/preschedule", PreScheduleRequest{
		Year: 2025, Seed: 7,
	}, srv.as(srv.viewer))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("viewer should not plan, got %d: %s", res.StatusCode, body)
	}

	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/schedule/preschedule", PreScheduleRequest{
		Year: 2025, Seed: 7,
	}, srv.as(srv.planner))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("preschedule status %d: %s", res.StatusCode, body)
	}
	var result engine.PreScheduleResult
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatal(err)
	}
	if result.Created == 0 || result.Seed != 7 {
		t.Fatalf("unexpected result %+v", result)
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/views/annual?year=2025", nil, srv.as(srv.viewer))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("view status %d: %s", res.StatusCode, body)
	}
	var view projection.AnnualView
	if err := json.Unmarshal(body, &view); err != nil {
		t.Fatal(err)
	}
	if len(view.Overflows) != 0 {
		t.Fatalf("generated plan overflows: %v", view.Overflows)
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?type=plan.generated&limit=1", nil, srv.as(srv.viewer))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, body)
	}
	var page paginatedEvents
	if err := json.Unmarshal(body, &page); err != nil {
		t.Fatal(err)
	}
	if len(page.Items) != 1 || page.Items[0].ActorID != "planner-1" || page.NextCursor != "" {
		t.Fatalf("unexpected events page %s", body)
	}
}

func TestEventsPagination(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	for day := 1; day <= 3; day++ {
		doJSON(t, client, http.MethodPost, srv.URL+"/v0/schedule/monthly/update", MonthlyUpdateRequest{
			Year: 2024, Month: 0, Day: day, Vehicle: "1103", Code: "T1",
		}, srv.as(srv.planner))
	}
	seen := map[int64]bool{}
	cursor := ""
	for page := 0; page < 5; page++ {
		url := srv.URL + "/v0/events?entity_kind=monthly_cell&limit=2"
		if cursor != "" {
			url += "&cursor=" + cursor
		}
		res, body := doJSON(t, client, http.MethodGet, url, nil, srv.as(srv.viewer))
		if res.StatusCode != http.StatusOK {
			t.Fatalf("events status %d: %s", res.StatusCode, body)
		}
		var p paginatedEvents
		if err := json.Unmarshal(body, &p); err != nil {
			t.Fatal(err)
		}
		for _, evt := range p.Items {
			if seen[evt.ID] {
				t.Fatalf("event %d returned twice", evt.ID)
			}
			seen[evt.ID] = true
		}
		if p.NextCursor == "" {
			break
		}
		cursor = p.NextCursor
	}
	if len(seen) != 3 {
		t.Fatalf("expected 3 cell events, saw %d", len(seen))
	}
}

func TestOpenAPIDocument(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/openapi.json", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("openapi status %d: %s", res.StatusCode, body)
	}
	for _, p := range []string{"/v0/schedule/annual/update", "/v0/views/monthly/overview", "bearerAuth"} {
		if !strings.Contains(string(body), p) {
			t.Fatalf("openapi document missing %s", p)
		}
	}
	var doc struct {
		Paths map[string]map[string]struct {
			Security  []map[string][]string      `json:"security"`
			Responses map[string]json.RawMessage `json:"responses"`
		} `json:"paths"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		t.Fatal(err)
	}
	if health := doc.Paths["/v0/health"]["get"]; len(health.Security) != 0 {
		t.Fatalf("health check should need no credentials: %+v", health.Security)
	}
	catalogOp := doc.Paths["/v0/catalog"]["get"]
	if len(catalogOp.Security) != 2 || catalogOp.Responses["default"] == nil {
		t.Fatalf("catalog should accept both schemes and document errors: %+v", catalogOp)
	}
}

func TestWebhookDelivery(t *testing.T) {
	type delivery struct {
		header http.Header
		body   []byte
	}
	var mu sync.Mutex
	var got []delivery
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		mu.Lock()
		got = append(got, delivery{header: r.Header.Clone(), body: data})
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hook.Close()

	c := catalog.Default("depot")
	c.Webhooks = []catalog.WebhookConfig{{
		URL:    hook.URL,
		Events: []string{"monthly_cell.written"},
		Secret: "s3cret",
	}}
	e := newTestEngine(t, c)
	ctx := context.Background()
	d := newWebhookDispatcher(e, nil)
	if d == nil {
		t.Fatalf("dispatcher should start for a catalog with webhooks")
	}
	d.dispatchAll(ctx) // pins the cursor past the catalog import

	if _, err := e.WriteMonthlyCell(ctx, domain.MonthlyCellWrite{Year: 2024, Month: 1, Day: 9, Vehicle: "1104", Code: "Z1"}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.WriteMonthlyCell(ctx, domain.MonthlyCellWrite{Year: 2024, Month: 1, Day: 9, Vehicle: "1104", Code: ""}); err != nil {
		t.Fatal(err)
	}
	d.dispatchAll(ctx)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("expected one delivery, got %d", len(got))
	}
	if got[0].header.Get("X-Fleetplan-Event") != "monthly_cell.written" || got[0].header.Get("X-Fleetplan-Fleet") != "depot" {
		t.Fatalf("unexpected headers %v", got[0].header)
	}
	want := fmt.Sprintf("sha256=%s", signPayload("s3cret", got[0].body))
	if got[0].header.Get("X-Fleetplan-Signature") != want {
		t.Fatalf("signature mismatch")
	}
	var evt webhookEvent
	if err := json.Unmarshal(got[0].body, &evt); err != nil || evt.EntityID != projection.CellKey("1104", 9) {
		t.Fatalf("unexpected payload %s", got[0].body)
	}
}
