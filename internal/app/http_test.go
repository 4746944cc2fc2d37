package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"reportdesk/api/internal/store"
)

func newTestServer(dataStore dataStore) *HTTPServer {
	return NewHTTPServer(newTestService(dataStore), "*")
}

func doRequest(t *testing.T, server *HTTPServer, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("{}")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	decoded := map[string]any{}
	_ = json.Unmarshal(rec.Body.Bytes(), &decoded)
	return rec, decoded
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(&fakeStore{})
	rec, body := doRequest(t, server, http.MethodGet, "/api/health", "")
	if rec.Code != http.StatusOK || body["ok"] != true {
		t.Fatalf("health = %d %v", rec.Code, body)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("missing X-Request-ID header")
	}
}

func TestReadyEndpoint(t *testing.T) {
	server := newTestServer(&fakeStore{})
	rec, body := doRequest(t, server, http.MethodGet, "/api/ready", "")
	if rec.Code != http.StatusOK || body["status"] != "ready" {
		t.Fatalf("ready = %d %v", rec.Code, body)
	}
}

func TestPreflightRequest(t *testing.T) {
	server := newTestServer(&fakeStore{})
	rec, _ := doRequest(t, server, http.MethodOptions, "/api/reports", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("CORS origin = %q", rec.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestSubmitReportEndpoint(t *testing.T) {
	var inserted store.Report
	dataStore := &fakeStore{
		insertReportFn: func(_ context.Context, report store.Report) error {
			inserted = report
			return nil
		},
	}
	server := newTestServer(dataStore)

	rec, body := doRequest(t, server, http.MethodPost, "/api/reports",
		`{"service":"ГКС","type":"daily","apk_total":"3","apk_done":1}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d body = %v", rec.Code, body)
	}
	if body["status"] != "success" || body["id"] == "" {
		t.Fatalf("body = %v", body)
	}
	if inserted.Department != "ГКС" {
		t.Fatalf("inserted = %+v", inserted)
	}
}

func TestSubmitReportEndpointValidation(t *testing.T) {
	server := newTestServer(&fakeStore{})

	rec, body := doRequest(t, server, http.MethodPost, "/api/reports", `{"type":"daily"}`)
	if rec.Code != http.StatusUnprocessableEntity || body["code"] != "VALIDATION_ERROR" {
		t.Fatalf("status = %d body = %v", rec.Code, body)
	}

	rec, body = doRequest(t, server, http.MethodPost, "/api/reports", `not json`)
	if rec.Code != http.StatusBadRequest || body["code"] != "INVALID_BODY" {
		t.Fatalf("status = %d body = %v", rec.Code, body)
	}
}

func TestListReportsEndpoint(t *testing.T) {
	created := time.Date(2026, 3, 13, 8, 0, 0, 0, time.UTC)
	dataStore := &fakeStore{
		listReportsFn: func(_ context.Context, department, reportType string, limit, skip int) ([]store.Report, int, error) {
			if department != "ЭВС" || reportType != "daily" {
				t.Fatalf("filter = %q %q", department, reportType)
			}
			return []store.Report{{
				ID:         "rep_1",
				Department: department,
				Type:       "daily",
				Data:       json.RawMessage(`{"tasks":"обход"}`),
				CreatedAt:  created,
			}}, 5, nil
		},
	}
	server := newTestServer(dataStore)

	rec, body := doRequest(t, server, http.MethodGet, "/api/reports?service=ЭВС&type=daily&limit=2&skip=1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %v", rec.Code, body)
	}
	if body["total_count"] != float64(5) || body["limit"] != float64(2) || body["skip"] != float64(1) {
		t.Fatalf("paging = %v", body)
	}
	reports, ok := body["reports"].([]any)
	if !ok || len(reports) != 1 {
		t.Fatalf("reports = %v", body["reports"])
	}
	entry := reports[0].(map[string]any)
	if entry["datetime"] != "2026-03-13T08:00:00Z" {
		t.Fatalf("datetime = %v", entry["datetime"])
	}
	data := entry["data"].(map[string]any)
	if data["tasks"] != "обход" {
		t.Fatalf("data = %v", data)
	}

	rec, body = doRequest(t, server, http.MethodGet, "/api/reports", "")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("missing service should fail, got %d %v", rec.Code, body)
	}
}

func TestRequestsEndpoint(t *testing.T) {
	server := newTestServer(&fakeStore{})

	rec, body := doRequest(t, server, http.MethodGet, "/api/requests", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	for _, bucket := range []string{"pending", "approved", "completed"} {
		if _, ok := body[bucket]; !ok {
			t.Fatalf("missing bucket %s: %v", bucket, body)
		}
	}

	rec, body = doRequest(t, server, http.MethodPost, "/api/requests",
		`{"status":"done","req_type":"other","request_datetime":"2026-03-14T06:00:00Z"}`)
	if rec.Code != http.StatusUnprocessableEntity || body["code"] != "VALIDATION_ERROR" {
		t.Fatalf("bad status should fail, got %d %v", rec.Code, body)
	}

	rec, body = doRequest(t, server, http.MethodPost, "/api/requests",
		`{"status":"inwork","req_type":"with_approval","request_datetime":"2026-03-14T06:00:00Z","gpa_id":"gpa_1","path_id":"path_1"}`)
	if rec.Code != http.StatusCreated || body["id"] == "" {
		t.Fatalf("create failed: %d %v", rec.Code, body)
	}
}

func TestProtocolLifecycleEndpoints(t *testing.T) {
	var archived string
	var marks []doneMark
	dataStore := &fakeStore{
		archiveProtocolFn: func(_ context.Context, id string, _ time.Time) (bool, error) {
			archived = id
			return id == "prt_1", nil
		},
		markProtocolDoneFn: func(_ context.Context, id, department, doneDate string) (bool, error) {
			marks = append(marks, doneMark{id, department, doneDate})
			return id == "prt_1", nil
		},
	}
	server := newTestServer(dataStore)

	rec, body := doRequest(t, server, http.MethodPost, "/api/protocols",
		`{"issue_date":"2026-03-01","protocol_num":"12","protocol_name":"Совещание","deadline":"до 01.06.2026","text":"выполнить мероприятия","departments":["ГКС","ЛЭС"]}`)
	if rec.Code != http.StatusCreated || body["id"] == "" {
		t.Fatalf("create = %d %v", rec.Code, body)
	}

	rec, body = doRequest(t, server, http.MethodPost, "/api/protocols/prt_1/done",
		`{"service":"ГКС","done_date":"2026-03-14T00:00:00Z"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("done = %d %v", rec.Code, body)
	}
	if len(marks) != 1 || marks[0].department != "ГКС" {
		t.Fatalf("marks = %+v", marks)
	}

	rec, body = doRequest(t, server, http.MethodPost, "/api/protocols/prt_2/done",
		`{"service":"ГКС","done_date":"2026-03-14T00:00:00Z"}`)
	if rec.Code != http.StatusNotFound || body["code"] != "NOT_FOUND" {
		t.Fatalf("missing protocol done = %d %v", rec.Code, body)
	}

	rec, _ = doRequest(t, server, http.MethodPost, "/api/protocols/prt_1/archive", "")
	if rec.Code != http.StatusOK || archived != "prt_1" {
		t.Fatalf("archive = %d archived = %s", rec.Code, archived)
	}
}

func TestAggregateEndpointsRequireYear(t *testing.T) {
	server := newTestServer(&fakeStore{})

	rec, body := doRequest(t, server, http.MethodGet, "/api/leaks", "")
	if rec.Code != http.StatusUnprocessableEntity || body["code"] != "VALIDATION_ERROR" {
		t.Fatalf("leaks without year = %d %v", rec.Code, body)
	}

	dataStore := &fakeStore{
		getLeaksFn: func(_ context.Context, year int, department string) (store.LeakTotals, error) {
			if year != 2026 || department != "ЛЭС" {
				t.Fatalf("args = %d %q", year, department)
			}
			return store.LeakTotals{Total: 10, Done: 4}, nil
		},
	}
	server = newTestServer(dataStore)
	rec, body = doRequest(t, server, http.MethodGet, "/api/leaks?year=2026&department=ЛЭС", "")
	if rec.Code != http.StatusOK || body["total"] != float64(10) || body["done"] != float64(4) {
		t.Fatalf("leaks = %d %v", rec.Code, body)
	}
}

func TestSearchEndpointUnavailable(t *testing.T) {
	server := newTestServer(&fakeStore{})

	rec, body := doRequest(t, server, http.MethodGet, "/api/search?q=кран", "")
	if rec.Code != http.StatusServiceUnavailable || body["code"] != "SEARCH_UNAVAILABLE" {
		t.Fatalf("search = %d %v", rec.Code, body)
	}

	rec, body = doRequest(t, server, http.MethodGet, "/api/search", "")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("empty query = %d %v", rec.Code, body)
	}
}

func TestSessionEndpointWithoutToken(t *testing.T) {
	server := newTestServer(&fakeStore{})
	rec, body := doRequest(t, server, http.MethodGet, "/api/session", "")
	if rec.Code != http.StatusOK || body["authenticated"] != false {
		t.Fatalf("session = %d %v", rec.Code, body)
	}
}

func TestUnknownRoute(t *testing.T) {
	server := newTestServer(&fakeStore{})
	rec, body := doRequest(t, server, http.MethodGet, "/api/unknown", "")
	if rec.Code != http.StatusNotFound || body["code"] != "NOT_FOUND" {
		t.Fatalf("unknown route = %d %v", rec.Code, body)
	}
}
