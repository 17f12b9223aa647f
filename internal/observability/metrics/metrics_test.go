package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func scrape(t *testing.T) string {
	t.Helper()
	resp := httptest.NewRecorder()
	Handler().ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("scrape status = %d", resp.Code)
	}
	return resp.Body.String()
}

func TestObserveHTTPRequest(t *testing.T) {
	ObserveHTTPRequest("/api/v1/sessions", http.MethodPost, http.StatusCreated, 20*time.Millisecond)
	ObserveHTTPRequest("/api/v1/sessions", http.MethodPost, http.StatusInternalServerError, time.Millisecond)

	body := scrape(t)
	if !strings.Contains(body, `negochain_http_requests_total{handler="/api/v1/sessions",method="POST",code="201"} 1`) {
		t.Fatalf("request counter missing:\n%s", body)
	}
	if !strings.Contains(body, `negochain_http_request_errors_total{handler="/api/v1/sessions",method="POST"} 1`) {
		t.Fatalf("error counter missing:\n%s", body)
	}
	if !strings.Contains(body, "negochain_http_request_duration_seconds_count{handler=\"/api/v1/sessions\",method=\"POST\"} 2") {
		t.Fatalf("latency histogram missing:\n%s", body)
	}
}

func TestObserveSession(t *testing.T) {
	ObserveSession("agreement", 4)
	ObserveSession("agreement", 6)
	ObserveSession("no_deal", 8)

	body := scrape(t)
	if !strings.Contains(body, `negochain_sessions_total{outcome="agreement"} 2`) {
		t.Fatalf("agreement counter missing:\n%s", body)
	}
	if !strings.Contains(body, `negochain_sessions_total{outcome="no_deal"} 1`) {
		t.Fatalf("no_deal counter missing:\n%s", body)
	}
	if !strings.Contains(body, "negochain_negotiation_rounds_count 3") {
		t.Fatalf("rounds histogram missing:\n%s", body)
	}
}

func TestMiddlewareRecordsStatus(t *testing.T) {
	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/brew", nil))
	if resp.Code != http.StatusTeapot {
		t.Fatalf("status = %d, want 418", resp.Code)
	}

	body := scrape(t)
	if !strings.Contains(body, `negochain_http_requests_total{handler="/brew",method="GET",code="418"} 1`) {
		t.Fatalf("middleware observation missing:\n%s", body)
	}
}
