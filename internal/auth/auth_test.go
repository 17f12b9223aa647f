package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestServiceDisabledWithoutKeys(t *testing.T) {
	if mode := NewService(Config{Enabled: true}).Mode(); mode != ModeDisabled {
		t.Fatalf("mode = %s, want disabled", mode)
	}
	if mode := NewService(Config{Enabled: false, Keys: map[string]string{"k": "ops"}}).Mode(); mode != ModeDisabled {
		t.Fatalf("mode = %s, want disabled", mode)
	}
}

func TestAuthenticate(t *testing.T) {
	svc := NewService(Config{Enabled: true, Keys: map[string]string{"secret-token": "trading-desk"}})
	ctx := context.Background()

	subject, err := svc.Authenticate(ctx, "Bearer secret-token")
	if err != nil {
		t.Fatalf("authenticate failed: %v", err)
	}
	if subject.Name != "trading-desk" {
		t.Fatalf("subject = %q, want trading-desk", subject.Name)
	}

	// 裸令牌（无 Bearer 前缀）也接受。
	if _, err := svc.Authenticate(ctx, "secret-token"); err != nil {
		t.Fatalf("bare token should authenticate: %v", err)
	}

	if _, err := svc.Authenticate(ctx, ""); err != ErrMissingToken {
		t.Fatalf("expected ErrMissingToken, got %v", err)
	}
	if _, err := svc.Authenticate(ctx, "Bearer wrong"); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestMiddleware(t *testing.T) {
	svc := NewService(Config{Enabled: true, Keys: map[string]string{"secret-token": "trading-desk"}})
	var seen *Subject
	handler := svc.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = SubjectFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	resp := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.Code)
	}
	if seen == nil || seen.Name != "trading-desk" {
		t.Fatalf("subject not propagated: %+v", seen)
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil))
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("missing token status = %d, want 401", resp.Code)
	}
}

func TestMiddlewareDisabledPassthrough(t *testing.T) {
	svc := NewService(Config{})
	handler := svc.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil))
	if resp.Code != http.StatusNoContent {
		t.Fatalf("disabled auth should pass through, status = %d", resp.Code)
	}
}
