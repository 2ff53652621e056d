package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sardorbek21324/Home/utils"
)

func authProbe(t *testing.T) (http.Handler, *bool) {
	t.Helper()
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})
	return AdminAuthMiddleware(next), &called
}

func decodeAPIResponse(t *testing.T, rec *httptest.ResponseRecorder) utils.APIResponse {
	t.Helper()
	var resp utils.APIResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func TestAdminAuthRejectsMissingToken(t *testing.T) {
	handler, called := authProbe(t)

	req := httptest.NewRequest(http.MethodGet, "/admin/tasks", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if *called {
		t.Fatal("next handler must not run without a token")
	}
	resp := decodeAPIResponse(t, rec)
	if resp.Success || resp.Message != "Unauthorized: No token provided" {
		t.Fatalf("unexpected body: %+v", resp)
	}
}

func TestAdminAuthRejectsMalformedToken(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	handler, called := authProbe(t)

	req := httptest.NewRequest(http.MethodGet, "/admin/tasks", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if *called {
		t.Fatal("next handler must not run with a malformed token")
	}
	resp := decodeAPIResponse(t, rec)
	if resp.Success || resp.Message != "Unauthorized: Invalid token" {
		t.Fatalf("unexpected body: %+v", resp)
	}
}

func TestAdminAuthRejectsTokenSignedWithOtherSecret(t *testing.T) {
	t.Setenv("JWT_AUD", "")
	t.Setenv("JWT_ISS", "")
	t.Setenv("JWT_SECRET", "secret-a")
	token, err := utils.GenerateAdminToken(1, "alice")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	t.Setenv("JWT_SECRET", "secret-b")
	handler, called := authProbe(t)

	req := httptest.NewRequest(http.MethodGet, "/admin/tasks", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if *called {
		t.Fatal("next handler must not run with a forged token")
	}
}
