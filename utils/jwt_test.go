package utils

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
)

func TestAdminTokenRoundTrip(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("JWT_AUD", "")
	t.Setenv("JWT_ISS", "")

	token, err := GenerateAdminToken(42, "alice")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	claims, err := ValidateAdminToken(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if id, _ := claims["id"].(float64); uint(id) != 42 {
		t.Errorf("id claim = %v, want 42", claims["id"])
	}
	if claims["username"] != "alice" {
		t.Errorf("username claim = %v, want alice", claims["username"])
	}
	if claims["role"] != "admin" {
		t.Errorf("role claim = %v, want admin", claims["role"])
	}
	if jti, _ := claims["jti"].(string); len(jti) != 32 {
		t.Errorf("jti = %q, want a 32-char id", jti)
	}
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret-one")
	token, err := GenerateAdminToken(1, "bob")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	t.Setenv("JWT_SECRET", "secret-two")
	if _, err := ValidateAdminToken(token); err == nil {
		t.Fatal("token signed with another secret must be rejected")
	}
}

func TestValidateRejectsNonAdminRole(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	claims := jwt.MapClaims{"id": 1, "role": "user"}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := ValidateAdminToken(token); err == nil {
		t.Fatal("non-admin token must be rejected")
	}
}

func TestValidateRejectsUnsignedToken(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"role": "admin"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := ValidateAdminToken(token); err == nil {
		t.Fatal("alg=none token must be rejected")
	}
}

func TestValidateEnforcesAudienceAndIssuer(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("JWT_AUD", "homebot-admin")
	t.Setenv("JWT_ISS", "homebot")

	token, err := GenerateAdminToken(1, "carol")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := ValidateAdminToken(token); err != nil {
		t.Fatalf("matching aud/iss rejected: %v", err)
	}

	t.Setenv("JWT_AUD", "other-audience")
	if _, err := ValidateAdminToken(token); err == nil {
		t.Fatal("audience mismatch must be rejected")
	}
}

func TestBearerToken(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, err := BearerToken(r); err == nil {
		t.Error("missing header must error")
	}

	r.Header.Set("Authorization", "Basic abc")
	if _, err := BearerToken(r); err == nil {
		t.Error("non-bearer scheme must error")
	}

	r.Header.Set("Authorization", "Bearer  tok-123 ")
	tok, err := BearerToken(r)
	if err != nil {
		t.Fatalf("bearer: %v", err)
	}
	if tok != "tok-123" {
		t.Errorf("token = %q, want tok-123", tok)
	}
}
