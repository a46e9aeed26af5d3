package middleware

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"trendtide/internal/domain"
)

const testSecret = "s3cret"

func TestVerifyJWT(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	valid, _ := SignJWT(testSecret, TokenClaims{Sub: "User@Example.com", Plan: "pro_plan", Exp: now.Add(time.Hour).Unix()})
	expired, _ := SignJWT(testSecret, TokenClaims{Sub: "a@b.c", Exp: now.Add(-time.Minute).Unix()})
	other, _ := SignJWT("different", TokenClaims{Sub: "a@b.c"})

	claims, err := VerifyJWT(testSecret, valid, now)
	if err != nil {
		t.Fatalf("VerifyJWT valid: %v", err)
	}
	if id := claims.Identity(); id.Email != "user@example.com" || id.Plan != "pro_plan" {
		t.Fatalf("unexpected identity %+v", id)
	}
	if _, err := VerifyJWT(testSecret, expired, now); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
	for _, tok := range []string{other, "a.b", "", strings.Replace(valid, ".", "x.", 1)} {
		if _, err := VerifyJWT(testSecret, tok, now); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("expected ErrInvalidToken for %q, got %v", tok, err)
		}
	}
	if _, err := SignJWT("", TokenClaims{}); err == nil {
		t.Fatalf("empty secret must not sign")
	}
}

func TestClaimsIdentityPrefersEmail(t *testing.T) {
	id := TokenClaims{Sub: "user_123", Email: " Creator@Example.com ", Locale: "id"}.Identity()
	if id.Email != "creator@example.com" || id.Locale != "id" {
		t.Fatalf("unexpected identity %+v", id)
	}
}

func TestAuthJWTMiddleware(t *testing.T) {
	token, _ := SignJWT(testSecret, TokenClaims{Sub: "a@b.c", Plan: "free"})
	noSubject, _ := SignJWT(testSecret, TokenClaims{Plan: "free"})

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantEmail  string
	}{
		{name: "anonymous passes through", wantStatus: http.StatusOK},
		{name: "valid bearer", header: "Bearer " + token, wantStatus: http.StatusOK, wantEmail: "a@b.c"},
		{name: "wrong scheme", header: "Basic " + token, wantStatus: http.StatusUnauthorized},
		{name: "garbage token", header: "Bearer nope", wantStatus: http.StatusUnauthorized},
		{name: "missing subject", header: "Bearer " + noSubject, wantStatus: http.StatusUnauthorized},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var email string
			h := AuthJWT(testSecret, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if id, ok := IdentityFromContext(r.Context()); ok {
					email = id.Email
				}
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tc.wantStatus || email != tc.wantEmail {
				t.Fatalf("status=%d email=%q, want %d %q", rec.Code, email, tc.wantStatus, tc.wantEmail)
			}
			if rec.Code == http.StatusUnauthorized {
				var body struct {
					Error struct{ Code string } `json:"error"`
				}
				if err := json.NewDecoder(rec.Body).Decode(&body); err != nil || body.Error.Code != "unauthorized" {
					t.Fatalf("unexpected error body: %v", err)
				}
			}
		})
	}
}

type stubVerifier struct {
	calls int
	err   error
}

func (s *stubVerifier) Verify(_ context.Context, token string) (domain.Identity, error) {
	s.calls++
	if s.err != nil {
		return domain.Identity{}, s.err
	}
	return domain.Identity{Email: "google-user@example.com"}, nil
}

func rs256Token() string {
	enc := base64.RawURLEncoding
	return enc.EncodeToString([]byte(`{"alg":"RS256","kid":"k1","typ":"JWT"}`)) + "." +
		enc.EncodeToString([]byte(`{"sub":"1"}`)) + "." + enc.EncodeToString([]byte("sig"))
}

func TestAuthJWTRoutesRS256ToExternalVerifier(t *testing.T) {
	hs, _ := SignJWT(testSecret, TokenClaims{Sub: "a@b.c"})
	tests := []struct {
		name       string
		token      string
		verifier   *stubVerifier
		wantStatus int
		wantEmail  string
		wantCalls  int
	}{
		{name: "rs256 accepted", token: rs256Token(), verifier: &stubVerifier{}, wantStatus: http.StatusOK, wantEmail: "google-user@example.com", wantCalls: 1},
		{name: "rs256 rejected", token: rs256Token(), verifier: &stubVerifier{err: errors.New("bad signature")}, wantStatus: http.StatusUnauthorized, wantCalls: 1},
		{name: "hs256 stays local", token: hs, verifier: &stubVerifier{}, wantStatus: http.StatusOK, wantEmail: "a@b.c"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var email string
			h := AuthJWT(testSecret, tc.verifier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if id, ok := IdentityFromContext(r.Context()); ok {
					email = id.Email
				}
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Authorization", "Bearer "+tc.token)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tc.wantStatus || email != tc.wantEmail || tc.verifier.calls != tc.wantCalls {
				t.Fatalf("status=%d email=%q calls=%d", rec.Code, email, tc.verifier.calls)
			}
		})
	}

	// Without an external verifier an RS256 token fails HMAC verification.
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+rs256Token())
	AuthJWT(testSecret, nil)(http.NotFoundHandler()).ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without external verifier, got %d", rec.Code)
	}
}
