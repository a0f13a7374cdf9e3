package middleware

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"advisor/internal/auth"
	"advisor/internal/domain"
	"advisor/internal/domain/models"
	"advisor/internal/httputil"

	"github.com/golang-jwt/jwt/v5"
)

type fakeVerifier struct {
	valid string
}

func (v *fakeVerifier) VerifyToken(token string) (*models.SupabaseClaims, error) {
	if token != v.valid {
		return nil, domain.ErrUnauthorized
	}
	return &models.SupabaseClaims{RegisteredClaims: jwt.RegisteredClaims{Subject: "user-42"}}, nil
}

func (v *fakeVerifier) Close() error { return nil }

func echoUser() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, httputil.GetUserID(r))
	})
}

func TestAuthMiddleware(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name       string
		verifier   *fakeVerifier
		target     string
		header     string
		wantStatus int
		wantUser   string
	}{
		{"no verifier uses default user", nil, "/api/agent/stream", "", http.StatusOK, "local-user"},
		{"bearer header", &fakeVerifier{valid: "tok"}, "/api/agent/stream", "Bearer tok", http.StatusOK, "user-42"},
		{"query token", &fakeVerifier{valid: "tok"}, "/api/agent/stream?access_token=tok", "", http.StatusOK, "user-42"},
		{"missing token", &fakeVerifier{valid: "tok"}, "/api/agent/stream", "", http.StatusUnauthorized, ""},
		{"bad token", &fakeVerifier{valid: "tok"}, "/api/agent/stream", "Bearer nope", http.StatusUnauthorized, ""},
		{"public path", &fakeVerifier{valid: "tok"}, "/health", "", http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var verifier auth.JWTVerifier
			if tt.verifier != nil {
				verifier = tt.verifier
			}
			h := AuthMiddleware(verifier, "local-user", logger, "/health")(echoUser())

			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusOK && rec.Body.String() != tt.wantUser {
				t.Errorf("user = %q, want %q", rec.Body.String(), tt.wantUser)
			}
		})
	}
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = httputil.GetRequestID(r)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if seen == "" || rec.Header().Get(RequestIDHeader) != seen {
		t.Errorf("generated id = %q, header = %q", seen, rec.Header().Get(RequestIDHeader))
	}

	const given = "6f1c2a0e-3b7d-4c59-9a57-0d4f2f8b9e11"
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, given)
	h.ServeHTTP(httptest.NewRecorder(), req)
	if seen != given {
		t.Errorf("propagated id = %q, want %q", seen, given)
	}
}

func TestRecovery(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := Recovery(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(errors.New("boom"))
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}
