package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/taskdeck/taskdeck/internal/auth"
)

type fakeDenylist struct {
	revoked map[string]bool
	err     error
}

func (d *fakeDenylist) IsTokenRevoked(_ context.Context, jti string) (bool, error) {
	if d.err != nil {
		return false, d.err
	}
	return d.revoked[jti], nil
}

func newAuthTestSigner(t *testing.T) *auth.TokenSigner {
	t.Helper()
	signer, err := auth.NewTokenSigner([]byte("0123456789abcdef0123456789abcdef"), "taskdeck-test", 30*time.Minute, time.Now)
	if err != nil {
		t.Fatalf("NewTokenSigner: %v", err)
	}
	return signer
}

func authHandler(t *testing.T, denylist *fakeDenylist) (http.Handler, *auth.TokenSigner) {
	t.Helper()

	signer := newAuthTestSigner(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity := auth.IdentityFromContext(r.Context())
		if identity == nil {
			t.Error("no identity in request context")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("X-Test-User", identity.UserID)
		w.WriteHeader(http.StatusOK)
	})

	return Auth(AuthConfig{Logger: logger, Verifier: signer, Denylist: denylist})(inner), signer
}

func TestAuth_ValidToken(t *testing.T) {
	handler, signer := authHandler(t, &fakeDenylist{})

	token, _, _, err := signer.Issue("user-1", "ana")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("X-Test-User"); got != "user-1" {
		t.Errorf("resolved user = %q, want user-1", got)
	}
}

func TestAuth_RejectsWithUniform401(t *testing.T) {
	handler, _ := authHandler(t, &fakeDenylist{revoked: map[string]bool{}})

	expiredSigner, err := auth.NewTokenSigner([]byte("0123456789abcdef0123456789abcdef"), "taskdeck-test", time.Minute,
		func() time.Time { return time.Now().Add(-time.Hour) })
	if err != nil {
		t.Fatalf("NewTokenSigner: %v", err)
	}
	expired, _, _, err := expiredSigner.Issue("user-1", "ana")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	foreignSigner, err := auth.NewTokenSigner([]byte("ffffffffffffffffffffffffffffffff"), "taskdeck-test", time.Minute, time.Now)
	if err != nil {
		t.Fatalf("NewTokenSigner: %v", err)
	}
	foreign, _, _, err := foreignSigner.Issue("user-1", "ana")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	tests := []struct {
		name   string
		header string
	}{
		{"missing_header", ""},
		{"wrong_scheme", "Basic dXNlcjpwYXNz"},
		{"garbage_token", "Bearer not.a.jwt"},
		{"expired_token", "Bearer " + expired},
		{"foreign_signature", "Bearer " + foreign},
	}

	var firstBody string
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks", nil)
			if test.header != "" {
				req.Header.Set("Authorization", test.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", rec.Code)
			}
			// Every failure mode returns the same body.
			if firstBody == "" {
				firstBody = rec.Body.String()
			} else if rec.Body.String() != firstBody {
				t.Errorf("response body differs between failure modes")
			}
		})
	}
}

func TestAuth_RevokedToken(t *testing.T) {
	denylist := &fakeDenylist{revoked: map[string]bool{}}
	handler, signer := authHandler(t, denylist)

	token, jti, _, err := signer.Issue("user-1", "ana")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	denylist.revoked[jti] = true

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestAuth_DenylistUnavailableFailsClosed(t *testing.T) {
	denylist := &fakeDenylist{err: errors.New("redis down")}
	handler, signer := authHandler(t, denylist)

	token, _, _, err := signer.Issue("user-1", "ana")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}
