package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// captureHandler records the user context the middleware injected.
func captureHandler(got **UserContext) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if uc, err := GetUserContext(r.Context()); err == nil {
			*got = uc
		}
		w.WriteHeader(http.StatusOK)
	})
}

func newTestMiddleware(t *testing.T, skipAuth bool) (*Middleware, *JWTManager) {
	t.Helper()
	keys := NewKeyStore([]KeyConfig{
		{Name: "ci", Hash: mustHash(t, "pk_ci_key_0001"), Email: "ci@example.com", Role: RoleAdmin},
	}, nil)
	jwtMgr := NewJWTManager("test-secret", time.Minute)
	return NewMiddleware(keys, jwtMgr, skipAuth), jwtMgr
}

func TestMiddlewareSkipAuthInjectsDevUser(t *testing.T) {
	mw, _ := newTestMiddleware(t, true)

	var got *UserContext
	req := httptest.NewRequest(http.MethodGet, "/message", nil)
	rec := httptest.NewRecorder()
	mw.HTTP(captureHandler(&got)).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with skip_auth, got %d", rec.Code)
	}
	if got == nil || got.UserID != "dev" || got.Role != RoleAdmin {
		t.Errorf("expected dev user context, got %+v", got)
	}
}

func TestMiddlewareServerCheckIsPublic(t *testing.T) {
	mw, _ := newTestMiddleware(t, false)

	var got *UserContext
	req := httptest.NewRequest(http.MethodGet, "/server-check", nil)
	rec := httptest.NewRecorder()
	mw.HTTP(captureHandler(&got)).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 without credentials on /server-check, got %d", rec.Code)
	}
	if got != nil {
		t.Errorf("expected no user context on public route, got %+v", got)
	}
}

func TestMiddlewareRejectsMissingCredentials(t *testing.T) {
	mw, _ := newTestMiddleware(t, false)

	req := httptest.NewRequest(http.MethodPost, "/message", nil)
	rec := httptest.NewRecorder()
	mw.HTTP(captureHandler(new(*UserContext))).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d", rec.Code)
	}
}

func TestMiddlewareAPIKeyHeader(t *testing.T) {
	mw, _ := newTestMiddleware(t, false)

	// Valid key
	{
		var got *UserContext
		req := httptest.NewRequest(http.MethodPost, "/message", nil)
		req.Header.Set("X-API-Key", "pk_ci_key_0001")
		rec := httptest.NewRecorder()
		mw.HTTP(captureHandler(&got)).ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200 with X-API-Key, got %d", rec.Code)
		}
		if got == nil || got.Email != "ci@example.com" || !got.IsAPIKey {
			t.Errorf("unexpected context: %+v", got)
		}
	}
	// Invalid key
	{
		req := httptest.NewRequest(http.MethodPost, "/message", nil)
		req.Header.Set("X-API-Key", "pk_wrong_key_1")
		rec := httptest.NewRecorder()
		mw.HTTP(captureHandler(new(*UserContext))).ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401 with bad key, got %d", rec.Code)
		}
	}
}

func TestMiddlewareBearerJWT(t *testing.T) {
	mw, jwtMgr := newTestMiddleware(t, false)

	token, err := jwtMgr.GenerateToken("user-1", "analyst@example.com", RoleUser)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	var got *UserContext
	req := httptest.NewRequest(http.MethodPost, "/message", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	mw.HTTP(captureHandler(&got)).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with bearer token, got %d", rec.Code)
	}
	if got == nil || got.UserID != "user-1" || got.TokenType != "jwt" {
		t.Errorf("unexpected context: %+v", got)
	}
}

func TestMiddlewareRejectsBadBearerToken(t *testing.T) {
	mw, _ := newTestMiddleware(t, false)

	req := httptest.NewRequest(http.MethodPost, "/message", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec := httptest.NewRecorder()
	mw.HTTP(captureHandler(new(*UserContext))).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad token, got %d", rec.Code)
	}
}

func TestMiddlewareStreamQueryParamKey(t *testing.T) {
	mw, _ := newTestMiddleware(t, false)

	// Query key accepted on stream paths (EventSource cannot set headers)
	{
		var got *UserContext
		req := httptest.NewRequest(http.MethodGet, "/stream/sse?run_id=r1&api_key=pk_ci_key_0001", nil)
		rec := httptest.NewRecorder()
		mw.HTTP(captureHandler(&got)).ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200 with query api_key on stream path, got %d", rec.Code)
		}
		if got == nil || !got.IsAPIKey {
			t.Errorf("unexpected context: %+v", got)
		}
	}
	// Query key rejected elsewhere
	{
		req := httptest.NewRequest(http.MethodPost, "/message?api_key=pk_ci_key_0001", nil)
		rec := httptest.NewRecorder()
		mw.HTTP(captureHandler(new(*UserContext))).ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401 for query api_key on non-stream path, got %d", rec.Code)
		}
	}
}
