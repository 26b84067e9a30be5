package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-jwt-secret"

func signToken(t *testing.T, method jwt.SigningMethod, claims jwt.RegisteredClaims, key interface{}) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return token
}

func protectedHandler() http.Handler {
	return Auth(AuthConfig{Secret: testSecret, Audience: "authenticated"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := GetUserID(r.Context())
		if !ok {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(userID))
	}))
}

func TestAuth(t *testing.T) {
	valid := jwt.RegisteredClaims{
		Subject:   "user-1",
		Audience:  jwt.ClaimStrings{"authenticated"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	expired := valid
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
	wrongAudience := valid
	wrongAudience.Audience = jwt.ClaimStrings{"anon"}
	noSubject := valid
	noSubject.Subject = ""

	cases := []struct {
		name       string
		header     string
		wantStatus int
		wantBody   string
	}{
		{name: "valid", header: "Bearer " + signToken(t, jwt.SigningMethodHS256, valid, []byte(testSecret)), wantStatus: http.StatusOK, wantBody: "user-1"},
		{name: "missing header", header: "", wantStatus: http.StatusUnauthorized},
		{name: "no bearer prefix", header: "Token abc", wantStatus: http.StatusUnauthorized},
		{name: "wrong secret", header: "Bearer " + signToken(t, jwt.SigningMethodHS256, valid, []byte("other")), wantStatus: http.StatusUnauthorized},
		{name: "expired", header: "Bearer " + signToken(t, jwt.SigningMethodHS256, expired, []byte(testSecret)), wantStatus: http.StatusUnauthorized},
		{name: "wrong audience", header: "Bearer " + signToken(t, jwt.SigningMethodHS256, wrongAudience, []byte(testSecret)), wantStatus: http.StatusUnauthorized},
		{name: "no subject", header: "Bearer " + signToken(t, jwt.SigningMethodHS256, noSubject, []byte(testSecret)), wantStatus: http.StatusUnauthorized},
		{name: "other algorithm", header: "Bearer " + signToken(t, jwt.SigningMethodHS512, valid, []byte(testSecret)), wantStatus: http.StatusUnauthorized},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/dashboard", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			protectedHandler().ServeHTTP(rec, req)

			if rec.Code != tc.wantStatus {
				t.Fatalf("expected status %d, got %d", tc.wantStatus, rec.Code)
			}
			if tc.wantBody != "" && rec.Body.String() != tc.wantBody {
				t.Fatalf("expected body %q, got %q", tc.wantBody, rec.Body.String())
			}
		})
	}
}

type limiterStub struct {
	count      int
	retryAfter int
	err        error
	scopes     []string
	subjects   []string
}

func (l *limiterStub) ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (int, int, error) {
	l.scopes = append(l.scopes, scope)
	l.subjects = append(l.subjects, subject)
	return l.count, l.retryAfter, l.err
}

func TestRateLimit(t *testing.T) {
	okHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	cases := []struct {
		name       string
		limiter    *limiterStub
		wantStatus int
		wantRetry  string
	}{
		{name: "under limit", limiter: &limiterStub{count: 3, retryAfter: 40}, wantStatus: http.StatusNoContent},
		{name: "over limit", limiter: &limiterStub{count: 11, retryAfter: 42}, wantStatus: http.StatusTooManyRequests, wantRetry: "42"},
		{name: "limiter error fails open", limiter: &limiterStub{err: errors.New("redis down")}, wantStatus: http.StatusNoContent},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handler := RateLimit(tc.limiter, "transfer", 10, time.Minute, nil)(okHandler)
			req := httptest.NewRequest(http.MethodPost, "/api/dwolla/transfer", nil)
			req = req.WithContext(WithUserID(req.Context(), "user-7"))
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			if rec.Code != tc.wantStatus {
				t.Fatalf("expected status %d, got %d", tc.wantStatus, rec.Code)
			}
			if got := rec.Header().Get("Retry-After"); got != tc.wantRetry {
				t.Fatalf("expected Retry-After %q, got %q", tc.wantRetry, got)
			}
			if len(tc.limiter.subjects) != 1 || tc.limiter.subjects[0] != "user-7" || tc.limiter.scopes[0] != "transfer" {
				t.Fatalf("expected limiter keyed by scope and user, got %v/%v", tc.limiter.scopes, tc.limiter.subjects)
			}
		})
	}
}

func TestRateLimit_NilLimiterPassesThrough(t *testing.T) {
	called := false
	handler := RateLimit(nil, "link", 10, time.Minute, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", nil))
	if !called {
		t.Fatalf("expected request to reach handler")
	}
}

func TestRedisRateLimiter_NoClientIsNoop(t *testing.T) {
	limiter := NewRedisRateLimiter(nil, "")
	count, retry, err := limiter.ConsumeRateLimit(context.Background(), "transfer", "user-1", 5, time.Minute)
	if err != nil || count != 0 || retry != 0 {
		t.Fatalf("expected noop result, got count=%d retry=%d err=%v", count, retry, err)
	}
	if limiter.prefix != "ubank:rate_limit" {
		t.Fatalf("expected default prefix, got %q", limiter.prefix)
	}
}
