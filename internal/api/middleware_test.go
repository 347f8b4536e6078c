package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hackgods/therapy-booking/internal/appointment"
)

type countingLimiter struct {
	max  int
	seen map[string]int
	err  error
}

func (l *countingLimiter) Allow(_ context.Context, key string) (bool, error) {
	if l.err != nil {
		return false, l.err
	}
	if l.seen == nil {
		l.seen = make(map[string]int)
	}
	l.seen[key]++
	return l.seen[key] <= l.max, nil
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	h := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "abc-123", seen)
}

func TestRateLimitByUser(t *testing.T) {
	limiter := &countingLimiter{max: 2}
	ts := newTestServer(t)
	ts.router = NewRouter(RouterConfig{
		Handler:  NewHandler(ts.svc, nil, nil, zap.NewNop()),
		Health:   NewHealthHandler(func(context.Context) error { return nil }, nil, "test", "v0"),
		Verifier: tokenVerifier{},
		Limiter:  limiter,
	})
	ts.svc.list = func(appointment.Actor, appointment.ListFilter) ([]appointment.Appointment, int, error) {
		return nil, 0, nil
	}

	for i := 0; i < 2; i++ {
		rec, _ := ts.do(t, http.MethodGet, "/api/v1/appointments", asPatient(), nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec, env := ts.do(t, http.MethodGet, "/api/v1/appointments", asPatient(), nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate_limited", env.Error.Code)

	rec, _ = ts.do(t, http.MethodGet, "/api/v1/appointments", asAdmin(), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, limiter.seen["user:"+patientID.String()])
}

func TestRateLimitFailsOpen(t *testing.T) {
	mw := RateLimitMiddleware(&countingLimiter{err: errors.New("redis down")}, zap.NewNop())
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.5:4312"
	assert.Equal(t, "10.0.0.5", clientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", clientIP(req))
}

func TestAuthenticateRejectsBadTokens(t *testing.T) {
	ts := newTestServer(t)

	rec, env := ts.do(t, http.MethodGet, "/api/v1/appointments", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthenticated", env.Error.Code)
}

func TestHealthEndpoints(t *testing.T) {
	pgErr := errors.New("down")
	tests := []struct {
		name     string
		postgres error
		redis    PingFunc
		status   int
		state    string
	}{
		{"all up", nil, func(context.Context) error { return nil }, http.StatusOK, "ok"},
		{"redis down", nil, func(context.Context) error { return pgErr }, http.StatusOK, "degraded"},
		{"postgres down", pgErr, nil, http.StatusServiceUnavailable, "error"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			pgErr := tc.postgres
			h := NewHealthHandler(func(context.Context) error { return pgErr }, tc.redis, "test", "v1")

			rec := httptest.NewRecorder()
			h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
			assert.Equal(t, tc.status, rec.Code)
			assert.Contains(t, rec.Body.String(), `"status":"`+tc.state+`"`)
		})
	}

	rec := httptest.NewRecorder()
	NewHealthHandler(nil, nil, "test", "v1").Liveness(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsUseRoutePattern(t *testing.T) {
	ts := newTestServer(t)
	ts.svc.get = func(uuid.UUID, appointment.Actor) (*appointment.Appointment, error) {
		return nil, appointment.ErrAppointmentNotFound
	}

	rec, _ := ts.do(t, http.MethodGet, "/api/v1/appointments/"+uuid.NewString(), asAdmin(), nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	ts.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `test_http_requests_total{method="GET",route="/api/v1/appointments/{id}",status="404"} 1`)
}
