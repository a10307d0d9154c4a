package controllers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/angelmondragon/habits-backend/api/middleware"
	"github.com/angelmondragon/habits-backend/internal/entitlements"
	"github.com/angelmondragon/habits-backend/pkg/config"
	"github.com/angelmondragon/habits-backend/pkg/enums"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingerFunc func(context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

type fakeReader struct {
	set entitlements.Set
	err error
}

func (f fakeReader) GetOrCompute(context.Context, uuid.UUID) (entitlements.Set, error) {
	return f.set, f.err
}

func testConfig() *config.Config {
	return &config.Config{App: config.AppConfig{Env: "test"}}
}

func TestHealthLive(t *testing.T) {
	rec := httptest.NewRecorder()
	HealthLive(testConfig()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "test", rec.Header().Get(envHeader))
}

func TestHealthReady(t *testing.T) {
	ok := pingerFunc(func(context.Context) error { return nil })
	down := pingerFunc(func(context.Context) error { return errors.New("connection refused") })

	rec := httptest.NewRecorder()
	HealthReady(testConfig(), nil, map[string]Pinger{"db": ok, "redis": ok}).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	HealthReady(testConfig(), nil, map[string]Pinger{"db": ok, "redis": down}).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "redis")
}

func TestMyEntitlements(t *testing.T) {
	reader := fakeReader{set: entitlements.Set{Tier: enums.SubscriptionTierPlus, MaxHabits: entitlements.Bounded(15)}}

	rec := httptest.NewRecorder()
	MyEntitlements(reader, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/me/entitlements", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/me/entitlements", nil)
	req = req.WithContext(middleware.WithUserID(req.Context(), uuid.NewString()))
	rec = httptest.NewRecorder()
	MyEntitlements(reader, nil).ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"max_habits":15`)

	rec = httptest.NewRecorder()
	MyEntitlements(fakeReader{err: errors.New("db down")}, nil).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
