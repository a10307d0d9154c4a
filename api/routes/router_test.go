package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	billingsvc "github.com/angelmondragon/habits-backend/internal/billing"
	"github.com/angelmondragon/habits-backend/internal/entitlements"
	stripewebhook "github.com/angelmondragon/habits-backend/internal/webhooks/stripe"
	pkgAuth "github.com/angelmondragon/habits-backend/pkg/auth"
	"github.com/angelmondragon/habits-backend/pkg/config"
	"github.com/angelmondragon/habits-backend/pkg/enums"
	"github.com/angelmondragon/habits-backend/pkg/metrics"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPinger struct{}

func (stubPinger) Ping(context.Context) error { return nil }

type stubWebhooks struct{}

func (stubWebhooks) Handle(context.Context, []byte, string) (stripewebhook.Result, error) {
	return stripewebhook.Result{EventID: "evt_1"}, nil
}

type stubBilling struct{}

func (stubBilling) GetSubscription(context.Context, uuid.UUID) (*billingsvc.SubscriptionView, error) {
	return &billingsvc.SubscriptionView{Tier: enums.SubscriptionTierFree}, nil
}

func (stubBilling) CreateCheckout(context.Context, billingsvc.CheckoutInput) (string, error) {
	return "https://checkout.test", nil
}

func (stubBilling) CreatePortal(context.Context, uuid.UUID) (string, error) {
	return "https://portal.test", nil
}

type stubEntitlements struct{}

func (stubEntitlements) GetOrCompute(context.Context, uuid.UUID) (entitlements.Set, error) {
	return entitlements.Set{Tier: enums.SubscriptionTierFree, MaxHabits: entitlements.Bounded(3)}, nil
}

func testRouter(t *testing.T) (http.Handler, config.JWTConfig) {
	t.Helper()
	jwtCfg := config.JWTConfig{Secret: "secret", Issuer: "habits-test"}
	cfg := &config.Config{
		App:     config.AppConfig{Env: "test", FrontendURL: "https://app.habits.test"},
		JWT:     jwtCfg,
		Billing: config.BillingConfig{MaxWebhookBytes: 1 << 20},
	}
	reg := prometheus.NewRegistry()
	metrics.NewWebhookMetrics(reg).Observe("invoice.paid", "applied", time.Millisecond)

	return NewRouter(RouterParams{
		Config:       cfg,
		DB:           stubPinger{},
		Redis:        stubPinger{},
		Gatherer:     reg,
		Webhooks:     stubWebhooks{},
		Billing:      stubBilling{},
		Entitlements: stubEntitlements{},
	}), jwtCfg
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouterPublicEndpoints(t *testing.T) {
	router, _ := testRouter(t)

	assert.Equal(t, http.StatusOK, serve(router, httptest.NewRequest(http.MethodGet, "/health/live", nil)).Code)
	assert.Equal(t, http.StatusOK, serve(router, httptest.NewRequest(http.MethodGet, "/health/ready", nil)).Code)

	rec := serve(router, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "habits_webhook_requests_total")

	rec = serve(router, httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", strings.NewReader(`{}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"received":true,"duplicate":false}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestRouterProtectedEndpointsRequireToken(t *testing.T) {
	router, jwtCfg := testRouter(t)

	rec := serve(router, httptest.NewRequest(http.MethodGet, "/api/v1/me/entitlements", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := pkgAuth.MintAccessToken(jwtCfg, time.Now(), time.Hour, pkgAuth.AccessTokenPayload{UserID: uuid.New()})
	require.NoError(t, err)

	for _, tc := range []struct {
		method, path, body string
	}{
		{http.MethodGet, "/api/v1/me/entitlements", ""},
		{http.MethodGet, "/api/v1/billing/subscription", ""},
		{http.MethodPost, "/api/v1/billing/checkout", `{"tier":"plus"}`},
		{http.MethodPost, "/api/v1/billing/portal", ""},
	} {
		req := httptest.NewRequest(tc.method, tc.path, strings.NewReader(tc.body))
		req.Header.Set("Authorization", "Bearer "+token)
		rec := serve(router, req)
		assert.Equal(t, http.StatusOK, rec.Code, "%s %s: %s", tc.method, tc.path, rec.Body.String())
	}
}
