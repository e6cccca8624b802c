package billing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/closedesk/closedesk/internal/tenant"
)

func billingRouter(t *testing.T) (*gin.Engine, *Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	tenants := tenant.NewMemoryStore()
	store := NewMemoryStore()
	ctx := context.Background()
	for i := range TemplatePlans {
		p := TemplatePlans[i]
		require.NoError(t, store.CreatePlan(ctx, &p))
	}
	svc := NewService(tenants, store)
	h := NewHandler(svc)

	router := gin.New()
	h.RegisterRoutes(router.Group("/api/v1"))

	scoped := router.Group("/api/v1")
	scoped.Use(func(c *gin.Context) {
		c.Set(tenant.ContextKeyTenantID, "ten_a")
		c.Next()
	})
	h.RegisterTenantRoutes(scoped)

	h.RegisterAdminRoutes(router.Group("/admin"))
	return router, svc
}

func billingJSON(t *testing.T, router *gin.Engine, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var resp map[string]interface{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w, resp
}

func TestListPlansReturnsCatalogue(t *testing.T) {
	router, _ := billingRouter(t)

	w, resp := billingJSON(t, router, http.MethodGet, "/api/v1/plans", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(len(TemplatePlans)), resp["count"])
}

func TestGetSubscriptionNotFound(t *testing.T) {
	router, _ := billingRouter(t)

	w, resp := billingJSON(t, router, http.MethodGet, "/api/v1/subscription", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "no_subscription", resp["error"])
}

func TestGetSubscriptionIncludesPlan(t *testing.T) {
	router, svc := billingRouter(t)
	require.NoError(t, svc.ProvisionSubscription(context.Background(), "ten_a", "plan_professional"))

	w, resp := billingJSON(t, router, http.MethodGet, "/api/v1/subscription", "")
	require.Equal(t, http.StatusOK, w.Code)
	sub := resp["subscription"].(map[string]interface{})
	assert.Equal(t, "plan_professional", sub["planId"])
	plan := resp["plan"].(map[string]interface{})
	assert.Equal(t, "Professional", plan["name"])
}

func TestGetUsageCurrentMonth(t *testing.T) {
	router, svc := billingRouter(t)
	ctx := context.Background()
	now := time.Now().UTC()
	for i := 0; i < 3; i++ {
		_, err := svc.TrackFeatureUsage(ctx, "ten_a", FeatureAITools, now)
		require.NoError(t, err)
	}

	w, resp := billingJSON(t, router, http.MethodGet, "/api/v1/usage", "")
	require.Equal(t, http.StatusOK, w.Code)
	usage := resp["usage"].(map[string]interface{})
	assert.Equal(t, float64(3), usage[FeatureAITools])
}

func TestCreatePlanHandler(t *testing.T) {
	router, _ := billingRouter(t)

	w, resp := billingJSON(t, router, http.MethodPost, "/admin/plans",
		`{"name":"Custom","monthlyPriceCents":4900,"features":{"crm":true,"aiTools":true}}`)
	require.Equal(t, http.StatusCreated, w.Code)
	plan := resp["plan"].(map[string]interface{})
	assert.True(t, strings.HasPrefix(plan["id"].(string), "plan_"))
	assert.Equal(t, float64(4900), plan["monthlyPriceCents"])
}

func TestCreatePlanRejectsNegativePrice(t *testing.T) {
	router, _ := billingRouter(t)

	w, resp := billingJSON(t, router, http.MethodPost, "/admin/plans",
		`{"name":"Bad","monthlyPriceCents":-1}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_price", resp["error"])
}

func TestProvisionSubscriptionHandler(t *testing.T) {
	router, _ := billingRouter(t)

	w, resp := billingJSON(t, router, http.MethodPost, "/admin/tenants/ten_x/subscription",
		`{"planId":"plan_starter"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	sub := resp["subscription"].(map[string]interface{})
	assert.Equal(t, "ten_x", sub["tenantId"])
	assert.Equal(t, "plan_starter", sub["planId"])
}

func TestProvisionSubscriptionUnknownPlanHandler(t *testing.T) {
	router, _ := billingRouter(t)

	w, resp := billingJSON(t, router, http.MethodPost, "/admin/tenants/ten_x/subscription",
		`{"planId":"plan_ghost"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "plan_not_found", resp["error"])
}
