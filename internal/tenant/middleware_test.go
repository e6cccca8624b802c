package tenant

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tenantRouter(t *testing.T, r *Resolver) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	e := gin.New()
	e.Use(Middleware(r))
	e.GET("/open", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"tenantId": IDFromContext(c)})
	})
	e.GET("/scoped", RequireActiveTenant(), func(c *gin.Context) {
		tn, _ := FromContext(c)
		c.JSON(http.StatusOK, gin.H{"tenantId": tn.ID})
	})
	return e
}

func TestMiddlewareAttachesTenant(t *testing.T) {
	e := tenantRouter(t, NewResolver(seedStore(t)))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/open", nil)
	req.Host = "acme.closedesk.io"
	e.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ten_acme")
}

func TestMiddlewareNeverRejects(t *testing.T) {
	e := tenantRouter(t, NewResolver(seedStore(t)))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/open", nil)
	req.Host = "localhost:3000"
	e.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequireActiveTenantMissing(t *testing.T) {
	e := tenantRouter(t, NewResolver(seedStore(t)))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/scoped", nil)
	req.Host = "localhost:3000"
	e.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "tenant_required")
}

func TestRequireActiveTenantInactive(t *testing.T) {
	e := tenantRouter(t, NewResolver(seedStore(t)))

	// ten_demo is on trial, which is not active.
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/scoped", nil)
	req.Host = "demo.closedesk.io"
	e.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "tenant_inactive")
	assert.Contains(t, w.Body.String(), "trial")
}

func TestRequireActiveTenantActive(t *testing.T) {
	e := tenantRouter(t, NewResolver(seedStore(t)))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/scoped", nil)
	req.Host = "globex.closedesk.io"
	e.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ten_globex")
}
