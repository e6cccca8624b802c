package access

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gateRouter(t *testing.T, svc *Service, permission string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Identify())
	r.GET("/guarded", RequirePermission(svc, permission), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return r
}

func TestRequirePermissionUnauthenticated(t *testing.T) {
	svc, _, _, _ := seedService(t)
	r := gateRouter(t, svc, PermManageContacts)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/guarded", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "authentication_required")
}

func TestRequirePermissionDenied(t *testing.T) {
	svc, _, _, viewer := seedService(t)
	r := gateRouter(t, svc, PermManageContacts)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/guarded", nil)
	req.Header.Set(UserIDHeader, viewer.ID)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "permission_denied")
}

func TestRequirePermissionAllowed(t *testing.T) {
	svc, _, rep, _ := seedService(t)
	r := gateRouter(t, svc, PermManageContacts)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/guarded", nil)
	req.Header.Set(UserIDHeader, rep.ID)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequirePermissionAdminBypassesGate(t *testing.T) {
	svc, admin, _, _ := seedService(t)
	r := gateRouter(t, svc, "some_obscure_permission")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/guarded", nil)
	req.Header.Set(UserIDHeader, admin.ID)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

type failingStore struct{ Store }

func (f failingStore) GetUser(ctx context.Context, id string) (*User, error) {
	return nil, context.DeadlineExceeded
}

func TestRequirePermissionStoreFailure(t *testing.T) {
	svc := NewService(failingStore{Store: NewMemoryStore()})
	r := gateRouter(t, svc, PermManageContacts)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/guarded", nil)
	req.Header.Set(UserIDHeader, "usr_any")
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "internal_error")
}
