package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"ai-hotline/internal/auth"
)

func serve(t *testing.T, tenant, role string, chain ...gin.HandlerFunc) int {
	t.Helper()
	gin.SetMode(gin.TestMode)

	handlers := []gin.HandlerFunc{func(c *gin.Context) {
		ctx := auth.WithIdentity(c.Request.Context(), "u", tenant, role)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}}
	handlers = append(handlers, chain...)
	handlers = append(handlers, func(c *gin.Context) { c.Status(http.StatusOK) })

	r := gin.New()
	r.GET("/x", handlers...)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	return w.Code
}

func TestRequireAnyRole_SuperAdminBypasses(t *testing.T) {
	if code := serve(t, "t", RoleSuperAdmin, RequireTenant(), RequireAnyRole(RoleTenantAdmin)); code != 200 {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestRequireAnyRole_DeniesOtherRoles(t *testing.T) {
	if code := serve(t, "t", RoleViewer, RequireTenant(), RequireAnyRole(RoleOperator)); code != 403 {
		t.Fatalf("expected 403, got %d", code)
	}
	if code := serve(t, "t", "owner", RequireTenant(), RequireAnyRole("owner")); code != 403 {
		t.Fatalf("expected unknown role to be denied, got %d", code)
	}
}

func TestRequireTenant(t *testing.T) {
	if code := serve(t, "", RoleOperator, RequireTenant(), RequireAnyRole(RoleOperator)); code != 401 {
		t.Fatalf("expected 401, got %d", code)
	}
}

func TestRequireAtLeast(t *testing.T) {
	cases := []struct {
		role string
		want int
	}{
		{RoleViewer, 403},
		{RoleOperator, 200},
		{RoleTenantAdmin, 200},
		{RoleSuperAdmin, 200},
		{"", 401},
	}
	for _, tc := range cases {
		if code := serve(t, "t", tc.role, RequireAtLeast(RoleOperator)); code != tc.want {
			t.Fatalf("role %q: expected %d, got %d", tc.role, tc.want, code)
		}
	}
}
