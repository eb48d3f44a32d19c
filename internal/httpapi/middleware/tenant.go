package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mkalas/ragline/internal/chat"
	"github.com/mkalas/ragline/internal/common"
)

const TenantKey = "tenant"

// TenantLookup resolves a widget key to its tenant.
type TenantLookup interface {
	GetTenantByWidgetKey(ctx context.Context, key string) (*chat.Tenant, error)
}

// EmbedTenant resolves the anonymous embed tenant from the widget key
// header. Only embed-mode tenants pass.
func EmbedTenant(lookup TenantLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader("X-Widget-Key")
		if key == "" {
			common.Fail(c, http.StatusUnauthorized, 40102, "widget key required")
			c.Abort()
			return
		}
		tenant, err := lookup.GetTenantByWidgetKey(c.Request.Context(), key)
		if err != nil || tenant.Mode != "embed" {
			common.Fail(c, http.StatusForbidden, 40301, "unknown widget key")
			c.Abort()
			return
		}
		c.Set(TenantKey, tenant)
		c.Next()
	}
}

// TenantFromContext returns the tenant set by EmbedTenant.
func TenantFromContext(c *gin.Context) (*chat.Tenant, bool) {
	v, ok := c.Get(TenantKey)
	if !ok {
		return nil, false
	}
	t, ok := v.(*chat.Tenant)
	return t, ok
}
