package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mkalas/ragline/internal/chat"
	"github.com/mkalas/ragline/internal/config"
	"github.com/mkalas/ragline/internal/httpapi/middleware"
	"github.com/mkalas/ragline/internal/log"
	"github.com/mkalas/ragline/internal/ratelimit"
)

type Handler struct {
	ChatSvc *chat.Service
	Repo    *chat.Repo
	Limiter *ratelimit.Limiter
	Cfg     config.Config
	Logger  log.Logger
}

func NewHandler(svc *chat.Service, repo *chat.Repo, limiter *ratelimit.Limiter, cfg config.Config, logger log.Logger) *Handler {
	return &Handler{
		ChatSvc: svc,
		Repo:    repo,
		Limiter: limiter,
		Cfg:     cfg,
		Logger:  logger,
	}
}

func (h *Handler) visitorHash(tenant *chat.Tenant, visitorID string) string {
	return ratelimit.HashVisitor(tenant.WidgetSecret, visitorID)
}

func tenantKey(id uint64) string {
	return strconv.FormatUint(id, 10)
}

func userIDFromContext(c *gin.Context) (uint64, bool) {
	v, ok := c.Get(middleware.UserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint64)
	return id, ok
}

func tenantIDFromContext(c *gin.Context) (uint64, bool) {
	v, ok := c.Get(middleware.TenantIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint64)
	return id, ok
}
