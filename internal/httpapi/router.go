package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mkalas/ragline/internal/common"
	"github.com/mkalas/ragline/internal/config"
	"github.com/mkalas/ragline/internal/httpapi/handlers"
	"github.com/mkalas/ragline/internal/httpapi/middleware"
)

func NewRouter(h *handlers.Handler, cfg config.Config) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.Use(middleware.RequestID())

	r.GET("/ping", h.Ping)

	// Anonymous widget traffic, identified by widget key.
	embed := r.Group("/embed")
	embed.Use(middleware.EmbedTenant(h.Repo))
	embed.POST("/sessions", h.CreateEmbedSession)
	embed.POST("/chat/stream", h.EmbedChatStream)
	embed.GET("/chat/messages", h.EmbedListMessages)

	// Workspace traffic (JWT required).
	v1 := r.Group("/v1")
	v1.Use(middleware.AuthRequired(cfg.JWTSecret))
	v1.POST("/sessions", h.CreateWorkspaceSession)
	v1.POST("/threads", h.CreateThread)
	v1.GET("/threads", h.ListThreads)
	v1.POST("/threads/:threadId/archive", h.ArchiveThread)
	v1.POST("/chat/stream", h.WorkspaceChatStream)
	v1.GET("/chat/messages", h.WorkspaceListMessages)
	v1.GET("/chat/messages/archived", h.ArchivedMessages)

	return r
}
