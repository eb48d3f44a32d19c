package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mkalas/ragline/internal/chat"
	"github.com/mkalas/ragline/internal/common"
	"github.com/mkalas/ragline/internal/httpapi/middleware"
)

const defaultMessagePage = 50

type createEmbedSessionReq struct {
	VisitorID string `json:"visitorId" binding:"required"`
}

func (h *Handler) CreateEmbedSession(c *gin.Context) {
	tenant, ok := middleware.TenantFromContext(c)
	if !ok {
		common.Fail(c, http.StatusForbidden, 40301, "unknown widget key")
		return
	}

	var req createEmbedSessionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	sess, err := h.ChatSvc.CreateSession(c.Request.Context(), tenant, nil, h.visitorHash(tenant, req.VisitorID))
	if err != nil {
		h.Logger.Error("create session failed", "error", err)
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}

	common.OK(c, gin.H{
		"sessionId": sess.SessionID,
		"expiresAt": sess.ExpiresAt,
	})
}

func (h *Handler) CreateWorkspaceSession(c *gin.Context) {
	tenant, uid, ok := h.workspaceTenant(c)
	if !ok {
		return
	}

	sess, err := h.ChatSvc.CreateSession(c.Request.Context(), tenant, &uid, "")
	if err != nil {
		h.Logger.Error("create session failed", "error", err)
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}

	common.OK(c, gin.H{"sessionId": sess.SessionID})
}

type createThreadReq struct {
	SessionID string `json:"sessionId" binding:"required"`
	Title     string `json:"title"`
}

func (h *Handler) CreateThread(c *gin.Context) {
	tenant, uid, ok := h.workspaceTenant(c)
	if !ok {
		return
	}

	var req createThreadReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	if !h.ownsSession(c, tenant, uid, req.SessionID) {
		return
	}

	thread, err := h.ChatSvc.CreateThread(c.Request.Context(), req.SessionID, strings.TrimSpace(req.Title))
	if err != nil {
		h.Logger.Error("create thread failed", "error", err)
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}

	common.OK(c, gin.H{"threadId": thread.ThreadID, "title": thread.Title})
}

func (h *Handler) ListThreads(c *gin.Context) {
	tenant, uid, ok := h.workspaceTenant(c)
	if !ok {
		return
	}

	sessionID := c.Query("sessionId")
	if !h.ownsSession(c, tenant, uid, sessionID) {
		return
	}

	threads, err := h.ChatSvc.ListThreads(c.Request.Context(), sessionID)
	if err != nil {
		h.Logger.Error("list threads failed", "error", err)
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}

	common.OK(c, threads)
}

type archiveThreadReq struct {
	SessionID string `json:"sessionId" binding:"required"`
}

// ArchiveThread retires a thread. It disappears from listings and new
// turns against it are rejected; its transcript stays readable.
func (h *Handler) ArchiveThread(c *gin.Context) {
	tenant, uid, ok := h.workspaceTenant(c)
	if !ok {
		return
	}

	var req archiveThreadReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if !h.ownsSession(c, tenant, uid, req.SessionID) {
		return
	}

	threadID := c.Param("threadId")
	if err := h.ChatSvc.ArchiveThread(c.Request.Context(), req.SessionID, threadID); err != nil {
		common.Fail(c, http.StatusNotFound, 40005, "thread not found")
		return
	}

	common.OK(c, gin.H{"threadId": threadID, "archived": true})
}

// EmbedListMessages returns the live transcript for a widget session.
func (h *Handler) EmbedListMessages(c *gin.Context) {
	tenant, ok := middleware.TenantFromContext(c)
	if !ok {
		common.Fail(c, http.StatusForbidden, 40301, "unknown widget key")
		return
	}

	sessionID := c.Query("sessionId")
	if _, err := h.ChatSvc.ValidateSession(c.Request.Context(), tenant, sessionID); err != nil {
		common.Fail(c, http.StatusNotFound, 40004, "session not found")
		return
	}

	h.listMessages(c, chat.Scope{TenantID: tenant.ID, SessionID: sessionID})
}

func (h *Handler) WorkspaceListMessages(c *gin.Context) {
	tenant, uid, ok := h.workspaceTenant(c)
	if !ok {
		return
	}

	sessionID := c.Query("sessionId")
	if !h.ownsSession(c, tenant, uid, sessionID) {
		return
	}

	scope := chat.Scope{TenantID: tenant.ID, SessionID: sessionID}
	if tid := c.Query("threadId"); tid != "" {
		scope.ThreadID = &tid
	}
	h.listMessages(c, scope)
}

func (h *Handler) listMessages(c *gin.Context, scope chat.Scope) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultMessagePage)))
	if limit <= 0 || limit > 200 {
		limit = defaultMessagePage
	}
	beforeID, _ := strconv.ParseUint(c.Query("beforeId"), 10, 64)

	msgs, err := h.ChatSvc.ListMessages(c.Request.Context(), scope, limit, beforeID)
	if err != nil {
		h.Logger.Error("list messages failed", "error", err)
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}

	common.OK(c, msgs)
}

// ArchivedMessages returns the turns folded into the rolling summary, for
// workspace users paging back past the live window.
func (h *Handler) ArchivedMessages(c *gin.Context) {
	tenant, uid, ok := h.workspaceTenant(c)
	if !ok {
		return
	}

	sessionID := c.Query("sessionId")
	if !h.ownsSession(c, tenant, uid, sessionID) {
		return
	}

	scope := chat.Scope{TenantID: tenant.ID, SessionID: sessionID}
	if tid := c.Query("threadId"); tid != "" {
		scope.ThreadID = &tid
	}

	msgs, err := h.ChatSvc.GetArchivedMessages(c.Request.Context(), scope)
	if err != nil {
		h.Logger.Error("list archived messages failed", "error", err)
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}

	common.OK(c, msgs)
}

func (h *Handler) workspaceTenant(c *gin.Context) (*chat.Tenant, uint64, bool) {
	uid, okUID := userIDFromContext(c)
	tid, okTID := tenantIDFromContext(c)
	if !okUID || !okTID {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return nil, 0, false
	}

	tenant, err := h.Repo.GetTenantByID(c.Request.Context(), tid)
	if err != nil || tenant.Mode != "workspace" {
		common.Fail(c, http.StatusForbidden, 40302, "tenant not available")
		return nil, 0, false
	}
	return tenant, uid, true
}

func (h *Handler) ownsSession(c *gin.Context, tenant *chat.Tenant, uid uint64, sessionID string) bool {
	sess, err := h.ChatSvc.ValidateSession(c.Request.Context(), tenant, sessionID)
	if err != nil || sess.UserID == nil || *sess.UserID != uid {
		common.Fail(c, http.StatusNotFound, 40004, "session not found")
		return false
	}
	return true
}
