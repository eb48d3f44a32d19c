package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mkalas/ragline/internal/chat"
	"github.com/mkalas/ragline/internal/common"
	"github.com/mkalas/ragline/internal/httpapi/middleware"
	"github.com/mkalas/ragline/internal/stream"
)

const maxMessageLength = 4000

type streamReq struct {
	Message     string   `json:"message" binding:"required"`
	SessionID   string   `json:"sessionId" binding:"required"`
	ThreadID    string   `json:"threadId"`
	VisitorID   string   `json:"visitorId"`
	CategoryIDs []string `json:"categoryIds"`
}

func validateMessage(msg string) (string, bool) {
	msg = strings.TrimSpace(msg)
	if msg == "" || len([]rune(msg)) > maxMessageLength {
		return "", false
	}
	return msg, true
}

// EmbedChatStream handles anonymous widget traffic: quota first, stream
// after. Validation and quota rejections are plain JSON before any stream
// phase begins.
func (h *Handler) EmbedChatStream(c *gin.Context) {
	tenant, ok := middleware.TenantFromContext(c)
	if !ok {
		common.Fail(c, http.StatusForbidden, 40301, "unknown widget key")
		return
	}

	var req streamReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	msg, ok := validateMessage(req.Message)
	if !ok {
		common.Fail(c, http.StatusBadRequest, 10002, "message is empty or too long")
		return
	}
	if strings.TrimSpace(req.VisitorID) == "" {
		common.Fail(c, http.StatusBadRequest, 10003, "visitorId required")
		return
	}

	if _, err := h.ChatSvc.ValidateSession(c.Request.Context(), tenant, req.SessionID); err != nil {
		common.Fail(c, http.StatusNotFound, 40004, "session not found")
		return
	}

	visitorHash := h.visitorHash(tenant, req.VisitorID)

	limits := h.Cfg.RateLimit
	if tenant.DailyLimit > 0 {
		limits.DailyLimit = tenant.DailyLimit
	}
	if tenant.SessionLimit > 0 {
		limits.SessionLimit = tenant.SessionLimit
	}

	decision, err := h.Limiter.Check(c.Request.Context(), tenantKey(tenant.ID), visitorHash, req.SessionID, limits)
	if err != nil {
		h.Logger.Error("rate limit check failed", "error", err)
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}
	if !decision.Allowed {
		c.JSON(http.StatusTooManyRequests, gin.H{
			"code":    42901,
			"message": "rate limited",
			"data": gin.H{
				"code":     chat.CodeRateLimit,
				"reset_at": decision.ResetAt.UTC().Format(time.RFC3339),
			},
		})
		return
	}

	h.streamChat(c, chat.StreamRequest{
		Tenant:      tenant,
		SessionID:   req.SessionID,
		Message:     msg,
		VisitorHash: visitorHash,
		Categories:  h.categories(tenant, req.CategoryIDs),
	})
}

// WorkspaceChatStream handles authenticated workspace traffic with
// persistent threads. No rate limiting in this mode.
func (h *Handler) WorkspaceChatStream(c *gin.Context) {
	tenant, _, req, ok := h.workspaceStreamSetup(c)
	if !ok {
		return
	}

	msg, okMsg := validateMessage(req.Message)
	if !okMsg {
		common.Fail(c, http.StatusBadRequest, 10002, "message is empty or too long")
		return
	}

	h.streamChat(c, chat.StreamRequest{
		Tenant:     tenant,
		SessionID:  req.SessionID,
		ThreadID:   req.ThreadID,
		Message:    msg,
		Categories: h.categories(tenant, req.CategoryIDs),
	})
}

func (h *Handler) workspaceStreamSetup(c *gin.Context) (*chat.Tenant, *chat.Session, *streamReq, bool) {
	tenant, uid, ok := h.workspaceTenant(c)
	if !ok {
		return nil, nil, nil, false
	}

	var req streamReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return nil, nil, nil, false
	}

	sess, err := h.ChatSvc.ValidateSession(c.Request.Context(), tenant, req.SessionID)
	if err != nil || sess.UserID == nil || *sess.UserID != uid {
		common.Fail(c, http.StatusNotFound, 40004, "session not found")
		return nil, nil, nil, false
	}

	return tenant, sess, &req, true
}

// streamChat opens the SSE channel and pumps pipeline events until the
// stream closes or the client goes away. The ticker heartbeat runs
// independently of pipeline phases.
func (h *Handler) streamChat(c *gin.Context, req chat.StreamRequest) {
	enc, err := stream.NewEncoder(c.Writer)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50002, "streaming unsupported")
		return
	}
	c.Status(http.StatusOK)

	ctx := c.Request.Context()
	ss := h.ChatSvc.StreamReply(ctx, req)
	defer ss.Cancel()

	ticker := time.NewTicker(stream.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-ss.Events():
			if !ok {
				return
			}
			if err := enc.WriteEvent(ev); err != nil {
				return
			}

		case <-ticker.C:
			if err := enc.WriteKeepalive(); err != nil {
				return
			}

		case <-ctx.Done():
			return
		}
	}
}

func (h *Handler) categories(tenant *chat.Tenant, requested []string) []string {
	if len(requested) == 0 {
		return tenant.CategoryIDs()
	}
	allowed := make(map[string]bool, len(tenant.CategoryIDs()))
	for _, cat := range tenant.CategoryIDs() {
		allowed[cat] = true
	}
	var out []string
	for _, cat := range requested {
		if allowed[cat] {
			out = append(out, cat)
		}
	}
	return out
}
