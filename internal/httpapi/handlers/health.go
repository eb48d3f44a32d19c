package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/mkalas/ragline/internal/common"
)

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"status": "ok"})
}
