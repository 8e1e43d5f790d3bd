package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Airwave/internal/app/orch"
	"github.com/dkeye/Airwave/internal/core"
	"github.com/dkeye/Airwave/internal/domain"
)

type handlers struct {
	orch     *orch.Orchestrator
	verifier core.IdentityVerifier
	store    core.SessionStore
}

type pageQuery struct {
	Skip  int `form:"skip"`
	Limit int `form:"limit"`
}

type StreamsResponse struct {
	Streams []domain.Session `json:"streams"`
	Total   int              `json:"total"`
}

type RenameRequest struct {
	NewUsername string `json:"new_username"`
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handlers) listStreams(c *gin.Context) {
	var q pageQuery
	if err := c.ShouldBindQuery(&q); err != nil || q.Skip < 0 || q.Limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid skip or limit"})
		return
	}
	filter := domain.FilterActive
	if strings.HasSuffix(c.FullPath(), "/ended") {
		filter = domain.FilterEnded
	}

	streams, total, err := h.store.List(c.Request.Context(), filter, domain.Page{Skip: q.Skip, Limit: q.Limit})
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Str("filter", filter.String()).Msg("list streams")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage unavailable"})
		return
	}
	if streams == nil {
		streams = []domain.Session{}
	}
	c.JSON(http.StatusOK, StreamsResponse{Streams: streams, Total: total})
}

func (h *handlers) broadcasters(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"broadcasters": h.orch.Registry.ListBroadcasters()})
}

// rename is called by the account service after a username change. The
// bearer token names the old identity.
func (h *handlers) rename(c *gin.Context) {
	token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
		return
	}
	oldID, err := h.verifier.Verify(c.Request.Context(), strings.TrimSpace(token))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	var req RenameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	newID, err := domain.NewIdentity(req.NewUsername)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	switch err := h.orch.Rename(c.Request.Context(), oldID, newID); {
	case errors.Is(err, domain.ErrIdentityTaken):
		c.JSON(http.StatusConflict, gin.H{"error": "username in use"})
	case err != nil:
		log.Error().Err(err).Str("module", "adapters.http").Str("identity", oldID.String()).Msg("rename")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "rename failed"})
	default:
		c.JSON(http.StatusOK, gin.H{"username": newID})
	}
}
