package http

import (
	"errors"
	"net/http"

	"livecast/internal/core/domain"
	"livecast/internal/core/services"
	"livecast/internal/infrastructure/middleware"
	apperrors "livecast/pkg/errors"

	"github.com/gin-gonic/gin"
)

// ControlHandler exposes the stream lifecycle over HTTP. Reads are
// public; lifecycle mutations require the host token issued at
// creation.
type ControlHandler struct {
	streams *services.StreamService
	tokens  *services.TokenService

	// registry maps stream IDs to their running broadcaster, populated
	// by the broadcast binary. May be nil.
	registry func(domain.StreamID) *services.Broadcaster
}

func NewControlHandler(streams *services.StreamService, tokens *services.TokenService, registry func(domain.StreamID) *services.Broadcaster) *ControlHandler {
	return &ControlHandler{
		streams:  streams,
		tokens:   tokens,
		registry: registry,
	}
}

func (h *ControlHandler) SetupRoutes(router *gin.Engine) {
	router.GET("/healthz", h.Health)

	api := router.Group("/api/v1")
	{
		api.POST("/streams", h.CreateStream)
		api.GET("/streams/:id", h.GetStream)
		api.GET("/streams/:id/status", h.GetStatus)

		authed := api.Group("", middleware.HostAuthMiddleware(h.tokens))
		{
			authed.POST("/streams/:id/go-live", h.GoLive)
			authed.POST("/streams/:id/end", h.EndStream)
		}
	}
}

func (h *ControlHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (h *ControlHandler) CreateStream(c *gin.Context) {
	var req struct {
		BroadcasterID domain.ParticipantID `json:"broadcaster_id" binding:"required"`
		Kind          domain.StreamKind    `json:"kind"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidInputError(err.Error()))
		return
	}

	stream, err := h.streams.CreateStream(c.Request.Context(), req.BroadcasterID, req.Kind)
	if err != nil {
		c.Error(apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to create stream", http.StatusInternalServerError))
		return
	}

	token, err := h.tokens.IssueHostToken(stream.ID, stream.BroadcasterID)
	if err != nil {
		c.Error(apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to issue host token", http.StatusInternalServerError))
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"stream":     streamResponse(stream),
		"host_token": token,
	})
}

func (h *ControlHandler) GetStream(c *gin.Context) {
	stream, err := h.streams.GetStream(c.Request.Context(), domain.StreamID(c.Param("id")))
	if err != nil {
		if errors.Is(err, domain.ErrStreamNotFound) {
			c.Error(apperrors.NewNotFoundError("stream"))
			return
		}
		c.Error(apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to load stream", http.StatusInternalServerError))
		return
	}
	c.JSON(http.StatusOK, gin.H{"stream": streamResponse(stream)})
}

func (h *ControlHandler) GetStatus(c *gin.Context) {
	status, err := h.streams.Status(c.Request.Context(), domain.StreamID(c.Param("id")))
	if err != nil {
		if errors.Is(err, domain.ErrStreamNotFound) {
			c.Error(apperrors.NewNotFoundError("stream"))
			return
		}
		c.Error(apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to resolve status", http.StatusInternalServerError))
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": status})
}

func (h *ControlHandler) GoLive(c *gin.Context) {
	b := h.broadcaster(c)
	if b == nil {
		return
	}
	if err := b.GoLive(c.Request.Context()); err != nil {
		if errors.Is(err, domain.ErrStreamEnded) {
			c.Error(apperrors.NewConflictError("stream already ended"))
			return
		}
		c.Error(apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to go live", http.StatusInternalServerError))
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": domain.StatusLive})
}

func (h *ControlHandler) EndStream(c *gin.Context) {
	var req struct {
		SaveReplay bool `json:"save_replay"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidInputError(err.Error()))
		return
	}

	b := h.broadcaster(c)
	if b == nil {
		return
	}

	result, err := b.EndStream(c.Request.Context(), req.SaveReplay)
	if err != nil {
		c.Error(apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to end stream", http.StatusInternalServerError))
		return
	}

	resp := gin.H{
		"status":       domain.StatusEnded,
		"replay_saved": result.ReplaySaved,
	}
	if result.ReplayURL != "" {
		resp["replay_url"] = result.ReplayURL
	}
	if result.ReplayErr != nil {
		resp["replay_error"] = result.ReplayErr.Error()
	}
	c.JSON(http.StatusOK, resp)
}

func (h *ControlHandler) broadcaster(c *gin.Context) *services.Broadcaster {
	if h.registry == nil {
		c.Error(apperrors.New(apperrors.ErrCodeInternal, "no broadcaster on this node", http.StatusNotImplemented))
		return nil
	}
	b := h.registry(domain.StreamID(c.Param("id")))
	if b == nil {
		c.Error(apperrors.NewNotFoundError("running broadcast"))
		return nil
	}
	return b
}

func streamResponse(s *domain.Stream) gin.H {
	return gin.H{
		"id":               s.ID,
		"broadcaster_id":   s.BroadcasterID,
		"kind":             s.Kind,
		"status":           domain.ResolveStatus(s),
		"is_live":          s.IsLive,
		"started_at":       s.StartedAt,
		"ended_at":         s.EndedAt,
		"replay_available": s.ReplayAvailable,
		"replay_url":       s.ReplayURL,
		"viewer_count":     s.ViewerCount,
		"created_at":       s.CreatedAt,
	}
}
