package httpserver

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"mcp-chat-server/internal/domain/chatflow"
	"mcp-chat-server/internal/domain/correction"
	"mcp-chat-server/internal/domain/discovery"
	"mcp-chat-server/internal/domain/orchestrator"
)

type chatHandler struct {
	service    *chatflow.Service
	engine     *orchestrator.Engine
	correction *correction.Engine
	cache      *discovery.Cache
	log        zerolog.Logger
}

func newChatHandler(
	service *chatflow.Service,
	engine *orchestrator.Engine,
	correctionEngine *correction.Engine,
	cache *discovery.Cache,
	log zerolog.Logger,
) *chatHandler {
	return &chatHandler{
		service:    service,
		engine:     engine,
		correction: correctionEngine,
		cache:      cache,
		log:        log,
	}
}

type chatRequest struct {
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message" binding:"required"`
	Model          string `json:"model"`
	ExcludeTools   bool   `json:"exclude_tools"`
}

type chatResponse struct {
	ConversationID string `json:"conversation_id"`
	Reply          string `json:"reply"`
	Status         string `json:"status"`
	Rounds         int    `json:"rounds"`
	ToolCalls      int    `json:"tool_calls"`
	Retries        int    `json:"retries"`
}

// Chat handles POST /v1/chat: one user turn through the orchestration loop.
func (h *chatHandler) Chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.service.Handle(c.Request.Context(), chatflow.Request{
		ConversationID: req.ConversationID,
		Message:        req.Message,
		ModelConfigID:  req.Model,
		ExcludeTools:   req.ExcludeTools,
	})
	if err != nil {
		if errors.Is(err, chatflow.ErrEmptyMessage) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.log.Error().Err(err).Msg("chat turn failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "chat turn failed"})
		return
	}

	c.JSON(http.StatusOK, chatResponse{
		ConversationID: resp.ConversationID,
		Reply:          resp.Reply,
		Status:         string(resp.Status),
		Rounds:         resp.Rounds,
		ToolCalls:      resp.ToolCalls,
		Retries:        resp.Retries,
	})
}

// Stats handles GET /v1/stats: cache counters, retry statistics, and the
// recent orchestration history.
func (h *chatHandler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"cache":          h.cache.Stats(),
		"retries":        h.correction.Stats(10),
		"orchestrations": h.engine.History(),
	})
}

// InvalidateCache handles POST /v1/cache/invalidate.
func (h *chatHandler) InvalidateCache(c *gin.Context) {
	h.cache.Invalidate()
	c.JSON(http.StatusOK, gin.H{"status": "invalidated"})
}
