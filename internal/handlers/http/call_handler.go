package http

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"meshcall/internal/core/domain"
	"meshcall/internal/core/ports"
	"meshcall/pkg/cache"
	"meshcall/pkg/errors"
	"meshcall/pkg/utils"
	"meshcall/pkg/validation"

	"github.com/gin-gonic/gin"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
	historyCacheTTL     = 10 * time.Second
)

type CallHandler struct {
	calls        ports.CallService
	groups       ports.GroupCallService
	historyCache *cache.CacheWithFallback
}

func NewCallHandler(calls ports.CallService, groups ports.GroupCallService) *CallHandler {
	return &CallHandler{
		calls:        calls,
		groups:       groups,
		historyCache: cache.NewCacheWithFallback(historyCacheTTL),
	}
}

// SetupRoutes registers the call endpoints on the authenticated API group.
func (h *CallHandler) SetupRoutes(api *gin.RouterGroup) {
	api.GET("/calls/history", h.GetHistory)
	api.GET("/calls/:id", h.GetCall)

	api.POST("/group-calls", h.CreateGroupCall)
	api.GET("/group-calls/:id", h.GetGroupCall)
}

// Close releases the handler's cache resources.
func (h *CallHandler) Close() {
	h.historyCache.Stop()
}

// GetHistory returns the authenticated user's call log, newest first.
// Responses are cached briefly since history only grows on call completion.
func (h *CallHandler) GetHistory(c *gin.Context) {
	userID := authenticatedUser(c)
	if userID == "" {
		c.Error(errors.NewUnauthorizedError("authentication required"))
		return
	}

	limit, offset, err := paginationParams(c)
	if err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	key := fmt.Sprintf("history:%s:%d:%d", userID, limit, offset)
	entries, err := h.historyCache.GetOrSet(c.Request.Context(), key, func(ctx context.Context) (interface{}, error) {
		return h.calls.History(ctx, userID, limit, offset)
	}, historyCacheTTL)
	if err != nil {
		c.Error(errors.FromDomain(err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"limit":   limit,
		"offset":  offset,
	})
}

func (h *CallHandler) GetCall(c *gin.Context) {
	id := c.Param("id")
	if err := validation.ValidateCallID(id); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	call, err := h.calls.GetCall(c.Request.Context(), domain.CallID(id))
	if err != nil {
		c.Error(errors.FromDomain(err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"call": call})
}

type CreateGroupCallRequest struct {
	InviteeIDs []string `json:"invitee_ids" binding:"required,min=1,max=100"`
	CallType   string   `json:"call_type" binding:"required"`
	Title      string   `json:"title" binding:"max=200"`
}

// CreateGroupCall creates a group call record and announces invites.
// Media links are negotiated over the WebSocket gateway, not here.
func (h *CallHandler) CreateGroupCall(c *gin.Context) {
	userID := authenticatedUser(c)
	if userID == "" {
		c.Error(errors.NewUnauthorizedError("authentication required"))
		return
	}

	var req CreateGroupCallRequest
	if err := c.BindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}

	if err := validation.ValidateCallType(req.CallType); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}
	if err := validation.ValidateInvitees(req.InviteeIDs); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	title := utils.SanitizeString(req.Title)
	if title != "" {
		if err := validation.ValidateTitle(title); err != nil {
			c.Error(errors.NewInvalidInputError(err.Error()))
			return
		}
	}

	invitees := make([]domain.UserID, len(req.InviteeIDs))
	for i, id := range req.InviteeIDs {
		invitees[i] = domain.UserID(id)
	}

	group, err := h.groups.CreateGroupCall(c.Request.Context(), userID, invitees, domain.CallType(req.CallType), title)
	if err != nil {
		c.Error(errors.FromDomain(err))
		return
	}

	c.JSON(http.StatusCreated, gin.H{"group_call": group})
}

func (h *CallHandler) GetGroupCall(c *gin.Context) {
	id := c.Param("id")
	if err := validation.ValidateGroupCallID(id); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	group, err := h.groups.GetGroupCall(c.Request.Context(), domain.GroupCallID(id))
	if err != nil {
		c.Error(errors.FromDomain(err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"group_call": group})
}

func authenticatedUser(c *gin.Context) domain.UserID {
	if v, ok := c.Get("user_id"); ok {
		if id, ok := v.(string); ok {
			return domain.UserID(id)
		}
		if id, ok := v.(domain.UserID); ok {
			return id
		}
	}
	return ""
}

func paginationParams(c *gin.Context) (limit, offset int, err error) {
	limit = defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > maxHistoryLimit {
			return 0, 0, fmt.Errorf("limit must be an integer between 1 and %d", maxHistoryLimit)
		}
	}
	if raw := c.Query("offset"); raw != "" {
		offset, err = strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return 0, 0, fmt.Errorf("offset must be a non-negative integer")
		}
	}
	return limit, offset, nil
}
