package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"meshcall/internal/core/domain"
	"meshcall/internal/infrastructure/distributed"
	"meshcall/pkg/errors"
	"meshcall/pkg/validation"
)

type PresenceHandler struct {
	presence *distributed.PresenceRegistry
}

func NewPresenceHandler(presence *distributed.PresenceRegistry) *PresenceHandler {
	return &PresenceHandler{presence: presence}
}

// GetPresence reports whether a user currently holds a gateway connection
// on any node. Clients use it to hint whether a call is likely to ring.
func (h *PresenceHandler) GetPresence(c *gin.Context) {
	id := c.Param("id")
	if err := validation.ValidateUserID(id); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	record, err := h.presence.Lookup(c.Request.Context(), domain.UserID(id))
	if err != nil {
		c.Error(errors.NewInternalError("failed to look up presence"))
		return
	}

	if record == nil {
		c.JSON(http.StatusOK, gin.H{"user_id": id, "online": false})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id":      id,
		"online":       true,
		"connected_at": time.Unix(record.ConnectedAt, 0).UTC(),
	})
}
