package middleware

import (
	"github.com/gin-gonic/gin"

	"meshcall/pkg/logger"
	"meshcall/pkg/utils"
)

const RequestIDHeader = "X-Request-ID"

// RequestIDMiddleware assigns every request an id, honoring one supplied
// by the client, and echoes it back in the response.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = utils.GenerateRequestID()
		}

		c.Set("request_id", requestID)
		c.Request = c.Request.WithContext(logger.WithRequestID(c.Request.Context(), requestID))
		c.Writer.Header().Set(RequestIDHeader, requestID)
		c.Next()
	}
}
