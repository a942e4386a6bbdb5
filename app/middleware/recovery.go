package middleware

import (
	"net/http"
	"runtime/debug"

	"opswatch/pkg/logger"

	"github.com/gin-gonic/gin"
)

// recoverRequest logs a handler panic and answers 500 unless the response has
// already started.
func recoverRequest(c *gin.Context, err interface{}, requestID string) {
	stack := debug.Stack()

	logger.ErrorCtx(c.Request.Context(),
		"panic recovered: %v\nstack:\n%s",
		err,
		string(stack),
	)

	if c.Writer.Written() {
		c.Abort()
		return
	}
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
		"error":      "Internal server error",
		"request_id": requestID,
	})
}
