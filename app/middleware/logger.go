package middleware

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"opswatch/pkg/logger"
	"opswatch/pkg/monitoring/telemetry"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/pretty"
)

const maxLoggedBody = 1000

// Logger writes one access log line per request through the zap logger. Paths in
// skipPaths (probes and scrapes) are not logged; AI query bodies are logged compacted.
func Logger(skipPaths ...string) gin.HandlerFunc {
	skip := make(map[string]struct{}, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = struct{}{}
	}

	return func(c *gin.Context) {
		if _, ok := skip[c.Request.URL.Path]; ok {
			c.Next()
			return
		}
		startTime := time.Now()

		var bodyStr string
		if telemetry.IsAIQuery(c.Request.Method, c.Request.URL.Path) {
			bodyStr = getRequestBody(c)
		}

		c.Next()

		status := c.Writer.Status()
		latency := time.Since(startTime)
		ctx := c.Request.Context()

		line := "[GIN] %3d | %13v | %15s | %s | %s"
		args := []interface{}{status, latency, c.ClientIP(), c.Request.Method, c.Request.RequestURI}
		if bodyStr != "" {
			line += " | body=%s"
			args = append(args, bodyStr)
		}

		switch {
		case status >= http.StatusInternalServerError:
			logger.ErrorCtx(ctx, line, args...)
		case status >= http.StatusBadRequest && status != http.StatusNotFound:
			logger.WarnCtx(ctx, line, args...)
		default:
			logger.InfoCtx(ctx, line, args...)
		}
	}
}

// getRequestBody reads the body and puts it back for the handler
func getRequestBody(c *gin.Context) string {
	if c.Request.Body == nil {
		return ""
	}
	bodyBytes, _ := io.ReadAll(c.Request.Body)
	c.Request.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
	return CompressBody(string(bodyBytes))
}

// CompressBody strips JSON whitespace and truncates long bodies
func CompressBody(body string) string {
	if len(body) == 0 {
		return ""
	}

	compressed := pretty.Ugly([]byte(body))
	if len(compressed) > maxLoggedBody {
		return string(compressed[:maxLoggedBody]) + "..."
	}
	return string(compressed)
}
