package middleware

import (
	"fmt"
	"strconv"
	"time"

	"opswatch/pkg/logger"
	"opswatch/pkg/metrics"
	"opswatch/pkg/monitoring/telemetry"
	"opswatch/pkg/store/mysql/model"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RequestIDKey is the gin context key holding the request id
const RequestIDKey = "request_id"

// Response headers added to every response
const (
	HeaderRequestID    = "X-Request-ID"
	HeaderResponseTime = "X-Response-Time"
	HeaderAIQuery      = "X-AI-Query"
)

// LogSink accepts request logs without blocking
type LogSink interface {
	Submit(rec *model.RequestLog) bool
}

// Telemetry records exactly one request log per request, including requests whose
// handler panics. It must be the first middleware on the engine.
func Telemetry(sink LogSink, reg *metrics.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := uuid.NewString()
		c.Set(RequestIDKey, requestID)
		c.Request = c.Request.WithContext(logger.WithRequestID(c.Request.Context(), requestID))

		method := c.Request.Method
		path := c.Request.URL.Path
		aiQuery := telemetry.IsAIQuery(method, path)

		tw := &telemetryWriter{
			ResponseWriter: c.Writer,
			requestID:      requestID,
			start:          start,
			aiQuery:        aiQuery,
		}
		c.Writer = tw

		panicked, panicValue := runHandlers(c, requestID)
		// responses without a body are flushed by gin after this middleware returns
		tw.injectHeaders()

		elapsed := time.Since(start)
		status := c.Writer.Status()

		rec := &model.RequestLog{
			RequestID:         requestID,
			Endpoint:          path,
			EndpointBase:      telemetry.NormalizeEndpoint(path),
			Method:            method,
			Functionality:     telemetry.Functionality(path),
			RequestSizeBytes:  nonNegative(c.Request.ContentLength),
			ResponseSizeBytes: nonNegative(int64(c.Writer.Size())),
			ResponseTime:      elapsed.Seconds(),
			StatusCode:        status,
			ErrorType:         telemetry.ErrorType(status),
			ClientIP:          c.ClientIP(),
			UserAgent:         c.Request.UserAgent(),
			IsAIQuery:         aiQuery,
			CreatedAt:         start.UTC(),
		}
		if panicked {
			rec.StatusCode = 500
			rec.ErrorType = model.ErrorTypeInternal
			rec.ErrorMessage = fmt.Sprint(panicValue)
		} else if len(c.Errors) > 0 {
			rec.ErrorMessage = c.Errors.Last().Error()
		}
		if a := telemetry.AnnotationsFrom(c); a != nil {
			rec.ModelUsed = a.ModelUsed
			rec.ComplexityScore = a.ComplexityScore
			rec.RiskScore = a.RiskScore
			rec.ExecutionTime = a.ExecutionTime
			rec.DatabaseName = a.DatabaseName
		}

		if sink != nil {
			sink.Submit(rec)
		}
		if reg != nil {
			reg.HTTPRequestsTotal.WithLabelValues(method, rec.EndpointBase, strconv.Itoa(rec.StatusCode)).Inc()
			reg.HTTPRequestDuration.WithLabelValues(method, rec.EndpointBase).Observe(elapsed.Seconds())
		}
	}
}

func runHandlers(c *gin.Context, requestID string) (panicked bool, value interface{}) {
	defer func() {
		if r := recover(); r != nil {
			panicked, value = true, r
			recoverRequest(c, r, requestID)
		}
	}()
	c.Next()
	return false, nil
}

func nonNegative(n int64) int64 {
	if n < 0 {
		return 0
	}
	return n
}

// telemetryWriter adds the telemetry headers right before the response header is flushed
type telemetryWriter struct {
	gin.ResponseWriter
	requestID string
	start     time.Time
	aiQuery   bool
	injected  bool
}

func (w *telemetryWriter) injectHeaders() {
	if w.injected || w.ResponseWriter.Written() {
		return
	}
	w.injected = true
	h := w.ResponseWriter.Header()
	h.Set(HeaderRequestID, w.requestID)
	h.Set(HeaderResponseTime, fmt.Sprintf("%.4f", time.Since(w.start).Seconds()))
	h.Set(HeaderAIQuery, strconv.FormatBool(w.aiQuery))
}

func (w *telemetryWriter) WriteHeaderNow() {
	w.injectHeaders()
	w.ResponseWriter.WriteHeaderNow()
}

func (w *telemetryWriter) Write(data []byte) (int, error) {
	w.injectHeaders()
	return w.ResponseWriter.Write(data)
}

func (w *telemetryWriter) WriteString(s string) (int, error) {
	w.injectHeaders()
	return w.ResponseWriter.WriteString(s)
}

func (w *telemetryWriter) Flush() {
	w.injectHeaders()
	w.ResponseWriter.Flush()
}
