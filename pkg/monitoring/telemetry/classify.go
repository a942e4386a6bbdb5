// Package telemetry classifies inbound requests and persists one request log per
// request through a bounded background writer.
package telemetry

import (
	"net/http"
	"regexp"
	"strings"

	"opswatch/pkg/store/mysql/model"
)

// Functionality tags
const (
	FunctionalityFraud     = "fraud_detection"
	FunctionalityTextToSQL = "text_to_sql"
	FunctionalityRAG       = "rag"
	FunctionalityChat      = "chat"
	FunctionalityStats     = "stats"
	FunctionalityHealth    = "health"
	FunctionalityGeneral   = "general"
)

var (
	numericSegment = regexp.MustCompile(`^\d+$`)
	uuidSegment    = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)
	wordIDSegment  = regexp.MustCompile(`^[A-Za-z]+_\d+$`)
)

// functionalityRules are checked in order; the first matching substring wins
var functionalityRules = []struct {
	tag     string
	needles []string
}{
	{FunctionalityFraud, []string{"fraud"}},
	{FunctionalityTextToSQL, []string{"text-to-sql", "text_to_sql", "/sql"}},
	{FunctionalityRAG, []string{"rag", "document", "retriev"}},
	{FunctionalityChat, []string{"chat"}},
	{FunctionalityStats, []string{"stats", "monitoring", "metrics"}},
	{FunctionalityHealth, []string{"health"}},
}

var aiQueryExcludedPrefixes = []string{
	"/health", "/docs", "/redoc", "/openapi", "/metrics", "/admin",
	"/api/stats", "/api/monitoring",
}

var aiQueryPatterns = []string{
	"/api/fraud/predict",
	"/api/text-to-sql",
	"/api/sql/query",
	"/api/rag/query",
	"/api/rag/ask",
	"/api/chat",
	"/api/llm",
	"/api/generate",
}

// ErrorType derives the error classification of a response status code
func ErrorType(status int) string {
	switch {
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return model.ErrorTypeTimeout
	case status >= 500:
		return model.ErrorTypeServer
	case status >= 400:
		return model.ErrorTypeClient
	default:
		return ""
	}
}

// Functionality derives the coarse business tag of a request path
func Functionality(path string) string {
	p := strings.ToLower(path)
	for _, rule := range functionalityRules {
		for _, needle := range rule.needles {
			if strings.Contains(p, needle) {
				return rule.tag
			}
		}
	}
	return FunctionalityGeneral
}

// NormalizeEndpoint strips the query string and every identifier segment
// (numeric, UUID or word_number) so telemetry groups by logical route.
func NormalizeEndpoint(path string) string {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}

	segments := strings.Split(path, "/")
	kept := make([]string, 0, len(segments))
	for _, seg := range segments {
		if seg == "" || isIdentifierSegment(seg) {
			continue
		}
		kept = append(kept, seg)
	}
	return "/" + strings.Join(kept, "/")
}

func isIdentifierSegment(seg string) bool {
	return numericSegment.MatchString(seg) || uuidSegment.MatchString(seg) || wordIDSegment.MatchString(seg)
}

// IsAIQuery reports whether a request counts as a billable AI query
func IsAIQuery(method, path string) bool {
	if method != http.MethodPost {
		return false
	}
	p := strings.ToLower(NormalizeEndpoint(path))
	for _, prefix := range aiQueryExcludedPrefixes {
		if strings.HasPrefix(p, prefix) {
			return false
		}
	}
	for _, pattern := range aiQueryPatterns {
		if strings.HasPrefix(p, pattern) {
			return true
		}
	}
	return false
}
