package providers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	anthropic "github.com/liushuangls/go-anthropic/v2"
	openai "github.com/meguminnnnnnnnn/go-openai"
)

// extractErrorMetadata returns the HTTP status code and Retry-After value
// carried by an SDK error. Typed SDK errors are checked first; otherwise
// the message text is scanned.
func extractErrorMetadata(err error) (int, string) {
	if err == nil {
		return 0, ""
	}

	var httpStatus int
	var (
		oaiAPI *openai.APIError
		oaiReq *openai.RequestError
		antReq *anthropic.RequestError
	)
	switch {
	case errors.As(err, &oaiAPI):
		httpStatus = oaiAPI.HTTPStatusCode
	case errors.As(err, &oaiReq):
		httpStatus = oaiReq.HTTPStatusCode
	case errors.As(err, &antReq):
		httpStatus = antReq.StatusCode
	}

	errStr := err.Error()
	if httpStatus == 0 {
		httpStatus = statusFromText(errStr)
	}
	return httpStatus, retryAfterFromText(errStr)
}

var knownStatuses = []int{
	http.StatusTooManyRequests,
	http.StatusInternalServerError,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
	529, // anthropic overloaded
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusBadRequest,
	http.StatusPaymentRequired,
}

// statusFromText looks for a known status code in an error message.
// Common patterns: "429", "status code 429", "HTTP 429".
func statusFromText(s string) int {
	for _, code := range knownStatuses {
		if strings.Contains(s, strconv.Itoa(code)) {
			return code
		}
	}
	return 0
}

// retryAfterFromText extracts the value after "retry-after" or "retry after".
func retryAfterFromText(s string) string {
	lower := strings.ToLower(s)
	for _, marker := range []string{"retry-after", "retry after"} {
		idx := strings.Index(lower, marker)
		if idx == -1 {
			continue
		}
		rest := strings.TrimLeft(s[idx+len(marker):], ": ")
		if parts := strings.Fields(rest); len(parts) > 0 {
			return strings.TrimRight(parts[0], ",;.")
		}
	}
	return ""
}
