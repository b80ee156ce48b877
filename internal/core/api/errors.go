package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/xwander/tablewright/internal/core"
)

// errorBody covers both shapes the service uses:
// {"error": {"type": "...", "message": "..."}} and {"error": "NOT_FOUND"}.
type errorBody struct {
	Error json.RawMessage `json:"error"`
}

type errorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func parseErrorDetail(raw json.RawMessage) errorDetail {
	if len(raw) == 0 {
		return errorDetail{}
	}
	var detail errorDetail
	if err := json.Unmarshal(raw, &detail); err == nil {
		return detail
	}
	var label string
	if err := json.Unmarshal(raw, &label); err == nil {
		return errorDetail{Type: label}
	}
	return errorDetail{Message: strings.TrimSpace(string(raw))}
}

// statusError maps a non-success response onto the error taxonomy.
func statusError(resp *http.Response, body []byte, resourceType, resourceID string, now time.Time) error {
	var parsed errorBody
	detail := errorDetail{}
	if err := json.Unmarshal(body, &parsed); err == nil {
		detail = parseErrorDetail(parsed.Error)
	}
	message := detail.Message
	if message == "" {
		message = detail.Type
	}
	if message == "" {
		message = strings.TrimSpace(string(body))
	}
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &core.AuthenticationError{StatusCode: resp.StatusCode, Message: message}
	case http.StatusNotFound:
		if resourceType == "" {
			resourceType = "resource"
		}
		return &core.NotFoundError{ResourceType: resourceType, ResourceID: resourceID}
	case http.StatusUnprocessableEntity:
		return &core.ValidationError{Detail: message}
	case http.StatusTooManyRequests:
		return &core.RateLimitError{RetryAfter: retryAfterHeader(resp, now), Message: message}
	default:
		return &core.ServiceError{StatusCode: resp.StatusCode, Type: detail.Type, Message: message}
	}
}

// itemError converts a per-record error entry of a batch response.
func itemError(raw json.RawMessage) error {
	detail := parseErrorDetail(raw)
	message := detail.Message
	if message == "" {
		message = detail.Type
	}
	if detail.Type != "" && detail.Message != "" {
		message = detail.Type + ": " + detail.Message
	}
	return &core.ValidationError{Detail: message}
}

// retryAfterHeader reads Retry-After as seconds or an HTTP date. Zero means no usable hint.
func retryAfterHeader(resp *http.Response, now time.Time) time.Duration {
	if resp == nil || resp.Header == nil {
		return 0
	}

	retry := strings.TrimSpace(resp.Header.Get("Retry-After"))
	if retry == "" {
		return 0
	}

	if seconds, err := time.ParseDuration(retry + "s"); err == nil {
		if seconds < 0 {
			return 0
		}
		return seconds
	}
	if parsed, err := http.ParseTime(retry); err == nil {
		if wait := parsed.Sub(now); wait > 0 {
			return wait
		}
	}
	return 0
}
