package coreapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// APIError is a non-2xx response from the provider. Message carries the
// provider's own wording so merchants see what the bank actually said.
type APIError struct {
	StatusCode int
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("monarch: %s (status %d)", e.Message, e.StatusCode)
}

var statusFallbacks = map[int]string{
	400: "The payment request was invalid. Please check your details and try again.",
	401: "Payment authorization failed. Please contact the store owner.",
	403: "Payment was declined by the payment provider.",
	404: "The requested payment resource was not found.",
	429: "Too many payment attempts. Please wait a moment and try again.",
	500: "The payment provider encountered an error. Please try again later.",
	502: "The payment provider is temporarily unavailable.",
	503: "The payment provider is down for maintenance. Please try again shortly.",
	504: "The payment provider timed out. Please try again.",
}

const defaultFallback = "Payment could not be processed. Please try again."

func newAPIError(statusCode int, body []byte) *APIError {
	return &APIError{
		StatusCode: statusCode,
		Message:    extractMessage(statusCode, body),
		Body:       body,
	}
}

// extractMessage digs the human-readable message out of an error body.
// Providers are inconsistent, so try the known shapes in priority order
// before falling back to a canned per-status message.
func extractMessage(statusCode int, body []byte) string {
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err == nil && doc != nil {
		if msg := messageFromDoc(doc); msg != "" {
			return msg
		}
	}
	if msg, ok := statusFallbacks[statusCode]; ok {
		return msg
	}
	return defaultFallback
}

func messageFromDoc(doc map[string]any) string {
	switch v := doc["error"].(type) {
	case string:
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	case map[string]any:
		for _, key := range []string{"message", "msg"} {
			if s, ok := v[key].(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	for _, key := range []string{"message", "msg", "errorMessage"} {
		if s, ok := doc[key].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	// last resort: any short string field that reads like a message
	for _, v := range doc {
		if s, ok := v.(string); ok {
			s = strings.TrimSpace(s)
			if len(s) >= 5 && len(s) <= 500 {
				return s
			}
		}
	}
	return ""
}

// IsEmailTaken reports whether the error says the email is already
// registered with the provider.
func IsEmailTaken(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	msg := strings.ToLower(apiErr.Message)
	if !strings.Contains(msg, "email") {
		return false
	}
	return strings.Contains(msg, "already") ||
		strings.Contains(msg, "exists") ||
		strings.Contains(msg, "in use")
}

// IsInvalidRequestHeaders detects the provider's cross-merchant conflict
// response, returned when an email is bound to another merchant's app.
func IsInvalidRequestHeaders(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return strings.Contains(strings.ToLower(apiErr.Message), "invalid request headers")
}

// IsNotFound reports a 404 from the provider.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == 404
}
