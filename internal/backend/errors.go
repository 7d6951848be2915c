package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEmptyInput      = errors.New("provide email text or a file")
	ErrEmptyFile       = errors.New("selected file is empty (0 bytes)")
	ErrUnsupportedFile = errors.New("unsupported file type, use .txt or .pdf")
	ErrQueryTooShort   = errors.New("search query must be at least 2 characters")
	ErrNotFound        = errors.New("client not found")
)

// APIError is a non-2xx answer from the backend.
type APIError struct {
	StatusCode int
	Message    string
	RequestID  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// Is lets errors.Is(err, ErrNotFound) match a 404.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == 404
}

// newAPIError unwraps FastAPI's {"detail": ...} bodies. Validation errors
// carry a list of objects in detail; their msg fields are joined.
func newAPIError(status int, body []byte, requestID string) *APIError {
	msg := strings.TrimSpace(string(body))

	var envelope struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && len(envelope.Detail) > 0 {
		var s string
		var items []struct {
			Msg string `json:"msg"`
		}
		switch {
		case json.Unmarshal(envelope.Detail, &s) == nil:
			msg = s
		case json.Unmarshal(envelope.Detail, &items) == nil && len(items) > 0:
			parts := make([]string, 0, len(items))
			for _, it := range items {
				parts = append(parts, it.Msg)
			}
			msg = strings.Join(parts, "; ")
		}
	}

	if msg == "" {
		msg = fmt.Sprintf("HTTP %d", status)
	}
	return &APIError{StatusCode: status, Message: msg, RequestID: requestID}
}
