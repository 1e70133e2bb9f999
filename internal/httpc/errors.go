package httpc

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// APIError represents an error response from a collaborator API.
type APIError struct {
	// StatusCode is the HTTP status code.
	StatusCode int

	// Message is the error message from the API.
	Message string

	// Code is the error code from the API (if provided).
	Code string

	// Provider identifies which provider returned the error.
	Provider string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: API error %d (%s): %s", e.Provider, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: API error %d: %s", e.Provider, e.StatusCode, e.Message)
}

// IsRateLimited returns true if this is a rate limit error (HTTP 429).
func (e *APIError) IsRateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// IsUnauthorized returns true if this is an authentication error (HTTP 401).
func (e *APIError) IsUnauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized
}

// IsServerError returns true if this is a server-side error (HTTP 5xx).
func (e *APIError) IsServerError() bool {
	return e.StatusCode >= 500 && e.StatusCode < 600
}

// IsRetryable returns true if the request should be retried.
func (e *APIError) IsRetryable() bool {
	return e.IsRateLimited() || e.IsServerError()
}

// DecodeError reads resp.Body and builds an APIError. It understands the
// {"error": {"message", "code"}} envelope used by OpenAI and the
// {"detail": {"message", "status"}} envelope used by ElevenLabs, and falls
// back to the raw body.
func DecodeError(provider string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	message := string(body)
	code := ""

	var openAI struct {
		Error struct {
			Message string `json:"message"`
			Code    any    `json:"code"`
		} `json:"error"`
	}
	var elevenLabs struct {
		Detail struct {
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"detail"`
	}

	if json.Unmarshal(body, &openAI) == nil && openAI.Error.Message != "" {
		message = openAI.Error.Message
		if openAI.Error.Code != nil {
			code = fmt.Sprint(openAI.Error.Code)
		}
	} else if json.Unmarshal(body, &elevenLabs) == nil && elevenLabs.Detail.Message != "" {
		message = elevenLabs.Detail.Message
		code = elevenLabs.Detail.Status
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    message,
		Code:       code,
		Provider:   provider,
	}
}
