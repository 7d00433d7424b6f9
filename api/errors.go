package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrAborted is returned when the caller cancelled the request before it
	// completed. It is not an application failure and should not be reported.
	ErrAborted = fmt.Errorf("request aborted")

	// ErrUnauthorizedAfterRefresh is returned when the backend rejected the
	// token and refreshing the session failed. The session has been logged out.
	ErrUnauthorizedAfterRefresh = fmt.Errorf("unauthorized after refresh")

	// ErrNoResults is returned by callers that got an empty result set.
	ErrNoResults = fmt.Errorf("no results found")

	ErrInvalidRequestBody = fmt.Errorf("invalid request body")
	ErrInvalidURL         = fmt.Errorf("invalid request url")
	ErrInvalidResponse    = fmt.Errorf("invalid response body")
	ErrMissingID          = fmt.Errorf("missing persisted id")

	errEmptyToken = fmt.Errorf("refresh returned an empty access token")
)

// User facing fallback messages.
const (
	MessageAPIUnreachable = "api_unreachable"
	MessageNoResults      = "No results found"
)

// errorAI is the error code the backend uses when the AI provider is down.
const errorAI = "openai_unreachable"

// APIError is returned for every non-2xx response the client does not handle
// itself. Body holds the response body if it was valid JSON.
type APIError struct {
	StatusCode int
	Status     string
	Body       json.RawMessage
}

// ErrorBody is the error detail the backend may include in a failed response.
type ErrorBody struct {
	Msg   string `json:"msg,omitempty"`
	Error string `json:"error,omitempty"`
}

func (e *APIError) Error() string {
	if d := e.Detail(); d.Msg != "" {
		return fmt.Sprintf("request failed with status %d %s: %s", e.StatusCode, e.Status, d.Msg)
	} else if d.Error != "" {
		return fmt.Sprintf("request failed with status %d %s: %s", e.StatusCode, e.Status, d.Error)
	}
	return fmt.Sprintf("request failed with status %d %s", e.StatusCode, e.Status)
}

// Detail decodes the msg and error fields of the body. Fields that are not
// present, or a body that is not a JSON object, yield empty strings.
func (e *APIError) Detail() ErrorBody {
	var d ErrorBody
	if len(e.Body) > 0 {
		_ = json.Unmarshal(e.Body, &d)
	}
	return d
}

// IsAborted reports whether err is the result of the caller cancelling the
// request.
func IsAborted(err error) bool {
	return errors.Is(err, ErrAborted)
}

// IsStatus reports whether err is an APIError with the given status code.
func IsStatus(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}

// UserMessage translates a request error into the text shown to the user.
// Aborted requests yield an empty string since they must not be reported.
func UserMessage(err error) string {
	if err == nil || IsAborted(err) {
		return ""
	}
	if errors.Is(err, ErrNoResults) {
		return MessageNoResults
	}
	if errors.Is(err, ErrUnauthorizedAfterRefresh) {
		return http.StatusText(http.StatusUnauthorized)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return MessageAPIUnreachable
	}
	d := apiErr.Detail()
	switch {
	case d.Error == errorAI:
		return MessageAPIUnreachable
	case apiErr.StatusCode == http.StatusNotFound:
		return MessageNoResults
	case d.Msg != "":
		return d.Msg
	case d.Error != "":
		return d.Error
	case apiErr.Status != "":
		return apiErr.Status
	}
	return http.StatusText(apiErr.StatusCode)
}

// abortError wraps a context error so it matches both ErrAborted and the
// original context error.
type abortError struct {
	cause error
}

func (e *abortError) Error() string {
	return ErrAborted.Error() + ": " + e.cause.Error()
}

func (e *abortError) Is(target error) bool {
	return target == ErrAborted
}

func (e *abortError) Unwrap() error {
	return e.cause
}

// contextError returns an abort error if ctx is done, nil otherwise.
func contextError(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return &abortError{cause: err}
	}
	return nil
}
