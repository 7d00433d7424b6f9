package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/rs/zerolog/log"
)

// DefaultLoginPath is where the user is sent after the session could not be
// refreshed.
const DefaultLoginPath = "/login"

// AuthHelper bundles the session operations a request needs to recover from
// an expired access token. Any of them may be nil.
type AuthHelper struct {
	// Refresh obtains a new access token.
	Refresh func(ctx context.Context) (string, error)
	// Logout drops the current session.
	Logout func()
	// Navigate sends the user to the given destination.
	Navigate func(to string)
}

// RequestOptions are the optional parameters of Request.
type RequestOptions struct {
	Method    string
	Body      any
	Token     string
	Headers   http.Header
	Auth      *AuthHelper
	LoginPath string
}

// attemptState tracks the retry state machine of a single request. A request
// starts in attemptInitial and is reissued at most once, in attemptRetried.
type attemptState int

const (
	attemptInitial attemptState = iota
	attemptRetried
)

func (s attemptState) String() string {
	if s == attemptRetried {
		return "retried"
	}
	return "initial"
}

// Request performs one HTTP call against the backend and returns the JSON
// body of the response, or nil if the body was empty or not JSON.
//
// The request carries Content-Type: application/json and, when a token is
// set, an Authorization bearer header. If the backend answers 401 and
// opts.Auth provides a Refresh operation, the token is refreshed and the
// request reissued exactly once. If the refresh fails, Logout and
// Navigate(LoginPath) are called and ErrUnauthorizedAfterRefresh is returned.
//
// Non-2xx responses return an *APIError. Cancelling ctx aborts the request
// and returns an error matching ErrAborted. Timeouts of the http.Client
// itself are transport failures, not aborts.
func Request(ctx context.Context, c *http.Client, target string, opts *RequestOptions) (json.RawMessage, error) {
	if opts == nil {
		opts = &RequestOptions{}
	}
	if c == nil {
		c = http.DefaultClient
	}
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}
	if _, err := url.ParseRequestURI(target); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	var payload []byte
	if opts.Body != nil {
		var err error
		if payload, err = json.Marshal(opts.Body); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequestBody, err)
		}
	}

	token := opts.Token
	state := attemptInitial
	for {
		status, statusText, body, err := send(ctx, c, method, target, token, opts.Headers, payload)
		if err != nil {
			if IsAborted(err) {
				metrics.aborted.Inc()
			}
			return nil, err
		}
		metrics.observeAttempt(method, status)
		log.Debug().
			Str("method", method).
			Str("url", target).
			Int("status", status).
			Stringer("attempt", state).
			Msg("backend request")

		if status == http.StatusUnauthorized && state == attemptInitial &&
			opts.Auth != nil && opts.Auth.Refresh != nil {
			newToken, err := opts.Auth.Refresh(ctx)
			if err == nil && newToken == "" {
				err = errEmptyToken
			}
			if err != nil {
				if aerr := contextError(ctx); aerr != nil {
					metrics.aborted.Inc()
					return nil, aerr
				}
				metrics.refreshes.WithLabelValues("failed").Inc()
				log.Warn().Err(err).Str("url", target).Msg("token refresh failed, logging out")
				forceLogout(opts)
				return nil, fmt.Errorf("%w: %v", ErrUnauthorizedAfterRefresh, err)
			}
			metrics.refreshes.WithLabelValues("success").Inc()
			token = newToken
			state = attemptRetried
			continue
		}

		if status < 200 || status > 299 {
			return nil, &APIError{StatusCode: status, Status: statusText, Body: body}
		}
		return body, nil
	}
}

// Decode performs Request and unmarshals the response body into a new T.
// An empty body yields the zero value of T.
func Decode[T any](ctx context.Context, c *http.Client, target string, opts *RequestOptions) (*T, error) {
	body, err := Request(ctx, c, target, opts)
	if err != nil {
		return nil, err
	}
	out := new(T)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		return out, nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return out, nil
}

// send issues one physical HTTP attempt and reads the response body. The
// body is returned only if it is valid JSON.
func send(ctx context.Context, c *http.Client, method, target, token string,
	headers http.Header, payload []byte,
) (int, string, json.RawMessage, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return 0, "", nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, values := range headers {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.Do(req)
	if err != nil {
		if aerr := contextError(ctx); aerr != nil {
			return 0, "", nil, aerr
		}
		return 0, "", nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer func(body io.ReadCloser) {
		_ = body.Close()
	}(resp.Body)

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		if aerr := contextError(ctx); aerr != nil {
			return 0, "", nil, aerr
		}
		log.Warn().Err(err).Str("url", target).Msg("failed to read response body")
		data = nil
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || !json.Valid(data) {
		data = nil
	}
	return resp.StatusCode, statusText(resp), data, nil
}

// statusText returns the reason phrase of the response, without the code.
func statusText(resp *http.Response) string {
	if text := http.StatusText(resp.StatusCode); text != "" {
		return text
	}
	return resp.Status
}

func forceLogout(opts *RequestOptions) {
	if opts.Auth.Logout != nil {
		opts.Auth.Logout()
	}
	if opts.Auth.Navigate != nil {
		to := opts.LoginPath
		if to == "" {
			to = DefaultLoginPath
		}
		opts.Auth.Navigate(to)
	}
}
