package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	nethttp "net/http"
	"time"

	"github.com/gaborage/restauth/authclient/internal/tracking"
	"github.com/gaborage/restauth/httpclient"
)

// RequestOptions describes one call. Method defaults to GET.
type RequestOptions struct {
	Method  string
	Body    []byte
	Headers map[string]string
}

func (o RequestOptions) method() string {
	if o.Method == "" {
		return nethttp.MethodGet
	}
	return o.Method
}

// Request performs an authenticated call to endpoint and decodes a 2xx body
// into T. On 401/403 the token is refreshed once and the call replayed once.
// Errors are always *RequestError or *InternalError.
func Request[T any](ctx context.Context, c *Client, endpoint string, opts RequestOptions) (T, error) {
	var out T
	if err := c.Do(ctx, endpoint, opts, &out); err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// Do is the non-generic form of Request. A 2xx body is decoded into out,
// which may be nil to discard it.
func (c *Client) Do(ctx context.Context, endpoint string, opts RequestOptions, out any) error {
	start := time.Now()
	method := opts.method()

	resp, retried, err := c.exchange(ctx, method, endpoint, opts)
	if err == nil {
		err = decodeResponse(resp, out)
	}

	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	tracking.RecordRequest(ctx, method, status, retried, time.Since(start), errorClass(err))
	var intErr *InternalError
	if errors.As(err, &intErr) {
		c.logger.Error().Err(intErr.Unwrap()).Str("method", method).Str("endpoint", endpoint).Msg("Request failed")
	}
	return err
}

// exchange sends the call and runs the refresh-and-replay step. It returns
// the final response, whatever its status, unless the exchange itself failed.
func (c *Client) exchange(ctx context.Context, method, endpoint string, opts RequestOptions) (*httpclient.Response, bool, error) {
	token := c.Token()
	resp, err := c.send(ctx, method, endpoint, opts, token)
	if err != nil || !isAuthFailure(resp.StatusCode) {
		return resp, false, err
	}

	// Another call already replaced the token this attempt used
	if current := c.Token(); current != "" && current != token {
		resp, err = c.send(ctx, method, endpoint, opts, current)
		return resp, true, err
	}

	newToken, err := c.sharedRefresh(ctx)
	if err != nil {
		return nil, false, newInternalError("refresh token: %w", err)
	}
	if newToken == "" {
		return resp, false, nil
	}

	resp, err = c.send(ctx, method, endpoint, opts, c.Token())
	return resp, true, err
}

// send issues one HTTP exchange. Non-2xx responses are returned as responses.
func (c *Client) send(ctx context.Context, method, endpoint string, opts RequestOptions, token string) (*httpclient.Response, error) {
	headers := make(map[string]string, len(c.headers)+len(opts.Headers)+1)
	for k, v := range c.headers {
		headers[k] = v
	}
	for k, v := range opts.Headers {
		headers[nethttp.CanonicalHeaderKey(k)] = v
	}
	headers[headerAuthorization] = bearerPrefix + token

	resp, err := c.transport.Do(ctx, method, &httpclient.Request{
		URL:     c.baseURL + endpoint,
		Headers: headers,
		Body:    opts.Body,
		Retry:   httpclient.RetryNetworkOnly,
	})
	if err != nil {
		if resp != nil && httpclient.IsErrorType(err, httpclient.HTTPError) {
			return resp, nil
		}
		return nil, newInternalError("%s %s: %w", method, endpoint, err)
	}
	return resp, nil
}

// decodeResponse turns the final response into the caller's value or a RequestError
func decodeResponse(resp *httpclient.Response, out any) error {
	if !httpclient.IsSuccessStatus(resp.StatusCode) {
		var payload struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(resp.Body, &payload); err != nil {
			return newInternalError("decode error response (status %d): %w", resp.StatusCode, err)
		}
		return &RequestError{StatusCode: resp.StatusCode, Message: payload.Message}
	}

	if out == nil || len(bytes.TrimSpace(resp.Body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return newInternalError("decode response (status %d): %w", resp.StatusCode, err)
	}
	return nil
}

func isAuthFailure(status int) bool {
	return status == nethttp.StatusUnauthorized || status == nethttp.StatusForbidden
}

func errorClass(err error) string {
	switch {
	case err == nil:
		return ""
	case IsRequestError(err):
		return tracking.ErrorRequest
	default:
		return tracking.ErrorInternal
	}
}
