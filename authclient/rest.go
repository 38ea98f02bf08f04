package authclient

import (
	"context"
	"encoding/json"
	nethttp "net/http"
)

// GetAll fetches endpoint with GET
func GetAll[T any](ctx context.Context, c *Client, endpoint string) (T, error) {
	return Request[T](ctx, c, endpoint, RequestOptions{Method: nethttp.MethodGet})
}

// Create POSTs body as JSON and decodes the response into R
func Create[B, R any](ctx context.Context, c *Client, endpoint string, body B) (R, error) {
	return sendJSON[B, R](ctx, c, nethttp.MethodPost, endpoint, body)
}

// Update PATCHes body as JSON and decodes the response into R
func Update[B, R any](ctx context.Context, c *Client, endpoint string, body B) (R, error) {
	return sendJSON[B, R](ctx, c, nethttp.MethodPatch, endpoint, body)
}

// Delete calls endpoint with DELETE
func Delete[T any](ctx context.Context, c *Client, endpoint string) (T, error) {
	return Request[T](ctx, c, endpoint, RequestOptions{Method: nethttp.MethodDelete})
}

func sendJSON[B, R any](ctx context.Context, c *Client, method, endpoint string, body B) (R, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		var zero R
		return zero, newInternalError("encode %s %s body: %w", method, endpoint, err)
	}
	return Request[R](ctx, c, endpoint, RequestOptions{Method: method, Body: payload})
}
