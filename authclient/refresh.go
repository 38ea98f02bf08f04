package authclient

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gaborage/restauth/authclient/internal/tracking"
	"github.com/gaborage/restauth/httpclient"
)

// sharedRefresh runs refreshToken, collapsing concurrent callers onto one
// in-flight refresh. A non-empty token is stored before any caller resumes.
// The flight outlives a cancelled caller; each caller stops waiting when its
// own ctx ends.
func (c *Client) sharedRefresh(ctx context.Context) (string, error) {
	flightCtx := context.WithoutCancel(ctx)
	ch := c.refreshGroup.DoChan(refreshFlightKey, func() (any, error) {
		token, err := c.refreshToken(flightCtx)
		if err != nil {
			return "", err
		}
		if token != "" {
			c.SetToken(token)
		}
		return token, nil
	})

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("waiting for token refresh: %w", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// refreshToken asks the refresh endpoint for a new access token. The call
// carries no Authorization header, default headers or body; the transport's
// cookie jar supplies the session credentials. An empty token with a nil
// error means the backend had no token to give.
func (c *Client) refreshToken(ctx context.Context) (string, error) {
	c.logger.Debug().Str("endpoint", c.refreshEndpoint).Msg("Refreshing access token")

	resp, err := c.transport.Post(ctx, &httpclient.Request{
		URL:   c.baseURL + c.refreshEndpoint,
		Retry: httpclient.RetryNever,
	})
	if err != nil {
		if status, ok := httpclient.HTTPStatus(err); ok && resp != nil {
			c.logger.Warn().Int("status", status).Msg("Token refresh rejected")
			tracking.RecordRefresh(ctx, tracking.RefreshRejected)
			c.endSession(ctx, SessionEndRefreshRejected)
			return "", fmt.Errorf("%w: status %d", ErrRefreshFailed, status)
		}
		c.logger.Warn().Err(err).Msg("Token refresh failed")
		tracking.RecordRefresh(ctx, tracking.RefreshFailed)
		return "", fmt.Errorf("refresh request: %w", err)
	}

	var payload struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		c.logger.Warn().Err(err).Msg("Token refresh returned an unreadable body")
		tracking.RecordRefresh(ctx, tracking.RefreshFailed)
		return "", fmt.Errorf("decode refresh response: %w", err)
	}

	if payload.Token == "" {
		tracking.RecordRefresh(ctx, tracking.RefreshNoToken)
		c.endSession(ctx, SessionEndNoToken)
		return "", nil
	}

	c.logger.Info().Int("status", resp.StatusCode).Msg("Access token refreshed")
	tracking.RecordRefresh(ctx, tracking.RefreshSuccess)
	return payload.Token, nil
}
