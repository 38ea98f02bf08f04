// Package httpclient is the transport underneath the authenticated REST client.
// It performs a single HTTP exchange per call and returns the status code, headers
// and fully read body, adding default headers, basic auth, request/response
// interceptors, trace-ID propagation, outbound rate limiting and retries.
//
// Retries
//   - Controlled via Builder.WithRetries(maxRetries, retryDelay).
//   - Retries occur on transport errors, timeouts and HTTP 5xx responses.
//   - 4xx responses are never retried; 401/403 handling belongs to the caller.
//
// Backoff Strategy
//   - Exponential backoff based on retryDelay: delay = retryDelay * 2^attempt
//   - Full jitter: the actual wait is random in [0, delay), capped at 30 seconds.
//   - Waiting stops early when the request context is done.
//
// Non-2xx responses are returned together with an HTTPError so callers can
// inspect the body of a failed call.
package httpclient
