package authclient

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
)

const (
	testSessionCookie = "session"
	testSessionValue  = "session-abc"
)

type post struct {
	ID   int    `json:"id"`
	Text string `json:"text"`
}

var testPosts = []post{
	{ID: 1, Text: "posts 1"},
	{ID: 2, Text: "posts 2"},
}

// fakeBackend is an echo application playing the REST backend. Access tokens
// are HS256 JWTs; the refresh endpoint mints a fresh one.
type fakeBackend struct {
	t      *testing.T
	echo   *echo.Echo
	server *httptest.Server
	secret []byte

	refreshCalls atomic.Int32
	// refreshHandler replaces the default minting refresh endpoint when set
	refreshHandler echo.HandlerFunc

	mu       sync.Mutex
	requests []recordedRequest
}

type recordedRequest struct {
	Method  string
	Path    string
	Headers http.Header
	Body    string
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()

	b := &fakeBackend{t: t, echo: echo.New(), secret: []byte("test-signing-key")}
	b.echo.HideBanner = true
	b.echo.HidePort = true
	b.echo.Use(b.record)

	b.echo.POST("/refresh", func(c echo.Context) error {
		b.refreshCalls.Add(1)
		if b.refreshHandler != nil {
			return b.refreshHandler(c)
		}
		return c.JSON(http.StatusOK, map[string]string{"token": b.mint(time.Hour)})
	})
	b.echo.GET("/me", func(c echo.Context) error {
		subject, err := b.verify(bearerToken(c.Request()))
		if err != nil {
			return c.JSON(http.StatusUnauthorized, map[string]string{"message": "token expired"})
		}
		return c.JSON(http.StatusOK, map[string]string{"subject": subject})
	})

	b.server = httptest.NewServer(b.echo)
	t.Cleanup(b.server.Close)
	return b
}

func (b *fakeBackend) record(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		var body []byte
		if req.Body != nil {
			body, _ = io.ReadAll(req.Body)
			req.Body = io.NopCloser(bytes.NewReader(body))
		}
		b.mu.Lock()
		b.requests = append(b.requests, recordedRequest{
			Method:  req.Method,
			Path:    req.URL.Path,
			Headers: req.Header.Clone(),
			Body:    string(body),
		})
		b.mu.Unlock()
		return next(c)
	}
}

// requestsTo returns the recorded requests for path, in arrival order
func (b *fakeBackend) requestsTo(path string) []recordedRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []recordedRequest
	for _, r := range b.requests {
		if r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

func (b *fakeBackend) mint(ttl time.Duration) string {
	b.t.Helper()
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   "user-1",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(b.secret)
	require.NoError(b.t, err)
	return signed
}

func (b *fakeBackend) verify(raw string) (string, error) {
	if raw == "" {
		return "", errors.New("missing token")
	}
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return b.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

func (b *fakeBackend) newClient(t *testing.T, token string, opts ...Option) *Client {
	t.Helper()
	c, err := New(b.server.URL, token, "/refresh", opts...)
	require.NoError(t, err)
	return c
}

func bearerToken(r *http.Request) string {
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
}
