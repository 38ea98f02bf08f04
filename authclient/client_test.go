package authclient

import (
	"bytes"
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaborage/restauth/httpclient"
	"github.com/gaborage/restauth/logger"
)

const (
	initialToken = "accessToken"
	renewedToken = "newAccessToken"
)

// newReferenceBackend serves /posts to anyone and /authenticated only to
// renewedToken, which is what /refresh hands out.
func newReferenceBackend(t *testing.T) *fakeBackend {
	b := newFakeBackend(t)
	b.refreshHandler = func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"token": renewedToken})
	}
	b.echo.GET("/posts", func(c echo.Context) error {
		return c.JSON(http.StatusOK, testPosts)
	})
	b.echo.GET("/authenticated", func(c echo.Context) error {
		if bearerToken(c.Request()) != renewedToken {
			return c.NoContent(http.StatusUnauthorized)
		}
		return c.JSON(http.StatusOK, map[string]string{"data": "success"})
	})
	return b
}

func TestReferenceScenario(t *testing.T) {
	b := newReferenceBackend(t)
	c := b.newClient(t, initialToken)
	ctx := context.Background()

	posts, err := GetAll[[]post](ctx, c, "/posts")
	require.NoError(t, err)
	assert.Equal(t, testPosts, posts)
	assert.Equal(t, initialToken, c.Token())
	assert.Equal(t, int32(0), b.refreshCalls.Load())

	data, err := GetAll[map[string]string](ctx, c, "/authenticated")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"data": "success"}, data)
	assert.Equal(t, renewedToken, c.Token())
	assert.Equal(t, int32(1), b.refreshCalls.Load())

	calls := b.requestsTo("/authenticated")
	require.Len(t, calls, 2)
	assert.Equal(t, "Bearer "+initialToken, calls[0].Headers.Get("Authorization"))
	assert.Equal(t, "Bearer "+renewedToken, calls[1].Headers.Get("Authorization"))
}

func TestExpiredJWTIsRenewed(t *testing.T) {
	b := newFakeBackend(t)
	c := b.newClient(t, b.mint(-time.Minute))

	me, err := GetAll[map[string]string](context.Background(), c, "/me")
	require.NoError(t, err)
	assert.Equal(t, "user-1", me["subject"])
	assert.Equal(t, int32(1), b.refreshCalls.Load())

	subject, err := b.verify(c.Token())
	require.NoError(t, err)
	assert.Equal(t, "user-1", subject)

	// A valid token is used as is
	_, err = GetAll[map[string]string](context.Background(), c, "/me")
	require.NoError(t, err)
	assert.Equal(t, int32(1), b.refreshCalls.Load())
}

func TestAuthFailureStatuses(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			b := newReferenceBackend(t)
			b.echo.GET("/guarded", func(c echo.Context) error {
				if bearerToken(c.Request()) != renewedToken {
					return c.JSON(status, map[string]string{"message": "denied"})
				}
				return c.JSON(http.StatusOK, map[string]bool{"ok": true})
			})

			out, err := GetAll[map[string]bool](context.Background(), b.newClient(t, initialToken), "/guarded")
			require.NoError(t, err)
			assert.True(t, out["ok"])
			assert.Equal(t, int32(1), b.refreshCalls.Load())
		})
	}
}

func TestAtMostOneRefreshPerCall(t *testing.T) {
	b := newReferenceBackend(t)
	b.echo.GET("/locked", func(c echo.Context) error {
		return c.JSON(http.StatusUnauthorized, map[string]string{"message": "account locked"})
	})
	c := b.newClient(t, initialToken)

	_, err := GetAll[map[string]any](context.Background(), c, "/locked")
	require.Error(t, err)

	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusUnauthorized, reqErr.StatusCode)
	assert.Equal(t, "account locked", reqErr.Error())
	assert.Equal(t, int32(1), b.refreshCalls.Load())
	assert.Len(t, b.requestsTo("/locked"), 2)
	assert.Equal(t, renewedToken, c.Token())

	// The next call starts over: one more refresh, one more replay
	_, err = GetAll[map[string]any](context.Background(), c, "/locked")
	require.Error(t, err)
	assert.Equal(t, int32(2), b.refreshCalls.Load())
	assert.Len(t, b.requestsTo("/locked"), 4)
}

func TestServerErrorIsNotRefreshed(t *testing.T) {
	b := newReferenceBackend(t)
	b.echo.GET("/broken", func(c echo.Context) error {
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": "boom"})
	})

	_, err := GetAll[map[string]any](context.Background(), b.newClient(t, initialToken), "/broken")
	require.Error(t, err)
	assert.True(t, IsRequestError(err))
	assert.Equal(t, "boom", err.Error())
	status, ok := StatusCode(err)
	assert.True(t, ok)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, int32(0), b.refreshCalls.Load())
}

func TestErrorBodies(t *testing.T) {
	b := newReferenceBackend(t)
	b.echo.GET("/html", func(c echo.Context) error {
		return c.HTML(http.StatusBadGateway, "<h1>bad gateway</h1>")
	})
	b.echo.GET("/nomessage", func(c echo.Context) error {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad"})
	})
	b.echo.GET("/garbage", func(c echo.Context) error {
		return c.String(http.StatusOK, "not json")
	})
	b.echo.DELETE("/gone", func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	})
	c := b.newClient(t, initialToken)
	ctx := context.Background()

	_, err := GetAll[map[string]any](ctx, c, "/html")
	assert.True(t, IsInternalError(err))
	assert.Equal(t, "Internal server error", err.Error())

	_, err = GetAll[map[string]any](ctx, c, "/nomessage")
	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusBadRequest, reqErr.StatusCode)
	assert.Empty(t, reqErr.Message)

	_, err = GetAll[map[string]any](ctx, c, "/garbage")
	assert.True(t, IsInternalError(err))

	out, err := Delete[*post](ctx, c, "/gone")
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestTransportFailure(t *testing.T) {
	b := newReferenceBackend(t)
	c := b.newClient(t, initialToken)
	b.server.Close()

	_, err := GetAll[[]post](context.Background(), c, "/posts")
	require.Error(t, err)
	assert.True(t, IsInternalError(err))
	assert.Equal(t, "Internal server error", err.Error())
	assert.True(t, httpclient.IsErrorType(err, httpclient.NetworkError))
}

func TestRefreshRejected(t *testing.T) {
	b := newReferenceBackend(t)
	b.refreshHandler = func(c echo.Context) error {
		return c.JSON(http.StatusUnauthorized, map[string]string{"message": "refresh token expired"})
	}

	var reasons []SessionEndReason
	c := b.newClient(t, initialToken, WithSessionEndedHook(func(_ context.Context, reason SessionEndReason) {
		reasons = append(reasons, reason)
	}))

	_, err := GetAll[map[string]string](context.Background(), c, "/authenticated")
	require.Error(t, err)
	assert.True(t, IsInternalError(err))
	assert.ErrorIs(t, err, ErrRefreshFailed)
	assert.Equal(t, "Internal server error", err.Error())
	assert.Equal(t, []SessionEndReason{SessionEndRefreshRejected}, reasons)
	assert.Equal(t, initialToken, c.Token())
	assert.Len(t, b.requestsTo("/authenticated"), 1)
}

func TestRefreshWithoutToken(t *testing.T) {
	t.Run("original error body is decoded", func(t *testing.T) {
		b := newReferenceBackend(t)
		b.refreshHandler = func(c echo.Context) error {
			return c.JSON(http.StatusOK, map[string]string{})
		}
		b.echo.GET("/expiring", func(c echo.Context) error {
			return c.JSON(http.StatusUnauthorized, map[string]string{"message": "session expired"})
		})

		var reasons []SessionEndReason
		c := b.newClient(t, initialToken, WithSessionEndedHook(func(_ context.Context, reason SessionEndReason) {
			reasons = append(reasons, reason)
		}))

		_, err := GetAll[map[string]any](context.Background(), c, "/expiring")
		var reqErr *RequestError
		require.ErrorAs(t, err, &reqErr)
		assert.Equal(t, http.StatusUnauthorized, reqErr.StatusCode)
		assert.Equal(t, "session expired", reqErr.Message)
		assert.Equal(t, []SessionEndReason{SessionEndNoToken}, reasons)
		assert.Equal(t, initialToken, c.Token())
		assert.Len(t, b.requestsTo("/expiring"), 1)
	})

	t.Run("empty original body is internal", func(t *testing.T) {
		b := newReferenceBackend(t)
		b.refreshHandler = func(c echo.Context) error {
			return c.JSON(http.StatusOK, map[string]string{"token": ""})
		}

		_, err := GetAll[map[string]string](context.Background(), b.newClient(t, initialToken), "/authenticated")
		assert.True(t, IsInternalError(err))
		assert.Equal(t, int32(1), b.refreshCalls.Load())
	})
}

func TestRefreshUnreadableBody(t *testing.T) {
	b := newReferenceBackend(t)
	b.refreshHandler = func(c echo.Context) error {
		return c.String(http.StatusOK, "<html>")
	}

	hookCalled := false
	c := b.newClient(t, initialToken, WithSessionEndedHook(func(context.Context, SessionEndReason) {
		hookCalled = true
	}))

	_, err := GetAll[map[string]string](context.Background(), c, "/authenticated")
	assert.True(t, IsInternalError(err))
	assert.NotErrorIs(t, err, ErrRefreshFailed)
	assert.False(t, hookCalled)
}

func TestRequestHeaders(t *testing.T) {
	b := newReferenceBackend(t)
	c := b.newClient(t, initialToken,
		WithDefaultHeader("x-client", "restauth"),
		WithDefaultHeaders(map[string]string{"Accept-Language": "en", "X-Tenant": "acme"}),
	)

	_, err := Request[[]post](context.Background(), c, "/posts", RequestOptions{
		Headers: map[string]string{
			"x-tenant":      "globex",
			"authorization": "Bearer forged",
		},
	})
	require.NoError(t, err)

	calls := b.requestsTo("/posts")
	require.Len(t, calls, 1)
	h := calls[0].Headers
	assert.Equal(t, "application/json", h.Get("Content-Type"))
	assert.Equal(t, "restauth", h.Get("X-Client"))
	assert.Equal(t, "en", h.Get("Accept-Language"))
	assert.Equal(t, "globex", h.Get("X-Tenant"))
	assert.Equal(t, []string{"Bearer " + initialToken}, h.Values("Authorization"))
}

func TestDefaultContentTypeOverride(t *testing.T) {
	b := newReferenceBackend(t)
	c := b.newClient(t, initialToken, WithDefaultHeader("content-type", "application/vnd.api+json"))

	_, err := GetAll[[]post](context.Background(), c, "/posts")
	require.NoError(t, err)
	assert.Equal(t, "application/vnd.api+json", b.requestsTo("/posts")[0].Headers.Get("Content-Type"))
}

func TestRefreshRequestShape(t *testing.T) {
	b := newReferenceBackend(t)
	b.echo.POST("/login", func(c echo.Context) error {
		c.SetCookie(&http.Cookie{Name: testSessionCookie, Value: testSessionValue, Path: "/", HttpOnly: true})
		return c.NoContent(http.StatusNoContent)
	})
	c := b.newClient(t, initialToken, WithDefaultHeader("X-Client", "restauth"))
	ctx := context.Background()

	_, err := Request[struct{}](ctx, c, "/login", RequestOptions{Method: http.MethodPost})
	require.NoError(t, err)

	_, err = GetAll[map[string]string](ctx, c, "/authenticated")
	require.NoError(t, err)

	refreshes := b.requestsTo("/refresh")
	require.Len(t, refreshes, 1)
	r := refreshes[0]
	assert.Equal(t, http.MethodPost, r.Method)
	assert.Empty(t, r.Headers.Get("Authorization"))
	assert.Empty(t, r.Headers.Get("Content-Type"))
	assert.Empty(t, r.Headers.Get("X-Client"))
	assert.Empty(t, r.Body)
	assert.Contains(t, r.Headers.Get("Cookie"), testSessionCookie+"="+testSessionValue)
}

func TestConvenienceOperations(t *testing.T) {
	type draft struct {
		Text string `json:"text"`
	}

	b := newReferenceBackend(t)
	b.echo.POST("/posts", func(c echo.Context) error {
		var d draft
		if err := c.Bind(&d); err != nil {
			return err
		}
		return c.JSON(http.StatusCreated, post{ID: 3, Text: d.Text})
	})
	b.echo.PATCH("/posts/:id", func(c echo.Context) error {
		var d draft
		if err := c.Bind(&d); err != nil {
			return err
		}
		return c.JSON(http.StatusOK, post{ID: 1, Text: d.Text})
	})
	b.echo.DELETE("/posts/:id", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"deleted": c.Param("id")})
	})

	c := b.newClient(t, initialToken)
	ctx := context.Background()

	created, err := Create[draft, post](ctx, c, "/posts", draft{Text: "posts 3"})
	require.NoError(t, err)
	assert.Equal(t, post{ID: 3, Text: "posts 3"}, created)

	updated, err := Update[draft, post](ctx, c, "/posts/1", draft{Text: "edited"})
	require.NoError(t, err)
	assert.Equal(t, post{ID: 1, Text: "edited"}, updated)

	deleted, err := Delete[map[string]string](ctx, c, "/posts/2")
	require.NoError(t, err)
	assert.Equal(t, "2", deleted["deleted"])

	creates := b.requestsTo("/posts")
	require.NotEmpty(t, creates)
	assert.Equal(t, http.MethodPost, creates[0].Method)
	assert.JSONEq(t, `{"text":"posts 3"}`, creates[0].Body)
	assert.Equal(t, http.MethodPatch, b.requestsTo("/posts/1")[0].Method)
}

func TestCreateUnencodableBody(t *testing.T) {
	b := newReferenceBackend(t)
	_, err := Create[chan int, post](context.Background(), b.newClient(t, initialToken), "/posts", make(chan int))
	assert.True(t, IsInternalError(err))
	assert.Empty(t, b.requestsTo("/posts"))
}

func TestConcurrentCallsShareRefresh(t *testing.T) {
	const callers = 8

	b := newReferenceBackend(t)
	var (
		barrier sync.WaitGroup
		stale   sync.WaitGroup
	)
	barrier.Add(callers)
	stale.Add(callers)
	b.echo.GET("/feed", func(c echo.Context) error {
		if bearerToken(c.Request()) != renewedToken {
			// hold every stale call until all of them have arrived
			barrier.Done()
			barrier.Wait()
			return c.NoContent(http.StatusUnauthorized)
		}
		return c.JSON(http.StatusOK, map[string]string{"data": "success"})
	})
	b.refreshHandler = func(c echo.Context) error {
		time.Sleep(100 * time.Millisecond)
		return c.JSON(http.StatusOK, map[string]string{"token": renewedToken})
	}

	c := b.newClient(t, initialToken)
	errs := make(chan error, callers)
	for range callers {
		go func() {
			defer stale.Done()
			_, err := GetAll[map[string]string](context.Background(), c, "/feed")
			errs <- err
		}()
	}
	stale.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), b.refreshCalls.Load())
	assert.Equal(t, renewedToken, c.Token())
	assert.Len(t, b.requestsTo("/feed"), 2*callers)
}

func TestRefreshOutlivesCancelledCaller(t *testing.T) {
	b := newReferenceBackend(t)
	started := make(chan struct{})
	release := make(chan struct{})
	b.refreshHandler = func(c echo.Context) error {
		close(started)
		<-release
		return c.JSON(http.StatusOK, map[string]string{"token": renewedToken})
	}
	c := b.newClient(t, initialToken)

	ctxA, cancelA := context.WithCancel(context.Background())
	defer cancelA()
	errA := make(chan error, 1)
	go func() {
		_, err := GetAll[map[string]string](ctxA, c, "/authenticated")
		errA <- err
	}()
	<-started

	errB := make(chan error, 1)
	go func() {
		_, err := GetAll[map[string]string](context.Background(), c, "/authenticated")
		errB <- err
	}()
	require.Eventually(t, func() bool {
		return len(b.requestsTo("/authenticated")) == 2
	}, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	cancelA()
	err := <-errA
	require.Error(t, err)
	assert.True(t, IsInternalError(err))
	assert.ErrorIs(t, err, context.Canceled)

	close(release)
	require.NoError(t, <-errB)
	assert.Equal(t, renewedToken, c.Token())
	assert.Equal(t, int32(1), b.refreshCalls.Load())
}

func TestTransportRetriesStayOffAuthPath(t *testing.T) {
	b := newReferenceBackend(t)
	b.refreshHandler = func(c echo.Context) error {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"message": "refresh down"})
	}
	b.echo.GET("/broken", func(c echo.Context) error {
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": "boom"})
	})

	hc := httpclient.NewBuilder(logger.NewNop()).WithRetries(2, time.Millisecond).Build()
	c := b.newClient(t, initialToken, WithHTTPClient(hc))

	t.Run("refresh is sent once", func(t *testing.T) {
		_, err := GetAll[map[string]string](context.Background(), c, "/authenticated")
		require.Error(t, err)
		assert.True(t, IsInternalError(err))
		assert.ErrorIs(t, err, ErrRefreshFailed)
		assert.Equal(t, int32(1), b.refreshCalls.Load())
		assert.Len(t, b.requestsTo("/refresh"), 1)
	})

	t.Run("server error is final", func(t *testing.T) {
		_, err := GetAll[map[string]any](context.Background(), c, "/broken")
		var reqErr *RequestError
		require.ErrorAs(t, err, &reqErr)
		assert.Equal(t, "boom", reqErr.Message)
		assert.Len(t, b.requestsTo("/broken"), 1)
	})
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		refresh string
	}{
		{"relative base URL", "/api", "/refresh"},
		{"unsupported scheme", "ftp://api.example.com", "/refresh"},
		{"missing host", "https://", "/refresh"},
		{"unparseable", "http://[::1", "/refresh"},
		{"empty refresh endpoint", "https://api.example.com", " "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.baseURL, initialToken, tt.refresh)
			assert.Error(t, err)
			assert.Nil(t, c)
		})
	}

	c, err := New("https://api.example.com/v1", initialToken, "/refresh")
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com/v1", c.BaseURL())
	assert.Equal(t, initialToken, c.Token())
	c.SetToken("after-login")
	assert.Equal(t, "after-login", c.Token())
}

func TestTokenSource(t *testing.T) {
	c, err := New("https://api.example.com", "", "/refresh")
	require.NoError(t, err)

	ts := c.TokenSource()
	_, err = ts.Token()
	assert.ErrorIs(t, err, ErrNoToken)

	c.SetToken(renewedToken)
	tok, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, renewedToken, tok.AccessToken)
	assert.Equal(t, "Bearer", tok.Type())
	assert.True(t, tok.Valid())
}

func TestCustomTransportAndLogMasking(t *testing.T) {
	b := newReferenceBackend(t)

	var buf bytes.Buffer
	var mu sync.Mutex
	log := logger.NewWithWriter(&lockedWriter{mu: &mu, w: &buf}, "debug", false, nil)
	hc := httpclient.NewBuilder(log).WithLogPayloads(true, 256).Build()
	c := b.newClient(t, initialToken, WithHTTPClient(hc), WithLogger(log))

	_, err := GetAll[map[string]string](context.Background(), c, "/authenticated")
	require.NoError(t, err)

	mu.Lock()
	out := buf.String()
	mu.Unlock()
	assert.Contains(t, out, "REST client request")
	assert.Contains(t, out, "Access token refreshed")
	assert.Contains(t, out, "Bearer ***")
	assert.False(t, strings.Contains(out, "Bearer "+initialToken), "token leaked into logs")
}

type lockedWriter struct {
	mu *sync.Mutex
	w  *bytes.Buffer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
