package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/blogpress/internal/apperrors"
	"github.com/nkiryanov/blogpress/internal/metrics"
)

type tokenFunc func(ctx context.Context) string

func (f tokenFunc) Token(ctx context.Context) string { return f(ctx) }

func staticToken(token string) TokenSource {
	return tokenFunc(func(context.Context) string { return token })
}

func newTestClient(t *testing.T, h http.HandlerFunc, cfg Config, tokens TokenSource) *Client {
	t.Helper()

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	cfg.BaseURL = srv.URL + "/api"
	return New(cfg, tokens, nil)
}

func TestClient_New(t *testing.T) {
	c := New(Config{}, nil, nil)

	require.Equal(t, DefaultBaseURL, c.BaseURL())
	require.Equal(t, 30*time.Second, c.client.Timeout)
}

func TestClient_Request(t *testing.T) {
	t.Run("bearer token and request id", func(t *testing.T) {
		var got *http.Request
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			got = r
			_, _ = w.Write([]byte(`{"id":"1"}`))
		}, Config{}, staticToken("access-1"))

		var out struct {
			ID string `json:"id"`
		}
		err := c.Get(t.Context(), "/auth/me", &out)

		require.NoError(t, err)
		require.Equal(t, "1", out.ID)
		require.Equal(t, "/api/auth/me", got.URL.Path)
		require.Equal(t, "Bearer access-1", got.Header.Get("Authorization"))
		_, err = uuid.Parse(got.Header.Get(RequestIDHeader))
		require.NoError(t, err, "request id should be uuid")
	})

	t.Run("no token no authorization", func(t *testing.T) {
		var header string
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			header = r.Header.Get("Authorization")
		}, Config{}, staticToken(""))

		require.NoError(t, c.Get(t.Context(), "/auth/verify", nil))
		require.Empty(t, header)
	})

	t.Run("json body", func(t *testing.T) {
		var (
			contentType string
			body        map[string]any
		)
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			contentType = r.Header.Get("Content-Type")
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			w.WriteHeader(http.StatusCreated)
		}, Config{}, nil)

		err := c.Post(t.Context(), "/audit-logs", map[string]any{"action": "login"}, nil)

		require.NoError(t, err)
		require.Equal(t, "application/json", contentType)
		require.Equal(t, map[string]any{"action": "login"}, body)
	})

	t.Run("form data keeps multipart content type", func(t *testing.T) {
		var (
			contentType string
			field       string
			file        string
		)
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			contentType = r.Header.Get("Content-Type")
			require.NoError(t, r.ParseMultipartForm(1<<20))
			field = r.FormValue("title")
			f, _, err := r.FormFile("avatar")
			require.NoError(t, err)
			b, err := io.ReadAll(f)
			require.NoError(t, err)
			file = string(b)
		}, Config{}, nil)

		form := NewFormData()
		require.NoError(t, form.WriteField("title", "me"))
		require.NoError(t, form.WriteFile("avatar", "me.png", strings.NewReader("png")))

		err := c.Put(t.Context(), "/users/me/avatar", form, nil)

		require.NoError(t, err)
		require.True(t, strings.HasPrefix(contentType, "multipart/form-data; boundary="), "got %s", contentType)
		require.Equal(t, "me", field)
		require.Equal(t, "png", file)
	})

	t.Run("verbs", func(t *testing.T) {
		var methods []string
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			methods = append(methods, r.Method)
			w.WriteHeader(http.StatusNoContent)
		}, Config{}, nil)

		require.NoError(t, c.Get(t.Context(), "/x", nil))
		require.NoError(t, c.Post(t.Context(), "/x", nil, nil))
		require.NoError(t, c.Put(t.Context(), "/x", nil, nil))
		require.NoError(t, c.Patch(t.Context(), "/x", nil, nil))
		require.NoError(t, c.Delete(t.Context(), "/x", nil))

		require.Equal(t, []string{"GET", "POST", "PUT", "PATCH", "DELETE"}, methods)
	})
}

func TestClient_Errors(t *testing.T) {
	respond := func(status int, body string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(body))
		}
	}

	t.Run("500 message from body", func(t *testing.T) {
		tests := []struct {
			name    string
			body    string
			message string
		}{
			{"message field", `{"message":"db is down"}`, "db is down"},
			{"error field", `{"error":"boom"}`, "boom"},
			{"no fields", `{}`, "Internal server error"},
			{"not json", `<html>oops</html>`, "Internal server error"},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				c := newTestClient(t, respond(http.StatusInternalServerError, tt.body), Config{}, nil)

				err := c.Get(t.Context(), "/auth/me", nil)

				require.ErrorIs(t, err, apperrors.ErrServer)
				var rerr *ResponseError
				require.True(t, errors.As(err, &rerr))
				require.Equal(t, http.StatusInternalServerError, rerr.Status)
				require.Equal(t, tt.message, rerr.Message)
			})
		}
	})

	t.Run("other statuses pass through", func(t *testing.T) {
		c := newTestClient(t, respond(http.StatusConflict, `{"message":"email taken"}`), Config{}, nil)

		err := c.Post(t.Context(), "/auth/register", nil, nil)

		var rerr *ResponseError
		require.True(t, errors.As(err, &rerr))
		require.Equal(t, http.StatusConflict, rerr.Status)
		require.Equal(t, "email taken", rerr.Message)
		require.NoError(t, rerr.Unwrap(), "no sentinel for unknown status")
	})

	t.Run("401 without policy", func(t *testing.T) {
		c := newTestClient(t, respond(http.StatusUnauthorized, `{"message":"expired"}`), Config{}, nil)

		err := c.Get(t.Context(), "/auth/me", nil)

		require.ErrorIs(t, err, apperrors.ErrUnauthenticated)
	})

	t.Run("401 delegated to policy", func(t *testing.T) {
		called := 0
		policy := UnauthorizedFunc(func(ctx context.Context, rerr *ResponseError) error {
			called++
			require.Equal(t, "expired", rerr.Message)
			return errors.New("handled")
		})
		c := newTestClient(t, respond(http.StatusUnauthorized, `{"message":"expired"}`), Config{Unauthorized: policy}, nil)

		err := c.Get(t.Context(), "/auth/me", nil)

		require.EqualError(t, err, "handled")
		require.Equal(t, 1, called)
	})

	t.Run("network error", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		srv.Close()
		c := New(Config{BaseURL: srv.URL}, nil, nil)

		err := c.Get(t.Context(), "/auth/me", nil)

		require.ErrorIs(t, err, apperrors.ErrNetwork)
		require.False(t, c.Reachable(t.Context()))
	})

	t.Run("canceled is not network error", func(t *testing.T) {
		c := newTestClient(t, respond(http.StatusOK, `{}`), Config{}, nil)
		ctx, cancel := context.WithCancel(t.Context())
		cancel()

		err := c.Get(ctx, "/auth/me", nil)

		require.ErrorIs(t, err, context.Canceled)
		require.NotErrorIs(t, err, apperrors.ErrNetwork)
	})

	t.Run("malformed success body", func(t *testing.T) {
		c := newTestClient(t, respond(http.StatusOK, `{"id":`), Config{}, nil)

		var out map[string]any
		err := c.Get(t.Context(), "/auth/me", &out)

		require.Error(t, err)
	})
}

type navigatorStub struct {
	path      string
	redirects []string
}

func (n *navigatorStub) Path() string { return n.path }

func (n *navigatorStub) Redirect(path string) {
	n.redirects = append(n.redirects, path)
	n.path = path
}

type clearFunc func(ctx context.Context) error

func (f clearFunc) ClearAllAuthData(ctx context.Context) error { return f(ctx) }

func TestRedirectPolicy(t *testing.T) {
	unauthorized := func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"Invalid credentials"}`))
	}

	t.Run("off login page clears and redirects", func(t *testing.T) {
		nav := &navigatorStub{path: "/admin/posts"}
		cleared := 0
		policy := NewRedirectPolicy(nav, clearFunc(func(context.Context) error {
			cleared++
			return nil
		}), nil)
		c := newTestClient(t, unauthorized, Config{Unauthorized: policy}, nil)

		err := c.Get(t.Context(), "/auth/me", nil)

		require.ErrorIs(t, err, apperrors.ErrUnauthenticated)
		require.Equal(t, 1, cleared)
		require.Equal(t, []string{LoginPath}, nav.redirects)
	})

	t.Run("on login page becomes login error", func(t *testing.T) {
		nav := &navigatorStub{path: LoginPath}
		policy := NewRedirectPolicy(nav, clearFunc(func(context.Context) error {
			t.Fatal("auth data must not be cleared on login page")
			return nil
		}), nil)
		c := newTestClient(t, unauthorized, Config{Unauthorized: policy}, nil)

		err := c.Post(t.Context(), "/auth/login", map[string]any{}, nil)

		var lerr *LoginError
		require.True(t, errors.As(err, &lerr))
		assert.Equal(t, "Invalid credentials", lerr.Message)
		assert.ErrorIs(t, err, apperrors.ErrLoginFailed)
		assert.ErrorIs(t, err, apperrors.ErrUnauthenticated)
		assert.Empty(t, nav.redirects)
	})
}

func TestClient_Transports(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}, Config{Metrics: m}, nil)

	_ = c.Get(t.Context(), "/auth/verify", nil)

	count, err := promtestutil.GatherAndCount(reg, "blogpress_api_requests_total")
	require.NoError(t, err)
	require.Equal(t, 1, count, "one series for the request")
}
