package http

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cmlabs-hris/hris-selfservice-go/internal/domain/auth"
	"github.com/cmlabs-hris/hris-selfservice-go/internal/domain/request"
	"github.com/cmlabs-hris/hris-selfservice-go/internal/fixtures"
	"github.com/cmlabs-hris/hris-selfservice-go/internal/pkg/jwt"
	"github.com/cmlabs-hris/hris-selfservice-go/internal/pkg/sse"
	"github.com/cmlabs-hris/hris-selfservice-go/internal/repository/memory"
	"github.com/cmlabs-hris/hris-selfservice-go/internal/service/approval"
	"github.com/cmlabs-hris/hris-selfservice-go/internal/service/workspace"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const handlerTestSecret = "test-secret-key-for-jwt"

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Details map[string]string `json:"details"`
	} `json:"error"`
}

type gateway struct {
	router   *chi.Mux
	upstream *fixtures.Upstream
	pool     *workspace.Pool
}

func newGateway(t *testing.T) *gateway {
	t.Helper()
	up := fixtures.NewUpstream(t)
	hub := sse.NewHub()
	resolver := approval.NewResolver(nil)
	pool := workspace.NewPool(workspace.Config{
		UpstreamURL:   up.URL(),
		Timeout:       5 * time.Second,
		RefreshLeeway: 2 * time.Minute,
		IdleTimeout:   time.Hour,
	}, memory.NewKV().Factory(), nil, resolver, hub)
	jwtService := jwt.NewJWTService(handlerTestSecret, "1h")

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	router := NewRouter(logger, []string{"http://localhost:3000"}, jwtService, pool,
		NewAuthHandler(jwtService, pool),
		NewRequestHandler(hub),
		NewPolicyHandler(resolver),
		NewEventsHandler(hub),
	)
	return &gateway{router: router, upstream: up, pool: pool}
}

func (g *gateway) do(t *testing.T, method, path, token string, body any) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	g.router.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec.Code, env
}

func (g *gateway) login(t *testing.T, email string) auth.GatewayLoginResponse {
	t.Helper()
	code, env := g.do(t, http.MethodPost, "/api/v1/auth/login", "", auth.LoginRequest{Email: email, Password: fixtures.Password})
	require.Equal(t, http.StatusOK, code, env.Error)

	var out auth.GatewayLoginResponse
	require.NoError(t, json.Unmarshal(env.Data, &out))
	require.NotEmpty(t, out.Token)
	return out
}

func TestLoginHandler(t *testing.T) {
	g := newGateway(t)

	t.Run("success", func(t *testing.T) {
		out := g.login(t, "manager@example.com")
		assert.Equal(t, "manager", out.User.Role)
		assert.Greater(t, out.ExpiresAt, time.Now().Unix())
	})

	t.Run("wrong password", func(t *testing.T) {
		before := g.pool.Len()
		code, env := g.do(t, http.MethodPost, "/api/v1/auth/login", "", auth.LoginRequest{Email: "manager@example.com", Password: "nope"})
		assert.Equal(t, http.StatusUnauthorized, code)
		assert.False(t, env.Success)
		assert.Equal(t, before, g.pool.Len(), "failed login must not leave a workspace behind")
	})

	t.Run("validation", func(t *testing.T) {
		code, env := g.do(t, http.MethodPost, "/api/v1/auth/login", "", auth.LoginRequest{Email: "not-an-email"})
		assert.Equal(t, http.StatusUnprocessableEntity, code)
		require.NotNil(t, env.Error)
		assert.Contains(t, env.Error.Details, "email")
	})

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader("{"))
		rec := httptest.NewRecorder()
		g.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	g := newGateway(t)

	code, _ := g.do(t, http.MethodGet, "/api/v1/requests", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = g.do(t, http.MethodGet, "/api/v1/requests", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestQueryTokenOnlyOnEventStream(t *testing.T) {
	g := newGateway(t)
	out := g.login(t, "manager@example.com")

	for _, path := range []string{
		"/api/v1/requests?view=assigned&jwt=" + out.Token,
		"/api/v1/auth/me?jwt=" + out.Token,
		"/api/v1/policy?jwt=" + out.Token,
	} {
		code, _ := g.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, code, path)
	}

	// a leaked URL must not be able to log the session out
	code, _ := g.do(t, http.MethodPost, "/api/v1/auth/logout?jwt="+out.Token, "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = g.do(t, http.MethodGet, "/api/v1/auth/me", out.Token, nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestMeAndLogout(t *testing.T) {
	g := newGateway(t)
	out := g.login(t, "hr@example.com")

	code, env := g.do(t, http.MethodGet, "/api/v1/auth/me", out.Token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"role":"hr_admin"`)

	code, _ = g.do(t, http.MethodPost, "/api/v1/auth/logout", out.Token, nil)
	require.Equal(t, http.StatusOK, code)

	code, env = g.do(t, http.MethodGet, "/api/v1/auth/me", out.Token, nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	require.NotNil(t, env.Error)
}

func TestRequestRoutes(t *testing.T) {
	g := newGateway(t)
	manager := g.login(t, "manager@example.com")
	employee := g.login(t, "employee@example.com")

	t.Run("assigned list is decorated", func(t *testing.T) {
		code, env := g.do(t, http.MethodGet, "/api/v1/requests?view=assigned", manager.Token, nil)
		require.Equal(t, http.StatusOK, code)

		var list request.ListRequestResponse
		require.NoError(t, json.Unmarshal(env.Data, &list))
		assert.Equal(t, request.ViewAssigned, list.View)
		require.NotEmpty(t, list.Requests)

		for _, r := range list.Requests {
			if r.ID.String() == "101" {
				assert.True(t, r.CanAct)
				assert.Equal(t, request.FieldStatus, r.ActionField)
			}
		}
	})

	t.Run("bad view", func(t *testing.T) {
		code, _ := g.do(t, http.MethodGet, "/api/v1/requests?view=everything", manager.Token, nil)
		assert.Equal(t, http.StatusBadRequest, code)
	})

	t.Run("detail", func(t *testing.T) {
		code, env := g.do(t, http.MethodGet, "/api/v1/requests/102?view=assigned", manager.Token, nil)
		require.Equal(t, http.StatusOK, code)

		var r request.RequestResponse
		require.NoError(t, json.Unmarshal(env.Data, &r))
		assert.Equal(t, request.StatusApproved, r.OverallStatus)
		assert.False(t, r.CanAct)
	})

	t.Run("unknown id", func(t *testing.T) {
		code, _ := g.do(t, http.MethodGet, "/api/v1/requests/999?view=assigned", manager.Token, nil)
		assert.Equal(t, http.StatusNotFound, code)
	})

	t.Run("employee cannot decide", func(t *testing.T) {
		code, _ := g.do(t, http.MethodPost, "/api/v1/requests/101/decision", employee.Token, request.DecisionRequest{Action: "approve"})
		assert.Equal(t, http.StatusForbidden, code)
	})

	t.Run("invalid action", func(t *testing.T) {
		code, _ := g.do(t, http.MethodPost, "/api/v1/requests/101/decision", manager.Token, request.DecisionRequest{Action: "escalate"})
		assert.Equal(t, http.StatusUnprocessableEntity, code)
	})

	t.Run("manager approves", func(t *testing.T) {
		code, env := g.do(t, http.MethodPost, "/api/v1/requests/101/decision", manager.Token, request.DecisionRequest{Action: "approve"})
		require.Equal(t, http.StatusOK, code, env.Error)

		stored, ok := g.upstream.Request("101")
		require.True(t, ok)
		assert.Equal(t, "Approved", stored.Status)
	})

	t.Run("second decision conflicts", func(t *testing.T) {
		code, _ := g.do(t, http.MethodPost, "/api/v1/requests/101/decision", manager.Token, request.DecisionRequest{Action: "reject"})
		assert.Equal(t, http.StatusConflict, code)
	})

	t.Run("employee cancels untouched request", func(t *testing.T) {
		code, _ := g.do(t, http.MethodPost, "/api/v1/requests/106/cancel", employee.Token, nil)
		require.Equal(t, http.StatusOK, code)

		stored, _ := g.upstream.Request("106")
		assert.Equal(t, "Cancelled", stored.Status)
	})

	t.Run("decided request cannot be cancelled", func(t *testing.T) {
		code, _ := g.do(t, http.MethodPost, "/api/v1/requests/102/cancel", employee.Token, nil)
		assert.Equal(t, http.StatusConflict, code)
	})

	t.Run("breakdown degrades", func(t *testing.T) {
		g.upstream.FailBreakdown.Store(true)
		defer g.upstream.FailBreakdown.Store(false)

		code, env := g.do(t, http.MethodGet, "/api/v1/requests/breakdown", manager.Token, nil)
		require.Equal(t, http.StatusOK, code)
		assert.JSONEq(t, `{"available":false}`, string(env.Data))
	})
}

func TestPolicyRoute(t *testing.T) {
	g := newGateway(t)
	out := g.login(t, "ceo@example.com")

	code, env := g.do(t, http.MethodGet, "/api/v1/policy", out.Token, nil)
	require.Equal(t, http.StatusOK, code)

	var p struct {
		Rules     []json.RawMessage `json:"rules"`
		TypePaths map[string]string `json:"type_paths"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &p))
	assert.Len(t, p.Rules, len(approval.DefaultRules()))
	assert.Equal(t, "leave-requests", p.TypePaths["leave"])
}

func TestEventStream(t *testing.T) {
	g := newGateway(t)
	srv := httptest.NewServer(g.router)
	defer srv.Close()

	out := g.login(t, "manager@example.com")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/events?jwt="+out.Token, nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := bufio.NewScanner(resp.Body)
	waitFor := func(prefix string) string {
		for lines.Scan() {
			if strings.HasPrefix(lines.Text(), prefix) {
				return lines.Text()
			}
		}
		t.Fatalf("stream ended before %q: %v", prefix, lines.Err())
		return ""
	}

	waitFor("event: connected")

	code, _ := g.do(t, http.MethodPost, "/api/v1/requests/101/decision", out.Token, request.DecisionRequest{Action: "approve"})
	require.Equal(t, http.StatusOK, code)

	assert.Equal(t, "event: "+sse.EventRequestUpdated, waitFor("event: "+sse.EventRequestUpdated))
	assert.Contains(t, waitFor("data: "), `"id":"101"`)
}
