package apiclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	domain "github.com/cmlabs-hris/hris-selfservice-go/internal/domain/session"
	"github.com/cmlabs-hris/hris-selfservice-go/internal/repository/memory"
	"github.com/cmlabs-hris/hris-selfservice-go/internal/service/session"
	"github.com/go-chi/jwtauth/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

var signer = jwtauth.New("HS256", []byte("upstream-test-secret"), nil)

func signedToken(t *testing.T, sub string, exp time.Time) string {
	t.Helper()
	_, tok, err := signer.Encode(map[string]any{"sub": sub, "exp": exp.Unix()})
	require.NoError(t, err)
	return tok
}

// upstream fakes the HR API: /hr-requests accepts only the current token.
type upstream struct {
	mu            sync.Mutex
	validToken    string
	nextToken     string
	nextRefresh   string
	refreshStatus int
	refreshDelay  time.Duration
	refreshCalls  atomic.Int32
	resourceCalls atomic.Int32
	seenTokens    []string
	alwaysDeny    bool
}

func (u *upstream) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /refresh", func(w http.ResponseWriter, r *http.Request) {
		u.refreshCalls.Add(1)
		time.Sleep(u.refreshDelay)

		var body struct {
			RefreshToken string `json:"refresh_token"`
		}
		json.NewDecoder(r.Body).Decode(&body)

		if u.refreshStatus != 0 && u.refreshStatus != http.StatusOK {
			w.WriteHeader(u.refreshStatus)
			w.Write([]byte(`{"message":"refresh token revoked"}`))
			return
		}
		u.mu.Lock()
		u.validToken = u.nextToken
		u.mu.Unlock()

		resp := map[string]any{"access_token": u.nextToken}
		if u.nextRefresh != "" {
			resp["refresh_token"] = u.nextRefresh
		}
		json.NewEncoder(w).Encode(map[string]any{"data": resp})
	})
	mux.HandleFunc("GET /hr-requests", func(w http.ResponseWriter, r *http.Request) {
		u.resourceCalls.Add(1)
		got := r.Header.Get("Authorization")

		u.mu.Lock()
		u.seenTokens = append(u.seenTokens, got)
		ok := got == "Bearer "+u.validToken && !u.alwaysDeny
		u.mu.Unlock()

		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"data":[{"id":1}]}`))
	})
	mux.HandleFunc("GET /public", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	})
	mux.HandleFunc("GET /missing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message":"request not found"}`))
	})
	mux.HandleFunc("GET /broken", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	mux.HandleFunc("GET /invalid", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"message":"reason is required"}`))
	})
	return mux
}

type fixture struct {
	up       *upstream
	client   *Client
	sessions *session.Manager
	expired  atomic.Int32
	refreshed atomic.Int32
}

func newFixture(t *testing.T, s *domain.Session) *fixture {
	t.Helper()
	f := &fixture{up: &upstream{}}
	srv := httptest.NewServer(f.up.handler())
	t.Cleanup(srv.Close)

	f.sessions = session.NewManager(memory.NewKV().Namespace("test"), nil)
	if s != nil {
		require.NoError(t, f.sessions.Set(context.Background(), *s))
		f.up.validToken = s.Token.AccessToken
	}

	client, err := New(Config{
		BaseURL: srv.URL,
		Timeout: 5 * time.Second,
		Hooks: Hooks{
			OnSessionExpired: func(context.Context) { f.expired.Add(1) },
			OnRefreshed:      func(context.Context, time.Time) { f.refreshed.Add(1) },
		},
	}, f.sessions)
	require.NoError(t, err)
	f.client = client
	return f
}

func withTokens(access, refresh string) *domain.Session {
	return &domain.Session{
		Token: oauth2.Token{AccessToken: access, RefreshToken: refresh},
		User:  domain.User{ID: "1", Role: "manager"},
	}
}

func get(path string) Request {
	return Request{Method: http.MethodGet, Path: path}
}

func TestDo_AttachesBearerToken(t *testing.T) {
	f := newFixture(t, withTokens("access-1", "refresh-1"))

	resp, err := f.client.Do(context.Background(), get("/hr-requests"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"Bearer access-1"}, f.up.seenTokens)
	assert.Zero(t, f.up.refreshCalls.Load())
}

func TestDo_WithoutSessionPassesThrough(t *testing.T) {
	f := newFixture(t, nil)

	resp, err := f.client.Do(context.Background(), get("/public"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(resp.Body))
}

func TestDo_RefreshesOnceAndRetries(t *testing.T) {
	f := newFixture(t, withTokens("stale", "refresh-1"))
	f.up.validToken = "other"
	exp := time.Now().Add(15 * time.Minute).Truncate(time.Second)
	f.up.nextToken = signedToken(t, "1", exp)

	resp, err := f.client.Do(context.Background(), get("/hr-requests"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.EqualValues(t, 1, f.up.refreshCalls.Load())
	assert.EqualValues(t, 2, f.up.resourceCalls.Load())
	assert.Equal(t, "Bearer "+f.up.nextToken, f.up.seenTokens[1])
	assert.EqualValues(t, 1, f.refreshed.Load())

	s, err := f.sessions.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, f.up.nextToken, s.Token.AccessToken)
	assert.Equal(t, "refresh-1", s.Token.RefreshToken)
	assert.True(t, exp.Equal(s.Token.Expiry))
}

func TestDo_RotatesRefreshToken(t *testing.T) {
	f := newFixture(t, withTokens("stale", "refresh-1"))
	f.up.validToken = "other"
	f.up.nextToken = "opaque-access"
	f.up.nextRefresh = "refresh-2"

	_, err := f.client.Do(context.Background(), get("/hr-requests"))
	require.NoError(t, err)

	s, err := f.sessions.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "refresh-2", s.Token.RefreshToken)
	assert.True(t, s.Token.Expiry.IsZero())
}

func TestDo_SecondUnauthorizedDoesNotRefreshAgain(t *testing.T) {
	f := newFixture(t, withTokens("stale", "refresh-1"))
	f.up.alwaysDeny = true
	f.up.nextToken = "fresh"

	_, err := f.client.Do(context.Background(), get("/hr-requests"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.NotErrorIs(t, err, ErrSessionExpired)

	assert.EqualValues(t, 1, f.up.refreshCalls.Load())
	assert.EqualValues(t, 2, f.up.resourceCalls.Load())
}

func TestDo_RefreshFailureExpiresSession(t *testing.T) {
	f := newFixture(t, withTokens("stale", "refresh-1"))
	f.up.validToken = "other"
	f.up.refreshStatus = http.StatusUnauthorized

	_, err := f.client.Do(context.Background(), get("/hr-requests"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.ErrorIs(t, err, ErrUnauthorized, "original 401 is propagated")

	assert.EqualValues(t, 1, f.up.resourceCalls.Load(), "original call is not retried")
	assert.EqualValues(t, 1, f.expired.Load())

	_, err = f.sessions.Current(context.Background())
	assert.ErrorIs(t, err, domain.ErrNoSession)
}

func TestDo_NoRefreshTokenExpiresSession(t *testing.T) {
	f := newFixture(t, withTokens("stale", ""))
	f.up.validToken = "other"

	_, err := f.client.Do(context.Background(), get("/hr-requests"))
	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.Zero(t, f.up.refreshCalls.Load())
	assert.EqualValues(t, 1, f.up.resourceCalls.Load())
	assert.EqualValues(t, 1, f.expired.Load())

	_, err = f.sessions.Current(context.Background())
	assert.ErrorIs(t, err, domain.ErrNoSession)
}

func TestDo_RefreshTokenOnlySessionRefreshes(t *testing.T) {
	f := newFixture(t, withTokens("", "refresh-1"))
	f.up.nextToken = "fresh"

	resp, err := f.client.Do(context.Background(), get("/hr-requests"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.EqualValues(t, 1, f.up.refreshCalls.Load())
	assert.Equal(t, []string{"", "Bearer fresh"}, f.up.seenTokens)

	s, err := f.sessions.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh", s.Token.AccessToken)
}

func TestDo_UnauthorizedWithoutSessionIsNotExpiry(t *testing.T) {
	f := newFixture(t, nil)
	f.up.validToken = "someone-else"

	_, err := f.client.Do(context.Background(), get("/hr-requests"))
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.NotErrorIs(t, err, ErrSessionExpired)
	assert.Zero(t, f.up.refreshCalls.Load())
	assert.Zero(t, f.expired.Load())
}

func TestDo_ConcurrentUnauthorizedShareOneRefresh(t *testing.T) {
	f := newFixture(t, withTokens("stale", "refresh-1"))
	f.up.validToken = "other"
	f.up.nextToken = "fresh"
	f.up.refreshDelay = 50 * time.Millisecond

	const callers = 8
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.client.Do(context.Background(), get("/hr-requests"))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.EqualValues(t, 1, f.up.refreshCalls.Load())
	assert.EqualValues(t, 1, f.refreshed.Load())
}

func TestDo_ClassifiesErrors(t *testing.T) {
	f := newFixture(t, withTokens("access-1", "refresh-1"))
	ctx := context.Background()

	_, err := f.client.Do(ctx, get("/missing"))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "The requested resource was not found.", Message(err))

	_, err = f.client.Do(ctx, get("/broken"))
	assert.ErrorIs(t, err, ErrServer)

	_, err = f.client.Do(ctx, get("/invalid"))
	assert.ErrorIs(t, err, ErrRequestFailed)
	assert.Equal(t, "reason is required", Message(err))

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
	assert.Equal(t, "/invalid", apiErr.Path)

	assert.Zero(t, f.up.refreshCalls.Load())
}

func TestDo_AnonymousUnauthorizedDoesNotRefresh(t *testing.T) {
	f := newFixture(t, withTokens("stale", "refresh-1"))
	f.up.validToken = "other"

	_, err := f.client.Do(context.Background(), Request{Method: http.MethodGet, Path: "/hr-requests", Anonymous: true})
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Zero(t, f.up.refreshCalls.Load())

	_, err = f.sessions.Current(context.Background())
	assert.NoError(t, err)
}

func TestDo_NetworkError(t *testing.T) {
	sessions := session.NewManager(memory.NewKV().Namespace("test"), nil)
	client, err := New(Config{BaseURL: "http://127.0.0.1:1", Timeout: time.Second}, sessions)
	require.NoError(t, err)

	_, err = client.Do(context.Background(), get("/hr-requests"))
	assert.ErrorIs(t, err, ErrNetwork)
}

func TestDoJSON_UnwrapsData(t *testing.T) {
	f := newFixture(t, withTokens("access-1", "refresh-1"))

	var out []struct {
		ID int `json:"id"`
	}
	require.NoError(t, f.client.DoJSON(context.Background(), http.MethodGet, "/hr-requests", nil, &out))
	require.Len(t, out, 1)
	assert.Equal(t, 1, out[0].ID)
}

func TestCheckExpiryOnStartup(t *testing.T) {
	ctx := context.Background()
	past := time.Now().Add(-time.Minute)

	t.Run("refreshes an expired session", func(t *testing.T) {
		s := withTokens("old", "refresh-1")
		s.Token.Expiry = past
		f := newFixture(t, s)
		f.up.nextToken = signedToken(t, "1", time.Now().Add(time.Hour))

		require.NoError(t, f.client.CheckExpiryOnStartup(ctx))
		assert.EqualValues(t, 1, f.up.refreshCalls.Load())

		cur, err := f.sessions.Current(ctx)
		require.NoError(t, err)
		assert.Equal(t, f.up.nextToken, cur.Token.AccessToken)
	})

	t.Run("leaves a live session alone", func(t *testing.T) {
		s := withTokens("live", "refresh-1")
		s.Token.Expiry = time.Now().Add(time.Hour)
		f := newFixture(t, s)

		require.NoError(t, f.client.CheckExpiryOnStartup(ctx))
		assert.Zero(t, f.up.refreshCalls.Load())
	})

	t.Run("unknown expiry is not refreshed", func(t *testing.T) {
		f := newFixture(t, withTokens("live", "refresh-1"))

		require.NoError(t, f.client.CheckExpiryOnStartup(ctx))
		assert.Zero(t, f.up.refreshCalls.Load())
	})

	t.Run("clears silently without refresh token", func(t *testing.T) {
		s := withTokens("old", "")
		s.Token.Expiry = past
		f := newFixture(t, s)

		require.NoError(t, f.client.CheckExpiryOnStartup(ctx))
		_, err := f.sessions.Current(ctx)
		assert.ErrorIs(t, err, domain.ErrNoSession)
	})

	t.Run("clears silently when refresh fails", func(t *testing.T) {
		s := withTokens("old", "refresh-1")
		s.Token.Expiry = past
		f := newFixture(t, s)
		f.up.refreshStatus = http.StatusUnauthorized

		require.NoError(t, f.client.CheckExpiryOnStartup(ctx))
		_, err := f.sessions.Current(ctx)
		assert.ErrorIs(t, err, domain.ErrNoSession)
	})

	t.Run("no session", func(t *testing.T) {
		f := newFixture(t, nil)
		assert.NoError(t, f.client.CheckExpiryOnStartup(ctx))
	})
}

func TestRefreshIfExpiring(t *testing.T) {
	ctx := context.Background()
	s := withTokens("soon", "refresh-1")
	s.Token.Expiry = time.Now().Add(30 * time.Second)
	f := newFixture(t, s)
	f.up.nextToken = signedToken(t, "1", time.Now().Add(time.Hour))

	refreshed, err := f.client.RefreshIfExpiring(ctx, time.Second)
	require.NoError(t, err)
	assert.False(t, refreshed)

	refreshed, err = f.client.RefreshIfExpiring(ctx, 2*time.Minute)
	require.NoError(t, err)
	assert.True(t, refreshed)
	assert.EqualValues(t, 1, f.up.refreshCalls.Load())
}

func TestTokenExpiry(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	assert.True(t, exp.Equal(TokenExpiry(signedToken(t, "1", exp))))
	assert.True(t, TokenExpiry("opaque").IsZero())
}
