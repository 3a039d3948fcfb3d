package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cmlabs-hris/hris-selfservice-go/internal/domain/session"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

const (
	refreshPath  = "/refresh"
	maxBodyBytes = 8 << 20
)

var errRefreshRejected = errors.New("refresh rejected")

// SessionManager is the client's view of the session. All token writes go through it.
type SessionManager interface {
	Current(ctx context.Context) (session.Session, error)
	SetAccessToken(ctx context.Context, accessToken string, expiry time.Time, refreshToken string) error
	Clear(ctx context.Context) error
}

// Hooks are optional callbacks fired once per refresh outcome.
type Hooks struct {
	OnSessionExpired func(ctx context.Context)
	OnRefreshed      func(ctx context.Context, expiry time.Time)
}

type Config struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Hooks      Hooks
}

// Request is one upstream call. Path is joined to the base URL.
type Request struct {
	Method      string
	Path        string
	Query       url.Values
	Body        []byte
	ContentType string
	Header      http.Header
	// Timeout overrides the client default, e.g. for uploads.
	Timeout time.Duration
	// Anonymous calls never carry a bearer token and never refresh.
	Anonymous bool
}

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Client wraps upstream calls with bearer auth and a single refresh on 401.
type Client struct {
	baseURL  *url.URL
	http     *http.Client
	timeout  time.Duration
	sessions SessionManager
	hooks    Hooks
	refresh  singleflight.Group
	now      func() time.Time
}

func New(cfg Config, sessions SessionManager) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid upstream base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid upstream base url %q", cfg.BaseURL)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL:  base,
		http:     httpClient,
		timeout:  cfg.Timeout,
		sessions: sessions,
		hooks:    cfg.Hooks,
		now:      time.Now,
	}, nil
}

// Do sends req. A 401 on an authenticated call triggers at most one refresh
// followed by exactly one retry.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	var sent string
	if !req.Anonymous {
		token, err := c.accessToken(ctx)
		if err != nil {
			return nil, err
		}
		sent = token
	}

	resp, err := c.send(ctx, req, sent)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized || req.Anonymous {
		return c.result(req, resp)
	}

	original := c.failure(req, resp)

	current, err := c.sessions.Current(ctx)
	switch {
	case errors.Is(err, session.ErrNoSession) && sent == "":
		// Nothing was sent and nothing can be refreshed.
		return nil, original
	case errors.Is(err, session.ErrNoSession):
		return nil, c.expired(req, original)
	case err != nil:
		return nil, err
	}

	// Another caller refreshed while this one was in flight.
	if current.HasAccessToken() && current.Token.AccessToken != sent {
		return c.retry(ctx, req, current.Token.AccessToken)
	}

	if !current.HasRefreshToken() {
		if sent == "" {
			return nil, original
		}
		c.expire(ctx)
		return nil, c.expired(req, original)
	}

	token, err := c.refreshSession(ctx, sent, current.Token.RefreshToken)
	if errors.Is(err, errRefreshRejected) {
		return nil, c.expired(req, original)
	}
	if err != nil {
		return nil, err
	}
	return c.retry(ctx, req, token)
}

// DoJSON sends in as a JSON body and decodes the (optionally data-wrapped) reply into out.
func (c *Client) DoJSON(ctx context.Context, method, path string, in, out any) error {
	req := Request{Method: method, Path: path}
	if in != nil {
		body, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		req.Body = body
		req.ContentType = "application/json"
	}

	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(resp.Body)) == 0 {
		return nil
	}
	if err := DecodeData(resp.Body, out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}

// CheckExpiryOnStartup refreshes a session whose stored expiry has passed. When the
// refresh token is missing or rejected the session is cleared and nil is returned.
func (c *Client) CheckExpiryOnStartup(ctx context.Context) error {
	s, err := c.sessions.Current(ctx)
	if errors.Is(err, session.ErrNoSession) {
		return nil
	}
	if errors.Is(err, session.ErrCorruptSession) {
		slog.Warn("discarding unreadable session", "error", err)
		return c.sessions.Clear(ctx)
	}
	if err != nil {
		return err
	}
	if !s.ExpiredAt(c.now()) {
		return nil
	}
	if !s.HasRefreshToken() {
		return c.sessions.Clear(ctx)
	}

	_, err = c.refreshSession(ctx, s.Token.AccessToken, s.Token.RefreshToken)
	if errors.Is(err, errRefreshRejected) {
		return nil
	}
	return err
}

// RefreshIfExpiring refreshes ahead of time when the access token expires within leeway.
func (c *Client) RefreshIfExpiring(ctx context.Context, leeway time.Duration) (bool, error) {
	s, err := c.sessions.Current(ctx)
	if errors.Is(err, session.ErrNoSession) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !s.HasRefreshToken() || !s.ExpiresWithin(c.now(), leeway) {
		return false, nil
	}

	if _, err := c.refreshSession(ctx, s.Token.AccessToken, s.Token.RefreshToken); err != nil {
		if errors.Is(err, errRefreshRejected) {
			return false, fmt.Errorf("%w: %w", ErrSessionExpired, err)
		}
		return false, err
	}
	return true, nil
}

type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
}

// refreshSession exchanges the refresh token once for all concurrent callers and
// records the outcome in the session. stale is the access token the caller saw
// rejected; if the session already holds a different one no exchange happens.
func (c *Client) refreshSession(ctx context.Context, stale, refreshToken string) (string, error) {
	v, err, _ := c.refresh.Do(refreshToken, func() (any, error) {
		ctx := context.WithoutCancel(ctx)

		if cur, err := c.sessions.Current(ctx); err == nil && cur.HasAccessToken() && cur.Token.AccessToken != stale {
			return cur.Token.AccessToken, nil
		}

		tok, err := c.exchange(ctx, refreshToken)
		if err != nil {
			slog.Warn("token refresh failed, clearing session", "error", err)
			c.expire(ctx)
			return nil, err
		}
		if err := c.sessions.SetAccessToken(ctx, tok.AccessToken, tok.Expiry, tok.RefreshToken); err != nil {
			return nil, fmt.Errorf("failed to persist refreshed token: %w", err)
		}
		if c.hooks.OnRefreshed != nil {
			c.hooks.OnRefreshed(ctx, tok.Expiry)
		}
		return tok.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Client) exchange(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	body, err := json.Marshal(map[string]string{"refresh_token": refreshToken})
	if err != nil {
		return nil, err
	}
	req := Request{
		Method:      http.MethodPost,
		Path:        refreshPath,
		Body:        body,
		ContentType: "application/json",
		Anonymous:   true,
	}

	resp, err := c.send(ctx, req, "")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errRefreshRejected, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %w", errRefreshRejected, c.failure(req, resp))
	}

	var out refreshResponse
	if err := DecodeData(resp.Body, &out); err != nil || out.AccessToken == "" {
		return nil, fmt.Errorf("%w: malformed refresh response", errRefreshRejected)
	}

	expiry := TokenExpiry(out.AccessToken)
	if expiry.IsZero() && out.ExpiresIn > 0 {
		expiry = c.now().Add(time.Duration(out.ExpiresIn) * time.Second)
	}
	return &oauth2.Token{
		AccessToken:  out.AccessToken,
		RefreshToken: out.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       expiry,
	}, nil
}

func (c *Client) retry(ctx context.Context, req Request, token string) (*Response, error) {
	resp, err := c.send(ctx, req, token)
	if err != nil {
		return nil, err
	}
	return c.result(req, resp)
}

func (c *Client) expire(ctx context.Context) {
	if err := c.sessions.Clear(ctx); err != nil {
		slog.Error("failed to clear session", "error", err)
	}
	if c.hooks.OnSessionExpired != nil {
		c.hooks.OnSessionExpired(ctx)
	}
}

func (c *Client) expired(req Request, original error) error {
	return &APIError{
		Kind:       ErrSessionExpired,
		StatusCode: http.StatusUnauthorized,
		Method:     req.Method,
		Path:       req.Path,
		Cause:      original,
	}
}

func (c *Client) accessToken(ctx context.Context) (string, error) {
	s, err := c.sessions.Current(ctx)
	if errors.Is(err, session.ErrNoSession) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load session: %w", err)
	}
	return s.Token.AccessToken, nil
}

func (c *Client) send(ctx context.Context, req Request, token string) (*Response, error) {
	timeout := req.Timeout
	if timeout == 0 {
		timeout = c.timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	u := c.baseURL.JoinPath(req.Path)
	if len(req.Query) > 0 {
		u.RawQuery = req.Query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if req.ContentType != "" {
		httpReq.Header.Set("Content-Type", req.ContentType)
	}
	httpReq.Header.Set("Accept", "application/json")
	if token != "" {
		(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}).SetAuthHeader(httpReq)
	}

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, &APIError{Kind: ErrNetwork, Method: req.Method, Path: req.Path, Cause: err}
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodyBytes))
	if err != nil {
		return nil, &APIError{Kind: ErrNetwork, StatusCode: httpResp.StatusCode, Method: req.Method, Path: req.Path, Cause: err}
	}
	return &Response{StatusCode: httpResp.StatusCode, Header: httpResp.Header, Body: data}, nil
}

func (c *Client) result(req Request, resp *Response) (*Response, error) {
	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		return resp, nil
	}
	return nil, c.failure(req, resp)
}

func (c *Client) failure(req Request, resp *Response) *APIError {
	return &APIError{
		Kind:       classify(resp.StatusCode),
		StatusCode: resp.StatusCode,
		Method:     req.Method,
		Path:       req.Path,
		Body:       resp.Body,
	}
}

// DecodeData decodes body into out, unwrapping a {"data": ...} envelope when present.
func DecodeData(body []byte, out any) error {
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil {
		if d := bytes.TrimSpace(envelope.Data); len(d) > 0 && !bytes.Equal(d, []byte("null")) {
			return json.Unmarshal(d, out)
		}
	}
	return json.Unmarshal(body, out)
}

// TokenExpiry reads the exp claim of a JWT without verifying it. Opaque tokens
// and tokens without exp yield the zero time.
func TokenExpiry(token string) time.Time {
	parsed, err := jwt.ParseString(token, jwt.WithVerify(false), jwt.WithValidate(false))
	if err != nil {
		return time.Time{}
	}
	return parsed.Expiration()
}
