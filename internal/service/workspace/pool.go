package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cmlabs-hris/hris-selfservice-go/internal/domain/auth"
	"github.com/cmlabs-hris/hris-selfservice-go/internal/domain/request"
	domain "github.com/cmlabs-hris/hris-selfservice-go/internal/domain/session"
	"github.com/cmlabs-hris/hris-selfservice-go/internal/pkg/apiclient"
	"github.com/cmlabs-hris/hris-selfservice-go/internal/pkg/sse"
	"github.com/cmlabs-hris/hris-selfservice-go/internal/pkg/validator"
	"github.com/cmlabs-hris/hris-selfservice-go/internal/service/approval"
	authsvc "github.com/cmlabs-hris/hris-selfservice-go/internal/service/auth"
	"github.com/cmlabs-hris/hris-selfservice-go/internal/service/hrrequest"
	"github.com/cmlabs-hris/hris-selfservice-go/internal/service/session"
	"github.com/google/uuid"
)

var ErrInvalidSessionID = errors.New("invalid gateway session id")

// Workspace bundles everything one gateway session needs to talk to the upstream.
type Workspace struct {
	ID       string
	Sessions *session.Manager
	Client   *apiclient.Client
	Auth     auth.AuthService
	Requests request.RequestService

	mu       sync.Mutex
	lastUsed time.Time
	startup  sync.Once
	startErr error
}

func (w *Workspace) touch(now time.Time) {
	w.mu.Lock()
	w.lastUsed = now
	w.mu.Unlock()
}

func (w *Workspace) idleSince() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastUsed
}

type Config struct {
	UpstreamURL   string
	Timeout       time.Duration
	HTTPClient    *http.Client
	RefreshLeeway time.Duration
	IdleTimeout   time.Duration
}

// Pool keeps the open workspaces keyed by gateway session id.
type Pool struct {
	cfg      Config
	stores   domain.StoreFactory
	sealer   session.Sealer
	resolver *approval.Resolver
	hub      *sse.Hub

	mu         sync.Mutex
	workspaces map[string]*Workspace
	now        func() time.Time
}

func NewPool(cfg Config, stores domain.StoreFactory, sealer session.Sealer, resolver *approval.Resolver, hub *sse.Hub) *Pool {
	if resolver == nil {
		resolver = approval.NewResolver(nil)
	}
	if hub == nil {
		hub = sse.NewHub()
	}
	return &Pool{
		cfg:        cfg,
		stores:     stores,
		sealer:     sealer,
		resolver:   resolver,
		hub:        hub,
		workspaces: make(map[string]*Workspace),
		now:        time.Now,
	}
}

// Create opens a workspace under a fresh session id.
func (p *Pool) Create(ctx context.Context) (*Workspace, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session id: %w", err)
	}
	return p.Open(ctx, id.String())
}

// Open returns the workspace for sid, building it on first use. A newly built
// workspace runs the startup expiry check once before it is handed out.
func (p *Pool) Open(ctx context.Context, sid string) (*Workspace, error) {
	if !validator.IsValidUUID(sid) {
		return nil, ErrInvalidSessionID
	}

	p.mu.Lock()
	ws, ok := p.workspaces[sid]
	if !ok {
		var err error
		ws, err = p.build(sid)
		if err != nil {
			p.mu.Unlock()
			return nil, err
		}
		p.workspaces[sid] = ws
	}
	p.mu.Unlock()

	ws.touch(p.now())
	ws.startup.Do(func() {
		ws.startErr = ws.Auth.Startup(ctx)
	})
	if ws.startErr != nil {
		p.evict(ws)
		return nil, ws.startErr
	}
	return ws, nil
}

// Close destroys the session behind sid and forgets the workspace.
func (p *Pool) Close(ctx context.Context, sid string) error {
	ws, err := p.Open(ctx, sid)
	if err != nil {
		return err
	}
	if err := ws.Auth.Logout(ctx); err != nil {
		return fmt.Errorf("failed to clear session %s: %w", sid, err)
	}

	p.evict(ws)
	return nil
}

// Sweep refreshes sessions about to expire and evicts idle workspaces. Evicted
// sessions stay in the store and are rebuilt by the next Open.
func (p *Pool) Sweep(ctx context.Context) error {
	p.mu.Lock()
	open := make([]*Workspace, 0, len(p.workspaces))
	for _, ws := range p.workspaces {
		open = append(open, ws)
	}
	p.mu.Unlock()

	var errs []error
	refreshed, evicted := 0, 0
	now := p.now()

	for _, ws := range open {
		ok, err := ws.Client.RefreshIfExpiring(ctx, p.cfg.RefreshLeeway)
		switch {
		case errors.Is(err, apiclient.ErrSessionExpired):
			p.evict(ws)
			evicted++
			continue
		case err != nil:
			errs = append(errs, fmt.Errorf("session %s: %w", ws.ID, err))
		case ok:
			refreshed++
		}

		if p.cfg.IdleTimeout > 0 && now.Sub(ws.idleSince()) > p.cfg.IdleTimeout {
			p.evict(ws)
			evicted++
		}
	}

	if refreshed > 0 || evicted > 0 {
		slog.Info("session sweep finished", "refreshed", refreshed, "evicted", evicted, "open", p.Len())
	}
	return errors.Join(errs...)
}

// Len returns the number of open workspaces.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workspaces)
}

func (p *Pool) Hub() *sse.Hub {
	return p.hub
}

// evict forgets ws unless its id already maps to a newer workspace.
func (p *Pool) evict(ws *Workspace) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.workspaces[ws.ID] == ws {
		delete(p.workspaces, ws.ID)
	}
}

func (p *Pool) build(sid string) (*Workspace, error) {
	manager := session.NewManager(p.stores(sid), p.sealer)

	client, err := apiclient.New(apiclient.Config{
		BaseURL:    p.cfg.UpstreamURL,
		Timeout:    p.cfg.Timeout,
		HTTPClient: p.cfg.HTTPClient,
		Hooks: apiclient.Hooks{
			OnSessionExpired: func(ctx context.Context) {
				p.hub.Publish(sid, sse.EventSessionExpired, nil)
			},
			OnRefreshed: func(ctx context.Context, expiry time.Time) {
				p.hub.Publish(sid, sse.EventSessionRefreshed, map[string]int64{"expires_at": expiry.Unix()})
			},
		},
	}, manager)
	if err != nil {
		return nil, err
	}

	return &Workspace{
		ID:       sid,
		Sessions: manager,
		Client:   client,
		Auth:     authsvc.NewAuthService(client, manager),
		Requests: hrrequest.NewRequestService(client, manager, p.resolver),
	}, nil
}
