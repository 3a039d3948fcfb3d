package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	domain "github.com/cmlabs-hris/hris-selfservice-go/internal/domain/session"
	"golang.org/x/oauth2"
)

// Manager owns the session. It is the only component that writes session keys.
type Manager struct {
	store  domain.Store
	sealer Sealer
	mu     sync.Mutex
}

func NewManager(store domain.Store, sealer Sealer) *Manager {
	if sealer == nil {
		sealer = NewPlainSealer()
	}
	return &Manager{store: store, sealer: sealer}
}

// Current loads the stored session. It returns domain.ErrNoSession when no token is stored.
func (m *Manager) Current(ctx context.Context) (domain.Session, error) {
	var s domain.Session

	access, err := m.getSealed(ctx, domain.KeyAccessToken)
	if err != nil {
		return domain.Session{}, err
	}
	refresh, err := m.getSealed(ctx, domain.KeyRefreshToken)
	if err != nil {
		return domain.Session{}, err
	}
	if access == "" && refresh == "" {
		return domain.Session{}, domain.ErrNoSession
	}
	s.Token = oauth2.Token{
		AccessToken:  access,
		TokenType:    "Bearer",
		RefreshToken: refresh,
	}

	rawExpiry, found, err := m.store.Get(ctx, domain.KeyTokenExpiry)
	if err != nil {
		return domain.Session{}, fmt.Errorf("failed to read token expiry: %w", err)
	}
	if found && rawExpiry != "" {
		ms, err := strconv.ParseInt(rawExpiry, 10, 64)
		if err != nil {
			return domain.Session{}, fmt.Errorf("%w: token_expiry %q", domain.ErrCorruptSession, rawExpiry)
		}
		s.Token.Expiry = time.UnixMilli(ms)
	}

	rawUser, found, err := m.store.Get(ctx, domain.KeyUser)
	if err != nil {
		return domain.Session{}, fmt.Errorf("failed to read session user: %w", err)
	}
	if found && rawUser != "" {
		if err := json.Unmarshal([]byte(rawUser), &s.User); err != nil {
			return domain.Session{}, fmt.Errorf("%w: user: %v", domain.ErrCorruptSession, err)
		}
	}

	return s, nil
}

// Set replaces the whole session, as after a login.
func (m *Manager) Set(ctx context.Context, s domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	values := make(map[string]string, len(domain.AllKeys()))
	var absent []string

	for key, plain := range map[string]string{
		domain.KeyAccessToken:  s.Token.AccessToken,
		domain.KeyRefreshToken: s.Token.RefreshToken,
	} {
		if plain == "" {
			absent = append(absent, key)
			continue
		}
		sealed, err := m.sealer.Seal(plain)
		if err != nil {
			return fmt.Errorf("failed to seal %s: %w", key, err)
		}
		values[key] = sealed
	}

	if s.Token.Expiry.IsZero() {
		absent = append(absent, domain.KeyTokenExpiry)
	} else {
		values[domain.KeyTokenExpiry] = strconv.FormatInt(s.Token.Expiry.UnixMilli(), 10)
	}

	userJSON, err := json.Marshal(s.User)
	if err != nil {
		return fmt.Errorf("failed to encode session user: %w", err)
	}
	values[domain.KeyUser] = string(userJSON)

	if err := m.store.SetMany(ctx, values, absent...); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// SetAccessToken records a refreshed access token. A non-empty refreshToken replaces the
// stored one (rotation); an empty one leaves it untouched.
func (m *Manager) SetAccessToken(ctx context.Context, accessToken string, expiry time.Time, refreshToken string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.setSealed(ctx, domain.KeyAccessToken, accessToken); err != nil {
		return err
	}
	if refreshToken != "" {
		if err := m.setSealed(ctx, domain.KeyRefreshToken, refreshToken); err != nil {
			return err
		}
	}
	return m.setExpiry(ctx, expiry)
}

// Clear destroys the session wholesale.
func (m *Manager) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}

func (m *Manager) setExpiry(ctx context.Context, expiry time.Time) error {
	if expiry.IsZero() {
		if err := m.store.Delete(ctx, domain.KeyTokenExpiry); err != nil {
			return fmt.Errorf("failed to delete token expiry: %w", err)
		}
		return nil
	}
	if err := m.store.Set(ctx, domain.KeyTokenExpiry, strconv.FormatInt(expiry.UnixMilli(), 10)); err != nil {
		return fmt.Errorf("failed to save token expiry: %w", err)
	}
	return nil
}

func (m *Manager) getSealed(ctx context.Context, key string) (string, error) {
	raw, found, err := m.store.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", key, err)
	}
	if !found {
		return "", nil
	}
	v, err := m.sealer.Open(raw)
	if err != nil {
		if errors.Is(err, domain.ErrCorruptSession) {
			return "", fmt.Errorf("%w: %s", domain.ErrCorruptSession, key)
		}
		return "", err
	}
	return v, nil
}

func (m *Manager) setSealed(ctx context.Context, key, value string) error {
	if value == "" {
		if err := m.store.Delete(ctx, key); err != nil {
			return fmt.Errorf("failed to delete %s: %w", key, err)
		}
		return nil
	}
	sealed, err := m.sealer.Seal(value)
	if err != nil {
		return fmt.Errorf("failed to seal %s: %w", key, err)
	}
	if err := m.store.Set(ctx, key, sealed); err != nil {
		return fmt.Errorf("failed to save %s: %w", key, err)
	}
	return nil
}
