package jwt

import (
	"errors"
	"sync"
	"time"

	"github.com/go-chi/jwtauth/v5"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

const TokenTypeSession = "session"

var ErrInvalidClaims = errors.New("token claims are invalid")

// Claims identify a gateway session and the upstream user behind it.
type Claims struct {
	SessionID string
	UserID    string
	Role      string
	ExpiresAt int64
}

type Service interface {
	GenerateSessionToken(sessionID, userID, role string) (token string, expiresAt int64, err error)
	ClaimsFromToken(token jwt.Token) (Claims, error)
	JWTAuth() *jwtauth.JWTAuth
	RevokeToken(token string, expiresAt int64)
	IsTokenRevoked(token string) bool
	// PurgeRevoked drops revocations whose token has expired anyway.
	PurgeRevoked(now time.Time) int
}

type JWTService struct {
	accessTokenExpirationTime string
	tokenAuth                 *jwtauth.JWTAuth
	revokedTokens             map[string]int64
	mu                        sync.RWMutex
}

func (j *JWTService) JWTAuth() *jwtauth.JWTAuth {
	return j.tokenAuth
}

func NewJWTService(secretKey string, accessTokenExpirationTime string) Service {
	return &JWTService{
		accessTokenExpirationTime: accessTokenExpirationTime,
		tokenAuth:                 jwtauth.New("HS256", []byte(secretKey), nil, jwt.WithAcceptableSkew(30*time.Second)),
		revokedTokens:             make(map[string]int64),
	}
}

func (j *JWTService) GenerateSessionToken(sessionID, userID, role string) (token string, expiresAt int64, err error) {
	expDuration, err := time.ParseDuration(j.accessTokenExpirationTime)
	if err != nil {
		return "", 0, err
	}
	expiresAt = time.Now().Add(expDuration).Unix()

	claims := map[string]interface{}{
		"sid":     sessionID,
		"user_id": userID,
		"role":    role,
		"type":    TokenTypeSession,
		"exp":     expiresAt,
	}

	_, tokenString, err := j.tokenAuth.Encode(claims)
	return tokenString, expiresAt, err
}

func (j *JWTService) ClaimsFromToken(token jwt.Token) (Claims, error) {
	if token == nil {
		return Claims{}, ErrInvalidClaims
	}
	claims := token.PrivateClaims()

	if t, _ := claims["type"].(string); t != TokenTypeSession {
		return Claims{}, ErrInvalidClaims
	}
	sid, _ := claims["sid"].(string)
	if sid == "" {
		return Claims{}, ErrInvalidClaims
	}
	userID, _ := claims["user_id"].(string)
	role, _ := claims["role"].(string)

	return Claims{
		SessionID: sid,
		UserID:    userID,
		Role:      role,
		ExpiresAt: token.Expiration().Unix(),
	}, nil
}

func (j *JWTService) RevokeToken(token string, expiresAt int64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.revokedTokens[token] = expiresAt
}

func (j *JWTService) IsTokenRevoked(token string) bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	_, revoked := j.revokedTokens[token]
	return revoked
}

func (j *JWTService) PurgeRevoked(now time.Time) int {
	j.mu.Lock()
	defer j.mu.Unlock()

	purged := 0
	for token, exp := range j.revokedTokens {
		if exp <= now.Unix() {
			delete(j.revokedTokens, token)
			purged++
		}
	}
	return purged
}
