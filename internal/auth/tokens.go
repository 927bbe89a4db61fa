package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/Spok95/school-backend/internal/models"
)

type TokenType string

const (
	AccessToken  TokenType = "access"
	RefreshToken TokenType = "refresh"
)

var (
	ErrTokenExpired        = errors.New("token expired")
	ErrTokenMalformed      = errors.New("token malformed")
	ErrTokenIssuerAudience = errors.New("token issuer or audience mismatch")
)

// Identity — то, что кладётся в оба токена.
type Identity struct {
	UserID    int64
	Email     string
	Role      models.Role
	SessionID string
}

type Claims struct {
	UserID    int64       `json:"userId"`
	Email     string      `json:"email"`
	Role      models.Role `json:"role"`
	SessionID string      `json:"sessionId"`
	TokenType TokenType   `json:"token_type"`
	jwt.RegisteredClaims
}

type TokenConfig struct {
	AccessSecret  string
	RefreshSecret string
	Issuer        string
	Audience      string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

// Tokens выпускает и проверяет HS256-токены; access и refresh подписаны разными секретами.
type Tokens struct {
	cfg TokenConfig
	now func() time.Time
}

func NewTokens(cfg TokenConfig) (*Tokens, error) {
	if cfg.AccessSecret == "" || cfg.RefreshSecret == "" {
		return nil, errors.New("token secrets must be set")
	}
	if cfg.AccessSecret == cfg.RefreshSecret {
		return nil, errors.New("access and refresh secrets must differ")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("token TTLs must be positive")
	}
	return &Tokens{cfg: cfg, now: time.Now}, nil
}

// WithClock подменяет часы (для тестов).
func (t *Tokens) WithClock(now func() time.Time) *Tokens {
	cp := *t
	cp.now = now
	return &cp
}

func (t *Tokens) AccessTTLSeconds() int64 { return int64(t.cfg.AccessTTL / time.Second) }

func (t *Tokens) IssueAccess(id Identity) (string, error) {
	return t.issue(id, AccessToken, t.cfg.AccessSecret, t.cfg.AccessTTL)
}

func (t *Tokens) IssueRefresh(id Identity) (string, error) {
	return t.issue(id, RefreshToken, t.cfg.RefreshSecret, t.cfg.RefreshTTL)
}

func (t *Tokens) issue(id Identity, typ TokenType, secret string, ttl time.Duration) (string, error) {
	now := t.now()
	claims := Claims{
		UserID:    id.UserID,
		Email:     id.Email,
		Role:      id.Role,
		SessionID: id.SessionID,
		TokenType: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   strconv.FormatInt(id.UserID, 10),
			Issuer:    t.cfg.Issuer,
			Audience:  jwt.ClaimStrings{t.cfg.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", typ, err)
	}
	return signed, nil
}

func (t *Tokens) VerifyAccess(raw string) (*Claims, error) {
	return t.verify(raw, AccessToken, t.cfg.AccessSecret)
}

func (t *Tokens) VerifyRefresh(raw string) (*Claims, error) {
	return t.verify(raw, RefreshToken, t.cfg.RefreshSecret)
}

// verify сначала проверяет подпись, потом срок и iss/aud:
// чужой просроченный токен считается битым, а не просроченным.
func (t *Tokens) verify(raw string, want TokenType, secret string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithoutClaimsValidation())
	if err != nil {
		return nil, ErrTokenMalformed
	}

	v := jwt.NewValidator(
		jwt.WithIssuer(t.cfg.Issuer),
		jwt.WithAudience(t.cfg.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err := v.Validate(claims); err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenInvalidIssuer), errors.Is(err, jwt.ErrTokenInvalidAudience):
			return nil, ErrTokenIssuerAudience
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrTokenExpired
		default:
			return nil, ErrTokenMalformed
		}
	}
	if claims.TokenType != want || claims.UserID == 0 || claims.SessionID == "" {
		return nil, ErrTokenMalformed
	}
	return claims, nil
}
