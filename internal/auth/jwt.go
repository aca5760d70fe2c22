package auth

import (
	"errors"
	"time"

	"voicedesk/internal/config"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingSubject = errors.New("auth: subject missing")
	ErrNotConfigured  = errors.New("auth: jwt secret not configured")
)

// Manager verifies access tokens issued by the identity store. Tokens are
// HS256 signed with the project's JWT secret.
type Manager struct {
	secret   []byte
	audience string
	leeway   time.Duration
}

func NewManager(cfg config.IdentityConfig) (*Manager, error) {
	if cfg.JWTSecret == "" {
		return nil, ErrNotConfigured
	}
	return &Manager{
		secret:   []byte(cfg.JWTSecret),
		audience: cfg.JWTAudience,
		leeway:   30 * time.Second,
	}, nil
}

/* ===================== VERIFY TOKEN ===================== */

func (m *Manager) Verify(tokenString string, now time.Time) (Claims, error) {
	var claims Claims

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if _, err := parser.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		return m.secret, nil
	}); err != nil {
		return Claims{}, err
	}

	opts := []jwt.ParserOption{
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithLeeway(m.leeway), // clock skew tolerance
		jwt.WithExpirationRequired(),
	}
	if m.audience != "" {
		opts = append(opts, jwt.WithAudience(m.audience))
	}
	if err := jwt.NewValidator(opts...).Validate(claims.RegisteredClaims); err != nil {
		return Claims{}, err
	}

	if claims.Subject == "" {
		return Claims{}, ErrMissingSubject
	}
	return claims, nil
}

/* ===================== SIGN TOKEN ===================== */

// Sign produces a token the identity store would issue. Used by local fakes of
// the identity store; production tokens always come from the store itself.
func (m *Manager) Sign(c Claims) (string, error) {
	if c.Audience == nil && m.audience != "" {
		c.Audience = jwt.ClaimStrings{m.audience}
	}
	if c.Role == "" {
		c.Role = "authenticated"
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return t.SignedString(m.secret)
}

// NewClaims builds claims for a user session valid for ttl from now.
func NewClaims(userID, email, sessionID string, now time.Time, ttl time.Duration) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Email:     email,
		SessionID: sessionID,
	}
}
