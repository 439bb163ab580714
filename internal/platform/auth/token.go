package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/ehr/clinic/internal/platform/apperr"
)

// DefaultTokenTTL is the lifetime of an issued session token.
const DefaultTokenTTL = 60 * time.Minute

const signingAlgorithm = "HS256"

var (
	ErrTokenExpired          = fmt.Errorf("%w: token has expired", apperr.ErrTokenExpired)
	ErrTokenInvalidSignature = fmt.Errorf("%w: invalid token", apperr.ErrUnauthorized)
	ErrTokenMalformed        = fmt.Errorf("%w: malformed token", apperr.ErrUnauthorized)
)

// Claims is the session token payload. Subject carries the user id.
type Claims struct {
	jwt.RegisteredClaims
	Email  string `json:"email"`
	Role   Role   `json:"role"`
	Active bool   `json:"is_active"`
}

// Identity is the verified caller bound into the request context.
type Identity struct {
	UserID uuid.UUID
	Email  string
	Role   Role
	Active bool
}

// Identity converts validated claims into an Identity.
func (c *Claims) Identity() (Identity, error) {
	uid, err := uuid.Parse(c.Subject)
	if err != nil {
		return Identity{}, ErrTokenMalformed
	}
	if !c.Role.Valid() {
		return Identity{}, ErrTokenMalformed
	}
	return Identity{UserID: uid, Email: c.Email, Role: c.Role, Active: c.Active}, nil
}

// TokenService issues and validates HS256 session tokens. It holds no state
// besides the signing secret, so a single instance is shared by all requests.
type TokenService struct {
	secret []byte
	ttl    time.Duration
}

func NewTokenService(secret []byte, ttl time.Duration) (*TokenService, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("token signing secret is required")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenService{secret: secret, ttl: ttl}, nil
}

// TTL returns the configured token lifetime.
func (s *TokenService) TTL() time.Duration {
	return s.ttl
}

// Issue signs a token for id that expires at now + TTL.
func (s *TokenService) Issue(id Identity, now time.Time) (string, time.Time, error) {
	expiresAt := now.Add(s.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Email:  id.Email,
		Role:   id.Role,
		Active: id.Active,
	}
	token, err := jwt.NewWithClaims(jwt.GetSigningMethod(signingAlgorithm), claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return token, expiresAt, nil
}

// Validate verifies the signature of token and checks now < exp. Expiry is
// reported as ErrTokenExpired, distinct from signature and format failures.
func (s *TokenService) Validate(token string, now time.Time) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{signingAlgorithm}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)

	claims := &Claims{}
	_, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return nil, ErrTokenInvalidSignature
	default:
		return nil, ErrTokenMalformed
	}

	if _, err := claims.Identity(); err != nil {
		return nil, err
	}
	return claims, nil
}
