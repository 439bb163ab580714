package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ehr/clinic/internal/platform/apperr"
)

type contextKey string

const identityKey contextKey = "identity"

var (
	errMissingHeader  = fmt.Errorf("%w: missing authorization header", apperr.ErrUnauthorized)
	errInvalidFormat  = fmt.Errorf("%w: invalid authorization format", apperr.ErrUnauthorized)
	errInactive       = fmt.Errorf("%w: account is inactive", apperr.ErrUnauthorized)
	errRoleNotAllowed = fmt.Errorf("%w: role not permitted for this route", apperr.ErrForbidden)
)

// TokenValidator validates a bearer token at a given instant.
type TokenValidator interface {
	Validate(token string, now time.Time) (*Claims, error)
}

// Policy is the per-route role table: route name -> permitted roles. A route
// mapped to an empty slice only requires authentication.
type Policy map[string][]Role

// Pipeline gates protected routes. Authentication always runs before role
// authorization inside one middleware, so a route cannot be registered with
// the stages inverted or with only the role check.
type Pipeline struct {
	tokens TokenValidator
	now    func() time.Time
}

func NewPipeline(tokens TokenValidator) *Pipeline {
	return &Pipeline{tokens: tokens, now: time.Now}
}

// WithClock replaces the clock used for expiry checks.
func (p *Pipeline) WithClock(now func() time.Time) *Pipeline {
	p.now = now
	return p
}

// Require authenticates the caller and then checks its role against roles.
// With no roles any authenticated caller passes.
func (p *Pipeline) Require(roles ...Role) echo.MiddlewareFunc {
	allowed := append([]Role(nil), roles...)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id, err := p.authenticate(c.Request())
			if err != nil {
				return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
			}
			if !permits(allowed, id.Role) {
				return echo.NewHTTPError(http.StatusForbidden, errRoleNotAllowed.Error())
			}

			c.Set("user_id", id.UserID.String())
			c.SetRequest(c.Request().WithContext(WithIdentity(c.Request().Context(), id)))
			return next(c)
		}
	}
}

// Route looks up route in policy and returns its guard. Unknown routes are
// denied for every caller.
func (p *Pipeline) Route(policy Policy, route string) echo.MiddlewareFunc {
	roles, ok := policy[route]
	if !ok {
		return func(echo.HandlerFunc) echo.HandlerFunc {
			return func(c echo.Context) error {
				return echo.NewHTTPError(http.StatusForbidden, "route has no access policy")
			}
		}
	}
	return p.Require(roles...)
}

func (p *Pipeline) authenticate(r *http.Request) (Identity, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return Identity{}, errMissingHeader
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
		return Identity{}, errInvalidFormat
	}

	claims, err := p.tokens.Validate(strings.TrimSpace(parts[1]), p.now())
	if err != nil {
		if !errors.Is(err, apperr.ErrTokenExpired) && !errors.Is(err, apperr.ErrUnauthorized) {
			err = ErrTokenMalformed
		}
		return Identity{}, err
	}
	id, err := claims.Identity()
	if err != nil {
		return Identity{}, err
	}
	if !id.Active {
		return Identity{}, errInactive
	}
	return id, nil
}

// WithIdentity binds id into ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext returns the identity bound by the pipeline.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

// CurrentIdentity returns the caller bound to c, or an Unauthorized error when
// the handler was reached without passing the pipeline.
func CurrentIdentity(c echo.Context) (Identity, error) {
	id, ok := IdentityFromContext(c.Request().Context())
	if !ok {
		return Identity{}, echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	return id, nil
}
