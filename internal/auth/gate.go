package auth

import (
	"net/http"

	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"

	apperrors "taskflow/internal/errors"
	"taskflow/internal/model"
	"taskflow/internal/repository"
)

const (
	// ContextKey is the echo context key holding the resolved *model.User.
	ContextKey = "user"
	// CookieName is the access token cookie.
	CookieName = "access_token"
)

// Bearer header is preferred over the cookie, in that order.
const tokenLookup = "header:Authorization:Bearer ,cookie:" + CookieName

// Gate resolves a request's caller identity from its token and enforces
// role membership. Routes declare their policy in the router's route table.
type Gate struct {
	tokens *TokenService
	users  repository.UserRepository
}

// NewGate creates an auth gate backed by the token service and user store.
func NewGate(tokens *TokenService, users repository.UserRepository) *Gate {
	return &Gate{tokens: tokens, users: users}
}

// resolve verifies the token and loads the user behind it. A valid token
// whose user has since been deleted fails resolution.
func (g *Gate) resolve(c echo.Context, tokenString string) (interface{}, error) {
	claims, err := g.tokens.Validate(tokenString)
	if err != nil {
		return nil, err
	}
	user, err := g.users.FindByID(c.Request().Context(), claims.UserID)
	if err != nil {
		// Valid token for a vanished user: the gate treats it like any
		// other unresolvable identity.
		return nil, apperrors.ErrUserNotFound
	}
	return user, nil
}

// Required returns middleware that rejects requests without a resolvable
// identity with 401.
func (g *Gate) Required() echo.MiddlewareFunc {
	return echojwt.WithConfig(echojwt.Config{
		ContextKey:     ContextKey,
		TokenLookup:    tokenLookup,
		ParseTokenFunc: g.resolve,
		ErrorHandler: func(c echo.Context, err error) error {
			he := apperrors.NewHTTPError(http.StatusUnauthorized, "unauthorized", "UNAUTHORIZED")
			return echo.NewHTTPError(he.StatusCode, he.ToErrorResponse())
		},
	})
}

// Optional returns middleware that resolves an identity when a token is
// present but lets anonymous requests through. Used by registration, whose
// bootstrap path has no caller.
func (g *Gate) Optional() echo.MiddlewareFunc {
	return echojwt.WithConfig(echojwt.Config{
		ContextKey:             ContextKey,
		TokenLookup:            tokenLookup,
		ParseTokenFunc:         g.resolve,
		ContinueOnIgnoredError: true,
		ErrorHandler: func(c echo.Context, err error) error {
			return nil
		},
	})
}

// RequireRoles returns middleware enforcing that the resolved identity holds
// one of the given roles: 401 without an identity, 403 on role mismatch.
func (g *Gate) RequireRoles(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			user := CurrentUser(c)
			if user == nil {
				he := apperrors.MapErrorToHTTP(apperrors.ErrUnauthorized)
				return echo.NewHTTPError(he.StatusCode, he.ToErrorResponse())
			}
			for _, role := range roles {
				if user.Role == role {
					return next(c)
				}
			}
			he := apperrors.MapErrorToHTTP(apperrors.ErrForbidden)
			return echo.NewHTTPError(he.StatusCode, he.ToErrorResponse())
		}
	}
}

// CurrentUser returns the identity resolved by the gate, or nil.
func CurrentUser(c echo.Context) *model.User {
	user, _ := c.Get(ContextKey).(*model.User)
	return user
}

// SetTokenCookie attaches the access token as an http-only cookie alongside
// the response body copy. Non-secure and lax same-site: dev-grade transport.
func SetTokenCookie(c echo.Context, token string) {
	c.SetCookie(&http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   false,
		MaxAge:   int(AccessTokenExpiry.Seconds()),
	})
}
