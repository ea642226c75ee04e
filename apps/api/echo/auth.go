package echoapi

import (
	"github.com/labstack/echo/v4"

	"github.com/guni/lms/core/session"
	"github.com/guni/lms/core/user"
)

const contextClaimsKey = "claims"

// authMiddleware resolves the bearer token into session claims.
// When required is false, a missing or bad token leaves the request anonymous.
func authMiddleware(gate *session.Gate, required bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			token := session.TokenFromHeader(ctx.Request().Header.Get(echo.HeaderAuthorization))
			if token == "" {
				if required {
					return session.ErrUnauthenticated
				}
				return next(ctx)
			}
			claims, err := gate.Parse(token)
			if err != nil {
				if required {
					return err
				}
				return next(ctx)
			}
			ctx.Set(contextClaimsKey, claims)
			return next(ctx)
		}
	}
}

func contextClaims(ctx echo.Context) (*session.Claims, error) {
	if claims, ok := ctx.Get(contextClaimsKey).(*session.Claims); ok {
		return claims, nil
	}
	return nil, session.ErrUnauthenticated
}

// contextIdentity returns the caller, or the zero Identity for anonymous requests.
func contextIdentity(ctx echo.Context) (user.Identity, bool) {
	claims, err := contextClaims(ctx)
	if err != nil {
		return user.Identity{}, false
	}
	return claims.Identity(), true
}

func mustIdentity(ctx echo.Context) (user.Identity, error) {
	if caller, ok := contextIdentity(ctx); ok {
		return caller, nil
	}
	return user.Identity{}, session.ErrUnauthenticated
}
