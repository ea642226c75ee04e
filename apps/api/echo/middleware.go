package echoapi

import (
	"github.com/labstack/echo/v4"
	"github.com/samber/lo"

	"github.com/guni/lms/core"
	"github.com/guni/lms/core/user"
)

// roleMiddleware lets through callers holding one of roles. It must run after authMiddleware.
func roleMiddleware(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			caller, err := mustIdentity(ctx)
			if err != nil {
				return err
			}
			if lo.Contains(roles, caller.Role) {
				return next(ctx)
			}
			return core.ErrPermissionDenied
		}
	}
}

func adminMiddleware() echo.MiddlewareFunc {
	return roleMiddleware(user.RoleAdmin)
}
