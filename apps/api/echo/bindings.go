package echoapi

import (
	"github.com/labstack/echo/v4"

	"github.com/guni/lms/core"
	"github.com/guni/lms/core/user"
)

var orderingParam = "ordering"

type Ordering struct {
	Orderings []core.DBOrdering
}

// Bind reads "?ordering=-created_at,title", ignoring fields that are not in allowed.
func (ord *Ordering) Bind(ctx echo.Context, allowed ...string) {
	ord.Orderings = core.ParseOrdering(ctx.QueryParam(orderingParam), allowed...)
}

type (
	TokenResponse struct {
		Token string `json:"token"`
	}

	AuthResponse struct {
		Token string      `json:"token"`
		User  user.User `json:"user"`
	}

	MessageResponse struct {
		Message string `json:"message"`
	}
)
