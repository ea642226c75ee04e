package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/guni/lms/core/dashboard"
)

func registerDashboardAPI(g *echo.Group, authed echo.MiddlewareFunc, deps ServerDeps) {
	svc := deps.DashboardSvc
	g.GET("/dashboard", func(ctx echo.Context) error { return summary(ctx, svc) }, authed)
}

func summary(ctx echo.Context, svc *dashboard.Service) error {
	caller, err := mustIdentity(ctx)
	if err != nil {
		return err
	}
	sum, err := svc.Summary(ctx.Request().Context(), caller)
	if err != nil {
		return errors.Wrap(err, "computing dashboard")
	}
	return ctx.JSON(http.StatusOK, sum)
}
