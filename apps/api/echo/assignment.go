package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/guni/lms/core/assignment"
	"github.com/guni/lms/core/user"
	"github.com/guni/lms/services/metrics"
)

type assignmentApi struct {
	svc      assignment.Service
	metrics  *metrics.Collector
	validate *validator.Validate
}

func registerAssignmentAPI(g *echo.Group, authed echo.MiddlewareFunc, deps ServerDeps) {
	api := assignmentApi{
		svc:      deps.AssignmentSvc,
		metrics:  deps.Metrics,
		validate: deps.Validate,
	}
	staff := roleMiddleware(user.RoleFaculty, user.RoleAdmin)

	ag := g.Group("/assignments", authed)
	ag.GET("", api.query)
	ag.POST("", api.create, staff)
	ag.GET("/:id", api.retrieve)
	ag.POST("/:id", api.submit, roleMiddleware(user.RoleStudent))
	ag.PUT("/:id", api.grade, staff)
}

type SubmissionResponse struct {
	Message    string                `json:"message"`
	Submission assignment.Submission `json:"submission"`
}

// Handlers

func (api *assignmentApi) query(ctx echo.Context) error {
	caller, err := mustIdentity(ctx)
	if err != nil {
		return err
	}
	assignments, err := api.svc.Query(ctx.Request().Context(), caller)
	if err != nil {
		return errors.Wrap(err, "querying assignments")
	}
	if assignments == nil {
		assignments = []assignment.Assignment{}
	}
	return ctx.JSON(http.StatusOK, assignments)
}

func (api *assignmentApi) create(ctx echo.Context) error {
	caller, err := mustIdentity(ctx)
	if err != nil {
		return err
	}

	var data assignment.NewAssignment
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewAssignment")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	a, err := api.svc.Create(ctx.Request().Context(), caller, data)
	if err != nil {
		return errors.Wrap(err, "creating assignment")
	}
	return ctx.JSON(http.StatusCreated, a)
}

func (api *assignmentApi) retrieve(ctx echo.Context) error {
	caller, err := mustIdentity(ctx)
	if err != nil {
		return err
	}
	detail, err := api.svc.Detail(ctx.Request().Context(), caller, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "retrieving assignment")
	}
	if detail.Submissions == nil {
		detail.Submissions = []assignment.Submission{}
	}
	return ctx.JSON(http.StatusOK, detail)
}

func (api *assignmentApi) submit(ctx echo.Context) error {
	caller, err := mustIdentity(ctx)
	if err != nil {
		return err
	}

	var data assignment.NewSubmission
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewSubmission")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	sub, err := api.svc.Submit(ctx.Request().Context(), caller, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "submitting assignment")
	}

	msg := "Submitted successfully!"
	api.metrics.Event(metrics.EventSubmitted)
	if sub.IsLate {
		msg = "Submitted (late)"
		api.metrics.Event(metrics.EventLate)
	}
	return ctx.JSON(http.StatusCreated, SubmissionResponse{Message: msg, Submission: sub})
}

func (api *assignmentApi) grade(ctx echo.Context) error {
	caller, err := mustIdentity(ctx)
	if err != nil {
		return err
	}

	var data assignment.GradeSubmission
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to GradeSubmission")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	sub, err := api.svc.Grade(ctx.Request().Context(), caller, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "grading submission")
	}
	api.metrics.Event(metrics.EventGraded)
	return ctx.JSON(http.StatusOK, SubmissionResponse{Message: "Graded successfully", Submission: sub})
}
