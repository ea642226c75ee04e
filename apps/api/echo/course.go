package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/guni/lms/core/assignment"
	"github.com/guni/lms/core/course"
	"github.com/guni/lms/core/user"
	"github.com/guni/lms/services/metrics"
)

type courseApi struct {
	svc           course.Service
	assignmentSvc assignment.Service
	metrics       *metrics.Collector
	validate      *validator.Validate
}

func registerCourseAPI(g *echo.Group, authed, optional echo.MiddlewareFunc, deps ServerDeps) {
	api := courseApi{
		svc:           deps.CourseSvc,
		assignmentSvc: deps.AssignmentSvc,
		metrics:       deps.Metrics,
		validate:      deps.Validate,
	}
	staff := roleMiddleware(user.RoleFaculty, user.RoleAdmin)

	cg := g.Group("/courses")

	// public endpoints
	cg.GET("", api.query)
	cg.GET("/:id", api.retrieve, optional)

	// authed endpoints
	cg.POST("", api.create, authed, staff)
	cg.GET("/my", api.myCourses, authed)
	cg.POST("/enroll", api.enroll, authed, roleMiddleware(user.RoleStudent))
	cg.PUT("/:id", api.update, authed, staff)
	cg.DELETE("/:id", api.deactivate, authed, staff)
	cg.POST("/:id/materials", api.addMaterial, authed, staff)
}

type (
	CourseDetailResponse struct {
		course.Detail
		Assignments []assignment.Assignment `json:"assignments"`
	}

	EnrollResponse struct {
		Message string        `json:"message"`
		Course  course.Course `json:"course"`
	}
)

// Handlers

func (api *courseApi) query(ctx echo.Context) error {
	filter := new(course.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return errors.Wrap(err, "binding to course.QueryFilter")
	}
	ordering := new(Ordering)
	ordering.Bind(ctx, course.OrderingFields...)

	courses, err := api.svc.Query(ctx.Request().Context(), filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying courses")
	}
	if courses == nil {
		courses = []course.Course{}
	}
	return ctx.JSON(http.StatusOK, courses)
}

func (api *courseApi) retrieve(ctx echo.Context) error {
	caller, _ := contextIdentity(ctx)
	c := ctx.Request().Context()

	detail, err := api.svc.Detail(c, caller, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "retrieving course")
	}
	assignments, err := api.assignmentSvc.QueryByCourse(c, caller, detail.Course)
	if err != nil {
		return errors.Wrap(err, "querying course assignments")
	}
	if assignments == nil {
		assignments = []assignment.Assignment{}
	}
	return ctx.JSON(http.StatusOK, CourseDetailResponse{Detail: detail, Assignments: assignments})
}

func (api *courseApi) create(ctx echo.Context) error {
	caller, err := mustIdentity(ctx)
	if err != nil {
		return err
	}

	var data course.NewCourse
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewCourse")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	crs, err := api.svc.Create(ctx.Request().Context(), caller, data)
	if err != nil {
		return errors.Wrap(err, "creating course")
	}
	return ctx.JSON(http.StatusCreated, crs)
}

func (api *courseApi) myCourses(ctx echo.Context) error {
	caller, err := mustIdentity(ctx)
	if err != nil {
		return err
	}
	courses, err := api.svc.MyCourses(ctx.Request().Context(), caller)
	if err != nil {
		return errors.Wrap(err, "querying my courses")
	}
	if courses == nil {
		courses = []course.Course{}
	}
	return ctx.JSON(http.StatusOK, courses)
}

func (api *courseApi) enroll(ctx echo.Context) error {
	caller, err := mustIdentity(ctx)
	if err != nil {
		return err
	}
	crs, err := api.svc.Enroll(ctx.Request().Context(), caller, ctx.QueryParam("id"))
	if err != nil {
		return errors.Wrap(err, "enrolling")
	}
	api.metrics.Event(metrics.EventEnrolled)
	return ctx.JSON(http.StatusOK, EnrollResponse{Message: "Enrolled successfully", Course: crs})
}

func (api *courseApi) update(ctx echo.Context) error {
	caller, err := mustIdentity(ctx)
	if err != nil {
		return err
	}

	var data course.UpdateCourse
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateCourse")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	crs, err := api.svc.Update(ctx.Request().Context(), caller, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "updating course")
	}
	return ctx.JSON(http.StatusOK, crs)
}

func (api *courseApi) deactivate(ctx echo.Context) error {
	caller, err := mustIdentity(ctx)
	if err != nil {
		return err
	}
	if _, err = api.svc.Deactivate(ctx.Request().Context(), caller, ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deactivating course")
	}
	return ctx.JSON(http.StatusOK, MessageResponse{Message: "Deleted"})
}

func (api *courseApi) addMaterial(ctx echo.Context) error {
	caller, err := mustIdentity(ctx)
	if err != nil {
		return err
	}

	var data course.Material
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to Material")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	crs, err := api.svc.AddMaterial(ctx.Request().Context(), caller, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "adding material")
	}
	return ctx.JSON(http.StatusCreated, crs)
}
