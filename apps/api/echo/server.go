package echoapi

import (
	"context"
	"net/http"
	"os"
	"syscall"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/kat-co/vala"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/pkg/errors"
	"github.com/rs/cors"

	"github.com/guni/lms/core"
	"github.com/guni/lms/core/assignment"
	"github.com/guni/lms/core/course"
	"github.com/guni/lms/core/dashboard"
	"github.com/guni/lms/core/session"
	"github.com/guni/lms/core/user"
	"github.com/guni/lms/services/metrics"
)

// ServerDeps are the collaborators the API is built from.
type ServerDeps struct {
	Conf          *core.Config
	Logger        core.Logger
	Validate      *validator.Validate
	Translator    ut.Translator
	Gate          *session.Gate
	Metrics       *metrics.Collector
	UserSvc       user.Service
	CourseSvc     course.Service
	AssignmentSvc assignment.Service
	DashboardSvc  *dashboard.Service

	DisableReqLogs bool
}

type Server struct {
	conf     *core.Config
	app      *echo.Echo
	server   *http.Server
	errors   chan error
	shutdown chan os.Signal
}

func NewServer(deps ServerDeps) *Server {
	vala.BeginValidation().Validate(
		vala.IsNotNil(deps.Conf, "Conf"),
		vala.IsNotNil(deps.Logger, "Logger"),
		vala.IsNotNil(deps.Validate, "Validate"),
		vala.IsNotNil(deps.Translator, "Translator"),
		vala.IsNotNil(deps.Gate, "Gate"),
		vala.IsNotNil(deps.Metrics, "Metrics"),
		vala.IsNotNil(deps.UserSvc, "UserSvc"),
		vala.IsNotNil(deps.CourseSvc, "CourseSvc"),
		vala.IsNotNil(deps.AssignmentSvc, "AssignmentSvc"),
		vala.IsNotNil(deps.DashboardSvc, "DashboardSvc"),
	).CheckAndPanic()

	s := &Server{
		conf:     deps.Conf,
		app:      echo.New(),
		errors:   make(chan error, 1),
		shutdown: make(chan os.Signal, 1),
	}
	s.setup(deps)
	return s
}

func (s *Server) setup(deps ServerDeps) {
	debug := s.conf.Debug

	s.app.HideBanner = true
	s.app.Pre(middleware.RemoveTrailingSlash())
	s.app.Use(deps.Metrics.Middleware())
	if !deps.DisableReqLogs {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(debug || s.conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}

	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(deps.Logger, deps.Translator, s.SignalShutdown)
	s.app.Debug = debug

	s.app.GET("/", s.home)

	g := s.app.Group("/api")
	authed := authMiddleware(deps.Gate, true)
	optional := authMiddleware(deps.Gate, false)

	registerAuthAPI(g, authed, deps)
	registerUserAPI(g, authed, deps)
	registerCourseAPI(g, authed, optional, deps)
	registerAssignmentAPI(g, authed, deps)
	registerDashboardAPI(g, authed, deps)

	s.server = &http.Server{
		Addr:         s.conf.Server.Address(),
		Handler:      s.handler(),
		ReadTimeout:  s.conf.Server.ReadTimeout,
		WriteTimeout: s.conf.Server.WriteTimeout,
	}
}

func (s *Server) handler() http.Handler {
	origins := s.conf.Server.CORSAllowedOrigins
	if len(origins) == 0 {
		return s.app
	}
	return cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders:   []string{echo.HeaderAuthorization, echo.HeaderContentType},
		AllowCredentials: true,
		Debug:            s.conf.Debug,
	}).Handler(s.app)
}

// Start listens in the background; a listening failure is sent on Errors.
func (s *Server) Start() {
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.errors <- errors.Wrap(err, "listening")
		}
	}()
}

func (s *Server) Errors() <-chan error { return s.errors }

func (s *Server) ShutdownSignal() chan os.Signal { return s.shutdown }

// SignalShutdown asks the owner of the server to stop it gracefully.
func (s *Server) SignalShutdown() {
	select {
	case s.shutdown <- syscall.SIGTERM:
	default:
	}
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) Close() error {
	return s.server.Close()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.server.Handler.ServeHTTP(w, r)
}

func (s *Server) home(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "Welcome to "+s.conf.AppName+" API!")
}
