// Package di wires the API dependencies in a dig container.
package di

import (
	"context"
	"fmt"
	"log"
	"os"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"go.uber.org/dig"

	echoapi "github.com/guni/lms/apps/api/echo"
	"github.com/guni/lms/core"
	"github.com/guni/lms/core/assignment"
	"github.com/guni/lms/core/course"
	"github.com/guni/lms/core/dashboard"
	"github.com/guni/lms/core/session"
	"github.com/guni/lms/core/user"
	emailsvc "github.com/guni/lms/services/email"
	logsvc "github.com/guni/lms/services/logger"
	"github.com/guni/lms/services/metrics"
	"github.com/guni/lms/storage/database"
	inmemdb "github.com/guni/lms/storage/database/inmem"
	mongodb "github.com/guni/lms/storage/database/mongo"
	sqlxrepos "github.com/guni/lms/storage/database/sqlx"
)

// Database engines
const (
	EngineMongo    = "mongodb"
	EnginePostgres = "postgres"
	EngineMemory   = "memory"
)

type DBLoggerParam struct {
	dig.In
	Logger core.Logger `name:"dbLogger"`
}

// Stores are the repositories of the configured engine plus a func releasing its connections.
type Stores struct {
	dig.Out
	Users       user.Repository
	Courses     course.Repository
	Assignments assignment.Repository
	Close       StoreCloser
}

type StoreCloser func(ctx context.Context) error

func newLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "API : ", log.LstdFlags)
	logger := logsvc.NewRollbarLogger(stdLogger, conf)
	logger.Enable(!conf.Debug && conf.RollbarToken != "")
	return logger
}

func newDBLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "DB : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	logger := logsvc.NewRollbarLogger(stdLogger, conf)
	logger.Enable(!conf.Debug && conf.RollbarToken != "")
	return logger
}

func newStores(conf *core.Config, loggerParam DBLoggerParam) Stores {
	logger := loggerParam.Logger

	switch conf.Database.Engine {
	case EngineMemory:
		logger.Info("using the in-memory store, data will not survive a restart")
		db := inmemdb.Open()
		return Stores{
			Users:       inmemdb.NewUserRepository(db),
			Courses:     inmemdb.NewCourseRepository(db),
			Assignments: inmemdb.NewAssignmentRepository(db),
			Close:       func(context.Context) error { return nil },
		}

	case EnginePostgres:
		setUp := func() (Stores, error) {
			if err := database.CreateIfNotExist(conf); err != nil {
				return Stores{}, err
			}
			db, err := database.Open(conf)
			if err != nil {
				return Stores{}, err
			}
			if err = database.Migrate(context.Background(), db, "up"); err != nil {
				_ = db.Close()
				return Stores{}, err
			}
			return Stores{
				Users:       sqlxrepos.NewUserRepository(db),
				Courses:     sqlxrepos.NewCourseRepository(db),
				Assignments: sqlxrepos.NewAssignmentRepository(db),
				Close:       func(context.Context) error { return db.Close() },
			}, nil
		}
		stores, err := setUp()
		if err != nil {
			logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
		}
		return stores

	default: // mongodb
		handle := mongodb.NewHandle(conf)
		db, err := handle.DB(context.Background())
		if err != nil {
			logger.Fatal(fmt.Sprintf("connecting to mongodb: %v", err), err)
		}
		return Stores{
			Users:       mongodb.NewUserRepository(db),
			Courses:     mongodb.NewCourseRepository(db),
			Assignments: mongodb.NewAssignmentRepository(db),
			Close:       handle.Close,
		}
	}
}

func newMetrics() *metrics.Collector {
	return metrics.New("lms")
}

func newServer(
	conf *core.Config,
	logger core.Logger,
	validate *validator.Validate,
	translator ut.Translator,
	gate *session.Gate,
	collector *metrics.Collector,
	usrSvc user.Service,
	courseSvc course.Service,
	assignmentSvc assignment.Service,
	dashboardSvc *dashboard.Service,
) *echoapi.Server {
	return echoapi.NewServer(echoapi.ServerDeps{
		Conf:          conf,
		Logger:        logger,
		Validate:      validate,
		Translator:    translator,
		Gate:          gate,
		Metrics:       collector,
		UserSvc:       usrSvc,
		CourseSvc:     courseSvc,
		AssignmentSvc: assignmentSvc,
		DashboardSvc:  dashboardSvc,
	})
}

// New returns a new dependency injection dig.Container
func New() *dig.Container {
	c := dig.New()

	must(c.Provide(core.NewConfig))
	must(c.Provide(newLogger))
	must(c.Provide(newDBLogger, dig.Name("dbLogger")))
	must(c.Provide(newStores))
	must(c.Provide(emailsvc.New))
	must(c.Provide(core.NewTranslator))
	must(c.Provide(echoapi.NewValidator))
	must(c.Provide(session.NewGate))
	must(c.Provide(newMetrics))
	must(c.Provide(user.NewService))
	must(c.Provide(course.NewService))
	must(c.Provide(assignment.NewService))
	must(c.Provide(dashboard.NewService))
	must(c.Provide(newServer))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
