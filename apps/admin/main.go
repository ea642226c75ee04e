package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/go-playground/validator/v10"

	"github.com/guni/lms/core"
	"github.com/guni/lms/core/course"
	"github.com/guni/lms/core/user"
	emailsvc "github.com/guni/lms/services/email"
	logsvc "github.com/guni/lms/services/logger"
	"github.com/guni/lms/storage/database"
	inmemdb "github.com/guni/lms/storage/database/inmem"
	mongodb "github.com/guni/lms/storage/database/mongo"
	sqlxrepos "github.com/guni/lms/storage/database/sqlx"
)

var logger core.Logger

func main() {
	conf := core.NewConfig()
	stdLogger := log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	rollbarLogger := logsvc.NewRollbarLogger(stdLogger, conf)
	defer rollbarLogger.Close()
	logger = rollbarLogger

	cli, closeStore := newCommandLine(conf)
	err := cli.run(os.Args)
	closeStore()
	if err != nil {
		if err != errHelp {
			logger.Error(fmt.Sprintf("\nerror: %s", err), err)
		}
		os.Exit(1)
	}
}

func newCommandLine(conf *core.Config) (*commandLine, func()) {
	cli := &commandLine{conf: conf}
	closeStore := func() {}

	switch conf.Database.Engine {
	case "postgres":
		errAndDie(database.CreateIfNotExist(conf))
		db, err := database.Open(conf)
		errAndDie(err)
		cli.db = db
		cli.usrRepo = sqlxrepos.NewUserRepository(db)
		closeStore = func() { _ = db.Close() }
		return cli.withServices(sqlxrepos.NewCourseRepository(db)), closeStore

	case "memory":
		db := inmemdb.Open()
		cli.usrRepo = inmemdb.NewUserRepository(db)
		return cli.withServices(inmemdb.NewCourseRepository(db)), closeStore

	default: // mongodb
		handle := mongodb.NewHandle(conf)
		db, err := handle.DB(context.Background())
		errAndDie(err)
		cli.usrRepo = mongodb.NewUserRepository(db)
		closeStore = func() { _ = handle.Close(context.Background()) }
		return cli.withServices(mongodb.NewCourseRepository(db)), closeStore
	}
}

func (cli *commandLine) withServices(courseRepo course.Repository) *commandLine {
	translator := core.NewTranslator()
	cli.validate = validator.New()
	core.InitValidators(cli.validate, translator)
	user.InitValidators(cli.validate, translator)
	course.InitValidators(cli.validate, translator)

	mailSvc := emailsvc.NewConsoleService(cli.conf, logger)
	usrSvc := user.NewService(cli.usrRepo, mailSvc, cli.conf)
	cli.courseSvc = course.NewService(courseRepo, usrSvc, cli.conf)
	return cli
}

func errAndDie(err error) {
	if err != nil {
		logger.Fatal(err.Error(), err)
	}
}

