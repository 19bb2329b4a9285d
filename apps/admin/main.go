package main

import (
	"fmt"
	"os"

	"github.com/trezcool/masomo-pkl/core"
	"github.com/trezcool/masomo-pkl/core/placement"
	"github.com/trezcool/masomo-pkl/core/user"
	emailsvc "github.com/trezcool/masomo-pkl/services/email"
	logsvc "github.com/trezcool/masomo-pkl/services/logger"
	"github.com/trezcool/masomo-pkl/storage/database"
	sqlxrepos "github.com/trezcool/masomo-pkl/storage/database/sqlx"
)

func main() {
	conf := core.NewConfig()
	logger := logsvc.NewRollbarLogger(os.Stderr, conf)
	logger.Enable(!conf.Debug)

	// set up DB
	if err := database.CreateIfNotExist(conf); err != nil {
		logger.Fatal(fmt.Sprintf("creating database: %v", err), err)
	}
	db, err := database.Open(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("opening database: %v", err), err)
	}
	database.SetMigrationsLogger(logger)

	translator := core.NewTranslator()
	validate := core.NewValidator(translator)
	user.InitValidators(validate, translator)
	placement.InitValidators(validate, translator)

	var mailSvc core.EmailService = emailsvc.NewConsoleService(conf, logger, nil)
	if !conf.Debug && conf.SendgridApiKey != "" {
		mailSvc = emailsvc.NewSendgridService(conf, logger)
	}

	// start CLI
	cli := newCommandLine(
		db,
		logger,
		validate,
		user.NewService(sqlxrepos.NewUserRepository(db), logger),
		placement.NewService(sqlxrepos.NewPlacementRepository(db), mailSvc, conf, logger, validate, nil),
	)
	err = cli.run(os.Args[1:])
	_ = db.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
