package digcontainer

import (
	"fmt"
	"log"
	"os"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/dig"

	echoapi "github.com/trezcool/masomo-pkl/apps/api/echo"
	"github.com/trezcool/masomo-pkl/core"
	"github.com/trezcool/masomo-pkl/core/placement"
	"github.com/trezcool/masomo-pkl/core/user"
	emailsvc "github.com/trezcool/masomo-pkl/services/email"
	logsvc "github.com/trezcool/masomo-pkl/services/logger"
	metricsvc "github.com/trezcool/masomo-pkl/services/metrics"
	"github.com/trezcool/masomo-pkl/storage/database"
	sqlxrepos "github.com/trezcool/masomo-pkl/storage/database/sqlx"
)

type DBLoggerParam struct {
	dig.In
	Logger core.Logger `name:"dbLogger"`
}

type serverParams struct {
	dig.In

	Conf         *core.Config
	Logger       core.Logger
	Validate     *validator.Validate
	Translator   ut.Translator
	UserSvc      *user.Service
	PlacementSvc *placement.Service
}

func newLogger(conf *core.Config) core.Logger {
	logger := logsvc.NewRollbarLogger(os.Stdout, conf)
	logger.Enable(!conf.Debug)
	return logger
}

func newDBLogger(conf *core.Config) core.Logger {
	logger := logsvc.NewRollbarLogger(os.Stderr, conf)
	logger.Enable(!conf.Debug)
	return logger
}

func newDB(conf *core.Config, loggerParam DBLoggerParam) (*sqlx.DB, core.DB) {
	setUp := func() (*sqlx.DB, error) {
		if err := database.CreateIfNotExist(conf); err != nil {
			return nil, err
		}

		db, err := database.Open(conf)
		if err != nil {
			return nil, err
		}

		database.SetMigrationsLogger(loggerParam.Logger)
		if err = database.Migrate(db); err != nil {
			return nil, err
		}
		return db, nil
	}

	db, err := setUp()
	if err != nil {
		loggerParam.Logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	return db, db
}

func newEmailService(conf *core.Config, logger core.Logger) core.EmailService {
	if conf.Debug || conf.SendgridApiKey == "" {
		return emailsvc.NewConsoleService(conf, logger, nil)
	}
	return emailsvc.NewSendgridService(conf, logger)
}

func newValidator(translator ut.Translator) *validator.Validate {
	validate := core.NewValidator(translator)
	user.InitValidators(validate, translator)
	placement.InitValidators(validate, translator)
	return validate
}

func newMetrics() (*metricsvc.PrometheusCollector, error) {
	return metricsvc.NewPrometheus(prometheus.DefaultRegisterer, "")
}

func newPlacementService(
	repo placement.Repository,
	mailSvc core.EmailService,
	conf *core.Config,
	logger core.Logger,
	validate *validator.Validate,
	metrics *metricsvc.PrometheusCollector,
) *placement.Service {
	return placement.NewService(repo, mailSvc, conf, logger, validate, metrics)
}

func newServer(p serverParams) *echoapi.Server {
	return echoapi.NewServer(echoapi.Deps{
		Conf:         p.Conf,
		Logger:       p.Logger,
		Validate:     p.Validate,
		Translator:   p.Translator,
		UserSvc:      p.UserSvc,
		PlacementSvc: p.PlacementSvc,
		Gatherer:     prometheus.DefaultGatherer,
	}, p.Conf.TestMode)
}

// New returns a new dependency injection dig.Container.
// newConfig defaults to core.NewConfig.
func New(newConfig ...func() *core.Config) *dig.Container {
	c := dig.New()

	confFunc := core.NewConfig
	if len(newConfig) > 0 && newConfig[0] != nil {
		confFunc = newConfig[0]
	}

	must(c.Provide(confFunc))
	must(c.Provide(newLogger))
	must(c.Provide(newDBLogger, dig.Name("dbLogger")))
	must(c.Provide(newDB))
	must(c.Provide(newEmailService))
	must(c.Provide(sqlxrepos.NewUserRepository, dig.As(new(user.Repository))))
	must(c.Provide(sqlxrepos.NewPlacementRepository, dig.As(new(placement.Repository))))
	must(c.Provide(core.NewTranslator))
	must(c.Provide(newValidator))
	must(c.Provide(newMetrics))
	must(c.Provide(user.NewService))
	must(c.Provide(newPlacementService))
	must(c.Provide(newServer))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
