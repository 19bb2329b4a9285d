package echoapi_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/trezcool/masomo-pkl/apps/api/echo"
	"github.com/trezcool/masomo-pkl/core"
	"github.com/trezcool/masomo-pkl/core/placement"
	"github.com/trezcool/masomo-pkl/core/user"
	emailsvc "github.com/trezcool/masomo-pkl/services/email"
	logsvc "github.com/trezcool/masomo-pkl/services/logger"
	metricsvc "github.com/trezcool/masomo-pkl/services/metrics"
	sqlxrepos "github.com/trezcool/masomo-pkl/storage/database/sqlx"
	testutil "github.com/trezcool/masomo-pkl/tests"
)

type testApp struct {
	server   *echoapi.Server
	conf     *core.Config
	usrRepo  user.Repository
	plcRepo  placement.Repository
	mailSvc  *emailsvc.ConsoleServiceMock
	registry *prometheus.Registry
}

func setup(t *testing.T) testApp {
	t.Helper()
	conf := core.NewTestConfig()
	logger := logsvc.NewNopLogger()

	translator := core.NewTranslator()
	validate := core.NewValidator(translator)
	user.InitValidators(validate, translator)
	placement.InitValidators(validate, translator)

	db := testutil.OpenDB(t)
	usrRepo := sqlxrepos.NewUserRepository(db)
	plcRepo := sqlxrepos.NewPlacementRepository(db)
	mailSvc := emailsvc.NewConsoleServiceMock(conf, logger)

	registry := prometheus.NewRegistry()
	metrics, err := metricsvc.NewPrometheus(registry, "test")
	require.NoError(t, err)

	server := echoapi.NewServer(echoapi.Deps{
		Conf:         conf,
		Logger:       logger,
		Validate:     validate,
		Translator:   translator,
		UserSvc:      user.NewService(usrRepo, logger),
		PlacementSvc: placement.NewService(plcRepo, mailSvc, conf, logger, validate, metrics),
		Gatherer:     registry,
	}, true /* disableReqLogs */)

	return testApp{
		server:   server,
		conf:     conf,
		usrRepo:  usrRepo,
		plcRepo:  plcRepo,
		mailSvc:  mailSvc,
		registry: registry,
	}
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     interface{}
	token    string
	wantCode int
	wantData interface{}
}

func newAuthRequest(t *testing.T, method, path, token string, data interface{}) (*http.Request, *httptest.ResponseRecorder) {
	t.Helper()
	var body bytes.Buffer
	if data != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(data))
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, httptest.NewRecorder()
}

func (app testApp) do(t *testing.T, method, path, token string, data interface{}) *httptest.ResponseRecorder {
	t.Helper()
	req, rec := newAuthRequest(t, method, path, token, data)
	app.server.ServeHTTP(rec, req)
	return rec
}

func (app testApp) token(t *testing.T, usr user.User) string {
	t.Helper()
	token, err := echoapi.GenerateToken(app.conf, echoapi.NewClaims(app.conf, usr))
	require.NoError(t, err)
	return token
}

func (app testApp) run(t *testing.T, tests []httpTest) {
	t.Helper()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := app.do(t, tt.method, tt.path, tt.token, tt.body)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	t.Helper()
	assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
	if tt.wantData == nil {
		return
	}
	want, err := json.Marshal(tt.wantData)
	require.NoError(t, err)
	assert.JSONEq(t, string(want), rec.Body.String())
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dest interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dest), rec.Body.String())
}
