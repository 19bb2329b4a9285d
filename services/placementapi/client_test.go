package placementapi_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/trezcool/masomo-pkl/apps/api/echo"
	"github.com/trezcool/masomo-pkl/core"
	"github.com/trezcool/masomo-pkl/core/placement"
	"github.com/trezcool/masomo-pkl/core/placement/engine"
	"github.com/trezcool/masomo-pkl/core/user"
	emailsvc "github.com/trezcool/masomo-pkl/services/email"
	logsvc "github.com/trezcool/masomo-pkl/services/logger"
	"github.com/trezcool/masomo-pkl/services/placementapi"
	sqlxrepos "github.com/trezcool/masomo-pkl/storage/database/sqlx"
	testutil "github.com/trezcool/masomo-pkl/tests"
)

const password = "s3cretpass"

type backend struct {
	url     string
	usrRepo user.Repository
	plcRepo placement.Repository
}

// newBackend serves the API over a fresh SQLite database, through the wrap middlewares if any.
func newBackend(t *testing.T, wrap ...func(http.Handler) http.Handler) backend {
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

	server := echoapi.NewServer(echoapi.Deps{
		Conf:         conf,
		Logger:       logger,
		Validate:     validate,
		Translator:   translator,
		UserSvc:      user.NewService(usrRepo, logger),
		PlacementSvc: placement.NewService(plcRepo, emailsvc.NewConsoleServiceMock(conf, logger), conf, logger, validate, nil),
	}, true /* disableReqLogs */)

	var handler http.Handler = server
	for _, w := range wrap {
		handler = w(handler)
	}
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	testutil.CreateUser(t, usrRepo, "Admin", "admin", "admin@example.com", password, []string{user.RoleAdmin}, true)
	testutil.CreateUser(t, usrRepo, "Bu Rina", "rina", "rina@example.com", password, []string{user.RoleTeacher}, true)

	return backend{url: ts.URL + "/v1", usrRepo: usrRepo, plcRepo: plcRepo}
}

func (b backend) client(t *testing.T, username string) *placementapi.Client {
	t.Helper()
	c := placementapi.New(core.ClientConfig{BaseURL: b.url, RequestTimeout: 5 * time.Second}, core.Session{})
	sess, err := c.Login(context.Background(), username, password)
	require.NoError(t, err)
	require.True(t, sess.IsAuthenticated())
	return c.WithSession(sess)
}

func newEngine(c *placementapi.Client) *engine.Engine {
	return engine.New(engine.Deps{Directory: c, Assigner: c, Periods: c, Logger: logsvc.NewNopLogger()})
}

func ids(cands []placement.Candidate) []string {
	res := make([]string, len(cands))
	for i, c := range cands {
		res[i] = c.ID
	}
	return res
}

func slotIDs(slots []engine.Slot) []string {
	res := make([]string, len(slots))
	for i, s := range slots {
		res[i] = s.CandidateID
	}
	return res
}

func TestClient_Login(t *testing.T) {
	b := newBackend(t)
	c := placementapi.New(core.ClientConfig{BaseURL: b.url + "/"}, core.Session{})
	ctx := context.Background()

	_, err := c.Login(ctx, "admin", "wrong")
	var apiErr *placementapi.Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "authentication failed", apiErr.Error())

	_, err = c.ListSupervisors(ctx)
	assert.True(t, placementapi.IsStatus(err, http.StatusUnauthorized), "%v", err)

	sess, err := c.Login(ctx, "Admin@Example.com", password)
	require.NoError(t, err)
	assert.Equal(t, "admin", sess.Username)
	assert.True(t, sess.IsAdmin)
	assert.True(t, sess.ExpiresAt.After(time.Now()))
	assert.Empty(t, c.Session().Token, "Login leaves the client untouched")

	authed := c.WithSession(sess)
	refreshed, err := authed.RefreshToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, sess.UserID, refreshed.UserID)
	assert.NotEmpty(t, refreshed.Token)
}

func TestClient_errors(t *testing.T) {
	b := newBackend(t)
	c := b.client(t, "admin")
	ctx := context.Background()

	_, err := c.ActivePeriod(ctx)
	assert.Equal(t, placement.ErrNoActivePeriod, err)

	_, err = c.GetPeriod(ctx, uuid.NewString())
	assert.True(t, errors.Is(err, placement.ErrPeriodNotFound), "%v", err)
	assert.True(t, placementapi.IsStatus(err, http.StatusNotFound))

	_, err = c.CreateAssignment(ctx, placement.NewAssignment{CandidateID: "x"})
	var apiErr *placementapi.Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, map[string]string{
		"candidate_id": "must be a valid identifier",
		"host_id":      "this field is required",
		"period_id":    "this field is required",
	}, apiErr.Fields)
	assert.Equal(t, "candidate_id: must be a valid identifier, host_id: this field is required, period_id: this field is required", apiErr.Error())

	err = c.DeleteAssignment(ctx, uuid.NewString())
	assert.True(t, errors.Is(err, placement.ErrAssignmentNotFound), "%v", err)
}

func TestClient_directory(t *testing.T) {
	b := newBackend(t)
	c := b.client(t, "rina")
	ctx := context.Background()

	p := testutil.CreatePeriod(t, b.plcRepo, "Ganjil", true)
	ani := testutil.CreateCandidate(t, b.plcRepo, "Ani Lestari", "XII TKJ 1")
	budi := testutil.CreateCandidate(t, b.plcRepo, "Budi Santoso", "XII TKJ 2")
	h := testutil.CreateHost(t, b.plcRepo, "PT Telkom", 3)
	testutil.CreateAssignment(t, b.plcRepo, budi, h, p, "")

	active, err := c.ActivePeriod(ctx)
	require.NoError(t, err)
	assert.Equal(t, p.ID, active.ID)

	periods, err := c.ListPeriods(ctx)
	require.NoError(t, err)
	assert.Len(t, periods, 1)

	cands, err := c.ListEligibleCandidates(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{ani.ID}, ids(cands))

	cands, err = c.QueryEligibleCandidates(ctx, "", placement.CandidateFilter{Search: "zzz"}, "-name")
	require.NoError(t, err)
	assert.Empty(t, cands)

	hosts, err := c.ListHosts(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, hosts, 1)
	assert.Equal(t, 1, hosts[0].Filled)
	assert.Equal(t, 3, hosts[0].Capacity)

	asgmts, err := c.ListAssignments(ctx, placement.AssignmentFilter{PeriodID: p.ID, HostID: h.ID})
	require.NoError(t, err)
	require.Len(t, asgmts, 1)
	assert.Equal(t, budi.Name, asgmts[0].Candidate.Name)

	// teachers read the board but cannot change it
	_, err = c.CreateAssignment(ctx, placement.NewAssignment{CandidateID: ani.ID, HostID: h.ID, PeriodID: p.ID})
	assert.True(t, placementapi.IsStatus(err, http.StatusForbidden), "%v", err)
}

func TestEngineOverAPI_noActivePeriod(t *testing.T) {
	b := newBackend(t)
	eng := newEngine(b.client(t, "admin"))

	err := eng.Initialize(context.Background(), "")
	assert.Equal(t, placement.ErrNoActivePeriod, errors.Cause(err))
	assert.False(t, eng.Ready())
	assert.Empty(t, eng.Unassigned())
	assert.Empty(t, eng.Hosts())

	err = eng.Initialize(context.Background(), uuid.NewString())
	assert.Equal(t, placement.ErrNoActivePeriod, errors.Cause(err))
}

func TestEngineOverAPI_scenarios(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t)
	c := b.client(t, "admin")

	p := testutil.CreatePeriod(t, b.plcRepo, "Ganjil", true)
	candA := testutil.CreateCandidate(t, b.plcRepo, "Ani Lestari", "X1")
	candB := testutil.CreateCandidate(t, b.plcRepo, "Budi Santoso", "X2")
	h1 := testutil.CreateHost(t, b.plcRepo, "H1 PT Telkom", 1)
	h2 := testutil.CreateHost(t, b.plcRepo, "H2 PLN", 0)
	s1 := testutil.CreateSupervisor(t, b.plcRepo, "Pak Agus", "")

	eng := newEngine(c)
	var notices []string
	eng.Subscribe(func(ev engine.Event) {
		if ev.Kind == engine.Failed {
			notices = append(notices, ev.Notice)
		}
	})

	require.NoError(t, eng.Initialize(ctx, ""))
	assert.Equal(t, p.ID, eng.Period().ID)
	assert.Equal(t, []string{candA.ID, candB.ID}, ids(eng.Unassigned()))

	// A -> H1 fills H1
	a, err := eng.CompleteMove(ctx, candA.ID, h1.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, a.ID)
	assert.Equal(t, []string{candB.ID}, ids(eng.Unassigned()))
	require.Len(t, eng.Assignments(h1.ID), 1)
	assert.False(t, eng.Assignments(h1.ID)[0].Pending)
	assert.Equal(t, a.ID, eng.Assignments(h1.ID)[0].ID)

	// B -> H1 is rejected by the backend
	_, err = eng.CompleteMove(ctx, candB.ID, h1.ID)
	var merr *engine.MutationError
	require.True(t, errors.As(err, &merr), "%v", err)
	assert.True(t, errors.Is(err, placement.ErrHostAtCapacity))
	assert.NoError(t, merr.ResyncErr)
	assert.Equal(t, []string{candB.ID}, ids(eng.Unassigned()))
	assert.Equal(t, []string{candA.ID}, slotIDs(eng.Assignments(h1.ID)))
	assert.Empty(t, eng.Assignments(h2.ID))
	require.Equal(t, []string{
		"Could not assign the candidate: host is at capacity. The board has been reloaded.",
	}, notices)

	// no phantom: the board matches a fresh one
	fresh := newEngine(c)
	require.NoError(t, fresh.Initialize(ctx, ""))
	assert.Equal(t, fresh.Snapshot(), eng.Snapshot())

	// supervisor selection
	require.NoError(t, eng.SetHostSupervisor(h2.ID, s1.ID))
	bAsgmt, err := eng.CompleteMove(ctx, candB.ID, h2.ID)
	require.NoError(t, err)
	assert.Equal(t, s1.ID, bAsgmt.SupervisorID)

	stored, err := c.ListAssignments(ctx, placement.AssignmentFilter{PeriodID: p.ID, HostID: h2.ID})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, s1.ID, stored[0].SupervisorID)

	// round trip
	require.NoError(t, eng.Unassign(ctx, bAsgmt.ID))
	assert.Equal(t, []string{candB.ID}, ids(eng.Unassigned()))
	assert.Empty(t, eng.Assignments(h2.ID))

	eligible, err := c.ListEligibleCandidates(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{candB.ID}, ids(eligible))

	// the partition holds against the backend
	require.NoError(t, fresh.Initialize(ctx, ""))
	assert.Equal(t, fresh.Unassigned(), eng.Unassigned())
	assert.Equal(t, slotIDs(fresh.Assignments(h1.ID)), slotIDs(eng.Assignments(h1.ID)))

	var buf bytes.Buffer
	require.NoError(t, eng.Snapshot().Render(&buf))
	assert.Contains(t, buf.String(), "H1 PT Telkom")
}

func TestEngineOverAPI_forbidden(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t)
	c := b.client(t, "rina")

	testutil.CreatePeriod(t, b.plcRepo, "Ganjil", true)
	cand := testutil.CreateCandidate(t, b.plcRepo, "Ani Lestari", "X1")
	h := testutil.CreateHost(t, b.plcRepo, "PT Telkom", 0)

	eng := newEngine(c)
	require.NoError(t, eng.Initialize(ctx, ""))

	_, err := eng.CompleteMove(ctx, cand.ID, h.ID)
	var merr *engine.MutationError
	require.True(t, errors.As(err, &merr))
	assert.True(t, placementapi.IsStatus(err, http.StatusForbidden))
	assert.Equal(t, "Could not assign the candidate: permission denied. The board has been reloaded.", merr.Notice())
	assert.Equal(t, []string{cand.ID}, ids(eng.Unassigned()))
	assert.Empty(t, eng.Assignments(h.ID))
}

// stallAssignments holds assignment creations until the caller gives up.
func stallAssignments(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/placements/assignments") {
			<-r.Context().Done()
			return
		}
		next.ServeHTTP(w, r)
	})
}

func TestClient_deadline(t *testing.T) {
	b := newBackend(t, stallAssignments)
	admin := b.client(t, "admin")

	p := testutil.CreatePeriod(t, b.plcRepo, "Ganjil", true)
	cand := testutil.CreateCandidate(t, b.plcRepo, "Ani Lestari", "X1")
	h := testutil.CreateHost(t, b.plcRepo, "PT Telkom", 0)
	na := placement.NewAssignment{CandidateID: cand.ID, HostID: h.ID, PeriodID: p.ID}

	t.Run("caller deadline", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err := admin.CreateAssignment(ctx, na)
		require.Error(t, err)
		assert.True(t, errors.Is(err, context.DeadlineExceeded), "%v", err)
	})

	t.Run("client timeout", func(t *testing.T) {
		c := placementapi.New(core.ClientConfig{BaseURL: b.url, RequestTimeout: 50 * time.Millisecond}, admin.Session())
		_, err := c.CreateAssignment(context.Background(), na)
		require.Error(t, err)
		assert.True(t, errors.Is(err, context.DeadlineExceeded), "%v", err)

		// reads are not stalled
		_, err = c.ListSupervisors(context.Background())
		assert.NoError(t, err)
	})

	t.Run("engine resyncs after a timed out move", func(t *testing.T) {
		eng := newEngine(admin)
		require.NoError(t, eng.Initialize(context.Background(), ""))

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err := eng.CompleteMove(ctx, cand.ID, h.ID)

		var merr *engine.MutationError
		require.True(t, errors.As(err, &merr), "%v", err)
		assert.True(t, errors.Is(err, context.DeadlineExceeded), "%v", err)
		assert.NoError(t, merr.ResyncErr)
		assert.True(t, eng.Ready())
		assert.Equal(t, []string{cand.ID}, ids(eng.Unassigned()))
		assert.Empty(t, eng.Assignments(h.ID))
	})
}
