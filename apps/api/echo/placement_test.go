package echoapi_test

import (
	"net/http"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/trezcool/masomo-pkl/apps/api/echo"
	"github.com/trezcool/masomo-pkl/core/placement"
	"github.com/trezcool/masomo-pkl/core/user"
	testutil "github.com/trezcool/masomo-pkl/tests"
)

func TestPlacementAPI_periods(t *testing.T) {
	app := setup(t)
	adminToken := app.token(t, testutil.CreateUser(t, app.usrRepo, "Admin", "admin", "admin@example.com", "s3cretpass", []string{user.RoleAdmin}, true))
	teacherToken := app.token(t, testutil.CreateUser(t, app.usrRepo, "Bu Rina", "rina", "", "s3cretpass", []string{user.RoleTeacher}, true))

	app.run(t, []httpTest{
		{
			name:     "no token",
			method:   http.MethodGet,
			path:     "/v1/periods",
			wantCode: http.StatusUnauthorized,
			wantData: errMissingToken,
		},
		{
			name:     "no active period",
			method:   http.MethodGet,
			path:     "/v1/periods/active",
			token:    teacherToken,
			wantCode: http.StatusNotFound,
			wantData: httpErr{Error: "no active period"},
		},
		{
			name:     "create as teacher",
			method:   http.MethodPost,
			path:     "/v1/periods",
			token:    teacherToken,
			body:     echoapi.NewPeriodRequest{Name: "Ganjil", StartDate: "2024-07-01", EndDate: "2024-12-20"},
			wantCode: http.StatusForbidden,
			wantData: httpErr{Error: "permission denied"},
		},
		{
			name:     "bad date",
			method:   http.MethodPost,
			path:     "/v1/periods",
			token:    adminToken,
			body:     echoapi.NewPeriodRequest{Name: "Ganjil", StartDate: "01/07/2024", EndDate: "2024-12-20"},
			wantCode: http.StatusBadRequest,
			wantData: map[string]string{"start_date": "must be a date formatted as YYYY-MM-DD"},
		},
		{
			name:     "ends before start",
			method:   http.MethodPost,
			path:     "/v1/periods",
			token:    adminToken,
			body:     echoapi.NewPeriodRequest{Name: "Ganjil", StartDate: "2024-07-01", EndDate: "2024-06-30"},
			wantCode: http.StatusBadRequest,
			wantData: map[string]string{"end_date": "end date cannot be before start date"},
		},
		{
			name:     "unknown period",
			method:   http.MethodGet,
			path:     "/v1/periods/" + uuid.NewString(),
			token:    teacherToken,
			wantCode: http.StatusNotFound,
			wantData: httpErr{Error: "period not found"},
		},
	})

	rec := app.do(t, http.MethodPost, "/v1/periods", adminToken, echoapi.NewPeriodRequest{
		Name: "Ganjil 2024", StartDate: "2024-07-01", EndDate: "2024-12-20", IsActive: true,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var ganjil placement.Period
	decode(t, rec, &ganjil)
	assert.True(t, ganjil.IsActive)
	assert.Equal(t, "2024-07-01", ganjil.StartDate.Format(placement.DateLayout))

	rec = app.do(t, http.MethodPost, "/v1/periods", adminToken, echoapi.NewPeriodRequest{
		Name: "Genap 2025", StartDate: "2025-01-06", EndDate: "2025-06-20",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var genap placement.Period
	decode(t, rec, &genap)

	rec = app.do(t, http.MethodGet, "/v1/periods/active", teacherToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var active placement.Period
	decode(t, rec, &active)
	assert.Equal(t, ganjil.ID, active.ID)

	rec = app.do(t, http.MethodPost, "/v1/periods/"+genap.ID+"/activate", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = app.do(t, http.MethodGet, "/v1/periods", teacherToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var periods []placement.Period
	decode(t, rec, &periods)
	require.Len(t, periods, 2)
	for _, p := range periods {
		assert.Equal(t, p.ID == genap.ID, p.IsActive, p.Name)
	}
}

func TestPlacementAPI_assignments(t *testing.T) {
	app := setup(t)
	adminToken := app.token(t, testutil.CreateUser(t, app.usrRepo, "Admin", "admin", "admin@example.com", "s3cretpass", []string{user.RoleAdmin}, true))
	teacherToken := app.token(t, testutil.CreateUser(t, app.usrRepo, "Bu Rina", "rina", "", "s3cretpass", []string{user.RoleTeacher}, true))

	period := testutil.CreatePeriod(t, app.plcRepo, "Ganjil", true)

	create := func(t *testing.T, path string, body, dest interface{}) {
		t.Helper()
		rec := app.do(t, http.MethodPost, path, adminToken, body)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		decode(t, rec, dest)
	}
	var (
		ani, budi    placement.Candidate
		telkom, pln  placement.Host
		agus         placement.Supervisor
		first, other placement.Assignment
	)
	create(t, "/v1/placements/candidates", placement.NewCandidate{Name: "Ani Lestari", ClassLabel: "XII TKJ 1"}, &ani)
	create(t, "/v1/placements/candidates", placement.NewCandidate{Name: "Budi Santoso", ClassLabel: "XII TKJ 2"}, &budi)
	create(t, "/v1/placements/hosts", placement.NewHost{Name: "PT Telkom", Capacity: 1}, &telkom)
	create(t, "/v1/placements/hosts", placement.NewHost{Name: "PLN"}, &pln)
	create(t, "/v1/placements/supervisors", placement.NewSupervisor{Name: "Pak Agus", Email: "agus@example.com"}, &agus)

	app.run(t, []httpTest{
		{
			name:     "create candidate as teacher",
			method:   http.MethodPost,
			path:     "/v1/placements/candidates",
			token:    teacherToken,
			body:     placement.NewCandidate{Name: "Citra", ClassLabel: "XII RPL"},
			wantCode: http.StatusForbidden,
			wantData: httpErr{Error: "permission denied"},
		},
		{
			name:     "blank candidate",
			method:   http.MethodPost,
			path:     "/v1/placements/candidates",
			token:    adminToken,
			body:     placement.NewCandidate{Name: " ", ClassLabel: "XII RPL"},
			wantCode: http.StatusBadRequest,
			wantData: map[string]string{"name": "this field cannot be blank"},
		},
		{
			name:     "filtered candidates",
			method:   http.MethodGet,
			path:     "/v1/placements/candidates?search=AN&period_id=" + period.ID,
			token:    teacherToken,
			wantCode: http.StatusOK,
			wantData: []placement.Candidate{ani, budi},
		},
		{
			name:     "candidates of a class, active period",
			method:   http.MethodGet,
			path:     "/v1/placements/candidates?class=XII+TKJ+2",
			token:    teacherToken,
			wantCode: http.StatusOK,
			wantData: []placement.Candidate{budi},
		},
		{
			name:     "candidates ordered by name desc",
			method:   http.MethodGet,
			path:     "/v1/placements/candidates?ordering=-name",
			token:    teacherToken,
			wantCode: http.StatusOK,
			wantData: []placement.Candidate{budi, ani},
		},
		{
			name:     "create assignment as teacher",
			method:   http.MethodPost,
			path:     "/v1/placements/assignments",
			token:    teacherToken,
			body:     placement.NewAssignment{CandidateID: ani.ID, HostID: telkom.ID, PeriodID: period.ID},
			wantCode: http.StatusForbidden,
			wantData: httpErr{Error: "permission denied"},
		},
		{
			name:     "invalid assignment",
			method:   http.MethodPost,
			path:     "/v1/placements/assignments",
			token:    adminToken,
			body:     placement.NewAssignment{CandidateID: "nope", HostID: telkom.ID},
			wantCode: http.StatusBadRequest,
			wantData: map[string]string{"candidate_id": "must be a valid identifier", "period_id": "this field is required"},
		},
	})

	create(t, "/v1/placements/assignments", placement.NewAssignment{
		CandidateID: ani.ID, HostID: telkom.ID, PeriodID: period.ID, SupervisorID: agus.ID,
	}, &first)
	assert.Equal(t, ani, first.Candidate)
	assert.Len(t, app.mailSvc.SentMessages(), 1)

	app.run(t, []httpTest{
		{
			name:     "already assigned",
			method:   http.MethodPost,
			path:     "/v1/placements/assignments",
			token:    adminToken,
			body:     placement.NewAssignment{CandidateID: ani.ID, HostID: pln.ID, PeriodID: period.ID},
			wantCode: http.StatusBadRequest,
			wantData: map[string]string{"candidate_id": "candidate is already assigned for this period"},
		},
		{
			name:     "host at capacity",
			method:   http.MethodPost,
			path:     "/v1/placements/assignments",
			token:    adminToken,
			body:     placement.NewAssignment{CandidateID: budi.ID, HostID: telkom.ID, PeriodID: period.ID},
			wantCode: http.StatusBadRequest,
			wantData: map[string]string{"host_id": "host is at capacity"},
		},
		{
			name:     "eligible candidates exclude the assigned",
			method:   http.MethodGet,
			path:     "/v1/placements/candidates",
			token:    teacherToken,
			wantCode: http.StatusOK,
			wantData: []placement.Candidate{budi},
		},
	})

	create(t, "/v1/placements/assignments", placement.NewAssignment{CandidateID: budi.ID, HostID: pln.ID, PeriodID: period.ID}, &other)

	rec := app.do(t, http.MethodGet, "/v1/placements/hosts?period_id="+period.ID, teacherToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var hosts []placement.Host
	decode(t, rec, &hosts)
	filled := make(map[string]int)
	for _, h := range hosts {
		filled[h.Name] = h.Filled
	}
	assert.Equal(t, map[string]int{"PT Telkom": 1, "PLN": 1}, filled)

	rec = app.do(t, http.MethodGet, "/v1/placements/assignments?host_id="+pln.ID, teacherToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var asgmts []placement.Assignment
	decode(t, rec, &asgmts)
	require.Len(t, asgmts, 1)
	assert.Equal(t, other.ID, asgmts[0].ID)
	assert.Equal(t, budi, asgmts[0].Candidate)

	rec = app.do(t, http.MethodGet, "/v1/placements/supervisors", teacherToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var sups []placement.Supervisor
	decode(t, rec, &sups)
	assert.Equal(t, []placement.Supervisor{agus}, sups)

	app.run(t, []httpTest{
		{
			name:     "delete as teacher",
			method:   http.MethodDelete,
			path:     "/v1/placements/assignments/" + first.ID,
			token:    teacherToken,
			wantCode: http.StatusForbidden,
			wantData: httpErr{Error: "permission denied"},
		},
		{
			name:     "delete",
			method:   http.MethodDelete,
			path:     "/v1/placements/assignments/" + first.ID,
			token:    adminToken,
			wantCode: http.StatusNoContent,
		},
		{
			name:     "delete again",
			method:   http.MethodDelete,
			path:     "/v1/placements/assignments/" + first.ID,
			token:    adminToken,
			wantCode: http.StatusNotFound,
			wantData: httpErr{Error: "assignment not found"},
		},
	})

	rec = app.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `test_placement_assignments_total{result="created"} 2`), body)
	assert.True(t, strings.Contains(body, `test_placement_assignment_rejections_total{reason="host_at_capacity"} 1`), body)
	assert.True(t, strings.Contains(body, `test_placement_assignments_total{result="deleted"} 1`), body)
}
