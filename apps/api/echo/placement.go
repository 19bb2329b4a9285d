package echoapi

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-pkl/core"
	"github.com/trezcool/masomo-pkl/core/placement"
)

const invalidDateText = "must be a date formatted as YYYY-MM-DD"

type placementApi struct {
	svc *placement.Service
}

func registerPlacementAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc *placement.Service) {
	api := placementApi{svc: svc}

	pg := g.Group("/periods", jwt)
	pg.GET("", api.queryPeriods)
	pg.POST("", api.createPeriod, adminMiddleware())
	pg.GET("/active", api.activePeriod)
	pg.GET("/:id", api.retrievePeriod)
	pg.POST("/:id/activate", api.activatePeriod, adminMiddleware())

	dg := g.Group("/placements", jwt)
	dg.GET("/candidates", api.queryCandidates)
	dg.POST("/candidates", api.createCandidate, adminMiddleware())
	dg.GET("/hosts", api.queryHosts)
	dg.POST("/hosts", api.createHost, adminMiddleware())
	dg.GET("/supervisors", api.querySupervisors)
	dg.POST("/supervisors", api.createSupervisor, adminMiddleware())
	dg.GET("/assignments", api.queryAssignments)
	dg.POST("/assignments", api.createAssignment, adminMiddleware())
	dg.DELETE("/assignments/:id", api.destroyAssignment, adminMiddleware())
}

// periodID returns the `period_id` query param, the active period's ID when absent.
func (api *placementApi) periodID(ctx echo.Context) (string, error) {
	if id := core.CleanString(ctx.QueryParam("period_id"), true /* lower */); id != "" {
		return id, nil
	}
	p, err := api.svc.ActivePeriod(ctx.Request().Context())
	if err != nil {
		return "", err
	}
	return p.ID, nil
}

// Periods

func (api *placementApi) queryPeriods(ctx echo.Context) error {
	periods, err := api.svc.QueryPeriods(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "querying periods")
	}
	return ctx.JSON(http.StatusOK, periods)
}

func (api *placementApi) createPeriod(ctx echo.Context) error {
	var data NewPeriodRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewPeriodRequest")
	}
	np, err := data.NewPeriod()
	if err != nil {
		return err
	}
	p, err := api.svc.CreatePeriod(ctx.Request().Context(), np)
	if err != nil {
		return errors.Wrap(err, "creating period")
	}
	return ctx.JSON(http.StatusCreated, p)
}

func (api *placementApi) activePeriod(ctx echo.Context) error {
	p, err := api.svc.ActivePeriod(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "getting active period")
	}
	return ctx.JSON(http.StatusOK, p)
}

func (api *placementApi) retrievePeriod(ctx echo.Context) error {
	p, err := api.svc.GetPeriod(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting period")
	}
	return ctx.JSON(http.StatusOK, p)
}

func (api *placementApi) activatePeriod(ctx echo.Context) error {
	p, err := api.svc.ActivatePeriod(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "activating period")
	}
	return ctx.JSON(http.StatusOK, p)
}

// Directory

func (api *placementApi) queryCandidates(ctx echo.Context) error {
	periodID, err := api.periodID(ctx)
	if err != nil {
		return errors.Wrap(err, "resolving period")
	}

	var filter placement.CandidateFilter
	if err = ctx.Bind(&filter); err != nil { // query params on GET
		return errors.Wrap(err, "binding to CandidateFilter")
	}
	var ord Ordering
	ord.Bind(ctx)

	cands, err := api.svc.QueryEligibleCandidates(ctx.Request().Context(), periodID, &filter, ord.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying eligible candidates")
	}
	return ctx.JSON(http.StatusOK, cands)
}

func (api *placementApi) createCandidate(ctx echo.Context) error {
	var data placement.NewCandidate
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewCandidate")
	}
	c, err := api.svc.CreateCandidate(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating candidate")
	}
	return ctx.JSON(http.StatusCreated, c)
}

func (api *placementApi) queryHosts(ctx echo.Context) error {
	periodID, err := api.periodID(ctx)
	if err != nil {
		return errors.Wrap(err, "resolving period")
	}
	hosts, err := api.svc.ListHosts(ctx.Request().Context(), periodID)
	if err != nil {
		return errors.Wrap(err, "querying hosts")
	}
	return ctx.JSON(http.StatusOK, hosts)
}

func (api *placementApi) createHost(ctx echo.Context) error {
	var data placement.NewHost
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewHost")
	}
	h, err := api.svc.CreateHost(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating host")
	}
	return ctx.JSON(http.StatusCreated, h)
}

func (api *placementApi) querySupervisors(ctx echo.Context) error {
	sups, err := api.svc.ListSupervisors(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "querying supervisors")
	}
	return ctx.JSON(http.StatusOK, sups)
}

func (api *placementApi) createSupervisor(ctx echo.Context) error {
	var data placement.NewSupervisor
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewSupervisor")
	}
	s, err := api.svc.CreateSupervisor(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating supervisor")
	}
	return ctx.JSON(http.StatusCreated, s)
}

// Assignments

func (api *placementApi) queryAssignments(ctx echo.Context) error {
	periodID, err := api.periodID(ctx)
	if err != nil {
		return errors.Wrap(err, "resolving period")
	}
	filter := placement.AssignmentFilter{
		PeriodID: periodID,
		HostID:   core.CleanString(ctx.QueryParam("host_id"), true /* lower */),
	}
	asgmts, err := api.svc.ListAssignments(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "querying assignments")
	}
	return ctx.JSON(http.StatusOK, asgmts)
}

func (api *placementApi) createAssignment(ctx echo.Context) error {
	var data placement.NewAssignment
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewAssignment")
	}
	a, err := api.svc.CreateAssignment(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating assignment")
	}
	return ctx.JSON(http.StatusCreated, a)
}

func (api *placementApi) destroyAssignment(ctx echo.Context) error {
	if err := api.svc.DeleteAssignment(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting assignment")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// NewPeriodRequest is the wire form of placement.NewPeriod, with YYYY-MM-DD dates.
type NewPeriodRequest struct {
	Name      string `json:"name"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	IsActive  bool   `json:"is_active"`
}

// NewPeriod parses the dates; blank dates are left zero for the validator to report.
func (r NewPeriodRequest) NewPeriod() (placement.NewPeriod, error) {
	np := placement.NewPeriod{Name: r.Name, IsActive: r.IsActive}

	var fldErrs []core.FieldError
	parse := func(field, value string) time.Time {
		value = core.CleanString(value)
		if value == "" {
			return time.Time{}
		}
		t, err := time.Parse(placement.DateLayout, value)
		if err != nil {
			fldErrs = append(fldErrs, core.FieldError{Field: field, Error: invalidDateText})
		}
		return t
	}
	np.StartDate = parse("start_date", r.StartDate)
	np.EndDate = parse("end_date", r.EndDate)

	if len(fldErrs) > 0 {
		return placement.NewPeriod{}, core.NewValidationError(nil, fldErrs...)
	}
	return np, nil
}
