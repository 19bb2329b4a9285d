// Package placementapi is a client of the placement REST API.
// It serves the placement board engine as its directory, assigner and period resolver.
package placementapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/kat-co/vala"
	"github.com/pkg/errors"
	"github.com/sendgrid/rest"

	"github.com/trezcool/masomo-pkl/core"
	"github.com/trezcool/masomo-pkl/core/placement"
	"github.com/trezcool/masomo-pkl/core/placement/engine"
)

type (
	// Client calls the API on behalf of one Session.
	// Clients are safe for concurrent use; WithSession returns a copy.
	Client struct {
		baseURL string
		timeout time.Duration
		rc      *rest.Client
		session core.Session
	}

	Option func(*Client)
)

var (
	_ engine.Directory      = (*Client)(nil)
	_ engine.Assigner       = (*Client)(nil)
	_ engine.PeriodResolver = (*Client)(nil)
)

// WithHTTPClient replaces the default *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.rc = &rest.Client{HTTPClient: hc} }
}

// New returns a Client of the API at conf.BaseURL (e.g. http://localhost:8000/v1).
func New(conf core.ClientConfig, session core.Session, opts ...Option) *Client {
	vala.BeginValidation().Validate(
		vala.StringNotEmpty(conf.BaseURL, "BaseURL"),
	).CheckAndPanic()

	c := &Client{
		baseURL: strings.TrimRight(conf.BaseURL, "/"),
		timeout: conf.RequestTimeout,
		rc:      &rest.Client{HTTPClient: &http.Client{}},
		session: session,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Session() core.Session { return c.session }

// WithSession returns a copy of the client acting for session.
func (c *Client) WithSession(session core.Session) *Client {
	cp := *c
	cp.session = session
	return &cp
}

func (c *Client) do(ctx context.Context, method rest.Method, path string, query map[string]string, in, out interface{}) error {
	req := rest.Request{
		Method:      method,
		BaseURL:     c.baseURL + path,
		Headers:     map[string]string{"Accept": "application/json"},
		QueryParams: query,
	}
	if in != nil {
		body, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "encoding request body")
		}
		req.Body = body
		req.Headers["Content-Type"] = "application/json"
	}
	if c.session.Token != "" {
		req.Headers["Authorization"] = "Bearer " + c.session.Token
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	hreq, err := rest.BuildRequestObject(req)
	if err != nil {
		return errors.Wrapf(err, "building %s %s", method, path)
	}
	hres, err := c.rc.MakeRequest(hreq.WithContext(ctx))
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	res, err := rest.BuildResponse(hres)
	if err != nil {
		return errors.Wrapf(err, "reading %s %s response", method, path)
	}
	if res.StatusCode >= http.StatusBadRequest {
		return newError(res.StatusCode, res.Body)
	}
	if out == nil || res.StatusCode == http.StatusNoContent {
		return nil
	}
	if err = json.Unmarshal([]byte(res.Body), out); err != nil {
		return errors.Wrapf(err, "decoding %s %s response", method, path)
	}
	return nil
}

// Users

type (
	loginRequest struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}

	loginResponse struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
		UserID    string    `json:"user_id"`
		Username  string    `json:"username"`
		IsAdmin   bool      `json:"is_admin"`
	}
)

func (r loginResponse) session() core.Session {
	return core.Session{
		Token:     r.Token,
		UserID:    r.UserID,
		Username:  r.Username,
		IsAdmin:   r.IsAdmin,
		ExpiresAt: r.ExpiresAt,
	}
}

// Login authenticates against the API and returns the new Session.
// The client itself is left untouched; use WithSession to act with it.
func (c *Client) Login(ctx context.Context, username, password string) (core.Session, error) {
	var res loginResponse
	if err := c.do(ctx, rest.Post, "/users/login", nil, loginRequest{username, password}, &res); err != nil {
		return core.Session{}, err
	}
	return res.session(), nil
}

// RefreshToken exchanges the session token for a fresh one.
func (c *Client) RefreshToken(ctx context.Context) (core.Session, error) {
	var res loginResponse
	if err := c.do(ctx, rest.Post, "/users/token-refresh", nil, nil, &res); err != nil {
		return core.Session{}, err
	}
	return res.session(), nil
}

// Periods

func (c *Client) ListPeriods(ctx context.Context) ([]placement.Period, error) {
	var periods []placement.Period
	if err := c.do(ctx, rest.Get, "/periods", nil, nil, &periods); err != nil {
		return nil, err
	}
	return periods, nil
}

// ActivePeriod returns placement.ErrNoActivePeriod when no period is active.
func (c *Client) ActivePeriod(ctx context.Context) (placement.Period, error) {
	var p placement.Period
	if err := c.do(ctx, rest.Get, "/periods/active", nil, nil, &p); err != nil {
		if IsStatus(err, http.StatusNotFound) {
			return placement.Period{}, placement.ErrNoActivePeriod
		}
		return placement.Period{}, err
	}
	return p, nil
}

func (c *Client) GetPeriod(ctx context.Context, id string) (placement.Period, error) {
	var p placement.Period
	if err := c.do(ctx, rest.Get, "/periods/"+id, nil, nil, &p); err != nil {
		return placement.Period{}, err
	}
	return p, nil
}

// Directory

func (c *Client) ListEligibleCandidates(ctx context.Context, periodID string) ([]placement.Candidate, error) {
	return c.QueryEligibleCandidates(ctx, periodID, placement.CandidateFilter{}, "")
}

// QueryEligibleCandidates narrows the candidates server side; ordering uses the API syntax ("name,-class").
func (c *Client) QueryEligibleCandidates(
	ctx context.Context,
	periodID string,
	filter placement.CandidateFilter,
	ordering string,
) ([]placement.Candidate, error) {
	query := params{"period_id": periodID, "search": filter.Search, "class": filter.Class, "ordering": ordering}
	var cands []placement.Candidate
	if err := c.do(ctx, rest.Get, "/placements/candidates", query.clean(), nil, &cands); err != nil {
		return nil, err
	}
	return cands, nil
}

func (c *Client) ListHosts(ctx context.Context, periodID string) ([]placement.Host, error) {
	var hosts []placement.Host
	if err := c.do(ctx, rest.Get, "/placements/hosts", params{"period_id": periodID}.clean(), nil, &hosts); err != nil {
		return nil, err
	}
	return hosts, nil
}

func (c *Client) ListAssignments(ctx context.Context, filter placement.AssignmentFilter) ([]placement.Assignment, error) {
	query := params{"period_id": filter.PeriodID, "host_id": filter.HostID}
	var asgmts []placement.Assignment
	if err := c.do(ctx, rest.Get, "/placements/assignments", query.clean(), nil, &asgmts); err != nil {
		return nil, err
	}
	return asgmts, nil
}

func (c *Client) ListSupervisors(ctx context.Context) ([]placement.Supervisor, error) {
	var sups []placement.Supervisor
	if err := c.do(ctx, rest.Get, "/placements/supervisors", nil, nil, &sups); err != nil {
		return nil, err
	}
	return sups, nil
}

// Assignments

func (c *Client) CreateAssignment(ctx context.Context, na placement.NewAssignment) (placement.Assignment, error) {
	var a placement.Assignment
	if err := c.do(ctx, rest.Post, "/placements/assignments", nil, na, &a); err != nil {
		return placement.Assignment{}, err
	}
	return a, nil
}

func (c *Client) DeleteAssignment(ctx context.Context, id string) error {
	return c.do(ctx, rest.Delete, "/placements/assignments/"+id, nil, nil, nil)
}

type params map[string]string

// clean drops the empty params.
func (p params) clean() map[string]string {
	for k, v := range p {
		if v == "" {
			delete(p, k)
		}
	}
	if len(p) == 0 {
		return nil
	}
	return p
}
