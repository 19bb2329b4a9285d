package placement

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kat-co/vala"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-pkl/core"
)

var (
	// errors
	ErrNoActivePeriod     = errors.New("no active period")
	ErrPeriodNotFound     = errors.New("period not found")
	ErrCandidateNotFound  = errors.New("candidate not found")
	ErrHostNotFound       = errors.New("host not found")
	ErrSupervisorNotFound = errors.New("supervisor not found")
	ErrAssignmentNotFound = errors.New("assignment not found")
	ErrAlreadyAssigned    = errors.New("candidate is already assigned for this period")
	ErrHostAtCapacity     = errors.New("host is at capacity")
)

const (
	assignmentTmplName     = "assignment_created"
	assignmentEmailSubject = "New internship placement"
)

type (
	Repository interface {
		CreatePeriod(ctx context.Context, p Period) (Period, error)
		QueryPeriods(ctx context.Context) ([]Period, error)
		// GetPeriod returns ErrPeriodNotFound when there is no such Period.
		GetPeriod(ctx context.Context, id string) (Period, error)
		// GetActivePeriod returns ErrNoActivePeriod when no Period is active.
		GetActivePeriod(ctx context.Context) (Period, error)
		// ActivatePeriod activates the Period and deactivates all the others.
		ActivatePeriod(ctx context.Context, id string) error

		CreateCandidate(ctx context.Context, c Candidate) (Candidate, error)
		GetCandidate(ctx context.Context, id string) (Candidate, error)
		// QueryEligibleCandidates returns the candidates without an assignment in the period.
		QueryEligibleCandidates(ctx context.Context, periodID string, filter *CandidateFilter, ordering []core.DBOrdering) ([]Candidate, error)

		CreateHost(ctx context.Context, h Host) (Host, error)
		// GetHost returns the Host with its Filled count for the period.
		GetHost(ctx context.Context, id, periodID string) (Host, error)
		QueryHosts(ctx context.Context, periodID string) ([]Host, error)

		CreateSupervisor(ctx context.Context, s Supervisor) (Supervisor, error)
		GetSupervisor(ctx context.Context, id string) (Supervisor, error)
		QuerySupervisors(ctx context.Context) ([]Supervisor, error)

		// CreateAssignment inserts the assignment unless the candidate is already assigned for the
		// period (ErrAlreadyAssigned) or the host reached its capacity (ErrHostAtCapacity).
		CreateAssignment(ctx context.Context, a Assignment) (Assignment, error)
		GetAssignment(ctx context.Context, id string) (Assignment, error)
		QueryAssignments(ctx context.Context, filter AssignmentFilter) ([]Assignment, error)
		DeleteAssignment(ctx context.Context, id string) error
	}

	// Service holds the placement rules on the server side.
	Service struct {
		repo     Repository
		mailSvc  core.EmailService
		conf     *core.Config
		logger   core.Logger
		validate *validator.Validate
		metrics  ServiceMetrics
		nowFunc  func() time.Time
	}
)

func NewService(
	repo Repository,
	mailSvc core.EmailService,
	conf *core.Config,
	logger core.Logger,
	validate *validator.Validate,
	metrics ServiceMetrics,
) *Service {
	vala.BeginValidation().Validate(
		vala.IsNotNil(repo, "repo"),
		vala.IsNotNil(mailSvc, "mailSvc"),
		vala.IsNotNil(conf, "conf"),
		vala.IsNotNil(logger, "logger"),
		vala.IsNotNil(validate, "validate"),
	).CheckAndPanic()

	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &Service{
		repo:     repo,
		mailSvc:  mailSvc,
		conf:     conf,
		logger:   logger,
		validate: validate,
		metrics:  metrics,
		nowFunc:  time.Now,
	}
}

// Periods

func (svc *Service) CreatePeriod(ctx context.Context, np NewPeriod) (Period, error) {
	if err := np.Validate(svc.validate); err != nil {
		return Period{}, err
	}
	p, err := svc.repo.CreatePeriod(ctx, Period{
		Name:      np.Name,
		StartDate: np.StartDate.UTC(),
		EndDate:   np.EndDate.UTC(),
	})
	if err != nil {
		return Period{}, err
	}
	if np.IsActive {
		if err = svc.repo.ActivatePeriod(ctx, p.ID); err != nil {
			return Period{}, errors.Wrap(err, "activating period")
		}
		p.IsActive = true
	}
	return p, nil
}

func (svc *Service) QueryPeriods(ctx context.Context) ([]Period, error) {
	return svc.repo.QueryPeriods(ctx)
}

func (svc *Service) GetPeriod(ctx context.Context, id string) (Period, error) {
	return svc.repo.GetPeriod(ctx, id)
}

func (svc *Service) ActivePeriod(ctx context.Context) (Period, error) {
	return svc.repo.GetActivePeriod(ctx)
}

func (svc *Service) ActivatePeriod(ctx context.Context, id string) (Period, error) {
	if _, err := svc.repo.GetPeriod(ctx, id); err != nil {
		return Period{}, err
	}
	if err := svc.repo.ActivatePeriod(ctx, id); err != nil {
		return Period{}, errors.Wrap(err, "activating period")
	}
	return svc.repo.GetPeriod(ctx, id)
}

// Directory

func (svc *Service) CreateCandidate(ctx context.Context, nc NewCandidate) (Candidate, error) {
	if err := nc.Validate(svc.validate); err != nil {
		return Candidate{}, err
	}
	return svc.repo.CreateCandidate(ctx, Candidate{
		Name:          nc.Name,
		ClassLabel:    nc.ClassLabel,
		Department:    nc.Department,
		StudentNumber: nc.StudentNumber,
	})
}

func (svc *Service) CreateHost(ctx context.Context, nh NewHost) (Host, error) {
	if err := nh.Validate(svc.validate); err != nil {
		return Host{}, err
	}
	return svc.repo.CreateHost(ctx, Host{Name: nh.Name, Address: nh.Address, Capacity: nh.Capacity})
}

func (svc *Service) CreateSupervisor(ctx context.Context, ns NewSupervisor) (Supervisor, error) {
	if err := ns.Validate(svc.validate); err != nil {
		return Supervisor{}, err
	}
	return svc.repo.CreateSupervisor(ctx, Supervisor{Name: ns.Name, Email: ns.Email})
}

// ListEligibleCandidates returns the candidates that have no assignment in the period.
func (svc *Service) ListEligibleCandidates(ctx context.Context, periodID string) ([]Candidate, error) {
	return svc.QueryEligibleCandidates(ctx, periodID, nil, nil)
}

func (svc *Service) QueryEligibleCandidates(
	ctx context.Context,
	periodID string,
	filter *CandidateFilter,
	ordering []core.DBOrdering,
) ([]Candidate, error) {
	if _, err := svc.repo.GetPeriod(ctx, periodID); err != nil {
		return nil, err
	}
	return svc.repo.QueryEligibleCandidates(ctx, periodID, filter, ordering)
}

func (svc *Service) ListHosts(ctx context.Context, periodID string) ([]Host, error) {
	return svc.repo.QueryHosts(ctx, periodID)
}

func (svc *Service) ListSupervisors(ctx context.Context) ([]Supervisor, error) {
	return svc.repo.QuerySupervisors(ctx)
}

func (svc *Service) ListAssignments(ctx context.Context, filter AssignmentFilter) ([]Assignment, error) {
	return svc.repo.QueryAssignments(ctx, filter)
}

// Assignments

// CreateAssignment places a candidate at a host for a period.
// Rule violations are returned as *core.ValidationError.
func (svc *Service) CreateAssignment(ctx context.Context, na NewAssignment) (Assignment, error) {
	if err := na.Validate(svc.validate); err != nil {
		svc.metrics.AssignmentRejected(RejectedInvalid)
		return Assignment{}, err
	}

	period, err := svc.repo.GetPeriod(ctx, na.PeriodID)
	if err != nil {
		return Assignment{}, svc.reject(err, ErrPeriodNotFound, "period_id", RejectedInvalid)
	}
	candidate, err := svc.repo.GetCandidate(ctx, na.CandidateID)
	if err != nil {
		return Assignment{}, svc.reject(err, ErrCandidateNotFound, "candidate_id", RejectedInvalid)
	}
	host, err := svc.repo.GetHost(ctx, na.HostID, na.PeriodID)
	if err != nil {
		return Assignment{}, svc.reject(err, ErrHostNotFound, "host_id", RejectedInvalid)
	}
	var supervisor Supervisor
	if na.SupervisorID != "" {
		if supervisor, err = svc.repo.GetSupervisor(ctx, na.SupervisorID); err != nil {
			return Assignment{}, svc.reject(err, ErrSupervisorNotFound, "supervisor_id", RejectedInvalid)
		}
	}

	asgmt, err := svc.repo.CreateAssignment(ctx, Assignment{
		CandidateID:  candidate.ID,
		HostID:       host.ID,
		PeriodID:     period.ID,
		SupervisorID: supervisor.ID,
		Candidate:    candidate,
		CreatedAt:    svc.nowFunc().UTC(),
	})
	if err != nil {
		switch errors.Cause(err) {
		case ErrAlreadyAssigned:
			return Assignment{}, svc.reject(err, ErrAlreadyAssigned, "candidate_id", RejectedAlreadyAssigned)
		case ErrHostAtCapacity:
			return Assignment{}, svc.reject(err, ErrHostAtCapacity, "host_id", RejectedHostAtCapacity)
		default:
			return Assignment{}, errors.Wrap(err, "creating assignment")
		}
	}
	svc.metrics.AssignmentCreated()

	if supervisor.Email != "" {
		svc.sendAssignmentMail(asgmt, period, host, supervisor)
	}
	return asgmt, nil
}

func (svc *Service) DeleteAssignment(ctx context.Context, id string) error {
	if err := svc.repo.DeleteAssignment(ctx, id); err != nil {
		return err
	}
	svc.metrics.AssignmentDeleted()
	return nil
}

// reject turns a lookup or insert error matching sentinel into a field ValidationError.
func (svc *Service) reject(err, sentinel error, field, reason string) error {
	if errors.Cause(err) != sentinel {
		return err
	}
	svc.metrics.AssignmentRejected(reason)
	return core.NewValidationError(sentinel, core.FieldError{Field: field, Error: sentinel.Error()})
}

type assignmentMailData struct {
	SupervisorName string
	CandidateName  string
	CandidateClass string
	HostName       string
	PeriodName     string
	PeriodStart    string
	PeriodEnd      string
}

func (svc *Service) sendAssignmentMail(a Assignment, p Period, h Host, s Supervisor) {
	msg := &core.EmailMessage{
		To:           []mail.Address{{Name: s.Name, Address: s.Email}},
		Subject:      assignmentEmailSubject,
		TemplateName: assignmentTmplName,
		TemplateData: assignmentMailData{
			SupervisorName: s.Name,
			CandidateName:  a.Candidate.Name,
			CandidateClass: a.Candidate.ClassLabel,
			HostName:       h.Name,
			PeriodName:     p.Name,
			PeriodStart:    p.StartDate.Format(DateLayout),
			PeriodEnd:      p.EndDate.Format(DateLayout),
		},
	}
	svc.logger.Debug(fmt.Sprintf("sending placement notice to %s", s.Email))
	svc.mailSvc.SendMessages(msg)
}
