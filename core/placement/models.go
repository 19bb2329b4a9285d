package placement

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/masomo-pkl/core"
)

// DateLayout is the wire format of Period dates.
const DateLayout = "2006-01-02"

// Period is a school-term time window scoping eligibility and assignments.
type Period struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
	IsActive  bool      `json:"is_active"`
}

// Candidate is a student eligible for internship placement.
type Candidate struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	ClassLabel    string `json:"class"`
	Department    string `json:"department"`
	StudentNumber string `json:"student_number,omitempty"`
}

// Host is a partner organization offering internship slots.
type Host struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Address  string `json:"address,omitempty"`
	Capacity int    `json:"capacity,omitempty"` // 0: unlimited
	Filled   int    `json:"filled"`             // assignments in the listed period
}

func (h Host) HasCapacity() bool { return h.Capacity > 0 }

// Supervisor is a staff member overseeing internships.
type Supervisor struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// Assignment links one Candidate to one Host for one Period.
type Assignment struct {
	ID           string    `json:"id"`
	CandidateID  string    `json:"candidate_id"`
	HostID       string    `json:"host_id"`
	PeriodID     string    `json:"period_id"`
	SupervisorID string    `json:"supervisor_id,omitempty"`
	Candidate    Candidate `json:"candidate"`
	CreatedAt    time.Time `json:"created_at"` // UTC
}

// NewPeriod contains information needed to create a new Period.
type NewPeriod struct {
	Name      string    `json:"name" yaml:"name" validate:"notblank"`
	StartDate time.Time `json:"start_date" yaml:"start_date" validate:"required"`
	EndDate   time.Time `json:"end_date" yaml:"end_date" validate:"required"`
	IsActive  bool      `json:"is_active" yaml:"is_active"`
}

func (np *NewPeriod) Validate(validate *validator.Validate) error {
	np.Name = core.CleanString(np.Name)
	return validate.Struct(np)
}

// NewCandidate contains information needed to register a new Candidate.
type NewCandidate struct {
	Name          string `json:"name" yaml:"name" validate:"notblank"`
	ClassLabel    string `json:"class" yaml:"class" validate:"notblank"`
	Department    string `json:"department" yaml:"department"`
	StudentNumber string `json:"student_number" yaml:"student_number" validate:"omitempty,alphanum"`
}

func (nc *NewCandidate) Validate(validate *validator.Validate) error {
	nc.Name = core.CleanString(nc.Name)
	nc.ClassLabel = core.CleanString(nc.ClassLabel)
	nc.Department = core.CleanString(nc.Department)
	nc.StudentNumber = core.CleanString(nc.StudentNumber)
	return validate.Struct(nc)
}

// NewHost contains information needed to register a new Host.
type NewHost struct {
	Name     string `json:"name" yaml:"name" validate:"notblank"`
	Address  string `json:"address" yaml:"address"`
	Capacity int    `json:"capacity" yaml:"capacity" validate:"min=0"`
}

func (nh *NewHost) Validate(validate *validator.Validate) error {
	nh.Name = core.CleanString(nh.Name)
	nh.Address = core.CleanString(nh.Address)
	return validate.Struct(nh)
}

// NewSupervisor contains information needed to register a new Supervisor.
type NewSupervisor struct {
	Name  string `json:"name" yaml:"name" validate:"notblank"`
	Email string `json:"email" yaml:"email" validate:"omitempty,email"`
}

func (ns *NewSupervisor) Validate(validate *validator.Validate) error {
	ns.Name = core.CleanString(ns.Name)
	ns.Email = core.CleanString(ns.Email, true /* lower */)
	return validate.Struct(ns)
}

// NewAssignment contains information needed to assign a Candidate to a Host.
type NewAssignment struct {
	CandidateID  string `json:"candidate_id" validate:"required,uuid"`
	HostID       string `json:"host_id" validate:"required,uuid"`
	PeriodID     string `json:"period_id" validate:"required,uuid"`
	SupervisorID string `json:"supervisor_id,omitempty" validate:"omitempty,uuid"`
}

func (na *NewAssignment) Validate(validate *validator.Validate) error {
	na.CandidateID = core.CleanString(na.CandidateID, true /* lower */)
	na.HostID = core.CleanString(na.HostID, true /* lower */)
	na.PeriodID = core.CleanString(na.PeriodID, true /* lower */)
	na.SupervisorID = core.CleanString(na.SupervisorID, true /* lower */)
	return validate.Struct(na)
}

// CandidateFilter narrows the eligible candidates of a period.
// Search does a case-insensitive match on the name; Class must match exactly.
type CandidateFilter struct {
	Search string `query:"search"`
	Class  string `query:"class"`
}

// Clean trims the search term. Class is left as is since it must match exactly.
func (cf *CandidateFilter) Clean() {
	cf.Search = core.CleanString(cf.Search)
}

func (cf CandidateFilter) Match(c Candidate) bool {
	if cf.Class != "" && c.ClassLabel != cf.Class {
		return false
	}
	if cf.Search != "" && !strings.Contains(strings.ToLower(c.Name), strings.ToLower(cf.Search)) {
		return false
	}
	return true
}

// AssignmentFilter selects the assignments of a period, optionally of one host.
type AssignmentFilter struct {
	PeriodID string `query:"period_id"`
	HostID   string `query:"host_id"`
}
