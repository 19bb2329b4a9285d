package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-pkl/core/placement"
)

// fakeBackend is an in-memory Directory, Assigner and PeriodResolver enforcing the
// same assignment rules as placement.Service.
type fakeBackend struct {
	mu sync.Mutex

	periods     []placement.Period
	candidates  []placement.Candidate
	hosts       []placement.Host
	supervisors []placement.Supervisor
	assignments []placement.Assignment
	seq         int

	// failures
	createErr error
	deleteErr error
	listErr   error
	// leaky lists assigned candidates as eligible too
	leaky bool
	// orphans are returned by ListAssignments on top of the stored assignments
	orphans []placement.Assignment

	beforeCreate func()
	beforeDelete func()
	creates      []placement.NewAssignment
	deletes      []string
}

var (
	_ Directory      = (*fakeBackend)(nil)
	_ Assigner       = (*fakeBackend)(nil)
	_ PeriodResolver = (*fakeBackend)(nil)
)

func (f *fakeBackend) ActivePeriod(ctx context.Context) (placement.Period, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.periods {
		if p.IsActive {
			return p, nil
		}
	}
	return placement.Period{}, placement.ErrNoActivePeriod
}

func (f *fakeBackend) GetPeriod(ctx context.Context, id string) (placement.Period, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.periods {
		if p.ID == id {
			return p, nil
		}
	}
	return placement.Period{}, placement.ErrPeriodNotFound
}

func (f *fakeBackend) ListEligibleCandidates(ctx context.Context, periodID string) ([]placement.Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var res []placement.Candidate
	for _, c := range f.candidates {
		if f.leaky || !f.isAssigned(c.ID, periodID) {
			res = append(res, c)
		}
	}
	return res, nil
}

func (f *fakeBackend) ListHosts(ctx context.Context, periodID string) ([]placement.Host, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	res := make([]placement.Host, len(f.hosts))
	for i, h := range f.hosts {
		h.Filled = f.filled(h.ID, periodID)
		res[i] = h
	}
	return res, nil
}

func (f *fakeBackend) ListAssignments(ctx context.Context, filter placement.AssignmentFilter) ([]placement.Assignment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var res []placement.Assignment
	for _, a := range f.assignments {
		if a.PeriodID == filter.PeriodID && (filter.HostID == "" || a.HostID == filter.HostID) {
			res = append(res, a)
		}
	}
	return append(res, f.orphans...), nil
}

func (f *fakeBackend) ListSupervisors(ctx context.Context) ([]placement.Supervisor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]placement.Supervisor(nil), f.supervisors...), nil
}

func (f *fakeBackend) CreateAssignment(ctx context.Context, na placement.NewAssignment) (placement.Assignment, error) {
	if f.beforeCreate != nil {
		f.beforeCreate()
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	f.creates = append(f.creates, na)
	if err := ctx.Err(); err != nil {
		return placement.Assignment{}, err
	}
	if f.createErr != nil {
		return placement.Assignment{}, f.createErr
	}
	if f.isAssigned(na.CandidateID, na.PeriodID) {
		return placement.Assignment{}, placement.ErrAlreadyAssigned
	}
	var host placement.Host
	for _, h := range f.hosts {
		if h.ID == na.HostID {
			host = h
		}
	}
	if host.ID == "" {
		return placement.Assignment{}, placement.ErrHostNotFound
	}
	if host.HasCapacity() && f.filled(host.ID, na.PeriodID) >= host.Capacity {
		return placement.Assignment{}, placement.ErrHostAtCapacity
	}

	f.seq++
	a := placement.Assignment{
		ID:           fmt.Sprintf("a%d", f.seq),
		CandidateID:  na.CandidateID,
		HostID:       na.HostID,
		PeriodID:     na.PeriodID,
		SupervisorID: na.SupervisorID,
	}
	for _, c := range f.candidates {
		if c.ID == na.CandidateID {
			a.Candidate = c
		}
	}
	f.assignments = append(f.assignments, a)
	return a, nil
}

func (f *fakeBackend) DeleteAssignment(ctx context.Context, id string) error {
	if f.beforeDelete != nil {
		f.beforeDelete()
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	f.deletes = append(f.deletes, id)
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.deleteErr != nil {
		return f.deleteErr
	}
	for i, a := range f.assignments {
		if a.ID == id {
			f.assignments = append(f.assignments[:i], f.assignments[i+1:]...)
			return nil
		}
	}
	return placement.ErrAssignmentNotFound
}

// assign stores an assignment directly.
func (f *fakeBackend) assign(candidateID, hostID, periodID, supervisorID string) placement.Assignment {
	a, err := f.CreateAssignment(context.Background(), placement.NewAssignment{
		CandidateID:  candidateID,
		HostID:       hostID,
		PeriodID:     periodID,
		SupervisorID: supervisorID,
	})
	if err != nil {
		panic(errors.Wrap(err, "assign"))
	}
	f.creates = nil
	return a
}

func (f *fakeBackend) calls() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.creates), len(f.deletes)
}

func (f *fakeBackend) isAssigned(candidateID, periodID string) bool {
	for _, a := range f.assignments {
		if a.CandidateID == candidateID && a.PeriodID == periodID {
			return true
		}
	}
	return false
}

func (f *fakeBackend) filled(hostID, periodID string) int {
	var n int
	for _, a := range f.assignments {
		if a.HostID == hostID && a.PeriodID == periodID {
			n++
		}
	}
	return n
}
