package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kat-co/vala"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-pkl/core"
	"github.com/trezcool/masomo-pkl/core/placement"
)

type (
	// Directory lists the records a board is built from.
	Directory interface {
		ListEligibleCandidates(ctx context.Context, periodID string) ([]placement.Candidate, error)
		ListHosts(ctx context.Context, periodID string) ([]placement.Host, error)
		ListAssignments(ctx context.Context, filter placement.AssignmentFilter) ([]placement.Assignment, error)
		ListSupervisors(ctx context.Context) ([]placement.Supervisor, error)
	}

	// Assigner persists assignment changes.
	Assigner interface {
		CreateAssignment(ctx context.Context, na placement.NewAssignment) (placement.Assignment, error)
		DeleteAssignment(ctx context.Context, id string) error
	}

	// PeriodResolver resolves the period a board is scoped to.
	// ActivePeriod returns placement.ErrNoActivePeriod when there is none.
	PeriodResolver interface {
		ActivePeriod(ctx context.Context) (placement.Period, error)
		GetPeriod(ctx context.Context, id string) (placement.Period, error)
	}

	// Deps are the required collaborators of an Engine.
	Deps struct {
		Directory Directory
		Assigner  Assigner
		Periods   PeriodResolver
		Logger    core.Logger
	}

	Option func(*Engine)

	// Slot is an assignment on the board. Pending slots were applied locally
	// and are not confirmed by the backend yet; their ID is empty.
	Slot struct {
		placement.Assignment
		Pending bool `json:"pending"`
		ref     uint64
	}

	Engine struct {
		dir     Directory
		asg     Assigner
		periods PeriodResolver
		logger  core.Logger
		metrics placement.EngineMetrics
		nowFunc func() time.Time

		resyncTimeout time.Duration

		mu          sync.RWMutex
		ready       bool
		period      placement.Period
		rank        map[string]int // candidate id -> pool position
		pool        []placement.Candidate
		unassigned  []placement.Candidate
		hosts       []placement.Host
		slots       map[string][]Slot // host id -> slots
		supervisors []placement.Supervisor
		prefill     map[string]string // host id -> supervisor of its first assignment
		chosen      map[string]string // host id -> supervisor set by SetHostSupervisor
		dragging    string
		seq         uint64

		subMu   sync.Mutex
		subs    map[int]func(Event)
		nextSub int
	}
)

// WithMetrics sets the metrics the engine reports to.
func WithMetrics(m placement.EngineMetrics) Option {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithResyncTimeout bounds the resynchronization that follows a failed mutation.
func WithResyncTimeout(d time.Duration) Option {
	return func(e *Engine) { e.resyncTimeout = d }
}

func New(deps Deps, opts ...Option) *Engine {
	vala.BeginValidation().Validate(
		vala.IsNotNil(deps.Directory, "Directory"),
		vala.IsNotNil(deps.Assigner, "Assigner"),
		vala.IsNotNil(deps.Periods, "Periods"),
		vala.IsNotNil(deps.Logger, "Logger"),
	).CheckAndPanic()

	e := &Engine{
		dir:     deps.Directory,
		asg:     deps.Assigner,
		periods: deps.Periods,
		logger:  deps.Logger,
		metrics: placement.NopMetrics{},
		nowFunc: time.Now,
		prefill: make(map[string]string),
		chosen:  make(map[string]string),
		slots:   make(map[string][]Slot),
		rank:    make(map[string]int),
		subs:    make(map[int]func(Event)),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// board is a fully fetched state, built outside the lock.
type board struct {
	period      placement.Period
	rank        map[string]int
	pool        []placement.Candidate
	unassigned  []placement.Candidate
	hosts       []placement.Host
	slots       map[string][]Slot
	supervisors []placement.Supervisor
	prefill     map[string]string
}

// Initialize loads the board of the period from the backend, replacing any local state.
// An empty periodID selects the active period. On failure the engine is left empty and
// not ready; an unresolvable period yields placement.ErrNoActivePeriod.
func (e *Engine) Initialize(ctx context.Context, periodID string) error {
	b, err := e.fetch(ctx, periodID)
	if err != nil {
		e.mu.Lock()
		e.reset()
		e.mu.Unlock()
		e.notify(Event{Kind: Synced, Err: err})
		return err
	}

	e.mu.Lock()
	if b.period.ID != e.period.ID {
		// choices belong to the board of one period
		e.chosen = make(map[string]string)
	}
	e.ready = true
	e.period = b.period
	e.rank = b.rank
	e.pool = b.pool
	e.unassigned = b.unassigned
	e.hosts = b.hosts
	e.slots = b.slots
	e.supervisors = b.supervisors
	e.prefill = b.prefill
	e.dragging = ""
	for hostID, supID := range e.chosen {
		if _, ok := b.slots[hostID]; !ok || (supID != "" && !e.hasSupervisor(supID)) {
			delete(e.chosen, hostID)
		}
	}
	e.mu.Unlock()

	e.notify(Event{Kind: Synced, PeriodID: b.period.ID})
	return nil
}

func (e *Engine) fetch(ctx context.Context, periodID string) (*board, error) {
	period, err := e.resolvePeriod(ctx, periodID)
	if err != nil {
		return nil, err
	}

	cands, err := e.dir.ListEligibleCandidates(ctx, period.ID)
	if err != nil {
		return nil, errors.Wrap(err, "listing eligible candidates")
	}
	hosts, err := e.dir.ListHosts(ctx, period.ID)
	if err != nil {
		return nil, errors.Wrap(err, "listing hosts")
	}
	asgmts, err := e.dir.ListAssignments(ctx, placement.AssignmentFilter{PeriodID: period.ID})
	if err != nil {
		return nil, errors.Wrap(err, "listing assignments")
	}
	sups, err := e.dir.ListSupervisors(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "listing supervisors")
	}

	b := &board{
		period:      period,
		rank:        make(map[string]int, len(cands)+len(asgmts)),
		pool:        make([]placement.Candidate, 0, len(cands)+len(asgmts)),
		hosts:       hosts,
		slots:       make(map[string][]Slot, len(hosts)),
		supervisors: sups,
		prefill:     make(map[string]string, len(hosts)),
	}
	for _, h := range hosts {
		b.slots[h.ID] = []Slot{}
	}

	assigned := make(map[string]bool, len(asgmts))
	for _, a := range asgmts {
		if _, ok := b.slots[a.HostID]; !ok {
			e.logger.Warn(fmt.Sprintf("dropping assignment %s: unknown host %s", a.ID, a.HostID))
			continue
		}
		if assigned[a.CandidateID] {
			e.logger.Warn(fmt.Sprintf("dropping assignment %s: candidate %s assigned twice", a.ID, a.CandidateID))
			continue
		}
		if a.Candidate.ID == "" {
			a.Candidate.ID = a.CandidateID
		}
		assigned[a.CandidateID] = true
		b.slots[a.HostID] = append(b.slots[a.HostID], Slot{Assignment: a})
		if _, ok := b.prefill[a.HostID]; !ok && a.SupervisorID != "" {
			b.prefill[a.HostID] = a.SupervisorID
		}
	}

	b.unassigned = make([]placement.Candidate, 0, len(cands))
	for _, c := range cands {
		if assigned[c.ID] {
			continue
		}
		if _, dup := b.rank[c.ID]; dup {
			continue
		}
		b.rank[c.ID] = len(b.pool)
		b.pool = append(b.pool, c)
		b.unassigned = append(b.unassigned, c)
	}
	for _, h := range hosts {
		for _, s := range b.slots[h.ID] {
			b.rank[s.CandidateID] = len(b.pool)
			b.pool = append(b.pool, s.Candidate)
		}
	}
	return b, nil
}

func (e *Engine) resolvePeriod(ctx context.Context, periodID string) (placement.Period, error) {
	if periodID == "" {
		p, err := e.periods.ActivePeriod(ctx)
		if err != nil {
			if errors.Is(err, placement.ErrNoActivePeriod) {
				return placement.Period{}, placement.ErrNoActivePeriod
			}
			return placement.Period{}, errors.Wrap(err, "resolving active period")
		}
		return p, nil
	}

	p, err := e.periods.GetPeriod(ctx, periodID)
	if err != nil {
		if errors.Is(err, placement.ErrPeriodNotFound) {
			return placement.Period{}, placement.ErrNoActivePeriod
		}
		return placement.Period{}, errors.Wrap(err, "resolving period")
	}
	return p, nil
}

// reset empties the board. e.mu must be held.
func (e *Engine) reset() {
	e.ready = false
	e.period = placement.Period{}
	e.rank = make(map[string]int)
	e.pool = nil
	e.unassigned = nil
	e.hosts = nil
	e.slots = make(map[string][]Slot)
	e.supervisors = nil
	e.prefill = make(map[string]string)
	e.chosen = make(map[string]string)
	e.dragging = ""
}

// BeginMove marks the candidate as the drag subject. It reports whether the candidate can be moved.
func (e *Engine) BeginMove(candidateID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.ready || e.unassignedIndex(candidateID) < 0 {
		return false
	}
	e.dragging = candidateID
	return true
}

func (e *Engine) CancelMove() {
	e.mu.Lock()
	e.dragging = ""
	e.mu.Unlock()
}

// Dragging returns the current drag subject, if any.
func (e *Engine) Dragging() (string, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dragging, e.dragging != ""
}

// CompleteMove assigns an unassigned candidate to a host. The move is applied locally
// before the backend is asked to persist it.
// ErrNotReady, ErrNotUnassigned and ErrUnknownHost leave the board untouched.
// A backend failure reloads the board and returns a *MutationError.
func (e *Engine) CompleteMove(ctx context.Context, candidateID, hostID string) (placement.Assignment, error) {
	e.mu.Lock()
	if !e.ready {
		e.mu.Unlock()
		return placement.Assignment{}, ErrNotReady
	}
	idx := e.unassignedIndex(candidateID)
	if idx < 0 {
		e.mu.Unlock()
		return placement.Assignment{}, ErrNotUnassigned
	}
	if _, ok := e.slots[hostID]; !ok {
		e.mu.Unlock()
		return placement.Assignment{}, ErrUnknownHost
	}

	cand := e.unassigned[idx]
	e.unassigned = append(e.unassigned[:idx:idx], e.unassigned[idx+1:]...)
	e.seq++
	slot := Slot{
		Assignment: placement.Assignment{
			CandidateID:  cand.ID,
			HostID:       hostID,
			PeriodID:     e.period.ID,
			SupervisorID: e.hostSupervisor(hostID),
			Candidate:    cand,
			CreatedAt:    e.nowFunc().UTC(),
		},
		Pending: true,
		ref:     e.seq,
	}
	e.slots[hostID] = append(e.slots[hostID], slot)
	if e.dragging == candidateID {
		e.dragging = ""
	}
	periodID := e.period.ID
	e.mu.Unlock()

	e.metrics.MoveApplied()
	e.notify(Event{Kind: Moved, PeriodID: periodID, CandidateID: cand.ID, HostID: hostID})

	confirmed, err := e.asg.CreateAssignment(ctx, placement.NewAssignment{
		CandidateID:  cand.ID,
		HostID:       hostID,
		PeriodID:     periodID,
		SupervisorID: slot.SupervisorID,
	})
	if err != nil {
		return placement.Assignment{}, e.fail(ctx, &MutationError{
			Op:          OpAssign,
			CandidateID: cand.ID,
			HostID:      hostID,
			Err:         err,
		}, periodID)
	}

	if confirmed.Candidate.ID == "" {
		confirmed.Candidate = cand
	}
	e.confirm(slot.ref, confirmed)
	e.metrics.MoveConfirmed()
	e.notify(Event{
		Kind:         Confirmed,
		PeriodID:     periodID,
		CandidateID:  cand.ID,
		HostID:       hostID,
		AssignmentID: confirmed.ID,
	})
	return confirmed, nil
}

// confirm swaps the pending slot for the confirmed record.
// When a reload already replaced the board, the record is applied if the candidate is still unassigned.
func (e *Engine) confirm(ref uint64, a placement.Assignment) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.ready || a.PeriodID != e.period.ID {
		return
	}
	for hostID, slots := range e.slots {
		for i := range slots {
			if slots[i].ref == ref && slots[i].Pending {
				slots[i] = Slot{Assignment: a}
				if hostID != a.HostID {
					e.logger.Warn(fmt.Sprintf("assignment %s confirmed on host %s instead of %s", a.ID, a.HostID, hostID))
				}
				return
			}
			if slots[i].ID == a.ID {
				return
			}
		}
	}

	idx := e.unassignedIndex(a.CandidateID)
	if _, ok := e.slots[a.HostID]; !ok || idx < 0 {
		return
	}
	e.unassigned = append(e.unassigned[:idx:idx], e.unassigned[idx+1:]...)
	e.slots[a.HostID] = append(e.slots[a.HostID], Slot{Assignment: a})
}

// Unassign removes a confirmed assignment and returns its candidate to the unassigned
// collection, then asks the backend to delete it. A backend failure reloads the board and
// returns a *MutationError.
func (e *Engine) Unassign(ctx context.Context, assignmentID string) error {
	e.mu.Lock()
	if !e.ready {
		e.mu.Unlock()
		return ErrNotReady
	}
	hostID, idx := e.slotIndex(assignmentID)
	if idx < 0 {
		e.mu.Unlock()
		return ErrUnknownAssignment
	}

	slot := e.slots[hostID][idx]
	e.slots[hostID] = append(e.slots[hostID][:idx:idx], e.slots[hostID][idx+1:]...)
	e.insertUnassigned(slot.Candidate)
	periodID := e.period.ID
	e.mu.Unlock()

	e.metrics.MoveApplied()
	e.notify(Event{
		Kind:         Unassigned,
		PeriodID:     periodID,
		CandidateID:  slot.CandidateID,
		HostID:       hostID,
		AssignmentID: assignmentID,
	})

	if err := e.asg.DeleteAssignment(ctx, assignmentID); err != nil {
		return e.fail(ctx, &MutationError{
			Op:           OpUnassign,
			CandidateID:  slot.CandidateID,
			HostID:       hostID,
			AssignmentID: assignmentID,
			Err:          err,
		}, periodID)
	}
	e.metrics.MoveConfirmed()
	return nil
}

// fail reloads the board after a failed mutation and notifies subscribers.
// Timeouts and cancellations of ctx are handled like any other failure.
func (e *Engine) fail(ctx context.Context, merr *MutationError, periodID string) error {
	e.metrics.MutationFailed(merr.Op)
	e.logger.Error(fmt.Sprintf("placement %s failed", merr.Op), merr.Err)

	rctx := context.WithoutCancel(ctx)
	if e.resyncTimeout > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(rctx, e.resyncTimeout)
		defer cancel()
	}
	if err := e.Initialize(rctx, periodID); err != nil {
		merr.ResyncErr = err
		e.metrics.Resynced(false)
	} else {
		e.metrics.Resynced(true)
	}

	e.notify(Event{
		Kind:         Failed,
		PeriodID:     periodID,
		CandidateID:  merr.CandidateID,
		HostID:       merr.HostID,
		AssignmentID: merr.AssignmentID,
		Notice:       merr.Notice(),
		Err:          merr,
	})
	return merr
}

// SetHostSupervisor sets the supervisor used by the next moves to the host.
// An empty supervisorID clears the selection.
func (e *Engine) SetHostSupervisor(hostID, supervisorID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.ready {
		return ErrNotReady
	}
	if _, ok := e.slots[hostID]; !ok {
		return ErrUnknownHost
	}
	if supervisorID != "" && !e.hasSupervisor(supervisorID) {
		return ErrUnknownSupervisor
	}
	e.chosen[hostID] = supervisorID
	return nil
}

// Filter returns the unassigned candidates matching search and classLabel.
func (e *Engine) Filter(search, classLabel string) []placement.Candidate {
	return FilterCandidates(e.Unassigned(), search, classLabel)
}

// Accessors

func (e *Engine) Period() placement.Period {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.period
}

func (e *Engine) Ready() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ready
}

func (e *Engine) Unassigned() []placement.Candidate {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]placement.Candidate(nil), e.unassigned...)
}

// Hosts returns the hosts of the board; Filled counts the local slots.
func (e *Engine) Hosts() []placement.Host {
	e.mu.RLock()
	defer e.mu.RUnlock()

	hosts := make([]placement.Host, len(e.hosts))
	for i, h := range e.hosts {
		h.Filled = len(e.slots[h.ID])
		hosts[i] = h
	}
	return hosts
}

func (e *Engine) Assignments(hostID string) []Slot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Slot(nil), e.slots[hostID]...)
}

func (e *Engine) Supervisors() []placement.Supervisor {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]placement.Supervisor(nil), e.supervisors...)
}

func (e *Engine) HostSupervisor(hostID string) string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.hostSupervisor(hostID)
}

// Pool returns every candidate of the board, unassigned ones first.
func (e *Engine) Pool() []placement.Candidate {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]placement.Candidate(nil), e.pool...)
}

// Snapshot returns a consistent copy of the whole board.
func (e *Engine) Snapshot() Board {
	e.mu.RLock()
	defer e.mu.RUnlock()

	b := Board{
		Period:     e.period,
		Ready:      e.ready,
		Unassigned: append([]placement.Candidate(nil), e.unassigned...),
		Hosts:      make([]HostColumn, 0, len(e.hosts)),
	}
	for _, h := range e.hosts {
		h.Filled = len(e.slots[h.ID])
		b.Hosts = append(b.Hosts, HostColumn{
			Host:         h,
			SupervisorID: e.hostSupervisor(h.ID),
			Slots:        append([]Slot{}, e.slots[h.ID]...),
		})
	}
	return b
}

// helpers, e.mu must be held

func (e *Engine) unassignedIndex(candidateID string) int {
	for i, c := range e.unassigned {
		if c.ID == candidateID {
			return i
		}
	}
	return -1
}

// slotIndex finds a confirmed slot by assignment id.
func (e *Engine) slotIndex(assignmentID string) (string, int) {
	if assignmentID == "" {
		return "", -1
	}
	for hostID, slots := range e.slots {
		for i, s := range slots {
			if !s.Pending && s.ID == assignmentID {
				return hostID, i
			}
		}
	}
	return "", -1
}

// insertUnassigned puts the candidate back at its pool position.
func (e *Engine) insertUnassigned(c placement.Candidate) {
	r, ok := e.rank[c.ID]
	if !ok {
		e.rank[c.ID] = len(e.pool)
		e.pool = append(e.pool, c)
		e.unassigned = append(e.unassigned, c)
		return
	}
	pos := len(e.unassigned)
	for i, u := range e.unassigned {
		if ur, known := e.rank[u.ID]; !known || ur > r {
			pos = i
			break
		}
	}
	e.unassigned = append(e.unassigned, placement.Candidate{})
	copy(e.unassigned[pos+1:], e.unassigned[pos:])
	e.unassigned[pos] = c
}

func (e *Engine) hostSupervisor(hostID string) string {
	if supID, ok := e.chosen[hostID]; ok {
		return supID
	}
	return e.prefill[hostID]
}

func (e *Engine) hasSupervisor(id string) bool {
	for _, s := range e.supervisors {
		if s.ID == id {
			return true
		}
	}
	return false
}
