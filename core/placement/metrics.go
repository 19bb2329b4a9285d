package placement

// Rejection reasons reported to ServiceMetrics.AssignmentRejected.
const (
	RejectedInvalid         = "invalid"
	RejectedAlreadyAssigned = "already_assigned"
	RejectedHostAtCapacity  = "host_at_capacity"
)

// ServiceMetrics observes server side assignment changes.
type ServiceMetrics interface {
	AssignmentCreated()
	AssignmentRejected(reason string)
	AssignmentDeleted()
}

// EngineMetrics observes the optimistic moves of a reconciliation engine.
type EngineMetrics interface {
	MoveApplied()
	MoveConfirmed()
	MutationFailed(op string)
	Resynced(ok bool)
}

// NopMetrics discards everything.
type NopMetrics struct{}

var (
	_ ServiceMetrics = NopMetrics{}
	_ EngineMetrics  = NopMetrics{}
)

func (NopMetrics) AssignmentCreated()        {}
func (NopMetrics) AssignmentRejected(string) {}
func (NopMetrics) AssignmentDeleted()        {}
func (NopMetrics) MoveApplied()              {}
func (NopMetrics) MoveConfirmed()            {}
func (NopMetrics) MutationFailed(string)     {}
func (NopMetrics) Resynced(bool)             {}
