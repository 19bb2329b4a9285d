package engine

type EventKind int

const (
	// Synced follows every Initialize; Err is set when loading failed.
	Synced EventKind = iota + 1
	Moved
	Confirmed
	Unassigned
	// Failed follows the resync of a failed mutation and carries the user notice.
	Failed
)

func (k EventKind) String() string {
	switch k {
	case Synced:
		return "synced"
	case Moved:
		return "moved"
	case Confirmed:
		return "confirmed"
	case Unassigned:
		return "unassigned"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Event tells subscribers that the board changed.
type Event struct {
	Kind         EventKind
	PeriodID     string
	CandidateID  string
	HostID       string
	AssignmentID string
	Notice       string
	Err          error
}

// Subscribe registers fn to be called after every state change, outside of the engine lock.
// fn may read the engine but must not block. The returned func unsubscribes.
func (e *Engine) Subscribe(fn func(Event)) func() {
	e.subMu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = fn
	e.subMu.Unlock()

	return func() {
		e.subMu.Lock()
		delete(e.subs, id)
		e.subMu.Unlock()
	}
}

func (e *Engine) notify(ev Event) {
	e.subMu.Lock()
	fns := make([]func(Event), 0, len(e.subs))
	for id := 0; id < e.nextSub; id++ {
		if fn, ok := e.subs[id]; ok {
			fns = append(fns, fn)
		}
	}
	e.subMu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}
