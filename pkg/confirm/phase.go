package confirm

// Phase is the single state variable of a confirmation attempt
type Phase string

const (
	PhaseIdle                  Phase = "idle"
	PhaseReview                Phase = "review"
	PhaseSafetyCheck           Phase = "safety_check"
	PhaseAwaitingConfirmations Phase = "awaiting_confirmations"
	PhaseRefreshing            Phase = "refreshing"
	PhaseBuilding              Phase = "building"
	PhaseSigning               Phase = "signing"
	PhaseExecuting             Phase = "executing"
	PhaseCompleted             Phase = "completed"
	PhaseCancelled             Phase = "cancelled" // user
	PhaseFailed                Phase = "failed"    // system, see Ticket.Err
)

// order of the main path; off-path phases are absent
var order = map[Phase]int{
	PhaseIdle:                  0,
	PhaseReview:                1,
	PhaseSafetyCheck:           2,
	PhaseAwaitingConfirmations: 3,
	PhaseRefreshing:            4,
	PhaseBuilding:              5,
	PhaseSigning:               6,
	PhaseExecuting:             7,
	PhaseCompleted:             8,
}

func (p Phase) String() string { return string(p) }

// Terminal reports whether no further transition is possible
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseCancelled || p == PhaseFailed
}

// CanAdvanceTo enforces forward-only progression. Cancelled and Failed are
// reachable from any non-idle, non-terminal phase.
func (p Phase) CanAdvanceTo(next Phase) bool {
	if p.Terminal() {
		return false
	}
	if next == PhaseCancelled || next == PhaseFailed {
		return p != PhaseIdle
	}
	from, ok1 := order[p]
	to, ok2 := order[next]
	return ok1 && ok2 && to > from
}

// preSigning phases can be abandoned synchronously
func (p Phase) preSigning() bool {
	switch p {
	case PhaseReview, PhaseSafetyCheck, PhaseAwaitingConfirmations, PhaseRefreshing, PhaseBuilding:
		return true
	}
	return false
}
