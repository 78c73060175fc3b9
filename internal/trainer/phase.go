package trainer

// Phase is the position of a Run in its step cycle:
//
//	Idle → Estimating → Projecting (conditional) → Applying → Idle
//
// and Done once the step budget is exhausted.
type Phase int32

// Run phases.
const (
	PhaseIdle Phase = iota
	PhaseEstimating
	PhaseProjecting
	PhaseApplying
	PhaseDone
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseEstimating:
		return "estimating"
	case PhaseProjecting:
		return "projecting"
	case PhaseApplying:
		return "applying"
	case PhaseDone:
		return "done"
	default:
		return "unknown"
	}
}
