package recorder

// State is the lifecycle position of the current recording.
type State int

const (
	Idle State = iota
	Recording
	Assembling
	Dispatching
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	case Assembling:
		return "assembling"
	case Dispatching:
		return "dispatching"
	case Done:
		return "done"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Terminal reports whether a new recording may start from s.
func (s State) Terminal() bool {
	return s == Idle || s == Done || s == Failed
}

type StopReason string

const (
	StopManual    StopReason = "manual"
	StopTimeout   StopReason = "timeout"
	StopCancelled StopReason = "cancelled"
)
