package session

// State is the session lock. A session runs at most one network-mutating operation at a time,
// whichever kind it is.
type State int

const (
	// Idle means no operation is outstanding.
	Idle State = iota
	// SubmittingMaterial means a material submission is waiting for the remote service.
	SubmittingMaterial
	// AwaitingAnswer means a query is waiting for, or streaming, its answer.
	AwaitingAnswer
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case SubmittingMaterial:
		return "submitting_material"
	case AwaitingAnswer:
		return "awaiting_answer"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler so that State renders by name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
