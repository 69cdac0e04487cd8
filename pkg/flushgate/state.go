package flushgate

// RoundState is the most recent transition of the append/flush round.
type RoundState int32

const (
	StateIdle RoundState = iota
	StateAppending
	StateWritten
	StateFlushing
	StateDurable
)

func (s RoundState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAppending:
		return "appending"
	case StateWritten:
		return "written"
	case StateFlushing:
		return "flushing"
	case StateDurable:
		return "durable"
	default:
		return "unknown"
	}
}
