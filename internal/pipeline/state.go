package pipeline

// State is the lifecycle of a Runner. It only moves forward.
type State int32

const (
	Starting State = iota
	Subscribed
	Running
	Draining
	Closed
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Subscribed:
		return "subscribed"
	case Running:
		return "running"
	case Draining:
		return "draining"
	case Closed:
		return "closed"
	}
	return "unknown"
}
