package pipeline

// State is where an iteration of the loop currently is.
type State int

const (
	StateIdle State = iota
	StateCollecting
	StateConverting
	StateVisualizing
	StatePublishing
	StateSleeping
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCollecting:
		return "collecting"
	case StateConverting:
		return "converting"
	case StateVisualizing:
		return "visualizing"
	case StatePublishing:
		return "publishing"
	case StateSleeping:
		return "sleeping"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}
