package harness

// State is the phase of a training run.
type State int

// Training states.
const (
	Idle State = iota
	Running
	Restarting
	EarlyStopped
	Completed
	Interrupted
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Restarting:
		return "restarting"
	case EarlyStopped:
		return "early_stopped"
	case Completed:
		return "completed"
	case Interrupted:
		return "interrupted"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Result summarises a call to Fit.
type Result struct {
	State        State
	Step         int
	BestLoss     float64
	BestStep     int
	Restarts     int
	LearningRate float32
}
