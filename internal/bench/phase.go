package bench

// Phase はベンチマークの進行段階
type Phase int32

const (
	PhaseInit Phase = iota
	PhaseWarmup
	PhaseRunning
	PhaseDraining
	PhaseReport
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseInit:
		return "INIT"
	case PhaseWarmup:
		return "WARMUP"
	case PhaseRunning:
		return "RUNNING"
	case PhaseDraining:
		return "DRAINING"
	case PhaseReport:
		return "REPORT"
	case PhaseDone:
		return "DONE"
	default:
		return "UNKNOWN"
	}
}

// MarshalText は名前で出力する
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}
