// Package events provides an event system for run progress, consistency
// violations and fault injection notifications.
package events

import "time"

// EventType represents the type of event
type EventType string

const (
	// EventPhase is emitted when the controller enters a new phase
	EventPhase EventType = "phase"
	// EventViolation is emitted when a consistency check observes a mismatch
	EventViolation EventType = "violation"
	// EventChaosAttack is emitted when a fault is injected into the gateway
	EventChaosAttack EventType = "chaos_attack"
	// EventChaosClear is emitted when an injected fault is cleared
	EventChaosClear EventType = "chaos_clear"
	// EventProgress is emitted periodically while workers are running
	EventProgress EventType = "progress"
	// EventRunComplete is emitted once the report has been assembled or the run aborted
	EventRunComplete EventType = "run_complete"
)

// AttackType represents the type of injected fault
type AttackType string

const (
	AttackTypeSuspend AttackType = "suspend"
	AttackTypeDelay   AttackType = "delay"
	AttackTypeStale   AttackType = "stale"
)

// Event represents a run, consistency or chaos event
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Data      EventData `json:"data,omitempty"`
}

// EventData contains event-specific data
type EventData struct {
	RunID  string `json:"run_id,omitempty"`
	Phase  string `json:"phase,omitempty"`
	Status string `json:"status,omitempty"`

	Check        uint64 `json:"check,omitempty"`
	ExpectedLow  int64  `json:"expected_low,omitempty"`
	ExpectedHigh int64  `json:"expected_high,omitempty"`
	Observed     int64  `json:"observed,omitempty"`

	AttackType    AttackType `json:"attack_type,omitempty"`
	DelayDuration string     `json:"delay_duration,omitempty"`

	Calls   uint64 `json:"calls,omitempty"`
	Errors  uint64 `json:"errors,omitempty"`
	Active  int    `json:"active,omitempty"`
	Elapsed string `json:"elapsed,omitempty"`

	Error string `json:"error,omitempty"`
}

// NewPhaseEvent creates a phase transition event
func NewPhaseEvent(runID, phase string) Event {
	return Event{
		Type:      EventPhase,
		Timestamp: time.Now(),
		Source:    "controller",
		Data: EventData{
			RunID: runID,
			Phase: phase,
		},
	}
}

// NewViolationEvent creates a consistency violation event
func NewViolationEvent(check uint64, low, high, observed int64) Event {
	return Event{
		Type:      EventViolation,
		Timestamp: time.Now(),
		Source:    "verifier",
		Data: EventData{
			Check:        check,
			ExpectedLow:  low,
			ExpectedHigh: high,
			Observed:     observed,
		},
	}
}

// NewChaosAttackEvent creates a new chaos attack event
func NewChaosAttackEvent(target string, attackType AttackType) Event {
	return Event{
		Type:      EventChaosAttack,
		Timestamp: time.Now(),
		Source:    target,
		Data: EventData{
			AttackType: attackType,
		},
	}
}

// NewChaosAttackEventWithDelay creates a chaos attack event for delay injection
func NewChaosAttackEventWithDelay(target string, delay time.Duration) Event {
	return Event{
		Type:      EventChaosAttack,
		Timestamp: time.Now(),
		Source:    target,
		Data: EventData{
			AttackType:    AttackTypeDelay,
			DelayDuration: delay.String(),
		},
	}
}

// NewChaosClearEvent creates an event for a cleared fault
func NewChaosClearEvent(target string, attackType AttackType) Event {
	return Event{
		Type:      EventChaosClear,
		Timestamp: time.Now(),
		Source:    target,
		Data: EventData{
			AttackType: attackType,
		},
	}
}

// NewProgressEvent creates a worker progress event
func NewProgressEvent(calls, errors uint64, active int, elapsed time.Duration) Event {
	return Event{
		Type:      EventProgress,
		Timestamp: time.Now(),
		Source:    "workers",
		Data: EventData{
			Calls:   calls,
			Errors:  errors,
			Active:  active,
			Elapsed: elapsed.Round(time.Millisecond).String(),
		},
	}
}

// NewRunCompleteEvent creates a run completion event
func NewRunCompleteEvent(runID, status string, err error) Event {
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	return Event{
		Type:      EventRunComplete,
		Timestamp: time.Now(),
		Source:    "controller",
		Data: EventData{
			RunID:  runID,
			Status: status,
			Error:  errMsg,
		},
	}
}
