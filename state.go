package shuttle

import (
	"fmt"
	"time"
)

// JobState is the processing state of a queued job.
type JobState int

const (
	StateUnknown JobState = iota
	StateQueued
	StateInvocationPromptPending
	StateAgentInvoking
	StateNotifying
	StateDone
	StateFailed
)

var stateNames = map[JobState]string{
	StateUnknown:                 "Unknown",
	StateQueued:                  "Queued",
	StateInvocationPromptPending: "InvocationPromptPending",
	StateAgentInvoking:           "AgentInvoking",
	StateNotifying:               "Notifying",
	StateDone:                    "Done",
	StateFailed:                  "Failed",
}

var transitions = map[JobState][]JobState{
	StateUnknown:                 {StateQueued},
	StateQueued:                  {StateInvocationPromptPending},
	StateInvocationPromptPending: {StateAgentInvoking, StateDone, StateFailed},
	StateAgentInvoking:           {StateNotifying, StateFailed},
	StateNotifying:               {StateDone},
}

func (s JobState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("JobState(%d)", int(s))
}

// MarshalText renders the state name.
func (s JobState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether no further transition can leave s.
func (s JobState) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// CanTransition reports whether a job may move from s to next.
func (s JobState) CanTransition(next JobState) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Transition describes one state change of a job.
type Transition struct {
	JobID     string
	EventName string
	From      JobState
	To        JobState
	// Err is set when To is StateFailed.
	Err error
	At  time.Time
}
