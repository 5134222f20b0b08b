package domain

import "strings"

// PartitionState tracks a partition through its process -> register chain.
type PartitionState string

const (
	StatePending     PartitionState = "PENDING"
	StateProcessing  PartitionState = "PROCESSING"
	StateStaged      PartitionState = "STAGED"
	StateStagedEmpty PartitionState = "STAGED_EMPTY"
	StateRegistered  PartitionState = "REGISTERED"
	StateFailed      PartitionState = "FAILED"
)

var stateTransitions = map[PartitionState][]PartitionState{
	StatePending:     {StateProcessing, StateFailed},
	StateProcessing:  {StateStaged, StateStagedEmpty, StateFailed},
	StateStaged:      {StateRegistered, StateFailed},
	StateStagedEmpty: {StateRegistered, StateFailed},
}

// CanTransition reports whether next may follow s.
func (s PartitionState) CanTransition(next PartitionState) bool {
	for _, allowed := range stateTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s PartitionState) Terminal() bool {
	return s == StateRegistered || s == StateFailed
}

// ParsePartitionState returns the state for a label (case-insensitive).
func ParsePartitionState(label string) (PartitionState, bool) {
	state := PartitionState(strings.ToUpper(strings.TrimSpace(label)))
	switch state {
	case StatePending, StateProcessing, StateStaged, StateStagedEmpty, StateRegistered, StateFailed:
		return state, true
	}
	return "", false
}
