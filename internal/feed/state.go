package feed

import (
	"fmt"
	"slices"
)

// State is the lifecycle state of a subscription.
type State string

const (
	Idle       State = "IDLE"
	Subscribed State = "SUBSCRIBED"
	Cancelled  State = "CANCELLED"
	Failed     State = "FAILED"
)

// validTransitions defines allowed state transitions. Cancelled and Failed are terminal.
var validTransitions = map[State][]State{
	Idle:       {Subscribed, Cancelled, Failed},
	Subscribed: {Cancelled, Failed},
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return len(validTransitions[s]) == 0
}

func checkTransition(from, to State) error {
	if !slices.Contains(validTransitions[from], to) {
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	return nil
}
