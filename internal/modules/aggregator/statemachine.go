// Package aggregator consumes persisted instrument events and triggers
// re-aggregation, gated by a pause/resume state machine.
package aggregator

// State of the aggregator loop.
type State string

const (
	Running State = "running"
	Paused  State = "paused"
)

// input is one stimulus fed to the state machine.
type input int

const (
	inputTick input = iota
	inputPause
	inputResume
)

// effect is the side effect a transition asks its owner to perform.
type effect int

const (
	effectNone effect = iota
	// effectPersistState - the state changed and must be written through.
	effectPersistState
	// effectCheckEvents - poll for and process one pending instrument event.
	effectCheckEvents
	// effectIgnored - the input was dropped; log, do nothing.
	effectIgnored
)

// transition is the pure state machine: ticks only produce work while
// Running, and only pause/resume change the persisted state.
func transition(state State, in input) (State, effect) {
	switch in {
	case inputTick:
		if state == Paused {
			return state, effectIgnored
		}
		return state, effectCheckEvents
	case inputPause:
		if state == Paused {
			return state, effectNone
		}
		return Paused, effectPersistState
	case inputResume:
		if state == Running {
			return state, effectNone
		}
		return Running, effectPersistState
	default:
		return state, effectIgnored
	}
}
