// Package session implements the per-connection finite-state machine (C3)
// and the control-channel handshake/query/reconnect protocol (C4).
package session

import (
	"fmt"

	"github.com/veles-go/master/pkg/types"
)

// State is one of the five fixed Session FSM states (§4.3).
type State string

const (
	StateInit       State = "init"
	StateWait       State = "wait"
	StateWork       State = "work"
	StateGettingJob State = "getting_job"
	StateIdle       State = "idle"
)

// Event is one of the fixed FSM events (§4.3). Replacing veles' reflective
// fysom callback table with this enum + transition function is the
// conversion Design Notes §9 calls for ("Dynamic callbacks (FSM)").
type Event string

const (
	EventConnect     Event = "connect"
	EventIdentify    Event = "identify"
	EventRequestJob  Event = "request_job"
	EventObtainJob   Event = "obtain_job"
	EventRefuseJob   Event = "refuse_job"
	EventPostponeJob Event = "postpone_job"
	EventIdle        Event = "idle"
	EventDrop        Event = "drop"
)

// transition is keyed by (from, event); "*" in the spec's drop row is
// handled by a fallthrough check in Apply rather than one entry per state,
// since drop must be reachable from every state including ones added later.
var transitions = map[State]map[Event]State{
	StateInit: {
		EventConnect: StateWait,
	},
	StateWait: {
		EventIdentify: StateWork,
	},
	StateWork: {
		EventRequestJob: StateGettingJob,
		EventIdle:       StateIdle,
	},
	StateGettingJob: {
		EventObtainJob:   StateWork,
		EventRefuseJob:   StateWork,
		EventPostponeJob: StateWork,
	},
	StateIdle: {
		EventRequestJob: StateGettingJob,
	},
}

// nodeStateOnEntry maps the FSM state reached by an event to the
// NodeRecord.State entry action (§4.3: "obtain_job → Working; identify,
// request_job, refuse_job, postpone_job, idle → Waiting; drop → Offline").
var nodeStateOnEntry = map[Event]types.NodeState{
	EventObtainJob:   types.NodeWorking,
	EventIdentify:    types.NodeWaiting,
	EventRequestJob:  types.NodeWaiting,
	EventRefuseJob:   types.NodeWaiting,
	EventPostponeJob: types.NodeWaiting,
	EventIdle:        types.NodeWaiting,
	EventDrop:        types.NodeOffline,
}

// FSM is the per-session state machine. It carries no reference back to the
// Session or Registry (§9 "Cyclic references") — callers own lookup.
type FSM struct {
	state State
}

// NewFSM creates an FSM in its initial state.
func NewFSM() *FSM {
	return &FSM{state: StateInit}
}

// State returns the current FSM state.
func (f *FSM) State() State { return f.state }

// Apply runs event against the current state, returning the NodeRecord
// entry-action state to apply alongside it. drop is valid from any state
// and is idempotent, satisfying "must be safe from any state, including
// during pending asynchronous callbacks" (§4.3).
func (f *FSM) Apply(ev Event) (types.NodeState, error) {
	if ev == EventDrop {
		f.state = StateInit
		return types.NodeOffline, nil
	}

	next, ok := transitions[f.state][ev]
	if !ok {
		return "", fmt.Errorf("session fsm: invalid transition %s from %s", ev, f.state)
	}
	f.state = next
	return nodeStateOnEntry[ev], nil
}
