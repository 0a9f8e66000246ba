// Package types defines the data model shared across the master
// coordinator: node identity, session lifecycle state, and the small value
// types the wire formats carry.
package types

import "time"

// NodeId is an opaque, UUID-like worker identity.
type NodeId = string

// NodeState is the externally visible state of a NodeRecord, distinct from
// the richer Session FSM state that drives it (§3, §4.3).
type NodeState string

const (
	NodeWaiting NodeState = "waiting"
	NodeWorking NodeState = "working"
	NodeOffline NodeState = "offline"
)

// LaunchMetadata is the opaque launch information retained only when
// respawn is enabled (§3, §4.5, §9 "Respawn metadata").
type LaunchMetadata struct {
	Executable string
	Argv       []string
	Cwd        string
	PythonPath string
	Host       string
}

// NodeRecord is the registry's record of a worker, keyed by NodeId (§3),
// reused across reconnects of the same id.
type NodeRecord struct {
	ID       NodeId
	Mid      string
	Pid      int
	Power    float64
	Host     string
	State    NodeState
	Endpoint string

	// Backend/Device are opaque handshake hints forwarded to the workflow,
	// never interpreted by the master (SPEC_FULL "Supplemented features" §5).
	Backend string
	Device  string

	JobsCompleted  int
	InitialData    []byte
	HasInitialData bool

	Launch     *LaunchMetadata
	LastSeenAt time.Time
	LastJobAt  time.Time
}

// Desc is the immutable worker descriptor passed to the workflow interface
// (§6.1: "desc is the immutable tuple (id, mid, pid, power, host, state)").
type Desc struct {
	ID    NodeId
	Mid   string
	Pid   int
	Power float64
	Host  string
	State NodeState
}

// DescOf snapshots a NodeRecord into the immutable Desc the workflow sees.
func DescOf(n *NodeRecord) Desc {
	return Desc{ID: n.ID, Mid: n.Mid, Pid: n.Pid, Power: n.Power, Host: n.Host, State: n.State}
}
