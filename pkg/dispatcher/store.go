// Package dispatcher implements the per-session job request / update cycle,
// balance flow control, timeout/blacklist enforcement, and respawn policy of
// §4.5. It is the router.Handler the data channel drives.
package dispatcher

import (
	"github.com/veles-go/master/pkg/session"
	"github.com/veles-go/master/pkg/types"
)

// Store is the subset of Master Registry (C6) state the dispatcher reads
// and mutates while running the job/update cycle. The registry implements
// this; keeping it as a narrow interface here (rather than importing
// pkg/registry directly) avoids a dispatcher<->registry import cycle, since
// the registry in turn drives the dispatcher as its router.Handler.
type Store interface {
	// Session looks up the live Session for nodeID.
	Session(nodeID types.NodeId) (*session.Session, bool)
	// Desc snapshots the current NodeRecord as the immutable Desc the
	// workflow engine sees (§6.1).
	Desc(nodeID types.NodeId) (types.Desc, bool)
	// SetNodeState applies a Session FSM entry action to NodeRecord.State
	// (§4.3).
	SetNodeState(nodeID types.NodeId, state types.NodeState)
	// IncrementJobsCompleted bumps NodeRecord.JobsCompleted (§3 invariant 7).
	IncrementJobsCompleted(nodeID types.NodeId)

	IsBlacklisted(nodeID types.NodeId) bool
	// Blacklist adds nodeID to the blacklist set (§3 invariant 5).
	Blacklist(nodeID types.NodeId)
	// CloseControlConn closes nodeID's control-channel connection, if any.
	CloseControlConn(nodeID types.NodeId)

	// SessionsWithZeroJobs returns the NodeIds of connected sessions whose
	// NodeRecord.JobsCompleted is zero, excluding excludeNodeID (§4.5
	// "hanged worker" scan).
	SessionsWithZeroJobs(excludeNodeID types.NodeId) []types.NodeId

	// Park adds nodeID to job_requests; Unpark atomically drains and
	// returns the whole set (§3, §4.5 "postpone").
	Park(nodeID types.NodeId)
	Unpark() []types.NodeId

	// AbsorbJobRequest implements §4.6 pause/resume: if nodeID is
	// currently paused, marks the pending-job flag and reports true (the
	// request is absorbed and must not be forwarded to the workflow).
	AbsorbJobRequest(nodeID types.NodeId) bool
}
