package registry

import (
	"time"

	"github.com/veles-go/master/pkg/session"
	"github.com/veles-go/master/pkg/types"
)

// Session implements dispatcher.Store.
func (r *Registry) Session(nodeID types.NodeId) (*session.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[nodeID]
	return sess, ok
}

// Desc implements dispatcher.Store.
func (r *Registry) Desc(nodeID types.NodeId) (types.Desc, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	node, ok := r.nodes[nodeID]
	if !ok {
		return types.Desc{}, false
	}
	return types.DescOf(node), true
}

// SetNodeState implements dispatcher.Store.
func (r *Registry) SetNodeState(nodeID types.NodeId, state types.NodeState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if node, ok := r.nodes[nodeID]; ok {
		node.State = state
	}
}

// IncrementJobsCompleted implements dispatcher.Store (§3 invariant 7).
func (r *Registry) IncrementJobsCompleted(nodeID types.NodeId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if node, ok := r.nodes[nodeID]; ok {
		node.JobsCompleted++
		node.LastJobAt = time.Now()
	}
}

// IsBlacklisted implements dispatcher.Store.
func (r *Registry) IsBlacklisted(nodeID types.NodeId) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.blacklist[nodeID]
}

// Blacklist implements dispatcher.Store (§3 invariant 5).
func (r *Registry) Blacklist(nodeID types.NodeId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blacklist[nodeID] = true
}

// CloseControlConn implements dispatcher.Store, forcing the control
// connection shut for blacklist/timeout enforcement (§4.5).
func (r *Registry) CloseControlConn(nodeID types.NodeId) {
	r.mu.Lock()
	peerAddr, ok := r.peerByNode[nodeID]
	r.mu.Unlock()
	if !ok {
		return
	}
	if err := r.controlServer.Close(peerAddr); err != nil {
		r.logger.Debug().Err(err).Str("node_id", nodeID).Msg("close control conn")
	}
}

// SessionsWithZeroJobs implements dispatcher.Store (§4.5 "hanged worker"
// scan): sessions currently in Work/GettingJob whose NodeRecord has
// completed no jobs yet, excluding excludeNodeID. A session still in Wait
// has not yet become a participant and is not a candidate (SPEC_FULL
// "Supplemented features" §4).
func (r *Registry) SessionsWithZeroJobs(excludeNodeID types.NodeId) []types.NodeId {
	r.mu.Lock()
	defer r.mu.Unlock()
	var hanged []types.NodeId
	for id, sess := range r.sessions {
		if id == excludeNodeID {
			continue
		}
		switch sess.FSM.State() {
		case session.StateWork, session.StateGettingJob:
		default:
			continue
		}
		if node, ok := r.nodes[id]; ok && node.JobsCompleted == 0 {
			hanged = append(hanged, id)
		}
	}
	return hanged
}

// Park implements dispatcher.Store.
func (r *Registry) Park(nodeID types.NodeId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobRequests[nodeID] = true
}

// Unpark implements dispatcher.Store, atomically draining job_requests.
func (r *Registry) Unpark() []types.NodeId {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]types.NodeId, 0, len(r.jobRequests))
	for id := range r.jobRequests {
		ids = append(ids, id)
	}
	r.jobRequests = make(map[types.NodeId]bool)
	return ids
}

// AbsorbJobRequest implements dispatcher.Store (§4.6 pause/resume).
func (r *Registry) AbsorbJobRequest(nodeID types.NodeId) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, paused := r.paused[nodeID]; paused {
		r.paused[nodeID] = true
		return true
	}
	return false
}
