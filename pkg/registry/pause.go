package registry

import "github.com/veles-go/master/pkg/types"

// Pause marks nodeID as paused with no pending job seen yet (§4.6). The
// next job request from it is absorbed rather than forwarded to the
// workflow, via dispatcher.Store.AbsorbJobRequest.
func (r *Registry) Pause(nodeID types.NodeId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paused[nodeID] = false
}

// Resume removes the pause mark. If a job request was absorbed while
// paused, it is re-delivered now as if freshly received (§4.6).
func (r *Registry) Resume(nodeID types.NodeId) {
	r.mu.Lock()
	pending, ok := r.paused[nodeID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.paused, nodeID)
	r.mu.Unlock()

	if pending {
		r.dispatcher.Resume(nodeID)
	}
}
