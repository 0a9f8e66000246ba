package registry

import "github.com/veles-go/master/pkg/metrics"

// MetricsSnapshot implements metrics.Source.
func (r *Registry) MetricsSnapshot() metrics.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	byState := make(map[string]int)
	for _, sess := range r.sessions {
		byState[string(sess.FSM.State())]++
	}

	return metrics.Snapshot{
		SessionsByState: byState,
		BlacklistSize:   len(r.blacklist),
	}
}
