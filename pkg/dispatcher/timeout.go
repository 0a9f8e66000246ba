package dispatcher

import (
	"math"
	"sync"
	"time"

	"github.com/veles-go/master/pkg/session"
	"github.com/veles-go/master/pkg/types"
)

// timeoutManager schedules and cancels the per-session drop timer of §4.5
// ("Job timeout"). Each scheduled timer is tagged with the session's
// TimeoutToken so a timer that fires after being superseded (or after
// drop) is recognized as stale and discarded, per §9 "guards can filter
// late results from cancelled operations".
type timeoutManager struct {
	floor time.Duration
	onFire func(nodeID types.NodeId, token uint64)

	mu     sync.Mutex
	timers map[types.NodeId]*time.Timer
}

func newTimeoutManager(floor time.Duration, onFire func(types.NodeId, uint64)) *timeoutManager {
	return &timeoutManager{
		floor:  floor,
		onFire: onFire,
		timers: make(map[types.NodeId]*time.Timer),
	}
}

// schedule computes max(mean(history)+3*stdev(history), floor) and arms a
// timer for sess, cancelling any prior one. Per §4.5/§8, fewer than 3
// samples means no timeout is scheduled.
func (m *timeoutManager) schedule(nodeID types.NodeId, sess *session.Session) {
	history := sess.History()
	if len(history) < 3 {
		return
	}

	d := meanPlus3Sigma(history)
	if d < m.floor {
		d = m.floor
	}
	if d <= 0 {
		return
	}

	m.cancel(nodeID)

	sess.TimeoutToken++
	token := sess.TimeoutToken
	m.mu.Lock()
	m.timers[nodeID] = time.AfterFunc(d, func() { m.onFire(nodeID, token) })
	m.mu.Unlock()
}

// cancel stops and forgets nodeID's pending timer, if any.
func (m *timeoutManager) cancel(nodeID types.NodeId) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.timers[nodeID]; ok {
		t.Stop()
		delete(m.timers, nodeID)
	}
}

// meanPlus3Sigma computes mean(history) + 3*stdev(history) using the
// population standard deviation (§4.5, §8).
func meanPlus3Sigma(history []time.Duration) time.Duration {
	n := float64(len(history))
	var sum float64
	for _, d := range history {
		sum += float64(d)
	}
	mean := sum / n

	var variance float64
	for _, d := range history {
		diff := float64(d) - mean
		variance += diff * diff
	}
	variance /= n
	stdev := math.Sqrt(variance)

	return time.Duration(mean + 3*stdev)
}
