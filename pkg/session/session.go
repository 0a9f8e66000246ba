package session

import (
	"time"

	"github.com/veles-go/master/pkg/types"
)

// historyLimit bounds the job-duration history kept per session; only the
// most recent samples matter for the mean+3σ timeout estimate (§4.5).
const historyLimit = 32

// Session is owned by the Master Registry for the lifetime of one live TCP
// connection. The registry creates it when a handshake resolves the
// connection's NodeId (carrying over the FSM started at accept) and
// destroys it on disconnect (§3).
type Session struct {
	NodeID types.NodeId
	FSM    *FSM

	Balance int

	lastJobAt time.Time
	history   []time.Duration

	TimeoutToken  uint64
	NotASlave     bool
	DropOnTimeout bool

	// InFlightJob/InFlightUpdate enforce invariant 6: at most one
	// job-generation and at most one update-application per Session in
	// flight concurrently.
	InFlightJob    bool
	InFlightUpdate bool
}

// NewSession creates a Session bound to id, freshly in FSM state Init.
// dropOnTimeout gates the per-job drop timer (§6.4 "--job-timeout <= 0
// disables the timer"); server.py only arms its timeout callback when
// job_timeout > 0.
func NewSession(id types.NodeId, dropOnTimeout bool) *Session {
	return &Session{NodeID: id, FSM: NewFSM(), DropOnTimeout: dropOnTimeout}
}

// RecordJobSubmit stamps the current time as the most recent job-submit
// time. Called when a job is handed to the worker.
func (s *Session) RecordJobSubmit(now time.Time) {
	s.lastJobAt = now
}

// RecordUpdate appends the elapsed time since the last job submit to the
// bounded history (§4.5 "Record the elapsed time since the previous
// submit in the session's history").
func (s *Session) RecordUpdate(now time.Time) {
	if s.lastJobAt.IsZero() {
		return
	}
	s.history = append(s.history, now.Sub(s.lastJobAt))
	if len(s.history) > historyLimit {
		s.history = s.history[len(s.history)-historyLimit:]
	}
}

// History returns the observed job-duration samples, oldest first.
func (s *Session) History() []time.Duration {
	return s.history
}
