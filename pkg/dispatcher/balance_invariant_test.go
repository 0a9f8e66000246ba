package dispatcher

import (
	"runtime"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/veles-go/master/pkg/session"
	"github.com/veles-go/master/pkg/workflow"
)

// TestPropertyBalanceStaysInRange drives random interleavings of job
// requests and updates against a single session and checks that balance
// never leaves [0,2] (§8 "∀ session s: 0 ≤ s.balance ≤ 2 after every
// event"), following the teacher pack's rapid.Check-driven invariant
// style (zjrosen-perles/internal/orchestration/mcp/state_invariants_test.go).
func TestPropertyBalanceStaysInRange(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		store := newFakeStore()
		sess := store.addNode("n1")
		engine := workflow.NewFake("chk")
		rep := newRecordingReplier()
		d := New(store, engine, rep, 0, nil)

		steps := rapid.IntRange(1, 30).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			op := rapid.SampledFrom([]string{"request", "update"}).Draw(t, "op")

			switch op {
			case "request":
				if sess.FSM.State() != session.StateWork && sess.FSM.State() != session.StateIdle {
					continue
				}
				engine.QueueJob(workflow.JobResult{Status: workflow.JobReady, Payload: []byte("d")})
				d.JobRequested("n1")
				// beginJobGeneration increments balance synchronously
				// before handing off to the thread pool.
				if sess.Balance < 0 || sess.Balance > 2 {
					t.Fatalf("balance %d out of [0,2] after request", sess.Balance)
				}
				waitForT(t, func() bool { return !sess.InFlightJob })

			case "update":
				if sess.Balance == 0 {
					continue
				}
				engine.Accepted = true
				d.UpdateReceived("n1", []byte("u"))
				waitForT(t, func() bool { return !sess.InFlightUpdate })
			}

			if sess.Balance < 0 || sess.Balance > 2 {
				t.Fatalf("balance %d out of [0,2] after %s", sess.Balance, op)
			}
		}
	})
}

// waitForT is waitFor's rapid.T-compatible twin: rapid.T satisfies the
// subset of testing.TB that matters here (Fatalf), but not testing.T
// itself, so the two can't share one helper signature.
func waitForT(t *rapid.T, cond func() bool) {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		runtime.Gosched()
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}
