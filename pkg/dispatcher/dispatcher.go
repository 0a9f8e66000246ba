package dispatcher

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/veles-go/master/pkg/coordinator"
	"github.com/veles-go/master/pkg/log"
	"github.com/veles-go/master/pkg/metrics"
	"github.com/veles-go/master/pkg/router"
	"github.com/veles-go/master/pkg/session"
	"github.com/veles-go/master/pkg/types"
	"github.com/veles-go/master/pkg/workflow"
)

// falseReply is the wire encoding of the boolean-false "job" reply used for
// both blacklist refusals (invariant 5) and workflow refusals (§6.3).
var falseReply = []byte("false")

// Replier sends a reply back to a worker on the data channel, consuming its
// captured routing token (§4.2). *router.Router satisfies this.
type Replier interface {
	Reply(nodeID string, command router.Command, payload []byte) error
}

// Dispatcher is the per-session job request / update cycle, balance flow
// control, and timeout/blacklist enforcement of §4.5. It is the
// router.Handler the data channel drives; it owns no state of its own
// beyond in-flight timers — everything else lives in Store.
type Dispatcher struct {
	store  Store
	engine workflow.Engine
	reply  Replier

	timeouts *timeoutManager
	tracer   trace.Tracer
	errSink  *coordinator.ErrSink

	logger zerolog.Logger
}

// New creates a Dispatcher. jobTimeoutFloor is the minimum scheduled drop
// timeout (§4.5, §6.4 "--job-timeout"); pass 0 to disable the floor (the
// computed mean+3σ value is used as-is). errSink receives workflow callback
// failures (§7 error kind 4); it may be nil in tests, in which case those
// failures are only logged.
func New(store Store, engine workflow.Engine, reply Replier, jobTimeoutFloor time.Duration, errSink *coordinator.ErrSink) *Dispatcher {
	d := &Dispatcher{
		store:   store,
		engine:  engine,
		reply:   reply,
		tracer:  otel.Tracer("masterd/dispatcher"),
		errSink: errSink,
		logger:  log.WithComponent("dispatcher"),
	}
	d.timeouts = newTimeoutManager(jobTimeoutFloor, d.onTimeout)
	return d
}

// reportAsyncErr logs a workflow-callback failure and, if configured,
// forwards it to the shared error sink (§7 "workflow callback failures are
// surfaced through a single error sink that logs and continues").
func (d *Dispatcher) reportAsyncErr(component string, nodeID types.NodeId, err error) {
	d.logger.Error().Err(err).Str("node_id", nodeID).Msg(component)
	if d.errSink != nil {
		d.errSink.Report(component, err)
	}
}

// JobRequested implements router.Handler: the worker sent an empty "job"
// frame asking for work (§4.5 "Balance counter").
func (d *Dispatcher) JobRequested(nodeID types.NodeId) {
	if d.store.IsBlacklisted(nodeID) {
		_ = d.reply.Reply(nodeID, router.CommandJob, falseReply)
		return
	}
	if d.store.AbsorbJobRequest(nodeID) {
		d.logger.Debug().Str("node_id", nodeID).Msg("job request absorbed while paused")
		return
	}
	d.beginJobGeneration(nodeID)
}

// beginJobGeneration applies the request_job FSM transition, bumps balance,
// and dispatches generate_data_for_slave to the workflow's thread pool. It
// is shared by a fresh worker request, a GettingJob re-run after an update,
// and redelivery of a parked session (§4.5, §4.6) — all three start from
// the same "ask the workflow for a job" step.
func (d *Dispatcher) beginJobGeneration(nodeID types.NodeId) {
	sess, ok := d.store.Session(nodeID)
	if !ok {
		return
	}

	if sess.Balance > 1 {
		// Defensive guard preserved per §9 Open Questions: another job is
		// already outstanding, the expected case is "never".
		metrics.BalanceAnomalyTotal.Inc()
		d.logger.Warn().Str("node_id", nodeID).Int("balance", sess.Balance).Msg("balance exceeded expected range on job request")
		return
	}
	if sess.InFlightJob {
		return // invariant 6: at most one job-generation in flight per session
	}

	if _, err := sess.FSM.Apply(session.EventRequestJob); err != nil {
		d.logger.Warn().Err(err).Str("node_id", nodeID).Msg("job request in unexpected FSM state")
		return
	}
	d.store.SetNodeState(nodeID, types.NodeWaiting)

	sess.Balance++
	metrics.BalanceDistribution.WithLabelValues(nodeID).Set(float64(sess.Balance))
	sess.InFlightJob = true

	desc, ok := d.store.Desc(nodeID)
	if !ok {
		sess.InFlightJob = false
		return
	}

	ctx, span := d.tracer.Start(context.Background(), "generate_data_for_slave")
	pool := d.engine.ThreadPool()
	var result workflow.JobResult
	pool.Submit(func() error {
		timer := metrics.NewTimer()
		r, err := d.engine.GenerateDataForSlave(ctx, desc)
		timer.ObserveDuration(metrics.JobGenerationDuration)
		result = r
		return err
	}, func(err error) {
		span.End()
		sess.InFlightJob = false
		if err != nil {
			d.reportAsyncErr("job generation failed", nodeID, err)
			return
		}
		d.completeJobGeneration(nodeID, sess, result)
	})
}

func (d *Dispatcher) completeJobGeneration(nodeID types.NodeId, sess *session.Session, result workflow.JobResult) {
	switch result.Status {
	case workflow.JobReady:
		if _, err := sess.FSM.Apply(session.EventObtainJob); err != nil {
			d.logger.Warn().Err(err).Str("node_id", nodeID).Msg("obtain_job in unexpected FSM state")
			return
		}
		d.store.SetNodeState(nodeID, types.NodeWorking)
		sess.RecordJobSubmit(time.Now())
		if sess.DropOnTimeout {
			d.timeouts.schedule(nodeID, sess)
		}
		metrics.JobsDispatchedTotal.Inc()
		_ = d.reply.Reply(nodeID, router.CommandJob, result.Payload)

	case workflow.JobNotReady:
		metrics.JobsNotReadyTotal.Inc()
		sess.Balance--
		if sess.Balance < 0 {
			sess.Balance = 0
		}
		metrics.BalanceDistribution.WithLabelValues(nodeID).Set(float64(sess.Balance))
		if _, err := sess.FSM.Apply(session.EventPostponeJob); err != nil {
			d.logger.Warn().Err(err).Str("node_id", nodeID).Msg("postpone_job in unexpected FSM state")
			return
		}
		d.store.SetNodeState(nodeID, types.NodeWaiting)

		if sess.Balance > 0 {
			_ = d.reply.Reply(nodeID, router.CommandJob, []byte(router.NeedUpdateSentinel))
			return
		}
		d.store.Park(nodeID)
		d.scanHangedWorkers(nodeID)

	case workflow.JobRefused:
		if _, err := sess.FSM.Apply(session.EventRefuseJob); err != nil {
			d.logger.Warn().Err(err).Str("node_id", nodeID).Msg("refuse_job in unexpected FSM state")
			return
		}
		d.store.SetNodeState(nodeID, types.NodeWaiting)
		sess.Balance--
		metrics.BalanceDistribution.WithLabelValues(nodeID).Set(float64(sess.Balance))
		metrics.JobsRefusedTotal.Inc()
		_ = d.reply.Reply(nodeID, router.CommandJob, falseReply)
	}
}

// scanHangedWorkers blacklists and disconnects every session with zero
// completed jobs, excluding nodeID itself — fired whenever a job request
// parks because the workflow has nothing ready and nothing is outstanding
// (§4.5).
func (d *Dispatcher) scanHangedWorkers(nodeID types.NodeId) {
	for _, id := range d.store.SessionsWithZeroJobs(nodeID) {
		d.store.Blacklist(id)
		d.store.CloseControlConn(id)
		metrics.BlacklistedNodesTotal.Inc()
		d.logger.Warn().Str("node_id", id).Msg("blacklisted hanged worker")
	}
}

// UpdateReceived implements router.Handler: the worker sent an "update"
// frame with a result payload (§4.5 "Update handling").
func (d *Dispatcher) UpdateReceived(nodeID types.NodeId, payload []byte) {
	sess, ok := d.store.Session(nodeID)
	if !ok {
		return
	}
	if d.store.IsBlacklisted(nodeID) {
		return
	}
	if sess.InFlightUpdate {
		d.logger.Warn().Str("node_id", nodeID).Msg("update received while one already in flight")
		return
	}

	d.timeouts.cancel(nodeID)

	if sess.Balance == 1 {
		if _, err := sess.FSM.Apply(session.EventIdle); err != nil {
			d.logger.Warn().Err(err).Str("node_id", nodeID).Msg("idle in unexpected FSM state")
		} else {
			d.store.SetNodeState(nodeID, types.NodeWaiting)
		}
	}

	desc, ok := d.store.Desc(nodeID)
	if !ok {
		return
	}

	sess.InFlightUpdate = true
	ctx, span := d.tracer.Start(context.Background(), "apply_data_from_slave")
	pool := d.engine.ThreadPool()
	var result workflow.UpdateResult
	pool.Submit(func() error {
		timer := metrics.NewTimer()
		r, err := d.engine.ApplyDataFromSlave(ctx, desc, payload)
		timer.ObserveDuration(metrics.UpdateApplyDuration)
		result = r
		return err
	}, func(err error) {
		span.End()
		sess.InFlightUpdate = false
		if err != nil {
			// Workflow callback failures go to the shared error sink and
			// never unilaterally drop the session (§7 error kind 4).
			d.reportAsyncErr("update application failed", nodeID, err)
			return
		}
		d.completeUpdate(nodeID, sess, result)
	})
}

func (d *Dispatcher) completeUpdate(nodeID types.NodeId, sess *session.Session, result workflow.UpdateResult) {
	// Late results arriving after drop are discarded (§5 "Cancellation").
	switch sess.FSM.State() {
	case session.StateWork, session.StateGettingJob, session.StateIdle:
	default:
		d.logger.Warn().Str("node_id", nodeID).Msg("discarding update result for dropped session")
		return
	}

	ackByte := byte('0')
	if result.Accepted {
		ackByte = '1'
	}
	_ = d.reply.Reply(nodeID, router.CommandUpdate, []byte{ackByte})

	sess.Balance--
	if sess.Balance < 0 {
		sess.Balance = 0
	}
	metrics.BalanceDistribution.WithLabelValues(nodeID).Set(float64(sess.Balance))
	metrics.UpdatesAppliedTotal.Inc()

	now := time.Now()
	sess.RecordUpdate(now)
	d.store.IncrementJobsCompleted(nodeID)

	if sess.FSM.State() == session.StateGettingJob {
		d.beginJobGeneration(nodeID)
	}

	// Parked fairness: every session in job_requests is re-driven at least
	// once before the loop yields (§8).
	for _, id := range d.store.Unpark() {
		d.beginJobGeneration(id)
	}
}

// onTimeout fires when a session's drop timer expires without an
// intervening update. token guards against a timer that was already
// superseded by a newer schedule or cancellation racing with the fire.
func (d *Dispatcher) onTimeout(nodeID types.NodeId, token uint64) {
	sess, ok := d.store.Session(nodeID)
	if !ok || sess.TimeoutToken != token {
		return
	}
	d.logger.Warn().Str("node_id", nodeID).Msg("job timeout exceeded, blacklisting")
	d.store.Blacklist(nodeID)
	d.store.CloseControlConn(nodeID)
	metrics.BlacklistedNodesTotal.Inc()
}

// Resume re-delivers a job request that was absorbed while nodeID was
// paused (§4.6 "resume(id) ... re-deliver it now as if freshly received").
func (d *Dispatcher) Resume(nodeID types.NodeId) {
	d.beginJobGeneration(nodeID)
}

// CancelTimeout stops any scheduled drop timer for nodeID. Called by the
// registry when a session is evicted (reconnect, disconnect) so a stale
// timer from the outgoing Session can never fire against its replacement.
func (d *Dispatcher) CancelTimeout(nodeID types.NodeId) {
	d.timeouts.cancel(nodeID)
}
