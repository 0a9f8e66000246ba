package registry

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/veles-go/master/pkg/session"
	"github.com/veles-go/master/pkg/types"
)

var dropSlaveTracer = otel.Tracer("masterd/dispatcher")

// Connected implements session.ControlHandler. It fires on TCP accept,
// before any line is read, and applies the FSM's "connect" transition
// (Init -> Wait) against a peerAddr-keyed pending entry — no NodeId exists
// yet (§3).
func (r *Registry) Connected(peerAddr string) {
	fsm := session.NewFSM()
	if _, err := fsm.Apply(session.EventConnect); err != nil {
		r.logger.Error().Err(err).Str("peer", peerAddr).Msg("connect transition failed")
		return
	}
	r.mu.Lock()
	r.pending[peerAddr] = &pendingConn{fsm: fsm}
	r.mu.Unlock()
}

// Handshake implements session.ControlHandler (§4.4).
func (r *Registry) Handshake(ctx context.Context, peerAddr string, req session.HandshakeRequest) (any, error) {
	if req.Checksum != r.engine.Checksum() {
		return nil, fmt.Errorf("Workflow checksum mismatch: expected %s, got %s", r.engine.Checksum(), req.Checksum)
	}

	r.mu.Lock()
	pc, ok := r.pending[peerAddr]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("handshake received without a prior connection")
	}
	if pc.notASlave {
		return nil, fmt.Errorf("session has sent a query and may not handshake")
	}

	known := false
	if req.ID != "" {
		r.mu.Lock()
		_, known = r.nodes[req.ID]
		r.mu.Unlock()
	}

	if req.ID != "" && known {
		return r.handshakeReconnect(peerAddr, pc, req.ID)
	}
	return r.handshakeFresh(ctx, peerAddr, pc, req)
}

// handshakeReconnect implements the "id present and known" branch: reply
// {reconnect: "ok"}, no new id allocated, no initial data, and the
// NodeRecord's power/mid/pid are left untouched (§4.4, §9 "Reconnect
// idempotence").
func (r *Registry) handshakeReconnect(peerAddr string, pc *pendingConn, id types.NodeId) (any, error) {
	state, err := pc.fsm.Apply(session.EventIdentify)
	if err != nil {
		return nil, fmt.Errorf("identify in unexpected FSM state: %w", err)
	}

	sess := &session.Session{NodeID: id, FSM: pc.fsm, DropOnTimeout: r.cfg.JobTimeoutFloor > 0}

	r.mu.Lock()
	delete(r.pending, peerAddr)
	r.evictSessionLocked(id)
	r.sessions[id] = sess
	r.peerByNode[id] = peerAddr
	r.nodeByPeer[peerAddr] = id
	if node, ok := r.nodes[id]; ok {
		node.State = state
		node.LastSeenAt = time.Now()
	}
	r.mu.Unlock()

	r.router.RegisterNode(id)
	return session.ReconnectResponse{Reconnect: "ok"}, nil
}

// handshakeFresh implements both "id absent" and "id present and unknown"
// branches: they behave identically except the unknown-but-supplied id is
// echoed back instead of a freshly generated one (§4.4).
func (r *Registry) handshakeFresh(ctx context.Context, peerAddr string, pc *pendingConn, req session.HandshakeRequest) (any, error) {
	id := req.ID
	if id == "" {
		id = newNodeID()
	}

	sourceIP := peerAddr
	if host, _, err := net.SplitHostPort(peerAddr); err == nil {
		sourceIP = host
	}
	endpoint := r.endpoints.Select(req.Mid, req.Pid, sourceIP)

	node := &types.NodeRecord{
		ID:         id,
		Mid:        req.Mid,
		Pid:        req.Pid,
		Power:      req.Power,
		Host:       sourceIP,
		State:      types.NodeWaiting,
		Endpoint:   endpoint,
		Backend:    req.Backend,
		Device:     req.Device,
		LastSeenAt: time.Now(),
	}
	if r.cfg.MustRespawn && req.Executable != "" {
		node.Launch = &types.LaunchMetadata{
			Executable: req.Executable,
			Argv:       req.Argv,
			Cwd:        req.Cwd,
			PythonPath: req.PythonPath,
			Host:       sourceIP,
		}
	}

	desc := types.DescOf(node)
	initialData, err := r.engine.GenerateInitialDataForSlave(ctx, desc)
	if err != nil {
		return nil, fmt.Errorf("generate initial data: %w", err)
	}
	node.InitialData = initialData
	node.HasInitialData = true

	state, err := pc.fsm.Apply(session.EventIdentify)
	if err != nil {
		return nil, fmt.Errorf("identify in unexpected FSM state: %w", err)
	}
	node.State = state

	sess := &session.Session{NodeID: id, FSM: pc.fsm, DropOnTimeout: r.cfg.JobTimeoutFloor > 0}

	r.mu.Lock()
	delete(r.pending, peerAddr)
	r.evictSessionLocked(id)
	r.nodes[id] = node
	r.sessions[id] = sess
	r.peerByNode[id] = peerAddr
	r.nodeByPeer[peerAddr] = id
	r.mu.Unlock()

	r.router.RegisterNode(id)

	if len(req.Data) > 0 {
		pool := r.engine.ThreadPool()
		data := req.Data
		pool.Submit(func() error {
			return r.engine.ApplyInitialDataFromSlave(context.Background(), desc, data)
		}, func(err error) {
			if err != nil {
				r.logger.Error().Err(err).Str("node_id", id).Msg("initial data application failed")
				r.errSink.Report("initial data application failed", err)
			}
		})
	}

	go r.resolveHost(id, peerAddr)

	return session.HandshakeResponse{
		ID:       id,
		Endpoint: endpoint,
		Data:     initialData,
		LogID:    r.engine.Launcher().LogID(),
	}, nil
}

// resolveHost kicks off reverse DNS for peerAddr and stores the resolved
// name (or the raw address, on failure) in the NodeRecord (§4.4).
func (r *Registry) resolveHost(id types.NodeId, peerAddr string) {
	host := r.dns.Resolve(context.Background(), peerAddr)
	r.mu.Lock()
	if node, ok := r.nodes[id]; ok {
		node.Host = host
	}
	r.mu.Unlock()
}

// Query implements session.ControlHandler (§4.4): `{query: "nodes" |
// "endpoints", workflow: <checksum>}`.
func (r *Registry) Query(ctx context.Context, peerAddr string, req session.QueryRequest) (any, error) {
	if req.Workflow != r.engine.Checksum() {
		return nil, fmt.Errorf("workflow checksum mismatch")
	}

	r.mu.Lock()
	if pc, ok := r.pending[peerAddr]; ok {
		pc.notASlave = true
	}
	if id, ok := r.nodeByPeer[peerAddr]; ok {
		if sess, ok := r.sessions[id]; ok {
			sess.NotASlave = true
		}
	}
	r.mu.Unlock()

	switch req.Query {
	case "nodes":
		return r.nodeTable(), nil
	case "endpoints":
		return r.endpoints.Map(), nil
	default:
		return nil, fmt.Errorf("unknown query %q", req.Query)
	}
}

func (r *Registry) nodeTable() map[types.NodeId]types.Desc {
	r.mu.Lock()
	defer r.mu.Unlock()
	table := make(map[types.NodeId]types.Desc, len(r.nodes))
	for id, node := range r.nodes {
		table[id] = types.DescOf(node)
	}
	return table
}

// ChangePower implements session.ControlHandler.
func (r *Registry) ChangePower(ctx context.Context, peerAddr string, req session.ChangePowerRequest) error {
	r.mu.Lock()
	id, ok := r.nodeByPeer[peerAddr]
	if ok {
		if node, ok2 := r.nodes[id]; ok2 {
			node.Power = req.Power
		}
	}
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("change_power from an unidentified session")
	}
	return nil
}

// Disconnected implements session.ControlHandler: tears down the Session,
// decides respawn vs. NodeRecord erasure, and signals Done() once the
// workflow has stopped and the last such NodeRecord is gone (§4.5, §4.6).
func (r *Registry) Disconnected(peerAddr string) {
	r.mu.Lock()
	if _, ok := r.pending[peerAddr]; ok {
		delete(r.pending, peerAddr)
		r.mu.Unlock()
		return
	}
	id, ok := r.nodeByPeer[peerAddr]
	if !ok {
		r.mu.Unlock()
		return
	}
	sess := r.sessions[id]
	node := r.nodes[id]
	delete(r.sessions, id)
	delete(r.nodeByPeer, peerAddr)
	delete(r.peerByNode, id)
	r.mu.Unlock()

	if sess != nil {
		_, _ = sess.FSM.Apply(session.EventDrop)
	}
	r.dispatcher.CancelTimeout(id)
	r.router.UnregisterNode(id)

	ctx := context.Background()
	if node != nil {
		ctx, span := dropSlaveTracer.Start(ctx, "drop_slave")
		r.engine.DropSlave(ctx, types.DescOf(node))
		span.End()
	}

	running := r.engine.IsRunning()
	if running && r.cfg.MustRespawn && r.respawner != nil && node != nil && node.Launch != nil {
		r.respawner.Schedule(node)
		return
	}
	if running {
		return
	}

	r.mu.Lock()
	delete(r.nodes, id)
	remaining := len(r.nodes)
	r.mu.Unlock()

	if remaining == 0 {
		r.signalDone()
	}
}
