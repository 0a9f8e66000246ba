// Package router implements the Transport Endpoints (C1) and Router (C2):
// a routed, multipart, request-reply message broker running over three
// alternative transports (§4.1, §4.2).
package router

import (
	"fmt"
	"net"
	"sync"

	"github.com/rs/zerolog"

	"github.com/veles-go/master/pkg/log"
)

// Handler dispatches data-channel commands received from a worker to the
// dispatcher (C5). The router itself never blocks waiting on a Handler
// call; job/update handling is the dispatcher's concern.
type Handler interface {
	JobRequested(nodeID string)
	UpdateReceived(nodeID string, payload []byte)
}

// connBinding is the data-channel connection currently bound to a node id,
// along with which transport it arrived on (only ipc gets the shared
// buffer fast path; only non-ipc gets compression, per §4.2).
type connBinding struct {
	conn      net.Conn
	transport Transport
	mu        sync.Mutex // serializes writes to conn
}

// Router is the routed multipart message broker of §4.2.
type Router struct {
	handler    Handler
	compressor Compressor

	ignoreUnknownCommands bool

	mu         sync.Mutex
	tokens     map[Command]map[string]string // (command, node_id) -> routing_token
	buffers    map[string]*NodeBuffer        // node_id -> shared buffer (ipc only)
	bindings   map[string]*connBinding       // node_id -> data-channel connection
	registered map[string]bool               // node_id -> has a Session (post-handshake)

	logger zerolog.Logger
}

// New creates a Router. compressor is used for non-ipc job/update payload
// compression; pass NoCompression() to disable it.
func New(handler Handler, compressor Compressor, ignoreUnknownCommands bool) *Router {
	return &Router{
		handler:               handler,
		compressor:            compressor,
		ignoreUnknownCommands: ignoreUnknownCommands,
		tokens:                make(map[Command]map[string]string),
		buffers:               make(map[string]*NodeBuffer),
		bindings:              make(map[string]*connBinding),
		registered:            make(map[string]bool),
		logger:                log.WithComponent("router"),
	}
}

// SetHandler wires the dispatcher in after construction, breaking the
// Router<->Dispatcher<->Registry construction cycle: the registry builds
// the Router first (so it can hand *Router to the Dispatcher as a
// Replier), then builds the Dispatcher, then calls SetHandler once,
// before Serve is ever invoked.
func (r *Router) SetHandler(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handler = h
}

// RegisterNode marks nodeID as known to the router, to be called by the
// registry (C6) once a Session exists for it (i.e. after a successful
// handshake). Frames for node ids that are not registered are rejected with
// an "Unknown node ID" error, matching the original's unsynced-node check in
// parseHeader — "known" here means "has a Session", not "we've seen a frame
// from it before".
func (r *Router) RegisterNode(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registered[nodeID] = true
}

// UnregisterNode reverses RegisterNode and releases any connection/token
// state for nodeID, called by the registry when a Session is dropped.
func (r *Router) UnregisterNode(nodeID string) {
	r.mu.Lock()
	delete(r.registered, nodeID)
	r.mu.Unlock()
	r.DropNode(nodeID)
}

// Serve consumes connections from conns (as produced by Endpoints.Accept)
// and errs, reading frames from each and dispatching them until the
// channels close.
func (r *Router) Serve(conns <-chan net.Conn, errs <-chan error, transportOf func(net.Conn) Transport) {
	for {
		select {
		case conn, ok := <-conns:
			if !ok {
				return
			}
			go r.serveConn(conn, transportOf(conn))
		case err, ok := <-errs:
			if !ok {
				return
			}
			r.logger.Error().Err(err).Msg("transport accept error")
		}
	}
}

func (r *Router) serveConn(conn net.Conn, transport Transport) {
	for {
		frame, err := readFrame(conn)
		if err != nil {
			return
		}
		r.handleInbound(conn, transport, frame)
	}
}

func (r *Router) handleInbound(conn net.Conn, transport Transport, frame *Frame) {
	if frame.NodeID == "" {
		r.logger.Error().Msg("ZeroMQ-style message missing node id")
		return
	}

	r.mu.Lock()
	registered := r.registered[frame.NodeID]
	if registered {
		binding, have := r.bindings[frame.NodeID]
		if !have || binding.conn != conn {
			binding = &connBinding{conn: conn, transport: transport}
			r.bindings[frame.NodeID] = binding
		}
	}
	binding := r.bindings[frame.NodeID]
	r.mu.Unlock()

	if !registered {
		r.logger.Error().Str("node_id", frame.NodeID).Msg("unknown node id, may be unsynced during drop")
		r.sendRaw(&connBinding{conn: conn, transport: transport}, frame.RoutingToken, frame.NodeID, CommandError, []byte("Unknown node ID"))
		return
	}

	switch frame.Command {
	case CommandJob:
		r.mu.Lock()
		if r.tokens[CommandJob] == nil {
			r.tokens[CommandJob] = make(map[string]string)
		}
		r.tokens[CommandJob][frame.NodeID] = frame.RoutingToken
		r.mu.Unlock()
		r.handler.JobRequested(frame.NodeID)
	case CommandUpdate:
		r.mu.Lock()
		if r.tokens[CommandUpdate] == nil {
			r.tokens[CommandUpdate] = make(map[string]string)
		}
		r.tokens[CommandUpdate][frame.NodeID] = frame.RoutingToken
		r.mu.Unlock()

		payload := frame.Payload
		if transport != TransportIPC {
			if decompressed, err := r.compressor.Decompress(payload); err == nil {
				payload = decompressed
			}
		}
		r.handler.UpdateReceived(frame.NodeID, payload)
	default:
		if !r.ignoreUnknownCommands {
			r.sendRaw(binding, frame.RoutingToken, frame.NodeID, CommandError, []byte("Unknown command"))
		}
	}
}

// sendRaw writes an immediate reply using routingToken without consulting
// (or popping) the token table — used for the out-of-band "error" replies
// that §4.2 issues inline rather than through the job/update token cycle.
func (r *Router) sendRaw(binding *connBinding, routingToken, nodeID string, command Command, payload []byte) {
	binding.mu.Lock()
	defer binding.mu.Unlock()
	if err := writeFrame(binding.conn, &Frame{RoutingToken: routingToken, NodeID: nodeID, Command: command, Payload: payload}); err != nil {
		r.logger.Warn().Err(err).Str("node_id", nodeID).Msg("failed to send error reply")
	}
}

// Reply sends command/payload back to nodeID, consuming (popping) its
// captured routing token (§4.2). If no token is on file the send is
// skipped and a warning is logged, per the documented error condition.
func (r *Router) Reply(nodeID string, command Command, payload []byte) error {
	r.mu.Lock()
	tokenMap := r.tokens[command]
	token, ok := tokenMap[nodeID]
	if ok {
		delete(tokenMap, nodeID)
	}
	binding := r.bindings[nodeID]
	r.mu.Unlock()

	if !ok {
		r.logger.Warn().Str("node_id", nodeID).Str("command", string(command)).
			Msg("no routing token on file, dropping reply")
		return nil
	}
	if binding == nil {
		return fmt.Errorf("router: no connection bound for node %s", nodeID)
	}

	out := payload
	if command == CommandJob && binding.transport == TransportIPC {
		out = r.bufferFor(nodeID).Fit(payload)
	} else if binding.transport != TransportIPC {
		compressed, err := r.compressor.Compress(payload)
		if err != nil {
			return fmt.Errorf("router: compress payload: %w", err)
		}
		out = compressed
	}

	binding.mu.Lock()
	defer binding.mu.Unlock()
	return writeFrame(binding.conn, &Frame{
		RoutingToken: token,
		NodeID:       nodeID,
		Command:      command,
		Payload:      out,
	})
}

func (r *Router) bufferFor(nodeID string) *NodeBuffer {
	r.mu.Lock()
	defer r.mu.Unlock()
	buf, ok := r.buffers[nodeID]
	if !ok {
		buf = &NodeBuffer{}
		r.buffers[nodeID] = buf
	}
	return buf
}

// DropNode releases the buffer and connection binding for nodeID on
// disconnect, per §5 "Resource release".
func (r *Router) DropNode(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if buf, ok := r.buffers[nodeID]; ok {
		buf.Release()
		delete(r.buffers, nodeID)
	}
	delete(r.bindings, nodeID)
	for _, m := range r.tokens {
		delete(m, nodeID)
	}
}
