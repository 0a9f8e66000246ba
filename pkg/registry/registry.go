// Package registry implements the Master Registry (C6): the process-wide
// indices of known nodes, active sessions, pending job requests, the
// blacklist, and the pause set (§3, §4.6). It wires together the Router
// (C2), the Session protocol (C4), and the Dispatcher (C5).
package registry

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/veles-go/master/pkg/coordinator"
	"github.com/veles-go/master/pkg/dispatcher"
	"github.com/veles-go/master/pkg/dnscache"
	"github.com/veles-go/master/pkg/log"
	"github.com/veles-go/master/pkg/router"
	"github.com/veles-go/master/pkg/session"
	"github.com/veles-go/master/pkg/types"
	"github.com/veles-go/master/pkg/workflow"
)

// Config holds the settings the registry needs beyond its collaborators.
type Config struct {
	JobTimeoutFloor time.Duration // §6.4 --job-timeout; <=0 disables
	MustRespawn     bool          // §6.4 --respawn
	DNSSuffix       string        // local domain suffix stripped from resolved hostnames
}

// pendingConn is the FSM of a control connection that has not yet
// completed a handshake and therefore has no NodeId yet (§3).
type pendingConn struct {
	fsm       *session.FSM
	notASlave bool // set once this peer has sent a query (§4.4)
}

// Registry is the Master Registry (C6). It implements session.ControlHandler,
// dispatcher.Store, and metrics.Source.
type Registry struct {
	mu sync.Mutex

	nodes       map[types.NodeId]*types.NodeRecord
	sessions    map[types.NodeId]*session.Session
	jobRequests map[types.NodeId]bool
	blacklist   map[types.NodeId]bool
	paused      map[types.NodeId]bool // key present => paused; value => pending job seen

	pending    map[string]*pendingConn    // peerAddr -> pre-handshake FSM
	peerByNode map[types.NodeId]string
	nodeByPeer map[string]types.NodeId

	engine        workflow.Engine
	endpoints     *router.Endpoints
	router        *router.Router
	controlServer *session.ControlServer
	dispatcher    *dispatcher.Dispatcher
	dns           *dnscache.Resolver
	respawner     *dispatcher.Respawner
	errSink       *coordinator.ErrSink

	cfg    Config
	logger zerolog.Logger

	doneOnce sync.Once
	done     chan struct{}
}

// New builds a Registry and wires the Router -> Dispatcher -> Registry
// construction cycle (§9 "Cyclic references"): the Router is built first so
// it can be handed to the Dispatcher as a Replier; the Dispatcher is then
// handed to the Router as its Handler via SetHandler.
func New(engine workflow.Engine, endpoints *router.Endpoints, compressor router.Compressor, dns *dnscache.Resolver, cfg Config) *Registry {
	r := &Registry{
		nodes:       make(map[types.NodeId]*types.NodeRecord),
		sessions:    make(map[types.NodeId]*session.Session),
		jobRequests: make(map[types.NodeId]bool),
		blacklist:   make(map[types.NodeId]bool),
		paused:      make(map[types.NodeId]bool),
		pending:     make(map[string]*pendingConn),
		peerByNode:  make(map[types.NodeId]string),
		nodeByPeer:  make(map[string]types.NodeId),
		engine:      engine,
		endpoints:   endpoints,
		dns:         dns,
		cfg:         cfg,
		logger:      log.WithComponent("registry"),
		done:        make(chan struct{}),
		errSink:     coordinator.NewErrSink(0),
	}

	r.router = router.New(nil, compressor, true)
	r.dispatcher = dispatcher.New(r, engine, r.router, cfg.JobTimeoutFloor, r.errSink)
	r.router.SetHandler(r.dispatcher)
	r.controlServer = session.NewControlServer(r)

	if cfg.MustRespawn {
		r.respawner = dispatcher.NewRespawner(engine.Launcher())
	}

	return r
}

// Router returns the data-channel Router for the caller to Serve against
// Endpoints.Accept().
func (r *Registry) Router() *router.Router { return r.router }

// ControlServer returns the control-channel listener for the caller to
// Serve against a net.Listener.
func (r *Registry) ControlServer() *session.ControlServer { return r.controlServer }

// Shutdown cancels every session's drop timer, tears down the per-node
// shared buffers, closes the error sink, and releases all endpoints (§5
// "Resource release"). The control listener belongs to the caller, which
// closes it before calling Shutdown.
func (r *Registry) Shutdown() error {
	r.mu.Lock()
	ids := make([]types.NodeId, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	for _, id := range ids {
		r.dispatcher.CancelTimeout(id)
		r.router.DropNode(id)
	}
	r.errSink.Close()
	return r.endpoints.Close()
}

// ErrSink returns the process-wide error sink (§7 "workflow callback
// failures"). cmd/masterd may route other async-component errors through
// the same sink.
func (r *Registry) ErrSink() *coordinator.ErrSink {
	return r.errSink
}

// Done returns a channel that closes once the workflow has stopped running
// and the last NodeRecord in that state has been erased (§4.6 "when the
// last session is gone in that state, stop the master"). The caller
// (cmd/masterd) selects on this alongside OS signals to trigger shutdown.
func (r *Registry) Done() <-chan struct{} {
	return r.done
}

func (r *Registry) signalDone() {
	r.doneOnce.Do(func() { close(r.done) })
}

// evictSessionLocked removes any existing Session for id and cancels its
// pending drop timer, satisfying invariant 2 ("on reconnect the previous
// Session is evicted before insertion"). Caller must hold r.mu.
func (r *Registry) evictSessionLocked(id types.NodeId) {
	if _, ok := r.sessions[id]; !ok {
		return
	}
	if peer, ok := r.peerByNode[id]; ok {
		delete(r.nodeByPeer, peer)
	}
	delete(r.peerByNode, id)
	delete(r.sessions, id)
	r.dispatcher.CancelTimeout(id)
}

func newNodeID() types.NodeId {
	return uuid.New().String()
}
