package router

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeHandler records JobRequested/UpdateReceived calls.
type fakeHandler struct {
	mu           sync.Mutex
	jobRequests  []string
	updates      map[string][]byte
}

func newFakeHandler() *fakeHandler {
	return &fakeHandler{updates: map[string][]byte{}}
}

func (h *fakeHandler) JobRequested(nodeID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.jobRequests = append(h.jobRequests, nodeID)
}

func (h *fakeHandler) UpdateReceived(nodeID string, payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.updates[nodeID] = payload
}

func TestRouterRejectsUnregisteredNode(t *testing.T) {
	handler := newFakeHandler()
	r := New(handler, NoCompression(), false)

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	go r.serveConn(server, TransportTCP)

	require.NoError(t, writeFrame(client, &Frame{RoutingToken: "r1", NodeID: "unknown", Command: CommandJob}))

	resp, err := readFrame(client)
	require.NoError(t, err)
	assert.Equal(t, CommandError, resp.Command)
	assert.Equal(t, "Unknown node ID", string(resp.Payload))
}

func TestRouterJobRequestAndReplyRoundTrip(t *testing.T) {
	handler := newFakeHandler()
	r := New(handler, NoCompression(), false)
	r.RegisterNode("n1")

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	go r.serveConn(server, TransportTCP)

	require.NoError(t, writeFrame(client, &Frame{RoutingToken: "r1", NodeID: "n1", Command: CommandJob}))

	deadline := time.Now().Add(time.Second)
	for len(handler.jobRequests) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	require.Equal(t, []string{"n1"}, handler.jobRequests)

	require.NoError(t, r.Reply("n1", CommandJob, []byte("job-data")))
	resp, err := readFrame(client)
	require.NoError(t, err)
	assert.Equal(t, "r1", resp.RoutingToken)
	assert.Equal(t, []byte("job-data"), resp.Payload)

	// The routing token is consumed: a second reply with no fresh request
	// has nothing to send and must not block or panic.
	err = r.Reply("n1", CommandJob, []byte("stale"))
	assert.NoError(t, err)
}

func TestDropNodeReleasesState(t *testing.T) {
	handler := newFakeHandler()
	r := New(handler, NoCompression(), false)
	r.RegisterNode("n1")
	r.bufferFor("n1").Fit([]byte("x"))

	r.DropNode("n1")

	r.mu.Lock()
	_, hasBuffer := r.buffers["n1"]
	_, hasBinding := r.bindings["n1"]
	r.mu.Unlock()
	assert.False(t, hasBuffer)
	assert.False(t, hasBinding)
}
