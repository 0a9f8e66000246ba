package router

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/veles-go/master/pkg/log"
)

// Transport identifies one of the three data-channel transports (§4.1).
type Transport string

const (
	TransportInproc Transport = "inproc"
	TransportIPC    Transport = "ipc"
	TransportTCP    Transport = "tcp"
)

// Endpoints is the set of three simultaneously bound data-channel
// endpoints, queryable by clients as a map (§4.1).
type Endpoints struct {
	Inproc string
	IPC    string
	TCP    string

	ipcListener net.Listener
	tcpListener net.Listener
	inprocConns chan net.Conn

	mid string
	pid int
}

// BindAll binds the ipc and tcp listeners and prepares the inproc
// transport. The tcp listener takes a random port in [1024, 65535) (an
// OS-assigned port if 20 random picks are all taken); ipcDir is the
// directory the local-filesystem socket is created under.
func BindAll(ipcDir string, mid string, pid int) (*Endpoints, error) {
	ipcPath := filepath.Join(ipcDir, fmt.Sprintf("master-%d.sock", rand.Int63()))
	ipcLn, err := net.Listen("unix", ipcPath)
	if err != nil {
		return nil, fmt.Errorf("router: bind ipc endpoint: %w", err)
	}

	tcpLn, err := listenRandomTCPPort()
	if err != nil {
		ipcLn.Close()
		return nil, fmt.Errorf("router: bind tcp endpoint: %w", err)
	}

	e := &Endpoints{
		Inproc:      fmt.Sprintf("inproc://%s-%d", mid, pid),
		IPC:         "ipc://" + ipcPath,
		TCP:         "tcp://*:" + strconv.Itoa(tcpLn.Addr().(*net.TCPAddr).Port),
		ipcListener: ipcLn,
		tcpListener: tcpLn,
		inprocConns: make(chan net.Conn, 16),
		mid:         mid,
		pid:         pid,
	}
	return e, nil
}

func listenRandomTCPPort() (net.Listener, error) {
	const minPort, maxPort = 1024, 65535
	for attempt := 0; attempt < 20; attempt++ {
		port := minPort + rand.Intn(maxPort-minPort)
		ln, err := net.Listen("tcp", ":"+strconv.Itoa(port))
		if err == nil {
			return ln, nil
		}
	}
	// Fall back to OS-assigned port if 20 random attempts all collided.
	return net.Listen("tcp", ":0")
}

// Map returns the {inproc, ipc, tcp} endpoint map as advertised to clients
// querying "endpoints" (§4.4).
func (e *Endpoints) Map() map[string]string {
	return map[string]string{
		string(TransportInproc): e.Inproc,
		string(TransportIPC):    e.IPC,
		string(TransportTCP):    e.TCP,
	}
}

// Select implements the endpoint-selection policy of §4.6: same mid+pid as
// the master's own process selects inproc, same mid only selects ipc,
// otherwise tcp with the literal "*" replaced by the worker's source IP.
func (e *Endpoints) Select(workerMid string, workerPid int, sourceIP string) string {
	if workerMid == e.mid && workerPid == e.pid {
		return e.Inproc
	}
	if workerMid == e.mid {
		return e.IPC
	}
	return strings.Replace(e.TCP, "*", sourceIP, 1)
}

// Close tears down all three transports (§5 "Resource release").
func (e *Endpoints) Close() error {
	var firstErr error
	if err := e.ipcListener.Close(); err != nil {
		firstErr = err
	}
	if err := e.tcpListener.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	close(e.inprocConns)
	return firstErr
}

// DialInproc hands an in-process net.Pipe half to the router's accept loop
// and returns the other half for a same-process worker (mid+pid match).
func (e *Endpoints) DialInproc(ctx context.Context) (net.Conn, error) {
	client, server := net.Pipe()
	select {
	case e.inprocConns <- server:
		return client, nil
	case <-ctx.Done():
		client.Close()
		server.Close()
		return nil, ctx.Err()
	}
}

// Accept returns a channel-based accept loop merging all three transports
// into one stream of connections for the Router to serve. The returned
// channels are never closed: after Close(), each listener's accept loop
// sends its error on the error channel and stops.
func (e *Endpoints) Accept() (<-chan net.Conn, <-chan error) {
	conns := make(chan net.Conn)
	errs := make(chan error, 2)
	logger := log.WithComponent("endpoints")

	acceptLoop := func(ln net.Listener) {
		for {
			conn, err := ln.Accept()
			if err != nil {
				errs <- err
				return
			}
			conns <- conn
		}
	}
	go acceptLoop(e.ipcListener)
	go acceptLoop(e.tcpListener)
	go func() {
		for conn := range e.inprocConns {
			conns <- conn
		}
	}()
	logger.Debug().Str("inproc", e.Inproc).Str("ipc", e.IPC).Str("tcp", e.TCP).Msg("endpoints bound")

	return conns, errs
}

// TransportOf identifies which of the three transports conn arrived on, for
// use as the transportOf argument to Router.Serve: the ipc shared-buffer
// fast path and non-ipc compression (§4.2) both depend on knowing this per
// connection, and Accept merges all three listeners into a single channel.
func TransportOf(conn net.Conn) Transport {
	switch conn.LocalAddr().Network() {
	case "unix":
		return TransportIPC
	case "pipe":
		return TransportInproc
	default:
		return TransportTCP
	}
}
