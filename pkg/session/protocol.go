package session

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"

	"github.com/rs/zerolog"

	"github.com/veles-go/master/pkg/log"
)

// ControlHandler implements the semantics behind each recognized
// control-channel request (§4.4). The registry package implements this;
// pkg/session only owns wire parsing and connection lifecycle.
type ControlHandler interface {
	// Connected fires on TCP accept, before any line is read — the Session
	// FSM's "connect" transition (Init -> Wait) happens here, ahead of
	// any NodeId being known (§3 "Sessions are created on TCP accept").
	Connected(peerAddr string)
	Handshake(ctx context.Context, peerAddr string, req HandshakeRequest) (any, error)
	Query(ctx context.Context, peerAddr string, req QueryRequest) (any, error)
	ChangePower(ctx context.Context, peerAddr string, req ChangePowerRequest) error
	Disconnected(peerAddr string)
}

// ControlServer is the line-JSON control-channel listener (§4.1: "a
// separate line-oriented TCP listener on a configured address/port; each
// line is one JSON object terminated by a newline").
type ControlServer struct {
	handler ControlHandler
	logger  zerolog.Logger

	mu    sync.Mutex
	conns map[string]net.Conn
}

// NewControlServer creates a ControlServer bound to handler.
func NewControlServer(handler ControlHandler) *ControlServer {
	return &ControlServer{
		handler: handler,
		logger:  log.WithComponent("control"),
		conns:   make(map[string]net.Conn),
	}
}

// Close forcibly closes the control connection for peerAddr, if still
// open — used by the dispatcher's timeout/blacklist enforcement (§4.5)
// to drop an unresponsive or hanged worker.
func (s *ControlServer) Close(peerAddr string) error {
	s.mu.Lock()
	conn, ok := s.conns[peerAddr]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return conn.Close()
}

// Serve accepts connections on ln until it is closed, handling each on its
// own goroutine. The event-loop-per-connection model matches the overall
// single-threaded-per-session mutation rule (§5): each connection's
// handler calls are serialized by virtue of being read sequentially off
// one TCP stream, and callers are responsible for serializing mutations
// across sessions via the registry.
func (s *ControlServer) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go s.handleConn(conn)
	}
}

func (s *ControlServer) handleConn(conn net.Conn) {
	defer conn.Close()
	peerAddr := conn.RemoteAddr().String()

	s.mu.Lock()
	s.conns[peerAddr] = conn
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, peerAddr)
		s.mu.Unlock()
	}()

	s.handler.Connected(peerAddr)
	defer s.handler.Disconnected(peerAddr)

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	enc := json.NewEncoder(conn)
	ctx := context.Background()

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		resp, err := s.dispatch(ctx, peerAddr, line)
		if err != nil {
			resp = ErrorResponse{Error: err.Error()}
		}
		if encErr := enc.Encode(resp); encErr != nil {
			s.logger.Warn().Err(encErr).Str("peer", peerAddr).Msg("failed to write control response")
			return
		}
	}
	if err := scanner.Err(); err != nil {
		s.logger.Debug().Err(err).Str("peer", peerAddr).Msg("control connection closed")
	}
}

func (s *ControlServer) dispatch(ctx context.Context, peerAddr string, line []byte) (any, error) {
	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, fmt.Errorf("malformed control line: %w", err)
	}

	switch {
	case env.Query != "":
		var req QueryRequest
		if err := json.Unmarshal(line, &req); err != nil {
			return nil, fmt.Errorf("malformed query: %w", err)
		}
		return s.handler.Query(ctx, peerAddr, req)

	case env.Cmd == "handshake":
		var req HandshakeRequest
		if err := json.Unmarshal(line, &req); err != nil {
			return nil, fmt.Errorf("malformed handshake: %w", err)
		}
		return s.handler.Handshake(ctx, peerAddr, req)

	case env.Cmd == "change_power":
		var req ChangePowerRequest
		if err := json.Unmarshal(line, &req); err != nil {
			return nil, fmt.Errorf("malformed change_power: %w", err)
		}
		return nil, s.handler.ChangePower(ctx, peerAddr, req)

	default:
		return nil, fmt.Errorf("No responder for command %q", env.Cmd)
	}
}
