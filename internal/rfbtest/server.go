// Package rfbtest provides a minimal in-process TCP listener that stands
// in for a real RFB server in the handshake/session integration scenarios
// named in spec.md §8 ("In-process RFB server"). It speaks whatever byte
// protocol the test handler wants — VariantArrayMessage framing for the
// Veyon scenarios, or nothing at all for plain reachability checks.
package rfbtest

import (
	"net"
	"strconv"
)

// Handler drives the server side of one accepted connection. It owns conn
// and must close it when done.
type Handler func(conn net.Conn)

// Server is a one-shot TCP listener bound to an ephemeral loopback port.
type Server struct {
	ln net.Listener
}

// Listen opens a new Server on 127.0.0.1 with an OS-assigned port.
func Listen() (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	return &Server{ln: ln}, nil
}

// Addr returns the "host:port" string a client should dial.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// HostPort splits Addr for callers that need them separately, e.g.
// engine.Connection's SetHost/SetPort pair.
func (s *Server) HostPort() (host string, port int) {
	h, p, err := net.SplitHostPort(s.Addr())
	if err != nil {
		return "127.0.0.1", 0
	}
	portNum, err := strconv.Atoi(p)
	if err != nil {
		return h, 0
	}
	return h, portNum
}

// Serve accepts exactly one connection in a background goroutine and runs
// handler against it. Scenarios that need more than one connection call
// Serve again after the previous handler returns.
func (s *Server) Serve(handler Handler) {
	go func() {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		handler(conn)
	}()
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	return s.ln.Close()
}
