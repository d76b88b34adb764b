package veyon

import "net"

// pipeConn adapts a net.Conn half of net.Pipe to the Conn interface, so
// tests can run the client and server sides of a negotiation on separate
// goroutines with real blocking read/write semantics.
type pipeConn struct {
	net.Conn
}

func newPipePair() (client, server *pipeConn) {
	c, s := net.Pipe()
	return &pipeConn{Conn: c}, &pipeConn{Conn: s}
}

func (p *pipeConn) ReadFromServer(buf []byte) (int, error) { return p.Read(buf) }
func (p *pipeConn) WriteToServer(buf []byte) (int, error)  { return p.Write(buf) }
