package rfbtest

import "net"

// Conn adapts a net.Conn to the ReadFromServer/WriteToServer shape every
// component in this module expects from its transport (rfbadapter.Adapter,
// veyon.Conn).
type Conn struct {
	net.Conn
}

// Wrap returns a Conn around an already-dialed or already-accepted
// net.Conn.
func Wrap(c net.Conn) *Conn { return &Conn{Conn: c} }

func (c *Conn) ReadFromServer(buf []byte) (int, error) { return c.Read(buf) }
func (c *Conn) WriteToServer(buf []byte) (int, error)  { return c.Write(buf) }
