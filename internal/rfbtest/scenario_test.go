package rfbtest_test

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veyon-go/rfbengine/internal/external"
	"github.com/veyon-go/rfbengine/internal/rfbtest"
	"github.com/veyon-go/rfbengine/internal/veyon"
)

// TestTokenNegotiationOverRealSocket exercises scenario language from
// spec.md §8 ("In-process RFB server") end to end: a real TCP listener
// offers the Token scheme and a real client dial negotiates it, with
// bytes actually crossing the loopback socket rather than an in-memory
// pipe.
func TestTokenNegotiationOverRealSocket(t *testing.T) {
	srv, err := rfbtest.Listen()
	require.NoError(t, err)
	defer srv.Close()

	tokenResult := make(chan string, 1)

	srv.Serve(func(conn net.Conn) {
		defer conn.Close()
		sc := rfbtest.Wrap(conn)

		offer := veyon.NewMessage()
		offer.WriteUint32(1)
		offer.WriteUint32(uint32(veyon.AuthToken))
		_ = offer.Send(sc)

		reply := veyon.NewMessage()
		_ = reply.Receive(sc)

		ack := veyon.NewMessage()
		ack.WriteBool(true)
		_ = ack.Send(sc)

		token := veyon.NewMessage()
		_ = token.Receive(sc)
		s, err := token.ReadString()
		if err == nil {
			tokenResult <- s
		}
	})

	clientConn, err := net.DialTimeout("tcp", srv.Addr(), time.Second)
	require.NoError(t, err)
	defer clientConn.Close()

	cc := rfbtest.Wrap(clientConn)
	creds := veyon.Credentials{Token: "shared-secret"}
	err = veyon.Negotiate(cc, creds, veyon.AuthToken)
	require.NoError(t, err)

	select {
	case got := <-tokenResult:
		assert.Equal(t, "shared-secret", got)
	case <-time.After(time.Second):
		t.Fatal("server never observed the token")
	}
}

// TestReachabilityProbeAgainstListener grounds scenario 2's "host
// reachable, service not speaking RFB yet" case directly against
// rfbtest.Server rather than a hand-rolled net.Listen call.
func TestReachabilityProbeAgainstListener(t *testing.T) {
	srv, err := rfbtest.Listen()
	require.NoError(t, err)
	defer srv.Close()

	host, port := srv.HostPort()
	probe := external.TCPReachabilityProbe{Port: port, Timeout: time.Second}
	assert.True(t, probe.Ping(host))
}
