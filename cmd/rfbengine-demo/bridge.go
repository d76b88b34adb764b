package main

import (
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/net/proxy"
)

// The cgo RFB adapter dials host:port itself inside libvncclient's Init, so
// there is no seam to hand it an already-established net.Conn. A proxy or
// noVNC/WebSocket transport is instead exposed as a local TCP bridge: this
// process listens on loopback, and for every accepted connection dials the
// real upstream (through the proxy, or over a WebSocket) and splices the two
// byte streams together. The demo then points the engine at the bridge's
// address as if it were the RFB server itself.

// websocketNetConn adapts a *websocket.Conn to net.Conn's Read/Write shape
// so it can be spliced against a plain TCP connection with io.Copy. Each
// ReadMessage call returns one whole WebSocket message, which can be
// larger than the caller's buffer, so leftover bytes are held in pending
// and drained before the next message is read.
type websocketNetConn struct {
	*websocket.Conn
	pending []byte
}

func (c *websocketNetConn) Read(b []byte) (int, error) {
	if len(c.pending) == 0 {
		_, out, err := c.Conn.ReadMessage()
		if err != nil {
			return 0, err
		}
		c.pending = out
	}
	n := copy(b, c.pending)
	c.pending = c.pending[n:]
	return n, nil
}

func (c *websocketNetConn) Write(b []byte) (int, error) {
	if err := c.Conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
		return 0, err
	}
	return len(b), nil
}

func (c *websocketNetConn) SetDeadline(t time.Time) error      { return nil }
func (c *websocketNetConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *websocketNetConn) SetWriteDeadline(t time.Time) error { return nil }

// dialUpstream opens the real transport to destAddr: direct, through a
// SOCKS5 proxy, or over a noVNC WebSocket tunnel. insecureSkipVerify
// only affects the wss:// case and must be explicitly requested by the
// caller rather than assumed, since it disables certificate verification
// for whatever the tunneled Veyon handshake carries.
func dialUpstream(destAddr, proxyAddr string, noVNC, noVNCWss, insecureSkipVerify bool, noVNCPath string) (net.Conn, error) {
	if noVNC {
		scheme := "ws"
		if noVNCWss {
			scheme = "wss"
		}
		u := url.URL{Scheme: scheme, Host: destAddr, Path: noVNCPath}

		dialer := &websocket.Dialer{
			HandshakeTimeout:  45 * time.Second,
			EnableCompression: true,
			TLSClientConfig:   &tls.Config{InsecureSkipVerify: insecureSkipVerify},
		}

		if proxyAddr != "" {
			proxyURL, err := url.Parse(proxyAddr)
			if err != nil {
				return nil, fmt.Errorf("parse proxy address: %w", err)
			}
			proxyDialer, err := proxy.FromURL(proxyURL, proxy.Direct)
			if err != nil {
				return nil, fmt.Errorf("build proxy dialer: %w", err)
			}
			dialer.NetDial = proxyDialer.Dial
		}

		conn, _, err := dialer.Dial(u.String(), http.Header{})
		if err != nil {
			return nil, fmt.Errorf("websocket dial: %w", err)
		}
		return &websocketNetConn{Conn: conn}, nil
	}

	if proxyAddr != "" {
		proxyURL, err := url.Parse(proxyAddr)
		if err != nil {
			return nil, fmt.Errorf("parse proxy address: %w", err)
		}
		dialer, err := proxy.FromURL(proxyURL, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("build proxy dialer: %w", err)
		}
		return dialer.Dial("tcp", destAddr)
	}

	return net.Dial("tcp", destAddr)
}

// tunnelListener listens on an ephemeral loopback port, and for every
// accepted connection dials destAddr through the requested transport and
// splices the two streams together until either side closes.
type tunnelListener struct {
	ln net.Listener
}

func startTunnel(destAddr, proxyAddr string, noVNC, noVNCWss, insecureSkipVerify bool, noVNCPath string) (*tunnelListener, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	t := &tunnelListener{ln: ln}

	go func() {
		for {
			local, err := ln.Accept()
			if err != nil {
				return
			}
			go t.splice(local, destAddr, proxyAddr, noVNC, noVNCWss, insecureSkipVerify, noVNCPath)
		}
	}()

	return t, nil
}

func (t *tunnelListener) splice(local net.Conn, destAddr, proxyAddr string, noVNC, noVNCWss, insecureSkipVerify bool, noVNCPath string) {
	defer local.Close()

	upstream, err := dialUpstream(destAddr, proxyAddr, noVNC, noVNCWss, insecureSkipVerify, noVNCPath)
	if err != nil {
		return
	}
	defer upstream.Close()

	done := make(chan struct{}, 2)
	go func() { io.Copy(upstream, local); done <- struct{}{} }()
	go func() { io.Copy(local, upstream); done <- struct{}{} }()
	<-done
}

func (t *tunnelListener) HostPort() (string, int) {
	host, portStr, err := net.SplitHostPort(t.ln.Addr().String())
	if err != nil {
		return "127.0.0.1", 0
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return host, 0
	}
	return host, port
}

func (t *tunnelListener) Close() error { return t.ln.Close() }
