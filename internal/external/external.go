// Package external defines the engine's collaborator interfaces — the
// things the connection engine depends on but does not implement — plus
// a default, in-process implementation of each one (spec.md §4.F).
package external

import (
	"crypto/ecdsa"
	"net"
	"strconv"
	"time"

	"github.com/veyon-go/rfbengine/internal/rfblog"
	"github.com/veyon-go/rfbengine/internal/veyon"
)

// CredentialProvider answers the questions the Veyon negotiator needs
// about which credentials are available and which scheme to prefer.
type CredentialProvider interface {
	HasLogonCredentials() bool
	HasPrivateKey() bool
	HasToken() bool

	Username() string
	PrivateKey() (*ecdsa.PrivateKey, string)
	LogonPassword() string
	Token() string

	PreferredAuthType() veyon.AuthType
}

// ReachabilityProbe performs a synchronous reachability check against a
// host, used by the engine to decide whether a stalled connection attempt
// is HostOffline versus something further along (spec.md §4.F).
type ReachabilityProbe interface {
	Ping(host string) bool
}

// Config supplies the engine's defaults.
type Config interface {
	DefaultPort() int
	DefaultAuthType() veyon.AuthType
}

// Observer receives every signal the engine emits, mirroring the Qt
// signal sink named in spec.md §4.F.
type Observer interface {
	ImageUpdated(x, y, w, h int)
	FramebufferSizeChanged(w, h int)
	FramebufferUpdateComplete()
	CursorPosChanged(x, y int)
	CursorShapeUpdated(rgba []byte, width, height, hotX, hotY int)
	GotCut(text string)
	StateChanged()
	NewClient()
}

// StaticCredentialProvider is a fixed-value CredentialProvider for tests
// and the demo CLI; fields left at their zero value simply mean that
// scheme has nothing to offer.
type StaticCredentialProvider struct {
	UsernameValue   string
	PrivateKeyValue *ecdsa.PrivateKey
	KeyNameValue    string
	PasswordValue   string
	TokenValue      string
	Preferred       veyon.AuthType
}

func (s StaticCredentialProvider) HasLogonCredentials() bool        { return s.PasswordValue != "" }
func (s StaticCredentialProvider) HasPrivateKey() bool               { return s.PrivateKeyValue != nil }
func (s StaticCredentialProvider) HasToken() bool                    { return s.TokenValue != "" }
func (s StaticCredentialProvider) Username() string                  { return s.UsernameValue }
func (s StaticCredentialProvider) LogonPassword() string             { return s.PasswordValue }
func (s StaticCredentialProvider) Token() string                     { return s.TokenValue }
func (s StaticCredentialProvider) PreferredAuthType() veyon.AuthType { return s.Preferred }

func (s StaticCredentialProvider) PrivateKey() (*ecdsa.PrivateKey, string) {
	return s.PrivateKeyValue, s.KeyNameValue
}

// TCPReachabilityProbe checks reachability with a bounded TCP dial rather
// than raw ICMP, which needs elevated privileges on most platforms. It
// dials the configured port if positive, otherwise port 80.
type TCPReachabilityProbe struct {
	Port    int
	Timeout time.Duration
}

// NewTCPReachabilityProbe returns a probe with spec.md's defaults: the
// given service port and a one-second dial timeout.
func NewTCPReachabilityProbe(port int) TCPReachabilityProbe {
	return TCPReachabilityProbe{Port: port, Timeout: time.Second}
}

func (p TCPReachabilityProbe) Ping(host string) bool {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = time.Second
	}
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, portString(p.Port)), timeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func portString(port int) string {
	if port <= 0 {
		port = 80
	}
	return strconv.Itoa(port)
}

// StaticConfig is a fixed-value Config.
type StaticConfig struct {
	Port     int
	AuthType veyon.AuthType
}

func (c StaticConfig) DefaultPort() int                { return c.Port }
func (c StaticConfig) DefaultAuthType() veyon.AuthType { return c.AuthType }

// LogObserver routes every signal through the component H logger,
// matching VeyonVncConnection's own debug tracing of these events.
type LogObserver struct {
	Logger rfblog.Logger
}

func (o LogObserver) logger() rfblog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return rfblog.Default()
}

func (o LogObserver) ImageUpdated(x, y, w, h int) {
	o.logger().Debug("image updated", rfblog.Field{Key: "x", Value: x}, rfblog.Field{Key: "y", Value: y}, rfblog.Field{Key: "w", Value: w}, rfblog.Field{Key: "h", Value: h})
}

func (o LogObserver) FramebufferSizeChanged(w, h int) {
	o.logger().Info("framebuffer size changed", rfblog.Field{Key: "width", Value: w}, rfblog.Field{Key: "height", Value: h})
}

func (o LogObserver) FramebufferUpdateComplete() {
	o.logger().Debug("framebuffer update complete")
}

func (o LogObserver) CursorPosChanged(x, y int) {
	o.logger().Debug("cursor position changed", rfblog.Field{Key: "x", Value: x}, rfblog.Field{Key: "y", Value: y})
}

func (o LogObserver) CursorShapeUpdated(rgba []byte, width, height, hotX, hotY int) {
	o.logger().Debug("cursor shape updated", rfblog.Field{Key: "width", Value: width}, rfblog.Field{Key: "height", Value: height})
}

func (o LogObserver) GotCut(text string) {
	o.logger().Debug("clipboard text received", rfblog.Field{Key: "length", Value: len(text)})
}

func (o LogObserver) StateChanged() {
	o.logger().Info("connection state changed")
}

func (o LogObserver) NewClient() {
	o.logger().Info("new client created")
}
