// Package engine implements component E: the per-host Connection state
// machine, its worker loop, and the plumbing that ties the RFB adapter
// (component A), framebuffer store (B), event queue (C), and Veyon
// negotiator (D) together under the external collaborator interfaces
// (F).
package engine

import (
	"image"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/veyon-go/rfbengine/internal/eventqueue"
	"github.com/veyon-go/rfbengine/internal/external"
	"github.com/veyon-go/rfbengine/internal/framebuffer"
	"github.com/veyon-go/rfbengine/internal/quality"
	"github.com/veyon-go/rfbengine/internal/rfbadapter"
	"github.com/veyon-go/rfbengine/internal/rfblog"
	"github.com/veyon-go/rfbengine/internal/veyon"
)

// Timeout constants named in spec.md §4.E; magnitudes only, not tuned for
// any particular deployment.
const (
	MessageWaitTimeout        = 500 * time.Millisecond
	InitialFrameBufferTimeout = 5 * time.Second
	ThreadTerminationTimeout  = 3 * time.Second
	reconnectBackoff          = time.Second
)

// Connection owns one RFB session against a single host, run by a single
// worker goroutine that repeatedly establishes, handles, and closes
// attempts until Stop is called. All exported methods are safe to call
// from any goroutine.
type Connection struct {
	ID uuid.UUID

	factory  rfbadapter.Factory
	creds    external.CredentialProvider
	config   external.Config
	probe    external.ReachabilityProbe
	observer external.Observer
	logger   rfblog.Logger

	fb     *framebuffer.Store
	events *eventqueue.Queue
	sleep  *sleeper

	configMu       sync.Mutex
	host           string
	port           int
	profile        quality.Profile
	updateInterval time.Duration
	preferredAuth  veyon.AuthType

	stateMu sync.Mutex
	state   State

	fbMu    sync.Mutex
	fbPhase FramebufferPhase

	runMu       sync.Mutex
	running     bool
	interrupted bool
	doneCh      chan struct{}

	statsMu sync.Mutex
	stats   Stats

	adapter          rfbadapter.Adapter
	serviceReachable bool
}

// Option configures a Connection at construction time.
type Option func(*Connection)

// WithCredentialProvider overrides the default StaticCredentialProvider.
func WithCredentialProvider(p external.CredentialProvider) Option {
	return func(c *Connection) { c.creds = p }
}

// WithConfig overrides the default StaticConfig.
func WithConfig(cfg external.Config) Option {
	return func(c *Connection) { c.config = cfg }
}

// WithReachabilityProbe overrides the default TCPReachabilityProbe.
func WithReachabilityProbe(p external.ReachabilityProbe) Option {
	return func(c *Connection) { c.probe = p }
}

// WithObserver overrides the default no-op observer.
func WithObserver(o external.Observer) Option {
	return func(c *Connection) { c.observer = o }
}

// WithLogger overrides the default logger.
func WithLogger(l rfblog.Logger) Option {
	return func(c *Connection) { c.logger = l }
}

// WithAdapterFactory overrides rfbadapter.DefaultFactory, mainly so tests
// can inject a rfbadapter.Fake.
func WithAdapterFactory(f rfbadapter.Factory) Option {
	return func(c *Connection) { c.factory = f }
}

// WithQualityProfile sets the initial quality preset.
func WithQualityProfile(preset quality.Preset) Option {
	return func(c *Connection) { c.profile = quality.Lookup(preset) }
}

type noOpObserver struct{}

func (noOpObserver) ImageUpdated(x, y, w, h int)                           {}
func (noOpObserver) FramebufferSizeChanged(w, h int)                       {}
func (noOpObserver) FramebufferUpdateComplete()                           {}
func (noOpObserver) CursorPosChanged(x, y int)                             {}
func (noOpObserver) CursorShapeUpdated(rgba []byte, w, h, hotX, hotY int) {}
func (noOpObserver) GotCut(text string)                                   {}
func (noOpObserver) StateChanged()                                        {}
func (noOpObserver) NewClient()                                           {}

// New creates a disconnected Connection. Call Start to begin the worker
// loop.
func New(host string, port int, opts ...Option) *Connection {
	c := &Connection{
		ID:       uuid.New(),
		factory:  rfbadapter.DefaultFactory,
		creds:    external.StaticCredentialProvider{},
		config:   external.StaticConfig{Port: 11100},
		probe:    external.NewTCPReachabilityProbe(11100),
		observer: noOpObserver{},
		logger:   rfblog.Default(),
		fb:       framebuffer.New(),
		events:   eventqueue.New(),
		sleep:    newSleeper(),
		port:     -1,
		profile:  quality.Lookup(quality.Default),
		state:    Disconnected,
		fbPhase:  FramebufferInvalid,
	}
	c.SetHost(host)
	c.SetPort(port)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetHost applies the same normalization as setHost in spec.md §4.E: an
// IPv6-mapped-IPv4 address is flattened, "::1" becomes the IPv4 loopback,
// and a bare "host:port" form is split.
func (c *Connection) SetHost(host string) {
	c.configMu.Lock()
	defer c.configMu.Unlock()

	if mapped, ok := stripIPv6MappedIPv4(host); ok {
		c.host = mapped
		return
	}
	if host == "::1" {
		c.host = "127.0.0.1"
		return
	}
	if strings.Count(host, ":") == 1 {
		if h, p, err := net.SplitHostPort(host); err == nil {
			if port, err := strconv.Atoi(p); err == nil {
				c.host = h
				c.port = port
				return
			}
		}
	}
	c.host = host
}

func stripIPv6MappedIPv4(host string) (string, bool) {
	const prefix = "::ffff:"
	lower := strings.ToLower(host)
	if strings.HasPrefix(lower, prefix) {
		candidate := host[len(prefix):]
		if net.ParseIP(candidate) != nil && strings.Contains(candidate, ".") {
			return candidate, true
		}
	}
	return "", false
}

// SetPort sets the target port. Negative values are ignored and leave the
// current port as it is; a Connection created with a negative port keeps
// the -1 sentinel, which dials the configured default port. Port 0 is
// accepted and forwarded to the adapter unchanged.
func (c *Connection) SetPort(port int) {
	if port < 0 {
		return
	}
	c.configMu.Lock()
	c.port = port
	c.configMu.Unlock()
}

// SetFramebufferUpdateInterval sets the pacing interval between update
// requests while Connected.
func (c *Connection) SetFramebufferUpdateInterval(d time.Duration) {
	c.configMu.Lock()
	c.updateInterval = d
	c.configMu.Unlock()
}

// SetQualityProfile sets the preset used on the next connection attempt.
func (c *Connection) SetQualityProfile(preset quality.Preset) {
	c.configMu.Lock()
	c.profile = quality.Lookup(preset)
	c.configMu.Unlock()
}

// SetPreferredAuthType biases Veyon auth-scheme selection.
func (c *Connection) SetPreferredAuthType(t veyon.AuthType) {
	c.configMu.Lock()
	c.preferredAuth = t
	c.configMu.Unlock()
}

func (c *Connection) snapshotConfig() (host string, port int, profile quality.Profile, interval time.Duration, preferredAuth veyon.AuthType) {
	c.configMu.Lock()
	defer c.configMu.Unlock()
	return c.host, c.port, c.profile, c.updateInterval, c.preferredAuth
}

// State returns the current connection state.
func (c *Connection) State() State {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

func (c *Connection) setState(s State) {
	c.stateMu.Lock()
	changed := s != c.state
	c.state = s
	c.stateMu.Unlock()
	if changed {
		c.observer.StateChanged()
	}
}

// FramebufferPhase returns the current framebuffer initialization phase.
func (c *Connection) FramebufferPhase() FramebufferPhase {
	c.fbMu.Lock()
	defer c.fbMu.Unlock()
	return c.fbPhase
}

// SetScaledSize configures the optional scaled-mirror target dimensions,
// mirroring VeyonVncConnection's m_scaledSize. Passing 0,0 disables the
// mirror.
func (c *Connection) SetScaledSize(width, height int) {
	c.fb.SetScaledSize(image.Point{X: width, Y: height})
}

// ScaledImage returns the most recently computed scaled mirror, or nil if
// no target size is configured or no rescale has run yet.
func (c *Connection) ScaledImage() *image.RGBA {
	return c.fb.ScaledMirror()
}

// Image returns a copy-on-write snapshot of the current framebuffer.
func (c *Connection) Image() framebuffer.Snapshot {
	return c.fb.Snapshot()
}

// Stats returns the connection's reconnect count and last session
// duration.
func (c *Connection) Stats() Stats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.stats
}

// SendPointerEvent enqueues a pointer move/button event, dropped silently
// unless currently Connected.
func (c *Connection) SendPointerEvent(x, y int, buttonMask uint8) {
	c.events.Enqueue(eventqueue.NewPointerEvent(x, y, buttonMask), c.isConnected)
}

// SendKeyEvent enqueues a key press/release event.
func (c *Connection) SendKeyEvent(key uint32, pressed bool) {
	c.events.Enqueue(eventqueue.NewKeyEvent(key, pressed), c.isConnected)
}

// SendClientCutText enqueues a clipboard push to the server.
func (c *Connection) SendClientCutText(text string) {
	c.events.Enqueue(eventqueue.NewCutEvent(text), c.isConnected)
}

func (c *Connection) isConnected() bool {
	return c.State() == Connected
}

// Start launches the worker loop if it is not already running.
func (c *Connection) Start() {
	c.runMu.Lock()
	if c.running {
		c.runMu.Unlock()
		return
	}
	c.running = true
	c.interrupted = false
	c.doneCh = make(chan struct{})
	done := c.doneCh
	c.runMu.Unlock()

	go func() {
		defer close(done)
		c.run()
	}()
}

// Reset mirrors VeyonVncConnection::reset: if not yet Connected and still
// running, just repoint the host; otherwise stop, repoint, and restart.
func (c *Connection) Reset(host string) {
	c.runMu.Lock()
	running := c.running
	c.runMu.Unlock()

	if c.State() != Connected && running {
		c.SetHost(host)
		return
	}
	c.Stop()
	c.SetHost(host)
	c.Start()
}

// Stop requests the worker loop to exit. It does not block; call Wait (or
// rely on the bounded termination timeout this method starts internally)
// to observe completion.
func (c *Connection) Stop() {
	c.runMu.Lock()
	if !c.running {
		c.runMu.Unlock()
		return
	}
	c.interrupted = true
	done := c.doneCh
	c.runMu.Unlock()

	c.fb.SetScaledSize(image.Point{})

	c.sleep.WakeAll()

	go func() {
		timer := time.NewTimer(ThreadTerminationTimeout)
		defer timer.Stop()
		select {
		case <-done:
		case <-timer.C:
			// Go has no forced-termination primitive for a blocked
			// goroutine; the worker keeps running until its current
			// blocking call (WaitForMessage/socket I/O) returns and
			// observes interrupted. This matches the original's
			// documented Windows behavior of letting the thread run
			// rather than deadlocking on a hard terminate.
			c.logger.Warn("worker did not stop within termination timeout", rfblog.Field{Key: "connection", Value: c.ID})
		}
	}()
}

// Wait blocks until the worker loop has exited.
func (c *Connection) Wait() {
	c.runMu.Lock()
	done := c.doneCh
	c.runMu.Unlock()
	if done != nil {
		<-done
	}
}

func (c *Connection) isInterruptionRequested() bool {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	return c.interrupted
}

func (c *Connection) run() {
	for !c.isInterruptionRequested() {
		started := time.Now()
		c.establishConnection()
		if c.State() == Connected {
			c.handleConnection()
		}
		c.closeConnection()

		c.statsMu.Lock()
		c.stats.ReconnectCount++
		c.stats.LastSessionDuration = time.Since(started).Seconds()
		c.statsMu.Unlock()
	}

	c.setState(Disconnected)

	c.runMu.Lock()
	c.running = false
	c.runMu.Unlock()
}

// establishConnection builds a fresh adapter, wires its callbacks — the
// Veyon vendor handshake runs synchronously inside Init via the
// NegotiateSecurity callback when the server offers it — and drives it
// through Init, mirroring VeyonVncConnection::establishConnection. On any
// failure it classifies the cause into one of the terminal-for-this-attempt
// states and sleeps before run() loops back around.
func (c *Connection) establishConnection() {
	c.setState(Connecting)
	host, port, profile, _, preferredAuth := c.snapshotConfig()

	c.fbMu.Lock()
	c.fbPhase = FramebufferInvalid
	c.fbMu.Unlock()
	c.serviceReachable = false

	adapter, err := c.factory()
	if err != nil {
		c.logger.Error("adapter unavailable", rfblog.Field{Key: "err", Value: err})
		c.setState(ConnectionFailed)
		c.sleepBeforeRetry()
		return
	}
	c.adapter = adapter

	effectivePort := port
	if effectivePort < 0 {
		effectivePort = c.config.DefaultPort()
	}

	var negotiateErr error
	adapter.Configure(profile, rfbadapter.Callbacks{
		FramebufferAllocated: c.hookFramebufferAllocated,
		IncrementalUpdate:    c.hookIncrementalUpdate,
		FinishedUpdate:       c.hookFinishedUpdate,
		CursorPosChanged:     c.observer.CursorPosChanged,
		CursorShapeUpdated:   c.hookCursorShapeUpdated,
		ServerCutText:        c.observer.GotCut,
		ServiceReachable:     func() { c.serviceReachable = true },
		NegotiateSecurity: func() error {
			negotiateErr = c.negotiateVeyon(adapter, preferredAuth)
			return negotiateErr
		},
	})

	if !adapter.Init(host, effectivePort) {
		if negotiateErr != nil {
			c.logger.Error("veyon negotiation failed", rfblog.Field{Key: "err", Value: negotiateErr})
			c.setState(AuthenticationFailed)
		} else {
			c.classifyConnectionFailure(host)
		}
		c.sleepBeforeRetry()
		return
	}

	c.fbMu.Lock()
	c.fbPhase = FramebufferInitialized
	c.fbMu.Unlock()

	c.observer.NewClient()
	c.setState(Connected)
}

// negotiateVeyon runs the Veyon vendor sub-handshake. It is invoked as the
// adapter's NegotiateSecurity callback, which fires synchronously from
// inside adapter.Init's RFB security negotiation when the server selects
// the Veyon subtype — never as a step sequenced after Init returns.
func (c *Connection) negotiateVeyon(adapter rfbadapter.Adapter, preferredAuth veyon.AuthType) error {
	if !c.creds.HasLogonCredentials() && !c.creds.HasPrivateKey() && !c.creds.HasToken() {
		return nil
	}
	privateKey, keyName := c.creds.PrivateKey()
	creds := veyon.Credentials{
		Username:      c.creds.Username(),
		PrivateKey:    privateKey,
		KeyName:       keyName,
		LogonPassword: c.creds.LogonPassword(),
		Token:         c.creds.Token(),
	}
	preferred := preferredAuth
	if preferred == 0 {
		preferred = c.creds.PreferredAuthType()
	}
	if preferred == 0 {
		preferred = c.config.DefaultAuthType()
	}
	return veyon.Negotiate(adapter, creds, preferred)
}

// classifyConnectionFailure diagnoses an Init failure that did not come
// from a Veyon negotiation error: if the server reached the security
// handshake (serviceReachable) the state is AuthenticationFailed; otherwise
// the reachability probe picks ServiceUnreachable (host answers) or
// HostOffline. Whether a framebuffer was allocated is not consulted, so a
// failure after the handshake also reports AuthenticationFailed, and this
// function never reports ConnectionFailed.
func (c *Connection) classifyConnectionFailure(host string) {
	switch {
	case c.serviceReachable:
		c.setState(AuthenticationFailed)
	case c.probe != nil && c.probe.Ping(host):
		c.setState(ServiceUnreachable)
	default:
		c.setState(HostOffline)
	}
}

func (c *Connection) sleepBeforeRetry() {
	if c.isInterruptionRequested() {
		return
	}
	c.sleep.Wait(reconnectBackoff)
}

// handleConnection runs the per-session message loop, mirroring
// VeyonVncConnection::handleConnection: poll for a message, drain
// whatever becomes ready, request the next framebuffer update according
// to the current FramebufferPhase, flush outbound events, then pace
// itself to updateInterval.
func (c *Connection) handleConnection() {
	sessionStart := time.Now()

	for !c.isInterruptionRequested() {
		iterStart := time.Now()

		result := c.adapter.WaitForMessage(int(MessageWaitTimeout / time.Millisecond))
		if result < 0 {
			break
		}
		for result > 0 {
			if !c.adapter.HandleServerMessage() {
				c.events.Drain(c.adapter)
				return
			}
			result = c.adapter.WaitForMessage(0)
			if result < 0 {
				c.events.Drain(c.adapter)
				return
			}
		}

		c.requestNextUpdate(sessionStart)
		c.events.Drain(c.adapter)

		_, _, _, interval, _ := c.snapshotConfig()
		if interval > 0 {
			if remaining := interval - time.Since(iterStart); remaining > 0 {
				c.sleep.Wait(remaining)
			}
		}
	}

	c.events.Drain(c.adapter)
}

func (c *Connection) requestNextUpdate(sessionStart time.Time) {
	w, h := c.adapter.FrameBufferWidth(), c.adapter.FrameBufferHeight()

	switch c.FramebufferPhase() {
	case FramebufferInitialized:
		if time.Since(sessionStart) > InitialFrameBufferTimeout {
			return
		}
		c.adapter.SendFramebufferUpdateRequest(0, 0, w, h, false)
	case FramebufferFirstUpdate:
		c.adapter.SendFramebufferUpdateRequest(0, 0, w, h, false)
	default:
		c.adapter.SendFramebufferUpdateRequest(0, 0, w, h, true)
	}
}

// closeConnection tears down the current adapter and returns to
// Disconnected, mirroring VeyonVncConnection::closeConnection.
func (c *Connection) closeConnection() {
	if c.adapter != nil {
		c.adapter.Cleanup()
		c.adapter = nil
	}
	if c.State() != Disconnected {
		c.setState(Disconnected)
	}
}

func (c *Connection) hookFramebufferAllocated(width, height int) {
	c.fb.Allocate(width, height)
	c.observer.FramebufferSizeChanged(width, height)
}

func (c *Connection) hookIncrementalUpdate(x, y, w, h int) {
	if c.adapter == nil {
		return
	}
	fb := c.adapter.FrameBuffer()
	stride := c.adapter.FrameBufferWidth() * 4
	region := make([]byte, w*h*4)
	for row := 0; row < h; row++ {
		srcOff := (y+row)*stride + x*4
		dstOff := row * w * 4
		if srcOff >= 0 && srcOff+w*4 <= len(fb) {
			copy(region[dstOff:dstOff+w*4], fb[srcOff:srcOff+w*4])
		}
	}
	c.fb.UpdateRegion(x, y, w, h, region)
	c.observer.ImageUpdated(x, y, w, h)
}

// hookFinishedUpdate mirrors VeyonVncConnection::finishFrameBufferUpdate:
// advances the framebuffer phase on the first two update batches, then
// always announces completion and recomputes the scaled mirror. The
// original marks m_scaledScreenNeedsUpdate and leaves the resample to the
// next paint event; without a GUI paint loop driving it, the mirror is
// recomputed here instead so ScaledImage stays current.
func (c *Connection) hookFinishedUpdate() {
	c.fbMu.Lock()
	switch c.fbPhase {
	case FramebufferInitialized:
		c.fbPhase = FramebufferFirstUpdate
	case FramebufferFirstUpdate:
		c.fbPhase = FramebufferValid
	}
	c.fbMu.Unlock()

	c.fb.MarkDirty()
	c.fb.Rescale()
	c.observer.FramebufferUpdateComplete()
}

func (c *Connection) hookCursorShapeUpdated(shape rfbadapter.CursorShape) {
	c.observer.CursorShapeUpdated(shape.RGBA, shape.Width, shape.Height, shape.HotX, shape.HotY)
}
