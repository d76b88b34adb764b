// Package rfbadapter implements component A: a thin Go interface around
// an underlying RFB client library (normally libvncclient via cgo), plus
// the fixed set of callbacks the connection engine needs wired up.
package rfbadapter

import (
	"errors"

	"github.com/veyon-go/rfbengine/internal/quality"
)

// ErrAdapterUnavailable is returned by the non-cgo build when no RFB
// client library is linked in.
var ErrAdapterUnavailable = errors.New("rfbadapter: no cgo RFB client library linked into this build")

// CursorShape is the converted form of the RFB library's raw cursor
// bitmap: an RGBA image with a transparent mask built from the two-color
// table (white transparent, black opaque), plus the server-supplied
// hot-spot, mirroring VeyonVncConnection::hookCursorShape.
type CursorShape struct {
	Width, Height int
	RGBA          []byte // width*height*4, straight RGBA
	HotX, HotY    int
}

// Callbacks bundles every hook the adapter invokes back into the owning
// Connection. All of them run on the worker goroutine that called
// WaitForMessage/HandleServerMessage — never concurrently.
type Callbacks struct {
	// FramebufferAllocated fires when the server (re)describes the
	// framebuffer dimensions; the adapter has already resized its own
	// internal buffer by the time this runs.
	FramebufferAllocated func(width, height int)

	// IncrementalUpdate fires once per changed rectangle the server
	// sends, carrying the rectangle bounds only (pixel data is read via
	// FrameBuffer()).
	IncrementalUpdate func(x, y, w, h int)

	// FinishedUpdate fires once the server has sent every rectangle for
	// the current framebuffer update response.
	FinishedUpdate func()

	// CursorPosChanged fires when the server repositions the remote
	// cursor.
	CursorPosChanged func(x, y int)

	// CursorShapeUpdated fires when the server sends a new cursor
	// bitmap.
	CursorShapeUpdated func(shape CursorShape)

	// ServerCutText fires when the server pushes clipboard text.
	ServerCutText func(text string)

	// ServiceReachable fires from the Veyon security-type handler, once the
	// server has selected the Veyon subtype and before NegotiateSecurity
	// runs; it does not fire for other security types. It is used by
	// the engine to distinguish HostOffline from AuthenticationFailed
	// (spec.md §4.E), matching
	// VeyonVncConnection::hookPrepareAuthentication.
	ServiceReachable func()

	// NegotiateSecurity fires synchronously from within Init's RFB
	// security-type negotiation when the server selects the Veyon vendor
	// subtype, before Init returns. A non-nil error fails the handshake
	// and causes Init to return false, matching
	// VeyonVncConnection::handleSecTypeVeyon being driven from the
	// registered security-type handler rather than run afterward.
	NegotiateSecurity func() error
}

// Adapter is the contract the connection engine drives. Production code
// gets it from DefaultFactory (cgo-backed); tests substitute a fake.
type Adapter interface {
	// Configure wires up pixel format, quality profile, and callbacks
	// before Init is called.
	Configure(profile quality.Profile, callbacks Callbacks)

	// Init dials host:port and runs the standard RFB handshake through
	// the chosen security type. When the server selects the Veyon vendor
	// security subtype, the Callbacks.NegotiateSecurity hook fires
	// synchronously from inside this call, before Init returns, the same
	// way VeyonVncConnection::handleSecTypeVeyon runs from a registered
	// rfbClient security-type handler. Returns false on any handshake
	// failure, including a failed NegotiateSecurity.
	Init(host string, port int) bool

	// WaitForMessage blocks up to timeoutMs for a server message to
	// become available. Returns <0 on error/disconnect, 0 if nothing
	// arrived in time, >0 if a message is ready.
	WaitForMessage(timeoutMs int) int

	// HandleServerMessage processes exactly one ready server message.
	// Returns false if the connection should be considered dead.
	HandleServerMessage() bool

	// SendFramebufferUpdateRequest asks the server for a (possibly
	// incremental) update of the given rectangle.
	SendFramebufferUpdateRequest(x, y, w, h int, incremental bool)

	SendPointerEvent(x, y int, buttonMask uint8)
	SendKeyEvent(key uint32, down bool)
	SendClientCutText(text string)

	// ReadFromServer/WriteToServer expose the adapter's raw socket I/O
	// so the Veyon negotiator can speak its sub-protocol over the same
	// connection the handshake already opened.
	ReadFromServer(buf []byte) (int, error)
	WriteToServer(buf []byte) (int, error)

	FrameBufferWidth() int
	FrameBufferHeight() int
	FrameBuffer() []byte

	// Cleanup tears down the underlying client and releases any
	// resources Init allocated. Safe to call multiple times.
	Cleanup()
}

// Factory constructs a fresh Adapter for one connection attempt,
// mirroring the teacher's ClientFactory/defaultClientFactory split so the
// engine never depends on the concrete cgo type directly.
type Factory func() (Adapter, error)

// DefaultFactory is assigned by adapter_cgo.go (cgo build) or
// adapter_nocgo.go (non-cgo build) in an init() function, exactly like
// the teacher's defaultClientFactory.
var DefaultFactory Factory
