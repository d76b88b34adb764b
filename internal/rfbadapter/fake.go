package rfbadapter

import (
	"io"
	"sync"

	"github.com/veyon-go/rfbengine/internal/quality"
)

// PointerEventRecord captures one SendPointerEvent call.
type PointerEventRecord struct {
	X, Y       int
	ButtonMask uint8
}

// KeyEventRecord captures one SendKeyEvent call.
type KeyEventRecord struct {
	Key  uint32
	Down bool
}

// Fake is a scriptable in-memory Adapter used by internal/engine's tests
// in place of a real libvncclient connection. It never touches a socket:
// Init succeeds or fails according to InitResult, and tests drive
// callbacks directly via the exported Fire* helpers.
type Fake struct {
	mu sync.Mutex

	InitResult    bool
	MessageResult int
	Profile       quality.Profile
	Callbacks     Callbacks

	// ReachSecurityNegotiation simulates the server offering the Veyon
	// security type during Init: it fires ServiceReachable and then
	// NegotiateSecurity the way the real handshake-time handler does,
	// before Init returns. A NegotiateSecurity error forces Init to
	// report false regardless of InitResult.
	ReachSecurityNegotiation bool

	// ServerConn, when set, backs ReadFromServer/WriteToServer so tests
	// can script a real Veyon wire exchange (e.g. over net.Pipe) through
	// a Fake instead of the hardcoded no-op stubs.
	ServerConn io.ReadWriter

	DialedHost string
	DialedPort int

	PointerEvents []PointerEventRecord
	KeyEvents     []KeyEventRecord
	CutTexts      []string

	width, height int
	framebuffer   []byte
	closed        bool
}

// NewFake returns an Adapter ready to Configure/Init.
func NewFake() *Fake {
	return &Fake{InitResult: true}
}

func (f *Fake) Configure(profile quality.Profile, callbacks Callbacks) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Profile = profile
	f.Callbacks = callbacks
}

func (f *Fake) Init(host string, port int) bool {
	f.mu.Lock()
	f.DialedHost, f.DialedPort = host, port
	reach := f.ReachSecurityNegotiation
	serviceReachable := f.Callbacks.ServiceReachable
	negotiateSecurity := f.Callbacks.NegotiateSecurity
	result := f.InitResult
	f.mu.Unlock()

	if !reach {
		return result
	}

	if serviceReachable != nil {
		serviceReachable()
	}
	if negotiateSecurity != nil {
		if err := negotiateSecurity(); err != nil {
			return false
		}
	}
	return result
}

func (f *Fake) WaitForMessage(timeoutMs int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.MessageResult
}

func (f *Fake) HandleServerMessage() bool {
	return true
}

func (f *Fake) SendFramebufferUpdateRequest(x, y, w, h int, incremental bool) {}

func (f *Fake) SendPointerEvent(x, y int, buttonMask uint8) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.PointerEvents = append(f.PointerEvents, PointerEventRecord{X: x, Y: y, ButtonMask: buttonMask})
}

func (f *Fake) SendKeyEvent(key uint32, down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.KeyEvents = append(f.KeyEvents, KeyEventRecord{Key: key, Down: down})
}

func (f *Fake) SendClientCutText(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CutTexts = append(f.CutTexts, text)
}

func (f *Fake) ReadFromServer(buf []byte) (int, error) {
	f.mu.Lock()
	conn := f.ServerConn
	f.mu.Unlock()
	if conn == nil {
		return 0, nil
	}
	return conn.Read(buf)
}

func (f *Fake) WriteToServer(buf []byte) (int, error) {
	f.mu.Lock()
	conn := f.ServerConn
	f.mu.Unlock()
	if conn == nil {
		return len(buf), nil
	}
	return conn.Write(buf)
}

func (f *Fake) FrameBufferWidth() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.width
}

func (f *Fake) FrameBufferHeight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.height
}

func (f *Fake) FrameBuffer() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.framebuffer
}

func (f *Fake) Cleanup() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

// Closed reports whether Cleanup has run, for test assertions.
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// FireFramebufferAllocated simulates the server describing a framebuffer
// size, resizing the fake's backing buffer and invoking the configured
// callback.
func (f *Fake) FireFramebufferAllocated(width, height int) {
	f.mu.Lock()
	f.width, f.height = width, height
	f.framebuffer = make([]byte, width*height*4)
	cb := f.Callbacks.FramebufferAllocated
	f.mu.Unlock()
	if cb != nil {
		cb(width, height)
	}
}

// FireIncrementalUpdate simulates a changed-rectangle notification after
// writing src into the fake framebuffer.
func (f *Fake) FireIncrementalUpdate(x, y, w, h int, src []byte) {
	f.mu.Lock()
	for row := 0; row < h; row++ {
		dstOff := ((y+row)*f.width + x) * 4
		srcOff := row * w * 4
		if dstOff >= 0 && dstOff+w*4 <= len(f.framebuffer) && srcOff+w*4 <= len(src) {
			copy(f.framebuffer[dstOff:dstOff+w*4], src[srcOff:srcOff+w*4])
		}
	}
	cb := f.Callbacks.IncrementalUpdate
	f.mu.Unlock()
	if cb != nil {
		cb(x, y, w, h)
	}
}

// FireFinishedUpdate simulates the end of a framebuffer update batch.
func (f *Fake) FireFinishedUpdate() {
	f.mu.Lock()
	cb := f.Callbacks.FinishedUpdate
	f.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// FireCursorShapeUpdated simulates a new cursor bitmap from the server.
func (f *Fake) FireCursorShapeUpdated(shape CursorShape) {
	f.mu.Lock()
	cb := f.Callbacks.CursorShapeUpdated
	f.mu.Unlock()
	if cb != nil {
		cb(shape)
	}
}

// FireServerCutText simulates an incoming clipboard push from the server.
func (f *Fake) FireServerCutText(text string) {
	f.mu.Lock()
	cb := f.Callbacks.ServerCutText
	f.mu.Unlock()
	if cb != nil {
		cb(text)
	}
}
