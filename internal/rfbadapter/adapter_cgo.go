//go:build cgo
// +build cgo

package rfbadapter

/*
#cgo LDFLAGS: -lvncclient
#include <rfb/rfbclient.h>
#include <stdint.h>
#include <stdlib.h>
#include <string.h>
#include <unistd.h>

extern void goGotFrameBufferUpdateCallback(rfbClient* cl, int x, int y, int w, int h);
extern void goFinishedFrameBufferUpdateCallback(rfbClient* cl);
extern rfbBool goMallocFrameBufferCallback(rfbClient* cl);
extern void goHandleCursorPosCallback(rfbClient* cl, int x, int y);
extern void goGotCursorShapeCallback(rfbClient* cl, int xhot, int yhot, int width, int height, int bytesPerPixel);
extern void goGotXCutTextCallback(rfbClient* cl, const char* text, int textlen);
extern void goVeyonSecurityTypeHandler(rfbClient* cl);

static inline void wireCallbacks(rfbClient* cl) {
    cl->GotFrameBufferUpdate = goGotFrameBufferUpdateCallback;
    cl->FinishedFrameBufferUpdate = goFinishedFrameBufferUpdateCallback;
    cl->MallocFrameBuffer = goMallocFrameBufferCallback;
    cl->HandleCursorPos = goHandleCursorPosCallback;
    cl->GotCursorShape = goGotCursorShapeCallback;
    cl->GotXCutText = goGotXCutTextCallback;
}

// failVeyonHandshake forces libvncclient to abandon the in-progress
// security negotiation. The registered secTypeHandler has no return value,
// so the only way to fail the handshake from inside it is to break the
// socket out from under rfbInitClient the way a real connection drop would.
static inline void failVeyonHandshake(rfbClient* cl) {
    if (cl->sock >= 0) {
        close(cl->sock);
    }
    cl->sock = -1;
}

// registerVeyonSecurityType plugs the Veyon vendor sub-handshake into
// libvncclient's security-type negotiation. The registration is
// process-global, matching rfbClientRegisterExtraSecurityType's own
// contract, so it runs once from init() rather than per Configure call.
static inline void registerVeyonSecurityType(const char* typeName, uint32_t typeId) {
    rfbClientRegisterExtraSecurityType(typeName, typeId, goVeyonSecurityTypeHandler);
}
*/
import "C"

import (
	"sync"
	"unsafe"

	"github.com/veyon-go/rfbengine/internal/quality"
	"github.com/veyon-go/rfbengine/internal/rfberr"
	"github.com/veyon-go/rfbengine/internal/veyon"
)

var veyonSecurityTypeName = C.CString("Veyon")

func init() {
	DefaultFactory = func() (Adapter, error) {
		cl := C.rfbGetClient(8, 3, 4)
		if cl == nil {
			return nil, rfberr.Networkf("rfbadapter.New", "rfbGetClient returned NULL", nil)
		}
		return &cgoAdapter{client: cl}, nil
	}

	C.registerVeyonSecurityType(veyonSecurityTypeName, C.uint32_t(veyon.SecurityType))
}

// registry maps a live *C.rfbClient back to the Go adapter that owns it,
// the same indirection the teacher uses (clientHandlers/clientMutex) since
// cgo forbids storing a Go pointer inside C memory.
var (
	registry   = make(map[*C.rfbClient]*cgoAdapter)
	registryMu sync.RWMutex
)

// cgoAdapter wraps a single libvncclient rfbClient. It is not safe for
// concurrent use; the engine drives it from one worker goroutine at a
// time, per spec.md §5.
type cgoAdapter struct {
	client    *C.rfbClient
	callbacks Callbacks

	hostC      *C.char
	encodingsC *C.char
}

func (a *cgoAdapter) Configure(profile quality.Profile, callbacks Callbacks) {
	a.callbacks = callbacks

	a.client.format.bitsPerPixel = C.uchar(quality.Standard.BitsPerPixel)
	a.client.format.depth = C.uchar(quality.Standard.Depth)
	a.client.format.redShift = C.uchar(quality.Standard.RedShift)
	a.client.format.greenShift = C.uchar(quality.Standard.GreenShift)
	a.client.format.blueShift = C.uchar(quality.Standard.BlueShift)
	a.client.format.redMax = C.ushort(quality.Standard.RedMax)
	a.client.format.greenMax = C.ushort(quality.Standard.GreenMax)
	a.client.format.blueMax = C.ushort(quality.Standard.BlueMax)
	if quality.Standard.TrueColour {
		a.client.format.trueColour = 1
	}
	if quality.Standard.BigEndian {
		a.client.format.bigEndian = 1
	}

	a.client.appData.compressLevel = C.int(profile.CompressLevel)
	a.client.appData.qualityLevel = C.int(profile.JPEGQuality)
	if profile.JPEGEnabled {
		a.client.appData.enableJPEG = C.rfbBool(1)
	} else {
		a.client.appData.enableJPEG = C.rfbBool(0)
	}
	if a.encodingsC != nil {
		C.free(unsafe.Pointer(a.encodingsC))
	}
	a.encodingsC = C.CString(profile.EncodingsString())
	a.client.appData.encodingsString = a.encodingsC
	if profile.UseRemoteCursor {
		a.client.appData.useRemoteCursor = C.rfbBool(1)
	}
	a.client.canHandleNewFBSize = 1

	registryMu.Lock()
	registry[a.client] = a
	registryMu.Unlock()

	C.wireCallbacks(a.client)
}

func (a *cgoAdapter) Init(host string, port int) bool {
	if a.hostC != nil {
		C.free(unsafe.Pointer(a.hostC))
	}
	a.hostC = C.CString(host)
	a.client.serverHost = a.hostC
	a.client.serverPort = C.int(port)

	return C.rfbInitClient(a.client, nil, nil) != 0
}

func (a *cgoAdapter) WaitForMessage(timeoutMs int) int {
	// libvncclient's WaitForMessage takes microseconds.
	return int(C.WaitForMessage(a.client, C.uint(timeoutMs*1000)))
}

func (a *cgoAdapter) HandleServerMessage() bool {
	return C.HandleRFBServerMessage(a.client) != 0
}

func (a *cgoAdapter) SendFramebufferUpdateRequest(x, y, w, h int, incremental bool) {
	var inc C.rfbBool
	if incremental {
		inc = 1
	}
	C.SendFramebufferUpdateRequest(a.client, C.int(x), C.int(y), C.int(w), C.int(h), inc)
}

func (a *cgoAdapter) SendPointerEvent(x, y int, buttonMask uint8) {
	C.SendPointerEvent(a.client, C.int(x), C.int(y), C.int(buttonMask))
}

func (a *cgoAdapter) SendKeyEvent(key uint32, down bool) {
	var d C.rfbBool
	if down {
		d = 1
	}
	C.SendKeyEvent(a.client, C.uint(key), d)
}

func (a *cgoAdapter) SendClientCutText(text string) {
	cText := C.CString(text)
	defer C.free(unsafe.Pointer(cText))
	C.SendClientCutText(a.client, cText, C.int(len(text)))
}

func (a *cgoAdapter) ReadFromServer(buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	n := C.ReadFromRFBServer(a.client, (*C.char)(unsafe.Pointer(&buf[0])), C.uint(len(buf)))
	if n == 0 {
		return 0, rfberr.Networkf("rfbadapter.ReadFromServer", "connection closed", nil)
	}
	return len(buf), nil
}

func (a *cgoAdapter) WriteToServer(buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	ok := C.WriteToRFBServer(a.client, (*C.char)(unsafe.Pointer(&buf[0])), C.uint(len(buf)))
	if ok == 0 {
		return 0, rfberr.Networkf("rfbadapter.WriteToServer", "short write to server", nil)
	}
	return len(buf), nil
}

func (a *cgoAdapter) FrameBufferWidth() int  { return int(a.client.width) }
func (a *cgoAdapter) FrameBufferHeight() int { return int(a.client.height) }

func (a *cgoAdapter) FrameBuffer() []byte {
	if a.client.frameBuffer == nil {
		return nil
	}
	size := int(a.client.width) * int(a.client.height) * int(a.client.format.bitsPerPixel/8)
	return C.GoBytes(unsafe.Pointer(a.client.frameBuffer), C.int(size))
}

func (a *cgoAdapter) Cleanup() {
	registryMu.Lock()
	delete(registry, a.client)
	registryMu.Unlock()

	if a.hostC != nil {
		C.free(unsafe.Pointer(a.hostC))
		a.hostC = nil
	}
	if a.encodingsC != nil {
		C.free(unsafe.Pointer(a.encodingsC))
		a.encodingsC = nil
	}
	if a.client != nil {
		C.rfbClientCleanup(a.client)
		a.client = nil
	}
}

func lookup(cl *C.rfbClient) *cgoAdapter {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return registry[cl]
}

//export goGotFrameBufferUpdateCallback
func goGotFrameBufferUpdateCallback(cl *C.rfbClient, x, y, w, h C.int) {
	if a := lookup(cl); a != nil && a.callbacks.IncrementalUpdate != nil {
		a.callbacks.IncrementalUpdate(int(x), int(y), int(w), int(h))
	}
}

//export goFinishedFrameBufferUpdateCallback
func goFinishedFrameBufferUpdateCallback(cl *C.rfbClient) {
	if a := lookup(cl); a != nil && a.callbacks.FinishedUpdate != nil {
		a.callbacks.FinishedUpdate()
	}
}

//export goMallocFrameBufferCallback
func goMallocFrameBufferCallback(cl *C.rfbClient) C.rfbBool {
	ok := C.rfbClientFrameBufferMalloc(cl, C.ulong(int(cl.width)*int(cl.height)*int(cl.format.bitsPerPixel/8)))
	if ok == 0 {
		return 0
	}
	if a := lookup(cl); a != nil && a.callbacks.FramebufferAllocated != nil {
		a.callbacks.FramebufferAllocated(int(cl.width), int(cl.height))
	}
	return 1
}

//export goHandleCursorPosCallback
func goHandleCursorPosCallback(cl *C.rfbClient, x, y C.int) {
	if a := lookup(cl); a != nil && a.callbacks.CursorPosChanged != nil {
		a.callbacks.CursorPosChanged(int(x), int(y))
	}
}

//export goGotCursorShapeCallback
func goGotCursorShapeCallback(cl *C.rfbClient, xhot, yhot, width, height, bytesPerPixel C.int) {
	a := lookup(cl)
	if a == nil || a.callbacks.CursorShapeUpdated == nil || cl.rcSource == nil {
		return
	}

	w, h := int(width), int(height)
	rgba := make([]byte, w*h*4)
	srcStride := w * int(bytesPerPixel)
	src := C.GoBytes(unsafe.Pointer(cl.rcSource), C.int(srcStride*h))

	var maskBytesPerRow int
	if cl.rcMask != nil {
		maskBytesPerRow = (w + 7) / 8
	}
	var mask []byte
	if cl.rcMask != nil {
		mask = C.GoBytes(unsafe.Pointer(cl.rcMask), C.int(maskBytesPerRow*h))
	}

	for row := 0; row < h; row++ {
		for col := 0; col < w; col++ {
			so := row*srcStride + col*int(bytesPerPixel)
			do := (row*w + col) * 4
			if so+2 < len(src) {
				rgba[do+0] = src[so+2]
				rgba[do+1] = src[so+1]
				rgba[do+2] = src[so+0]
			}
			alpha := byte(255)
			if mask != nil {
				byteIdx := row*maskBytesPerRow + col/8
				bit := byte(0x80 >> uint(col%8))
				if byteIdx < len(mask) && mask[byteIdx]&bit == 0 {
					alpha = 0
				}
			}
			rgba[do+3] = alpha
		}
	}

	a.callbacks.CursorShapeUpdated(CursorShape{
		Width: w, Height: h, RGBA: rgba,
		HotX: int(xhot), HotY: int(yhot),
	})
}

//export goGotXCutTextCallback
func goGotXCutTextCallback(cl *C.rfbClient, text *C.char, textlen C.int) {
	if a := lookup(cl); a != nil && a.callbacks.ServerCutText != nil {
		a.callbacks.ServerCutText(C.GoStringN(text, textlen))
	}
}

// goVeyonSecurityTypeHandler is libvncclient's entry point into the Veyon
// vendor sub-handshake, invoked synchronously from inside rfbInitClient's
// security-type negotiation when the server selects SecurityType. It
// mirrors the free function handleSecTypeVeyon, which itself runs
// hookPrepareAuthentication before the actual sub-handshake: any byte
// having arrived at all (the server having offered this type) proves the
// service is reachable, regardless of how the sub-handshake concludes.
//
//export goVeyonSecurityTypeHandler
func goVeyonSecurityTypeHandler(cl *C.rfbClient) {
	a := lookup(cl)
	if a == nil {
		return
	}
	if a.callbacks.ServiceReachable != nil {
		a.callbacks.ServiceReachable()
	}
	if a.callbacks.NegotiateSecurity == nil {
		return
	}
	if err := a.callbacks.NegotiateSecurity(); err != nil {
		C.failVeyonHandshake(cl)
	}
}
