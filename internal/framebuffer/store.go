// Package framebuffer implements component B: the pixel buffer owned by a
// connection, its copy-on-write snapshots, and an optional scaled mirror.
package framebuffer

import (
	"image"
	"sync"

	"golang.org/x/image/draw"
)

// Snapshot is an immutable, cheaply-shared view of the framebuffer at the
// moment it was taken. Because Go buffers are garbage collected, the
// "shared-ownership handle whose destructor frees" design note (spec.md
// §9) is satisfied for free: a Snapshot simply holds a reference to the
// backing slice produced by the allocation that created it, so a reader
// holding an old Snapshot keeps that backing array alive even after the
// Store allocates a new one.
type Snapshot struct {
	Width, Height int
	Pixels        []byte
}

// Empty reports whether this snapshot carries no pixel data.
func (s Snapshot) Empty() bool {
	return len(s.Pixels) == 0
}

// Store owns the live pixel buffer and its dimensions, guarded by a
// read-write lock so a background rescale or a reader's Snapshot call
// never races the worker thread's allocation callback.
type Store struct {
	mu            sync.RWMutex
	width, height int
	pixels        []byte

	scaledMu   sync.Mutex
	scaledSize image.Point
	scaled     *image.RGBA
	dirty      bool
}

// New creates an empty Store.
func New() *Store {
	return &Store{}
}

// Allocate replaces the pixel buffer with a fresh zero-filled
// width*height*4 byte buffer, matching
// VeyonVncConnection::hookInitFrameBuffer's allocation step. Any
// outstanding Snapshot from before this call remains valid and keeps
// referencing its own backing array.
func (s *Store) Allocate(width, height int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.width = width
	s.height = height
	s.pixels = make([]byte, width*height*4)
}

// UpdateRegion copies src into the buffer's (x,y,w,h) rectangle. src must
// contain exactly w*h*4 bytes in row-major order, each pixel laid out as
// quality.Standard describes (little-endian, red at bit 16: bytes B, G, R,
// unused).
func (s *Store) UpdateRegion(x, y, w, h int, src []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pixels == nil {
		return
	}
	// Copy before writing so a Snapshot taken earlier keeps its contents.
	s.pixels = append([]byte(nil), s.pixels...)
	for row := 0; row < h; row++ {
		dstOff := ((y+row)*s.width + x) * 4
		srcOff := row * w * 4
		if dstOff < 0 || dstOff+w*4 > len(s.pixels) {
			continue
		}
		copy(s.pixels[dstOff:dstOff+w*4], src[srcOff:srcOff+w*4])
	}
}

// Dimensions returns the current width and height under the read lock.
func (s *Store) Dimensions() (width, height int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.width, s.height
}

// Snapshot takes a read lock and returns a cheap copy-on-write handle on
// the current buffer and dimensions.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Snapshot{Width: s.width, Height: s.height, Pixels: s.pixels}
}

// MarkDirty flags the scaled mirror as needing recomputation; called by
// the engine's finish-update callback (spec.md §4.E).
func (s *Store) MarkDirty() {
	s.scaledMu.Lock()
	s.dirty = true
	s.scaledMu.Unlock()
}

// SetScaledSize configures the optional scaled-mirror target dimensions.
// Passing a zero Point disables the mirror.
func (s *Store) SetScaledSize(size image.Point) {
	s.scaledMu.Lock()
	defer s.scaledMu.Unlock()

	s.scaledSize = size
	s.scaled = nil
	s.dirty = true
}

// Rescale recomputes the scaled mirror if a target size is configured,
// the primary buffer is valid, and the dirty flag is set. It is safe to
// call from a background goroutine; it holds the Store's read lock only
// while taking a Snapshot, and resamples from that snapshot unlocked.
func (s *Store) Rescale() {
	s.scaledMu.Lock()
	target := s.scaledSize
	needsUpdate := s.dirty
	s.scaledMu.Unlock()

	if target == (image.Point{}) || !needsUpdate {
		return
	}

	snap := s.Snapshot()
	if snap.Empty() {
		return
	}

	src := &image.RGBA{
		Pix:    snap.Pixels,
		Stride: snap.Width * 4,
		Rect:   image.Rect(0, 0, snap.Width, snap.Height),
	}

	dst := image.NewRGBA(image.Rect(0, 0, target.X, target.Y))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)

	s.scaledMu.Lock()
	s.scaled = dst
	s.dirty = false
	s.scaledMu.Unlock()
}

// ScaledMirror returns the most recently computed scaled mirror, or nil
// if no target size is configured or no rescale has run yet.
func (s *Store) ScaledMirror() *image.RGBA {
	s.scaledMu.Lock()
	defer s.scaledMu.Unlock()
	return s.scaled
}
