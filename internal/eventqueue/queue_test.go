package eventqueue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeSink struct {
	mu      sync.Mutex
	pointer []Event
	keys    []Event
	cuts    []string
}

func (f *fakeSink) SendPointerEvent(x, y int, buttonMask uint8) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pointer = append(f.pointer, NewPointerEvent(x, y, buttonMask))
}

func (f *fakeSink) SendKeyEvent(key uint32, down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, NewKeyEvent(key, down))
}

func (f *fakeSink) SendClientCutText(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cuts = append(f.cuts, text)
}

func TestEnqueueDroppedWhenNotAllowed(t *testing.T) {
	q := New()
	q.Enqueue(NewPointerEvent(1, 1, 0), func() bool { return false })
	q.Enqueue(NewPointerEvent(2, 2, 0), func() bool { return false })
	q.Enqueue(NewPointerEvent(3, 3, 0), func() bool { return false })

	assert.Equal(t, 0, q.Len())
}

func TestEnqueueAllowedGrowsQueue(t *testing.T) {
	q := New()
	q.Enqueue(NewPointerEvent(1, 1, 0), func() bool { return true })
	assert.Equal(t, 1, q.Len())
}

func TestDrainFiresInOrder(t *testing.T) {
	q := New()
	allowed := func() bool { return true }

	q.Enqueue(NewPointerEvent(10, 10, 1), allowed)
	q.Enqueue(NewKeyEvent(0xff0d, true), allowed)
	q.Enqueue(NewCutEvent("hi"), allowed)

	sink := &fakeSink{}
	q.Drain(sink)

	assert.Equal(t, 0, q.Len())
	assert.Len(t, sink.pointer, 1)
	assert.Equal(t, 10, sink.pointer[0].x)
	assert.Len(t, sink.keys, 1)
	assert.Equal(t, uint32(0xff0d), sink.keys[0].key)
	assert.Equal(t, []string{"hi"}, sink.cuts)
}

func TestDrainOnEmptyQueueIsNoop(t *testing.T) {
	q := New()
	sink := &fakeSink{}
	q.Drain(sink)
	assert.Empty(t, sink.pointer)
}
