package stream

import (
	"sync"
	"sync/atomic"
)

// Ring is a fixed set of equally sized frame buffers, indexed by logical
// frame number modulo the number of buffers.
//
// The ring does not synchronize access to its slots.  Ownership of a slot is
// handed between the fill side and the drainer through the frame counters;
// see Counters.
//
// Storage is reference counted.  NewRing returns a ring holding one
// reference.  Anything that keeps the slots alive past its caller, such as a
// frame grabber the slots were registered with, takes its own reference with
// Retain and gives it back with Release.  The release hooks run once, when the
// last reference is released.
type Ring struct {
	slots  [][]uint16
	width  int
	height int

	refs   int32
	mu     sync.Mutex
	onFree []func()
	freed  bool
}

// NewRing allocates n buffers of width*height samples
func NewRing(n, width, height int) (*Ring, error) {
	if n < 2 {
		return nil, ErrTooFewBuffers
	}
	if width <= 0 || height <= 0 {
		return nil, ErrBadGeometry
	}
	sz := width * height
	// one backing array keeps the slots contiguous, like a frame grabber's DMA region
	backing := make([]uint16, n*sz)
	slots := make([][]uint16, n)
	for i := range slots {
		slots[i] = backing[i*sz : (i+1)*sz : (i+1)*sz]
	}
	return &Ring{slots: slots, width: width, height: height, refs: 1}, nil
}

// Len is the number of buffers N
func (r *Ring) Len() int {
	return len(r.slots)
}

// Width is the frame width in pixels
func (r *Ring) Width() int { return r.width }

// Height is the frame height in pixels
func (r *Ring) Height() int { return r.height }

// FrameSize is the number of samples in one frame
func (r *Ring) FrameSize() int {
	return r.width * r.height
}

// Slot returns the buffer for logical index k, slot k mod N.
// It returns nil once the ring has been freed, and must not race the final
// Release.
func (r *Ring) Slot(k uint64) []uint16 {
	if r.slots == nil {
		return nil
	}
	return r.slots[k%uint64(len(r.slots))]
}

// Slots returns all buffers in physical order
func (r *Ring) Slots() [][]uint16 {
	return r.slots
}

// OnRelease registers f to run when the last reference is released
func (r *Ring) OnRelease(f func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onFree = append(r.onFree, f)
}

// Retain takes an additional reference to the ring's storage
func (r *Ring) Retain() {
	atomic.AddInt32(&r.refs, 1)
}

// Release gives back a reference.  When the count reaches zero, the release
// hooks run in registration order and the slots are dropped.  Extra calls
// after that are ignored.
func (r *Ring) Release() {
	if atomic.AddInt32(&r.refs, -1) > 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.freed {
		return
	}
	r.freed = true
	for _, f := range r.onFree {
		f()
	}
	r.onFree = nil
	r.slots = nil
}

// Freed returns true once the last reference has been released
func (r *Ring) Freed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.freed
}
