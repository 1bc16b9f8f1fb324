package stream

import (
	"encoding/binary"
	"image"
	"sync/atomic"
)

// Frame is a read-only view of one ring slot handed to a Consumer.
//
// Pix aliases the ring and is only valid for the duration of the consumer
// call; after that the slot may be overwritten at any moment.  Use Copy to
// keep the data.
type Frame struct {
	// Index is the logical (monotonic, 0-based) frame number
	Index uint64

	// Width and Height are the frame dimensions in pixels
	Width  int
	Height int

	// Pix holds Width*Height samples in row major order
	Pix []uint16
}

// Copy returns a Frame that owns its pixel data
func (f Frame) Copy() Frame {
	out := f
	out.Pix = make([]uint16, len(f.Pix))
	copy(out.Pix, f.Pix)
	return out
}

// Gray16 copies the frame into a big-endian image.Gray16
func (f Frame) Gray16() *image.Gray16 {
	im := image.NewGray16(image.Rect(0, 0, f.Width, f.Height))
	for i, v := range f.Pix {
		binary.BigEndian.PutUint16(im.Pix[2*i:], v)
	}
	return im
}

// Counters is the single-producer/single-consumer handoff between the fill
// side and the drainer.  Filled is written only by the fill side, Processed
// only by the drainer.  Slot k may be read while
// processed <= k < filled and filled-processed < N.
//
// The atomic store of Filled happens after the slot write, so a drainer that
// loads the new value also observes the finished frame.
type Counters struct {
	filled    atomic.Uint64
	processed atomic.Uint64

	// notify carries at most one pending wakeup for the drainer
	notify chan struct{}
}

func newCounters() *Counters {
	return &Counters{notify: make(chan struct{}, 1)}
}

// Filled is the number of frames published by the fill side
func (c *Counters) Filled() uint64 {
	return c.filled.Load()
}

// Processed is the number of frames the drainer has moved past
func (c *Counters) Processed() uint64 {
	return c.processed.Load()
}

// publish stores the new fill count and wakes the drainer without blocking
func (c *Counters) publish(n uint64) {
	c.filled.Store(n)
	select {
	case c.notify <- struct{}{}:
	default:
	}
}
