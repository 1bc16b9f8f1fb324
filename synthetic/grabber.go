package synthetic

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/nasa-jpl/framestream/stream"
	"github.com/pkg/errors"
)

// Grabber simulates a frame grabber.  After StartStreamingInto it writes the
// test pattern into the registered buffers on its own clock, frame k into
// bufs[k mod len(bufs)], the way a DMA engine would.  It satisfies
// stream.HardwareSource.
type Grabber struct {
	width, height int
	interval      time.Duration

	mu   sync.Mutex
	bufs [][]uint16
	stop chan struct{}
	wg   sync.WaitGroup

	produced     atomic.Uint64
	ready        chan struct{}
	disconnected atomic.Bool
}

// NewGrabber returns a grabber producing width x height frames every interval
func NewGrabber(width, height int, interval time.Duration) *Grabber {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Grabber{
		width:    width,
		height:   height,
		interval: interval,
		ready:    make(chan struct{}, 1),
	}
}

// StartStreamingInto registers bufs and starts acquisition
func (g *Grabber) StartStreamingInto(bufs [][]uint16) error {
	if g.disconnected.Load() {
		return ErrDisconnected
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stop != nil {
		return errors.New("grabber is already streaming")
	}
	if len(bufs) == 0 {
		return errors.New("no buffers to stream into")
	}
	for i, b := range bufs {
		if len(b) != g.width*g.height {
			return errors.Errorf("buffer %d holds %d pixels, frames are %dx%d", i, len(b), g.width, g.height)
		}
	}
	g.bufs = bufs
	g.produced.Store(0)
	g.stop = make(chan struct{})
	g.wg.Add(1)
	go g.run(bufs, g.stop)
	return nil
}

func (g *Grabber) run(bufs [][]uint16, stop chan struct{}) {
	defer g.wg.Done()
	tick := time.NewTicker(g.interval)
	defer tick.Stop()
	for {
		select {
		case <-stop:
			return
		case <-tick.C:
		}
		if g.disconnected.Load() {
			return
		}
		n := g.produced.Load()
		Fill(bufs[n%uint64(len(bufs))], g.width, g.height, n)
		g.produced.Store(n + 1)
		select {
		case g.ready <- struct{}{}:
		default:
		}
	}
}

// StopStreaming stops acquisition and unregisters the buffers
func (g *Grabber) StopStreaming() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stop == nil {
		return nil
	}
	close(g.stop)
	g.wg.Wait()
	g.stop = nil
	g.bufs = nil
	return nil
}

// FramesProduced returns the number of frames written since start
func (g *Grabber) FramesProduced() (uint64, error) {
	if g.disconnected.Load() {
		return 0, stream.Fatal(ErrDisconnected)
	}
	return g.produced.Load(), nil
}

// WaitForNextFrame blocks until a frame completes or timeout elapses
func (g *Grabber) WaitForNextFrame(timeout time.Duration) error {
	if g.disconnected.Load() {
		return stream.Fatal(ErrDisconnected)
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-g.ready:
		return nil
	case <-t.C:
		if g.disconnected.Load() {
			return stream.Fatal(ErrDisconnected)
		}
		return errors.Wrapf(stream.ErrTimeout, "grabber, after %v", timeout)
	}
}

// Disconnect simulates the link to the grabber going down
func (g *Grabber) Disconnect() {
	g.disconnected.Store(true)
}

var _ stream.HardwareSource = (*Grabber)(nil)
