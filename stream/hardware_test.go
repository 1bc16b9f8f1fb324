package stream

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGrabber completes one frame per WaitForNextFrame call, after the
// first timeouts calls have timed out
type fakeGrabber struct {
	mu       sync.Mutex
	bufs     [][]uint16
	produced atomic.Uint64
	waits    atomic.Int32
	timeouts int32
	failAt   uint64
	fault    error
	started  bool
	stopped  bool
}

func (g *fakeGrabber) StartStreamingInto(bufs [][]uint16) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.bufs = bufs
	g.started = true
	return nil
}

func (g *fakeGrabber) StopStreaming() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stopped = true
	return nil
}

func (g *fakeGrabber) FramesProduced() (uint64, error) {
	return g.produced.Load(), nil
}

func (g *fakeGrabber) WaitForNextFrame(timeout time.Duration) error {
	if g.waits.Add(1) <= g.timeouts {
		return errors.Wrap(ErrTimeout, "no trigger")
	}
	time.Sleep(time.Millisecond)
	n := g.produced.Load()
	if g.fault != nil && n == g.failAt {
		return g.fault
	}
	g.mu.Lock()
	buf := g.bufs[n%uint64(len(g.bufs))]
	g.mu.Unlock()
	for i := range buf {
		buf[i] = uint16(n)
	}
	g.produced.Store(n + 1)
	return nil
}

func hardwareConfig(g *fakeGrabber) Config {
	cfg := baseConfig()
	cfg.Producer = nil
	cfg.Hardware = g
	cfg.MaxWaitElapsed = 20 * time.Millisecond
	return cfg
}

func TestHardwareSourceDeliversFrames(t *testing.T) {
	var s Streamer
	g := &fakeGrabber{timeouts: 3}
	c := newCollector(30)
	require.NoError(t, s.Start(hardwareConfig(g), c.consume))
	c.wait(t)
	require.NoError(t, s.Stop())

	g.mu.Lock()
	assert.True(t, g.started)
	assert.True(t, g.stopped)
	assert.Len(t, g.bufs, 32)
	g.mu.Unlock()

	got := c.snapshot()
	for i, k := range got {
		if k != uint64(i) {
			t.Fatalf("frame %d delivered as index %d", i, k)
		}
	}
	assert.Zero(t, c.torn)
}

func TestHardwareFatalErrorEndsSession(t *testing.T) {
	var s Streamer
	g := &fakeGrabber{failAt: 4, fault: Fatal(errors.New("link down"))}
	require.NoError(t, s.Start(hardwareConfig(g), func(Frame) error { return nil }))
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session did not end")
	}
	err := s.Stop()
	assert.True(t, IsFatal(err))
	assert.Equal(t, "link down", errors.Cause(err).Error())
	g.mu.Lock()
	assert.True(t, g.stopped, "hardware must be stopped on teardown")
	g.mu.Unlock()
}

func TestHardwareTransientErrorsAreCounted(t *testing.T) {
	var s Streamer
	g := &fakeGrabber{failAt: 2, fault: errors.New("crc mismatch")}
	require.NoError(t, s.Start(hardwareConfig(g), func(Frame) error { return nil }))
	require.Eventually(t, func() bool { return s.Stats().AcquisitionErrors >= 2 }, 5*time.Second, time.Millisecond)
	assert.True(t, s.IsStreaming())
	require.NoError(t, s.Stop())
	assert.Equal(t, uint64(2), s.Stats().FramesFilled)
}

func TestHardwareTimeoutsAreNotFatal(t *testing.T) {
	var s Streamer
	// more timeouts than one retry budget holds
	g := &fakeGrabber{timeouts: 1 << 30}
	require.NoError(t, s.Start(hardwareConfig(g), func(Frame) error { return nil }))
	time.Sleep(60 * time.Millisecond)
	assert.True(t, s.IsStreaming())
	require.NoError(t, s.Stop())
	assert.Zero(t, s.Stats().AcquisitionErrors)
	assert.Zero(t, s.Stats().FramesFilled)
}

func TestAdvanceIgnoresBackwardsCounts(t *testing.T) {
	cfg := baseConfig().withDefaults()
	r, err := NewRing(2, 1, 1)
	require.NoError(t, err)
	s := newSession(cfg, r)
	defer s.cancel()
	s.advance(5)
	assert.Equal(t, uint64(5), s.ctr.Filled())
	s.advance(3)
	assert.Equal(t, uint64(5), s.ctr.Filled())
	s.advance(5)
	assert.Equal(t, uint64(5), s.ctr.Filled())
}

type failingStart struct{ fakeGrabber }

func (f *failingStart) StartStreamingInto([][]uint16) error {
	return errors.New("no such device")
}

func TestHardwareStartFailureLeavesIdle(t *testing.T) {
	var s Streamer
	cfg := baseConfig()
	cfg.Producer = nil
	cfg.Hardware = &failingStart{}
	err := s.Start(cfg, func(Frame) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such device")
	assert.Equal(t, Idle, s.State())
}
