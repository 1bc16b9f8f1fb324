package stream

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultIdleWait is how long the drainer sleeps when there is nothing to do
	DefaultIdleWait = time.Millisecond

	// DefaultWaitTimeout is the timeout for a single hardware wait
	DefaultWaitTimeout = 100 * time.Millisecond

	// DefaultMaxWaitElapsed bounds the retries of timed out hardware waits
	DefaultMaxWaitElapsed = time.Second
)

// Consumer is called by the drainer once per frame, in order.  It may block;
// doing so throttles only the drainer.  The frame's pixels must not be
// retained after it returns.
type Consumer func(Frame) error

// Config describes a streaming session
type Config struct {
	// Buffers is the number of frames in the ring, at least 2
	Buffers int

	// Width and Height are the frame dimensions in pixels
	Width  int
	Height int

	// Producer synthesizes or acquires frames into ring slots.
	// Exactly one of Producer and Hardware must be set.
	Producer Producer

	// Hardware is a source that fills the ring slots itself
	Hardware HardwareSource

	// Interval paces the Producer.  Zero runs it as fast as it returns.
	Interval time.Duration

	// WaitTimeout is passed to HardwareSource.WaitForNextFrame
	WaitTimeout time.Duration

	// MaxWaitElapsed is how long timed out hardware waits are retried
	// before the condition is logged
	MaxWaitElapsed time.Duration

	// IdleWait is the longest the drainer sleeps when caught up
	IdleWait time.Duration

	// ConsumerLock, if not nil, is held for the duration of every consumer call
	ConsumerLock sync.Locker

	// StopOnConsumerError ends the session on the first consumer failure.
	// By default failures are reported and the next frame is delivered.
	StopOnConsumerError bool

	// OnError receives per-frame diagnostics: *OverflowError, *ConsumerError,
	// and non-fatal acquisition errors.  It is called from the session's
	// goroutines and must not block for long.
	OnError func(error)

	// Log receives diagnostics.  Defaults to the logrus standard logger.
	Log logrus.FieldLogger
}

func (c Config) withDefaults() Config {
	if c.IdleWait <= 0 {
		c.IdleWait = DefaultIdleWait
	}
	if c.WaitTimeout <= 0 {
		c.WaitTimeout = DefaultWaitTimeout
	}
	if c.MaxWaitElapsed <= 0 {
		c.MaxWaitElapsed = DefaultMaxWaitElapsed
	}
	if c.Log == nil {
		c.Log = logrus.StandardLogger()
	}
	return c
}

// State is the lifecycle state of a Streamer
type State int32

const (
	// Idle means no session exists
	Idle State = iota

	// Streaming means a session is running
	Streaming

	// Stopping means Stop is joining the workers
	Stopping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Streaming:
		return "streaming"
	case Stopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Streamer is the lifecycle controller for streaming on one device.
// At most one session is active at a time.  The zero value is ready to use.
type Streamer struct {
	mu    sync.Mutex
	state State
	sess  *session

	// stopMu serializes Stop, so a second caller waits for the first
	stopMu sync.Mutex

	// last holds the stats of the previous session once it is stopped
	last Stats
}

// Start allocates a fresh ring and starts the fill and drain workers.
// It fails with ErrAlreadyStreaming while a session is active.  If the
// previous session ended by itself with an error, that error is returned
// and the streamer goes back to Idle.
func (st *Streamer) Start(cfg Config, consume Consumer) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	switch st.state {
	case Stopping:
		return errors.Wrap(ErrAlreadyStreaming, "previous session is still stopping")
	case Streaming:
		if !st.sess.finished() {
			return ErrAlreadyStreaming
		}
		// the session died on its own, reap it
		err := st.reap()
		if err != nil {
			return errors.Wrap(err, "previous session failed")
		}
	}

	if consume == nil {
		return ErrNilConsumer
	}
	if (cfg.Producer == nil) == (cfg.Hardware == nil) {
		return ErrNoSource
	}
	ring, err := NewRing(cfg.Buffers, cfg.Width, cfg.Height)
	if err != nil {
		return err
	}
	cfg = cfg.withDefaults()
	s := newSession(cfg, ring)
	if cfg.Hardware != nil {
		// the device holds its own reference to the slots while it writes them
		ring.Retain()
		err = cfg.Hardware.StartStreamingInto(ring.Slots())
		if err != nil {
			ring.Release()
			ring.Release()
			s.cancel()
			return errors.Wrap(err, "starting hardware stream")
		}
	}
	s.run(consume)
	st.sess = s
	st.state = Streaming
	cfg.Log.WithField("buffers", cfg.Buffers).Debug("stream started")
	return nil
}

// Stop signals the workers, waits for them to exit and releases the ring.
// In-flight consumer calls finish before Stop returns.  It returns the error
// that ended the session, if any.  Stopping an idle streamer is a no-op.
// Concurrent calls all wait for the workers; only the first returns the error.
func (st *Streamer) Stop() error {
	st.stopMu.Lock()
	defer st.stopMu.Unlock()
	st.mu.Lock()
	if st.state != Streaming {
		st.mu.Unlock()
		return nil
	}
	st.state = Stopping
	st.mu.Unlock()

	err := st.sess.shutdown()

	st.mu.Lock()
	st.last = st.sess.stats(Idle)
	st.sess = nil
	st.state = Idle
	st.mu.Unlock()
	return err
}

// reap finalizes a session that already ended; st.mu must be held
func (st *Streamer) reap() error {
	err := st.sess.shutdown()
	st.last = st.sess.stats(Idle)
	st.sess = nil
	st.state = Idle
	return err
}

// IsStreaming returns true while a session is running
func (st *Streamer) IsStreaming() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.state == Streaming && !st.sess.finished()
}

// State returns the lifecycle state
func (st *Streamer) State() State {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.state
}

// Stats returns the counters of the active session, or of the last one
func (st *Streamer) Stats() Stats {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.sess == nil {
		return st.last
	}
	return st.sess.stats(st.state)
}

// Done returns a channel that is closed when the active session's workers
// have exited, whether by Stop or by a fatal error.  When idle it returns a
// closed channel.
func (st *Streamer) Done() <-chan struct{} {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.sess == nil {
		c := make(chan struct{})
		close(c)
		return c
	}
	return st.sess.done
}

// session is one streaming run
type session struct {
	cfg  Config
	ring *Ring
	ctr  *Counters
	diag *diagnostics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	done   chan struct{}

	errMu sync.Mutex
	err   error

	started           time.Time
	overflows         atomic.Uint64
	possibleOverflows atomic.Uint64
	dropped           atomic.Uint64
	consumerErrors    atomic.Uint64
	acquisitionErrors atomic.Uint64
}

func newSession(cfg Config, ring *Ring) *session {
	ctx, cancel := context.WithCancel(context.Background())
	return &session{
		cfg:    cfg,
		ring:   ring,
		ctr:    newCounters(),
		diag:   newDiagnostics(cfg.Log),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// run spawns the fill worker and the drainer
func (s *session) run(consume Consumer) {
	s.started = time.Now()
	s.wg.Add(2)
	if s.cfg.Hardware != nil {
		go s.watch(s.cfg.Hardware)
	} else {
		go s.fill(s.cfg.Producer)
	}
	go s.drain(consume)
	go func() {
		s.wg.Wait()
		close(s.done)
	}()
}

// stopping is the cooperative stop flag
func (s *session) stopping() bool {
	return s.ctx.Err() != nil
}

// fail records the first error that ends the session and raises the stop flag
func (s *session) fail(err error) {
	s.errMu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.errMu.Unlock()
	s.cancel()
}

func (s *session) report(err error) {
	if s.cfg.OnError != nil {
		s.cfg.OnError(err)
	}
}

func (s *session) finished() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// shutdown raises the stop flag, joins the workers and releases the ring
func (s *session) shutdown() error {
	s.cancel()
	<-s.done
	if h := s.cfg.Hardware; h != nil {
		err := h.StopStreaming()
		s.ring.Release()
		if err != nil {
			s.cfg.Log.WithError(err).Warn("error stopping hardware stream")
			s.fail(errors.Wrap(err, "stopping hardware stream"))
		}
	}
	s.ring.Release()
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}
