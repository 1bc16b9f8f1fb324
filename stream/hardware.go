package stream

import (
	"time"

	"github.com/cenkalti/backoff"
)

// HardwareSource is a device that writes frames into registered buffers by
// itself, for example a frame grabber doing DMA.  It must write frame k into
// bufs[k mod len(bufs)] and count produced frames from zero.
type HardwareSource interface {
	// StartStreamingInto registers the ring slots and starts acquisition
	StartStreamingInto(bufs [][]uint16) error

	// StopStreaming stops acquisition and unregisters the slots
	StopStreaming() error

	// FramesProduced returns the number of frames completed since start
	FramesProduced() (uint64, error)

	// WaitForNextFrame blocks until a frame completes or timeout elapses.
	// It returns an error whose cause is ErrTimeout on timeout.
	WaitForNextFrame(timeout time.Duration) error
}

// watch is the fill side for a HardwareSource.  The device writes the slots;
// the watcher only moves frames_filled forward to what the device reports.
func (s *session) watch(h HardwareSource) {
	defer s.wg.Done()
	for !s.stopping() {
		err := s.waitForFrame(h)
		if err == nil {
			var n uint64
			n, err = h.FramesProduced()
			if err == nil {
				s.advance(n)
				continue
			}
		}
		if s.stopping() {
			return
		}
		if IsFatal(err) {
			s.cfg.Log.WithError(err).Error("hardware watcher stopping")
			s.fail(err)
			return
		}
		if IsTimeout(err) {
			s.diag.timeout(s.cfg.MaxWaitElapsed)
			continue
		}
		s.acquisitionErrors.Add(1)
		s.diag.acquisition(s.ctr.Filled(), err)
		s.report(err)
	}
}

// advance publishes a new produced count.  Counts never move backwards; a
// smaller value from the device is logged and ignored.
func (s *session) advance(n uint64) {
	cur := s.ctr.Filled()
	switch {
	case n > cur:
		s.ctr.publish(n)
	case n < cur:
		s.cfg.Log.WithField("reported", n).WithField("published", cur).Warn("device frame count went backwards")
	}
}

// waitForFrame waits for the next frame, retrying timeouts with an
// exponential backoff bounded by MaxWaitElapsed.  Any other error ends the
// retries immediately.
func (s *session) waitForFrame(h HardwareSource) error {
	op := func() error {
		if s.stopping() {
			return nil
		}
		err := h.WaitForNextFrame(s.cfg.WaitTimeout)
		if err == nil || IsTimeout(err) {
			return err
		}
		return backoff.Permanent(err)
	}
	b := &backoff.ExponentialBackOff{
		InitialInterval:     time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         50 * time.Millisecond,
		MaxElapsedTime:      s.cfg.MaxWaitElapsed,
		Clock:               backoff.SystemClock}
	b.Reset()
	return backoff.Retry(op, backoff.WithContext(b, s.ctx))
}
