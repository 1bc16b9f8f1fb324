package stream

import (
	"time"

	"github.com/pkg/errors"
)

// span is a half-open range of physical slot indices
type span struct {
	lo, hi uint64
}

// slotSpans splits the logical range [processed, filled) into the physical
// slot ranges it occupies in a ring of n buffers, in delivery order.  It
// requires 0 < filled-processed < n.
func slotSpans(processed, filled, n uint64) []span {
	start, end := processed%n, filled%n
	if end == 0 {
		// ends exactly at the top of the ring
		end = n
	}
	if end < start {
		// wrapped around the end of the ring
		return []span{{start, n}, {0, end}}
	}
	return []span{{start, end}}
}

// drain is the drainer loop.  It owns frames_processed and delivers every
// frame in [processed, filled) to consume, oldest first.
func (s *session) drain(consume Consumer) {
	defer s.wg.Done()
	idle := time.NewTimer(s.cfg.IdleWait)
	defer idle.Stop()
	for !s.stopping() {
		if s.ctr.Processed() >= s.ctr.Filled() {
			s.idle(idle)
			continue
		}
		if !s.burst(consume) {
			return
		}
	}
}

// burst processes everything published so far, re-reading the fill count
// after each pass.  It returns false if the session was stopped mid-burst.
func (s *session) burst(consume Consumer) bool {
	n := uint64(s.ring.Len())
	processed := s.ctr.Processed()
	filled := s.ctr.Filled()
	for processed < filled {
		delta := filled - processed
		if delta >= n {
			// the oldest unread slots were already reused; deliver nothing
			// from this pass rather than frames that may be torn
			s.overflows.Add(1)
			s.dropped.Add(delta)
			oe := &OverflowError{Delta: delta, N: int(n)}
			s.diag.overflow(oe)
			s.report(oe)
		} else {
			k := processed
			for _, sp := range slotSpans(processed, filled, n) {
				for idx := sp.lo; idx < sp.hi; idx++ {
					if s.stopping() {
						s.ctr.processed.Store(k)
						return false
					}
					if !s.deliver(consume, k, idx) {
						s.ctr.processed.Store(k + 1)
						return false
					}
					k++
				}
			}
		}

		// the filler may have kept going while the consumer ran
		newFilled := s.ctr.Filled()
		if delta < n && newFilled-processed >= n {
			s.possibleOverflows.Add(1)
			oe := &OverflowError{Delta: newFilled - processed, N: int(n), Possible: true}
			s.diag.overflow(oe)
			s.report(oe)
		}
		s.ctr.processed.Store(filled)
		processed = filled
		filled = newFilled
	}
	return true
}

// deliver hands slot idx to the consumer as logical frame k.  It returns
// false if the failure should end the session.
func (s *session) deliver(consume Consumer, k, idx uint64) bool {
	f := Frame{
		Index:  k,
		Width:  s.ring.Width(),
		Height: s.ring.Height(),
		Pix:    s.ring.Slots()[idx],
	}
	err := s.invoke(consume, f)
	if err == nil {
		return true
	}
	s.consumerErrors.Add(1)
	ce := &ConsumerError{Index: k, Err: err}
	s.cfg.Log.WithError(err).WithField("frame", k).Warn("consumer failed")
	s.report(ce)
	if s.cfg.StopOnConsumerError {
		s.fail(ce)
		return false
	}
	return true
}

// invoke calls the consumer with the scoped lock held, turning a panic into
// an error so one bad frame does not take down the stream
func (s *session) invoke(consume Consumer, f Frame) (err error) {
	if l := s.cfg.ConsumerLock; l != nil {
		l.Lock()
		defer l.Unlock()
	}
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("consumer panicked: %v", r)
		}
	}()
	return consume(f)
}

// idle waits for the filler's notification, the idle timeout, or stop
func (s *session) idle(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(s.cfg.IdleWait)
	select {
	case <-s.ctr.notify:
	case <-t.C:
	case <-s.ctx.Done():
	}
}
