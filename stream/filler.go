package stream

import "time"

// Producer writes one frame into buf.  index is the logical frame number the
// buffer will be published as.  Return an error wrapped with Fatal to end
// the session (e.g. the device went away); other errors are counted and
// reported, and the filler tries again on its next tick.
type Producer interface {
	ProduceFrame(buf []uint16, index uint64) error
}

// ProducerFunc adapts a function to the Producer interface
type ProducerFunc func(buf []uint16, index uint64) error

// ProduceFrame calls f
func (f ProducerFunc) ProduceFrame(buf []uint16, index uint64) error {
	return f(buf, index)
}

// fill is the filler loop.  It owns write access to slot local mod N, which
// the drainer is guaranteed not to be reading as long as it keeps within N
// frames; it never looks at frames_processed.
func (s *session) fill(p Producer) {
	defer s.wg.Done()
	var (
		local uint64
		pace  = pacer{interval: s.cfg.Interval}
	)
	defer pace.stop()
	for !s.stopping() {
		err := p.ProduceFrame(s.ring.Slot(local), local)
		if err != nil {
			if IsFatal(err) {
				s.cfg.Log.WithError(err).Error("filler stopping")
				s.fail(err)
				return
			}
			s.acquisitionErrors.Add(1)
			s.diag.acquisition(local, err)
			s.report(err)
		} else {
			local++
			s.ctr.publish(local)
		}
		if !pace.wait(s.ctx.Done()) {
			return
		}
	}
}

// pacer sleeps out the remainder of a fixed interval.  Deadlines are kept on
// an absolute schedule so sleep overshoot does not accumulate; if the
// producer falls behind by a whole interval the schedule restarts from now
// rather than bursting to catch up.
type pacer struct {
	interval time.Duration
	next     time.Time
	timer    *time.Timer
}

// wait blocks until the next tick.  It returns false if stop closed first.
func (p *pacer) wait(stop <-chan struct{}) bool {
	if p.interval <= 0 {
		return true
	}
	now := time.Now()
	if p.next.IsZero() {
		p.next = now
	}
	p.next = p.next.Add(p.interval)
	d := p.next.Sub(now)
	if d <= 0 {
		p.next = now
		return true
	}
	if p.timer == nil {
		p.timer = time.NewTimer(d)
	} else {
		p.timer.Reset(d)
	}
	select {
	case <-p.timer.C:
		return true
	case <-stop:
		return false
	}
}

func (p *pacer) stop() {
	if p.timer != nil {
		p.timer.Stop()
	}
}
