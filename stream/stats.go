package stream

import (
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Stats is a snapshot of a session's counters
type Stats struct {
	State             string    `json:"state"`
	Buffers           int       `json:"buffers"`
	FramesFilled      uint64    `json:"framesFilled"`
	FramesProcessed   uint64    `json:"framesProcessed"`
	Overflows         uint64    `json:"overflows"`
	PossibleOverflows uint64    `json:"possibleOverflows"`
	FramesDropped     uint64    `json:"framesDropped"`
	ConsumerErrors    uint64    `json:"consumerErrors"`
	AcquisitionErrors uint64    `json:"acquisitionErrors"`
	Started           time.Time `json:"started"`

	// FrameRate is the mean fill rate since Started, in Hz
	FrameRate float64 `json:"frameRate"`
}

func (s *session) stats(state State) Stats {
	out := Stats{
		State:             state.String(),
		Buffers:           s.cfg.Buffers,
		FramesFilled:      s.ctr.Filled(),
		FramesProcessed:   s.ctr.Processed(),
		Overflows:         s.overflows.Load(),
		PossibleOverflows: s.possibleOverflows.Load(),
		FramesDropped:     s.dropped.Load(),
		ConsumerErrors:    s.consumerErrors.Load(),
		AcquisitionErrors: s.acquisitionErrors.Load(),
		Started:           s.started,
	}
	if el := time.Since(s.started).Seconds(); el > 0 {
		out.FrameRate = float64(out.FramesFilled) / el
	}
	return out
}

// diagnostics throttles the per-frame warnings.  A stalled device or a
// consumer that cannot keep up would otherwise log at the frame rate.
type diagnostics struct {
	log     logrus.FieldLogger
	limit   *rate.Limiter
	skipped atomic.Uint64
}

func newDiagnostics(log logrus.FieldLogger) *diagnostics {
	return &diagnostics{
		log:   log,
		limit: rate.NewLimiter(rate.Every(time.Second), 5),
	}
}

// entry returns a log entry if the limiter allows one, carrying the number
// of messages suppressed since the last one
func (d *diagnostics) entry() (*logrus.Entry, bool) {
	if !d.limit.Allow() {
		d.skipped.Add(1)
		return nil, false
	}
	e := d.log.WithFields(logrus.Fields{})
	if n := d.skipped.Swap(0); n > 0 {
		e = e.WithField("suppressed", n)
	}
	return e, true
}

func (d *diagnostics) acquisition(index uint64, err error) {
	if e, ok := d.entry(); ok {
		e.WithError(err).WithField("frame", index).Warn("acquisition failed")
	}
}

func (d *diagnostics) timeout(waited time.Duration) {
	if e, ok := d.entry(); ok {
		e.WithField("waited", waited).Warn("no frame from device")
	}
}

func (d *diagnostics) overflow(err *OverflowError) {
	if e, ok := d.entry(); ok {
		e.WithField("delta", err.Delta).WithField("buffers", err.N).Warn(err.Error())
	}
}
