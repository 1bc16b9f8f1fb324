package stream

import (
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// Tee returns a consumer that calls each of consumers in order.  All of them
// see every frame; their errors are joined.
func Tee(consumers ...Consumer) Consumer {
	return func(f Frame) error {
		var errs []string
		for _, c := range consumers {
			if err := c(f); err != nil {
				errs = append(errs, err.Error())
			}
		}
		if len(errs) > 0 {
			return errors.New(strings.Join(errs, "; "))
		}
		return nil
	}
}

// Every returns a consumer that passes on frames whose index is a multiple
// of n.  n <= 1 passes every frame.
func Every(n int, c Consumer) Consumer {
	if n <= 1 {
		return c
	}
	return func(f Frame) error {
		if f.Index%uint64(n) != 0 {
			return nil
		}
		return c(f)
	}
}

// Latest keeps a copy of the most recent frame it consumed, for pollers
// such as a live view that run outside of the drainer
type Latest struct {
	mu    sync.RWMutex
	frame Frame
	ok    bool
}

// Consume is a Consumer.  The copy reuses its buffer when the size allows.
func (l *Latest) Consume(f Frame) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cap(l.frame.Pix) < len(f.Pix) {
		l.frame.Pix = make([]uint16, len(f.Pix))
	}
	l.frame.Pix = l.frame.Pix[:len(f.Pix)]
	copy(l.frame.Pix, f.Pix)
	l.frame.Index = f.Index
	l.frame.Width = f.Width
	l.frame.Height = f.Height
	l.ok = true
	return nil
}

// Frame returns a copy of the latest frame, false if none has arrived
func (l *Latest) Frame() (Frame, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if !l.ok {
		return Frame{}, false
	}
	return l.frame.Copy(), true
}

// Reset forgets the latest frame
func (l *Latest) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ok = false
}
