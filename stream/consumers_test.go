package stream

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestTeeCallsAllAndJoinsErrors(t *testing.T) {
	var a, b []uint64
	tee := Tee(
		func(f Frame) error { a = append(a, f.Index); return errors.New("a broke") },
		func(f Frame) error { b = append(b, f.Index); return nil },
		func(f Frame) error { return errors.New("c broke") },
	)
	err := tee(Frame{Index: 4})
	assert.Equal(t, []uint64{4}, a)
	assert.Equal(t, []uint64{4}, b)
	assert.EqualError(t, err, "a broke; c broke")

	ok := Tee(func(Frame) error { return nil })
	assert.NoError(t, ok(Frame{}))
}

func TestEveryDecimates(t *testing.T) {
	var got []uint64
	c := Every(3, func(f Frame) error { got = append(got, f.Index); return nil })
	for i := uint64(0); i < 10; i++ {
		c(Frame{Index: i})
	}
	assert.Equal(t, []uint64{0, 3, 6, 9}, got)

	got = nil
	c = Every(0, func(f Frame) error { got = append(got, f.Index); return nil })
	c(Frame{Index: 1})
	c(Frame{Index: 2})
	assert.Equal(t, []uint64{1, 2}, got)
}

func TestLatestKeepsACopy(t *testing.T) {
	var l Latest
	_, ok := l.Frame()
	assert.False(t, ok)

	pix := []uint16{1, 2, 3, 4}
	assert.NoError(t, l.Consume(Frame{Index: 8, Width: 2, Height: 2, Pix: pix}))
	pix[0] = 100 // the ring slot being reused

	f, ok := l.Frame()
	assert.True(t, ok)
	assert.Equal(t, uint64(8), f.Index)
	assert.Equal(t, []uint16{1, 2, 3, 4}, f.Pix)

	// callers get their own copy too
	f.Pix[1] = 50
	f2, _ := l.Frame()
	assert.Equal(t, uint16(2), f2.Pix[1])

	l.Consume(Frame{Index: 9, Width: 1, Height: 1, Pix: []uint16{7}})
	f, _ = l.Frame()
	assert.Equal(t, []uint16{7}, f.Pix)
	assert.Equal(t, 1, f.Width)

	l.Reset()
	_, ok = l.Frame()
	assert.False(t, ok)
}
