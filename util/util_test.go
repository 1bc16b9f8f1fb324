package util_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/nasa-jpl/framestream/util"
)

func ExampleParseExposure() {
	d, _ := util.ParseExposure("0.25")
	fmt.Println(d)
	d, _ = util.ParseExposure("10us")
	fmt.Println(d)
	// Output:
	// 250ms
	// 10µs
}

func TestAllElementsNumbers(t *testing.T) {
	for _, s := range []string{"1", "0.5", "-3", "1e-3"} {
		if !util.AllElementsNumbers(s) {
			t.Errorf("expected %q to be all numbers", s)
		}
	}
	for _, s := range []string{"", "25ms", "abc"} {
		if util.AllElementsNumbers(s) {
			t.Errorf("expected %q not to be all numbers", s)
		}
	}
}

func TestParseExposureRejectsNegative(t *testing.T) {
	_, err := util.ParseExposure("-1ms")
	if err == nil {
		t.Error("expected an error for a negative exposure")
	}
	_, err = util.ParseExposure("fast")
	if err == nil {
		t.Error("expected an error for an unparseable exposure")
	}
}

func TestClampHigh(t *testing.T) {
	var (
		low   = 0
		high  = 10
		input = 20
	)
	clamped := util.Clamp(input, low, high)
	if clamped != high {
		t.Errorf("expected out of range value %d to be clipped to %d <= x <= %d, got %d", input, low, high, clamped)
	}
}

func TestClampLow(t *testing.T) {
	var (
		low   = 0
		high  = 10
		input = -1
	)
	clamped := util.Clamp(input, low, high)
	if clamped != low {
		t.Errorf("expected out of range value %d to be clipped to %d <= x <= %d, got %d", input, low, high, clamped)
	}
}

func TestSecsToDuration(t *testing.T) {
	var dur time.Duration = 123456789
	secs := dur.Seconds()
	out := util.SecsToDuration(secs)
	if out != dur {
		t.Errorf("expected SecsToDuration to round trip, output %v != expected %v", out, dur)
	}
}
