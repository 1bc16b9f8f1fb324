/*Package camera describes a standard set of interfaces for control of
streaming cameras

Snapper covers single frame acquisition, StreamController covers continuous
acquisition into a ring of buffers with a per-frame consumer.  The geometry
and exposure manipulators are rejected with ErrBusy while a stream is
running, since the frame size of the ring is fixed when it is allocated.

*/
package camera

import (
	"time"

	"github.com/nasa-jpl/framestream/stream"
	"github.com/nasa-jpl/framestream/util"
	"github.com/pkg/errors"
)

// ErrBusy is returned when a setting cannot be changed during streaming
var ErrBusy = errors.New("camera is streaming, stop the stream first")

// AOI describes an area of interest on the camera
type AOI struct {
	// Left is the left pixel index.  0-based
	Left int `json:"left"`

	// Top is the top pixel index.  0-based
	Top int `json:"top"`

	// Width is the width in pixels
	Width int `json:"width"`

	// Height is the height in pixels
	Height int `json:"height"`
}

// ROI is a region of interest as half-open pixel ranges [X[0], X[1]) and
// [Y[0], Y[1])
type ROI struct {
	X [2]int `json:"x" yaml:"X"`
	Y [2]int `json:"y" yaml:"Y"`
}

// Size returns the (width, height) of the ROI
func (r ROI) Size() [2]int {
	return [2]int{r.X[1] - r.X[0], r.Y[1] - r.Y[0]}
}

// AOI converts the ROI to an AOI
func (r ROI) AOI() AOI {
	sz := r.Size()
	return AOI{Left: r.X[0], Top: r.Y[0], Width: sz[0], Height: sz[1]}
}

// ClampROI orders each axis' bounds and limits them to a sensor of the given
// (width, height).  An axis that ends up empty is an error.
func ClampROI(x, y [2]int, max [2]int) (ROI, error) {
	var out ROI
	for i, ax := range [][2]int{x, y} {
		lo, hi := ax[0], ax[1]
		if hi < lo {
			lo, hi = hi, lo
		}
		lo = util.Clamp(lo, 0, max[i])
		hi = util.Clamp(hi, 0, max[i])
		if hi == lo {
			return ROI{}, errors.Errorf("empty ROI on axis %d: %v", i, ax)
		}
		if i == 0 {
			out.X = [2]int{lo, hi}
		} else {
			out.Y = [2]int{lo, hi}
		}
	}
	return out, nil
}

// Snapper describes a camera that can capture a single frame outside of
// streaming
type Snapper interface {
	// SnapInto acquires one frame into buf, which must hold Width*Height of
	// the current size
	SnapInto(buf []uint16) error
}

// StreamController describes a camera that can stream into a ring of
// buffers
type StreamController interface {
	// StartStream starts streaming into n buffers, calling c once per frame
	StartStream(n int, c stream.Consumer) error

	// StopStream stops the stream and returns the error that ended it, if any
	StopStream() error

	// IsStreaming returns true while a stream is running
	IsStreaming() bool

	// StreamStats returns the counters of the running or last stream
	StreamStats() stream.Stats

	// Done is closed when the running stream ends, by StopStream or on its own
	Done() <-chan struct{}
}

// ROIManipulator describes a camera with a configurable region of interest
type ROIManipulator interface {
	// SetROI sets the ROI, returning the ROI actually applied after clamping
	SetROI(x, y [2]int) (ROI, error)

	// GetROI returns the current ROI
	GetROI() (ROI, error)

	// GetMaxSize returns the (width, height) of the sensor
	GetMaxSize() ([2]int, error)

	// GetSize returns the (width, height) of frames with the current ROI
	GetSize() ([2]int, error)
}

// ExposureManipulator describes a camera with a configurable exposure time
type ExposureManipulator interface {
	// SetExposure sets the exposure time and returns the value applied
	SetExposure(time.Duration) (time.Duration, error)

	// GetExposure gets the exposure time
	GetExposure() (time.Duration, error)
}

// Camera is a streaming camera with the usual controls
type Camera interface {
	Snapper
	StreamController
	ROIManipulator
	ExposureManipulator
}
