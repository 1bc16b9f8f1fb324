package synthetic

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/astrogo/fitsio"
	"github.com/nasa-jpl/framestream/camera"
	"github.com/nasa-jpl/framestream/stream"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultSensorSize is the edge length of the default square sensor
	DefaultSensorSize = 2048

	// DefaultInterval is the default frame period while streaming
	DefaultInterval = 5 * time.Millisecond
)

// ErrDisconnected is returned once a camera has been disconnected
var ErrDisconnected = errors.New("camera disconnected")

// Config holds the parameters of a synthetic camera
type Config struct {
	// MaxSize is the (width, height) of the sensor
	MaxSize [2]int

	// Interval is the frame period while streaming.  The exposure time is
	// used instead when it is longer.
	Interval time.Duration

	// Exposure is the initial exposure time
	Exposure time.Duration

	// OnError receives per-frame stream diagnostics, see stream.Config
	OnError func(error)

	// Log receives stream diagnostics
	Log logrus.FieldLogger
}

func (c Config) withDefaults() Config {
	if c.MaxSize[0] <= 0 || c.MaxSize[1] <= 0 {
		c.MaxSize = [2]int{DefaultSensorSize, DefaultSensorSize}
	}
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Log == nil {
		c.Log = logrus.StandardLogger()
	}
	return c
}

// sensor holds the state shared by both kinds of synthetic camera.  The
// geometry and exposure are frozen while streaming.
type sensor struct {
	cfg Config

	mu       sync.Mutex
	roi      camera.ROI
	exposure time.Duration
	snaps    uint64

	disconnected atomic.Bool

	streamer stream.Streamer
}

func (s *sensor) init(cfg Config) {
	cfg = cfg.withDefaults()
	s.cfg = cfg
	s.roi = camera.ROI{X: [2]int{0, cfg.MaxSize[0]}, Y: [2]int{0, cfg.MaxSize[1]}}
	s.exposure = cfg.Exposure
}

// SetROI satisfies camera.ROIManipulator
func (s *sensor) SetROI(x, y [2]int) (camera.ROI, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.streamer.IsStreaming() {
		return s.roi, camera.ErrBusy
	}
	roi, err := camera.ClampROI(x, y, s.cfg.MaxSize)
	if err != nil {
		return s.roi, err
	}
	s.roi = roi
	return roi, nil
}

// GetROI satisfies camera.ROIManipulator
func (s *sensor) GetROI() (camera.ROI, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roi, nil
}

// GetMaxSize satisfies camera.ROIManipulator
func (s *sensor) GetMaxSize() ([2]int, error) {
	return s.cfg.MaxSize, nil
}

// GetSize satisfies camera.ROIManipulator
func (s *sensor) GetSize() ([2]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roi.Size(), nil
}

// SetExposure satisfies camera.ExposureManipulator
func (s *sensor) SetExposure(d time.Duration) (time.Duration, error) {
	if d < 0 {
		return 0, errors.Errorf("exposure time must not be negative, got %v", d)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.streamer.IsStreaming() {
		return s.exposure, camera.ErrBusy
	}
	s.exposure = d
	return d, nil
}

// GetExposure satisfies camera.ExposureManipulator
func (s *sensor) GetExposure() (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exposure, nil
}

// SnapInto satisfies camera.Snapper.  Snaps advance their own frame counter
// and do not touch the stream's ring.
func (s *sensor) SnapInto(buf []uint16) error {
	if s.disconnected.Load() {
		return ErrDisconnected
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sz := s.roi.Size()
	if len(buf) != sz[0]*sz[1] {
		return errors.Errorf("buffer holds %d pixels, frame is %dx%d", len(buf), sz[0], sz[1])
	}
	Fill(buf, sz[0], sz[1], s.snaps)
	s.snaps++
	return nil
}

// StopStream satisfies camera.StreamController
func (s *sensor) StopStream() error {
	return s.streamer.Stop()
}

// IsStreaming satisfies camera.StreamController
func (s *sensor) IsStreaming() bool {
	return s.streamer.IsStreaming()
}

// StreamStats satisfies camera.StreamController
func (s *sensor) StreamStats() stream.Stats {
	return s.streamer.Stats()
}

// Done is closed when the running stream ends
func (s *sensor) Done() <-chan struct{} {
	return s.streamer.Done()
}

// Disconnect simulates unplugging the camera.  A running stream ends with a
// fatal error and further snaps fail.
func (s *sensor) Disconnect() {
	s.disconnected.Store(true)
}

// streamConfig is the stream configuration for the current settings;
// s.mu must be held
func (s *sensor) streamConfig(n int) stream.Config {
	sz := s.roi.Size()
	interval := s.cfg.Interval
	if s.exposure > interval {
		interval = s.exposure
	}
	return stream.Config{
		Buffers:  n,
		Width:    sz[0],
		Height:   sz[1],
		Interval: interval,
		OnError:  s.cfg.OnError,
		Log:      s.cfg.Log,
	}
}

// Camera is a synthetic camera whose frames are drawn by the stream's filler
type Camera struct {
	sensor
}

// NewCamera returns a new synthetic camera
func NewCamera(cfg Config) *Camera {
	c := &Camera{}
	c.init(cfg)
	return c
}

// StartStream satisfies camera.StreamController
func (c *Camera) StartStream(n int, consume stream.Consumer) error {
	if c.disconnected.Load() {
		return ErrDisconnected
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	cfg := c.streamConfig(n)
	pat := Pattern{Width: cfg.Width, Height: cfg.Height}
	cfg.Producer = stream.ProducerFunc(func(buf []uint16, index uint64) error {
		if c.disconnected.Load() {
			return stream.Fatal(ErrDisconnected)
		}
		return pat.ProduceFrame(buf, index)
	})
	return c.streamer.Start(cfg, consume)
}

// GrabberCamera is a synthetic camera streaming through a simulated frame
// grabber that writes into the ring by itself
type GrabberCamera struct {
	sensor

	// grabber is the device of the running or last stream
	grabber *Grabber
}

// NewGrabberCamera returns a new synthetic camera with a frame grabber
func NewGrabberCamera(cfg Config) *GrabberCamera {
	c := &GrabberCamera{}
	c.init(cfg)
	return c
}

// StartStream satisfies camera.StreamController
func (c *GrabberCamera) StartStream(n int, consume stream.Consumer) error {
	if c.disconnected.Load() {
		return ErrDisconnected
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	cfg := c.streamConfig(n)
	g := NewGrabber(cfg.Width, cfg.Height, cfg.Interval)
	cfg.Hardware = g
	err := c.streamer.Start(cfg, consume)
	if err != nil {
		return err
	}
	c.grabber = g
	return nil
}

// Disconnect simulates unplugging the camera and its frame grabber
func (c *GrabberCamera) Disconnect() {
	c.sensor.Disconnect()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.grabber != nil {
		c.grabber.Disconnect()
	}
}

var (
	_ camera.Camera = (*Camera)(nil)
	_ camera.Camera = (*GrabberCamera)(nil)
)

// CollectHeaderMetadata describes the camera state in FITS cards
func (s *sensor) CollectHeaderMetadata() []fitsio.Card {
	s.mu.Lock()
	defer s.mu.Unlock()
	return []fitsio.Card{
		{Name: "CAMERA", Value: "synthetic", Comment: "software test pattern"},
		{Name: "EXPTIME", Value: s.exposure.Seconds(), Comment: "exposure time, seconds"},
		{Name: "AOIL", Value: s.roi.X[0], Comment: "first column of the ROI, 0-based"},
		{Name: "AOIT", Value: s.roi.Y[0], Comment: "first row of the ROI, 0-based"},
	}
}
