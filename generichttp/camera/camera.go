// Package camera provides a generic HTTP interface to a streaming camera
package camera

import (
	"context"
	"encoding/json"
	"fmt"
	"image/jpeg"
	"image/png"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/astrogo/fitsio"
	"github.com/nasa-jpl/framestream/camera"
	"github.com/nasa-jpl/framestream/generichttp"
	"github.com/nasa-jpl/framestream/imgrec"
	"github.com/nasa-jpl/framestream/server/middleware/locker"
	"github.com/nasa-jpl/framestream/stream"
	"github.com/nasa-jpl/framestream/util"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// DefaultBuffers is the ring size used when a start request does not give one
const DefaultBuffers = 16

// MetadataMaker can produce an array of FITS cards
type MetadataMaker interface {
	// CollectHeaderMetadata produces an array of FITS cards
	CollectHeaderMetadata() []fitsio.Card
}

// HTTPCamera wraps a camera with HTTP
type HTTPCamera struct {
	Camera camera.Camera

	// Recorder, if not nil, receives streamed frames and snaps in FITS format
	Recorder *imgrec.Recorder

	// Latest holds the last streamed frame for the live view
	Latest *stream.Latest

	// Buffers is the ring size used when a start request does not specify one
	Buffers int

	// PreviewWidth bounds the width of live view images, 0 for no limit
	PreviewWidth int

	// Log receives request diagnostics
	Log logrus.FieldLogger

	// Lock is the manual lock of the camera's routes
	Lock *locker.Locker

	RouteTable generichttp.RouteTable

	// burst serializes burst requests
	burst sync.Mutex
}

// NewHTTPCamera returns a new HTTP wrapper with the route table pre-configured
func NewHTTPCamera(c camera.Camera, rec *imgrec.Recorder) *HTTPCamera {
	h := &HTTPCamera{
		Camera:   c,
		Recorder: rec,
		Latest:   &stream.Latest{},
		Buffers:  DefaultBuffers,
		Log:      logrus.StandardLogger(),
		Lock:     locker.New(),
	}
	if rec != nil {
		if mm, ok := interface{}(c).(MetadataMaker); ok {
			rec.Metadata = mm.CollectHeaderMetadata
		}
	}
	rt := generichttp.RouteTable{}
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/image"}] = GetFrame(c, rec)
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/burst"}] = h.Burst
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/stream/start"}] = h.StartStream
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/stream/stop"}] = StopStream(c)
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/stream"}] = generichttp.GetBool(func() (bool, error) {
		return c.IsStreaming(), nil
	})
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/stream/stats"}] = GetStreamStats(c)
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/stream/latest"}] = h.GetLatest
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/exposure-time"}] = GetExposureTime(c)
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/exposure-time"}] = SetExposureTime(c)
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/roi"}] = GetROI(c)
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/roi"}] = SetROI(c)
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/max-size"}] = GetSize(c.GetMaxSize)
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/size"}] = GetSize(c.GetSize)
	h.RouteTable = rt
	if rec != nil {
		imgrec.NewHTTPWrapper(rec).Inject(h)
	}
	locker.Inject(h, h.Lock)
	return h
}

// RT satisfies the generichttp.HTTPer interface
func (h *HTTPCamera) RT() generichttp.RouteTable {
	return h.RouteTable
}

// Consumer is the per-frame consumer used for streams started over HTTP.
// It keeps the live view current and feeds the recorder.
func (h *HTTPCamera) Consumer() stream.Consumer {
	if h.Recorder == nil {
		return h.Latest.Consume
	}
	return stream.Tee(h.Latest.Consume, h.Recorder.Consume)
}

// statusFor maps camera errors to HTTP status codes
func statusFor(err error) int {
	switch errors.Cause(err) {
	case camera.ErrBusy:
		return http.StatusLocked
	case stream.ErrAlreadyStreaming:
		return http.StatusConflict
	case stream.ErrTooFewBuffers, stream.ErrBadGeometry:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// StartStream starts streaming on a POST request.  The body may hold
// {"buffers": n}; an empty body uses the default ring size.
func (h *HTTPCamera) StartStream(w http.ResponseWriter, r *http.Request) {
	req := struct {
		Buffers int `json:"buffers"`
	}{}
	if r.ContentLength != 0 {
		err := json.NewDecoder(r.Body).Decode(&req)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	if req.Buffers == 0 {
		req.Buffers = h.Buffers
	}
	h.Latest.Reset()
	err := h.Camera.StartStream(req.Buffers, h.Consumer())
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	h.Log.WithField("buffers", req.Buffers).Info("stream started over HTTP")
	w.WriteHeader(http.StatusOK)
}

// StopStream stops streaming on a POST request.  If the stream ended with
// an error, it is returned with a 500 and the camera is still stopped.
func StopStream(c camera.StreamController) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := c.StopStream()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// GetStreamStats returns the stream counters as JSON
func GetStreamStats(c camera.StreamController) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		generichttp.RespondJSON(w, c.StreamStats())
	}
}

// GetLatest returns the most recent streamed frame.  It takes the same fmt
// query parameter as /image, plus width to shrink the image and stretch to
// map the data range onto the full 8 bits of jpg and png.
func (h *HTTPCamera) GetLatest(w http.ResponseWriter, r *http.Request) {
	f, ok := h.Latest.Frame()
	if !ok {
		http.Error(w, "no frame has been streamed yet", http.StatusNotFound)
		return
	}
	q := r.URL.Query()
	width := h.PreviewWidth
	if s := q.Get("width"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if width == 0 || n < width {
			width = n
		}
	}
	f = shrink(f, width)
	stretch, _ := strconv.ParseBool(q.Get("stretch"))
	cards := imgrec.FrameCards(f)
	err := writeImage(w, q.Get("fmt"), f, cards, stretch)
	if err != nil {
		h.Log.WithError(err).Warn("error encoding live view")
	}
}

// writeImage encodes f in the given format, jpg by default
func writeImage(w http.ResponseWriter, format string, f stream.Frame, cards []fitsio.Card, stretch bool) error {
	hdr := w.Header()
	switch format {
	case "", "jpg", "jpeg":
		hdr.Set("Content-Type", "image/jpeg")
		return jpeg.Encode(w, gray8(to8(f.Pix, stretch), f.Width, f.Height), nil)
	case "png":
		hdr.Set("Content-Type", "image/png")
		if stretch {
			return png.Encode(w, gray8(to8(f.Pix, true), f.Width, f.Height))
		}
		return png.Encode(w, f.Gray16())
	case "fits":
		hdr.Set("Content-Type", "image/fits")
		hdr.Set("Content-Disposition", "attachment; filename=image.fits")
		return imgrec.WriteFits(w, cards, f.Pix, f.Width, f.Height, 1)
	default:
		err := errors.Errorf("unknown image format %q, use jpg, png or fits", format)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return err
	}
}

// GetFrame takes a picture and returns it on a GET request.
//
// the image format may be specified in a query parameter; default to jpg
//
// the exposure time may be specified as a query parameter in any time-looking
// format, such as "25ms" or "10us".  Strictly speaking, it must be a valid
// input to golang time.ParseDuration.
//
// if no unit is appended, an s (seconds) is added.
//
// if no exposure time is provided, it is not updated and the existing value is used.
//
// fits images are also written by the recorder, if it is enabled.
func GetFrame(c camera.Camera, rec *imgrec.Recorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		texp := q.Get("exposureTime")
		if texp != "" {
			T, err := util.ParseExposure(texp)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			_, err = c.SetExposure(T)
			if err != nil {
				http.Error(w, err.Error(), statusFor(err))
				return
			}
		}
		sz, err := c.GetSize()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		f := stream.Frame{Width: sz[0], Height: sz[1], Pix: make([]uint16, sz[0]*sz[1])}
		err = c.SnapInto(f.Pix)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		format := q.Get("fmt")
		var cards []fitsio.Card
		if format == "fits" {
			if carder, ok := interface{}(c).(MetadataMaker); ok {
				cards = carder.CollectHeaderMetadata()
			}
			if rec != nil && rec.Settings().Enabled {
				_, err = rec.WriteFrame(f, nil)
				if err != nil {
					http.Error(w, err.Error(), http.StatusInternalServerError)
					return
				}
			}
		}
		writeImage(w, format, f, cards, false)
	}
}

// Burst streams a number of frames and returns them as a fits image cube on
// a POST request with {"frames": n}.  It fails with 409 if the camera is
// already streaming.  Frames lost to overflow are not in the cube, the
// FRAMEIDX card lists the index of the first frame and LOST the number of
// gaps.  If the stream dies first, the error that ended it is returned.
func (h *HTTPCamera) Burst(w http.ResponseWriter, r *http.Request) {
	t := struct {
		Frames int `json:"frames"`
	}{}
	err := json.NewDecoder(r.Body).Decode(&t)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if t.Frames <= 0 {
		http.Error(w, "frames must be positive", http.StatusBadRequest)
		return
	}
	h.burst.Lock()
	defer h.burst.Unlock()
	sz, err := h.Camera.GetSize()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	frameSize := sz[0] * sz[1]
	var (
		cube  = make([]uint16, 0, frameSize*t.Frames)
		first uint64
		prev  uint64
		gaps  int
		full  = make(chan struct{})
		n     int
	)
	consume := func(f stream.Frame) error {
		if n == t.Frames {
			return nil
		}
		if n == 0 {
			first = f.Index
		} else if f.Index != prev+1 {
			gaps++
		}
		prev = f.Index
		cube = append(cube, f.Pix...)
		n++
		if n == t.Frames {
			close(full)
		}
		return nil
	}
	err = h.Camera.StartStream(h.Buffers, consume)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	ended := h.Camera.Done()
	ctx, cancel := context.WithTimeout(r.Context(), time.Minute)
	defer cancel()
	select {
	case <-full:
	case <-ended:
	case <-ctx.Done():
	}
	// Stop joins the drainer, after this the consumer's state is ours
	err = h.Camera.StopStream()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if n < t.Frames {
		http.Error(w, fmt.Sprintf("burst timed out after %d of %d frames", n, t.Frames), http.StatusGatewayTimeout)
		return
	}
	var cards []fitsio.Card
	if carder, ok := interface{}(h.Camera).(MetadataMaker); ok {
		cards = carder.CollectHeaderMetadata()
	}
	cards = append(cards,
		fitsio.Card{Name: "FRAMEIDX", Value: int64(first), Comment: "index of the first frame"},
		fitsio.Card{Name: "LOST", Value: gaps, Comment: "gaps in the frame sequence"})
	hdr := w.Header()
	hdr.Set("Content-Type", "image/fits")
	hdr.Set("Content-Disposition", "attachment; filename=burst.fits")
	err = imgrec.WriteFits(w, cards, cube, sz[0], sz[1], t.Frames)
	if err != nil {
		h.Log.WithError(err).Warn("error writing burst")
	}
}

// SetExposureTime sets the exposure time on a POST request.
// it can be provided either as a query parameter exposureTime, formatted in a
// way that is parseable by golang/time.ParseDuration, or a json payload with
// key f64, holding the exposure time in seconds.
func SetExposureTime(c camera.ExposureManipulator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		texp := q.Get("exposureTime")
		var d time.Duration
		var err error
		if texp == "" {
			f := generichttp.FloatT{}
			err = json.NewDecoder(r.Body).Decode(&f)
			defer r.Body.Close()
			d = util.SecsToDuration(f.F64)
		} else {
			d, err = util.ParseExposure(texp)
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		_, err = c.SetExposure(d)
		if err != nil {
			http.Error(w, err.Error(), statusFor(err))
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// GetExposureTime gets the exposure time on a GET request
func GetExposureTime(c camera.ExposureManipulator) http.HandlerFunc {
	return generichttp.GetFloat(func() (float64, error) {
		d, err := c.GetExposure()
		return d.Seconds(), err
	})
}

// SetROI sets the region of interest from a JSON body {"x": [x0, x1], "y": [y0, y1]}
// and answers with the ROI actually applied
func SetROI(c camera.ROIManipulator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roi := camera.ROI{}
		err := json.NewDecoder(r.Body).Decode(&roi)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		applied, err := c.SetROI(roi.X, roi.Y)
		if err != nil {
			http.Error(w, err.Error(), statusFor(err))
			return
		}
		generichttp.RespondJSON(w, applied)
	}
}

// GetROI returns the region of interest as JSON
func GetROI(c camera.ROIManipulator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roi, err := c.GetROI()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		generichttp.RespondJSON(w, roi)
	}
}

// GetSize returns a (width, height) as JSON {"width": w, "height": h}
func GetSize(fcn func() ([2]int, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sz, err := fcn()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		generichttp.RespondJSON(w, struct {
			Width  int `json:"width"`
			Height int `json:"height"`
		}{sz[0], sz[1]})
	}
}
