package camera

import (
	"bytes"
	"encoding/json"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/astrogo/fitsio"
	"github.com/go-chi/chi"
	"github.com/nasa-jpl/framestream/imgrec"
	"github.com/nasa-jpl/framestream/stream"
	"github.com/nasa-jpl/framestream/synthetic"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*HTTPCamera, *synthetic.Camera, *httptest.Server) {
	l := logrus.New()
	l.SetOutput(io.Discard)
	cam := synthetic.NewCamera(synthetic.Config{MaxSize: [2]int{64, 48}, Interval: time.Millisecond, Log: l})
	rec := imgrec.New(imgrec.Settings{Root: t.TempDir(), Prefix: "test"})
	h := NewHTTPCamera(cam, rec)
	h.Log = l
	h.Buffers = 32
	r := chi.NewRouter()
	r.Use(h.Lock.Check)
	h.RT().Bind(r)
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		cam.StopStream()
	})
	return h, cam, srv
}

func post(t *testing.T, url, body string) *http.Response {
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	return resp
}

func get(t *testing.T, url string) *http.Response {
	resp, err := http.Get(url)
	require.NoError(t, err)
	return resp
}

func readFits(t *testing.T, r io.Reader) *fitsio.Header {
	b, err := io.ReadAll(r)
	require.NoError(t, err)
	fits, err := fitsio.Open(bytes.NewReader(b))
	require.NoError(t, err)
	t.Cleanup(func() { fits.Close() })
	return fits.HDU(0).Header()
}

func TestImageFormats(t *testing.T) {
	_, _, srv := newTestServer(t)

	resp := get(t, srv.URL+"/image?fmt=png")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	im, err := png.Decode(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, 64, im.Bounds().Dx())
	assert.Equal(t, 48, im.Bounds().Dy())

	resp2 := get(t, srv.URL+"/image?fmt=fits&exposureTime=2ms")
	defer resp2.Body.Close()
	require.Equal(t, http.StatusOK, resp2.StatusCode)
	hdr := readFits(t, resp2.Body)
	assert.Equal(t, []int{64, 48}, hdr.Axes())
	exp := hdr.Get("EXPTIME")
	require.NotNil(t, exp)
	assert.InDelta(t, 0.002, exp.Value, 1e-9)

	resp3 := get(t, srv.URL+"/image?fmt=bmp")
	resp3.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp3.StatusCode)

	resp4 := get(t, srv.URL+"/image?exposureTime=soon")
	resp4.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp4.StatusCode)
}

func TestStreamLifecycle(t *testing.T) {
	_, _, srv := newTestServer(t)

	resp := get(t, srv.URL+"/stream/latest")
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = post(t, srv.URL+"/stream/start", `{"buffers": 8}`)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = post(t, srv.URL+"/stream/start", "")
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = post(t, srv.URL+"/roi", `{"x": [0, 32], "y": [0, 32]}`)
	resp.Body.Close()
	assert.Equal(t, http.StatusLocked, resp.StatusCode)

	require.Eventually(t, func() bool {
		resp := get(t, srv.URL+"/stream/stats")
		defer resp.Body.Close()
		var st stream.Stats
		if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
			return false
		}
		return st.FramesProcessed > 3
	}, 5*time.Second, 10*time.Millisecond)

	resp = get(t, srv.URL+"/stream/latest?fmt=png&width=32")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	im, err := png.Decode(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, 32, im.Bounds().Dx())
	assert.Equal(t, 24, im.Bounds().Dy())

	resp = post(t, srv.URL+"/stream/stop", "")
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = get(t, srv.URL+"/stream")
	var b struct {
		Bool bool `json:"bool"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&b))
	resp.Body.Close()
	assert.False(t, b.Bool)

	resp = post(t, srv.URL+"/roi", `{"x": [0, 32], "y": [40, 8]}`)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var roi struct {
		X [2]int `json:"x"`
		Y [2]int `json:"y"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&roi))
	assert.Equal(t, [2]int{8, 40}, roi.Y)
}

func TestStartRejectsSingleBuffer(t *testing.T) {
	_, _, srv := newTestServer(t)
	resp := post(t, srv.URL+"/stream/start", `{"buffers": 1}`)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestBurstReturnsCube(t *testing.T) {
	_, cam, srv := newTestServer(t)
	_, err := cam.SetROI([2]int{0, 16}, [2]int{0, 8})
	require.NoError(t, err)

	resp := post(t, srv.URL+"/burst", `{"frames": 5}`)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	hdr := readFits(t, resp.Body)
	assert.Equal(t, []int{16, 8, 5}, hdr.Axes())
	require.NotNil(t, hdr.Get("FRAMEIDX"))
	require.NotNil(t, hdr.Get("LOST"))
	assert.False(t, cam.IsStreaming())

	resp2 := post(t, srv.URL+"/burst", `{"frames": 0}`)
	resp2.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)
}

func TestManualLock(t *testing.T) {
	h, _, srv := newTestServer(t)
	resp := post(t, srv.URL+"/lock", `{"bool": true}`)
	resp.Body.Close()
	require.True(t, h.Lock.Locked())

	resp = post(t, srv.URL+"/exposure-time", `{"f64": 0.01}`)
	resp.Body.Close()
	assert.Equal(t, http.StatusLocked, resp.StatusCode)

	h.Lock.Unlock()
	resp = post(t, srv.URL+"/exposure-time", `{"f64": 0.01}`)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = get(t, srv.URL+"/exposure-time")
	var f struct {
		F64 float64 `json:"f64"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&f))
	resp.Body.Close()
	assert.InDelta(t, 0.01, f.F64, 1e-9)
}

func TestShrinkKeepsAspect(t *testing.T) {
	f := stream.Frame{Width: 40, Height: 20, Pix: make([]uint16, 800)}
	for i := range f.Pix {
		f.Pix[i] = 1000
	}
	s := shrink(f, 10)
	assert.Equal(t, 10, s.Width)
	assert.Equal(t, 5, s.Height)
	assert.Equal(t, uint16(1000), s.Pix[0])
	assert.Equal(t, f, shrink(f, 0))
}

func TestTo8Stretch(t *testing.T) {
	out := to8([]uint16{100, 200, 300}, true)
	assert.Equal(t, []byte{0, 127, 255}, out)
	out = to8([]uint16{0x1234}, false)
	assert.Equal(t, []byte{0x12}, out)
}

func TestBurstEndsWhenCameraFails(t *testing.T) {
	_, cam, srv := newTestServer(t)
	_, err := cam.SetROI([2]int{0, 16}, [2]int{0, 8})
	require.NoError(t, err)

	go func() {
		assert.Eventually(t, cam.IsStreaming, 5*time.Second, time.Millisecond)
		time.Sleep(20 * time.Millisecond)
		cam.Disconnect()
	}()
	client := &http.Client{Timeout: 10 * time.Second}
	start := time.Now()
	resp, err := client.Post(srv.URL+"/burst", "application/json", strings.NewReader(`{"frames": 10000}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.True(t, time.Since(start) < 5*time.Second, "burst waited %v", time.Since(start))
	assert.False(t, cam.IsStreaming())
}
