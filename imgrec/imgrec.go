// Package imgrec contains an image recorder used to automatically save frames to disk.
package imgrec

import (
	"bufio"
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/astrogo/fitsio"
	"github.com/nasa-jpl/framestream/generichttp"
	"github.com/nasa-jpl/framestream/server"
	"github.com/nasa-jpl/framestream/stream"
	"github.com/pkg/errors"
)

// Settings are the user facing parameters of a Recorder
type Settings struct {
	// Root is the root path
	Root string `yaml:"Root"`

	// Prefix is the prefix for the filenames
	Prefix string `yaml:"Prefix"`

	// Enabled turns recording of streamed frames on or off
	Enabled bool `yaml:"Enabled"`

	// Every records one frame in Every while streaming.  0 and 1 record all.
	Every int `yaml:"Every"`
}

// Recorder records frames as FITS files with incrementing filenames in
// yyyy-mm-dd subfolders.  It is safe for concurrent use, so it can be a
// stream consumer and be reconfigured over HTTP at the same time.
type Recorder struct {
	mu sync.Mutex
	s  Settings

	// counter is the number of the next file; -1 means rescan the folder
	counter int

	// timeFldr is the subfolder with yyyy-mm-dd format
	timeFldr string

	// last is the path of the last file written
	last string

	// Metadata, if not nil, supplies extra header cards for each file
	Metadata func() []fitsio.Card
}

// New returns a recorder with the given settings
func New(s Settings) *Recorder {
	return &Recorder{s: s, counter: -1}
}

// Settings returns the current settings
func (r *Recorder) Settings() Settings {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.s
}

// Apply replaces the settings.  The file counter is rescanned if the
// location or prefix changed.
func (r *Recorder) Apply(s Settings) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.Root != r.s.Root || s.Prefix != r.s.Prefix {
		r.counter = -1
	}
	r.s = s
}

// SetRoot updates the root folder and makes sure it exists
func (r *Recorder) SetRoot(root string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.s.Root = root
	r.counter = -1
	r.updateFolder()
	_, err := r.mkDir()
	return err
}

// SetPrefix updates the filename prefix
func (r *Recorder) SetPrefix(prefix string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.s.Prefix = prefix
	r.counter = -1
	return nil
}

// SetEnabled turns recording of streamed frames on or off
func (r *Recorder) SetEnabled(b bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.s.Enabled = b
	return nil
}

// SetEvery sets the decimation of streamed frames
func (r *Recorder) SetEvery(n int) error {
	if n < 0 {
		return errors.Errorf("every must not be negative, got %d", n)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.s.Every = n
	return nil
}

// Last returns the path of the most recently written file, "" if none
func (r *Recorder) Last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// updateFolder checks the current time and updates the folder as needed
func (r *Recorder) updateFolder() {
	now := time.Now()
	y, m, d := now.Year(), now.Month(), now.Day()
	fldr := fmt.Sprintf("%04d-%02d-%02d", y, m, d)
	if fldr != r.timeFldr {
		r.timeFldr = fldr
		r.counter = -1
	}
}

// mkDir makes the folder and returns it
func (r *Recorder) mkDir() (string, error) {
	fldr := path.Join(r.s.Root, r.timeFldr)
	err := os.MkdirAll(fldr, 0777)
	return fldr, err
}

// scan finds the next file number by looking at the files in dn
func (r *Recorder) scan(dn string) int {
	files, err := os.ReadDir(dn)
	if err != nil {
		return 0
	}
	count := -1
	for _, file := range files {
		// skip directories, non-fits, and wrong prefix
		if file.IsDir() {
			continue
		}
		fn := file.Name()
		if !strings.HasSuffix(fn, ".fits") || !strings.HasPrefix(fn, r.s.Prefix) {
			continue
		}
		bit := strings.TrimSuffix(strings.TrimPrefix(fn, r.s.Prefix), ".fits")
		n, err := strconv.Atoi(bit)
		if err != nil {
			continue
		}
		if count < n {
			count = n
		}
	}
	return count + 1
}

// WriteFrame writes f to the next file and returns its path.  It writes
// even if the recorder is disabled; only Consume looks at Enabled.
func (r *Recorder) WriteFrame(f stream.Frame, cards []fitsio.Card) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.s.Root == "" {
		return "", errors.New("recorder has no root folder")
	}
	r.updateFolder()
	fldr, err := r.mkDir()
	if err != nil {
		return "", err
	}
	if r.counter < 0 {
		r.counter = r.scan(fldr)
	}
	fn := filepath.Join(fldr, fmt.Sprintf("%s%06d.fits", r.s.Prefix, r.counter))
	fid, err := os.Create(fn)
	if err != nil {
		return "", err
	}
	defer fid.Close()

	md := make([]fitsio.Card, 0, len(cards)+4)
	md = append(md, cards...)
	if r.Metadata != nil {
		md = append(md, r.Metadata()...)
	}
	md = append(md, FrameCards(f)...)
	bw := bufio.NewWriter(fid)
	err = WriteFits(bw, md, f.Pix, f.Width, f.Height, 1)
	if err == nil {
		err = bw.Flush()
	}
	if err != nil {
		return "", errors.Wrapf(err, "writing %s", fn)
	}
	r.counter++
	r.last = fn
	return fn, nil
}

// FrameCards returns the header cards describing a streamed frame
func FrameCards(f stream.Frame) []fitsio.Card {
	return []fitsio.Card{
		{Name: "FRAMEIDX", Value: int64(f.Index), Comment: "logical frame number in the stream"},
		{Name: "PIXCRC32", Value: int64(Checksum(f.Pix)), Comment: "CRC-32 of the big endian pixels"},
		{Name: "DATE", Value: time.Now().UTC().Format("2006-01-02T15:04:05.000"), Comment: "file write time, UTC"},
	}
}

// Consume is a stream.Consumer that records f if the recorder is enabled
func (r *Recorder) Consume(f stream.Frame) error {
	s := r.Settings()
	if !s.Enabled || s.Root == "" {
		return nil
	}
	return stream.Every(s.Every, r.record)(f)
}

func (r *Recorder) record(f stream.Frame) error {
	_, err := r.WriteFrame(f, nil)
	return err
}

// HTTPWrapper is an HTTP wrapper around an image recorder that allows the
// folder and prefix to be changed on the fly
//
// it does not implement generichttp.HTTPer, offering an Inject method allowing it to be injected
// into another HTTPer
type HTTPWrapper struct {
	*Recorder
}

// NewHTTPWrapper returns an HTTP wrapper around a recorder
func NewHTTPWrapper(r *Recorder) HTTPWrapper {
	return HTTPWrapper{r}
}

// GetLast serves the most recently written file
func (h HTTPWrapper) GetLast(w http.ResponseWriter, r *http.Request) {
	last := h.Recorder.Last()
	if last == "" {
		http.Error(w, "no file has been recorded yet", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "image/fits")
	server.ReplyWithFile(w, r, filepath.Base(last), filepath.Dir(last))
}

// Inject adds GET and POST routes for /autowrite/* to the HTTPer which manipulate this wrapper's recorder
func (h HTTPWrapper) Inject(other generichttp.HTTPer) {
	rec := h.Recorder
	rt := other.RT()
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/autowrite/root"}] = generichttp.SetString(rec.SetRoot)
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/autowrite/root"}] = generichttp.GetString(func() (string, error) {
		return rec.Settings().Root, nil
	})
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/autowrite/prefix"}] = generichttp.SetString(rec.SetPrefix)
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/autowrite/prefix"}] = generichttp.GetString(func() (string, error) {
		return rec.Settings().Prefix, nil
	})
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/autowrite/enabled"}] = generichttp.SetBool(rec.SetEnabled)
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/autowrite/enabled"}] = generichttp.GetBool(func() (bool, error) {
		return rec.Settings().Enabled, nil
	})
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/autowrite/every"}] = generichttp.SetInt(rec.SetEvery)
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/autowrite/every"}] = generichttp.GetInt(func() (int, error) {
		return rec.Settings().Every, nil
	})
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/autowrite/last"}] = h.GetLast
}
