package main

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/knadh/koanf/providers/file"
	"github.com/nasa-jpl/framestream/camera"
	"github.com/nasa-jpl/framestream/generichttp"
	httpcam "github.com/nasa-jpl/framestream/generichttp/camera"
	"github.com/nasa-jpl/framestream/imgrec"
	"github.com/nasa-jpl/framestream/stream"
	"github.com/nasa-jpl/framestream/synthetic"
	"github.com/nasa-jpl/framestream/util"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/theckman/yacspin"

	yml "gopkg.in/yaml.v2"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "framesrv.yml"
)

func root() {
	str := `framesrv streams frames from a camera into a ring of buffers
and exposes the camera, the stream and its live view over HTTP.

Usage:
	framesrv <command>

Commands:
	run
	stream <duration>
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `framesrv is amenable to configuration via its .yaml file.  For a primer on YAML, see
https://yaml.org/start.html

When no configuration is provided, the defaults are used.  Any key may be
overridden by an environment variable, FRAMESRV_BUFFERS=64 or
FRAMESRV_RECORDER_ROOT=/data for example.  The command mkconf generates the
configuration file with the default values.

Camera is one of synthetic or grabber.  synthetic draws its frames in
software, grabber simulates a frame grabber that writes the ring by itself.

Buffers is the number of frames in the ring.  More buffers absorb longer
stalls of the consumer before frames are dropped; at least two are required.

The Recorder section may be edited while the server runs, it is reloaded
when the file changes.  Recording of streamed frames is controlled by
Enabled and Every.

stream <duration> runs a local session without the HTTP server and prints
its statistics, framesrv stream 10s for example.`
	fmt.Println(str)
}

func mustConfig() config {
	k, err := loadConfig(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	c, err := unmarshal(k)
	if err != nil {
		log.Fatal(err)
	}
	return c
}

func mkconf() {
	c := mustConfig()
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := mustConfig()
	err := yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("framesrv version %v\n", Version)
}

// setupCamera builds the configured camera and applies the startup ROI
// and exposure
func setupCamera(cfg config) (camera.Camera, error) {
	interval, err := util.ParseExposure(cfg.Interval)
	if err != nil {
		return nil, err
	}
	exposure, err := util.ParseExposure(cfg.Exposure)
	if err != nil {
		return nil, err
	}
	scfg := synthetic.Config{
		MaxSize:  cfg.MaxSize,
		Interval: interval,
		Exposure: exposure,
		OnError: func(err error) {
			log.WithError(err).Debug("stream diagnostic")
		},
		Log: log.StandardLogger(),
	}
	var c camera.Camera
	switch strings.ToLower(cfg.Camera) {
	case "", "synthetic":
		c = synthetic.NewCamera(scfg)
	case "grabber":
		c = synthetic.NewGrabberCamera(scfg)
	default:
		return nil, errors.Errorf("unknown camera %q, use synthetic or grabber", cfg.Camera)
	}
	roi, err := c.SetROI(cfg.ROI.X, cfg.ROI.Y)
	if err != nil {
		return nil, err
	}
	log.WithField("roi", roi).Info("camera ready")
	return c, nil
}

// watchRecorder reloads the recorder settings whenever the config file
// changes
func watchRecorder(rec *imgrec.Recorder) {
	f := file.Provider(ConfigFileName)
	err := f.Watch(func(event interface{}, err error) {
		if err != nil {
			log.WithError(err).Warn("config watch")
			return
		}
		k, err := loadConfig(ConfigFileName)
		if err != nil {
			log.WithError(err).Warn("reloading config")
			return
		}
		c, err := unmarshal(k)
		if err != nil {
			log.WithError(err).Warn("reloading config")
			return
		}
		rec.Apply(c.Recorder)
		log.WithField("recorder", c.Recorder).Info("recorder settings reloaded")
	})
	if err != nil {
		log.WithError(err).Info("config file is not watched")
	}
}

func run() {
	cfg := mustConfig()
	c, err := setupCamera(cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer c.StopStream()

	r := imgrec.New(cfg.Recorder)
	watchRecorder(r)
	w := httpcam.NewHTTPCamera(c, r)
	w.Buffers = cfg.Buffers
	w.PreviewWidth = cfg.Preview.MaxWidth

	// clean up the submux string
	hndlrS := cfg.Root
	hndlrS = generichttp.SubMuxSanitize(hndlrS)
	root := chi.NewRouter()
	root.Use(middleware.Logger)
	mux := chi.NewRouter()
	mux.Use(w.Lock.Check)
	root.Mount(hndlrS, mux)
	w.RT().Bind(mux)
	if hndlrS != "/" {
		root.Get("/endpoints", func(rw http.ResponseWriter, req *http.Request) {
			eps := w.RT().Endpoints()
			for i, ep := range eps {
				parts := strings.SplitN(ep, " ", 2)
				eps[i] = parts[0] + " " + hndlrS + parts[1]
			}
			generichttp.RespondJSON(rw, eps)
		})
	}
	addr := cfg.Addr + cfg.Root
	log.Println("now listening for requests at ", addr)
	log.Fatal(http.ListenAndServe(cfg.Addr, root))
}

// streamLocal runs a session for dur and shows its statistics on a spinner
func streamLocal(dur time.Duration) {
	cfg := mustConfig()
	log.SetLevel(log.WarnLevel)
	c, err := setupCamera(cfg)
	if err != nil {
		log.Fatal(err)
	}
	latest := &stream.Latest{}
	r := imgrec.New(cfg.Recorder)
	consume := stream.Tee(latest.Consume, r.Consume)

	spinner, err := yacspin.New(yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[14],
		Suffix:            " streaming",
		SuffixAutoColon:   true,
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"},
	})
	if err != nil {
		log.Fatal(err)
	}
	err = c.StartStream(cfg.Buffers, consume)
	if err != nil {
		log.Fatal(err)
	}
	spinner.Start()
	deadline := time.After(dur)
	tick := time.NewTicker(250 * time.Millisecond)
	defer tick.Stop()
loop:
	for {
		select {
		case <-deadline:
			break loop
		case <-tick.C:
			s := c.StreamStats()
			spinner.Message(fmt.Sprintf("%d frames, %.1f fps, %d dropped", s.FramesProcessed, s.FrameRate, s.FramesDropped))
			if !c.IsStreaming() {
				break loop
			}
		}
	}
	err = c.StopStream()
	s := c.StreamStats()
	if err != nil {
		spinner.StopFailMessage(err.Error())
		spinner.StopFail()
	} else {
		spinner.StopMessage(fmt.Sprintf("%d frames", s.FramesProcessed))
		spinner.Stop()
	}
	yml.NewEncoder(os.Stdout).Encode(s)
	if f, ok := latest.Frame(); ok {
		fmt.Printf("last frame %d, CRC-32 %08x\n", f.Index, imgrec.Checksum(f.Pix))
	}
	if err != nil {
		os.Exit(1)
	}
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "run":
		run()
		return
	case "stream":
		dur := 5 * time.Second
		if len(args) > 2 {
			d, err := util.ParseExposure(args[2])
			if err != nil {
				log.Fatal(err)
			}
			dur = d
		}
		streamLocal(dur)
		return
	case "version":
		pversion()
		return
	default:
		log.Fatal("unknown command")
	}
}
