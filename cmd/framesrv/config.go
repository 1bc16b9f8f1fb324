package main

import (
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/nasa-jpl/framestream/camera"
	"github.com/nasa-jpl/framestream/imgrec"
	"github.com/pkg/errors"
)

// EnvPrefix is the prefix of environment variables that override the file
const EnvPrefix = "FRAMESRV_"

type preview struct {
	// MaxWidth bounds the width of live view images, 0 for no limit
	MaxWidth int `yaml:"MaxWidth"`
}

type config struct {
	Addr     string          `yaml:"Addr"`
	Root     string          `yaml:"Root"`
	Camera   string          `yaml:"Camera"`
	MaxSize  [2]int          `yaml:"MaxSize"`
	Buffers  int             `yaml:"Buffers"`
	Interval string          `yaml:"Interval"`
	Exposure string          `yaml:"Exposure"`
	ROI      camera.ROI      `yaml:"ROI"`
	Recorder imgrec.Settings `yaml:"Recorder"`
	Preview  preview         `yaml:"Preview"`
}

func defaults() config {
	return config{
		Addr:     ":8000",
		Root:     "/",
		Camera:   "synthetic",
		MaxSize:  [2]int{2048, 2048},
		Buffers:  16,
		Interval: "5ms",
		Exposure: "0s",
		ROI:      camera.ROI{X: [2]int{0, 2048}, Y: [2]int{0, 2048}},
		Recorder: imgrec.Settings{Prefix: "frame", Every: 1},
		Preview:  preview{MaxWidth: 1024},
	}
}

// loadConfig layers the defaults, the config file if it exists, and the
// environment into a new koanf instance
func loadConfig(fn string) (*koanf.Koanf, error) {
	k := koanf.New(".")
	err := k.Load(structs.Provider(defaults(), "koanf"), nil)
	if err != nil {
		return nil, err
	}
	err = k.Load(file.Provider(fn), yaml.Parser())
	if err != nil && !strings.Contains(err.Error(), "no such") { // file missing, who cares
		return nil, errors.Wrap(err, "loading config")
	}
	err = k.Load(env.Provider(EnvPrefix, ".", envKey(k.Keys())), nil)
	if err != nil {
		return nil, errors.Wrap(err, "loading environment")
	}
	return k, nil
}

// envKey maps FRAMESRV_RECORDER_ROOT to the existing key Recorder.Root.
// Unknown variables keep their lowercased name and are ignored by Unmarshal.
func envKey(keys []string) func(string) string {
	canon := make(map[string]string, len(keys))
	for _, key := range keys {
		canon[strings.ToLower(key)] = key
	}
	return func(s string) string {
		key := strings.ToLower(strings.Replace(strings.TrimPrefix(s, EnvPrefix), "_", ".", -1))
		if c, ok := canon[key]; ok {
			return c
		}
		return key
	}
}

func unmarshal(k *koanf.Koanf) (config, error) {
	c := config{}
	err := k.Unmarshal("", &c)
	return c, err
}
