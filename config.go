// config.go — project configuration (devalang.json / devalang.toml).
//
// Both formats decode into the same Config shape; JSON wins when both files
// exist. Unknown keys are ignored. LoadConfig never fails on a missing file:
// it returns the defaults.
package devalang

import (
	"encoding/json"
	"io/fs"

	"github.com/pelletier/go-toml/v2"
)

// Config mirrors the recognized project configuration keys.
type Config struct {
	Project struct {
		Name string `json:"name" toml:"name"`
	} `json:"project" toml:"project"`
	Paths struct {
		Entry  string `json:"entry" toml:"entry"`
		Output string `json:"output" toml:"output"`
	} `json:"paths" toml:"paths"`
	Audio struct {
		Format          []string `json:"format" toml:"format"`
		BitDepth        int      `json:"bit_depth" toml:"bit_depth"`
		Channels        int      `json:"channels" toml:"channels"`
		SampleRate      int      `json:"sample_rate" toml:"sample_rate"`
		ResampleQuality string   `json:"resample_quality" toml:"resample_quality"`
		BPM             float64  `json:"bpm" toml:"bpm"`
	} `json:"audio" toml:"audio"`
	Live struct {
		// Consumed by the live-playback collaborator; carried, not used.
		CrossfadeMs float64 `json:"crossfade_ms" toml:"crossfade_ms"`
	} `json:"live" toml:"live"`
}

// DefaultConfig is the configuration used when no project file exists.
func DefaultConfig() Config {
	var c Config
	c.Paths.Entry = "index.deva"
	c.Paths.Output = "output"
	c.Audio.Format = []string{"wav"}
	c.Audio.BitDepth = 16
	c.Audio.Channels = 2
	c.Audio.SampleRate = 44100
	c.Audio.ResampleQuality = "sinc16"
	c.Audio.BPM = DefaultBPM
	return c
}

// LoadConfig reads devalang.json or devalang.toml from the root of fsys.
func LoadConfig(fsys fs.FS) (Config, error) {
	c := DefaultConfig()
	if raw, err := fs.ReadFile(fsys, "devalang.json"); err == nil {
		if err := json.Unmarshal(raw, &c); err != nil {
			return c, err
		}
		return c.normalized(), nil
	}
	if raw, err := fs.ReadFile(fsys, "devalang.toml"); err == nil {
		if err := toml.Unmarshal(raw, &c); err != nil {
			return c, err
		}
		return c.normalized(), nil
	}
	return c, nil
}

// normalized clamps config fields onto supported values.
func (c Config) normalized() Config {
	switch c.Audio.BitDepth {
	case 16, 24, 32:
	default:
		c.Audio.BitDepth = 16
	}
	if c.Audio.Channels != 1 && c.Audio.Channels != 2 {
		c.Audio.Channels = 2
	}
	if c.Audio.SampleRate <= 0 {
		c.Audio.SampleRate = 44100
	}
	if c.Audio.BPM <= 0 {
		c.Audio.BPM = DefaultBPM
	}
	if c.Paths.Entry == "" {
		c.Paths.Entry = "index.deva"
	}
	if len(c.Audio.Format) == 0 {
		c.Audio.Format = []string{"wav"}
	}
	return c
}

// RenderOptions derives render options from the configuration.
func (c Config) RenderOptions() RenderOptions {
	return RenderOptions{
		SampleRate: c.Audio.SampleRate,
		Channels:   c.Audio.Channels,
		BitDepth:   c.Audio.BitDepth,
		BPM:        c.Audio.BPM,
		Quality:    ParseResampleQuality(c.Audio.ResampleQuality),
	}
}
