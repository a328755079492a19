package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
	"gopkg.in/yaml.v3"

	"cropdesk/pkg/cropbox"
)

// Globals are flags shared by every command.
type Globals struct {
	Verbose     bool   `help:"Enable verbose logging" default:"false" env:"CROPDESK_VERBOSE"`
	LogFile     string `help:"Also write logs to this file, rotated by size" type:"path" env:"CROPDESK_LOG_FILE"`
	PresetsFile string `name:"presets" help:"YAML file adding or overriding crop presets" type:"path" env:"CROPDESK_PRESETS"`
}

// setupLogging configures the global zerolog logger. The returned func
// closes the log file, if any.
func (g *Globals) setupLogging() (cleanup func()) {
	level := zerolog.InfoLevel
	if g.Verbose {
		level = zerolog.DebugLevel
	}

	console := zerolog.NewConsoleWriter(func(w *zerolog.ConsoleWriter) {
		w.Out = os.Stderr
	})
	var out io.Writer = console
	cleanup = func() {}
	if g.LogFile != "" {
		rotating := &lumberjack.Logger{
			Filename:   g.LogFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		}
		out = zerolog.MultiLevelWriter(console, rotating)
		cleanup = func() { _ = rotating.Close() }
	}

	log.Logger = log.Output(out).Level(level)
	zerolog.DefaultContextLogger = &log.Logger
	return cleanup
}

type presetFile struct {
	Presets []cropbox.Preset `yaml:"presets"`
}

// LoadPresets returns the built-in presets, overridden by the entries of the
// YAML file at path. An empty path yields the built-in presets.
//
//	presets:
//	  - name: avatar
//	    aspect_ratio: 0.5625
//	    min_size: 60
//	    slot: avatar
func LoadPresets(path string) (cropbox.Presets, error) {
	presets := cropbox.DefaultPresets()
	if path == "" {
		return presets, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read presets file: %w", err)
	}
	var file presetFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse presets file %s: %w", path, err)
	}

	for _, p := range file.Presets {
		if p.Name == "" {
			return nil, errors.New("preset without a name")
		}
		if err := p.Config.Validate(); err != nil {
			return nil, fmt.Errorf("preset %q: %w", p.Name, err)
		}
		presets[p.Name] = p
	}
	return presets, nil
}
