// Package config loads runtime settings from an optional YAML file and
// PHONO_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all runtime configuration.
type Config struct {
	// Server
	Port int `mapstructure:"port"`

	// Capture
	Device     string `mapstructure:"device"`
	FilterMode string `mapstructure:"filter_mode"`
	SampleRate int    `mapstructure:"sample_rate"`
	Channels   int    `mapstructure:"channels"`

	// Analysis and trace
	AnalysisWindow int     `mapstructure:"analysis_window"`
	Smoothing      float64 `mapstructure:"smoothing"`
	CanvasWidth    int     `mapstructure:"canvas_width"`
	CanvasHeight   int     `mapstructure:"canvas_height"`
	FrameRate      int     `mapstructure:"frame_rate"`

	// Recording
	Codec         string        `mapstructure:"codec"`
	ChunkInterval time.Duration `mapstructure:"chunk_interval"`
	OpusBitrate   int           `mapstructure:"opus_bitrate"`
	OutputName    string        `mapstructure:"output_name"`

	// Logging
	LogFormat string `mapstructure:"log_format"`
	LogLevel  string `mapstructure:"log_level"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:           8080,
		FilterMode:     "none",
		SampleRate:     48000,
		Channels:       1,
		AnalysisWindow: 4096,
		Smoothing:      0.05,
		CanvasWidth:    1024,
		CanvasHeight:   256,
		FrameRate:      60,
		Codec:          "opus",
		ChunkInterval:  time.Second,
		OpusBitrate:    64000,
		OutputName:     "heart-sound.wav",
		LogFormat:      "text",
		LogLevel:       "info",
	}
}

// Load reads cfgFile, or phonoscope.yaml from the user config directory or
// the working directory when cfgFile is empty. A missing default file is not
// an error. Environment variables override the file, e.g. PHONO_PORT.
func Load(cfgFile string) (*Config, error) {
	cfg := Default()
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("phonoscope")
		v.SetConfigType("yaml")
		v.AddConfigPath(configDir())
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("PHONO")
	v.AutomaticEnv()
	setDefaults(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can resolve it during
// Unmarshal.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("port", cfg.Port)
	v.SetDefault("device", cfg.Device)
	v.SetDefault("filter_mode", cfg.FilterMode)
	v.SetDefault("sample_rate", cfg.SampleRate)
	v.SetDefault("channels", cfg.Channels)
	v.SetDefault("analysis_window", cfg.AnalysisWindow)
	v.SetDefault("smoothing", cfg.Smoothing)
	v.SetDefault("canvas_width", cfg.CanvasWidth)
	v.SetDefault("canvas_height", cfg.CanvasHeight)
	v.SetDefault("frame_rate", cfg.FrameRate)
	v.SetDefault("codec", cfg.Codec)
	v.SetDefault("chunk_interval", cfg.ChunkInterval)
	v.SetDefault("opus_bitrate", cfg.OpusBitrate)
	v.SetDefault("output_name", cfg.OutputName)
	v.SetDefault("log_format", cfg.LogFormat)
	v.SetDefault("log_level", cfg.LogLevel)
}

func configDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "phonoscope")
	}
	return "."
}

var opusRates = map[int]bool{8000: true, 12000: true, 16000: true, 24000: true, 48000: true}

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

// Validate reports every invalid value. Unknown filter modes are accepted:
// they select no filtering.
func (c *Config) Validate() error {
	var errs []error

	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample_rate %d must be positive", c.SampleRate))
	}
	if c.Channels < 1 || c.Channels > 2 {
		errs = append(errs, fmt.Errorf("channels %d must be 1 or 2", c.Channels))
	}
	if n := c.AnalysisWindow; n <= 0 || n&(n-1) != 0 {
		errs = append(errs, fmt.Errorf("analysis_window %d is not a power of two", n))
	}
	if c.Smoothing < 0 || c.Smoothing >= 1 {
		errs = append(errs, fmt.Errorf("smoothing %v outside [0,1)", c.Smoothing))
	}
	if c.CanvasWidth <= 0 || c.CanvasHeight <= 0 {
		errs = append(errs, fmt.Errorf("canvas %dx%d must be positive", c.CanvasWidth, c.CanvasHeight))
	}
	if c.FrameRate <= 0 {
		errs = append(errs, fmt.Errorf("frame_rate %d must be positive", c.FrameRate))
	}
	switch strings.ToLower(c.Codec) {
	case "opus":
		if !opusRates[c.SampleRate] {
			errs = append(errs, fmt.Errorf("sample_rate %d not supported by opus", c.SampleRate))
		}
	case "pcm":
	default:
		errs = append(errs, fmt.Errorf("unknown codec %q", c.Codec))
	}
	if c.ChunkInterval <= 0 {
		errs = append(errs, fmt.Errorf("chunk_interval %v must be positive", c.ChunkInterval))
	}
	if c.OutputName == "" {
		errs = append(errs, errors.New("output_name is empty"))
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log_format %q", c.LogFormat))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Errorf("unknown log_level %q", c.LogLevel))
	}

	return errors.Join(errs...)
}
