package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/morsekit/cwd/pkg/cw"
)

// Config represents the cwd configuration
type Config struct {
	Station struct {
		Callsign string `yaml:"callsign"`
		Grid     string `yaml:"grid"`
	} `yaml:"station"`

	Keying struct {
		Speed       int  `yaml:"speed"`     // WPM
		Frequency   int  `yaml:"frequency"` // sidetone Hz, 0 = silent
		Volume      int  `yaml:"volume"`    // percent
		Gap         int  `yaml:"gap"`       // extra Farnsworth units
		Weighting   int  `yaml:"weighting"` // percent, 50 = neutral
		CurtisModeB bool `yaml:"curtis_mode_b"`
	} `yaml:"keying"`

	Receiver struct {
		Speed        int  `yaml:"speed"`     // WPM, ignored when adaptive
		Tolerance    int  `yaml:"tolerance"` // percent
		Gap          int  `yaml:"gap"`
		Adaptive     bool `yaml:"adaptive"`
		NoiseSpikeMs int  `yaml:"noise_spike_ms"` // 0 disables the filter
	} `yaml:"receiver"`

	Audio struct {
		SampleRate int `yaml:"sample_rate"`
		BufferSize int `yaml:"buffer_size"`
	} `yaml:"audio"`

	Web struct {
		Port        int    `yaml:"port"`
		BindAddress string `yaml:"bind_address"`
	} `yaml:"web"`

	API struct {
		UnixSocket string `yaml:"unix_socket"`
	} `yaml:"api"`

	Storage struct {
		DatabasePath string `yaml:"database_path"`
		MaxSessions  int    `yaml:"max_sessions"`
	} `yaml:"storage"`

	Logging struct {
		Level      string `yaml:"level"`
		File       string `yaml:"file"`
		Console    bool   `yaml:"console"`
		Structured bool   `yaml:"structured"`
		MaxSize    int    `yaml:"max_size"` // megabytes per log file
		MaxBackups int    `yaml:"max_backups"`
		MaxAge     int    `yaml:"max_age"` // days
		Compress   bool   `yaml:"compress"`
	} `yaml:"logging"`
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()
	return &config, nil
}

// Default returns a configuration with every default applied, for callers
// running without a config file.
func Default() *Config {
	var config Config
	config.applyDefaults()
	return &config
}

func (c *Config) applyDefaults() {
	if c.Keying.Speed == 0 {
		c.Keying.Speed = cw.SpeedInitial
	}
	if c.Keying.Frequency == 0 {
		c.Keying.Frequency = cw.FrequencyInitial
	}
	if c.Keying.Volume == 0 {
		c.Keying.Volume = cw.VolumeInitial
	}
	if c.Keying.Weighting == 0 {
		c.Keying.Weighting = cw.WeightingInitial
	}
	if c.Receiver.Speed == 0 {
		c.Receiver.Speed = cw.SpeedInitial
	}
	if c.Receiver.Tolerance == 0 {
		c.Receiver.Tolerance = cw.ToleranceInitial
	}
	if c.Receiver.NoiseSpikeMs == 0 {
		c.Receiver.NoiseSpikeMs = 10
	}
	if c.Audio.SampleRate == 0 {
		c.Audio.SampleRate = 48000
	}
	if c.Audio.BufferSize == 0 {
		c.Audio.BufferSize = 1024
	}
	if c.Web.Port == 0 {
		c.Web.Port = 8080
	}
	if c.Web.BindAddress == "" {
		c.Web.BindAddress = "0.0.0.0"
	}
	if c.API.UnixSocket == "" {
		c.API.UnixSocket = "/tmp/cwd.sock"
	}
	if c.Storage.DatabasePath == "" {
		c.Storage.DatabasePath = "cwd.db"
	}
	if c.Storage.MaxSessions == 0 {
		c.Storage.MaxSessions = 10000
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.MaxSize == 0 {
		c.Logging.MaxSize = 10
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = 3
	}
	if c.Logging.MaxAge == 0 {
		c.Logging.MaxAge = 28
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Keying.Speed < cw.SpeedMin || c.Keying.Speed > cw.SpeedMax {
		return fmt.Errorf("keying speed must be %d-%d WPM, got %d",
			cw.SpeedMin, cw.SpeedMax, c.Keying.Speed)
	}
	if c.Keying.Frequency < cw.FrequencyMin || c.Keying.Frequency > cw.FrequencyMax {
		return fmt.Errorf("sidetone frequency must be %d-%d Hz, got %d",
			cw.FrequencyMin, cw.FrequencyMax, c.Keying.Frequency)
	}
	if c.Keying.Volume < cw.VolumeMin || c.Keying.Volume > cw.VolumeMax {
		return fmt.Errorf("volume must be %d-%d%%, got %d",
			cw.VolumeMin, cw.VolumeMax, c.Keying.Volume)
	}
	if c.Keying.Gap < cw.GapMin || c.Keying.Gap > cw.GapMax {
		return fmt.Errorf("keying gap must be %d-%d, got %d",
			cw.GapMin, cw.GapMax, c.Keying.Gap)
	}
	if c.Keying.Weighting < cw.WeightingMin || c.Keying.Weighting > cw.WeightingMax {
		return fmt.Errorf("weighting must be %d-%d%%, got %d",
			cw.WeightingMin, cw.WeightingMax, c.Keying.Weighting)
	}
	if c.Receiver.Speed < cw.SpeedMin || c.Receiver.Speed > cw.SpeedMax {
		return fmt.Errorf("receiver speed must be %d-%d WPM, got %d",
			cw.SpeedMin, cw.SpeedMax, c.Receiver.Speed)
	}
	if c.Receiver.Tolerance < cw.ToleranceMin || c.Receiver.Tolerance > cw.ToleranceMax {
		return fmt.Errorf("receiver tolerance must be %d-%d%%, got %d",
			cw.ToleranceMin, cw.ToleranceMax, c.Receiver.Tolerance)
	}
	if c.Receiver.Gap < cw.GapMin || c.Receiver.Gap > cw.GapMax {
		return fmt.Errorf("receiver gap must be %d-%d, got %d",
			cw.GapMin, cw.GapMax, c.Receiver.Gap)
	}
	if c.Receiver.NoiseSpikeMs < 0 {
		return fmt.Errorf("noise spike threshold must not be negative, got %d",
			c.Receiver.NoiseSpikeMs)
	}
	if c.Audio.SampleRate <= 0 {
		return fmt.Errorf("audio sample rate must be positive, got %d", c.Audio.SampleRate)
	}
	if c.Web.Port < 1 || c.Web.Port > 65535 {
		return fmt.Errorf("web port must be 1-65535, got %d", c.Web.Port)
	}
	return nil
}
