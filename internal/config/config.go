package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/danmuck/gazectl/internal/protocol"
	"github.com/pelletier/go-toml/v2"
)

// GazectlConfig is the on-disk schema of the gazectl config file.
// Durations are Go duration strings ("250ms", "5s").
type GazectlConfig struct {
	Address         string        `toml:"address"`
	Output          string        `toml:"output"`
	Duration        string        `toml:"duration"`
	ConnectTimeout  string        `toml:"connect_timeout"`
	ReadTimeout     string        `toml:"read_timeout"`
	WriteTimeout    string        `toml:"write_timeout"`
	StopTimeout     string        `toml:"stop_timeout"`
	ReadBufferSize  int           `toml:"read_buffer_size"`
	MaxTailBytes    int           `toml:"max_tail_bytes"`
	SkipCalibration bool          `toml:"skip_calibration"`
	Enable          []string      `toml:"enable"`
	Control         ControlConfig `toml:"control"`
	Mirror          MirrorConfig  `toml:"mirror"`
}

type ControlConfig struct {
	Listen      string   `toml:"listen"`
	CorsOrigins []string `toml:"cors_origins"`
	Token       string   `toml:"token"`
}

type MirrorConfig struct {
	Enabled  bool   `toml:"enabled"`
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	Channel  string `toml:"channel"`
	ListKey  string `toml:"list_key"`
	ListCap  int64  `toml:"list_cap"`
}

// SimConfig is the on-disk schema of the gazesim config file.
type SimConfig struct {
	Addr             string `toml:"addr"`
	RecordInterval   string `toml:"record_interval"`
	CalibrationDelay string `toml:"calibration_delay"`
	AverageError     string `toml:"average_error"`
	Fragment         bool   `toml:"fragment"`
	Seed             int64  `toml:"seed"`
}

func LoadGazectlConfig(path string) (GazectlConfig, error) {
	var cfg GazectlConfig
	if err := loadToml(path, &cfg); err != nil {
		return GazectlConfig{}, err
	}
	if cfg.Address == "" {
		cfg.Address = "127.0.0.1:4242"
	}
	if err := ValidateGazectlConfig(cfg); err != nil {
		return GazectlConfig{}, err
	}
	return cfg, nil
}

func LoadSimConfig(path string) (SimConfig, error) {
	var cfg SimConfig
	if err := loadToml(path, &cfg); err != nil {
		return SimConfig{}, err
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:4242"
	}
	if err := ValidateSimConfig(cfg); err != nil {
		return SimConfig{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateGazectlConfig(cfg GazectlConfig) error {
	if strings.TrimSpace(cfg.Address) == "" {
		return fmt.Errorf("gazectl config missing address")
	}
	durations := []struct {
		key, value string
	}{
		{"duration", cfg.Duration},
		{"connect_timeout", cfg.ConnectTimeout},
		{"read_timeout", cfg.ReadTimeout},
		{"write_timeout", cfg.WriteTimeout},
		{"stop_timeout", cfg.StopTimeout},
	}
	for _, d := range durations {
		if _, err := ParseDuration(d.value); err != nil {
			return fmt.Errorf("%s invalid: %w", d.key, err)
		}
	}
	if cfg.ReadBufferSize < 0 {
		return fmt.Errorf("read_buffer_size must not be negative")
	}
	if cfg.MaxTailBytes < 0 {
		return fmt.Errorf("max_tail_bytes must not be negative")
	}
	for i, id := range cfg.Enable {
		if _, err := protocol.Set(id, true); err != nil {
			return fmt.Errorf("enable[%d] invalid: %w", i, err)
		}
	}
	if cfg.Mirror.Enabled {
		if strings.TrimSpace(cfg.Mirror.Addr) == "" {
			return fmt.Errorf("mirror enabled without addr")
		}
		if cfg.Mirror.ListCap < 0 {
			return fmt.Errorf("mirror list_cap must not be negative")
		}
	}
	return nil
}

func ValidateSimConfig(cfg SimConfig) error {
	if strings.TrimSpace(cfg.Addr) == "" {
		return fmt.Errorf("gazesim config missing addr")
	}
	if _, err := ParseDuration(cfg.RecordInterval); err != nil {
		return fmt.Errorf("record_interval invalid: %w", err)
	}
	if _, err := ParseDuration(cfg.CalibrationDelay); err != nil {
		return fmt.Errorf("calibration_delay invalid: %w", err)
	}
	return nil
}

// ParseDuration treats an empty value as zero.
func ParseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %s", raw)
	}
	return d, nil
}
