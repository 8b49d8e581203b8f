package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/gazectl/internal/config"
	"github.com/danmuck/gazectl/internal/tracker"
)

// runtimeConfig is everything gazectl needs after file and flags are merged.
type runtimeConfig struct {
	Tracker     tracker.Config
	Output      string
	Duration    time.Duration
	Listen      string
	CorsOrigins []string
	Token       string
}

func defaultRuntimeConfig() runtimeConfig {
	return runtimeConfig{Tracker: tracker.DefaultConfig()}
}

// loadRuntimeConfig overlays the keys present in path onto the defaults. The
// file schema and its validation are shared with configgen.
func loadRuntimeConfig(path string) (runtimeConfig, error) {
	cfg := defaultRuntimeConfig()

	var raw config.GazectlConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return runtimeConfig{}, fmt.Errorf("load gazectl config: %w", err)
	}
	if meta.IsDefined("address") && strings.TrimSpace(raw.Address) != "" {
		cfg.Tracker.Address = strings.TrimSpace(raw.Address)
	}
	check := raw
	check.Address = cfg.Tracker.Address
	if err := config.ValidateGazectlConfig(check); err != nil {
		return runtimeConfig{}, fmt.Errorf("validate gazectl config: %w", err)
	}

	if meta.IsDefined("output") {
		cfg.Output = strings.TrimSpace(raw.Output)
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"duration", raw.Duration, &cfg.Duration},
		{"connect_timeout", raw.ConnectTimeout, &cfg.Tracker.ConnectTimeout},
		{"read_timeout", raw.ReadTimeout, &cfg.Tracker.ReadTimeout},
		{"write_timeout", raw.WriteTimeout, &cfg.Tracker.WriteTimeout},
		{"stop_timeout", raw.StopTimeout, &cfg.Tracker.StopTimeout},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) || strings.TrimSpace(d.raw) == "" {
			continue
		}
		v, err := config.ParseDuration(d.raw)
		if err != nil {
			return runtimeConfig{}, fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}

	if meta.IsDefined("read_buffer_size") {
		cfg.Tracker.ReadBufferSize = raw.ReadBufferSize
	}
	if meta.IsDefined("max_tail_bytes") {
		cfg.Tracker.MaxTailBytes = raw.MaxTailBytes
	}
	if meta.IsDefined("skip_calibration") {
		cfg.Tracker.SkipCalibration = raw.SkipCalibration
	}
	if meta.IsDefined("enable") {
		cfg.Tracker.EnableIDs = normalizeIDs(raw.Enable)
	}

	if meta.IsDefined("control", "listen") {
		cfg.Listen = strings.TrimSpace(raw.Control.Listen)
	}
	if meta.IsDefined("control", "cors_origins") {
		cfg.CorsOrigins = raw.Control.CorsOrigins
	}
	if meta.IsDefined("control", "token") {
		cfg.Token = strings.TrimSpace(raw.Control.Token)
	}

	m := &cfg.Tracker.Mirror
	if meta.IsDefined("mirror", "enabled") {
		m.Enabled = raw.Mirror.Enabled
	}
	if meta.IsDefined("mirror", "addr") {
		m.Addr = strings.TrimSpace(raw.Mirror.Addr)
	}
	if meta.IsDefined("mirror", "password") {
		m.Password = raw.Mirror.Password
	}
	if meta.IsDefined("mirror", "db") {
		m.DB = raw.Mirror.DB
	}
	if meta.IsDefined("mirror", "channel") {
		m.Channel = strings.TrimSpace(raw.Mirror.Channel)
	}
	if meta.IsDefined("mirror", "list_key") {
		m.ListKey = strings.TrimSpace(raw.Mirror.ListKey)
	}
	if meta.IsDefined("mirror", "list_cap") {
		m.ListCap = raw.Mirror.ListCap
	}

	return cfg, nil
}

func normalizeIDs(in []string) []string {
	out := make([]string, 0, len(in))
	for _, id := range in {
		v := strings.TrimSpace(id)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
