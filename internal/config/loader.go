package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// KnownModules lists the module IDs compiled into the server. Used by
// [Validate] to warn about unrecognised entries in the modules list.
var KnownModules = []string{"viseme", "gaze", "emotion", "prosody"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Engine
	if cfg.Engine.TickRate < 0 {
		errs = append(errs, fmt.Errorf("engine.tick_rate %d must not be negative", cfg.Engine.TickRate))
	}
	if cfg.Engine.TickRate > 1000 {
		errs = append(errs, fmt.Errorf("engine.tick_rate %d is out of range (0, 1000]", cfg.Engine.TickRate))
	}
	if cfg.Engine.MaxIntensity < 0 {
		errs = append(errs, fmt.Errorf("engine.max_intensity %.2f must not be negative", cfg.Engine.MaxIntensity))
	}

	// Viseme
	if cfg.Viseme.AttackMs < 0 {
		errs = append(errs, fmt.Errorf("viseme.attack_ms %d must not be negative", cfg.Viseme.AttackMs))
	}
	if cfg.Viseme.GapMs < 0 {
		errs = append(errs, fmt.Errorf("viseme.gap_ms %d must not be negative", cfg.Viseme.GapMs))
	}
	if cfg.Viseme.JawMax < 0 || cfg.Viseme.JawMax > 100 {
		errs = append(errs, fmt.Errorf("viseme.jaw_max %.2f is out of range [0, 100]", cfg.Viseme.JawMax))
	}

	// Gaze
	if cfg.Gaze.MinDurationMs < 0 {
		errs = append(errs, fmt.Errorf("gaze.min_duration_ms %d must not be negative", cfg.Gaze.MinDurationMs))
	}
	if cfg.Gaze.MaxDurationMs < 0 {
		errs = append(errs, fmt.Errorf("gaze.max_duration_ms %d must not be negative", cfg.Gaze.MaxDurationMs))
	}
	if cfg.Gaze.MinDurationMs > 0 && cfg.Gaze.MaxDurationMs > 0 && cfg.Gaze.MinDurationMs > cfg.Gaze.MaxDurationMs {
		errs = append(errs, fmt.Errorf("gaze.min_duration_ms %d exceeds gaze.max_duration_ms %d", cfg.Gaze.MinDurationMs, cfg.Gaze.MaxDurationMs))
	}

	// Mapper composites
	channelsSeen := make(map[string]int, len(cfg.Mapper.Composites))
	for i, comp := range cfg.Mapper.Composites {
		prefix := fmt.Sprintf("mapper.composites[%d]", i)
		if comp.Channel == "" {
			errs = append(errs, fmt.Errorf("%s.channel is required", prefix))
		} else {
			if prev, ok := channelsSeen[comp.Channel]; ok {
				errs = append(errs, fmt.Errorf("%s.channel %q is a duplicate of mapper.composites[%d]", prefix, comp.Channel, prev))
			}
			channelsSeen[comp.Channel] = i
		}
		if len(comp.Outputs) == 0 {
			errs = append(errs, fmt.Errorf("%s.outputs must not be empty", prefix))
		}
		for j, out := range comp.Outputs {
			if out.ID == "" {
				errs = append(errs, fmt.Errorf("%s.outputs[%d].id is required", prefix, j))
			}
			if out.Weight < 0 || out.Weight > 1 {
				errs = append(errs, fmt.Errorf("%s.outputs[%d].weight %.2f is out of range [0, 1]", prefix, j, out.Weight))
			}
		}
	}

	// Mapper axes
	axesSeen := make(map[string]int, len(cfg.Mapper.Axes))
	for i, axis := range cfg.Mapper.Axes {
		prefix := fmt.Sprintf("mapper.axes[%d]", i)
		if axis.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := axesSeen[axis.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of mapper.axes[%d]", prefix, axis.Name, prev))
			}
			axesSeen[axis.Name] = i
		}
		if axis.Neg == "" || axis.Pos == "" {
			errs = append(errs, fmt.Errorf("%s requires both neg and pos half-channels", prefix))
		}
	}

	// Store availability warning only — the in-memory fallback is valid.
	if cfg.Store.PostgresDSN == "" && cfg.Store.SnippetDir == "" && slices.Contains(cfg.Modules, "emotion") {
		slog.Warn("store is empty and no snippet_dir is configured; the emotion module will have no expression library")
	}

	// Modules
	for _, id := range cfg.Modules {
		if !slices.Contains(KnownModules, id) {
			slog.Warn("unknown module id — may be a typo",
				"module", id,
				"known", KnownModules,
			)
		}
	}

	return errors.Join(errs...)
}
