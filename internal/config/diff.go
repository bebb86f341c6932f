package config

import "reflect"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; anything else
// (listen address, store backend, module list) requires a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// JawMaxChanged is set when viseme.jaw_max changed.
	JawMaxChanged bool
	NewJawMax     float64

	// GazeDurationsChanged is set when either gaze transition bound changed.
	GazeDurationsChanged bool
	NewGazeMinMs         int
	NewGazeMaxMs         int

	// MapperChanged is set when composite routes or weights changed.
	MapperChanged bool
	NewComposites []CompositeConfig
}

// Any reports whether the diff carries at least one change.
func (d ConfigDiff) Any() bool {
	return d.LogLevelChanged || d.JawMaxChanged || d.GazeDurationsChanged || d.MapperChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Viseme.JawMax != new.Viseme.JawMax {
		d.JawMaxChanged = true
		d.NewJawMax = new.Viseme.JawMax
	}

	if old.Gaze != new.Gaze {
		d.GazeDurationsChanged = true
		d.NewGazeMinMs = new.Gaze.MinDurationMs
		d.NewGazeMaxMs = new.Gaze.MaxDurationMs
	}

	if !reflect.DeepEqual(old.Mapper.Composites, new.Mapper.Composites) {
		d.MapperChanged = true
		d.NewComposites = new.Mapper.Composites
	}

	return d
}
