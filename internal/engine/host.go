package engine

import "time"

// Host is the boundary to the external character runtime. The scheduler
// pushes one ApplyChannel call per physical output per tick and notifies
// natural snippet completion through SnippetEnded.
//
// Optional fast paths are discovered by interface assertion ([AxisSetter],
// [ChannelTransitioner], [AxisTransitioner]); a host that implements none of
// them still receives every value through the generic per-channel path.
// Missing capabilities are a degrade, never an error.
type Host interface {
	// ApplyChannel delivers the final blended value for one physical output.
	ApplyChannel(id string, value float64) error

	// SnippetEnded notifies that the named snippet exhausted its timeline.
	// It fires exactly once per natural expiry and never for snippets that
	// were explicitly removed or replaced.
	SnippetEnded(name string)
}

// AxisSetter is an optional [Host] capability: a dedicated setter for a
// named bidirectional continuum axis. When present, the scheduler folds both
// polarity half-channels of a registered axis into a single signed value
// instead of dispatching each half independently.
type AxisSetter interface {
	SetAxis(name string, value float64) error
}

// ChannelTransitioner is an optional [Host] capability for one-shot eased
// nudges on a channel, outside the curve system.
type ChannelTransitioner interface {
	TransitionChannel(id string, target float64, d time.Duration) error
}

// AxisTransitioner is the axis counterpart of [ChannelTransitioner].
type AxisTransitioner interface {
	TransitionAxis(name string, target float64, d time.Duration) error
}

// NopHost is a [Host] that discards everything. Useful headless and in
// tests that only exercise scheduling.
type NopHost struct{}

func (NopHost) ApplyChannel(string, float64) error { return nil }
func (NopHost) SnippetEnded(string)                {}
