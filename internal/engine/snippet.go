// Package engine implements the animation-curve scheduling and
// priority-blending core: time-bounded snippets of per-channel keyframe
// curves are scheduled by independent producers (lip-sync, gaze, prosody,
// emotion), advanced by an externally driven frame tick, blended per channel
// by priority, and dispatched through a composite output mapper to a host
// adapter that owns the actual character runtime.
//
// The engine performs no internal timing and starts no goroutines. It is
// advanced exclusively by [Scheduler.Tick].
package engine

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidSnippet wraps all snippet validation failures from
// [Registry.Schedule].
var ErrInvalidSnippet = errors.New("engine: invalid snippet")

// Default metadata applied by [Registry.Schedule] when the corresponding
// snippet field is unset.
const (
	DefaultCategory = "misc"

	DefaultPlaybackRate   = 1.0
	DefaultIntensityScale = 1.0
)

// Snippet is a named, time-bounded bundle of per-channel animation curves.
//
// The JSON field names are the wire format used by stored snippet files and
// by producers scheduling over the websocket host boundary. Stored files
// conventionally use a 0–100 intensity scale and set IntensityScale to 0.01;
// live producers that already work in 0–1 leave it at 1. The engine never
// assumes a fixed range — the scale is a property of the producer.
type Snippet struct {
	// Name is the unique key within the active set. Scheduling a snippet
	// whose name is already active atomically replaces the prior instance.
	Name string `json:"name"`

	// Description is free-form documentation carried by stored files.
	Description string `json:"description,omitempty"`

	// Category tags the producer (e.g. "gaze", "lipsync", "prosody",
	// "emotion"). Defaults to [DefaultCategory].
	Category string `json:"snippetCategory,omitempty"`

	// Priority decides contention on a shared channel; higher wins.
	// Convention: gaze/head tracking 15–20, lip-sync visemes 10, prosodic
	// pulses 5, emotion and baselines 0–5.
	Priority int `json:"snippetPriority,omitempty"`

	// PlaybackRate multiplies elapsed time. Zero means unset; defaults to 1.
	PlaybackRate float64 `json:"snippetPlaybackRate,omitempty"`

	// IntensityScale multiplies every evaluated curve value. Zero means
	// unset; defaults to 1.
	IntensityScale float64 `json:"snippetIntensityScale,omitempty"`

	// Loop wraps the playhead modulo MaxTime; a looping snippet never
	// expires on its own.
	Loop bool `json:"loop,omitempty"`

	// MaxTime is the total duration in seconds. Must be positive and finite.
	MaxTime float64 `json:"maxTime"`

	// Curves maps a channel identifier to its keyframe curve. Every curve
	// must be non-empty with non-decreasing times.
	Curves map[string]Curve `json:"curves"`
}

// Validate checks the snippet for schedulability: a name, a positive finite
// duration, and at least one valid curve. All failures are joined so a
// producer sees every problem at once.
func (s *Snippet) Validate() error {
	var errs []error
	if s.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if s.MaxTime <= 0 || math.IsNaN(s.MaxTime) || math.IsInf(s.MaxTime, 0) {
		errs = append(errs, fmt.Errorf("maxTime %v is not a positive finite duration", s.MaxTime))
	}
	if s.PlaybackRate < 0 {
		errs = append(errs, fmt.Errorf("playbackRate %v is negative", s.PlaybackRate))
	}
	if len(s.Curves) == 0 {
		errs = append(errs, errors.New("snippet has no curves"))
	}
	for ch, c := range s.Curves {
		if err := c.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("curve %q: %w", ch, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidSnippet, errors.Join(errs...))
	}
	return nil
}

// applyDefaults fills unset metadata in place.
func (s *Snippet) applyDefaults() {
	if s.Category == "" {
		s.Category = DefaultCategory
	}
	if s.PlaybackRate == 0 {
		s.PlaybackRate = DefaultPlaybackRate
	}
	if s.IntensityScale == 0 {
		s.IntensityScale = DefaultIntensityScale
	}
}

// Channels returns the channel identifiers the snippet contributes to.
func (s *Snippet) Channels() []string {
	out := make([]string, 0, len(s.Curves))
	for ch := range s.Curves {
		out = append(out, ch)
	}
	return out
}
