package engine

import (
	"errors"
	"fmt"
	"math"
)

// ErrEmptyCurve is returned when a snippet carries a curve with no keyframes.
var ErrEmptyCurve = errors.New("engine: curve has no keyframes")

// ErrUnsortedCurve is returned when a curve's keyframe times are not
// non-decreasing.
var ErrUnsortedCurve = errors.New("engine: curve keyframes are not sorted by time")

// Keyframe is a single (time, intensity) sample on a curve. Time is in
// seconds from the start of the owning snippet.
type Keyframe struct {
	Time      float64 `json:"time"`
	Intensity float64 `json:"intensity"`
}

// Curve is an ordered sequence of keyframes describing one channel's value
// over a snippet's timeline. Keyframe times must be non-decreasing; this is
// checked once by [Curve.Validate] when the snippet is scheduled, never
// during evaluation.
type Curve []Keyframe

// Validate checks that the curve is non-empty, its keyframe times are
// non-decreasing, and all samples are finite.
func (c Curve) Validate() error {
	if len(c) == 0 {
		return ErrEmptyCurve
	}
	prev := math.Inf(-1)
	for i, k := range c {
		if math.IsNaN(k.Time) || math.IsInf(k.Time, 0) || math.IsNaN(k.Intensity) || math.IsInf(k.Intensity, 0) {
			return fmt.Errorf("engine: keyframe %d is not finite (time=%v, intensity=%v)", i, k.Time, k.Intensity)
		}
		if k.Time < 0 {
			return fmt.Errorf("engine: keyframe %d has negative time %v", i, k.Time)
		}
		if k.Time < prev {
			return fmt.Errorf("%w: keyframe %d at %vs follows %vs", ErrUnsortedCurve, i, k.Time, prev)
		}
		prev = k.Time
	}
	return nil
}

// Eval returns the curve's intensity at time t.
//
// Before the first keyframe the first intensity is returned; at or after the
// last keyframe the last intensity is held. Between two keyframes the result
// is the exact linear interpolation. Eval assumes the curve already passed
// [Curve.Validate] and is stateless.
func (c Curve) Eval(t float64) float64 {
	if len(c) == 0 {
		return 0
	}
	if t <= c[0].Time {
		return c[0].Intensity
	}
	last := c[len(c)-1]
	if t >= last.Time {
		return last.Intensity
	}
	// Find the segment [i-1, i] containing t. Curves are short (a handful of
	// keyframes per viseme or gaze ramp), so a linear scan beats a binary
	// search in practice.
	for i := 1; i < len(c); i++ {
		if t >= c[i].Time {
			continue
		}
		a, b := c[i-1], c[i]
		if b.Time == a.Time {
			return b.Intensity
		}
		frac := (t - a.Time) / (b.Time - a.Time)
		return a.Intensity + (b.Intensity-a.Intensity)*frac
	}
	return last.Intensity
}
