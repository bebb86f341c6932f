package engine

import (
	"math"
	"sort"
)

// Contribution is one snippet's evaluated value on a channel for the current
// tick, along with the metadata the blender needs to order it.
type Contribution struct {
	// Priority orders contention; higher is blended first.
	Priority int

	// Category tags the producer. Carried for blenders that want
	// category-aware rules; the default blender ignores it.
	Category string

	// Seq is the schedule order of the owning snippet. Breaks priority ties:
	// most recently scheduled wins.
	Seq uint64

	// Value is evaluate(curve, playhead) × intensityScale.
	Value float64
}

// Blender combines all contributions to one channel into a single output
// value. Implementations must be deterministic and stateless across ticks.
//
// The blending arithmetic is deliberately pluggable: the priority ordering
// (gaze above visemes above prosody above emotion) is settled convention,
// the combination formula is not.
type Blender interface {
	Blend(channel string, contribs []Contribution) float64
}

// PriorityComposite is the default [Blender]: priority-ordered alpha
// compositing. Contributions are processed in descending (priority, seq)
// order while an accumulated-coverage fraction grows from 0; each
// contribution adds value × (1 − coverage) to the result and raises coverage
// by min(1, value/MaxIntensity).
//
// A high-priority snippet at full value therefore owns the channel outright,
// while a small or zero high-priority value leaves headroom for
// lower-priority snippets to show through — gaze briefly idle lets a
// prosodic nod come out.
type PriorityComposite struct {
	// MaxIntensity is the value treated as full coverage. 1.0 for the
	// engine's normalized scale.
	MaxIntensity float64
}

var _ Blender = PriorityComposite{}

// Blend implements [Blender]. contribs may be reordered in place.
func (p PriorityComposite) Blend(_ string, contribs []Contribution) float64 {
	maxI := p.MaxIntensity
	if maxI <= 0 {
		maxI = 1
	}

	sort.Slice(contribs, func(i, j int) bool {
		if contribs[i].Priority != contribs[j].Priority {
			return contribs[i].Priority > contribs[j].Priority
		}
		return contribs[i].Seq > contribs[j].Seq
	})

	var out, coverage float64
	for _, c := range contribs {
		if coverage >= 1 {
			break
		}
		v := c.Value
		out += v * (1 - coverage)
		coverage = math.Min(1, coverage+math.Min(1, math.Abs(v)/maxI))
	}
	return out
}

// mod is a non-negative floating-point modulus; math.Mod keeps the sign of
// the dividend, which is wrong for a wrapped playhead.
func mod(x, y float64) float64 {
	m := math.Mod(x, y)
	if m < 0 {
		m += y
	}
	return m
}
