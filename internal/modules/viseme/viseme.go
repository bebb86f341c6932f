// Package viseme turns timed phoneme sequences into lip-sync snippets: one
// attack/hold/release envelope per phoneme on the phoneme class's mouth
// channel, plus a derived jaw-opening curve clamped to a configured maximum.
package viseme

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ostrem/visage/internal/engine"
	"github.com/ostrem/visage/internal/modules"
)

// ModuleID is the registry identifier.
const ModuleID = "viseme"

// PhonemeClass groups phonemes by mouth shape.
type PhonemeClass string

const (
	Plosive    PhonemeClass = "plosive"
	Fricative  PhonemeClass = "fricative"
	Nasal      PhonemeClass = "nasal"
	Liquid     PhonemeClass = "liquid"
	ShortVowel PhonemeClass = "shortVowel"
	LongVowel  PhonemeClass = "longVowel"
)

// IsValid reports whether c is a recognised phoneme class.
func (c PhonemeClass) IsValid() bool {
	switch c {
	case Plosive, Fricative, Nasal, Liquid, ShortVowel, LongVowel:
		return true
	}
	return false
}

// channelFor maps a phoneme class to its mouth channel.
var channelFor = map[PhonemeClass]string{
	Plosive:    "mouth.press",
	Fricative:  "mouth.funnel",
	Nasal:      "mouth.close",
	Liquid:     "mouth.round",
	ShortVowel: "mouth.open",
	LongVowel:  "mouth.wide",
}

// defaultJawWeights is the jaw-opening contribution per class on the stored
// 0–100 scale, before the configured maximum clamps it.
var defaultJawWeights = map[PhonemeClass]float64{
	Plosive:    10,
	Fricative:  15,
	Nasal:      10,
	Liquid:     25,
	ShortVowel: 55,
	LongVowel:  70,
}

// Phoneme is one timed segment of an utterance.
type Phoneme struct {
	Class    PhonemeClass
	Duration time.Duration
}

// Config holds the tunable lip-sync parameters.
type Config struct {
	// Attack is how long a viseme takes to reach full intensity after its
	// segment starts. Default 20ms.
	Attack time.Duration

	// Gap is the silence inserted between consecutive phoneme segments.
	// Default 20ms.
	Gap time.Duration

	// JawMax caps the derived jaw-opening intensity on the 0–100 scale.
	// Default 60. Runtime-adjustable via [Module.SetJawMax].
	JawMax float64

	// Priority for generated snippets. Default 10 (below gaze, above
	// prosody).
	Priority int
}

func (c *Config) applyDefaults() {
	if c.Attack <= 0 {
		c.Attack = 20 * time.Millisecond
	}
	if c.Gap <= 0 {
		c.Gap = 20 * time.Millisecond
	}
	if c.JawMax <= 0 {
		c.JawMax = 60
	}
	if c.Priority == 0 {
		c.Priority = 10
	}
}

// Module generates lip-sync snippets. Create via [Factory].
type Module struct {
	sched *engine.Scheduler

	mu     sync.Mutex
	cfg    Config
	active map[string]struct{} // snippet names this module owns
	unsub  func()
}

var _ modules.Module = (*Module)(nil)

// Factory returns a module factory for the given config, for registration in
// the [modules.Registry].
func Factory(cfg Config) modules.Factory {
	return func(deps modules.Deps) (modules.Module, error) {
		if deps.Sched == nil {
			return nil, fmt.Errorf("viseme: scheduler is required")
		}
		cfg.applyDefaults()
		return &Module{
			sched:  deps.Sched,
			cfg:    cfg,
			active: make(map[string]struct{}),
		}, nil
	}
}

// ID implements [modules.Module].
func (m *Module) ID() string { return ModuleID }

// Start subscribes to engine events so finished utterances are forgotten.
func (m *Module) Start(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unsub = m.sched.Subscribe(func(ev engine.Event) {
		if ev.Kind != engine.EventEnded && ev.Kind != engine.EventRemoved {
			return
		}
		m.mu.Lock()
		delete(m.active, ev.Name)
		m.mu.Unlock()
	})
	return nil
}

// Stop removes all in-flight utterance snippets.
func (m *Module) Stop() error {
	m.mu.Lock()
	if m.unsub != nil {
		m.unsub()
		m.unsub = nil
	}
	names := make([]string, 0, len(m.active))
	for name := range m.active {
		names = append(names, name)
	}
	m.active = make(map[string]struct{})
	m.mu.Unlock()

	for _, name := range names {
		m.sched.Registry().Remove(name)
	}
	return nil
}

// SetJawMax adjusts the jaw-opening cap at runtime (config hot-reload).
func (m *Module) SetJawMax(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v > 0 {
		m.cfg.JawMax = v
	}
}

// Speak builds and schedules the lip-sync snippet for one utterance. The
// snippet is named "speech/<utteranceID>" so a re-spoken utterance replaces
// its predecessor. Returns the scheduled snippet name.
func (m *Module) Speak(utteranceID string, phonemes []Phoneme) (string, error) {
	if len(phonemes) == 0 {
		return "", fmt.Errorf("viseme: utterance %q has no phonemes", utteranceID)
	}
	for i, p := range phonemes {
		if !p.Class.IsValid() {
			return "", fmt.Errorf("viseme: phoneme %d has unknown class %q", i, p.Class)
		}
		if p.Duration <= 0 {
			return "", fmt.Errorf("viseme: phoneme %d has non-positive duration", i)
		}
	}

	m.mu.Lock()
	cfg := m.cfg
	m.mu.Unlock()

	sn := buildSnippet(utteranceID, phonemes, cfg)
	name, err := m.sched.Registry().Schedule(sn)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	m.active[name] = struct{}{}
	m.mu.Unlock()
	return name, nil
}

// buildSnippet lays the phoneme envelopes onto per-class channels and
// derives the jaw curve. Segment k starts at sum of prior durations plus k
// gaps; each envelope rises to 100 within the attack window and decays to 0
// by its segment end.
func buildSnippet(utteranceID string, phonemes []Phoneme, cfg Config) engine.Snippet {
	curves := make(map[string]engine.Curve)
	var jaw engine.Curve

	cursor := 0.0
	for i, p := range phonemes {
		dur := p.Duration.Seconds()
		attack := cfg.Attack.Seconds()
		if attack > dur/2 {
			attack = dur / 2
		}
		start, peak, end := cursor, cursor+attack, cursor+dur

		ch := channelFor[p.Class]
		curves[ch] = append(curves[ch],
			engine.Keyframe{Time: start, Intensity: 0},
			engine.Keyframe{Time: peak, Intensity: 100},
			engine.Keyframe{Time: end, Intensity: 0},
		)

		jawPeak := defaultJawWeights[p.Class]
		if jawPeak > cfg.JawMax {
			jawPeak = cfg.JawMax
		}
		jaw = append(jaw,
			engine.Keyframe{Time: start, Intensity: 0},
			engine.Keyframe{Time: peak, Intensity: jawPeak},
			engine.Keyframe{Time: end, Intensity: 0},
		)

		cursor = end
		if i < len(phonemes)-1 {
			cursor += cfg.Gap.Seconds()
		}
	}
	curves["jaw.open"] = jaw

	return engine.Snippet{
		Name:           "speech/" + utteranceID,
		Category:       "lipsync",
		Priority:       cfg.Priority,
		IntensityScale: 0.01, // generated curves use the stored 0–100 scale
		MaxTime:        cursor,
		Curves:         curves,
	}
}
