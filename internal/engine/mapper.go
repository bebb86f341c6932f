package engine

import "sync"

// Route sends a share of a logical channel's value to one physical output.
type Route struct {
	// OutputID is the physical output — a blend-shape weight or a
	// bone-rotation component in the host runtime.
	OutputID string

	// Weight multiplies the channel value for this output. Weights are
	// runtime-adjustable (a morph-versus-bone blend slider) and are not part
	// of snippet data.
	Weight float64
}

// Output is one resolved (physical output, value) pair.
type Output struct {
	ID    string
	Value float64
}

// Axis pairs the two polarity half-channels of a bidirectional continuum
// (e.g. horizontal gaze) under one name. When the host exposes a dedicated
// axis setter the scheduler combines both halves into a single signed value;
// otherwise each half is dispatched through the generic per-channel path.
type Axis struct {
	Name string `yaml:"name" json:"name"`
	Neg  string `yaml:"neg" json:"neg"`
	Pos  string `yaml:"pos" json:"pos"`
}

// Mapper resolves a logical channel to its physical outputs. Channels with
// no configured routes pass through unchanged (identity mapping). Safe for
// concurrent use: route weights may be adjusted at runtime while ticks run.
type Mapper struct {
	mu     sync.RWMutex
	routes map[string][]Route
}

// NewMapper returns an empty mapper: every channel passes through as-is.
func NewMapper() *Mapper {
	return &Mapper{routes: make(map[string][]Route)}
}

// SetRoutes configures channel as a composite mapped onto the given routes,
// replacing any prior mapping. An empty route list restores identity
// passthrough.
func (m *Mapper) SetRoutes(channel string, routes ...Route) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(routes) == 0 {
		delete(m.routes, channel)
		return
	}
	m.routes[channel] = append([]Route(nil), routes...)
}

// SetWeight adjusts the mix weight of one existing route. Unknown channels
// or outputs are ignored.
func (m *Mapper) SetWeight(channel, outputID string, weight float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.routes[channel] {
		if r.OutputID == outputID {
			m.routes[channel][i].Weight = weight
		}
	}
}

// Resolve maps a blended channel value onto physical outputs. Non-composite
// channels yield a single identity entry.
func (m *Mapper) Resolve(channel string, value float64) []Output {
	m.mu.RLock()
	routes, ok := m.routes[channel]
	m.mu.RUnlock()
	if !ok {
		return []Output{{ID: channel, Value: value}}
	}
	out := make([]Output, len(routes))
	for i, r := range routes {
		out[i] = Output{ID: r.OutputID, Value: value * r.Weight}
	}
	return out
}

// Routes returns a copy of the configured routes for channel, or nil for an
// identity channel.
func (m *Mapper) Routes(channel string) []Route {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if rs, ok := m.routes[channel]; ok {
		return append([]Route(nil), rs...)
	}
	return nil
}
