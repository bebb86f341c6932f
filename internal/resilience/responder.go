package resilience

import (
	"context"

	"github.com/ostrem/visage/internal/convo"
)

// ResponderFallback implements [convo.Responder] with automatic failover
// across multiple response backends. Each backend has its own circuit
// breaker; when the primary fails or its breaker is open, the next healthy
// fallback is tried. Useful when the conversational backend is a remote
// service that may degrade while the animation loop must keep answering.
type ResponderFallback struct {
	group *FallbackGroup[convo.Responder]
}

// Compile-time interface assertion.
var _ convo.Responder = (*ResponderFallback)(nil)

// NewResponderFallback creates a [ResponderFallback] with primary as the
// preferred backend.
func NewResponderFallback(primary convo.Responder, primaryName string, cfg FallbackConfig) *ResponderFallback {
	return &ResponderFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional responder as a fallback.
func (f *ResponderFallback) AddFallback(name string, r convo.Responder) {
	f.group.AddFallback(name, r)
}

// Respond asks the first healthy backend for a reply. If the primary fails,
// subsequent fallbacks are tried in registration order. A cancelled context
// surfaces as the context error so the flow treats it as a cancellation, not
// a backend failure.
func (f *ResponderFallback) Respond(ctx context.Context, input string) (convo.Reply, error) {
	reply, err := ExecuteWithResult(f.group, func(r convo.Responder) (convo.Reply, error) {
		return r.Respond(ctx, input)
	})
	if err != nil && ctx.Err() != nil {
		return convo.Reply{}, ctx.Err()
	}
	return reply, err
}
