// Package convo implements the interaction flow of a character as an
// explicit state machine: Greeting → AwaitingInput → Processing →
// Responding → AwaitingInput. State transitions drive the expressive-motion
// modules (a thinking face while processing, lip-sync while responding), and
// an in-flight exchange can be cancelled and resumed with fresh input.
//
// The dialogue backend behind [Responder] is out of scope here; anything
// that can turn input text into a [Reply] plugs in.
package convo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ostrem/visage/internal/modules/viseme"
)

// State identifies one phase of the interaction flow.
type State int

const (
	// StateGreeting is the initial phase before the character has
	// delivered its opening line.
	StateGreeting State = iota

	// StateAwaitingInput means the character is idle, waiting for input.
	StateAwaitingInput

	// StateProcessing means an exchange is in flight at the responder.
	StateProcessing

	// StateResponding means the reply is being performed (lip-sync,
	// expression).
	StateResponding
)

// String implements [fmt.Stringer].
func (s State) String() string {
	switch s {
	case StateGreeting:
		return "greeting"
	case StateAwaitingInput:
		return "awaiting_input"
	case StateProcessing:
		return "processing"
	case StateResponding:
		return "responding"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrBusy is returned by [Flow.Resume] when an exchange is already in
// flight. Cancel the current exchange first.
var ErrBusy = errors.New("convo: exchange already in flight")

// Reply is one response turn produced by a [Responder].
type Reply struct {
	// Text is the response text. Informational only at this layer.
	Text string

	// UtteranceID keys the lip-sync snippet for this reply.
	UtteranceID string

	// Phonemes drive the mouth while the reply plays. May be empty.
	Phonemes []viseme.Phoneme

	// Expression optionally names an emotion to apply with the reply.
	Expression string

	// ExpressionIntensity scales Expression. Zero means full intensity.
	ExpressionIntensity float64
}

// Responder produces a reply for user input. Implementations must honour
// ctx cancellation; a cancelled exchange returns the flow to awaiting input.
type Responder interface {
	Respond(ctx context.Context, input string) (Reply, error)
}

// Speaker performs the lip-sync part of a reply. Satisfied by
// [viseme.Module].
type Speaker interface {
	Speak(utteranceID string, phonemes []viseme.Phoneme) (string, error)
}

// Expresser applies a facial expression. Satisfied by the emotion module.
type Expresser interface {
	Apply(ctx context.Context, name string, intensity float64) (string, error)
}

// Flow is the interaction state machine. All exported methods are safe for
// concurrent use.
type Flow struct {
	responder Responder
	speaker   Speaker
	expresser Expresser

	thinkingExpr string
	onChange     func(from, to State)

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc // cancels the in-flight exchange, nil when idle
}

// Option configures a [Flow] during construction.
type Option func(*Flow)

// WithSpeaker wires the lip-sync performer for replies.
func WithSpeaker(s Speaker) Option {
	return func(f *Flow) { f.speaker = s }
}

// WithExpresser wires the expression performer for replies and the thinking
// face.
func WithExpresser(e Expresser) Option {
	return func(f *Flow) { f.expresser = e }
}

// WithThinkingExpression names the expression applied while an exchange is
// processing. Empty disables the thinking face.
func WithThinkingExpression(name string) Option {
	return func(f *Flow) { f.thinkingExpr = name }
}

// WithOnStateChange registers a hook fired on every transition. The hook is
// invoked outside the flow's lock and must not block for long.
func WithOnStateChange(fn func(from, to State)) Option {
	return func(f *Flow) { f.onChange = fn }
}

// New creates a Flow in [StateGreeting].
func New(responder Responder, opts ...Option) (*Flow, error) {
	if responder == nil {
		return nil, errors.New("convo: responder is required")
	}
	f := &Flow{responder: responder, state: StateGreeting}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// State returns the current state.
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Greet delivers the opening line by running one exchange with empty input,
// then settles in [StateAwaitingInput]. Calling Greet in any other state is
// an error.
func (f *Flow) Greet(ctx context.Context) error {
	f.mu.Lock()
	if f.state != StateGreeting {
		st := f.state
		f.mu.Unlock()
		return fmt.Errorf("convo: greet in state %v", st)
	}
	exCtx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	f.mu.Unlock()

	return f.exchange(exCtx, "")
}

// Resume feeds user input into the flow. Valid only in
// [StateAwaitingInput]; a flow still greeting must [Flow.Greet] first, and
// an in-flight exchange returns [ErrBusy]. The exchange runs synchronously:
// Resume returns once the reply has been performed, the exchange was
// cancelled, or the responder failed.
func (f *Flow) Resume(ctx context.Context, input string) error {
	f.mu.Lock()
	switch f.state {
	case StateAwaitingInput:
	case StateProcessing, StateResponding:
		f.mu.Unlock()
		return ErrBusy
	default:
		st := f.state
		f.mu.Unlock()
		return fmt.Errorf("convo: resume in state %v", st)
	}
	exCtx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	f.transitionLocked(StateProcessing)

	return f.exchange(exCtx, input)
}

// Cancel aborts the in-flight exchange, if any, returning the flow to
// [StateAwaitingInput]. Cancelling an idle flow is a no-op.
func (f *Flow) Cancel() {
	f.mu.Lock()
	cancel := f.cancel
	f.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// exchange runs one responder round trip and performs the reply. The caller
// has already stored the cancel func and, for Resume, moved to Processing.
func (f *Flow) exchange(ctx context.Context, input string) error {
	defer func() {
		f.mu.Lock()
		if f.cancel != nil {
			f.cancel()
			f.cancel = nil
		}
		f.transitionLocked(StateAwaitingInput)
	}()

	if f.thinkingExpr != "" && f.expresser != nil {
		if _, err := f.expresser.Apply(ctx, f.thinkingExpr, 0); err != nil {
			slog.Warn("convo: thinking expression failed", "expression", f.thinkingExpr, "error", err)
		}
	}

	reply, err := f.responder.Respond(ctx, input)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			slog.Info("convo: exchange cancelled")
			return nil
		}
		return fmt.Errorf("convo: respond: %w", err)
	}
	if err := ctx.Err(); err != nil {
		slog.Info("convo: exchange cancelled")
		return nil
	}

	f.mu.Lock()
	f.transitionLocked(StateResponding)

	return f.perform(ctx, reply)
}

// perform drives the motion modules for one reply. Failures in one performer
// do not block the other.
func (f *Flow) perform(ctx context.Context, reply Reply) error {
	var errs []error

	if reply.Expression != "" && f.expresser != nil {
		intensity := reply.ExpressionIntensity
		if intensity <= 0 {
			intensity = 1
		}
		if _, err := f.expresser.Apply(ctx, reply.Expression, intensity); err != nil {
			errs = append(errs, fmt.Errorf("convo: apply expression %q: %w", reply.Expression, err))
		}
	}

	if len(reply.Phonemes) > 0 && f.speaker != nil {
		id := reply.UtteranceID
		if id == "" {
			id = "reply"
		}
		if _, err := f.speaker.Speak(id, reply.Phonemes); err != nil {
			errs = append(errs, fmt.Errorf("convo: speak: %w", err))
		}
	}

	return errors.Join(errs...)
}

// transitionLocked moves to next and fires the change hook outside the lock.
// Must be called with f.mu held; it releases and does not reacquire it.
func (f *Flow) transitionLocked(next State) {
	from := f.state
	f.state = next
	hook := f.onChange
	f.mu.Unlock()

	if from != next {
		slog.Debug("convo: state change", "from", from.String(), "to", next.String())
		if hook != nil {
			hook(from, next)
		}
	}
}
