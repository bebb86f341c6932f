package app

import (
	"context"
	"errors"

	"github.com/ostrem/visage/internal/engine"
	"github.com/ostrem/visage/internal/hostws"
	"github.com/ostrem/visage/internal/modules/viseme"
)

// errNoModule formats the shared module-not-enabled error text.
func errNoModule(id string) error {
	return errors.New("app: module " + id + " is not enabled")
}

// errNoResponder rejects "input" commands when no conversation responder is
// configured.
var errNoResponder = errors.New("app: no conversation responder configured")

// commandHandler routes host commands into the scheduler and the producer
// modules.
type commandHandler struct {
	a *App
}

var _ hostws.CommandHandler = (*commandHandler)(nil)

// Schedule implements [hostws.CommandHandler].
func (h *commandHandler) Schedule(_ context.Context, sn engine.Snippet) (string, error) {
	return h.a.sched.Registry().Schedule(sn)
}

// Remove implements [hostws.CommandHandler].
func (h *commandHandler) Remove(_ context.Context, name string) bool {
	reg := h.a.sched.Registry()
	_, active := reg.Get(name)
	reg.Remove(name)
	return active
}

// Gaze implements [hostws.CommandHandler].
func (h *commandHandler) Gaze(_ context.Context, axis string, value float64) error {
	if h.a.gazeMod == nil {
		return errNoModule("gaze")
	}
	return h.a.gazeMod.LookAxis(axis, value)
}

// Say implements [hostws.CommandHandler].
func (h *commandHandler) Say(_ context.Context, utteranceID string, phonemes []viseme.Phoneme) error {
	if h.a.visemeMod == nil {
		return errNoModule("viseme")
	}
	_, err := h.a.visemeMod.Speak(utteranceID, phonemes)
	return err
}

// Express implements [hostws.CommandHandler].
func (h *commandHandler) Express(ctx context.Context, name string, intensity float64) error {
	if h.a.emotionMod == nil {
		return errNoModule("emotion")
	}
	_, err := h.a.emotionMod.Apply(ctx, name, intensity)
	return err
}

// Input implements [hostws.CommandHandler].
func (h *commandHandler) Input(ctx context.Context, text string) error {
	if h.a.flow == nil {
		return errNoResponder
	}
	return h.a.flow.Resume(ctx, text)
}
