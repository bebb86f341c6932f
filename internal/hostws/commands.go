package hostws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ostrem/visage/internal/engine"
	"github.com/ostrem/visage/internal/modules/viseme"
	"github.com/ostrem/visage/internal/observe"
)

// CommandHandler receives decoded host commands. The application wires this
// to the scheduler and the producer modules.
type CommandHandler interface {
	// Schedule starts (or replaces) a snippet and returns its instance ID.
	Schedule(ctx context.Context, sn engine.Snippet) (string, error)

	// Remove stops the named snippet. Reports whether it was active.
	Remove(ctx context.Context, name string) bool

	// Gaze retargets one signed axis to value in [-1, 1].
	Gaze(ctx context.Context, axis string, value float64) error

	// Say lip-syncs a phoneme sequence under the given utterance ID.
	Say(ctx context.Context, utteranceID string, phonemes []viseme.Phoneme) error

	// Express applies a named expression at the given intensity.
	Express(ctx context.Context, name string, intensity float64) error

	// Input feeds user text into the conversation flow.
	Input(ctx context.Context, text string) error
}

// command is the inbound wire envelope. Exactly one payload group is read,
// selected by Command.
type command struct {
	Command string `json:"command"`

	// schedule
	Snippet *engine.Snippet `json:"snippet,omitempty"`

	// remove
	Name string `json:"name,omitempty"`

	// gaze
	Axis  string  `json:"axis,omitempty"`
	Value float64 `json:"value,omitempty"`

	// say
	UtteranceID string       `json:"utteranceId,omitempty"`
	Phonemes    []phonemeMsg `json:"phonemes,omitempty"`

	// expression (reuses Name)
	Intensity float64 `json:"intensity,omitempty"`

	// input
	Text string `json:"text,omitempty"`
}

// phonemeMsg is the wire form of one phoneme.
type phonemeMsg struct {
	Class      string `json:"class"`
	DurationMs int    `json:"durationMs"`
}

// Reply is the per-command response envelope.
type Reply struct {
	Type    string `json:"type"` // "ack" or "error"
	Command string `json:"command"`
	ID      string `json:"id,omitempty"`
	Removed *bool  `json:"removed,omitempty"`
	Error   string `json:"error,omitempty"`
}

func ack(cmd string) Reply { return Reply{Type: "ack", Command: cmd} }

func fail(cmd string, err error) Reply {
	return Reply{Type: "error", Command: cmd, Error: err.Error()}
}

// dispatch decodes one inbound message and runs it against the handler.
// Each command runs in its own span; failures are logged with the trace
// correlation attached.
func (s *Server) dispatch(ctx context.Context, data []byte) Reply {
	var cmd command
	if err := json.Unmarshal(data, &cmd); err != nil {
		s.metrics.RecordCommand(ctx, "unknown", "error")
		return fail("", fmt.Errorf("decode command: %w", err))
	}
	if s.handler == nil {
		s.metrics.RecordCommand(ctx, cmd.Command, "error")
		return fail(cmd.Command, errors.New("no command handler configured"))
	}

	ctx, span := observe.StartSpan(ctx, "hostws.command."+cmd.Command)
	defer span.End()

	reply := s.run(ctx, cmd)
	status := "ok"
	if reply.Type == "error" {
		status = "error"
		observe.Logger(ctx).Warn("command failed", "command", cmd.Command, "err", reply.Error)
	}
	s.metrics.RecordCommand(ctx, cmd.Command, status)
	return reply
}

func (s *Server) run(ctx context.Context, cmd command) Reply {
	switch cmd.Command {
	case "schedule":
		if cmd.Snippet == nil {
			return fail(cmd.Command, errors.New("schedule requires a snippet"))
		}
		id, err := s.handler.Schedule(ctx, *cmd.Snippet)
		if err != nil {
			return fail(cmd.Command, err)
		}
		r := ack(cmd.Command)
		r.ID = id
		return r

	case "remove":
		if cmd.Name == "" {
			return fail(cmd.Command, errors.New("remove requires a name"))
		}
		removed := s.handler.Remove(ctx, cmd.Name)
		r := ack(cmd.Command)
		r.Removed = &removed
		return r

	case "gaze":
		if err := s.handler.Gaze(ctx, cmd.Axis, cmd.Value); err != nil {
			return fail(cmd.Command, err)
		}
		return ack(cmd.Command)

	case "say":
		phonemes, err := decodePhonemes(cmd.Phonemes)
		if err != nil {
			return fail(cmd.Command, err)
		}
		if err := s.handler.Say(ctx, cmd.UtteranceID, phonemes); err != nil {
			return fail(cmd.Command, err)
		}
		return ack(cmd.Command)

	case "expression":
		if cmd.Name == "" {
			return fail(cmd.Command, errors.New("expression requires a name"))
		}
		if err := s.handler.Express(ctx, cmd.Name, cmd.Intensity); err != nil {
			return fail(cmd.Command, err)
		}
		return ack(cmd.Command)

	case "input":
		if err := s.handler.Input(ctx, cmd.Text); err != nil {
			return fail(cmd.Command, err)
		}
		return ack(cmd.Command)

	default:
		return fail(cmd.Command, fmt.Errorf("unknown command %q", cmd.Command))
	}
}

func decodePhonemes(msgs []phonemeMsg) ([]viseme.Phoneme, error) {
	if len(msgs) == 0 {
		return nil, errors.New("say requires at least one phoneme")
	}
	out := make([]viseme.Phoneme, len(msgs))
	for i, m := range msgs {
		class := viseme.PhonemeClass(m.Class)
		if !class.IsValid() {
			return nil, fmt.Errorf("phoneme %d: unknown class %q", i, m.Class)
		}
		if m.DurationMs <= 0 {
			return nil, fmt.Errorf("phoneme %d: duration must be positive", i)
		}
		out[i] = viseme.Phoneme{
			Class:    class,
			Duration: time.Duration(m.DurationMs) * time.Millisecond,
		}
	}
	return out, nil
}
