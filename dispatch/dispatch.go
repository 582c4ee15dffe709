// Package dispatch maps a parsed command to the side effect it requests.
//
// The Dispatcher holds no state beyond its handler table and never writes to the
// queue; status transitions belong to the caller.
package dispatch

import (
	"context"
	"log/slog"

	"github.com/onnwee/chatqueue/backend/command"
)

// Agent forwards a prompt to the external AI agent automation channel.
type Agent interface {
	Forward(ctx context.Context, prompt string) error
}

// Theme switches the presentation theme and signals a reload.
type Theme interface {
	Apply(ctx context.Context, name string) error
}

// Music queues a track on the music client.
type Music interface {
	EnqueueTrack(ctx context.Context, trackID string) error
}

type handler func(ctx context.Context, text string) error

// Dispatcher routes commands to collaborators. A nil collaborator makes its
// command fail with ErrNotConfigured.
type Dispatcher struct {
	handlers map[command.Kind]handler
	log      *slog.Logger
}

// New builds a Dispatcher over the given collaborators; any may be nil.
func New(agent Agent, theme Theme, music Music) *Dispatcher {
	d := &Dispatcher{log: slog.Default().With(slog.String("component", "dispatch"))}
	d.handlers = map[command.Kind]handler{
		command.StoreChatMessage: func(ctx context.Context, text string) error {
			if agent == nil {
				return Client("agent", ErrNotConfigured)
			}
			return agent.Forward(ctx, text)
		},
		command.SetTheme: func(ctx context.Context, text string) error {
			if theme == nil {
				return Client("theme", ErrNotConfigured)
			}
			return theme.Apply(ctx, text)
		},
		command.SetSong: func(ctx context.Context, text string) error {
			if music == nil {
				return Client("music", ErrNotConfigured)
			}
			id, err := TrackID(text)
			if err != nil {
				return err
			}
			return music.EnqueueTrack(ctx, id)
		},
	}
	return d
}

// Dispatch runs the handler for cmd. Unknown commands are logged and ignored.
// Failures are returned as *Error.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd command.Command) error {
	h, ok := d.handlers[cmd.Kind]
	if !ok {
		d.log.Info("ignoring unknown command", slog.String("text", cmd.Text))
		return nil
	}
	if err := h(ctx, cmd.Text); err != nil {
		return &Error{Kind: cmd.Kind, Err: err}
	}
	return nil
}
