// Package agent forwards prompts to an AI coding agent running in a tmux pane.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/onnwee/chatqueue/backend/dispatch"
)

// Runner executes an external command.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) error
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) error {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Tmux drives the agent pane: clear input, type the prompt, submit, wait for
// the agent to work, then press Enter again to accept its changes.
type Tmux struct {
	// Target is the tmux target pane; empty uses the current pane.
	Target string
	// Prefix, when set, is prepended to every prompt as "<prefix> - <prompt>".
	Prefix       string
	KeyDelay     time.Duration
	ResponseWait time.Duration
	Runner       Runner

	log *slog.Logger
}

// NewTmux returns a Tmux forwarder using ExecRunner.
func NewTmux(target, prefix string, keyDelay, responseWait time.Duration) *Tmux {
	return &Tmux{
		Target:       target,
		Prefix:       prefix,
		KeyDelay:     keyDelay,
		ResponseWait: responseWait,
		Runner:       ExecRunner{},
		log:          slog.Default().With(slog.String("component", "agent")),
	}
}

// Format returns the text typed into the pane for prompt.
func (t *Tmux) Format(prompt string) string {
	prompt = strings.TrimSpace(prompt)
	if t.Prefix == "" {
		return prompt
	}
	return t.Prefix + " - " + prompt
}

// Forward types prompt into the agent pane. Cancellation aborts between keystrokes.
func (t *Tmux) Forward(ctx context.Context, prompt string) error {
	if strings.TrimSpace(prompt) == "" {
		return dispatch.Client("agent", errors.New("empty prompt"))
	}
	steps := []struct {
		name  string
		keys  []string
		after time.Duration
	}{
		{"clear input", []string{"Escape"}, t.KeyDelay},
		{"type prompt", []string{"-l", "--", t.Format(prompt)}, t.KeyDelay},
		{"submit", []string{"Enter"}, t.ResponseWait},
		{"accept", []string{"Enter"}, 0},
	}
	for _, s := range steps {
		if err := t.sendKeys(ctx, s.keys...); err != nil {
			return dispatch.Client("agent", fmt.Errorf("%s: %w", s.name, err))
		}
		t.logger().Debug("sent keys", slog.String("step", s.name))
		if err := sleep(ctx, s.after); err != nil {
			return dispatch.Client("agent", fmt.Errorf("%s: %w", s.name, err))
		}
	}
	t.logger().Info("prompt forwarded to agent", slog.Int("chars", len(prompt)))
	return nil
}

func (t *Tmux) sendKeys(ctx context.Context, keys ...string) error {
	args := []string{"send-keys"}
	if t.Target != "" {
		args = append(args, "-t", t.Target)
	}
	args = append(args, keys...)
	r := t.Runner
	if r == nil {
		r = ExecRunner{}
	}
	return r.Run(ctx, "tmux", args...)
}

func (t *Tmux) logger() *slog.Logger {
	if t.log == nil {
		return slog.Default()
	}
	return t.log
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
