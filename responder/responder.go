// Package responder answers live chat requests either from the AI client or by
// replaying a queued reply from the backlog.
package responder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/chatqueue/backend/openai"
	"github.com/onnwee/chatqueue/backend/queue"
	"github.com/onnwee/chatqueue/backend/telemetry"
)

// ErrNoReply is returned when no reply could be produced before the timeout.
var ErrNoReply = errors.New("no reply available before timeout")

// Reply sources.
const (
	SourceAI     = "ai"
	SourceQueued = "queued"
)

// AI produces a completion for a chat history.
type AI interface {
	Complete(ctx context.Context, msgs []openai.ChatMessage) (string, error)
}

// PromptSource supplies the current system prompt. An empty prompt or "none"
// sends the history without one.
type PromptSource interface {
	SystemPrompt(ctx context.Context) (string, error)
}

// Config holds the router knobs.
type Config struct {
	// Threshold: a draw in [0,100) at or above it goes to the AI client.
	Threshold     int
	HistoryLimit  int
	RetryDelay    time.Duration
	Timeout       time.Duration
	MaxAIAttempts int
}

// Reply is a produced response and where it came from.
type Reply struct {
	Text   string
	Source string
}

// Router is safe for concurrent use.
type Router struct {
	cfg     Config
	store   queue.Store
	ai      AI
	prompts PromptSource

	// Draw returns a uniform value in [0,100). Tests replace it to force a branch.
	Draw func() int

	log *slog.Logger
}

// New returns a Router drawing from a PCG source seeded with the current time.
func New(cfg Config, store queue.Store, ai AI, prompts PromptSource) *Router {
	if cfg.MaxAIAttempts < 1 {
		cfg.MaxAIAttempts = 1
	}
	now := uint64(time.Now().UnixNano())
	return &Router{
		cfg:     cfg,
		store:   store,
		ai:      ai,
		prompts: prompts,
		Draw:    SeededDraw(now, now>>32|1),
		log:     slog.Default().With(slog.String("component", "responder")),
	}
}

// SeededDraw returns a goroutine-safe draw function over a PCG source.
func SeededDraw(seed1, seed2 uint64) func() int {
	var mu sync.Mutex
	r := rand.New(rand.NewPCG(seed1, seed2))
	return func() int {
		mu.Lock()
		defer mu.Unlock()
		return r.IntN(100)
	}
}

// Respond produces a reply for history. Without an AI client every draw goes to
// the queued-reply branch. It retries every RetryDelay until a
// reply is found, the AI client has failed MaxAIAttempts times, or Timeout
// elapses (ErrNoReply). Store failures while looking for a queued reply are
// logged and retried.
func (r *Router) Respond(ctx context.Context, history []openai.ChatMessage) (Reply, error) {
	start := time.Now()
	ctx, span := telemetry.StartSpan(ctx, "responder.respond", attribute.Int("history.len", len(history)))
	defer span.End()
	logger := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "responder"))

	parent := ctx
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	aiFailures := 0
	for attempt := 1; ; attempt++ {
		draw := r.Draw()
		if r.ai != nil && draw >= r.cfg.Threshold {
			text, err := r.askAI(ctx, history)
			if err == nil {
				telemetry.RecordReply(SourceAI, time.Since(start))
				telemetry.SetSpanSuccess(span)
				return Reply{Text: text, Source: SourceAI}, nil
			}
			if ctx.Err() == nil {
				aiFailures++
				telemetry.RecordAIFailure()
				logger.Warn("ai completion failed", slog.Int("attempt", aiFailures), slog.Any("err", err))
				if aiFailures >= r.cfg.MaxAIAttempts {
					err = fmt.Errorf("ai completion failed after %d attempts: %w", aiFailures, err)
					telemetry.RecordError(span, err)
					return Reply{}, err
				}
			}
		} else {
			m, err := r.store.Take(ctx, queue.ForRole(queue.RoleReply))
			switch {
			case err == nil:
				logger.Info("serving queued reply", slog.String("message_id", m.ID.String()), slog.Int("attempt", attempt))
				telemetry.RecordReply(SourceQueued, time.Since(start))
				telemetry.SetSpanSuccess(span)
				return Reply{Text: m.Text(), Source: SourceQueued}, nil
			case errors.Is(err, queue.ErrEmpty):
				logger.Debug("no queued reply; retrying", slog.Int("draw", draw), slog.Duration("retry_delay", r.cfg.RetryDelay))
			case ctx.Err() == nil:
				logger.Warn("queued reply lookup failed; retrying", slog.Any("err", err))
			}
		}

		select {
		case <-ctx.Done():
			if parent.Err() != nil {
				return Reply{}, parent.Err()
			}
			telemetry.RecordError(span, ErrNoReply)
			return Reply{}, ErrNoReply
		case <-time.After(r.cfg.RetryDelay):
		}
	}
}

func (r *Router) askAI(ctx context.Context, history []openai.ChatMessage) (string, error) {
	if r.ai == nil {
		return "", errors.New("ai client not configured")
	}
	msgs := make([]openai.ChatMessage, 0, r.cfg.HistoryLimit+1)
	if r.prompts != nil {
		prompt, err := r.prompts.SystemPrompt(ctx)
		if err != nil {
			return "", fmt.Errorf("load system prompt: %w", err)
		}
		if p := strings.TrimSpace(prompt); p != "" && p != "none" {
			msgs = append(msgs, openai.ChatMessage{Role: openai.RoleSystem, Content: p})
		}
	}
	msgs = append(msgs, Trim(history, r.cfg.HistoryLimit)...)
	return r.ai.Complete(ctx, msgs)
}

// Trim returns the last n entries of history (all of them when n <= 0).
func Trim(history []openai.ChatMessage, n int) []openai.ChatMessage {
	if n <= 0 || len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}
