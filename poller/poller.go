// Package poller runs the single-flight scheduler that drains the audience backlog.
//
// Each tick completes stale leases, backs off while any message is in process,
// claims the oldest awaiting audience message, dispatches it, and marks it
// Completed whatever the dispatch outcome. Delivery is at most once.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/chatqueue/backend/command"
	"github.com/onnwee/chatqueue/backend/queue"
	"github.com/onnwee/chatqueue/backend/telemetry"
)

// Dispatcher executes the side effect of one command.
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd command.Command) error
}

// Result is the outcome of one tick.
type Result string

const (
	ResultDispatched Result = "dispatched"
	ResultBusy       Result = "busy"
	ResultEmpty      Result = "empty"
	ResultError      Result = "error"
)

// completeTimeout bounds the final status write, which runs even after shutdown starts.
const completeTimeout = 5 * time.Second

// Job is the poller. Interval must be positive; LeaseTimeout 0 disables reaping.
type Job struct {
	Store        queue.Store
	Dispatcher   Dispatcher
	Interval     time.Duration
	LeaseTimeout time.Duration

	log *slog.Logger
}

// New returns a Job with the given timings.
func New(store queue.Store, d Dispatcher, interval, leaseTimeout time.Duration) *Job {
	return &Job{
		Store:        store,
		Dispatcher:   d,
		Interval:     interval,
		LeaseTimeout: leaseTimeout,
		log:          slog.Default().With(slog.String("component", "poller")),
	}
}

// Run ticks immediately and then every Interval until ctx is cancelled.
func (j *Job) Run(ctx context.Context) error {
	j.log.Info("poller starting", slog.Duration("interval", j.Interval), slog.Duration("lease_timeout", j.LeaseTimeout))
	// Kick an immediate run so we don't wait a full interval after boot.
	j.tickAndLog(ctx)
	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			j.log.Info("poller stopped")
			return nil
		case <-ticker.C:
			j.tickAndLog(ctx)
		}
	}
}

func (j *Job) tickAndLog(ctx context.Context) {
	res, err := j.Tick(ctx)
	telemetry.RecordPoll(string(res))
	if err != nil {
		j.log.Warn("poll tick", slog.String("result", string(res)), slog.Any("err", err))
	}
}

// Tick performs one scheduling step. A store error abandons the tick and is
// returned with ResultError. A dispatch failure is logged, never returned.
func (j *Job) Tick(ctx context.Context) (Result, error) {
	if j.LeaseTimeout > 0 {
		n, err := j.Store.ReapStale(ctx, j.LeaseTimeout)
		if err != nil {
			return ResultError, fmt.Errorf("reap stale leases: %w", err)
		}
		if n > 0 {
			telemetry.RecordReaped(n)
			j.log.Warn("completed stale in-process messages", slog.Int("count", n), slog.Duration("lease_timeout", j.LeaseTimeout))
		}
	}

	inProcess, err := j.Store.Count(ctx, queue.InProcess)
	if err != nil {
		return ResultError, fmt.Errorf("count in process: %w", err)
	}
	telemetry.SetBacklog(queue.InProcess.String(), inProcess)
	if awaiting, err := j.Store.Count(ctx, queue.Awaiting); err == nil {
		telemetry.SetBacklog(queue.Awaiting.String(), awaiting)
	}
	if inProcess > 0 {
		j.log.Debug("message in process; skipping tick", slog.Int("in_process", inProcess))
		return ResultBusy, nil
	}

	lease, m, err := j.Store.Claim(ctx, queue.ForRole(queue.RoleAudience))
	switch {
	case errors.Is(err, queue.ErrEmpty):
		j.log.Debug("no messages awaiting")
		return ResultEmpty, nil
	case errors.Is(err, queue.ErrLeaseHeld):
		return ResultBusy, nil
	case err != nil:
		return ResultError, fmt.Errorf("claim: %w", err)
	}

	j.process(ctx, lease, m)
	return ResultDispatched, j.complete(ctx, m.ID)
}

func (j *Job) process(ctx context.Context, lease *queue.Lease, m *queue.Message) {
	logger := j.log.With(slog.String("message_id", m.ID.String()), slog.String("command", m.Command.Kind.Name()))
	logger.Info("dispatching message", slog.String("author", m.Author), slog.Time("claimed_at", lease.AcquiredAt))

	telemetry.SetInProcess(true)
	defer telemetry.SetInProcess(false)

	ctx, span := telemetry.StartSpan(ctx, "poller.dispatch",
		attribute.String("message.id", m.ID.String()),
		attribute.String("message.command", m.Command.Kind.Name()))
	defer span.End()

	start := time.Now()
	err := j.Dispatcher.Dispatch(ctx, m.Command)
	d := time.Since(start)
	telemetry.RecordDispatch(m.Command.Kind.Name(), d, err != nil)
	if err != nil {
		telemetry.RecordError(span, err)
		logger.Error("dispatch failed; completing anyway", slog.Any("err", err), slog.Duration("duration", d))
		return
	}
	telemetry.SetSpanSuccess(span)
	logger.Info("dispatch complete", slog.Duration("duration", d))
}

// complete marks the message done on a context detached from shutdown so an
// interrupted dispatch does not leave the lease behind.
func (j *Job) complete(ctx context.Context, id uuid.UUID) error {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), completeTimeout)
	defer cancel()
	if err := j.Store.UpdateStatus(cctx, id, queue.Completed); err != nil {
		return fmt.Errorf("complete %s: %w", id, err)
	}
	return nil
}
