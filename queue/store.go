package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrStoreUnavailable marks I/O or connection failures of the backing store.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrNotFound is returned when a message id does not exist.
	ErrNotFound = errors.New("message not found")
	// ErrEmpty is returned by Claim/Take/SelectOldest when nothing matches.
	ErrEmpty = errors.New("no matching message")
	// ErrLeaseHeld is returned by Claim while another message is InProcess.
	ErrLeaseHeld = errors.New("another message is in process")
	// ErrInvalidTransition is returned for backward or terminal status changes.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// unavailable tags a driver error as a store outage while keeping it inspectable.
func unavailable(op string, err error) error {
	return fmt.Errorf("queue %s: %w", op, errors.Join(ErrStoreUnavailable, err))
}

// Store is the persisted backlog. Each call is atomic on its own; callers get no
// cross-call transaction, so check-then-act sequences must go through Claim/Take.
type Store interface {
	// Insert persists m and returns its new id. m.ID and m.CreatedAt are assigned
	// by the store.
	Insert(ctx context.Context, m *Message) (uuid.UUID, error)
	ExistsByText(ctx context.Context, text string) (bool, error)
	ExistsByAuthorAndStatus(ctx context.Context, author string, status Status) (bool, error)
	// UpdateStatus moves a message forward. Backward moves and changes to a
	// Completed message fail with ErrInvalidTransition.
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error
	// SelectOldest returns the oldest message with status matching f, or ErrEmpty.
	SelectOldest(ctx context.Context, status Status, f Filter) (*Message, error)
	Count(ctx context.Context, status Status) (int, error)

	// Claim atomically moves the oldest Awaiting message matching f to InProcess.
	// It fails with ErrLeaseHeld if any message is already InProcess and with
	// ErrEmpty if nothing is waiting.
	Claim(ctx context.Context, f Filter) (*Lease, *Message, error)
	// Take atomically moves the oldest Awaiting message matching f straight to
	// Completed and returns it, or ErrEmpty.
	Take(ctx context.Context, f Filter) (*Message, error)
	// Approve moves the given ids from Unverified to Awaiting. Ids in any other
	// status are left untouched. It returns how many rows changed.
	Approve(ctx context.Context, ids []uuid.UUID) (int, error)
	// List returns up to limit messages in status, oldest first.
	List(ctx context.Context, status Status, limit int) ([]Message, error)
	// ReapStale completes InProcess messages whose lease is older than olderThan.
	ReapStale(ctx context.Context, olderThan time.Duration) (int, error)
}
