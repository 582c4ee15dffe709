package queue

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/onnwee/chatqueue/backend/command"
)

// Outcome describes what Ingest did with a command.
type Outcome int

const (
	// OutcomeInserted means a new message was persisted.
	OutcomeInserted Outcome = iota
	// OutcomeDuplicate means a dedup rule suppressed the insert.
	OutcomeDuplicate
	// OutcomeIgnored means the command is not persisted at all (Unknown without KeepUnknown).
	OutcomeIgnored
)

func (o Outcome) String() string {
	switch o {
	case OutcomeInserted:
		return "inserted"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeIgnored:
		return "ignored"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Result reports the outcome of one ingestion. ID is set only for OutcomeInserted.
type Result struct {
	Outcome Outcome
	ID      uuid.UUID
	Status  Status
}

// Ingestor applies dedup and approval rules before writing chat commands to a Store.
type Ingestor struct {
	Store Store
	// ApprovalRequired lists command kinds inserted as Unverified until a
	// moderator approves them.
	ApprovalRequired map[command.Kind]bool
	// KeepUnknown persists Unknown commands instead of dropping them.
	KeepUnknown bool
}

// NewIngestor returns an Ingestor over s with no approval requirements.
func NewIngestor(s Store) *Ingestor {
	return &Ingestor{Store: s, ApprovalRequired: map[command.Kind]bool{}}
}

// targetStatus is the status a freshly ingested command of kind k starts in.
func (in *Ingestor) targetStatus(k command.Kind) Status {
	if in.ApprovalRequired[k] {
		return Unverified
	}
	return Awaiting
}

// Ingest persists a chat command from author unless a dedup rule applies.
// The check and the insert are separate Store calls, so two racing identical
// commands may both land; the window is one round trip.
func (in *Ingestor) Ingest(ctx context.Context, author string, cmd command.Command) (Result, error) {
	if cmd.Kind == command.Unknown && !in.KeepUnknown {
		return Result{Outcome: OutcomeIgnored}, nil
	}
	status := in.targetStatus(cmd.Kind)

	switch cmd.Kind {
	case command.StoreChatMessage:
		dup, err := in.Store.ExistsByText(ctx, cmd.Text)
		if err != nil {
			return Result{}, fmt.Errorf("dedup by text: %w", err)
		}
		if dup {
			return Result{Outcome: OutcomeDuplicate}, nil
		}
	case command.SetTheme:
		dup, err := in.Store.ExistsByAuthorAndStatus(ctx, author, status)
		if err != nil {
			return Result{}, fmt.Errorf("dedup by author: %w", err)
		}
		if dup {
			return Result{Outcome: OutcomeDuplicate}, nil
		}
	}

	m := &Message{Command: cmd, Author: author, Role: RoleAudience, Status: status}
	id, err := in.Store.Insert(ctx, m)
	if err != nil {
		return Result{}, fmt.Errorf("insert %s: %w", cmd.Kind.Name(), err)
	}
	return Result{Outcome: OutcomeInserted, ID: id, Status: status}, nil
}

// Enqueue is the admin insertion path: the message goes straight to Awaiting in
// the given role with no dedup or approval.
func (in *Ingestor) Enqueue(ctx context.Context, author string, role Role, cmd command.Command) (uuid.UUID, error) {
	if !role.Valid() {
		return uuid.Nil, fmt.Errorf("unknown role %q", role)
	}
	m := &Message{Command: cmd, Author: author, Role: role, Status: Awaiting}
	id, err := in.Store.Insert(ctx, m)
	if err != nil {
		return uuid.Nil, fmt.Errorf("enqueue %s: %w", role, err)
	}
	return id, nil
}
