// Package queue holds the durable backlog of chat-derived work items.
//
// Messages move strictly forward through Unverified -> Awaiting -> InProcess ->
// Completed and are never deleted. Each message belongs to a consumer role so the
// poller, the reply router and the overlay config endpoint each drain their own
// partition of the backlog.
package queue

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/chatqueue/backend/command"
)

// Status is the lifecycle stage of a Message.
type Status int

const (
	Unverified Status = iota + 1
	Awaiting
	InProcess
	Completed
)

var statusNames = map[Status]string{
	Unverified: "UNVERIFIED",
	Awaiting:   "AWAITING",
	InProcess:  "IN_PROCESS",
	Completed:  "COMPLETED",
}

// String returns the persisted form of s.
func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// ParseStatus maps a persisted status string to a Status.
func ParseStatus(v string) (Status, error) {
	for s, n := range statusNames {
		if strings.EqualFold(n, strings.TrimSpace(v)) {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown message status %q", v)
}

// CanTransition reports whether a message may move from s to next.
// Transitions only go forward; Completed is terminal.
func (s Status) CanTransition(next Status) bool {
	if _, ok := statusNames[next]; !ok {
		return false
	}
	return s != Completed && next > s
}

// predecessors lists the statuses from which next is reachable.
func predecessors(next Status) []Status {
	var out []Status
	for s := Unverified; s < next; s++ {
		out = append(out, s)
	}
	return out
}

// Role names the consumer allowed to claim a message.
type Role string

const (
	// RoleAudience messages come from chat and are drained by the poller.
	RoleAudience Role = "audience"
	// RoleReply messages are queued replies served by the reply router.
	RoleReply Role = "reply"
	// RoleAnnouncement messages are admin alerts drained by the overlay config endpoint.
	RoleAnnouncement Role = "announcement"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleAudience, RoleReply, RoleAnnouncement:
		return true
	}
	return false
}

// Message is a persisted unit of work derived from a chat command.
type Message struct {
	ID        uuid.UUID
	Command   command.Command
	Author    string
	Role      Role
	Status    Status
	CreatedAt time.Time
	ClaimedAt *time.Time
}

// Text is the command payload.
func (m Message) Text() string { return m.Command.Text }

// Lease is proof of exclusive processing of one message.
type Lease struct {
	MessageID  uuid.UUID
	AcquiredAt time.Time
}

// Filter narrows which Awaiting messages a claim may consider.
type Filter struct {
	Role    Role
	Command *command.Kind
}

// ForRole returns a filter matching every command of role r.
func ForRole(r Role) Filter { return Filter{Role: r} }

// WithCommand restricts f to a single command kind.
func (f Filter) WithCommand(k command.Kind) Filter {
	f.Command = &k
	return f
}

func (f Filter) matches(m *Message) bool {
	if f.Role != "" && m.Role != f.Role {
		return false
	}
	if f.Command != nil && m.Command.Kind != *f.Command {
		return false
	}
	return true
}
