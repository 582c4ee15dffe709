package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/onnwee/chatqueue/backend/command"
	"github.com/onnwee/chatqueue/backend/testutil"
)

func TestPGStoreContract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		return NewPGStore(testutil.SetupTestDB(t))
	})
}

func TestPGStoreReapStale(t *testing.T) {
	database := testutil.SetupTestDB(t)
	s := NewPGStore(database)
	ctx := context.Background()

	first, err := s.Insert(ctx, &Message{Command: command.Command{Kind: command.StoreChatMessage, Text: "first"}, Author: "alice"})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := s.Insert(ctx, &Message{Command: command.Command{Kind: command.SetTheme, Text: "dracula"}, Author: "bob"}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	lease, m, err := s.Claim(ctx, ForRole(RoleAudience))
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if m.ID != first || lease.AcquiredAt.IsZero() || m.Command.Kind != command.StoreChatMessage {
		t.Fatalf("unexpected claim %+v %+v", lease, m)
	}
	if err := s.UpdateStatus(ctx, first, InProcess); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("re-entering InProcess = %v", err)
	}

	if _, err := database.Exec(`UPDATE chat_messages SET claimed_at = NOW() - INTERVAL '1 hour' WHERE id = $1`, first); err != nil {
		t.Fatal(err)
	}
	n, err := s.ReapStale(ctx, 10*time.Minute)
	if err != nil || n != 1 {
		t.Fatalf("reap = %d %v", n, err)
	}
	_, m, err = s.Claim(ctx, ForRole(RoleAudience))
	if err != nil {
		t.Fatalf("claim after reap: %v", err)
	}
	if m.Command.Kind != command.SetTheme || m.Command.Text != "dracula" {
		t.Errorf("claimed %+v", m.Command)
	}
}
