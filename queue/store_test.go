package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/chatqueue/backend/command"
)

// runStoreContract exercises the Store behaviour every backend must share.
// newStore must return an empty store.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	insert := func(t *testing.T, s Store, author, text string, role Role, status Status) uuid.UUID {
		t.Helper()
		id, err := s.Insert(ctx, &Message{
			Command: command.Command{Kind: command.StoreChatMessage, Text: text},
			Author:  author, Role: role, Status: status,
		})
		if err != nil {
			t.Fatalf("insert %q: %v", text, err)
		}
		return id
	}

	t.Run("fifo claim", func(t *testing.T) {
		s := newStore(t)
		ids := []uuid.UUID{
			insert(t, s, "a", "one", RoleAudience, Awaiting),
			insert(t, s, "b", "two", RoleAudience, Awaiting),
			insert(t, s, "c", "three", RoleAudience, Awaiting),
		}
		for i, want := range ids {
			lease, m, err := s.Claim(ctx, ForRole(RoleAudience))
			if err != nil {
				t.Fatalf("claim %d: %v", i, err)
			}
			if m.ID != want || lease.MessageID != want {
				t.Fatalf("claim %d got %s, want %s", i, m.ID, want)
			}
			if m.Status != InProcess {
				t.Errorf("claimed status = %v", m.Status)
			}
			if err := s.UpdateStatus(ctx, m.ID, Completed); err != nil {
				t.Fatalf("complete: %v", err)
			}
		}
		if _, _, err := s.Claim(ctx, ForRole(RoleAudience)); !errors.Is(err, ErrEmpty) {
			t.Fatalf("expected ErrEmpty, got %v", err)
		}
	})

	t.Run("claim respects lease and role", func(t *testing.T) {
		s := newStore(t)
		insert(t, s, "a", "reply text", RoleReply, Awaiting)
		insert(t, s, "a", "one", RoleAudience, Awaiting)
		insert(t, s, "a", "two", RoleAudience, Awaiting)

		_, m, err := s.Claim(ctx, ForRole(RoleAudience))
		if err != nil {
			t.Fatalf("claim: %v", err)
		}
		if m.Role != RoleAudience {
			t.Fatalf("claimed role %q", m.Role)
		}
		if _, _, err := s.Claim(ctx, ForRole(RoleAudience)); !errors.Is(err, ErrLeaseHeld) {
			t.Fatalf("second claim = %v, want ErrLeaseHeld", err)
		}
		if n, _ := s.Count(ctx, InProcess); n != 1 {
			t.Fatalf("in process = %d", n)
		}
		// Take never creates a lease, so the reply partition stays usable.
		got, err := s.Take(ctx, ForRole(RoleReply))
		if err != nil {
			t.Fatalf("take: %v", err)
		}
		if got.Text() != "reply text" || got.Status != Completed {
			t.Errorf("take got %+v", got)
		}
	})

	t.Run("concurrent claims are single flight", func(t *testing.T) {
		s := newStore(t)
		for i := 0; i < 5; i++ {
			insert(t, s, "a", uuid.NewString(), RoleAudience, Awaiting)
		}
		var wg sync.WaitGroup
		var mu sync.Mutex
		won := 0
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, _, err := s.Claim(ctx, ForRole(RoleAudience)); err == nil {
					mu.Lock()
					won++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		if won != 1 {
			t.Fatalf("%d concurrent claims succeeded, want 1", won)
		}
		if n, _ := s.Count(ctx, InProcess); n != 1 {
			t.Fatalf("in process = %d, want 1", n)
		}
	})

	t.Run("completed is terminal", func(t *testing.T) {
		s := newStore(t)
		id := insert(t, s, "a", "done", RoleAudience, Awaiting)
		if err := s.UpdateStatus(ctx, id, Completed); err != nil {
			t.Fatalf("complete: %v", err)
		}
		for _, st := range []Status{Unverified, Awaiting, InProcess, Completed} {
			if err := s.UpdateStatus(ctx, id, st); !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("UpdateStatus(%v) on completed = %v", st, err)
			}
		}
		if _, _, err := s.Claim(ctx, Filter{}); !errors.Is(err, ErrEmpty) {
			t.Errorf("completed message was claimable: %v", err)
		}
		if err := s.UpdateStatus(ctx, uuid.New(), Completed); !errors.Is(err, ErrNotFound) {
			t.Errorf("missing id = %v, want ErrNotFound", err)
		}
	})

	t.Run("approve only moves unverified", func(t *testing.T) {
		s := newStore(t)
		a := insert(t, s, "a", "needs approval", RoleAudience, Unverified)
		b := insert(t, s, "b", "already waiting", RoleAudience, Awaiting)
		n, err := s.Approve(ctx, []uuid.UUID{a, b})
		if err != nil {
			t.Fatalf("approve: %v", err)
		}
		if n != 1 {
			t.Errorf("approved %d, want 1", n)
		}
		waiting, err := s.List(ctx, Awaiting, 10)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(waiting) != 2 || waiting[0].ID != a || waiting[1].ID != b {
			t.Fatalf("awaiting = %+v", waiting)
		}
		if un, _ := s.List(ctx, Unverified, 10); len(un) != 0 {
			t.Errorf("unverified left: %+v", un)
		}
	})

	t.Run("dedup queries and select oldest filter", func(t *testing.T) {
		s := newStore(t)
		if _, err := s.Insert(ctx, &Message{
			Command: command.Command{Kind: command.SetTheme, Text: "dracula"},
			Author:  "bob", Role: RoleAudience, Status: Awaiting,
		}); err != nil {
			t.Fatalf("insert: %v", err)
		}
		insert(t, s, "carol", "hello", RoleAudience, Awaiting)

		if ok, _ := s.ExistsByText(ctx, "hello"); !ok {
			t.Error("ExistsByText(hello) = false")
		}
		if ok, _ := s.ExistsByText(ctx, "nope"); ok {
			t.Error("ExistsByText(nope) = true")
		}
		if ok, _ := s.ExistsByAuthorAndStatus(ctx, "bob", Awaiting); !ok {
			t.Error("bob should have an awaiting message")
		}
		if ok, _ := s.ExistsByAuthorAndStatus(ctx, "bob", Unverified); ok {
			t.Error("bob has no unverified message")
		}
		m, err := s.SelectOldest(ctx, Awaiting, ForRole(RoleAudience).WithCommand(command.StoreChatMessage))
		if err != nil {
			t.Fatalf("select oldest: %v", err)
		}
		if m.Author != "carol" {
			t.Errorf("filtered oldest author = %q", m.Author)
		}
		if _, err := s.SelectOldest(ctx, Awaiting, ForRole(RoleReply)); !errors.Is(err, ErrEmpty) {
			t.Errorf("empty partition = %v", err)
		}
	})
}

func TestMemoryStoreContract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		s := NewMemoryStore()
		base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		var mu sync.Mutex
		n := 0
		s.SetClock(func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			n++
			return base.Add(time.Duration(n) * time.Second)
		})
		return s
	})
}

func TestMemoryStoreReapStale(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return now })

	if _, err := s.Insert(ctx, &Message{Command: command.Command{Kind: command.StoreChatMessage, Text: "stuck"}, Author: "a"}); err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.Claim(ctx, ForRole(RoleAudience)); err != nil {
		t.Fatal(err)
	}
	if n, _ := s.ReapStale(ctx, 10*time.Minute); n != 0 {
		t.Fatalf("fresh lease reaped: %d", n)
	}
	now = now.Add(11 * time.Minute)
	if n, _ := s.ReapStale(ctx, 10*time.Minute); n != 1 {
		t.Fatalf("stale lease not reaped: %d", n)
	}
	if n, _ := s.Count(ctx, InProcess); n != 0 {
		t.Fatalf("in process after reap = %d", n)
	}
	if n, _ := s.Count(ctx, Completed); n != 1 {
		t.Fatalf("completed after reap = %d", n)
	}
}

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to Status
		ok       bool
	}{
		{Unverified, Awaiting, true},
		{Awaiting, InProcess, true},
		{InProcess, Completed, true},
		{Awaiting, Completed, true},
		{Awaiting, Unverified, false},
		{InProcess, Awaiting, false},
		{Completed, Completed, false},
		{Awaiting, Status(9), false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.ok {
			t.Errorf("%v -> %v = %v, want %v", tt.from, tt.to, got, tt.ok)
		}
	}
	for _, st := range []Status{Unverified, Awaiting, InProcess, Completed} {
		got, err := ParseStatus(st.String())
		if err != nil || got != st {
			t.Errorf("ParseStatus(%q) = %v %v", st.String(), got, err)
		}
	}
	if _, err := ParseStatus("DONE"); err == nil {
		t.Error("ParseStatus(DONE) should fail")
	}
}
