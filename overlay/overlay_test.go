package overlay

import (
	"context"
	"testing"

	"github.com/onnwee/chatqueue/backend/testutil"
)

func strp(s string) *string { return &s }

func runStoreContract(t *testing.T, s Store) {
	ctx := context.Background()

	got, err := s.Get(ctx)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != Defaults {
		t.Fatalf("initial settings = %+v, want %+v", got, Defaults)
	}

	got, err = s.Update(ctx, Update{Sound: strp("bell"), Theme: strp("dracula")})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	want := Settings{Sound: "bell", Theme: "dracula", Alert: None, Prompt: None}
	if got != want {
		t.Fatalf("after update = %+v, want %+v", got, want)
	}

	if err := s.UpdatePrompt(ctx, "be terse"); err != nil {
		t.Fatalf("UpdatePrompt: %v", err)
	}
	p, err := Prompts{Store: s}.SystemPrompt(ctx)
	if err != nil || p != "be terse" {
		t.Fatalf("SystemPrompt = %q, %v", p, err)
	}

	got, err = s.Update(ctx, Update{Alert: strp("follow")})
	if err != nil {
		t.Fatal(err)
	}
	want = Settings{Sound: None, Theme: None, Alert: "follow", Prompt: "be terse"}
	if got != want {
		t.Fatalf("prompt must survive updates: %+v, want %+v", got, want)
	}
}

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, NewMemoryStore())
}

func TestPGStore(t *testing.T) {
	runStoreContract(t, NewPGStore(testutil.SetupTestDB(t)))
}
