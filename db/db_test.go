package db

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set; skipping postgres test")
	}
	database, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := Migrate(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return database
}

func TestOAuthTokenRoundTrip(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()
	provider := "test-provider-" + time.Now().Format("150405.000000")
	t.Cleanup(func() { _, _ = database.Exec(`DELETE FROM oauth_tokens WHERE provider = $1`, provider) })

	got, err := GetOAuthToken(ctx, database, provider)
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if got.AccessToken != "" || !got.Expiry.IsZero() {
		t.Fatalf("missing token should be zero, got %+v", got)
	}

	exp := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	if err := UpsertOAuthToken(ctx, database, OAuthToken{Provider: provider, AccessToken: "a1", RefreshToken: "r1", Expiry: exp, Scope: "chat:read"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := UpsertOAuthToken(ctx, database, OAuthToken{Provider: provider, AccessToken: "a2", RefreshToken: "r2", Expiry: exp, Scope: "chat:read"}); err != nil {
		t.Fatalf("upsert again: %v", err)
	}
	got, err = GetOAuthToken(ctx, database, provider)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.AccessToken != "a2" || got.RefreshToken != "r2" || got.Scope != "chat:read" || !got.Expiry.Equal(exp) {
		t.Errorf("unexpected token %+v", got)
	}
}
