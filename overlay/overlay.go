// Package overlay stores the stream overlay settings polled by the browser
// source (sound, theme, alert) and the system prompt used for live AI replies.
package overlay

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
)

// None marks an unset field.
const None = "none"

// Defaults applied on first read.
var Defaults = Settings{Sound: "samsung", Theme: "default", Alert: None, Prompt: None}

// ErrUnavailable wraps storage failures.
var ErrUnavailable = errors.New("overlay store unavailable")

// Settings is the single overlay configuration row.
type Settings struct {
	Sound  string `json:"sound"`
	Theme  string `json:"theme"`
	Alert  string `json:"alert"`
	Prompt string `json:"-"`
}

// Update carries a partial update; nil fields are stored as None.
type Update struct {
	Sound *string `json:"sound_name"`
	Theme *string `json:"theme"`
	Alert *string `json:"alert"`
}

func (u Update) resolve() (sound, theme, alert string) {
	pick := func(p *string) string {
		if p == nil || *p == "" {
			return None
		}
		return *p
	}
	return pick(u.Sound), pick(u.Theme), pick(u.Alert)
}

// Store persists Settings.
type Store interface {
	// Get returns the settings, initializing them to Defaults on first use.
	Get(ctx context.Context) (Settings, error)
	Update(ctx context.Context, u Update) (Settings, error)
	UpdatePrompt(ctx context.Context, prompt string) error
}

// Prompts adapts a Store to the responder's system prompt source.
type Prompts struct{ Store Store }

func (p Prompts) SystemPrompt(ctx context.Context) (string, error) {
	s, err := p.Store.Get(ctx)
	if err != nil {
		return "", err
	}
	return s.Prompt, nil
}

// PGStore keeps the settings in the website_config table (single row, id = 1).
type PGStore struct{ db *sql.DB }

func NewPGStore(db *sql.DB) *PGStore { return &PGStore{db: db} }

func (s *PGStore) Get(ctx context.Context) (Settings, error) {
	// Ensure the row exists; the column defaults carry the initial values.
	if _, err := s.db.ExecContext(ctx, `INSERT INTO website_config (id) VALUES (1) ON CONFLICT (id) DO NOTHING`); err != nil {
		return Settings{}, fmt.Errorf("%w: init: %v", ErrUnavailable, err)
	}
	var out Settings
	err := s.db.QueryRowContext(ctx, `SELECT sound_name, theme, alert, prompt FROM website_config WHERE id = 1`).
		Scan(&out.Sound, &out.Theme, &out.Alert, &out.Prompt)
	if err != nil {
		return Settings{}, fmt.Errorf("%w: get: %v", ErrUnavailable, err)
	}
	return out, nil
}

func (s *PGStore) Update(ctx context.Context, u Update) (Settings, error) {
	sound, theme, alert := u.resolve()
	var out Settings
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO website_config (id, sound_name, theme, alert, updated_at)
		VALUES (1, $1, $2, $3, NOW())
		ON CONFLICT (id) DO UPDATE SET
			sound_name = EXCLUDED.sound_name,
			theme = EXCLUDED.theme,
			alert = EXCLUDED.alert,
			updated_at = NOW()
		RETURNING sound_name, theme, alert, prompt`, sound, theme, alert).
		Scan(&out.Sound, &out.Theme, &out.Alert, &out.Prompt)
	if err != nil {
		return Settings{}, fmt.Errorf("%w: update: %v", ErrUnavailable, err)
	}
	return out, nil
}

func (s *PGStore) UpdatePrompt(ctx context.Context, prompt string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO website_config (id, prompt, updated_at) VALUES (1, $1, NOW())
		ON CONFLICT (id) DO UPDATE SET prompt = EXCLUDED.prompt, updated_at = NOW()`, prompt)
	if err != nil {
		return fmt.Errorf("%w: update prompt: %v", ErrUnavailable, err)
	}
	return nil
}

// MemoryStore is the in-process Store.
type MemoryStore struct {
	mu  sync.Mutex
	cur *Settings
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (m *MemoryStore) init() {
	if m.cur == nil {
		s := Defaults
		m.cur = &s
	}
}

func (m *MemoryStore) Get(context.Context) (Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	return *m.cur, nil
}

func (m *MemoryStore) Update(_ context.Context, u Update) (Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	m.cur.Sound, m.cur.Theme, m.cur.Alert = u.resolve()
	return *m.cur, nil
}

func (m *MemoryStore) UpdatePrompt(_ context.Context, prompt string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	m.cur.Prompt = prompt
	return nil
}
