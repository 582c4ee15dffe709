package queue

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/onnwee/chatqueue/backend/command"
)

// PGStore is the Postgres-backed Store over the chat_messages table.
// The partial unique index uq_chat_messages_in_process guarantees that at most
// one row is IN_PROCESS at a time.
type PGStore struct {
	db *sql.DB
}

// NewPGStore wraps an open database handle. Migrations must already be applied.
func NewPGStore(db *sql.DB) *PGStore { return &PGStore{db: db} }

const messageColumns = `id, username, text, command, role, status, created_at, claimed_at`

const pgUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*Message, error) {
	var (
		m         Message
		text      string
		tag       string
		role      string
		status    string
		claimedAt sql.NullTime
	)
	if err := row.Scan(&m.ID, &m.Author, &text, &tag, &role, &status, &m.CreatedAt, &claimedAt); err != nil {
		return nil, err
	}
	st, err := ParseStatus(status)
	if err != nil {
		return nil, err
	}
	m.Status = st
	m.Role = Role(role)
	m.Command = command.Command{Kind: command.KindFromTag(tag), Text: text}
	if claimedAt.Valid {
		t := claimedAt.Time
		m.ClaimedAt = &t
	}
	return &m, nil
}

func commandArg(f Filter) sql.NullString {
	if f.Command == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: f.Command.String(), Valid: true}
}

func roleArg(f Filter) sql.NullString {
	if f.Role == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: string(f.Role), Valid: true}
}

func (s *PGStore) Insert(ctx context.Context, m *Message) (uuid.UUID, error) {
	id := uuid.New()
	role := m.Role
	if role == "" {
		role = RoleAudience
	}
	status := m.Status
	if status == 0 {
		status = Awaiting
	}
	var createdAt time.Time
	err := s.db.QueryRowContext(ctx, `INSERT INTO chat_messages (id, username, text, command, role, status)
		VALUES ($1,$2,$3,$4,$5,$6) RETURNING created_at`,
		id, m.Author, m.Command.Text, m.Command.Kind.String(), string(role), status.String()).Scan(&createdAt)
	if err != nil {
		return uuid.Nil, unavailable("insert", err)
	}
	m.ID, m.CreatedAt, m.Role, m.Status = id, createdAt, role, status
	return id, nil
}

func (s *PGStore) ExistsByText(ctx context.Context, text string) (bool, error) {
	var ok bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM chat_messages WHERE text = $1)`, text).Scan(&ok); err != nil {
		return false, unavailable("exists by text", err)
	}
	return ok, nil
}

func (s *PGStore) ExistsByAuthorAndStatus(ctx context.Context, author string, status Status) (bool, error) {
	var ok bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM chat_messages WHERE username = $1 AND status = $2)`,
		author, status.String()).Scan(&ok); err != nil {
		return false, unavailable("exists by author", err)
	}
	return ok, nil
}

func (s *PGStore) UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error {
	from := predecessors(status)
	if len(from) == 0 {
		return ErrInvalidTransition
	}
	names := make([]string, len(from))
	for i, st := range from {
		names[i] = st.String()
	}
	res, err := s.db.ExecContext(ctx, `UPDATE chat_messages
		SET status = $1, claimed_at = CASE WHEN $1 = 'IN_PROCESS' THEN NOW() ELSE claimed_at END
		WHERE id = $2 AND status = ANY($3::text[])`, status.String(), id, names)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrLeaseHeld
		}
		return unavailable("update status", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM chat_messages WHERE id = $1)`, id).Scan(&exists); err != nil {
		return unavailable("update status", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrInvalidTransition
}

func (s *PGStore) SelectOldest(ctx context.Context, status Status, f Filter) (*Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM chat_messages
		WHERE status = $1 AND ($2::text IS NULL OR role = $2) AND ($3::text IS NULL OR command = $3)
		ORDER BY created_at ASC, seq ASC LIMIT 1`, status.String(), roleArg(f), commandArg(f))
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, unavailable("select oldest", err)
	}
	return m, nil
}

func (s *PGStore) Count(ctx context.Context, status Status) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chat_messages WHERE status = $1`, status.String()).Scan(&n); err != nil {
		return 0, unavailable("count", err)
	}
	return n, nil
}

// transitionOldest moves the oldest Awaiting row matching f to target in a single
// statement. SKIP LOCKED keeps concurrent claimers from picking the same row.
func (s *PGStore) transitionOldest(ctx context.Context, f Filter, target Status) (*Message, error) {
	row := s.db.QueryRowContext(ctx, `WITH next AS (
			SELECT id FROM chat_messages
			WHERE status = 'AWAITING' AND ($1::text IS NULL OR role = $1) AND ($2::text IS NULL OR command = $2)
			ORDER BY created_at ASC, seq ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE chat_messages c
		SET status = $3, claimed_at = CASE WHEN $3 = 'IN_PROCESS' THEN NOW() ELSE c.claimed_at END
		FROM next WHERE c.id = next.id
		RETURNING c.id, c.username, c.text, c.command, c.role, c.status, c.created_at, c.claimed_at`,
		roleArg(f), commandArg(f), target.String())
	return scanMessage(row)
}

func (s *PGStore) Claim(ctx context.Context, f Filter) (*Lease, *Message, error) {
	m, err := s.transitionOldest(ctx, f, InProcess)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil, ErrEmpty
	case isUniqueViolation(err):
		return nil, nil, ErrLeaseHeld
	case err != nil:
		return nil, nil, unavailable("claim", err)
	}
	lease := &Lease{MessageID: m.ID}
	if m.ClaimedAt != nil {
		lease.AcquiredAt = *m.ClaimedAt
	}
	return lease, m, nil
}

func (s *PGStore) Take(ctx context.Context, f Filter) (*Message, error) {
	m, err := s.transitionOldest(ctx, f, Completed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, unavailable("take", err)
	}
	return m, nil
}

func (s *PGStore) Approve(ctx context.Context, ids []uuid.UUID) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = id.String()
	}
	res, err := s.db.ExecContext(ctx, `UPDATE chat_messages SET status = 'AWAITING'
		WHERE status = 'UNVERIFIED' AND id = ANY($1::uuid[])`, strs)
	if err != nil {
		return 0, unavailable("approve", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *PGStore) List(ctx context.Context, status Status, limit int) ([]Message, error) {
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+messageColumns+` FROM chat_messages
		WHERE status = $1 ORDER BY created_at ASC, seq ASC LIMIT $2`, status.String(), limit)
	if err != nil {
		return nil, unavailable("list", err)
	}
	defer rows.Close()
	out := make([]Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, unavailable("list", err)
		}
		out = append(out, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list", err)
	}
	return out, nil
}

func (s *PGStore) ReapStale(ctx context.Context, olderThan time.Duration) (int, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE chat_messages SET status = 'COMPLETED'
		WHERE status = 'IN_PROCESS' AND claimed_at < NOW() - ($1 * INTERVAL '1 second')`, olderThan.Seconds())
	if err != nil {
		return 0, unavailable("reap stale", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
