package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store used for local runs (STORE_BACKEND=memory)
// and tests. It keeps every message for the life of the process.
type MemoryStore struct {
	mu   sync.Mutex
	rows []*Message
	byID map[uuid.UUID]*Message
	now  func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[uuid.UUID]*Message), now: time.Now}
}

// SetClock overrides the time source; tests use it to make creation order explicit.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) Insert(_ context.Context, m *Message) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := *m
	row.ID = uuid.New()
	row.CreatedAt = s.now().UTC()
	row.ClaimedAt = nil
	if row.Role == "" {
		row.Role = RoleAudience
	}
	if row.Status == 0 {
		row.Status = Awaiting
	}
	s.rows = append(s.rows, &row)
	s.byID[row.ID] = &row
	m.ID, m.CreatedAt, m.Role, m.Status = row.ID, row.CreatedAt, row.Role, row.Status
	return row.ID, nil
}

func (s *MemoryStore) ExistsByText(_ context.Context, text string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rows {
		if r.Command.Text == text {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) ExistsByAuthorAndStatus(_ context.Context, author string, status Status) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rows {
		if r.Author == author && r.Status == status {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, id uuid.UUID, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	if !r.Status.CanTransition(status) {
		return ErrInvalidTransition
	}
	if status == InProcess {
		for _, o := range s.rows {
			if o.Status == InProcess {
				return ErrLeaseHeld
			}
		}
	}
	r.Status = status
	if status == InProcess {
		t := s.now().UTC()
		r.ClaimedAt = &t
	}
	return nil
}

// oldest returns the first row in creation order matching status and f.
// Rows are appended in insertion order, which doubles as the tie-breaker.
func (s *MemoryStore) oldest(status Status, f Filter) *Message {
	var best *Message
	for _, r := range s.rows {
		if r.Status != status || !f.matches(r) {
			continue
		}
		if best == nil || r.CreatedAt.Before(best.CreatedAt) {
			best = r
		}
	}
	return best
}

func (s *MemoryStore) SelectOldest(_ context.Context, status Status, f Filter) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.oldest(status, f)
	if r == nil {
		return nil, ErrEmpty
	}
	out := *r
	return &out, nil
}

func (s *MemoryStore) Count(_ context.Context, status Status) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.rows {
		if r.Status == status {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Claim(_ context.Context, f Filter) (*Lease, *Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rows {
		if r.Status == InProcess {
			return nil, nil, ErrLeaseHeld
		}
	}
	r := s.oldest(Awaiting, f)
	if r == nil {
		return nil, nil, ErrEmpty
	}
	t := s.now().UTC()
	r.Status = InProcess
	r.ClaimedAt = &t
	out := *r
	return &Lease{MessageID: r.ID, AcquiredAt: t}, &out, nil
}

func (s *MemoryStore) Take(_ context.Context, f Filter) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.oldest(Awaiting, f)
	if r == nil {
		return nil, ErrEmpty
	}
	r.Status = Completed
	out := *r
	return &out, nil
}

func (s *MemoryStore) Approve(_ context.Context, ids []uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, id := range ids {
		if r, ok := s.byID[id]; ok && r.Status == Unverified {
			r.Status = Awaiting
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) List(_ context.Context, status Status, limit int) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, 0)
	for _, r := range s.rows {
		if r.Status == status {
			out = append(out, *r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ReapStale(_ context.Context, olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-olderThan)
	n := 0
	for _, r := range s.rows {
		if r.Status == InProcess && r.ClaimedAt != nil && r.ClaimedAt.Before(cutoff) {
			r.Status = Completed
			n++
		}
	}
	return n, nil
}
