package calls

import (
	"context"
	"sync"
	"time"
)

// MemoryStore implements Store with the same transition semantics as the
// Postgres store. Useful for tests; not intended for production use.
type MemoryStore struct {
	mu    sync.Mutex
	rows  map[string]Call
	clock func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: map[string]Call{}, clock: time.Now}
}

func (s *MemoryStore) Create(ctx context.Context, c Call) (Call, error) {
	if c.Sid == "" || c.OrgID == "" {
		return Call{}, ErrInvalidCall
	}
	if c.Status == "" {
		c.Status = StatusQueued
	}
	if !c.Status.Known() {
		return Call{}, ErrInvalidCall
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[c.Sid]; ok {
		return Call{}, ErrAlreadyExists
	}
	now := s.clock().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	s.rows[c.Sid] = c
	return c, nil
}

func (s *MemoryStore) GetBySid(ctx context.Context, sid string) (Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.rows[sid]
	if !ok {
		return Call{}, ErrNotFound
	}
	return c, nil
}

func (s *MemoryStore) UpsertStatus(ctx context.Context, sid string, status Status) (bool, error) {
	if !status.Known() {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.rows[sid]
	if !ok {
		return false, ErrNotFound
	}
	if !c.Status.CanTransition(status) {
		return false, nil
	}
	c.Status = status
	c.UpdatedAt = s.clock().UTC()
	s.rows[sid] = c
	return true, nil
}

func (s *MemoryStore) SetRecording(ctx context.Context, sid, recordingURL, recordingSid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.rows[sid]
	if !ok {
		return ErrNotFound
	}
	c.RecordingURL = recordingURL
	c.RecordingSid = recordingSid
	c.UpdatedAt = s.clock().UTC()
	s.rows[sid] = c
	return nil
}
