package transfer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"voicebridge/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// SessionStore holds in-flight transfer sessions. Sessions are ephemeral
// process state (the Call record carries the durable markers), but they must
// be visible across processes because the carrier may route consecutive
// webhooks to different instances.
type SessionStore interface {
	// Claim atomically takes the source call's transfer slot for roomID.
	// Returns false when another session already holds it.
	Claim(ctx context.Context, sourceCallSid, roomID string, ttl time.Duration) (bool, error)
	// Release frees the slot if roomID still owns it.
	Release(ctx context.Context, sourceCallSid, roomID string) error

	Save(ctx context.Context, s Session, ttl time.Duration) error
	GetByRoom(ctx context.Context, roomID string) (Session, error)
	// ActiveBySource resolves the session currently holding the slot.
	ActiveBySource(ctx context.Context, sourceCallSid string) (Session, error)
	// ActiveByTarget resolves the session whose announcement leg carries the
	// given sid. Save maintains the index once TargetCallSid is set.
	ActiveByTarget(ctx context.Context, targetCallSid string) (Session, error)
}

var ErrSessionNotFound = errors.New("transfer: session not found")

// RedisSessionStore keys sessions by room id with a TTL so crashed transfers
// age out; the slot key is the cross-process exclusivity lock.
type RedisSessionStore struct {
	rdb *redis.Client
}

func NewRedisSessionStore(rdb *redis.Client) *RedisSessionStore {
	return &RedisSessionStore{rdb: rdb}
}

func slotKey(sourceCallSid string) string   { return "transfer:slot:" + sourceCallSid }
func roomKey(roomID string) string          { return "transfer:room:" + roomID }
func targetKey(targetCallSid string) string { return "transfer:target:" + targetCallSid }

func (s *RedisSessionStore) Claim(ctx context.Context, sourceCallSid, roomID string, ttl time.Duration) (bool, error) {
	return utils.ClaimSlot(ctx, s.rdb, slotKey(sourceCallSid), roomID, ttl)
}

func (s *RedisSessionStore) Release(ctx context.Context, sourceCallSid, roomID string) error {
	return utils.ReleaseSlot(ctx, s.rdb, slotKey(sourceCallSid), roomID)
}

func (s *RedisSessionStore) Save(ctx context.Context, sess Session, ttl time.Duration) error {
	if sess.RoomID == "" {
		return fmt.Errorf("transfer: room id is required")
	}
	raw, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, roomKey(sess.RoomID), raw, ttl).Err(); err != nil {
		return err
	}
	if sess.TargetCallSid != "" {
		return s.rdb.Set(ctx, targetKey(sess.TargetCallSid), sess.RoomID, ttl).Err()
	}
	return nil
}

func (s *RedisSessionStore) GetByRoom(ctx context.Context, roomID string) (Session, error) {
	raw, err := s.rdb.Get(ctx, roomKey(roomID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Session{}, ErrSessionNotFound
		}
		return Session{}, err
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return Session{}, err
	}
	return sess, nil
}

func (s *RedisSessionStore) ActiveBySource(ctx context.Context, sourceCallSid string) (Session, error) {
	roomID, err := s.rdb.Get(ctx, slotKey(sourceCallSid)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Session{}, ErrSessionNotFound
		}
		return Session{}, err
	}
	return s.GetByRoom(ctx, roomID)
}

func (s *RedisSessionStore) ActiveByTarget(ctx context.Context, targetCallSid string) (Session, error) {
	roomID, err := s.rdb.Get(ctx, targetKey(targetCallSid)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Session{}, ErrSessionNotFound
		}
		return Session{}, err
	}
	return s.GetByRoom(ctx, roomID)
}

// MemorySessionStore mirrors the Redis semantics for tests (TTLs are
// accepted but not enforced).
type MemorySessionStore struct {
	mu      sync.Mutex
	slots   map[string]string
	rooms   map[string]Session
	targets map[string]string
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		slots:   map[string]string{},
		rooms:   map[string]Session{},
		targets: map[string]string{},
	}
}

func (s *MemorySessionStore) Claim(ctx context.Context, sourceCallSid, roomID string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if owner, ok := s.slots[sourceCallSid]; ok && owner != roomID {
		return false, nil
	}
	s.slots[sourceCallSid] = roomID
	return true, nil
}

func (s *MemorySessionStore) Release(ctx context.Context, sourceCallSid, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.slots[sourceCallSid] == roomID {
		delete(s.slots, sourceCallSid)
	}
	return nil
}

func (s *MemorySessionStore) Save(ctx context.Context, sess Session, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[sess.RoomID] = sess
	if sess.TargetCallSid != "" {
		s.targets[sess.TargetCallSid] = sess.RoomID
	}
	return nil
}

func (s *MemorySessionStore) GetByRoom(ctx context.Context, roomID string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.rooms[roomID]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return sess, nil
}

func (s *MemorySessionStore) ActiveBySource(ctx context.Context, sourceCallSid string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	roomID, ok := s.slots[sourceCallSid]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	sess, ok := s.rooms[roomID]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return sess, nil
}

func (s *MemorySessionStore) ActiveByTarget(ctx context.Context, targetCallSid string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	roomID, ok := s.targets[targetCallSid]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	sess, ok := s.rooms[roomID]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return sess, nil
}
