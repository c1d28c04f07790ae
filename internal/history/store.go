package history

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/inboxd/inboxd/internal/task"
)

var ErrNotFound = errors.New("no recorded task execution")

// Record is one finalized task execution, serialized for UI replay.
// Replay is a read-only projection: it never re-opens auth or approval
// gates.
type Record struct {
	ID        string      `json:"id"`
	UserID    string      `json:"user_id"`
	SessionID string      `json:"session_id"`
	Query     string      `json:"query"`
	Result    task.Result `json:"result"`
	CreatedAt time.Time   `json:"timestamp"`
}

// Store persists finalized task executions keyed by session.
type Store interface {
	SaveRecord(ctx context.Context, rec Record) error
	LatestBySession(ctx context.Context, userID, sessionID string) (Record, error)
	ListBySession(ctx context.Context, userID, sessionID string, limit int) ([]Record, error)
	Close() error
}

// MemoryStore is the fallback store when no database is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string][]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string][]Record)}
}

func sessionKey(userID, sessionID string) string {
	return userID + "|" + sessionID
}

func (s *MemoryStore) SaveRecord(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := sessionKey(rec.UserID, rec.SessionID)
	s.records[key] = append(s.records[key], rec)
	return nil
}

func (s *MemoryStore) LatestBySession(_ context.Context, userID, sessionID string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := s.records[sessionKey(userID, sessionID)]
	if len(recs) == 0 {
		return Record{}, ErrNotFound
	}
	return recs[len(recs)-1], nil
}

func (s *MemoryStore) ListBySession(_ context.Context, userID, sessionID string, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := s.records[sessionKey(userID, sessionID)]
	out := make([]Record, len(recs))
	copy(out, recs)
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
