package history

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/inboxd/inboxd/internal/task"
)

func record(id, userID, sessionID string, at time.Time) Record {
	return Record{
		ID:        id,
		UserID:    userID,
		SessionID: sessionID,
		Query:     "query " + id,
		Result: task.Result{
			Success:         true,
			Summary:         "summary " + id,
			TotalIterations: 2,
		},
		CreatedAt: at,
	}
}

func TestMemoryStoreLatestBySession(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Now().UTC()

	for i := 0; i < 3; i++ {
		rec := record(fmt.Sprintf("r%d", i), "43", "4", base.Add(time.Duration(i)*time.Second))
		if err := s.SaveRecord(ctx, rec); err != nil {
			t.Fatalf("SaveRecord() error = %v", err)
		}
	}

	latest, err := s.LatestBySession(ctx, "43", "4")
	if err != nil {
		t.Fatalf("LatestBySession() error = %v", err)
	}
	if latest.ID != "r2" {
		t.Fatalf("latest.ID = %q, want r2", latest.ID)
	}
}

func TestMemoryStoreNotFound(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.LatestBySession(context.Background(), "43", "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("LatestBySession() error = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreSessionsAreIsolated(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	if err := s.SaveRecord(ctx, record("a", "43", "4", now)); err != nil {
		t.Fatalf("SaveRecord() error = %v", err)
	}
	if err := s.SaveRecord(ctx, record("b", "43", "5", now)); err != nil {
		t.Fatalf("SaveRecord() error = %v", err)
	}

	latest, err := s.LatestBySession(ctx, "43", "5")
	if err != nil {
		t.Fatalf("LatestBySession() error = %v", err)
	}
	if latest.ID != "b" {
		t.Fatalf("latest.ID = %q, want b", latest.ID)
	}
	// Same session ID under a different user is a different key.
	if _, err := s.LatestBySession(ctx, "99", "4"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cross-user LatestBySession() error = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreListNewestFirstWithLimit(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Now().UTC()

	for i := 0; i < 5; i++ {
		rec := record(fmt.Sprintf("r%d", i), "43", "4", base.Add(time.Duration(i)*time.Second))
		if err := s.SaveRecord(ctx, rec); err != nil {
			t.Fatalf("SaveRecord() error = %v", err)
		}
	}

	recs, err := s.ListBySession(ctx, "43", "4", 2)
	if err != nil {
		t.Fatalf("ListBySession() error = %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("len(recs) = %d, want 2", len(recs))
	}
	if recs[0].ID != "r4" || recs[1].ID != "r3" {
		t.Fatalf("recs = [%s %s], want [r4 r3]", recs[0].ID, recs[1].ID)
	}
}
