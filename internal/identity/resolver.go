package identity

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// ErrUnknownUser is returned when neither a user ID nor a resolvable
// email identifies the caller. Room joins surface it as a recoverable
// client error.
var ErrUnknownUser = errors.New("unknown user")

// Resolver maps a client-supplied identity to the canonical string user
// ID. Clients may send a user ID directly or only an email address.
type Resolver interface {
	ResolveEmail(ctx context.Context, email string) (string, error)
}

// StaticResolver is an in-memory email -> user ID table, used when no
// database is configured and in tests.
type StaticResolver struct {
	mu    sync.RWMutex
	users map[string]string
}

func NewStaticResolver() *StaticResolver {
	return &StaticResolver{users: make(map[string]string)}
}

func (r *StaticResolver) Add(email, userID string) {
	email = normalizeEmail(email)
	if email == "" || strings.TrimSpace(userID) == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[email] = strings.TrimSpace(userID)
}

func (r *StaticResolver) ResolveEmail(_ context.Context, email string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.users[normalizeEmail(email)]
	if !ok {
		return "", ErrUnknownUser
	}
	return id, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
