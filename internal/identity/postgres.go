package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresResolver looks users up by email in the shared users table.
type PostgresResolver struct {
	pool *pgxpool.Pool
}

func NewPostgresResolver(ctx context.Context, databaseURL string) (*PostgresResolver, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initUserSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresResolver{pool: pool}, nil
}

// NewPostgresResolverWithPool shares an existing pool, typically the one
// owned by the history store.
func NewPostgresResolverWithPool(pool *pgxpool.Pool) *PostgresResolver {
	return &PostgresResolver{pool: pool}
}

func initUserSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx,
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE
		);`)
	if err != nil {
		return fmt.Errorf("init user schema: %w", err)
	}
	return nil
}

func (r *PostgresResolver) ResolveEmail(ctx context.Context, email string) (string, error) {
	email = normalizeEmail(email)
	if email == "" {
		return "", ErrUnknownUser
	}
	var id string
	err := r.pool.QueryRow(ctx, `SELECT id FROM users WHERE email=$1`, email).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrUnknownUser
		}
		return "", fmt.Errorf("resolve user email: %w", err)
	}
	return id, nil
}

func (r *PostgresResolver) Close() error {
	r.pool.Close()
	return nil
}
