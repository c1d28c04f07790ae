package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inboxd/inboxd/internal/task"
)

// PostgresStore persists task executions in two tables: one row per
// run plus its iteration records in order.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initHistorySchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

// Pool exposes the underlying connection pool so collaborators (the
// identity resolver) can share it.
func (s *PostgresStore) Pool() *pgxpool.Pool { return s.pool }

func initHistorySchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS email_tool_runs (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			query TEXT NOT NULL,
			success BOOLEAN NOT NULL,
			summary TEXT NOT NULL DEFAULT '',
			total_iterations INTEGER NOT NULL,
			final_reasoning TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_email_tool_runs_session
			ON email_tool_runs (user_id, session_id, created_at DESC);`,
		`CREATE TABLE IF NOT EXISTS email_tool_iterations (
			run_id TEXT NOT NULL REFERENCES email_tool_runs(id) ON DELETE CASCADE,
			iteration INTEGER NOT NULL,
			reasoning TEXT NOT NULL DEFAULT '',
			function TEXT NOT NULL DEFAULT '',
			parameters_json TEXT NOT NULL DEFAULT '{}',
			result_json TEXT NOT NULL DEFAULT '{}',
			PRIMARY KEY (run_id, iteration)
		);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init history schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) SaveRecord(ctx context.Context, rec Record) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO email_tool_runs (
			id, user_id, session_id, query, success, summary, total_iterations, final_reasoning, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (id) DO UPDATE SET
			user_id=EXCLUDED.user_id,
			session_id=EXCLUDED.session_id,
			query=EXCLUDED.query,
			success=EXCLUDED.success,
			summary=EXCLUDED.summary,
			total_iterations=EXCLUDED.total_iterations,
			final_reasoning=EXCLUDED.final_reasoning,
			created_at=EXCLUDED.created_at`,
		rec.ID,
		rec.UserID,
		rec.SessionID,
		rec.Query,
		rec.Result.Success,
		rec.Result.Summary,
		rec.Result.TotalIterations,
		rec.Result.FinalReasoning,
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert run: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM email_tool_iterations WHERE run_id=$1`, rec.ID); err != nil {
		return fmt.Errorf("delete prior iterations: %w", err)
	}

	for _, it := range rec.Result.Iterations {
		params, err := json.Marshal(it.Parameters)
		if err != nil {
			return fmt.Errorf("marshal iteration parameters: %w", err)
		}
		result, err := json.Marshal(it.Result)
		if err != nil {
			return fmt.Errorf("marshal iteration result: %w", err)
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO email_tool_iterations (
				run_id, iteration, reasoning, function, parameters_json, result_json
			) VALUES ($1,$2,$3,$4,$5,$6)`,
			rec.ID,
			it.Iteration,
			it.Reasoning,
			it.Function,
			string(params),
			string(result),
		)
		if err != nil {
			return fmt.Errorf("insert iteration record: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) LatestBySession(ctx context.Context, userID, sessionID string) (Record, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, user_id, session_id, query, success, summary, total_iterations, final_reasoning, created_at
		   FROM email_tool_runs
		  WHERE user_id=$1 AND session_id=$2
		  ORDER BY created_at DESC LIMIT 1`,
		userID, sessionID,
	)
	rec, err := scanRunRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("get latest run: %w", err)
	}
	rec.Result.Iterations, err = s.loadIterations(ctx, rec.ID)
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (s *PostgresStore) ListBySession(ctx context.Context, userID, sessionID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, session_id, query, success, summary, total_iterations, final_reasoning, created_at
		   FROM email_tool_runs
		  WHERE user_id=$1 AND session_id=$2
		  ORDER BY created_at DESC LIMIT $3`,
		userID, sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0, limit)
	for rows.Next() {
		rec, err := scanRunRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run rows: %w", err)
	}
	for i := range out {
		out[i].Result.Iterations, err = s.loadIterations(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *PostgresStore) loadIterations(ctx context.Context, runID string) ([]task.IterationRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT iteration, reasoning, function, parameters_json, result_json
		   FROM email_tool_iterations WHERE run_id=$1 ORDER BY iteration ASC`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list iterations: %w", err)
	}
	defer rows.Close()

	iterations := make([]task.IterationRecord, 0, 4)
	for rows.Next() {
		var (
			it         task.IterationRecord
			paramsJSON string
			resultJSON string
		)
		if err := rows.Scan(&it.Iteration, &it.Reasoning, &it.Function, &paramsJSON, &resultJSON); err != nil {
			return nil, fmt.Errorf("scan iteration row: %w", err)
		}
		if paramsJSON != "" && paramsJSON != "null" {
			if err := json.Unmarshal([]byte(paramsJSON), &it.Parameters); err != nil {
				return nil, fmt.Errorf("decode iteration parameters: %w", err)
			}
		}
		if resultJSON != "" && resultJSON != "null" {
			if err := json.Unmarshal([]byte(resultJSON), &it.Result); err != nil {
				return nil, fmt.Errorf("decode iteration result: %w", err)
			}
		}
		iterations = append(iterations, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate iteration rows: %w", err)
	}
	return iterations, nil
}

func scanRunRow(row pgx.Row) (Record, error) {
	var (
		rec       Record
		createdAt time.Time
	)
	if err := row.Scan(
		&rec.ID,
		&rec.UserID,
		&rec.SessionID,
		&rec.Query,
		&rec.Result.Success,
		&rec.Result.Summary,
		&rec.Result.TotalIterations,
		&rec.Result.FinalReasoning,
		&createdAt,
	); err != nil {
		return Record{}, err
	}
	rec.CreatedAt = createdAt
	return rec, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
