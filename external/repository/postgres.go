package repository

import (
	"context"
	"time"

	"github.com/foxseedlab/mimamorin/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) repository.Repository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) CreateSession(ctx context.Context, input repository.CreateSessionInput) (*repository.Session, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO sessions (source_kind, session_type, primary_concern, started_at, status)
		 VALUES ($1, $2, $3, $4, 'running')
		 RETURNING id, source_kind, session_type, primary_concern, started_at, ended_at, status`,
		input.SourceKind, input.SessionType, input.PrimaryConcern, input.StartedAt)
	var s repository.Session
	var endedAt *time.Time
	err := row.Scan(&s.ID, &s.SourceKind, &s.SessionType, &s.PrimaryConcern, &s.StartedAt, &endedAt, &s.Status)
	if err != nil {
		return nil, err
	}
	s.EndedAt = endedAt
	return &s, nil
}

func (r *PostgresRepository) CompleteSession(ctx context.Context, input repository.CompleteSessionInput) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE sessions
		 SET status = 'completed', ended_at = $2, stop_reason = $3,
		     duration_seconds = $4, alert_count = $5, summary = $6
		 WHERE id = $1`,
		input.SessionID, input.EndedAt, input.StopReason,
		input.DurationSeconds, input.AlertCount, input.SummaryJSON)
	return err
}

func (r *PostgresRepository) GetSession(ctx context.Context, sessionID string) (*repository.Session, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, source_kind, session_type, primary_concern, started_at, ended_at,
		        status, stop_reason, duration_seconds, alert_count, summary, created_at
		 FROM sessions WHERE id = $1`,
		sessionID)
	var s repository.Session
	var endedAt *time.Time
	err := row.Scan(&s.ID, &s.SourceKind, &s.SessionType, &s.PrimaryConcern, &s.StartedAt, &endedAt,
		&s.Status, &s.StopReason, &s.DurationSeconds, &s.AlertCount, &s.SummaryJSON, &s.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	s.EndedAt = endedAt
	return &s, nil
}

func (r *PostgresRepository) CloseOrphanSessions(ctx context.Context, endedAt time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE sessions
		 SET status = 'orphaned', ended_at = $1, stop_reason = 'process restart'
		 WHERE status = 'running'`,
		endedAt)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
