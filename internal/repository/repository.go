package repository

import (
	"context"
	"time"
)

type CreateSessionInput struct {
	SourceKind     string
	SessionType    string
	PrimaryConcern string
	StartedAt      time.Time
}

type CompleteSessionInput struct {
	SessionID       string
	EndedAt         time.Time
	StopReason      string
	DurationSeconds int64
	AlertCount      int
	SummaryJSON     []byte
}

type Repository interface {
	CreateSession(ctx context.Context, input CreateSessionInput) (*Session, error)
	CompleteSession(ctx context.Context, input CompleteSessionInput) error
	GetSession(ctx context.Context, sessionID string) (*Session, error)
	// CloseOrphanSessions marks sessions left running by a previous process
	// as orphaned, returning how many were closed.
	CloseOrphanSessions(ctx context.Context, endedAt time.Time) (int64, error)
}
