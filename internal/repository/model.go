package repository

import "time"

type SessionStatus string

const (
	SessionStatusRunning   SessionStatus = "running"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusOrphaned  SessionStatus = "orphaned"
)

type Session struct {
	ID              string
	SourceKind      string
	SessionType     string
	PrimaryConcern  string
	StartedAt       time.Time
	EndedAt         *time.Time
	Status          SessionStatus
	StopReason      string
	DurationSeconds int64
	AlertCount      int
	SummaryJSON     []byte
	CreatedAt       time.Time
}
