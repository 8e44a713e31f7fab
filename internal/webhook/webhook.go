package webhook

import (
	"context"
	"encoding/json"

	"github.com/foxseedlab/mimamorin/internal/analysis"
)

type AlertPayload struct {
	SessionID              string         `json:"session_id"`
	Alert                  analysis.Alert `json:"alert"`
	SessionRelativeSeconds int            `json:"session_relative_seconds"`
	SentAt                 string         `json:"sent_at"`
}

type SummaryPayload struct {
	SessionID       string                   `json:"session_id"`
	DurationSeconds int64                    `json:"duration_seconds"`
	Summary         json.RawMessage          `json:"summary,omitempty"`
	Metrics         *analysis.SessionMetrics `json:"metrics,omitempty"`
	AlertCount      int                      `json:"alert_count"`
	EndedAt         string                   `json:"ended_at"`
}

type Sender interface {
	SendAlert(ctx context.Context, payload AlertPayload) error
	SendSummary(ctx context.Context, payload SummaryPayload) error
}
