package analysis

import (
	"context"
	"encoding/json"
	"time"
)

type Kind string

const (
	// KindRealtime is the low-latency, alert-only pass.
	KindRealtime Kind = "realtime"
	// KindComprehensive is the heavier pass producing metrics, pathway
	// indicators and citations.
	KindComprehensive Kind = "comprehensive"
)

const (
	TimingNow   = "now"
	TimingPause = "pause"
	TimingInfo  = "info"
)

const (
	CategorySafety        = "safety"
	CategoryTechnique     = "technique"
	CategoryPathwayChange = "pathway_change"
	CategoryEngagement    = "engagement"
	CategoryProcess       = "process"
)

type SegmentEntry struct {
	Speaker   string `json:"speaker"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

type SessionContext struct {
	SessionType     string `json:"session_type,omitempty"`
	PrimaryConcern  string `json:"primary_concern,omitempty"`
	CurrentApproach string `json:"current_approach,omitempty"`
	// TherapyPhase is derived from the session duration via Phase.
	TherapyPhase string `json:"therapy_phase,omitempty"`
}

type Request struct {
	Kind            Kind
	Segment         []SegmentEntry
	Context         SessionContext
	DurationMinutes int
	// PreviousAlert is forwarded on realtime requests only, as a
	// backend-side suppression hint.
	PreviousAlert *Alert
}

type Alert struct {
	Timing                 string    `json:"timing"`
	Category               string    `json:"category"`
	Title                  string    `json:"title"`
	Message                string    `json:"message"`
	Evidence               []string  `json:"evidence,omitempty"`
	Recommendation         []string  `json:"recommendation,omitempty"`
	Timestamp              time.Time `json:"-"`
	SessionRelativeSeconds int       `json:"-"`
}

type SessionMetrics struct {
	EngagementLevel     float64  `json:"engagement_level"`
	TherapeuticAlliance string   `json:"therapeutic_alliance"`
	TechniquesDetected  []string `json:"techniques_detected"`
	EmotionalState      string   `json:"emotional_state"`
	// PhaseAppropriate is a pointer so an absent field can be told apart
	// from an explicit false.
	PhaseAppropriate *bool `json:"phase_appropriate,omitempty"`
}

const (
	EffectivenessEffective   = "effective"
	EffectivenessStruggling  = "struggling"
	EffectivenessIneffective = "ineffective"
	EffectivenessUnknown     = "unknown"
)

const (
	UrgencyNone        = "none"
	UrgencyMonitor     = "monitor"
	UrgencyConsider    = "consider"
	UrgencyRecommended = "recommended"
)

type PathwayIndicators struct {
	CurrentApproachEffectiveness string   `json:"current_approach_effectiveness"`
	AlternativePathways          []string `json:"alternative_pathways"`
	ChangeUrgency                string   `json:"change_urgency"`
}

type Citation struct {
	CitationNumber int            `json:"citation_number"`
	Source         CitationSource `json:"source"`
}

type CitationSource struct {
	Title   string    `json:"title"`
	URI     string    `json:"uri,omitempty"`
	Excerpt string    `json:"excerpt,omitempty"`
	Pages   *PageSpan `json:"pages,omitempty"`
}

type PageSpan struct {
	First int `json:"first"`
	Last  int `json:"last"`
}

// Result is the union of everything a single analysis call produced.
// Any field may be nil when the corresponding response line was absent.
type Result struct {
	Alert     *Alert
	Metrics   *SessionMetrics
	Pathway   *PathwayIndicators
	Citations []Citation
}

type SummaryRequest struct {
	Transcript []SegmentEntry
	Metrics    *SessionMetrics
}

type Analyzer interface {
	AnalyzeSegment(ctx context.Context, req Request) (*Result, error)
	Summarize(ctx context.Context, req SummaryRequest) (json.RawMessage, error)
}

// Phase maps the elapsed session duration onto the coarse therapy phase the
// analysis backend expects.
func Phase(durationMinutes int) string {
	switch {
	case durationMinutes <= 10:
		return "beginning"
	case durationMinutes <= 40:
		return "middle"
	default:
		return "end"
	}
}
