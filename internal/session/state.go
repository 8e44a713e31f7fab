package session

import (
	"sync"
	"time"

	"github.com/foxseedlab/mimamorin/internal/analysis"
)

// pathwayHistoryCap bounds the recorded approach-effectiveness shifts.
const pathwayHistoryCap = 10

type PathwayShift struct {
	At            time.Time
	Effectiveness string
	ChangeUrgency string
}

type PathwayState struct {
	Approach      string
	Effectiveness string
	ChangeUrgency string
	Alternatives  []string
	History       []PathwayShift
}

// State aggregates the comprehensive-analysis outputs over a session. Each
// incoming result is merged field by field: absent or zero-valued fields
// never erase earlier observations.
type State struct {
	mu        sync.Mutex
	metrics   analysis.SessionMetrics
	hasMetric bool
	pathway   PathwayState
	citations []analysis.Citation
}

func NewState(initialApproach string) *State {
	return &State{
		pathway: PathwayState{
			Approach:      initialApproach,
			Effectiveness: analysis.EffectivenessUnknown,
			ChangeUrgency: analysis.UrgencyNone,
		},
	}
}

func (s *State) ApplyMetrics(m *analysis.SessionMetrics) {
	if m == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hasMetric = true
	if m.EngagementLevel != 0 {
		s.metrics.EngagementLevel = m.EngagementLevel
	}
	if m.TherapeuticAlliance != "" {
		s.metrics.TherapeuticAlliance = m.TherapeuticAlliance
	}
	if len(m.TechniquesDetected) > 0 {
		s.metrics.TechniquesDetected = m.TechniquesDetected
	}
	if m.EmotionalState != "" {
		s.metrics.EmotionalState = m.EmotionalState
	}
	if m.PhaseAppropriate != nil {
		s.metrics.PhaseAppropriate = m.PhaseAppropriate
	}
}

// ApplyPathway merges a pathway reading. A history entry is recorded only
// when the effectiveness or change urgency actually moved.
func (s *State) ApplyPathway(p *analysis.PathwayIndicators, at time.Time) {
	if p == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	effectiveness := p.CurrentApproachEffectiveness
	if effectiveness == "" {
		effectiveness = s.pathway.Effectiveness
	}
	urgency := p.ChangeUrgency
	if urgency == "" {
		urgency = s.pathway.ChangeUrgency
	}
	if effectiveness != s.pathway.Effectiveness || urgency != s.pathway.ChangeUrgency {
		s.pathway.History = append(s.pathway.History, PathwayShift{
			At:            at,
			Effectiveness: effectiveness,
			ChangeUrgency: urgency,
		})
		if len(s.pathway.History) > pathwayHistoryCap {
			s.pathway.History = s.pathway.History[len(s.pathway.History)-pathwayHistoryCap:]
		}
	}
	s.pathway.Effectiveness = effectiveness
	s.pathway.ChangeUrgency = urgency
	if len(p.AlternativePathways) > 0 {
		s.pathway.Alternatives = p.AlternativePathways
	}
}

// ApplyCitations replaces the citation set with the latest non-empty one.
func (s *State) ApplyCitations(cs []analysis.Citation) {
	if len(cs) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.citations = cs
}

// Metrics returns the merged metrics, or nil when no comprehensive pass has
// reported any yet.
func (s *State) Metrics() *analysis.SessionMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasMetric {
		return nil
	}
	m := s.metrics
	return &m
}

func (s *State) Pathway() PathwayState {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.pathway
	p.Alternatives = append([]string(nil), s.pathway.Alternatives...)
	p.History = append([]PathwayShift(nil), s.pathway.History...)
	return p
}

func (s *State) Citations() []analysis.Citation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]analysis.Citation(nil), s.citations...)
}
