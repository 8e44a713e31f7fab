package alerts

import (
	"time"

	"github.com/foxseedlab/mimamorin/internal/analysis"
)

// PresentationCap limits how many accepted alerts are exposed for display.
const PresentationCap = 8

// History is the rolling collection of accepted alerts. Alerts stay
// eligible for dedup comparison until they age past the retention window;
// presentation reads see at most PresentationCap of the newest ones.
type History struct {
	retention time.Duration
	alerts    []analysis.Alert // newest first
}

func NewHistory(retention time.Duration) *History {
	return &History{retention: retention}
}

// Evaluate prunes aged-out alerts and runs the decision procedure for the
// candidate against the remaining snapshot.
func (h *History) Evaluate(candidate analysis.Alert, now time.Time) Decision {
	h.Prune(now)
	return Evaluate(candidate, h.alerts, now)
}

// Accept records an alert that passed evaluation.
func (h *History) Accept(a analysis.Alert, now time.Time) {
	if a.Timestamp.IsZero() {
		a.Timestamp = now
	}
	h.alerts = append([]analysis.Alert{a}, h.alerts...)
	h.Prune(now)
}

func (h *History) Prune(now time.Time) {
	cutoff := now.Add(-h.retention)
	kept := h.alerts[:0]
	for _, a := range h.alerts {
		if !a.Timestamp.Before(cutoff) {
			kept = append(kept, a)
		}
	}
	h.alerts = kept
}

// Latest returns the most recently accepted alert, or nil.
func (h *History) Latest() *analysis.Alert {
	if len(h.alerts) == 0 {
		return nil
	}
	a := h.alerts[0]
	return &a
}

// Presented returns up to PresentationCap alerts, newest first.
func (h *History) Presented() []analysis.Alert {
	n := len(h.alerts)
	if n > PresentationCap {
		n = PresentationCap
	}
	out := make([]analysis.Alert, n)
	copy(out, h.alerts[:n])
	return out
}

func (h *History) Len() int {
	return len(h.alerts)
}
