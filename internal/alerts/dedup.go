package alerts

import (
	"strings"
	"time"

	"github.com/foxseedlab/mimamorin/internal/analysis"
)

const (
	// HardSpacing is the global debounce between any two surfaced alerts.
	// It runs before every other check, including for safety/now
	// candidates.
	HardSpacing = 7 * time.Second

	fuzzyThreshold      = 0.7
	tagOverlapThreshold = 0.7

	categoryThrottleWindow = time.Minute
	categoryThrottleLimit  = 3
)

type Decision struct {
	Accepted bool
	Reason   string
}

func accept() Decision {
	return Decision{Accepted: true}
}

func block(reason string) Decision {
	return Decision{Reason: reason}
}

// Evaluate runs the layered accept/suppress procedure for a candidate alert
// against a history snapshot. Checks apply in strict order; the first match
// blocks. The result depends only on (candidate, history, now).
func Evaluate(candidate analysis.Alert, history []analysis.Alert, now time.Time) Decision {
	for _, prev := range history {
		if absDuration(now.Sub(prev.Timestamp)) < HardSpacing {
			return block("alert spacing")
		}
	}

	for _, prev := range history {
		if strings.EqualFold(strings.TrimSpace(candidate.Title), strings.TrimSpace(prev.Title)) {
			return block("exact title match")
		}
	}

	candTitle := normalizeWords(candidate.Title)
	candMessage := normalizeWords(candidate.Message)
	for _, prev := range history {
		if jaccard(candTitle, normalizeWords(prev.Title)) >= fuzzyThreshold {
			return block("fuzzy title match")
		}
		if jaccard(candMessage, normalizeWords(prev.Message)) >= fuzzyThreshold {
			return block("fuzzy message match")
		}
	}

	candTags := topicTags(candidate.Title + " " + candidate.Message)
	for _, prev := range history {
		if tagOverlap(candTags, topicTags(prev.Title+" "+prev.Message)) >= tagOverlapThreshold {
			return block("overlapping topic")
		}
	}

	safetyNow := candidate.Category == analysis.CategorySafety && candidate.Timing == analysis.TimingNow
	if !safetyNow {
		sameCategory := 0
		cutoff := now.Add(-categoryThrottleWindow)
		for _, prev := range history {
			if prev.Category == candidate.Category && !prev.Timestamp.Before(cutoff) {
				sameCategory++
			}
		}
		if sameCategory >= categoryThrottleLimit {
			return block("category throttle")
		}
	}

	return accept()
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// normalizeWords lowercases, strips punctuation and drops words shorter
// than three characters.
func normalizeWords(text string) map[string]struct{} {
	words := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Map(func(r rune) rune {
			if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
				return r
			}
			return -1
		}, w)
		if len(w) < 3 {
			continue
		}
		words[w] = struct{}{}
	}
	return words
}

// Jaccard computes |A∩B| / |A∪B| over normalized word sets. Two empty sets
// are treated as identical.
func Jaccard(a, b string) float64 {
	return jaccard(normalizeWords(a), normalizeWords(b))
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}
	intersection := 0
	for w := range a {
		if _, ok := b[w]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}

var topicVocabulary = map[string][]string{
	"safety_concern":           {"safety", "risk", "harm", "crisis", "suicid", "danger", "wellbeing"},
	"technique_suggestion":     {"technique", "skill", "exercise", "practice", "intervention", "grounding"},
	"therapeutic_relationship": {"alliance", "rapport", "relationship", "trust", "connection"},
	"anxiety_related":          {"anxiety", "anxious", "panic", "worry", "fear", "catastroph"},
	"depression_related":       {"depress", "hopeless", "sad", "withdrawn", "numb"},
	"emotional_state":          {"emotion", "feeling", "mood", "distress", "overwhelm", "dissociat"},
	"treatment_approach":       {"approach", "pathway", "treatment", "protocol", "exposure", "method"},
}

func topicTags(text string) map[string]struct{} {
	lower := strings.ToLower(text)
	tags := make(map[string]struct{})
	for tag, needles := range topicVocabulary {
		for _, n := range needles {
			if strings.Contains(lower, n) {
				tags[tag] = struct{}{}
				break
			}
		}
	}
	return tags
}

// tagOverlap is |A∩B| / max(|A|, |B|); zero when either set is empty.
func tagOverlap(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}
	intersection := 0
	for t := range a {
		if _, ok := b[t]; ok {
			intersection++
		}
	}
	max := len(a)
	if len(b) > max {
		max = len(b)
	}
	return float64(intersection) / float64(max)
}
