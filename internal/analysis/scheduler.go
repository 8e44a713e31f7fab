package analysis

import "time"

// Scheduler decides when transcript growth warrants a new analysis pass. It
// counts words from finalized entries and fires once the threshold is
// reached. Words beyond the threshold in the triggering entry are discarded,
// not carried into the next cycle.
type Scheduler struct {
	threshold int
	window    time.Duration
	words     int
}

func NewScheduler(threshold int, window time.Duration) *Scheduler {
	return &Scheduler{threshold: threshold, window: window}
}

// AddWords accumulates the word count of one finalized entry and reports
// whether an analysis pass should fire. Firing resets the counter to zero.
func (s *Scheduler) AddWords(n int) bool {
	if n <= 0 {
		return false
	}
	s.words += n
	if s.words >= s.threshold {
		s.words = 0
		return true
	}
	return false
}

// Window is the trailing transcript span each analysis pass covers.
func (s *Scheduler) Window() time.Duration {
	return s.window
}

// Pending is the number of words accumulated since the last fire.
func (s *Scheduler) Pending() int {
	return s.words
}
