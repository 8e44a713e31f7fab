package transcript

import (
	"strings"
	"time"
)

type Entry struct {
	Text      string
	Speaker   string
	Timestamp time.Time
	IsFinal   bool
}

// Log holds transcript entries in arrival order. At most one interim entry
// exists at any time, and it is always the last entry: an interim update
// replaces a trailing interim entry, and a final update discards any
// trailing interim entry before being appended.
type Log struct {
	entries []Entry
}

func (l *Log) Apply(e Entry) {
	if n := len(l.entries); n > 0 && !l.entries[n-1].IsFinal {
		l.entries[n-1] = e
		return
	}
	l.entries = append(l.entries, e)
}

func (l *Log) Entries() []Entry {
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *Log) Len() int {
	return len(l.entries)
}

// FinalWindow returns the final entries whose timestamp falls within the
// trailing window ending at now.
func (l *Log) FinalWindow(now time.Time, window time.Duration) []Entry {
	cutoff := now.Add(-window)
	var out []Entry
	for _, e := range l.entries {
		if !e.IsFinal {
			continue
		}
		if e.Timestamp.Before(cutoff) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Finals returns all finalized entries in order.
func (l *Log) Finals() []Entry {
	var out []Entry
	for _, e := range l.entries {
		if e.IsFinal {
			out = append(out, e)
		}
	}
	return out
}

func CountWords(text string) int {
	return len(strings.Fields(text))
}
