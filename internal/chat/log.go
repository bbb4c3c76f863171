package chat

import (
	"sync"
	"time"
)

// LogEntry is one decoded frame in arrival order. Entries are never mutated
// after Append.
type LogEntry struct {
	Seq        uint64
	Event      Event
	Hint       RenderHint
	ReceivedAt time.Time
}

// Log is the append-only session log. Insertion order is arrival order is
// display order; ReceivedAt is informational only.
type Log struct {
	mu      sync.RWMutex
	entries []LogEntry
	next    uint64
}

func NewLog() *Log {
	return &Log{entries: make([]LogEntry, 0, 64), next: 1}
}

// Append stamps entry with the next sequence number and stores it.
func (l *Log) Append(entry LogEntry) LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.next == 0 {
		l.next = 1
	}
	entry.Seq = l.next
	l.next++
	l.entries = append(l.entries, entry)
	return entry
}

// Snapshot returns a copy of all entries in order.
func (l *Log) Snapshot() []LogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]LogEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
