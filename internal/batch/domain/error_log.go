package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ErrorEntry is a single diagnostic record in a batch error log.
type ErrorEntry struct {
	Timestamp time.Time  `json:"timestamp"`
	ItemID    *uuid.UUID `json:"item_id,omitempty"`
	Code      string     `json:"code"`
	Message   string     `json:"message"`
}

// ErrorLog is a fixed-capacity ring buffer of error entries.
//
// Eviction policy: when the log is full, appending a new entry drops the
// oldest one. Entries are always returned oldest first. The zero value is
// not usable; create logs with NewErrorLog.
type ErrorLog struct {
	entries []ErrorEntry
	start   int
	size    int
}

// NewErrorLog creates an empty error log holding at most capacity entries.
// A non-positive capacity falls back to ErrorLogCapacity.
func NewErrorLog(capacity int) *ErrorLog {
	if capacity <= 0 {
		capacity = ErrorLogCapacity
	}
	return &ErrorLog{entries: make([]ErrorEntry, capacity)}
}

// Append adds entries, evicting the oldest ones once the log is full.
func (l *ErrorLog) Append(entries ...ErrorEntry) {
	capacity := len(l.entries)
	for _, entry := range entries {
		if l.size < capacity {
			l.entries[(l.start+l.size)%capacity] = entry
			l.size++
			continue
		}
		l.entries[l.start] = entry
		l.start = (l.start + 1) % capacity
	}
}

// Len returns the number of entries currently held.
func (l *ErrorLog) Len() int {
	return l.size
}

// Cap returns the maximum number of entries held.
func (l *ErrorLog) Cap() int {
	return len(l.entries)
}

// Entries returns a copy of all entries, oldest first.
func (l *ErrorLog) Entries() []ErrorEntry {
	return l.Last(l.size)
}

// Last returns a copy of the n most recent entries, oldest first.
func (l *ErrorLog) Last(n int) []ErrorEntry {
	if n > l.size {
		n = l.size
	}
	if n <= 0 {
		return []ErrorEntry{}
	}
	out := make([]ErrorEntry, 0, n)
	capacity := len(l.entries)
	for i := l.size - n; i < l.size; i++ {
		out = append(out, l.entries[(l.start+i)%capacity])
	}
	return out
}

// MarshalJSON encodes the log as a JSON array, oldest entry first.
func (l *ErrorLog) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.Entries())
}

// UnmarshalJSON decodes a JSON array of entries. Capacity is kept when the
// log was already initialised, otherwise ErrorLogCapacity is used.
func (l *ErrorLog) UnmarshalJSON(data []byte) error {
	var entries []ErrorEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	capacity := len(l.entries)
	if capacity == 0 {
		capacity = ErrorLogCapacity
	}
	*l = *NewErrorLog(capacity)
	l.Append(entries...)
	return nil
}
