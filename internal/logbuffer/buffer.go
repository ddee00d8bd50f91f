/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package logbuffer keeps the most recent log lines in memory so the admin API
// can show what the driver did without shell access to the host.
package logbuffer

import (
	"encoding/json"
	"io"
	"strings"
	"sync"
	"time"
)

// DefaultCapacity is used when New is given a non-positive capacity.
const DefaultCapacity = 2000

// Entry is one parsed zerolog line.
type Entry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Component string         `json:"component,omitempty"`
	TimerID   string         `json:"timer_id,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Buffer is a fixed size ring of entries.
type Buffer struct {
	mu       sync.RWMutex
	entries  []Entry
	capacity int
	head     int
	count    int
}

// New creates a buffer holding at most capacity entries.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		entries:  make([]Entry, capacity),
		capacity: capacity,
	}
}

// Add appends an entry, overwriting the oldest when full.
func (b *Buffer) Add(entry Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries[b.head] = entry
	b.head = (b.head + 1) % b.capacity
	if b.count < b.capacity {
		b.count++
	}
}

// All returns every entry oldest first.
func (b *Buffer) All() []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := make([]Entry, b.count)
	start := 0
	if b.count == b.capacity {
		start = b.head
	}
	for i := 0; i < b.count; i++ {
		result[i] = b.entries[(start+i)%b.capacity]
	}
	return result
}

// Query filters the buffered entries.
type Query struct {
	Level      string
	Component  string
	TimerID    string
	Search     string // case-insensitive match on message and string fields
	Since      time.Time
	Limit      int // 0 means no limit
	Descending bool
}

// Find returns entries matching q.
func (b *Buffer) Find(q Query) []Entry {
	search := strings.ToLower(q.Search)

	filtered := make([]Entry, 0)
	for _, entry := range b.All() {
		if q.Level != "" && entry.Level != q.Level {
			continue
		}
		if q.Component != "" && entry.Component != q.Component {
			continue
		}
		if q.TimerID != "" && entry.TimerID != q.TimerID {
			continue
		}
		if !q.Since.IsZero() && entry.Timestamp.Before(q.Since) {
			continue
		}
		if search != "" && !entry.matches(search) {
			continue
		}
		filtered = append(filtered, entry)
	}

	if q.Descending {
		for i, j := 0, len(filtered)-1; i < j; i, j = i+1, j-1 {
			filtered[i], filtered[j] = filtered[j], filtered[i]
		}
	}
	if q.Limit > 0 && len(filtered) > q.Limit {
		filtered = filtered[:q.Limit]
	}
	return filtered
}

func (e Entry) matches(lowered string) bool {
	if strings.Contains(strings.ToLower(e.Message), lowered) {
		return true
	}
	for _, v := range e.Fields {
		if s, ok := v.(string); ok && strings.Contains(strings.ToLower(s), lowered) {
			return true
		}
	}
	return false
}

// Stats summarizes the buffer contents.
type Stats struct {
	Capacity   int            `json:"capacity"`
	Count      int            `json:"count"`
	LevelCount map[string]int `json:"level_count"`
}

func (b *Buffer) Stats() Stats {
	entries := b.All()
	stats := Stats{
		Capacity:   b.capacity,
		Count:      len(entries),
		LevelCount: make(map[string]int),
	}
	for _, e := range entries {
		stats.LevelCount[e.Level]++
	}
	return stats
}

// Writer feeds zerolog JSON output into a Buffer and passes it on to fallback.
type Writer struct {
	buffer   *Buffer
	fallback io.Writer
}

// NewWriter creates a writer capturing into buffer.
func NewWriter(buffer *Buffer, fallback io.Writer) *Writer {
	return &Writer{buffer: buffer, fallback: fallback}
}

// Write implements io.Writer. Lines that are not JSON are forwarded but not buffered.
func (w *Writer) Write(p []byte) (int, error) {
	var raw map[string]any
	if err := json.Unmarshal(p, &raw); err == nil {
		entry := Entry{Timestamp: time.Now().UTC(), Fields: make(map[string]any)}
		if v, ok := raw["level"].(string); ok {
			entry.Level = v
			delete(raw, "level")
		}
		if v, ok := raw["message"].(string); ok {
			entry.Message = v
			delete(raw, "message")
		}
		if v, ok := raw["component"].(string); ok {
			entry.Component = v
			delete(raw, "component")
		}
		if v, ok := raw["timer_id"].(string); ok {
			entry.TimerID = v
			delete(raw, "timer_id")
		}
		switch ts := raw["time"].(type) {
		case float64:
			entry.Timestamp = time.Unix(int64(ts), 0).UTC()
		case string:
			if t, err := time.Parse(time.RFC3339, ts); err == nil {
				entry.Timestamp = t
			}
		}
		delete(raw, "time")
		for k, v := range raw {
			entry.Fields[k] = v
		}
		w.buffer.Add(entry)
	}

	if w.fallback != nil {
		return w.fallback.Write(p)
	}
	return len(p), nil
}
