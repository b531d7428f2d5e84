package cdr

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-memory Store and History for tests and early development.
type Memory struct {
	mu      sync.Mutex
	records map[string]Record

	// FailUpserts makes Upsert return this error when set.
	FailUpserts error
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]Record)}
}

func (m *Memory) FindByUniqueID(_ context.Context, id string) (Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	return r, ok, nil
}

func (m *Memory) Upsert(_ context.Context, r Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailUpserts != nil {
		return m.FailUpserts
	}
	if existing, ok := m.records[r.UniqueID]; ok && r.Answer.IsZero() {
		r.Answer = existing.Answer
	}
	m.records[r.UniqueID] = r
	return nil
}

func (m *Memory) WindowStats(_ context.Context, from, to time.Time) (WindowStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var s WindowStats
	for _, r := range m.records {
		if r.Start.Before(from) || !r.Start.Before(to) {
			continue
		}
		s.Total++
		if r.Disposition == DispositionAnswered {
			s.Answered++
		} else {
			s.Missed++
		}
	}
	return s, nil
}

func (m *Memory) HourlyHistogram(_ context.Context, from, to time.Time) ([]HourBucket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[time.Time]int)
	for _, r := range m.records {
		if r.Start.Before(from) || !r.Start.Before(to) {
			continue
		}
		counts[r.Start.UTC().Truncate(time.Hour)]++
	}
	out := make([]HourBucket, 0, len(counts))
	for h := from.UTC().Truncate(time.Hour); h.Before(to); h = h.Add(time.Hour) {
		if n, ok := counts[h]; ok {
			out = append(out, HourBucket{Hour: h, Count: n})
		}
	}
	return out, nil
}

// Records returns a copy of all stored records, for test assertions.
func (m *Memory) Records() map[string]Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Record, len(m.records))
	for k, v := range m.records {
		out[k] = v
	}
	return out
}
