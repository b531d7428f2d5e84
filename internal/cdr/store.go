package cdr

import (
	"context"
	"time"
)

// Store is the durable CDR table. Upsert must be atomic on UniqueID so a
// replayed termination updates the existing row instead of duplicating it.
type Store interface {
	FindByUniqueID(ctx context.Context, id string) (Record, bool, error)
	Upsert(ctx context.Context, r Record) error
}

// WindowStats are aggregate counts over a time window.
type WindowStats struct {
	Total    int `json:"total"`
	Answered int `json:"answered"`
	// Missed counts every record whose disposition is not ANSWERED.
	Missed int `json:"missed"`
}

// HourBucket is one bucket of the hourly call histogram.
type HourBucket struct {
	Hour  time.Time `json:"hour"`
	Count int       `json:"count"`
}

// History serves the snapshot builder's time-windowed aggregate queries.
type History interface {
	WindowStats(ctx context.Context, from, to time.Time) (WindowStats, error)
	HourlyHistogram(ctx context.Context, from, to time.Time) ([]HourBucket, error)
}
