package cdr

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres implements Store and History on a pgx pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects a pool and verifies it with a bounded ping.
func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("cdr: opening pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("cdr: ping: %w", err)
	}

	return &Postgres{pool: pool}, nil
}

// Pool exposes the underlying pool so collaborators reading other tables
// in the same database can share connections.
func (p *Postgres) Pool() *pgxpool.Pool {
	return p.pool
}

// Close releases the pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

// Health pings the database.
func (p *Postgres) Health(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *Postgres) FindByUniqueID(ctx context.Context, id string) (Record, bool, error) {
	var r Record
	var answer sql.NullTime
	err := p.pool.QueryRow(ctx,
		`SELECT unique_id, start_at, answer_at, end_at,
		        src, dst, context, channel, peer_channel,
		        last_app, last_app_data,
		        duration_seconds, billable_seconds, disposition,
		        account_code, caller_number
		 FROM cdr WHERE unique_id = $1`,
		id,
	).Scan(
		&r.UniqueID, &r.Start, &answer, &r.End,
		&r.Source, &r.Destination, &r.Context, &r.Channel, &r.PeerChannel,
		&r.LastApplication, &r.LastApplicationData,
		&r.DurationSeconds, &r.BillableSeconds, &r.Disposition,
		&r.AccountCode, &r.CallerNumber,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("cdr: find %s: %w", id, err)
	}
	if answer.Valid {
		r.Answer = answer.Time
	}
	return r, true, nil
}

// Upsert inserts or fully updates the row for r.UniqueID. The ON CONFLICT
// clause is what makes reconciliation replay-safe.
func (p *Postgres) Upsert(ctx context.Context, r Record) error {
	var answer any
	if !r.Answer.IsZero() {
		answer = r.Answer
	}
	_, err := p.pool.Exec(ctx,
		`INSERT INTO cdr (unique_id, start_at, answer_at, end_at,
		                  src, dst, context, channel, peer_channel,
		                  last_app, last_app_data,
		                  duration_seconds, billable_seconds, disposition,
		                  account_code, caller_number)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		 ON CONFLICT (unique_id) DO UPDATE
		 SET answer_at = COALESCE(EXCLUDED.answer_at, cdr.answer_at),
		     end_at = EXCLUDED.end_at,
		     duration_seconds = EXCLUDED.duration_seconds,
		     billable_seconds = EXCLUDED.billable_seconds,
		     disposition = EXCLUDED.disposition,
		     caller_number = EXCLUDED.caller_number`,
		r.UniqueID, r.Start, answer, r.End,
		r.Source, r.Destination, r.Context, r.Channel, r.PeerChannel,
		r.LastApplication, r.LastApplicationData,
		r.DurationSeconds, r.BillableSeconds, r.Disposition,
		r.AccountCode, r.CallerNumber,
	)
	if err != nil {
		return fmt.Errorf("cdr: upsert %s: %w", r.UniqueID, err)
	}
	return nil
}

func (p *Postgres) WindowStats(ctx context.Context, from, to time.Time) (WindowStats, error) {
	var s WindowStats
	err := p.pool.QueryRow(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE disposition = 'ANSWERED'),
		        COUNT(*) FILTER (WHERE disposition <> 'ANSWERED')
		 FROM cdr WHERE start_at >= $1 AND start_at < $2`,
		from, to,
	).Scan(&s.Total, &s.Answered, &s.Missed)
	if err != nil {
		return WindowStats{}, fmt.Errorf("cdr: window stats: %w", err)
	}
	return s, nil
}

func (p *Postgres) HourlyHistogram(ctx context.Context, from, to time.Time) ([]HourBucket, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT date_trunc('hour', start_at) AS bucket, COUNT(*)
		 FROM cdr WHERE start_at >= $1 AND start_at < $2
		 GROUP BY bucket ORDER BY bucket`,
		from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("cdr: hourly histogram: %w", err)
	}
	defer rows.Close()

	var out []HourBucket
	for rows.Next() {
		var b HourBucket
		if err := rows.Scan(&b.Hour, &b.Count); err != nil {
			return nil, fmt.Errorf("cdr: hourly histogram scan: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cdr: hourly histogram rows: %w", err)
	}
	return out, nil
}
