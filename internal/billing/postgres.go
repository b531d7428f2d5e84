package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresTrunks reads the trunk table maintained by the provisioning
// system. Read-only from this engine's point of view.
type PostgresTrunks struct {
	pool *pgxpool.Pool
}

// NewPostgresTrunks wraps an existing pool.
func NewPostgresTrunks(pool *pgxpool.Pool) *PostgresTrunks {
	return &PostgresTrunks{pool: pool}
}

// PostgresLedger applies balance deltas against the shared accounts
// schema. A delta is recorded once per external reference, so replaying
// a completion never double-charges.
type PostgresLedger struct {
	pool *pgxpool.Pool
}

// NewPostgresLedger wraps an existing pool.
func NewPostgresLedger(pool *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{pool: pool}
}

func (p *PostgresLedger) ApplyBalanceDelta(ctx context.Context, accountCode string, durationSeconds int, costMinor int64, currency, externalRef string) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("billing: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`INSERT INTO balance_transactions
		   (account_code, duration_seconds, amount_minor, currency, external_ref)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (external_ref) DO NOTHING`,
		accountCode, durationSeconds, costMinor, currency, externalRef,
	)
	if err != nil {
		return fmt.Errorf("billing: record transaction %s: %w", externalRef, err)
	}
	if tag.RowsAffected() == 0 {
		// already applied
		return tx.Commit(ctx)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE accounts SET balance_minor = balance_minor - $2
		 WHERE account_code = $1`,
		accountCode, costMinor,
	); err != nil {
		return fmt.Errorf("billing: apply delta for %s: %w", accountCode, err)
	}

	return tx.Commit(ctx)
}

func (p *PostgresTrunks) FindByName(ctx context.Context, name string) (Trunk, bool, error) {
	var t Trunk
	err := p.pool.QueryRow(ctx,
		`SELECT name, account_code, currency, rate_per_minute_minor,
		        minimum_seconds, increment_seconds
		 FROM trunks WHERE name = $1`,
		name,
	).Scan(&t.Name, &t.AccountCode, &t.Currency, &t.RatePerMinuteMinor,
		&t.MinimumSeconds, &t.IncrementSeconds)
	if errors.Is(err, pgx.ErrNoRows) {
		return Trunk{}, false, nil
	}
	if err != nil {
		return Trunk{}, false, fmt.Errorf("billing: trunk lookup %s: %w", name, err)
	}
	return t, true, nil
}
