// Package billing hands answered outbound calls to the billing
// collaborator. Everything here is best-effort: a billing failure must
// never delay or prevent reconciliation, so errors are logged and
// swallowed.
package billing

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/callwatch/callwatch/internal/cdr"
	"github.com/callwatch/callwatch/internal/session"
)

// Trunk is an outbound trunk with its billing account and rate.
type Trunk struct {
	Name               string
	AccountCode        string
	Currency           string
	RatePerMinuteMinor int64
	MinimumSeconds     int
	IncrementSeconds   int
}

// TrunkDirectory looks up the trunk a call went out through.
type TrunkDirectory interface {
	FindByName(ctx context.Context, name string) (Trunk, bool, error)
}

// Ledger applies balance updates on the billing collaborator.
type Ledger interface {
	ApplyBalanceDelta(ctx context.Context, accountCode string, durationSeconds int, costMinor int64, currency, externalRef string) error
}

// CostRecord is the computed cost for one billable call.
type CostRecord struct {
	ID                 string    `json:"id"`
	UniqueID           string    `json:"unique_id"`
	Trunk              string    `json:"trunk"`
	AccountCode        string    `json:"account_code"`
	BillableSeconds    int       `json:"billable_seconds"`
	BilledSeconds      int       `json:"billed_seconds"`
	RatePerMinuteMinor int64     `json:"rate_per_minute_minor"`
	TotalMinor         int64     `json:"total_minor"`
	Currency           string    `json:"currency"`
	CreatedAt          time.Time `json:"created_at"`
}

// Service is the billing trigger.
type Service struct {
	trunks TrunkDirectory
	ledger Ledger
	clock  func() time.Time
}

// New creates a Service.
func New(trunks TrunkDirectory, ledger Ledger) *Service {
	return &Service{trunks: trunks, ledger: ledger, clock: time.Now}
}

// MaybeBill bills a completed call if it qualifies: answered, outbound,
// with billable time. Returns the cost record and whether billing ran.
// Never returns an error; this path is lower priority than reconciliation.
func (s *Service) MaybeBill(ctx context.Context, rec cdr.Record, call session.Call) (CostRecord, bool) {
	if rec.Disposition != cdr.DispositionAnswered || rec.BillableSeconds <= 0 {
		return CostRecord{}, false
	}
	if call.Direction != session.DirectionOutbound {
		return CostRecord{}, false
	}

	trunkName := TrunkFromChannel(call.PeerChannel)
	if trunkName == "" {
		trunkName = TrunkFromChannel(call.Channel)
	}
	if trunkName == "" {
		log.Warn().Str("unique_id", rec.UniqueID).Msg("no trunk derivable from channels, skipping billing")
		return CostRecord{}, false
	}

	trunk, ok, err := s.trunks.FindByName(ctx, trunkName)
	if err != nil {
		log.Warn().Err(err).Str("trunk", trunkName).Msg("trunk lookup failed, skipping billing")
		return CostRecord{}, false
	}
	if !ok {
		log.Warn().Str("trunk", trunkName).Str("unique_id", rec.UniqueID).Msg("unknown trunk, skipping billing")
		return CostRecord{}, false
	}

	billed := billedSeconds(rec.BillableSeconds, trunk.MinimumSeconds, trunk.IncrementSeconds)
	minutes := (billed + 59) / 60

	cost := CostRecord{
		ID:                 uuid.NewString(),
		UniqueID:           rec.UniqueID,
		Trunk:              trunk.Name,
		AccountCode:        trunk.AccountCode,
		BillableSeconds:    rec.BillableSeconds,
		BilledSeconds:      billed,
		RatePerMinuteMinor: trunk.RatePerMinuteMinor,
		TotalMinor:         trunk.RatePerMinuteMinor * int64(minutes),
		Currency:           trunk.Currency,
		CreatedAt:          s.clock().UTC(),
	}

	if err := s.ledger.ApplyBalanceDelta(ctx, trunk.AccountCode, billed, cost.TotalMinor, trunk.Currency, "call:"+rec.UniqueID); err != nil {
		log.Warn().Err(err).Str("unique_id", rec.UniqueID).Msg("balance update failed, call remains unbilled")
		return cost, false
	}

	log.Debug().
		Str("unique_id", rec.UniqueID).
		Str("trunk", trunk.Name).
		Int64("total_minor", cost.TotalMinor).
		Msg("billed call")
	return cost, true
}

// TrunkFromChannel extracts the trunk name from a channel identifier like
// "SIP/trunkout-00000012" or "PJSIP/carrier-a-00000003".
func TrunkFromChannel(channel string) string {
	slash := strings.Index(channel, "/")
	if slash < 0 {
		return ""
	}
	rest := channel[slash+1:]
	dash := strings.LastIndex(rest, "-")
	if dash <= 0 {
		return rest
	}
	return rest[:dash]
}

// billedSeconds applies minimum and increment rounding: charge at least
// the minimum, then round up to the next increment.
func billedSeconds(actual, minimum, increment int) int {
	if actual < 0 {
		return 0
	}
	if increment <= 0 {
		increment = 60
	}
	sec := actual
	if sec < minimum {
		sec = minimum
	}
	if rem := sec % increment; rem != 0 {
		sec += increment - rem
	}
	return sec
}
