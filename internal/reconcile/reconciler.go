// Package reconcile derives or repairs the durable CDR for a call at
// termination, from the session's captured state and the terminating
// event's own fields.
package reconcile

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/callwatch/callwatch/internal/callerid"
	"github.com/callwatch/callwatch/internal/cdr"
	"github.com/callwatch/callwatch/internal/session"
)

// fallbackStartWindow is subtracted from the end time when neither the
// store nor the session carries a start time.
const fallbackStartWindow = 5 * time.Second

// Reconciler upserts the CDR store from terminated sessions. Runs on the
// async worker, never on the event path.
type Reconciler struct {
	store cdr.Store
}

// New creates a Reconciler over the given store.
func New(store cdr.Store) *Reconciler {
	return &Reconciler{store: store}
}

// Reconcile produces the durable record for one termination. Replay-safe:
// the same termination applied twice lands on the same row. The returned
// record is what was written (or attempted); a store error is returned
// after logging so the caller can decide whether anything else degrades,
// but in-memory cleanup has already happened by the time this runs.
func (r *Reconciler) Reconcile(ctx context.Context, term session.Termination) (cdr.Record, error) {
	call := term.Call
	end := term.At

	disposition := Classify(term.Cause)
	if term.Abandoned {
		disposition = cdr.DispositionNoAnswer
	}

	rec, found, err := r.store.FindByUniqueID(ctx, call.ID)
	if err != nil {
		// treat a failed lookup like an absent row; the upsert below is
		// atomic on the unique id either way
		log.Warn().Err(err).Str("unique_id", call.ID).Msg("cdr lookup failed, synthesizing")
		found = false
	}

	if !found {
		rec = cdr.Record{
			UniqueID:    call.ID,
			Source:      call.Source,
			Destination: call.Destination,
			Context:     call.Context,
			Channel:     call.Channel,
			PeerChannel: call.PeerChannel,
		}
		if call.QueueName != "" {
			rec.LastApplication = "Queue"
			rec.LastApplicationData = call.QueueName
		}
	}

	if rec.Start.IsZero() {
		rec.Start = call.StartedAt
	}
	if rec.Start.IsZero() {
		rec.Start = end.Add(-fallbackStartWindow)
	}
	if rec.Answer.IsZero() {
		rec.Answer = call.AnsweredAt
	}

	rec.End = end
	rec.Disposition = disposition
	rec.DurationSeconds = secondsBetween(rec.Start, end)
	if rec.Answer.IsZero() {
		rec.BillableSeconds = 0
	} else {
		rec.BillableSeconds = secondsBetween(rec.Answer, end)
	}

	// The only path by which the true caller number becomes durable: the
	// session is gone once this returns.
	resolved := callerid.Resolve(callerid.Signals{
		Resolved:      call.ResolvedCallerNumber,
		ConnectedLine: term.ConnectedLine,
		CallerID:      term.CallerID,
		Source:        call.Source,
		Destination:   call.Destination,
		Context:       call.Context,
	})
	if resolved != rec.CallerNumber {
		rec.CallerNumber = resolved
	}

	if err := r.store.Upsert(ctx, rec); err != nil {
		log.Error().Err(err).Str("unique_id", call.ID).Msg("cdr upsert failed, completion lost from history")
		return rec, err
	}

	log.Debug().
		Str("unique_id", call.ID).
		Str("disposition", string(disposition)).
		Int("billable_seconds", rec.BillableSeconds).
		Msg("reconciled call")
	return rec, nil
}

func secondsBetween(from, to time.Time) int {
	if from.IsZero() || to.Before(from) {
		return 0
	}
	return int(to.Sub(from).Seconds())
}
