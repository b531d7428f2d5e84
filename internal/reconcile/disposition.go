package reconcile

import "github.com/callwatch/callwatch/internal/cdr"

// dispositionByCause maps ISDN/Q.850 hangup cause codes to CDR
// dispositions. Fixed and explicit: a code not listed here classifies as
// NO_ANSWER rather than being guessed at.
//
// TODO: codes 27 (destination out of order) and 44 (requested channel not
// available) have been seen from carrier trunks and probably belong in the
// FAILED row; confirm against live captures before adding them.
var dispositionByCause = map[int]cdr.Disposition{
	16:  cdr.DispositionAnswered, // normal clearing
	31:  cdr.DispositionAnswered, // normal, unspecified
	17:  cdr.DispositionBusy,     // user busy
	21:  cdr.DispositionFailed,   // call rejected
	34:  cdr.DispositionFailed,   // no circuit/channel available
	38:  cdr.DispositionFailed,   // network out of order
	127: cdr.DispositionFailed,   // interworking, unspecified
}

// Classify maps a hangup cause code to a disposition.
func Classify(cause int) cdr.Disposition {
	if d, ok := dispositionByCause[cause]; ok {
		return d
	}
	return cdr.DispositionNoAnswer
}
