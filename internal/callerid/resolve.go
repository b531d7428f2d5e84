// Package callerid picks the best available caller number from a ranked
// set of independently unreliable signals.
package callerid

import "strings"

// Fallback is returned when no usable signal is present.
const Fallback = "Unknown"

// Signals is the bag of candidate caller-number sources for one call.
type Signals struct {
	// Resolved is the value already carried on the session, if any.
	Resolved string
	// ConnectedLine is the switch's connected line number field.
	ConnectedLine string
	// CallerID is the switch's caller id number field.
	CallerID string
	// Source and Destination are the raw endpoint fields.
	Source      string
	Destination string
	// Context is the dialplan context the call entered through.
	Context string
}

// Resolve returns the first usable candidate in fixed priority order:
//
//  1. the already-resolved value (never overwritten once set)
//  2. the connected line number
//  3. the caller id number, when it is not just echoing the raw source
//  4. the raw source, for externally-originated calls with distinct endpoints
//  5. the Fallback literal
//
// The order of 2 and 3 matters: connected line carries the far-end number
// on external calls, while caller id frequently regresses to an internal
// extension once the call is bridged.
func Resolve(s Signals) string {
	if usable(s.Resolved) {
		return s.Resolved
	}
	if usable(s.ConnectedLine) {
		return s.ConnectedLine
	}
	if usable(s.CallerID) && s.CallerID != s.Source {
		return s.CallerID
	}
	if usable(s.Source) && s.Source != s.Destination && ExternalOrigin(s.Context) {
		return s.Source
	}
	return Fallback
}

// ExternalOrigin reports whether a dialplan context indicates a call that
// originated outside the PBX. Convention: externally-originated calls enter
// through "from-" contexts other than from-internal (from-trunk, from-pstn,
// from-did-direct and so on).
func ExternalOrigin(context string) bool {
	if context == "" || context == "from-internal" {
		return false
	}
	return strings.HasPrefix(context, "from-")
}

// sentinel values switches emit when the number is not known
func usable(v string) bool {
	switch strings.ToLower(v) {
	case "", "<unknown>", "unknown", "s":
		return false
	}
	return true
}
