// Package cdr models the durable call-detail record store. The store is
// external; the engine only references rows by the switch-assigned unique
// call id, creating them when the switch did not.
package cdr

import "time"

// Disposition is the terminal outcome classification of a call.
type Disposition string

const (
	DispositionAnswered Disposition = "ANSWERED"
	DispositionNoAnswer Disposition = "NO_ANSWER"
	DispositionBusy     Disposition = "BUSY"
	DispositionFailed   Disposition = "FAILED"
)

// Record is one call-detail row. A row may be written by the switch itself
// before the engine sees the call end, or synthesized by the reconciler.
type Record struct {
	UniqueID string    `json:"unique_id"`
	Start    time.Time `json:"start"`
	Answer   time.Time `json:"answer,omitzero"` // zero if never answered
	End      time.Time `json:"end"`

	Source      string `json:"source"`
	Destination string `json:"destination"`
	Context     string `json:"context"`
	Channel     string `json:"channel"`
	PeerChannel string `json:"peer_channel"`

	LastApplication     string `json:"last_application"`
	LastApplicationData string `json:"last_application_data"`

	DurationSeconds int         `json:"duration_seconds"`
	BillableSeconds int         `json:"billable_seconds"`
	Disposition     Disposition `json:"disposition"`
	AccountCode     string      `json:"account_code"`

	// CallerNumber is the free-text carrier for the resolved caller
	// number, the only place it survives once the session is gone.
	CallerNumber string `json:"caller_number"`
}
