// Package event normalizes raw AMI events into the closed set of typed
// variants the engine handles. Field aliasing and casing differences are
// resolved here and nowhere else; handlers downstream only ever see one
// shape per event kind.
package event

import (
	"time"

	"github.com/callwatch/callwatch/internal/ami"
)

// Event is one of the closed set of normalized variants below.
type Event interface {
	isEvent()
}

// NewChannel reports a channel coming into existence.
type NewChannel struct {
	UniqueID      string
	LinkedID      string
	Channel       string
	Source        string // caller id number as reported
	CallerName    string
	Destination   string // dialed extension
	Context       string
	ConnectedLine string
}

// NewState reports a channel state transition (Ringing, Up, ...).
type NewState struct {
	UniqueID      string
	LinkedID      string
	StateDesc     string
	ConnectedLine string
}

// BridgeEnter reports a channel joining a bridge (two parties connected).
type BridgeEnter struct {
	UniqueID string
	LinkedID string
	BridgeID string
	Channel  string
}

// Hangup reports a channel being torn down.
type Hangup struct {
	UniqueID      string
	LinkedID      string
	Channel       string
	Source        string
	Destination   string
	Context       string
	ConnectedLine string
	Cause         int
}

// QueueJoin reports a caller entering a queue.
type QueueJoin struct {
	UniqueID string
	Queue    string
	Position int
	Source   string
	Channel  string
}

// QueueLeave reports a caller leaving a queue (answered or transferred out).
type QueueLeave struct {
	UniqueID string
	Queue    string
}

// QueueAbandon reports a caller giving up before being connected.
type QueueAbandon struct {
	UniqueID string
	Queue    string
	Position int
	HoldTime int
}

// QueueParams is the periodic per-queue parameter snapshot.
type QueueParams struct {
	Queue            string
	Waiting          int
	Completed        int
	Abandoned        int
	ServiceLevelPerf float64
	HoldTimeSeconds  int
}

// QueueSummary is the periodic per-queue summary snapshot.
type QueueSummary struct {
	Queue           string
	Waiting         int
	HoldTimeSeconds int
}

// QueueMemberStatus reports one queue member's current state.
type QueueMemberStatus struct {
	Queue      string
	Interface  string
	Name       string
	Status     int
	Paused     bool
	CallsTaken int
	LastCall   time.Time
}

func (NewChannel) isEvent()        {}
func (NewState) isEvent()          {}
func (BridgeEnter) isEvent()       {}
func (Hangup) isEvent()            {}
func (QueueJoin) isEvent()         {}
func (QueueLeave) isEvent()        {}
func (QueueAbandon) isEvent()      {}
func (QueueParams) isEvent()       {}
func (QueueSummary) isEvent()      {}
func (QueueMemberStatus) isEvent() {}

// Normalize maps a raw AMI event to its typed variant, or nil for event
// kinds the engine does not consume. Responses are never events.
func Normalize(raw ami.Event) Event {
	if raw.IsResponse() {
		return nil
	}

	switch raw.Type() {
	case "Newchannel":
		return NewChannel{
			UniqueID:      raw.GetAny("Uniqueid", "UniqueID"),
			LinkedID:      raw.Get("Linkedid"),
			Channel:       raw.Get("Channel"),
			Source:        raw.GetAny("CallerIDNum", "CallerID"),
			CallerName:    raw.Get("CallerIDName"),
			Destination:   raw.GetAny("Exten", "Extension"),
			Context:       raw.Get("Context"),
			ConnectedLine: raw.GetAny("ConnectedLineNum", "Connectedlinenum"),
		}

	case "Newstate":
		return NewState{
			UniqueID:      raw.GetAny("Uniqueid", "UniqueID"),
			LinkedID:      raw.Get("Linkedid"),
			StateDesc:     raw.Get("ChannelStateDesc"),
			ConnectedLine: raw.GetAny("ConnectedLineNum", "Connectedlinenum"),
		}

	case "BridgeEnter":
		return BridgeEnter{
			UniqueID: raw.GetAny("Uniqueid", "UniqueID"),
			LinkedID: raw.Get("Linkedid"),
			BridgeID: raw.GetAny("BridgeUniqueid", "BridgeUniqueID"),
			Channel:  raw.Get("Channel"),
		}

	case "Hangup":
		return Hangup{
			UniqueID:      raw.GetAny("Uniqueid", "UniqueID"),
			LinkedID:      raw.Get("Linkedid"),
			Channel:       raw.Get("Channel"),
			Source:        raw.GetAny("CallerIDNum", "CallerID"),
			Destination:   raw.GetAny("Exten", "Extension"),
			Context:       raw.Get("Context"),
			ConnectedLine: raw.GetAny("ConnectedLineNum", "Connectedlinenum"),
			Cause:         raw.GetInt("Cause"),
		}

	case "QueueCallerJoin", "Join":
		return QueueJoin{
			UniqueID: raw.GetAny("Uniqueid", "UniqueID"),
			Queue:    raw.Get("Queue"),
			Position: raw.GetInt("Position"),
			Source:   raw.GetAny("CallerIDNum", "CallerID"),
			Channel:  raw.Get("Channel"),
		}

	case "QueueCallerLeave", "Leave":
		return QueueLeave{
			UniqueID: raw.GetAny("Uniqueid", "UniqueID"),
			Queue:    raw.Get("Queue"),
		}

	case "QueueCallerAbandon", "QueueAbandon":
		return QueueAbandon{
			UniqueID: raw.GetAny("Uniqueid", "UniqueID"),
			Queue:    raw.Get("Queue"),
			Position: raw.GetInt("Position"),
			HoldTime: raw.GetInt("HoldTime"),
		}

	case "QueueParams":
		return QueueParams{
			Queue:            raw.Get("Queue"),
			Waiting:          raw.GetInt("Calls"),
			Completed:        raw.GetInt("Completed"),
			Abandoned:        raw.GetInt("Abandoned"),
			ServiceLevelPerf: raw.GetFloat("ServicelevelPerf"),
			HoldTimeSeconds:  raw.GetInt("Holdtime"),
		}

	case "QueueSummary":
		return QueueSummary{
			Queue:           raw.Get("Queue"),
			Waiting:         raw.GetInt("Callers"),
			HoldTimeSeconds: raw.GetInt("HoldTime"),
		}

	case "QueueMemberStatus", "QueueMember":
		return QueueMemberStatus{
			Queue:      raw.Get("Queue"),
			Interface:  raw.GetAny("Interface", "Location"),
			Name:       raw.GetAny("MemberName", "Name"),
			Status:     raw.GetInt("Status"),
			Paused:     raw.GetInt("Paused") == 1,
			CallsTaken: raw.GetInt("CallsTaken"),
			LastCall:   lastCallTime(raw.GetInt("LastCall")),
		}
	}

	return nil
}

func lastCallTime(unix int) time.Time {
	if unix <= 0 {
		return time.Time{}
	}
	return time.Unix(int64(unix), 0).UTC()
}
