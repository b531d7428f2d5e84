// Package session owns the authoritative in-memory table of calls in
// flight. The tracker is the table's only writer; everything else gets
// value copies.
package session

import (
	"time"

	"github.com/callwatch/callwatch/internal/callerid"
	"github.com/callwatch/callwatch/internal/event"
)

// Status is the lifecycle state of a tracked call.
type Status string

const (
	StatusRinging  Status = "ringing"
	StatusAnswered Status = "answered"
)

// Direction classifies where the call originated.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Call is one in-flight call. Keyed by the switch-assigned unique id.
type Call struct {
	ID          string
	LinkedID    string
	Source      string
	Destination string
	CallerName  string
	Direction   Direction
	Status      Status
	StartedAt   time.Time
	AnsweredAt  time.Time
	Channel     string
	PeerChannel string
	BridgeID    string
	Context     string

	// queue routing, present only for queue-routed calls
	QueueName     string
	QueuePosition int

	// best-effort true caller number, never downgraded once set
	ResolvedCallerNumber string
}

// Termination is the value copy handed off when a call ends. It carries the
// identity signals from the terminating event itself so reconciliation can
// run after the session is gone from the live table.
type Termination struct {
	Call      Call
	Cause     int
	Abandoned bool
	At        time.Time

	// signals carried on the terminating event
	ConnectedLine string
	CallerID      string
}

// Clock provides the current time. Defaults to time.Now; override in tests.
type Clock func() time.Time

// Tracker consumes normalized events and maintains the live call table.
// Not safe for concurrent use; the engine gives it a single logical writer.
type Tracker struct {
	calls map[string]*Call
	clock Clock
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock sets the time source for the tracker.
func WithClock(c Clock) Option {
	return func(t *Tracker) { t.clock = c }
}

// New creates a Tracker.
func New(opts ...Option) *Tracker {
	t := &Tracker{
		calls: make(map[string]*Call),
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// OnEvent applies one event to the table. It returns a non-nil Termination
// when the event ended a call, and whether observable state changed.
// The tracker never does I/O.
func (t *Tracker) OnEvent(ev event.Event) (*Termination, bool) {
	switch e := ev.(type) {
	case event.NewChannel:
		return nil, t.onNewChannel(e)
	case event.NewState:
		return nil, t.onNewState(e)
	case event.BridgeEnter:
		return nil, t.onBridgeEnter(e)
	case event.QueueJoin:
		return nil, t.onQueueJoin(e)
	case event.QueueLeave:
		return nil, t.onQueueLeave(e)
	case event.QueueAbandon:
		return t.onQueueAbandon(e)
	case event.Hangup:
		return t.onHangup(e)
	}
	return nil, false
}

// Active returns value copies of all live calls.
func (t *Tracker) Active() []Call {
	out := make([]Call, 0, len(t.calls))
	for _, c := range t.calls {
		out = append(out, *c)
	}
	return out
}

// Count returns the number of live calls.
func (t *Tracker) Count() int {
	return len(t.calls)
}

// lookup finds a session by unique id, falling back to linked id. Some
// events reference a call only by the id of the channel that started it.
func (t *Tracker) lookup(uniqueID, linkedID string) *Call {
	if c, ok := t.calls[uniqueID]; ok {
		return c
	}
	if linkedID != "" && linkedID != uniqueID {
		if c, ok := t.calls[linkedID]; ok {
			return c
		}
	}
	return nil
}

func (t *Tracker) onNewChannel(e event.NewChannel) bool {
	if e.UniqueID == "" {
		return false
	}

	if c := t.lookup(e.UniqueID, e.LinkedID); c != nil {
		// duplicate creation evidence: fill gaps, never a second session
		fillIfEmpty(&c.Source, e.Source)
		fillIfEmpty(&c.Destination, e.Destination)
		fillIfEmpty(&c.CallerName, e.CallerName)
		fillIfEmpty(&c.Channel, e.Channel)
		fillIfEmpty(&c.Context, e.Context)
		t.improveCallerNumber(c, e.ConnectedLine, e.Source)
		return true
	}

	direction := DirectionOutbound
	if callerid.ExternalOrigin(e.Context) {
		direction = DirectionInbound
	}

	c := &Call{
		ID:          e.UniqueID,
		LinkedID:    e.LinkedID,
		Source:      e.Source,
		Destination: e.Destination,
		CallerName:  e.CallerName,
		Direction:   direction,
		Status:      StatusRinging,
		StartedAt:   t.clock(),
		Channel:     e.Channel,
		Context:     e.Context,
	}
	t.calls[c.ID] = c
	t.improveCallerNumber(c, e.ConnectedLine, "")
	return true
}

func (t *Tracker) onNewState(e event.NewState) bool {
	c := t.lookup(e.UniqueID, e.LinkedID)
	if c == nil {
		return false
	}
	t.improveCallerNumber(c, e.ConnectedLine, "")
	if e.StateDesc != "Up" || c.Status == StatusAnswered {
		return false
	}
	c.Status = StatusAnswered
	c.AnsweredAt = t.clock()
	return true
}

func (t *Tracker) onBridgeEnter(e event.BridgeEnter) bool {
	c := t.lookup(e.UniqueID, e.LinkedID)
	if c == nil {
		return false
	}
	fillIfEmpty(&c.BridgeID, e.BridgeID)
	if e.Channel != "" && e.Channel != c.Channel {
		fillIfEmpty(&c.PeerChannel, e.Channel)
	}
	if c.Status == StatusAnswered {
		return false
	}
	c.Status = StatusAnswered
	c.AnsweredAt = t.clock()
	return true
}

func (t *Tracker) onQueueJoin(e event.QueueJoin) bool {
	if e.UniqueID == "" {
		return false
	}

	c := t.lookup(e.UniqueID, "")
	if c == nil {
		// queue-join is creation evidence; the Newchannel may never arrive
		c = &Call{
			ID:        e.UniqueID,
			Source:    e.Source,
			Direction: DirectionInbound,
			Status:    StatusRinging,
			StartedAt: t.clock(),
			Channel:   e.Channel,
		}
		t.calls[c.ID] = c
	}
	c.QueueName = e.Queue
	c.QueuePosition = e.Position
	return true
}

func (t *Tracker) onQueueLeave(e event.QueueLeave) bool {
	c := t.lookup(e.UniqueID, "")
	if c == nil {
		// leave for an id we never saw join: idempotent no-op
		return false
	}
	c.QueuePosition = 0
	return true
}

func (t *Tracker) onQueueAbandon(e event.QueueAbandon) (*Termination, bool) {
	c := t.lookup(e.UniqueID, "")
	if c == nil {
		return nil, false
	}
	// the caller gave up; no further events for this id are guaranteed
	term := &Termination{
		Call:      *c,
		Abandoned: true,
		At:        t.clock(),
	}
	delete(t.calls, c.ID)
	return term, true
}

func (t *Tracker) onHangup(e event.Hangup) (*Termination, bool) {
	now := t.clock()

	c := t.lookup(e.UniqueID, e.LinkedID)
	if c == nil {
		if e.UniqueID == "" {
			return nil, false
		}
		// No prior session: the switch never delivered creation evidence.
		// Synthesize from the hangup's own fields so the call still
		// reaches reconciliation instead of vanishing.
		synth := Call{
			ID:          e.UniqueID,
			LinkedID:    e.LinkedID,
			Source:      e.Source,
			Destination: e.Destination,
			Channel:     e.Channel,
			Context:     e.Context,
			Status:      StatusRinging,
		}
		if callerid.ExternalOrigin(e.Context) {
			synth.Direction = DirectionInbound
		} else {
			synth.Direction = DirectionOutbound
		}
		return &Termination{
			Call:          synth,
			Cause:         e.Cause,
			At:            now,
			ConnectedLine: e.ConnectedLine,
			CallerID:      e.Source,
		}, true
	}

	term := &Termination{
		Call:          *c,
		Cause:         e.Cause,
		At:            now,
		ConnectedLine: e.ConnectedLine,
		CallerID:      e.Source,
	}
	delete(t.calls, c.ID)
	return term, true
}

// improveCallerNumber feeds fresh signals through the resolver, keeping
// the result only when it beats the fallback. Never downgrades.
func (t *Tracker) improveCallerNumber(c *Call, connectedLine, eventCallerID string) {
	resolved := callerid.Resolve(callerid.Signals{
		Resolved:      c.ResolvedCallerNumber,
		ConnectedLine: connectedLine,
		CallerID:      eventCallerID,
		Source:        c.Source,
		Destination:   c.Destination,
		Context:       c.Context,
	})
	if resolved != callerid.Fallback {
		c.ResolvedCallerNumber = resolved
	}
}

func fillIfEmpty(dst *string, v string) {
	if *dst == "" && v != "" {
		*dst = v
	}
}
