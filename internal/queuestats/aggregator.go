// Package queuestats owns per-queue counters and member state, fed by
// queue-scoped events and the switch's periodic snapshots.
package queuestats

import (
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/callwatch/callwatch/internal/event"
)

// Member is one queue member's last reported state.
type Member struct {
	Interface  string    `json:"interface"`
	Name       string    `json:"name,omitempty"`
	StatusCode int       `json:"status_code"`
	Paused     bool      `json:"paused"`
	CallsTaken int       `json:"calls_taken"`
	LastCallAt time.Time `json:"last_call_at,omitzero"`
}

// Queue is the aggregate state for one named queue.
type Queue struct {
	Name                string            `json:"name"`
	WaitingCount        int               `json:"waiting_count"`
	CompletedCount      int               `json:"completed_count"`
	AbandonedCount      int               `json:"abandoned_count"`
	ServiceLevelPercent float64           `json:"service_level_percent"`
	AvgWaitTimeSeconds  int               `json:"avg_wait_time_seconds"`
	Members             map[string]Member `json:"members"`
}

// AbandonRate is derived, not stored: abandoned calls as a percentage of
// total (completed + abandoned), rounded to one decimal.
func (q Queue) AbandonRate() float64 {
	total := q.CompletedCount + q.AbandonedCount
	if total == 0 {
		return 0
	}
	return math.Round(float64(q.AbandonedCount)/float64(total)*1000) / 10
}

// Aggregator consumes queue events. Like the session tracker it has a
// single logical writer; readers get copies via Queues().
type Aggregator struct {
	queues map[string]*Queue
}

// New creates an Aggregator.
func New() *Aggregator {
	return &Aggregator{queues: make(map[string]*Queue)}
}

// OnEvent applies one queue-scoped event and reports whether observable
// state changed. Non-queue events are ignored.
func (a *Aggregator) OnEvent(ev event.Event) bool {
	switch e := ev.(type) {
	case event.QueueJoin:
		q := a.queue(e.Queue)
		q.WaitingCount++
		return true

	case event.QueueLeave:
		a.decrementWaiting(e.Queue)
		return true

	case event.QueueAbandon:
		q := a.decrementWaiting(e.Queue)
		q.AbandonedCount++
		return true

	case event.QueueParams:
		// wholesale counter replacement from the switch's own numbers
		q := a.queue(e.Queue)
		q.WaitingCount = clampNonNegative(e.Queue, e.Waiting)
		q.CompletedCount = e.Completed
		q.AbandonedCount = e.Abandoned
		q.ServiceLevelPercent = e.ServiceLevelPerf
		q.AvgWaitTimeSeconds = e.HoldTimeSeconds
		return true

	case event.QueueSummary:
		q := a.queue(e.Queue)
		q.WaitingCount = clampNonNegative(e.Queue, e.Waiting)
		q.AvgWaitTimeSeconds = e.HoldTimeSeconds
		return true

	case event.QueueMemberStatus:
		if e.Interface == "" {
			return false
		}
		q := a.queue(e.Queue)
		q.Members[e.Interface] = Member{
			Interface:  e.Interface,
			Name:       e.Name,
			StatusCode: e.Status,
			Paused:     e.Paused,
			CallsTaken: e.CallsTaken,
			LastCallAt: e.LastCall,
		}
		return true
	}
	return false
}

// Queues returns deep copies of all queue state.
func (a *Aggregator) Queues() map[string]Queue {
	out := make(map[string]Queue, len(a.queues))
	for name, q := range a.queues {
		cp := *q
		cp.Members = make(map[string]Member, len(q.Members))
		for k, m := range q.Members {
			cp.Members[k] = m
		}
		out[name] = cp
	}
	return out
}

func (a *Aggregator) queue(name string) *Queue {
	if q, ok := a.queues[name]; ok {
		return q
	}
	q := &Queue{Name: name, Members: make(map[string]Member)}
	a.queues[name] = q
	return q
}

// decrementWaiting lowers the waiting count, clamped at zero. Leave events
// arriving for joins we never saw must not drive the count negative.
func (a *Aggregator) decrementWaiting(name string) *Queue {
	q := a.queue(name)
	if q.WaitingCount > 0 {
		q.WaitingCount--
	} else {
		log.Warn().Str("queue", name).Msg("leave without matching join, waiting count clamped at zero")
	}
	return q
}

func clampNonNegative(queue string, n int) int {
	if n < 0 {
		log.Warn().Str("queue", queue).Int("waiting", n).Msg("negative waiting count from switch, clamped")
		return 0
	}
	return n
}
