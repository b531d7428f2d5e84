// Package snapshot computes and broadcasts the consolidated view clients
// consume: active calls, queue stats, agent presence and historical
// rollups. A snapshot is a pure projection, safe to discard and recompute.
package snapshot

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/callwatch/callwatch/internal/cdr"
	"github.com/callwatch/callwatch/internal/presence"
	"github.com/callwatch/callwatch/internal/queuestats"
	"github.com/callwatch/callwatch/internal/session"
)

// histogramWindow is how far back the hourly histogram reaches.
const histogramWindow = 6 * time.Hour

// SessionSource provides value copies of the live call table.
type SessionSource interface {
	ActiveCalls() []session.Call
}

// QueueSource provides value copies of the queue state table.
type QueueSource interface {
	QueueStats() map[string]queuestats.Queue
}

// ActiveCall is the client-facing projection of one live call.
type ActiveCall struct {
	ID           string    `json:"id"`
	Source       string    `json:"source"`
	Destination  string    `json:"destination"`
	CallerNumber string    `json:"caller_number,omitempty"`
	Direction    string    `json:"direction"`
	Status       string    `json:"status"`
	StartedAt    time.Time `json:"started_at"`
	AnsweredAt   time.Time `json:"answered_at,omitzero"`
	Queue        string    `json:"queue,omitempty"`
}

// QueueView is one queue's stats plus derived rates.
type QueueView struct {
	queuestats.Queue
	AbandonRate float64 `json:"abandon_rate"`
}

// History is the CDR-derived rollup section of a snapshot.
type History struct {
	Today     cdr.WindowStats  `json:"today"`
	ThisWeek  cdr.WindowStats  `json:"this_week"`
	ThisMonth cdr.WindowStats  `json:"this_month"`
	Hourly    []cdr.HourBucket `json:"hourly"`
}

// Snapshot is the full consolidated state published to subscribers.
type Snapshot struct {
	GeneratedAt time.Time            `json:"generated_at"`
	ActiveCalls []ActiveCall         `json:"active_calls"`
	Queues      map[string]QueueView `json:"queues"`
	Agents      []presence.Agent     `json:"agents"`
	History     History              `json:"history"`
}

// Builder assembles snapshots from the live state owners and the CDR
// store. It only ever reads.
type Builder struct {
	sessions   SessionSource
	queues     QueueSource
	history    cdr.History
	registry   presence.Registry
	extensions []string
	clock      func() time.Time
}

// NewBuilder creates a Builder. extensions lists agent extensions to
// always include in presence, on top of those derived from queue members.
func NewBuilder(sessions SessionSource, queues QueueSource, history cdr.History, registry presence.Registry, extensions []string) *Builder {
	return &Builder{
		sessions:   sessions,
		queues:     queues,
		history:    history,
		registry:   registry,
		extensions: extensions,
		clock:      time.Now,
	}
}

// WithClock overrides the time source, for tests.
func (b *Builder) WithClock(clock func() time.Time) *Builder {
	b.clock = clock
	return b
}

// Build computes a snapshot. Collaborator failures degrade the affected
// section to empty rather than failing the snapshot.
func (b *Builder) Build(ctx context.Context) Snapshot {
	now := b.clock().UTC()
	active := b.sessions.ActiveCalls()
	queues := b.queues.QueueStats()

	snap := Snapshot{
		GeneratedAt: now,
		ActiveCalls: make([]ActiveCall, 0, len(active)),
		Queues:      make(map[string]QueueView, len(queues)),
	}

	for _, c := range active {
		snap.ActiveCalls = append(snap.ActiveCalls, ActiveCall{
			ID:           c.ID,
			Source:       c.Source,
			Destination:  c.Destination,
			CallerNumber: c.ResolvedCallerNumber,
			Direction:    string(c.Direction),
			Status:       string(c.Status),
			StartedAt:    c.StartedAt,
			AnsweredAt:   c.AnsweredAt,
			Queue:        c.QueueName,
		})
	}
	sort.Slice(snap.ActiveCalls, func(i, j int) bool {
		return snap.ActiveCalls[i].ID < snap.ActiveCalls[j].ID
	})

	for name, q := range queues {
		snap.Queues[name] = QueueView{Queue: q, AbandonRate: q.AbandonRate()}
	}

	snap.Agents = presence.Resolve(ctx, b.registry, b.agentExtensions(queues), active)
	snap.History = b.buildHistory(ctx, now)
	return snap
}

func (b *Builder) agentExtensions(queues map[string]queuestats.Queue) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(ext string) {
		if ext != "" && !seen[ext] {
			seen[ext] = true
			out = append(out, ext)
		}
	}
	for _, ext := range b.extensions {
		add(ext)
	}
	for _, q := range queues {
		for iface := range q.Members {
			add(ExtensionFromInterface(iface))
		}
	}
	sort.Strings(out)
	return out
}

func (b *Builder) buildHistory(ctx context.Context, now time.Time) History {
	var h History
	h.Today = b.windowStats(ctx, startOfDay(now), now)
	h.ThisWeek = b.windowStats(ctx, startOfWeek(now), now)
	h.ThisMonth = b.windowStats(ctx, startOfMonth(now), now)

	hourly, err := b.history.HourlyHistogram(ctx, now.Add(-histogramWindow).Truncate(time.Hour), now)
	if err != nil {
		log.Warn().Err(err).Msg("hourly histogram query failed, omitting from snapshot")
	} else {
		h.Hourly = hourly
	}
	return h
}

func (b *Builder) windowStats(ctx context.Context, from, to time.Time) cdr.WindowStats {
	s, err := b.history.WindowStats(ctx, from, to)
	if err != nil {
		log.Warn().Err(err).Time("from", from).Msg("window stats query failed, reporting zeros")
		return cdr.WindowStats{}
	}
	return s
}

// ExtensionFromInterface strips the channel technology from a queue member
// interface: "SIP/2001" -> "2001".
func ExtensionFromInterface(iface string) string {
	if idx := strings.Index(iface, "/"); idx >= 0 {
		return iface[idx+1:]
	}
	return iface
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// startOfWeek returns the most recent Monday midnight.
func startOfWeek(t time.Time) time.Time {
	day := startOfDay(t)
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

func startOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}
