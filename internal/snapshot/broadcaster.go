package snapshot

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/callwatch/callwatch/internal/publisher"
)

// Broadcaster publishes snapshots to subscribers. Triggers coalesce: while
// a publish is in flight further triggers collapse into one pending slot,
// so the newest state is reflected by the next publish at latest.
type Broadcaster struct {
	builder *Builder
	pub     publisher.Publisher
	topic   string
	pending chan struct{}
}

// NewBroadcaster creates a Broadcaster publishing to the given topic.
func NewBroadcaster(builder *Builder, pub publisher.Publisher, topic string) *Broadcaster {
	return &Broadcaster{
		builder: builder,
		pub:     pub,
		topic:   topic,
		pending: make(chan struct{}, 1),
	}
}

// Trigger requests a broadcast. Non-blocking and safe from any goroutine;
// called after observable mutations and by the periodic tick.
func (b *Broadcaster) Trigger() {
	select {
	case b.pending <- struct{}{}:
	default:
		// a broadcast is already pending, this trigger rides along
	}
}

// Run services triggers until the context is cancelled.
func (b *Broadcaster) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.pending:
			b.publishOnce(ctx)
		}
	}
}

// PublishNow builds and publishes a snapshot immediately. Exposed for the
// initial publish at startup and for tests.
func (b *Broadcaster) PublishNow(ctx context.Context) {
	b.publishOnce(ctx)
}

func (b *Broadcaster) publishOnce(ctx context.Context) {
	snap := b.builder.Build(ctx)

	data, err := json.Marshal(snap)
	if err != nil {
		log.Error().Err(err).Msg("snapshot marshal failed")
		return
	}
	if err := b.pub.Publish(ctx, b.topic, data); err != nil {
		// degraded freshness only; the next trigger or tick retries
		log.Warn().Err(err).Str("topic", b.topic).Msg("snapshot publish failed")
	}
}
