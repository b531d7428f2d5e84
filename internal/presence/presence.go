// Package presence derives agent availability from the registration
// collaborator's records and the live call table. Presence is derived,
// never stored: an extension is offline unless the registration registry
// says otherwise.
package presence

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/callwatch/callwatch/internal/session"
)

// State is one extension's derived availability.
type State string

const (
	StateOffline   State = "offline"
	StateAvailable State = "available"
	StateOnCall    State = "on_call"
)

// Registration is the raw collaborator record for one extension.
type Registration struct {
	Registered bool
	LastSeenAt time.Time
}

// Registry reads registration status from the collaborator.
type Registry interface {
	GetRegistrationStatus(ctx context.Context, extension string) (Registration, error)
}

// Agent is one extension with its derived state.
type Agent struct {
	Extension  string    `json:"extension"`
	State      State     `json:"state"`
	LastSeenAt time.Time `json:"last_seen_at,omitzero"`
}

// Resolve derives the state of each extension. A registry failure for one
// extension degrades that extension to offline; it never fails the whole
// snapshot.
func Resolve(ctx context.Context, reg Registry, extensions []string, active []session.Call) []Agent {
	busy := make(map[string]bool, len(active)*2)
	for _, c := range active {
		if c.Source != "" {
			busy[c.Source] = true
		}
		if c.Destination != "" {
			busy[c.Destination] = true
		}
	}

	out := make([]Agent, 0, len(extensions))
	for _, ext := range extensions {
		agent := Agent{Extension: ext, State: StateOffline}
		r, err := reg.GetRegistrationStatus(ctx, ext)
		if err != nil {
			log.Warn().Err(err).Str("extension", ext).Msg("registration lookup failed, reporting offline")
			out = append(out, agent)
			continue
		}
		agent.LastSeenAt = r.LastSeenAt
		if r.Registered {
			if busy[ext] {
				agent.State = StateOnCall
			} else {
				agent.State = StateAvailable
			}
		}
		out = append(out, agent)
	}
	return out
}

// redisKeyPrefix matches what the registration service writes:
// a hash per extension with "registered" and "last_seen_at" fields.
const redisKeyPrefix = "presence:ext:"

// RedisRegistry reads registration hashes from Redis.
type RedisRegistry struct {
	client *redis.Client
}

// NewRedisRegistry creates a registry over a redis client.
func NewRedisRegistry(client *redis.Client) *RedisRegistry {
	return &RedisRegistry{client: client}
}

func (r *RedisRegistry) GetRegistrationStatus(ctx context.Context, extension string) (Registration, error) {
	fields, err := r.client.HGetAll(ctx, redisKeyPrefix+extension).Result()
	if err != nil {
		return Registration{}, err
	}
	if len(fields) == 0 {
		return Registration{}, nil
	}

	reg := Registration{}
	reg.Registered, _ = strconv.ParseBool(fields["registered"])
	if v := fields["last_seen_at"]; v != "" {
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			reg.LastSeenAt = ts
		}
	}
	return reg, nil
}
