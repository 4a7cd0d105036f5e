package pubsub

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/radieske/race-engine/pkg/contracts/events"
)

const stateKey = "race:state:current"

// RedisBroadcaster publica os eventos da corrida num canal pub/sub e mantém
// no Redis o snapshot do último raceState, que o /v1/race/current e o
// get_state do WS leem sem bater no Postgres.
type RedisBroadcaster struct {
	r        *redis.Client
	channel  string
	stateTTL time.Duration
}

func NewRedisBroadcaster(r *redis.Client, channel string) *RedisBroadcaster {
	return &RedisBroadcaster{r: r, channel: channel, stateTTL: 2 * time.Minute}
}

// Broadcast embrulha o payload num Envelope e publica no canal.
func (b *RedisBroadcaster) Broadcast(ctx context.Context, eventType string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	env, err := json.Marshal(events.Envelope{Type: eventType, Payload: raw})
	if err != nil {
		return err
	}
	if eventType == events.TypeRaceState {
		if err := b.r.Set(ctx, stateKey, raw, b.stateTTL).Err(); err != nil {
			return err
		}
	}
	return b.r.Publish(ctx, b.channel, env).Err()
}

// CurrentState devolve o último snapshot de raceState (redis.Nil se não há).
func (b *RedisBroadcaster) CurrentState(ctx context.Context) (*events.RaceState, error) {
	raw, err := b.r.Get(ctx, stateKey).Bytes()
	if err != nil {
		return nil, err
	}
	var st events.RaceState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, err
	}
	return &st, nil
}
