package producer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	sharedkafka "github.com/radieske/race-engine/internal/shared/kafka"
	"github.com/radieske/race-engine/pkg/contracts/events"
)

// KafkaPublisher publica os eventos do motor de corrida nos tópicos do
// broker: apostas aceitas e corridas liquidadas. A chave é sempre o raceId
// pra manter a ordem por corrida na partição.
type KafkaPublisher struct {
	BetWriter     *kafka.Writer
	SettledWriter *kafka.Writer
}

func NewKafkaPublisher(betWriter, settledWriter *kafka.Writer) *KafkaPublisher {
	return &KafkaPublisher{BetWriter: betWriter, SettledWriter: settledWriter}
}

func (p *KafkaPublisher) PublishBetPlaced(ctx context.Context, e events.BetPlaced) error {
	e.TsUnixMs = time.Now().UnixMilli()
	b, _ := json.Marshal(e)
	return sharedkafka.WriteJSON(ctx, p.BetWriter, e.RaceID, b)
}

func (p *KafkaPublisher) PublishRaceSettled(ctx context.Context, e events.RaceSettled) error {
	b, _ := json.Marshal(e)
	return sharedkafka.WriteJSON(ctx, p.SettledWriter, e.RaceID, b)
}
