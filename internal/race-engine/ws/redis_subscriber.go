package ws

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// StartRedisSubscriber inicia uma goroutine que escuta o canal Redis Pub/Sub
// da corrida e repassa cada envelope recebido, intacto, para todos os
// clientes WebSocket conectados via Hub.
func StartRedisSubscriber(ctx context.Context, log *zap.Logger, r *redis.Client, channel string, hub *Hub) {
	sub := r.Subscribe(ctx, channel)
	ch := sub.Channel()
	go func() {
		for {
			select {
			case <-ctx.Done():
				if err := sub.Close(); err != nil {
					log.Warn("ws subscriber close failed", zap.Error(err))
				}
				return
			case msg := <-ch:
				if msg == nil {
					continue
				}
				// o envelope já vem serializado do broadcaster, repassa cru
				hub.Broadcast([]byte(msg.Payload))
			}
		}
	}()
}
