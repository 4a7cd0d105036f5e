package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	payoutworker "github.com/radieske/race-engine/internal/payout-worker"
	"github.com/radieske/race-engine/internal/race-engine/pubsub"
	"github.com/radieske/race-engine/internal/race-engine/repo"
	"github.com/radieske/race-engine/internal/race-engine/treasury"
	sharedcache "github.com/radieske/race-engine/internal/shared/cache"
	"github.com/radieske/race-engine/internal/shared/config"
	"github.com/radieske/race-engine/internal/shared/db"
	sharedkafka "github.com/radieske/race-engine/internal/shared/kafka"
	"github.com/radieske/race-engine/internal/shared/logger"
	"github.com/radieske/race-engine/internal/shared/metrics"
)

func main() {
	cfg := config.Load()
	log, err := logger.New(cfg.ServiceName, cfg.Env)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	// Postgres pra gravar a referência da transação de pagamento nas apostas
	pg, err := db.ConnectPostgres(cfg.PostgresDSN)
	if err != nil {
		log.Fatal("postgres connect", zap.Error(err))
	}
	defer pg.Close()

	// Redis pra propagar o evento payout pros clientes WS do race-engine
	redisClient, err := sharedcache.ConnectRedis(cfg.RedisAddr)
	if err != nil {
		log.Fatal("redis connect", zap.Error(err))
	}
	defer redisClient.Close()

	// Kafka consumer: consome race_settled pra pagar os prêmios
	reader := sharedkafka.NewReader(cfg.KafkaBrokers, cfg.TopicRaceSettled, "payout-worker")
	defer reader.Close()

	var dlq payoutworker.MessageWriter
	if cfg.TopicRaceSettledDLQ != "" {
		dlqWriter := sharedkafka.NewWriter(cfg.KafkaBrokers, cfg.TopicRaceSettledDLQ)
		defer dlqWriter.Close()
		dlq = dlqWriter
	}

	// Métricas Prometheus do worker
	consumed := prometheus.NewCounter(prometheus.CounterOpts{Name: "payout_messages_consumed_total", Help: "mensagens consumidas"})
	paid := prometheus.NewCounter(prometheus.CounterOpts{Name: "payout_transfers_total", Help: "transferências pagas"})
	errorsBy := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "payout_errors_total", Help: "erros por estágio"}, []string{"stage"})
	prometheus.MustRegister(consumed, paid, errorsBy)

	worker := &payoutworker.Worker{
		Log:      log,
		Reader:   reader,
		Treasury: treasury.New(cfg.TreasuryURL),
		Store:    repo.NewPostgres(pg),
		Bc:       pubsub.NewRedisBroadcaster(redisClient, cfg.RedisPubSubChannel),
		DLQ:      dlq,
		Retries:  cfg.SettleRetryAttempts,

		OnConsumed: func() { consumed.Inc() },
		OnPaid:     func() { paid.Inc() },
		OnError:    func(stage string) { errorsBy.WithLabelValues(stage).Inc() },
	}

	// Servidor de métricas e health
	metricsSrv := metrics.StartServer(cfg.MetricsPort, func(hctx context.Context) error {
		if err := pg.PingContext(hctx); err != nil {
			return err
		}
		return redisClient.Ping(hctx).Err()
	})
	defer metricsSrv.Close()

	// Sinalização para shutdown gracioso (SIGINT/SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("payout-worker started", zap.String("consume", cfg.TopicRaceSettled))
	if err := worker.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatal("worker stopped with error", zap.Error(err))
	}
	log.Info("payout-worker stopped")
}
