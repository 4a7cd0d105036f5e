package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/radieske/race-engine/internal/race-engine/httpapi"
	"github.com/radieske/race-engine/internal/race-engine/producer"
	"github.com/radieske/race-engine/internal/race-engine/pubsub"
	"github.com/radieske/race-engine/internal/race-engine/registry"
	"github.com/radieske/race-engine/internal/race-engine/repo"
	"github.com/radieske/race-engine/internal/race-engine/scheduler"
	"github.com/radieske/race-engine/internal/race-engine/settle"
	"github.com/radieske/race-engine/internal/race-engine/treasury"
	"github.com/radieske/race-engine/internal/race-engine/ws"
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

	log.Info("starting service", zap.String("service", cfg.ServiceName), zap.String("env", cfg.Env))

	// Inicializa dependências: Postgres, Redis e Kafka
	pg, err := db.ConnectPostgres(cfg.PostgresDSN)
	if err != nil {
		log.Fatal("postgres connect", zap.Error(err))
	}
	defer pg.Close()

	redisClient, err := sharedcache.ConnectRedis(cfg.RedisAddr)
	if err != nil {
		log.Fatal("redis connect", zap.Error(err))
	}
	defer redisClient.Close()

	betWriter := sharedkafka.NewWriter(cfg.KafkaBrokers, cfg.TopicBetPlaced)
	defer betWriter.Close()
	settledWriter := sharedkafka.NewWriter(cfg.KafkaBrokers, cfg.TopicRaceSettled)
	defer settledWriter.Close()

	// Métricas Prometheus do motor de corrida
	racesCreated := prometheus.NewCounter(prometheus.CounterOpts{Name: "race_engine_races_created_total", Help: "corridas criadas"})
	racesSettled := prometheus.NewCounter(prometheus.CounterOpts{Name: "race_engine_races_settled_total", Help: "corridas liquidadas"})
	betsAccepted := prometheus.NewCounter(prometheus.CounterOpts{Name: "race_engine_bets_accepted_total", Help: "apostas aceitas"})
	phaseGauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "race_engine_phase", Help: "fase corrente (1 na ativa)"}, []string{"phase"})
	errorsBy := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "race_engine_errors_total", Help: "erros por estágio"}, []string{"stage"})
	prometheus.MustRegister(racesCreated, racesSettled, betsAccepted, phaseGauge, errorsBy)

	store := repo.NewPostgres(pg)
	broadcaster := pubsub.NewRedisBroadcaster(redisClient, cfg.RedisPubSubChannel)
	publisher := producer.NewKafkaPublisher(betWriter, settledWriter)
	treasuryClient := treasury.New(cfg.TreasuryURL)
	settler := settle.New(log, store, cfg.RakeRate)

	sched := scheduler.New(log, store, settler, broadcaster, publisher, scheduler.Timings{
		BetSeconds:    cfg.BetSeconds,
		RaceDuration:  cfg.RaceDuration,
		FrameInterval: cfg.FrameInterval,
		Intermission:  cfg.Intermission,
		SettleRetries: cfg.SettleRetryAttempts,
	})
	sched.OnPhase = func(phase string) {
		phaseGauge.Reset()
		phaseGauge.WithLabelValues(phase).Set(1)
	}
	sched.OnSettled = func() { racesSettled.Inc() }
	sched.OnError = func(stage string) { errorsBy.WithLabelValues(stage).Inc() }

	reg := registry.New(log, store, sched, registry.Config{
		ReadySeconds:    cfg.ReadySeconds,
		BetSeconds:      cfg.BetSeconds,
		SpecialPoolProb: cfg.SpecialPoolProb,
	})
	reg.OnRaceCreated = func() { racesCreated.Inc() }

	// API pública: REST + WebSocket na mesma porta
	api := httpapi.NewServer(log, store, broadcaster, treasuryClient, broadcaster, publisher, cfg.HistoryLimit)
	api.OnBetAccepted = func() { betsAccepted.Inc() }

	hub := ws.NewHub(func(*http.Request) bool { return true }, broadcaster)

	mux := http.NewServeMux()
	mux.Handle("/", api.Router())
	mux.HandleFunc("/ws", hub.HandleWS)

	srv := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: mux,
	}

	// Sinalização para shutdown gracioso (SIGINT/SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Fan-out do Redis Pub/Sub pros clientes WS conectados
	ws.StartRedisSubscriber(ctx, log, redisClient, cfg.RedisPubSubChannel, hub)

	// Servidor de métricas e health em porta separada
	metricsSrv := metrics.StartServer(cfg.MetricsPort, func(hctx context.Context) error {
		if err := pg.PingContext(hctx); err != nil {
			return err
		}
		return redisClient.Ping(hctx).Err()
	})
	defer metricsSrv.Close()
	log.Info("metrics/health listening", zap.String("addr", ":"+cfg.MetricsPort))

	go func() {
		log.Info("http api listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server failed", zap.Error(err))
			cancel()
		}
	}()

	// Dispara o ciclo de corridas: retoma a persistida ou cria a primeira
	reg.StartNext(ctx)
	log.Info("race engine started")

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	log.Info("race engine stopped")
}
