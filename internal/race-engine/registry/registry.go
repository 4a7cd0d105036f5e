// Package registry garante uma única corrida ativa por processo: cria a
// corrida quando não existe, retoma a persistida quando existe, e reagenda
// a próxima quando o ciclo termina.
package registry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/radieske/race-engine/internal/race-engine/fair"
	"github.com/radieske/race-engine/internal/race-engine/model"
	"github.com/radieske/race-engine/internal/race-engine/repo"
)

// Store é o recorte do repositório usado pelo registry.
type Store interface {
	FindOpenRace(ctx context.Context) (*model.Race, error)
	CreateRace(ctx context.Context, race *model.Race) error
	DeleteRace(ctx context.Context, raceID string) error
}

// Runner executa o ciclo de vida completo de uma corrida (o scheduler).
type Runner interface {
	Run(ctx context.Context, race *model.Race) error
}

// Config são os parâmetros de criação de uma corrida nova.
type Config struct {
	ReadySeconds    int
	BetSeconds      int
	SpecialPoolProb float64
	RetryDelay      time.Duration
}

type Registry struct {
	log    *zap.Logger
	store  Store
	runner Runner
	cfg    Config

	mu       sync.Mutex
	starting bool
	activeID string

	// OnRaceCreated alimenta o contador de corridas criadas
	OnRaceCreated func()
}

func New(log *zap.Logger, store Store, runner Runner, cfg Config) *Registry {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	return &Registry{log: log, store: store, runner: runner, cfg: cfg}
}

// ActiveRaceID devolve o id da corrida em execução ("" se nenhuma).
func (r *Registry) ActiveRaceID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeID
}

// StartNext resolve a corrida ativa e dispara o ciclo dela em background.
// Chamadas concorrentes são colapsadas: só a primeira cria/retoma; as
// demais retornam imediatamente sem efeito.
func (r *Registry) StartNext(ctx context.Context) {
	r.mu.Lock()
	if r.starting || r.activeID != "" {
		r.mu.Unlock()
		return
	}
	r.starting = true
	r.mu.Unlock()

	race, err := r.resolveRace(ctx)
	if err != nil {
		r.mu.Lock()
		r.starting = false
		r.mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		r.log.Error("race resolve failed, retrying", zap.Error(err))
		r.retryLater(ctx)
		return
	}

	r.mu.Lock()
	r.starting = false
	r.activeID = race.RaceID
	r.mu.Unlock()

	go r.runRace(ctx, race)
}

// resolveRace retoma a corrida aberta persistida, ou cria uma nova.
// Corrida sem commitment de seed é lixo de uma versão anterior: apaga e recria.
func (r *Registry) resolveRace(ctx context.Context) (*model.Race, error) {
	race, err := r.store.FindOpenRace(ctx)
	if err == nil {
		if race.HasCommitment() && race.Phase.Valid() {
			r.log.Info("resuming persisted race",
				zap.String("raceId", race.RaceID),
				zap.String("phase", string(race.Phase)),
			)
			return race, nil
		}
		r.log.Warn("discarding malformed persisted race", zap.String("raceId", race.RaceID))
		if delErr := r.store.DeleteRace(ctx, race.RaceID); delErr != nil {
			return nil, delErr
		}
	} else if !errors.Is(err, repo.ErrNoOpenRace) {
		return nil, err
	}
	return r.createRace(ctx)
}

func (r *Registry) createRace(ctx context.Context) (*model.Race, error) {
	serverSeed, seedHash, err := fair.NewSeedPair()
	if err != nil {
		return nil, err
	}

	raceID := "race_" + uuid.NewString()
	race := &model.Race{
		RaceID:         raceID,
		Phase:          model.PhaseReady,
		ReadyCountdown: r.cfg.ReadySeconds,
		BetCountdown:   r.cfg.BetSeconds,
		Multipliers:    fair.PoolConfig(serverSeed, raceID, raceID, r.cfg.SpecialPoolProb),
		ServerSeed:     serverSeed,
		ServerSeedHash: seedHash,
		// o limiar vigente viaja com a corrida: auditorias futuras não
		// dependem do knob de configuração da época
		SpecialPoolProb: r.cfg.SpecialPoolProb,
		CreatedAt:       time.Now().UTC(),
	}
	if err := r.store.CreateRace(ctx, race); err != nil {
		return nil, err
	}

	if r.OnRaceCreated != nil {
		r.OnRaceCreated()
	}
	r.log.Info("race created",
		zap.String("raceId", race.RaceID),
		zap.String("serverSeedHash", race.ServerSeedHash),
		zap.Any("multipliers", race.Multipliers),
	)
	return race, nil
}

func (r *Registry) runRace(ctx context.Context, race *model.Race) {
	err := r.runner.Run(ctx, race)

	r.mu.Lock()
	r.activeID = ""
	r.mu.Unlock()

	if ctx.Err() != nil {
		return
	}
	if err != nil {
		r.log.Error("race cycle failed, retrying", zap.String("raceId", race.RaceID), zap.Error(err))
		r.retryLater(ctx)
		return
	}
	r.StartNext(ctx)
}

func (r *Registry) retryLater(ctx context.Context) {
	go func() {
		select {
		case <-ctx.Done():
		case <-time.After(r.cfg.RetryDelay):
			r.StartNext(ctx)
		}
	}()
}
