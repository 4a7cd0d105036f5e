package scheduler

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/race-engine/internal/race-engine/fair"
	"github.com/radieske/race-engine/internal/race-engine/model"
	"github.com/radieske/race-engine/pkg/contracts/events"
)

// phasePersistRetries limita as tentativas de gravar uma transição de fase
// que não pode ser perdida (betting -> racing fecha a janela de apostas).
const phasePersistRetries = 5

// Store é o recorte de persistência do scheduler: só fase e contadores.
// Erros de escrita num tick são transitórios; o timer continua e a próxima
// escrita acontece no tick seguinte.
type Store interface {
	UpdateRacePhase(ctx context.Context, raceID string, phase model.Phase, readyCountdown, betCountdown int) error
}

// Settler liquida uma corrida terminada, exatamente uma vez
type Settler interface {
	Settle(ctx context.Context, race *model.Race, winnerIdx int) (res *events.RaceResult, settledNow bool, err error)
}

// Broadcaster publica eventos no canal de broadcast (fan-out pros clientes)
type Broadcaster interface {
	Broadcast(ctx context.Context, eventType string, payload any) error
}

// ResultPublisher publica o evento race_settled consumido pelo payout-worker
type ResultPublisher interface {
	PublishRaceSettled(ctx context.Context, ev events.RaceSettled) error
}

// Timings parametriza todos os timers do ciclo. Em produção Tick é 1s;
// os testes encurtam tudo.
type Timings struct {
	Tick          time.Duration
	BetSeconds    int
	RaceDuration  time.Duration
	FrameInterval time.Duration
	Intermission  time.Duration
	SettleRetries int
}

// Scheduler dirige uma corrida pela máquina de estados
// ready -> betting -> racing -> settling -> intermission.
// Uma única goroutine por corrida; o registry garante o single-flight.
type Scheduler struct {
	log     *zap.Logger
	store   Store
	settler Settler
	bc      Broadcaster
	results ResultPublisher // opcional
	t       Timings

	OnPhase   func(phase string) // métricas
	OnSettled func()             // métricas
	OnError   func(stage string) // métricas por estágio
}

func New(log *zap.Logger, store Store, settler Settler, bc Broadcaster, results ResultPublisher, t Timings) *Scheduler {
	if t.Tick <= 0 {
		t.Tick = time.Second
	}
	if t.SettleRetries < 1 {
		t.SettleRetries = 1
	}
	return &Scheduler{log: log, store: store, settler: settler, bc: bc, results: results, t: t}
}

// Run dirige a corrida a partir da fase persistida até intermission.
// Uma corrida retomada após crash continua da fase e contador gravados,
// nunca do valor máximo configurado.
func (s *Scheduler) Run(ctx context.Context, race *model.Race) error {
	s.log.Info("scheduling race",
		zap.String("raceId", race.RaceID),
		zap.String("phase", string(race.Phase)),
	)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.OnPhase != nil {
			s.OnPhase(string(race.Phase))
		}

		switch race.Phase {
		case model.PhaseReady:
			if err := s.runReady(ctx, race); err != nil {
				return err
			}
		case model.PhaseBetting:
			if err := s.runBetting(ctx, race); err != nil {
				return err
			}
		case model.PhaseRacing:
			if err := s.runRacing(ctx, race); err != nil {
				return err
			}
		case model.PhaseSettling:
			// transiente: a liquidação já foi durável em runRacing
			race.Phase = model.PhaseIntermission
		case model.PhaseIntermission:
			return s.runIntermission(ctx, race)
		default:
			return errors.New("unknown race phase: " + string(race.Phase))
		}
	}
}

// runReady decrementa o contador de preparação e abre a janela de apostas
func (s *Scheduler) runReady(ctx context.Context, race *model.Race) error {
	s.broadcastState(ctx, race)

	ticker := time.NewTicker(s.t.Tick)
	defer ticker.Stop()

	for race.ReadyCountdown > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			race.ReadyCountdown--
			s.persistTick(ctx, race)
			s.broadcastState(ctx, race)
		}
	}

	race.Phase = model.PhaseBetting
	race.BetCountdown = s.t.BetSeconds
	s.persistTick(ctx, race)
	return nil
}

// runBetting decrementa a janela de apostas; em zero, fecha as apostas e
// emite o raceStart (sem o serverSeed: a revelação fica pro raceResult)
func (s *Scheduler) runBetting(ctx context.Context, race *model.Race) error {
	s.broadcastState(ctx, race)

	ticker := time.NewTicker(s.t.Tick)
	defer ticker.Stop()

	for race.BetCountdown > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			race.BetCountdown--
			s.persistTick(ctx, race)
			s.broadcastState(ctx, race)
		}
	}

	// O fechamento da janela tem que ser durável antes da corrida começar:
	// a aceitação de apostas olha só a fase persistida, e nenhuma escrita
	// posterior corrige esta se ela se perder. Diferente dos ticks, aqui a
	// falha não é tolerada: esgotadas as tentativas, o ciclo aborta com a
	// corrida ainda em betting e a retomada fecha a janela de novo.
	race.Phase = model.PhaseRacing
	if err := s.persistPhaseChange(ctx, race); err != nil {
		race.Phase = model.PhaseBetting
		return err
	}
	s.broadcast(ctx, events.TypeRaceStart, events.RaceStart{RaceID: race.RaceID})
	return nil
}

// persistPhaseChange grava uma transição de fase com retry bloqueante.
// Usado onde a escrita não pode ser deixada pro próximo tick.
func (s *Scheduler) persistPhaseChange(ctx context.Context, race *model.Race) error {
	var lastErr error
	for attempt := 0; attempt < phasePersistRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * 300 * time.Millisecond):
			}
		}
		err := s.store.UpdateRacePhase(ctx, race.RaceID, race.Phase, race.ReadyCountdown, race.BetCountdown)
		if err == nil {
			return nil
		}
		lastErr = err
		s.log.Warn("phase change persist failed",
			zap.String("raceId", race.RaceID),
			zap.String("phase", string(race.Phase)),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
		if s.OnError != nil {
			s.OnError("persist")
		}
	}
	return lastErr
}

// runRacing computa o resultado uma única vez na entrada, roda o loop de
// animação por tempo fixo e invoca a liquidação exatamente uma vez.
// Se a liquidação falhar após os retries a corrida fica não-liquidada e uma
// retomada recomputa o mesmo resultado (tudo é determinístico nos seeds).
func (s *Scheduler) runRacing(ctx context.Context, race *model.Race) error {
	clientSeed := race.RaceID
	winnerIdx := fair.SelectWinner(race.ServerSeed, clientSeed, race.RaceID, race.Multipliers)
	scenario := fair.SelectScenario(race.ServerSeed, clientSeed, race.RaceID)
	pace := fair.NewPace(race.ServerSeed, clientSeed, race.RaceID, scenario, winnerIdx)

	s.broadcastState(ctx, race)
	s.log.Info("race running",
		zap.String("raceId", race.RaceID),
		zap.String("scenario", string(scenario)),
	)

	frames := int(s.t.RaceDuration / s.t.FrameInterval)
	if frames < 1 {
		frames = 1
	}

	ticker := time.NewTicker(s.t.FrameInterval)
	defer ticker.Stop()

	for f := 1; f <= frames; f++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.broadcast(ctx, events.TypeRaceProgress, events.RaceProgress{
				RaceID:    race.RaceID,
				Positions: pace.Positions(float64(f) / float64(frames)),
			})
		}
	}

	res, settledNow, err := s.settleWithRetry(ctx, race, winnerIdx)
	if err != nil {
		return err
	}

	race.Phase = model.PhaseSettling
	s.broadcastState(ctx, race)

	if settledNow {
		if s.OnSettled != nil {
			s.OnSettled()
		}
		s.broadcast(ctx, events.TypeRaceResult, events.RaceResultReveal{
			RaceResult: *res,
			ServerSeed: res.ServerSeed,
		})
		s.publishSettled(ctx, res)
	}
	return nil
}

func (s *Scheduler) settleWithRetry(ctx context.Context, race *model.Race, winnerIdx int) (*events.RaceResult, bool, error) {
	var lastErr error
	for attempt := 0; attempt < s.t.SettleRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, false, ctx.Err()
			case <-time.After(time.Duration(attempt) * 300 * time.Millisecond):
			}
		}
		res, settledNow, err := s.settler.Settle(ctx, race, winnerIdx)
		if err == nil {
			return res, settledNow, nil
		}
		lastErr = err
		s.log.Error("settlement attempt failed",
			zap.String("raceId", race.RaceID),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
		if s.OnError != nil {
			s.OnError("settle")
		}
	}
	return nil, false, lastErr
}

// publishSettled é fire-and-forget: falha no kafka não bloqueia a transição
func (s *Scheduler) publishSettled(ctx context.Context, res *events.RaceResult) {
	if s.results == nil {
		return
	}
	ev := events.RaceSettled{
		RaceID:           res.RaceID,
		WinnerName:       res.Winner.Name,
		WinnerMultiplier: res.Winner.Multiplier,
		Bets:             res.Bets,
		TsUnixMs:         time.Now().UnixMilli(),
	}
	if err := s.results.PublishRaceSettled(ctx, ev); err != nil {
		s.log.Warn("race_settled publish failed", zap.String("raceId", res.RaceID), zap.Error(err))
		if s.OnError != nil {
			s.OnError("publish")
		}
	}
}

// runIntermission é uma pausa fixa só pra UI; ao retornar, o registry
// agenda a próxima corrida
func (s *Scheduler) runIntermission(ctx context.Context, race *model.Race) error {
	s.broadcastState(ctx, race)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.t.Intermission):
		return nil
	}
}

// persistTick grava fase/contadores. Erro aqui é transitório: loga e segue,
// a próxima escrita acontece no tick seguinte.
func (s *Scheduler) persistTick(ctx context.Context, race *model.Race) {
	if err := s.store.UpdateRacePhase(ctx, race.RaceID, race.Phase, race.ReadyCountdown, race.BetCountdown); err != nil {
		s.log.Warn("race phase persist failed",
			zap.String("raceId", race.RaceID),
			zap.String("phase", string(race.Phase)),
			zap.Error(err),
		)
		if s.OnError != nil {
			s.OnError("persist")
		}
	}
}

func (s *Scheduler) broadcastState(ctx context.Context, race *model.Race) {
	s.broadcast(ctx, events.TypeRaceState, events.RaceState{
		RaceID:         race.RaceID,
		Phase:          string(race.Phase),
		ReadyCountdown: race.ReadyCountdown,
		BetCountdown:   race.BetCountdown,
		Multipliers:    race.Multipliers,
		ServerSeedHash: race.ServerSeedHash,
	})
}

func (s *Scheduler) broadcast(ctx context.Context, eventType string, payload any) {
	if err := s.bc.Broadcast(ctx, eventType, payload); err != nil {
		s.log.Warn("broadcast failed", zap.String("type", eventType), zap.Error(err))
		if s.OnError != nil {
			s.OnError("broadcast")
		}
	}
}
