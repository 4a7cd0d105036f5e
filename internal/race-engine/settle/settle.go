package settle

import (
	"context"
	"errors"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/race-engine/internal/race-engine/fair"
	"github.com/radieske/race-engine/internal/race-engine/model"
	"github.com/radieske/race-engine/internal/race-engine/repo"
	"github.com/radieske/race-engine/pkg/contracts/events"
)

// Store é o recorte de persistência que a liquidação precisa.
// SettleRace tem que ser tudo-ou-nada: resultado, deltas de saldo e remoção
// da corrida/apostas pendentes na mesma transação.
type Store interface {
	FindBetsForRace(ctx context.Context, raceID string) ([]model.Bet, error)
	SettleRace(ctx context.Context, res *events.RaceResult, deltas map[string]int64) error
	FindRaceResult(ctx context.Context, raceID string) (*events.RaceResult, error)
}

// Engine transforma as apostas de uma corrida terminada em mudanças de saldo
// e um RaceResult durável, exatamente uma vez
type Engine struct {
	log      *zap.Logger
	store    Store
	rakeRate float64
}

func New(log *zap.Logger, store Store, rakeRate float64) *Engine {
	return &Engine{log: log, store: store, rakeRate: rakeRate}
}

// Compute resolve cada aposta contra o vencedor e acumula os deltas de saldo
// por carteira. Puro: toda a matemática de payout e rake mora aqui.
//
// payout = amount * multiplier se ganhou, 0 se perdeu.
// Pra aposta vencedora: rake = round(profit * rakeRate), net = payout - rake,
// e a carteira recebe net. Pra perdedora, a carteira perde o amount
// (o clamp no zero é aplicado na transação, não aqui).
func Compute(bets []model.Bet, winnerName string, rakeRate float64) ([]events.SettledBet, map[string]int64) {
	settled := make([]events.SettledBet, 0, len(bets))
	deltas := make(map[string]int64)

	for _, b := range bets {
		sb := events.SettledBet{
			BettorWallet:   b.BettorWallet,
			TargetName:     b.TargetName,
			AmountLamports: b.AmountLamports,
			Multiplier:     b.Multiplier,
			Won:            b.TargetName == winnerName,
		}
		if sb.Won {
			sb.PayoutLamports = b.AmountLamports * int64(b.Multiplier)
			profit := sb.PayoutLamports - b.AmountLamports
			rake := int64(math.Round(float64(profit) * rakeRate))
			sb.NetPayoutLamports = sb.PayoutLamports - rake
			deltas[b.BettorWallet] += sb.NetPayoutLamports
		} else {
			deltas[b.BettorWallet] -= b.AmountLamports
		}
		settled = append(settled, sb)
	}
	return settled, deltas
}

// Settle liquida uma corrida terminada. Idempotente: se a corrida já tem
// resultado, devolve o existente sem mutar saldo nenhum (settledNow=false).
// Qualquer erro na transação deixa tudo como estava; o scheduler pode
// re-invocar com segurança.
func (e *Engine) Settle(ctx context.Context, race *model.Race, winnerIdx int) (res *events.RaceResult, settledNow bool, err error) {
	racers := fair.Racers()
	if winnerIdx < 0 || winnerIdx >= len(racers) {
		return nil, false, errors.New("winner index out of range")
	}
	winnerName := racers[winnerIdx]

	bets, err := e.store.FindBetsForRace(ctx, race.RaceID)
	if err != nil {
		return nil, false, err
	}

	settled, deltas := Compute(bets, winnerName, e.rakeRate)

	multipliers := make(map[string]int, len(race.Multipliers))
	for name, m := range race.Multipliers {
		multipliers[name] = m
	}

	losers := make([]events.Competitor, 0, len(racers)-1)
	for _, name := range racers {
		if name != winnerName {
			losers = append(losers, events.Competitor{Name: name, Multiplier: multipliers[name]})
		}
	}

	result := &events.RaceResult{
		RaceID:          race.RaceID,
		Multipliers:     multipliers,
		Winner:          events.Competitor{Name: winnerName, Multiplier: multipliers[winnerName]},
		Losers:          losers,
		Bets:            settled,
		ServerSeed:      race.ServerSeed,
		ServerSeedHash:  race.ServerSeedHash,
		SpecialPoolProb: race.SpecialPoolProb,
		Timestamp:       time.Now().UTC(),
	}

	if err := e.store.SettleRace(ctx, result, deltas); err != nil {
		if errors.Is(err, repo.ErrAlreadySettled) {
			existing, ferr := e.store.FindRaceResult(ctx, race.RaceID)
			if ferr != nil {
				return nil, false, ferr
			}
			e.log.Info("race already settled, returning existing result",
				zap.String("raceId", race.RaceID))
			return existing, false, nil
		}
		return nil, false, err
	}

	e.log.Info("race settled",
		zap.String("raceId", race.RaceID),
		zap.String("winner", winnerName),
		zap.Int("bets", len(settled)),
	)
	return result, true, nil
}
