// Package payoutworker consome os eventos race_settled e paga os prêmios
// no trilho externo via tesouraria. O pagamento é best-effort: o saldo
// interno já foi creditado na liquidação, então falha aqui nunca desfaz
// nada, só vai pra DLQ pra reprocessamento manual.
package payoutworker

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/radieske/race-engine/pkg/contracts/events"
)

// Transferer é o recorte da tesouraria usado pelo worker.
type Transferer interface {
	Transfer(ctx context.Context, recipientWallet string, amountLamports int64, reference string) (string, error)
}

// PayoutStore grava a referência da transação de pagamento nas apostas.
type PayoutStore interface {
	UpdateBetPayoutRef(ctx context.Context, raceID, bettorWallet, ref string) error
}

// Broadcaster propaga o evento payout pros clientes conectados.
type Broadcaster interface {
	Broadcast(ctx context.Context, eventType string, payload any) error
}

// MessageReader é o recorte do kafka.Reader consumido pelo worker.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

// MessageWriter é o recorte do kafka.Writer usado pra DLQ.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Worker consome race_settled, agrega os prêmios por carteira e transfere.
// Callbacks de métricas podem ser usadas para monitoramento de cada etapa
type Worker struct {
	Log      *zap.Logger
	Reader   MessageReader
	Treasury Transferer
	Store    PayoutStore
	Bc       Broadcaster
	DLQ      MessageWriter
	Retries  int

	OnConsumed func()       // métricas (counter++)
	OnPaid     func()       // métricas
	OnError    func(string) // métricas por fase
}

// Run inicia o loop principal de consumo e pagamento
func (w *Worker) Run(ctx context.Context) error {
	for {
		m, err := w.Reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.Log.Warn("kafka read failed", zap.Error(err))
			if w.OnError != nil {
				w.OnError("read")
			}
			time.Sleep(500 * time.Millisecond)
			continue
		}

		if w.OnConsumed != nil {
			w.OnConsumed()
		}

		var settled events.RaceSettled
		if err := json.Unmarshal(m.Value, &settled); err != nil {
			w.Log.Warn("invalid message", zap.Error(err))
			if w.OnError != nil {
				w.OnError("decode")
			}
			continue
		}

		if err := w.ProcessSettled(ctx, &settled); err != nil {
			w.Log.Error("payout failed", zap.String("raceId", settled.RaceID), zap.Error(err))
			if w.OnError != nil {
				w.OnError("payout")
			}
			w.sendToDLQ(ctx, m)
		}
	}
}

// AggregatePayouts soma os prêmios vencedores por carteira. Uma carteira
// com várias apostas vencedoras recebe uma transferência só. A ordem é
// determinística pra referência de pagamento ser estável.
func AggregatePayouts(bets []events.SettledBet) []events.Payout {
	byWallet := make(map[string]int64)
	for _, b := range bets {
		if b.Won && b.PayoutLamports > 0 {
			byWallet[b.BettorWallet] += b.PayoutLamports
		}
	}

	wallets := make([]string, 0, len(byWallet))
	for wlt := range byWallet {
		wallets = append(wallets, wlt)
	}
	sort.Strings(wallets)

	out := make([]events.Payout, 0, len(wallets))
	for _, wlt := range wallets {
		out = append(out, events.Payout{
			BettorWallet:   wlt,
			AmountLamports: byWallet[wlt],
		})
	}
	return out
}

// ProcessSettled transfere os prêmios de uma corrida liquidada. Cada
// carteira é independente: a falha de uma não trava as demais, mas marca
// a corrida pra DLQ.
func (w *Worker) ProcessSettled(ctx context.Context, settled *events.RaceSettled) error {
	payouts := AggregatePayouts(settled.Bets)
	if len(payouts) == 0 {
		w.Log.Info("race settled with no winning payouts", zap.String("raceId", settled.RaceID))
		return nil
	}

	var firstErr error
	for _, p := range payouts {
		ref := "race-payout:" + settled.RaceID + ":" + p.BettorWallet
		sig, err := w.transferWithRetry(ctx, p.BettorWallet, p.AmountLamports, ref)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		if err := w.Store.UpdateBetPayoutRef(ctx, settled.RaceID, p.BettorWallet, sig); err != nil {
			w.Log.Warn("payout ref persist failed",
				zap.String("raceId", settled.RaceID),
				zap.String("wallet", p.BettorWallet),
				zap.Error(err),
			)
		}

		if w.OnPaid != nil {
			w.OnPaid()
		}
		w.Log.Info("payout sent",
			zap.String("raceId", settled.RaceID),
			zap.String("wallet", p.BettorWallet),
			zap.Int64("lamports", p.AmountLamports),
			zap.String("txSignature", sig),
		)

		if w.Bc != nil {
			ev := events.Payout{
				RaceID:         settled.RaceID,
				BettorWallet:   p.BettorWallet,
				AmountLamports: p.AmountLamports,
				Reference:      sig,
				TsUnixMs:       time.Now().UnixMilli(),
			}
			if err := w.Bc.Broadcast(ctx, events.TypePayout, ev); err != nil {
				w.Log.Warn("payout broadcast failed", zap.Error(err))
			}
		}
	}
	return firstErr
}

func (w *Worker) transferWithRetry(ctx context.Context, wallet string, amount int64, ref string) (string, error) {
	retries := w.Retries
	if retries < 1 {
		retries = 1
	}
	var lastErr error
	for i := 0; i < retries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(300*i) * time.Millisecond):
			}
		}
		sig, err := w.Treasury.Transfer(ctx, wallet, amount, ref)
		if err == nil {
			return sig, nil
		}
		lastErr = err
	}
	return "", lastErr
}

func (w *Worker) sendToDLQ(ctx context.Context, m kafka.Message) {
	if w.DLQ == nil {
		return
	}
	if err := w.DLQ.WriteMessages(ctx, kafka.Message{Key: m.Key, Value: m.Value}); err != nil {
		w.Log.Error("dlq write failed", zap.Error(err))
		if w.OnError != nil {
			w.OnError("dlq")
		}
	}
}
