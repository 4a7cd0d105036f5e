package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sort"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/radieske/race-engine/internal/race-engine/model"
	"github.com/radieske/race-engine/pkg/contracts/events"
)

var (
	ErrNoOpenRace     = errors.New("no open race")
	ErrNotFound       = errors.New("not found")
	ErrBettingClosed  = errors.New("betting closed")
	ErrAlreadySettled = errors.New("race already settled")
)

// Postgres implementa a persistência do engine: corridas pendentes, apostas
// pendentes, resultados e carteiras
type Postgres struct{ db *sql.DB }

// NewPostgres retorna uma instância do repositório
func NewPostgres(db *sql.DB) *Postgres { return &Postgres{db: db} }

// uniqueViolation detecta colisão de chave única (código 23505 do Postgres)
func uniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// FindOpenRace retorna a corrida não-terminal mais recente, se existir
func (p *Postgres) FindOpenRace(ctx context.Context) (*model.Race, error) {
	const q = `
		SELECT race_id, phase, ready_countdown, bet_countdown, multipliers,
		       server_seed, server_seed_hash, special_pool_prob, created_at
		FROM races
		WHERE phase <> 'intermission'
		ORDER BY created_at DESC
		LIMIT 1`

	var r model.Race
	var multipliersRaw []byte
	err := p.db.QueryRowContext(ctx, q).Scan(
		&r.RaceID, &r.Phase, &r.ReadyCountdown, &r.BetCountdown, &multipliersRaw,
		&r.ServerSeed, &r.ServerSeedHash, &r.SpecialPoolProb, &r.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNoOpenRace
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(multipliersRaw, &r.Multipliers); err != nil {
		return nil, err
	}
	return &r, nil
}

// CreateRace insere uma nova corrida pendente
func (p *Postgres) CreateRace(ctx context.Context, r *model.Race) error {
	multipliersRaw, err := json.Marshal(r.Multipliers)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO races
		  (race_id, phase, ready_countdown, bet_countdown, multipliers,
		   server_seed, server_seed_hash, special_pool_prob, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		r.RaceID, string(r.Phase), r.ReadyCountdown, r.BetCountdown, multipliersRaw,
		r.ServerSeed, r.ServerSeedHash, r.SpecialPoolProb, r.CreatedAt,
	)
	return err
}

// UpdateRacePhase persiste fase e contadores correntes de uma corrida.
// Chamado a cada tick; falhas transitórias são toleradas pelo scheduler.
func (p *Postgres) UpdateRacePhase(ctx context.Context, raceID string, phase model.Phase, readyCountdown, betCountdown int) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE races
		SET phase=$1, ready_countdown=$2, bet_countdown=$3
		WHERE race_id=$4`,
		string(phase), readyCountdown, betCountdown, raceID,
	)
	return err
}

// DeleteRace remove uma corrida pendente (usado ao substituir uma corrida
// malformada; a remoção normal acontece dentro da transação de liquidação)
func (p *Postgres) DeleteRace(ctx context.Context, raceID string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM races WHERE race_id=$1`, raceID)
	return err
}

// CreateBetIfBetting insere a aposta apenas se a corrida ainda estiver na fase
// betting, no mesmo comando. Um tick que avança a fase nunca intercala com a
// aceitação: ou a linha entra com a fase ainda aberta, ou nada acontece.
func (p *Postgres) CreateBetIfBetting(ctx context.Context, b *model.Bet) (string, error) {
	id := uuid.NewString()
	res, err := p.db.ExecContext(ctx, `
		INSERT INTO bets (id, race_id, bettor_wallet, target_name, amount_lamports, multiplier, tx_signature, created_at)
		SELECT $1,$2,$3,$4,$5,$6,$7,$8
		WHERE EXISTS (SELECT 1 FROM races WHERE race_id=$2 AND phase='betting')`,
		id, b.RaceID, b.BettorWallet, b.TargetName, b.AmountLamports, b.Multiplier, b.TxSignature, b.CreatedAt,
	)
	if err != nil {
		return "", err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", ErrBettingClosed
	}
	return id, nil
}

// FindBetsForRace retorna todas as apostas pendentes de uma corrida
func (p *Postgres) FindBetsForRace(ctx context.Context, raceID string) ([]model.Bet, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, race_id, bettor_wallet, target_name, amount_lamports, multiplier, tx_signature, created_at
		FROM bets
		WHERE race_id=$1
		ORDER BY created_at`, raceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Bet
	for rows.Next() {
		var b model.Bet
		if err := rows.Scan(&b.BetID, &b.RaceID, &b.BettorWallet, &b.TargetName,
			&b.AmountLamports, &b.Multiplier, &b.TxSignature, &b.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// SettleRace aplica a liquidação de uma corrida em uma única transação:
// grava o RaceResult, aplica os deltas de saldo (com lock pessimista e piso
// zero), registra o ledger e remove a corrida e as apostas pendentes.
// Colisão de chave única no resultado vira ErrAlreadySettled e nada é mutado.
func (p *Postgres) SettleRace(ctx context.Context, res *events.RaceResult, deltas map[string]int64) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	multipliersRaw, err := json.Marshal(res.Multipliers)
	if err != nil {
		return err
	}
	losersRaw, err := json.Marshal(res.Losers)
	if err != nil {
		return err
	}

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO race_results
		  (race_id, multipliers, winner_name, winner_multiplier, losers,
		   server_seed, server_seed_hash, special_pool_prob, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		res.RaceID, multipliersRaw, res.Winner.Name, res.Winner.Multiplier, losersRaw,
		res.ServerSeed, res.ServerSeedHash, res.SpecialPoolProb, res.Timestamp,
	); err != nil {
		if uniqueViolation(err) {
			return ErrAlreadySettled
		}
		return err
	}

	for _, b := range res.Bets {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO race_result_bets
			  (race_id, bettor_wallet, target_name, amount_lamports, multiplier,
			   payout_lamports, net_payout_lamports, won)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			res.RaceID, b.BettorWallet, b.TargetName, b.AmountLamports, b.Multiplier,
			b.PayoutLamports, b.NetPayoutLamports, b.Won,
		); err != nil {
			return err
		}
	}

	// Ordem fixa de carteiras para evitar deadlock entre liquidações
	wallets := make([]string, 0, len(deltas))
	for w := range deltas {
		wallets = append(wallets, w)
	}
	sort.Strings(wallets)

	for _, wallet := range wallets {
		if err = p.applyDelta(ctx, tx, wallet, deltas[wallet], "settle:"+res.RaceID); err != nil {
			return err
		}
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM bets WHERE race_id=$1`, res.RaceID); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM races WHERE race_id=$1`, res.RaceID); err != nil {
		return err
	}

	return tx.Commit()
}

// applyDelta muta o saldo de uma carteira dentro da transação de liquidação.
// Débitos são clampados no zero; o ledger registra o valor efetivamente aplicado.
func (p *Postgres) applyDelta(ctx context.Context, tx *sql.Tx, wallet string, delta int64, description string) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO wallets (id, wallet_address, balance_lamports, version)
		VALUES ($1,$2,0,1)
		ON CONFLICT (wallet_address) DO NOTHING`,
		uuid.NewString(), wallet,
	); err != nil {
		return err
	}

	var walletID string
	var balance int64
	if err := tx.QueryRowContext(ctx,
		`SELECT id, balance_lamports FROM wallets WHERE wallet_address=$1 FOR UPDATE`,
		wallet,
	).Scan(&walletID, &balance); err != nil {
		return err
	}

	newBalance, applied := clampBalance(balance, delta)
	// débito totalmente clampado não muda nada: sem UPDATE e sem linha
	// fantasma de valor zero no ledger
	if applied == 0 {
		return nil
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE wallets SET balance_lamports=$1, version=version+1 WHERE id=$2`,
		newBalance, walletID,
	); err != nil {
		return err
	}

	op := "CREDIT"
	if applied < 0 {
		op = "DEBIT"
		applied = -applied
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO wallet_ledger (wallet_id, operation_type, amount_lamports, description)
		VALUES ($1,$2,$3,$4)`,
		walletID, op, applied, description,
	)
	return err
}

// clampBalance aplica um delta sem deixar o saldo negativo e devolve o novo
// saldo junto com o valor efetivamente aplicado.
func clampBalance(balance, delta int64) (newBalance, applied int64) {
	newBalance = balance + delta
	if newBalance < 0 {
		newBalance = 0
	}
	return newBalance, newBalance - balance
}

// FindRaceResult carrega um resultado durável com suas apostas
func (p *Postgres) FindRaceResult(ctx context.Context, raceID string) (*events.RaceResult, error) {
	const q = `
		SELECT race_id, multipliers, winner_name, winner_multiplier, losers,
		       server_seed, server_seed_hash, special_pool_prob, created_at
		FROM race_results
		WHERE race_id=$1`

	var res events.RaceResult
	var multipliersRaw, losersRaw []byte
	err := p.db.QueryRowContext(ctx, q, raceID).Scan(
		&res.RaceID, &multipliersRaw, &res.Winner.Name, &res.Winner.Multiplier, &losersRaw,
		&res.ServerSeed, &res.ServerSeedHash, &res.SpecialPoolProb, &res.Timestamp,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(multipliersRaw, &res.Multipliers); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(losersRaw, &res.Losers); err != nil {
		return nil, err
	}

	bets, err := p.findResultBets(ctx, raceID)
	if err != nil {
		return nil, err
	}
	res.Bets = bets
	return &res, nil
}

func (p *Postgres) findResultBets(ctx context.Context, raceID string) ([]events.SettledBet, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT bettor_wallet, target_name, amount_lamports, multiplier,
		       payout_lamports, net_payout_lamports, won, COALESCE(payout_tx_signature, '')
		FROM race_result_bets
		WHERE race_id=$1
		ORDER BY bettor_wallet, target_name`, raceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []events.SettledBet
	for rows.Next() {
		var b events.SettledBet
		if err := rows.Scan(&b.BettorWallet, &b.TargetName, &b.AmountLamports, &b.Multiplier,
			&b.PayoutLamports, &b.NetPayoutLamports, &b.Won, &b.PayoutTxSignature); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// ListRaceResults retorna os resultados mais recentes, do mais novo pro mais antigo
func (p *Postgres) ListRaceResults(ctx context.Context, limit int) ([]events.RaceResult, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT race_id
		FROM race_results
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]events.RaceResult, 0, len(ids))
	for _, id := range ids {
		res, err := p.FindRaceResult(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, *res)
	}
	return out, nil
}

// UpdateBetPayoutRef anota a assinatura do pagamento externo nas apostas
// vencedoras da carteira. Idempotente: só preenche referências ainda vazias.
func (p *Postgres) UpdateBetPayoutRef(ctx context.Context, raceID, bettorWallet, ref string) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE race_result_bets
		SET payout_tx_signature=$1
		WHERE race_id=$2 AND bettor_wallet=$3 AND won AND payout_tx_signature IS NULL`,
		ref, raceID, bettorWallet,
	)
	return err
}
