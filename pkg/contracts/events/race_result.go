package events

import "time"

// Competitor identifica um corredor e o multiplicador que ele carregava na corrida
type Competitor struct {
	Name       string `json:"name"`
	Multiplier int    `json:"multiplier"`
}

// SettledBet é uma aposta anotada com o resultado da liquidação
type SettledBet struct {
	BettorWallet      string `json:"bettorWallet"`
	TargetName        string `json:"targetName"`
	AmountLamports    int64  `json:"amount_lamports"`
	Multiplier        int    `json:"multiplier"`
	PayoutLamports    int64  `json:"payout_lamports"`     // amount * multiplier, 0 se perdeu
	NetPayoutLamports int64  `json:"net_payout_lamports"` // payout - rake, 0 se perdeu
	Won               bool   `json:"won"`
	PayoutTxSignature string `json:"payoutTxSignature,omitempty"` // anotado pelo payout-worker
}

// RaceResult é o documento durável e auditável de uma corrida liquidada.
// Imutável após a criação, exceto pelo payoutTxSignature de cada aposta.
// SpecialPoolProb é o limiar vigente quando a corrida nasceu: a verificação
// recomputa o pool com ele, não com a configuração corrente do servidor.
type RaceResult struct {
	RaceID          string         `json:"raceId"`
	Multipliers     map[string]int `json:"multipliers"`
	Winner          Competitor     `json:"winner"`
	Losers          []Competitor   `json:"losers"`
	Bets            []SettledBet   `json:"bets"`
	ServerSeed      string         `json:"serverSeed"`
	ServerSeedHash  string         `json:"serverSeedHash"`
	SpecialPoolProb float64        `json:"specialPoolProb"`
	Timestamp       time.Time      `json:"timestamp"`
}

// RaceResultReveal é o único evento que revela o serverSeed, emitido uma vez
// após o commit da liquidação
type RaceResultReveal struct {
	RaceResult RaceResult `json:"raceResult"`
	ServerSeed string     `json:"serverSeed"`
}
