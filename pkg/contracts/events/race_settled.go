package events

// RaceSettled é publicado no tópico "race_settled" após o commit da liquidação.
// O payout-worker consome este evento para executar o passo externo de pagamento.
type RaceSettled struct {
	RaceID           string       `json:"raceId"`
	WinnerName       string       `json:"winnerName"`
	WinnerMultiplier int          `json:"winnerMultiplier"`
	Bets             []SettledBet `json:"bets"`
	TsUnixMs         int64        `json:"ts_unix_ms"`
}

// Payout é emitido no canal de broadcast conforme cada pagamento externo completa
type Payout struct {
	RaceID         string `json:"raceId"`
	BettorWallet   string `json:"bettorWallet"`
	AmountLamports int64  `json:"amount_lamports"`
	Reference      string `json:"reference"` // assinatura da transação externa
	TsUnixMs       int64  `json:"ts_unix_ms"`
}
