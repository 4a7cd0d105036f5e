package events

// BetPlaced é publicado no tópico "bet_placed" e no canal de broadcast
// a cada aposta aceita
type BetPlaced struct {
	BetID          string `json:"betId"`
	RaceID         string `json:"raceId"`
	BettorWallet   string `json:"bettorWallet"`
	TargetName     string `json:"targetName"`
	AmountLamports int64  `json:"amount_lamports"`
	Multiplier     int    `json:"multiplier"`
	TxSignature    string `json:"txSignature"` // comprovante de fundos (transação externa)
	TsUnixMs       int64  `json:"ts_unix_ms"`
}
