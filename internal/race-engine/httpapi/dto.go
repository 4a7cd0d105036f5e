package httpapi

// PlaceBetRequest representa o payload de submissão de aposta
type PlaceBetRequest struct {
	RaceID         string `json:"raceId"`
	BettorWallet   string `json:"bettorWallet"`
	TargetName     string `json:"targetName"`
	Multiplier     int    `json:"multiplier"` // o que o cliente viu na tela; rejeitado se divergir do publicado
	AmountLamports int64  `json:"amountLamports"`
	TxSignature    string `json:"txSignature"` // comprovante de depósito no trilho externo
}

// PlaceBetResponse confirma uma aposta aceita
type PlaceBetResponse struct {
	BetID      string `json:"betId"`
	RaceID     string `json:"raceId"`
	Multiplier int    `json:"multiplier"`
	Status     string `json:"status"`
}

// VerifyResponse é o relatório de auditoria de uma corrida liquidada:
// recomputa tudo a partir do serverSeed revelado e compara com o persistido
type VerifyResponse struct {
	RaceID             string         `json:"raceId"`
	ServerSeed         string         `json:"serverSeed"`
	ServerSeedHash     string         `json:"serverSeedHash"`
	HashMatches        bool           `json:"hashMatches"`
	DerivedMultipliers map[string]int `json:"derivedMultipliers"`
	MultipliersMatch   bool           `json:"multipliersMatch"`
	DerivedWinner      string         `json:"derivedWinner"`
	WinnerMatches      bool           `json:"winnerMatches"`
	Valid              bool           `json:"valid"`
}
