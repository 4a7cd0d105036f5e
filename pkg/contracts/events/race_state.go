package events

// RaceState é emitido a cada entrada de fase e a cada tick de contagem regressiva
type RaceState struct {
	RaceID         string         `json:"raceId"`
	Phase          string         `json:"phase"`
	ReadyCountdown int            `json:"readyCountdown"`
	BetCountdown   int            `json:"betCountdown"`
	Multipliers    map[string]int `json:"multipliers"`
	ServerSeedHash string         `json:"serverSeedHash"`
}

// RaceStart é emitido no instante em que a janela de apostas fecha.
// Não carrega o serverSeed: a revelação só acontece no RaceResult.
type RaceStart struct {
	RaceID string `json:"raceId"`
}

// RaceProgress é cosmético: posições interpoladas durante a fase racing.
// Valores são apenas para exibição, nunca autoritativos.
type RaceProgress struct {
	RaceID    string             `json:"raceId"`
	Positions map[string]float64 `json:"positions"`
}
