package fair

// Scenario é a curva de ritmo da animação da corrida. Estritamente cosmético:
// alimenta só a interpolação de progresso, nunca a seleção do vencedor.
type Scenario string

const (
	ScenarioSlowStartFastFinish Scenario = "slow-start-fast-finish"
	ScenarioFalseLeader         Scenario = "false-leader"
	ScenarioCloseRace           Scenario = "close-race"
	ScenarioExplosiveStart      Scenario = "explosive-start"
)

var scenarios = []Scenario{
	ScenarioSlowStartFastFinish,
	ScenarioFalseLeader,
	ScenarioCloseRace,
	ScenarioExplosiveStart,
}

// SelectScenario deriva a curva de ritmo com o nonce "scenario",
// em quatro faixas iguais
func SelectScenario(serverSeed, clientSeed, raceID string) Scenario {
	r := Derive(serverSeed, clientSeed, raceID, "scenario")
	idx := int(r * float64(len(scenarios)))
	if idx >= len(scenarios) {
		idx = len(scenarios) - 1
	}
	return scenarios[idx]
}
