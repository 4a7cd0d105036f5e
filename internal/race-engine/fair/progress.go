package fair

import "math"

// Pace interpola as posições exibidas durante a fase racing.
// Tudo aqui é derivado deterministicamente dos seeds, mas os valores são
// apenas para exibição: o vencedor já foi decidido por SelectWinner e o
// resto é coreografia.
type Pace struct {
	scenario    Scenario
	winner      int
	falseLeader int
	jitter      []float64
}

// NewPace monta a coreografia da corrida a partir dos seeds, do cenário e do
// vencedor já sorteado
func NewPace(serverSeed, clientSeed, raceID string, scenario Scenario, winner int) *Pace {
	p := &Pace{
		scenario:    scenario,
		winner:      winner,
		falseLeader: -1,
		jitter:      make([]float64, len(racers)),
	}

	best := -1.0
	for i, name := range racers {
		p.jitter[i] = Derive(serverSeed, clientSeed, raceID, "pace:"+name)
		if i != winner && p.jitter[i] > best {
			best = p.jitter[i]
			p.falseLeader = i
		}
	}
	return p
}

// Positions retorna a posição de cada corredor em [0,1] para a fração de
// corrida t em [0,1]. Em t=1 o vencedor está exatamente em 1.0 e os demais
// atrás dele.
func (p *Pace) Positions(t float64) map[string]float64 {
	if t < 0 {
		t = 0
	}
	if t > 1 {
		t = 1
	}

	shape := t
	switch p.scenario {
	case ScenarioSlowStartFastFinish:
		shape = t * t
	case ScenarioExplosiveStart:
		shape = math.Sqrt(t)
	}

	out := make(map[string]float64, len(racers))
	for i, name := range racers {
		final := 1.0
		if i != p.winner {
			if p.scenario == ScenarioCloseRace {
				final = 0.92 + 0.06*p.jitter[i]
			} else {
				final = 0.75 + 0.20*p.jitter[i]
			}
		}

		pos := final * shape
		// oscilação leve pra corrida não parecer um trilho
		pos += 0.02 * math.Sin(2*math.Pi*(3*t+p.jitter[i])) * t * (1 - t)

		// o falso líder dispara cedo e murcha no final
		if p.scenario == ScenarioFalseLeader && i == p.falseLeader && i != p.winner {
			pos += 0.30 * math.Sin(math.Pi*t) * (1 - t)
		}

		if pos < 0 {
			pos = 0
		}
		if pos > 1 {
			pos = 1
		}
		out[name] = pos
	}
	return out
}
